package simchain_test

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/duskswap/dusk/pkg/adapter"
	"github.com/duskswap/dusk/pkg/adapter/simchain"
	"github.com/duskswap/dusk/pkg/ledger"
)

var _ = Describe("Simchain Adapter", func() {
	var (
		chain  *simchain.Chain
		cancel context.CancelFunc
		ctx    context.Context

		owner    = common.HexToAddress("0x00000000000000000000000000000000000000aa")
		maker    = common.HexToAddress("0x00000000000000000000000000000000000000b1")
		resolver = common.HexToAddress("0x00000000000000000000000000000000000000c2")

		secret = []byte("an order secret, 32 bytes padded")
	)

	lockParams := func(orderID string) ledger.LockParams {
		return ledger.LockParams{
			OrderID:         orderID,
			SecretHash:      ledger.SecretHash(secret),
			TimelockSeconds: 7200,
			Receiver:        resolver,
			Resolver:        resolver,
			Asset:           ledger.NativeAsset,
			Amount:          big.NewInt(50_000),
			AuctionDuration: 300,
			StartRate:       big.NewInt(1_000_000),
			EndRate:         big.NewInt(980_000),
		}
	}

	BeforeEach(func() {
		logger, err := zap.NewDevelopment()
		Expect(err).To(BeNil())
		l := ledger.New("alpha", owner, logger)
		chain = simchain.New(adapter.ChainConfig{
			Name:                  "alpha",
			RequiredConfirmations: 2,
			BlockTime:             5 * time.Millisecond,
		}, l, logger)
		chain.Start()
		ctx, cancel = context.WithCancel(context.Background())
	})

	AfterEach(func() {
		cancel()
		chain.Stop()
	})

	It("should deliver events in ledger order and resume from a checkpoint", func() {
		handle, err := chain.SubmitLock(ctx, maker, lockParams("order-1"))
		Expect(err).To(BeNil())
		Expect(chain.WaitConfirmed(ctx, handle, 2)).To(Succeed())

		events := make(chan ledger.Event, 16)
		subCtx, subCancel := context.WithCancel(ctx)
		go chain.Subscribe(subCtx, 0, events)

		var created ledger.Event
		Eventually(events).Should(Receive(&created))
		Expect(created.Type).To(Equal(ledger.EventEscrowCreated))
		Expect(created.OrderID).To(Equal("order-1"))
		subCancel()

		_, err = chain.SubmitWithdraw(ctx, resolver, created.EscrowID, secret)
		Expect(err).To(BeNil())

		// Resuming past the first event must deliver only the withdrawal.
		resumed := make(chan ledger.Event, 16)
		go chain.Subscribe(ctx, created.BlockNumber, resumed)

		var withdrawn ledger.Event
		Eventually(resumed).Should(Receive(&withdrawn))
		Expect(withdrawn.Type).To(Equal(ledger.EventEscrowWithdrawn))
		Consistently(resumed).ShouldNot(Receive())
	})

	It("should confirm a transaction once the chain advances deep enough", func() {
		handle, err := chain.SubmitLock(ctx, maker, lockParams("order-1"))
		Expect(err).To(BeNil())

		waitCtx, waitCancel := context.WithTimeout(ctx, time.Second)
		defer waitCancel()
		Expect(chain.WaitConfirmed(waitCtx, handle, 2)).To(Succeed())
	})

	It("should surface a confirmation timeout as transient", func() {
		chain.Stop() // freeze the block clock

		handle, err := chain.SubmitLock(ctx, maker, lockParams("order-1"))
		Expect(err).To(BeNil())

		waitCtx, waitCancel := context.WithTimeout(ctx, 30*time.Millisecond)
		defer waitCancel()
		err = chain.WaitConfirmed(waitCtx, handle, 100)
		Expect(errors.Is(err, adapter.ErrTransient)).To(BeTrue())

		chain = simchain.New(chain.Config(), chain.Ledger(), zap.NewNop())
		chain.Start()
	})

	It("should surface a ledger rejection as reverted", func() {
		p := lockParams("order-1")
		p.Amount = big.NewInt(0)
		_, err := chain.SubmitLock(ctx, maker, p)
		Expect(errors.Is(err, adapter.ErrReverted)).To(BeTrue())
		Expect(errors.Is(err, ledger.ErrInvalidAmount)).To(BeTrue())
	})

	It("should carry the emitted event's tx hash and block in the handle", func() {
		handle, err := chain.SubmitLock(ctx, maker, lockParams("order-1"))
		Expect(err).To(BeNil())

		escrow, err := chain.Ledger().EscrowByOrder("order-1")
		Expect(err).To(BeNil())
		created, ok := chain.Ledger().EventFor(escrow.ID, ledger.EventEscrowCreated)
		Expect(ok).To(BeTrue())

		// Hashes persisted off the handle must match the event stream.
		Expect(handle.TxHash).To(Equal(created.TxHash))
		Expect(handle.TxHash).ToNot(Equal(escrow.ID))
		Expect(handle.Block).To(Equal(created.BlockNumber))

		withdrawHandle, err := chain.SubmitWithdraw(ctx, resolver, escrow.ID, secret)
		Expect(err).To(BeNil())
		withdrawn, ok := chain.Ledger().EventFor(escrow.ID, ledger.EventEscrowWithdrawn)
		Expect(ok).To(BeTrue())
		Expect(withdrawHandle.TxHash).To(Equal(withdrawn.TxHash))
		Expect(withdrawHandle.TxHash).ToNot(Equal(handle.TxHash))
	})

	It("should report injected health failures", func() {
		Expect(chain.IsHealthy(ctx)).To(Succeed())
		chain.SetHealth(fmt.Errorf("node unreachable"))
		Expect(chain.IsHealthy(ctx)).NotTo(Succeed())
	})
})
