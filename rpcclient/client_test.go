package rpcclient_test

import (
	"math/big"
	"net/http/httptest"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/duskswap/dusk/pkg/adapter"
	"github.com/duskswap/dusk/pkg/adapter/simchain"
	"github.com/duskswap/dusk/pkg/coordinator"
	"github.com/duskswap/dusk/pkg/ledger"
	"github.com/duskswap/dusk/pkg/store"
	"github.com/duskswap/dusk/rpc"
	"github.com/duskswap/dusk/rpcclient"
)

var _ = Describe("RPC Client", func() {
	var (
		server *httptest.Server
		client rpcclient.Client
		coord  *coordinator.Coordinator

		owner    = common.HexToAddress("0x00000000000000000000000000000000000000aa")
		maker    = common.HexToAddress("0x00000000000000000000000000000000000000b1")
		resolver = common.HexToAddress("0x00000000000000000000000000000000000000c2")
	)

	BeforeEach(func() {
		logger, err := zap.NewDevelopment()
		Expect(err).To(BeNil())

		alpha := simchain.New(adapter.ChainConfig{Name: "alpha", RequiredConfirmations: 1, BlockTime: 5 * time.Millisecond},
			ledger.New("alpha", owner, logger), logger)
		beta := simchain.New(adapter.ChainConfig{Name: "beta", RequiredConfirmations: 1, BlockTime: 5 * time.Millisecond},
			ledger.New("beta", owner, logger), logger)

		db, err := gorm.Open(sqlite.Open(filepath.Join(GinkgoT().TempDir(), "dusk.db")))
		Expect(err).To(BeNil())
		orderDB, err := store.NewOrderStore(db)
		Expect(err).To(BeNil())

		coord = coordinator.New(coordinator.Config{Signer: resolver},
			[]adapter.Adapter{alpha, beta}, orderDB, store.NewMemStore(), logger)

		server = httptest.NewServer(rpc.NewServer(coord, logger).Handler())
		client = rpcclient.NewClient(server.URL)
	})

	AfterEach(func() {
		server.Close()
	})

	It("should fetch the coordinator state", func() {
		state, err := client.State()
		Expect(err).To(BeNil())
		Expect(state.ConnectedChains).To(ConsistOf("alpha", "beta"))
		Expect(state.ActiveOrders).To(BeZero())
	})

	It("should list and fetch orders", func() {
		_, err := coord.CreateOrder(coordinator.CreateOrderParams{
			OrderID:         "order-1",
			Maker:           maker,
			Receiver:        maker,
			SrcChain:        "alpha",
			DestChain:       "beta",
			SrcAmount:       big.NewInt(100_000),
			DestAmount:      big.NewInt(99_000),
			TimelockSeconds: 7200,
			AuctionDuration: 300,
			StartRate:       big.NewInt(1_000_000),
			EndRate:         big.NewInt(980_000),
		})
		Expect(err).To(BeNil())

		orders, err := client.Orders()
		Expect(err).To(BeNil())
		Expect(orders).To(HaveLen(1))

		order, err := client.Order("order-1")
		Expect(err).To(BeNil())
		Expect(order.Maker).To(Equal(maker))
		Expect(order.Status).To(Equal(coordinator.OrderAuctionActive))
		Expect(order.StartRate.Int64()).To(Equal(int64(1_000_000)))
	})

	It("should surface a json-rpc error for a missing order", func() {
		_, err := client.Order("no-such-order")
		Expect(err).To(MatchError(ContainSubstring("order not found")))
	})

	It("should surface a json-rpc error for a missing swap", func() {
		_, err := client.Swap("no-such-order")
		Expect(err).To(MatchError(ContainSubstring("swap not found")))
	})

	It("should fetch the error log", func() {
		coord.ErrorLog().Warn("chain unhealthy", "", "alpha")

		records, err := client.Errors()
		Expect(err).To(BeNil())
		Expect(records).To(HaveLen(1))
		Expect(records[0].Chain).To(Equal("alpha"))
	})
})
