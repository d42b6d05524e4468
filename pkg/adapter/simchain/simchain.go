// Package simchain is an in-process Adapter implementation backed by a
// ledger.Ledger with a simulated block clock. It is the reference adapter:
// chain-specific adapters differ only in how they reach a node, not in the
// contract they satisfy.
package simchain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/duskswap/dusk/pkg/adapter"
	"github.com/duskswap/dusk/pkg/ledger"
)

type Chain struct {
	cfg    adapter.ChainConfig
	ledger *ledger.Ledger
	logger *zap.Logger

	mu        sync.Mutex
	healthErr error

	quit chan struct{}
	wg   sync.WaitGroup
}

func New(cfg adapter.ChainConfig, l *ledger.Ledger, logger *zap.Logger) *Chain {
	return &Chain{
		cfg:    cfg,
		ledger: l,
		logger: logger.With(zap.String("adapter", cfg.Name)),
		quit:   make(chan struct{}),
	}
}

// Ledger exposes the underlying ledger for assertions in tests.
func (c *Chain) Ledger() *ledger.Ledger { return c.ledger }

// Start begins the block clock. Blocks advance every BlockTime so pending
// transactions accumulate confirmations.
func (c *Chain) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.cfg.BlockTime)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.ledger.AdvanceBlock()
			case <-c.quit:
				return
			}
		}
	}()
}

func (c *Chain) Stop() {
	close(c.quit)
	c.wg.Wait()
}

func (c *Chain) Config() adapter.ChainConfig { return c.cfg }

// Subscribe polls the ledger's event log every block and forwards anything
// past the checkpoint, preserving ledger order. It returns when ctx is done.
func (c *Chain) Subscribe(ctx context.Context, fromBlock uint64, events chan<- ledger.Event) error {
	checkpoint := fromBlock
	ticker := time.NewTicker(c.cfg.BlockTime)
	defer ticker.Stop()

	for {
		for _, ev := range c.ledger.EventsSince(checkpoint) {
			select {
			case events <- ev:
				checkpoint = ev.BlockNumber
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Chain) SubmitLock(ctx context.Context, sender common.Address, params ledger.LockParams) (adapter.TxHandle, error) {
	escrow, err := c.ledger.Lock(sender, params)
	if err != nil {
		return adapter.TxHandle{}, errors.Join(adapter.ErrReverted, err)
	}
	return c.handle(escrow.ID, ledger.EventEscrowCreated), nil
}

func (c *Chain) SubmitLockAsResolver(ctx context.Context, resolver common.Address, params ledger.ResolverLockParams) (adapter.TxHandle, error) {
	escrow, err := c.ledger.LockAsResolver(resolver, params)
	if err != nil {
		return adapter.TxHandle{}, errors.Join(adapter.ErrReverted, err)
	}
	return c.handle(escrow.ID, ledger.EventEscrowCreated), nil
}

func (c *Chain) SubmitWithdraw(ctx context.Context, caller common.Address, escrowID common.Hash, secret []byte) (adapter.TxHandle, error) {
	escrow, err := c.ledger.Withdraw(caller, escrowID, secret)
	if err != nil {
		return adapter.TxHandle{}, errors.Join(adapter.ErrReverted, err)
	}
	return c.handle(escrow.ID, ledger.EventEscrowWithdrawn), nil
}

func (c *Chain) SubmitCancel(ctx context.Context, caller common.Address, escrowID common.Hash) (adapter.TxHandle, error) {
	escrow, err := c.ledger.Cancel(caller, escrowID)
	if err != nil {
		return adapter.TxHandle{}, errors.Join(adapter.ErrReverted, err)
	}
	return c.handle(escrow.ID, ledger.EventEscrowCancelled), nil
}

// WaitConfirmed polls until the chain has advanced the required depth past
// the transaction's block. A ctx timeout surfaces as a transient error since
// the transaction may still confirm later.
func (c *Chain) WaitConfirmed(ctx context.Context, handle adapter.TxHandle, confirmations uint64) error {
	ticker := time.NewTicker(c.cfg.BlockTime)
	defer ticker.Stop()

	for {
		if c.ledger.Height() >= handle.Block+confirmations {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return errors.Join(adapter.ErrTransient, ctx.Err())
		}
	}
}

func (c *Chain) CurrentRate(ctx context.Context, orderID string) (*big.Int, error) {
	return c.ledger.CurrentRate(orderID)
}

func (c *Chain) IsHealthy(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.healthErr
}

// SetHealth overrides the health-check result, for fault injection in tests.
func (c *Chain) SetHealth(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.healthErr = err
}

// handle builds the pending-tx handle for a submitted operation, carrying the
// tx hash and block of the event the ledger emitted for it.
func (c *Chain) handle(escrowID common.Hash, typ ledger.EventType) adapter.TxHandle {
	handle := adapter.TxHandle{
		ID:     uuid.NewString(),
		Chain:  c.cfg.Name,
		TxHash: escrowID,
		Block:  c.ledger.Height(),
	}
	if ev, ok := c.ledger.EventFor(escrowID, typ); ok {
		handle.TxHash = ev.TxHash
		handle.Block = ev.BlockNumber
	}
	return handle
}
