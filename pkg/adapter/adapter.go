package adapter

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/duskswap/dusk/pkg/ledger"
)

var (
	// ErrTransient marks connectivity loss or a confirmation timeout. The
	// submission may still land, the caller should retry the wait.
	ErrTransient = errors.New("transient adapter error")

	// ErrReverted marks an on-chain rejection. Retrying the same transaction
	// will not help.
	ErrReverted = errors.New("transaction reverted")
)

// ChainConfig is the per-chain tuning the coordinator must treat as
// configuration, never as constants.
type ChainConfig struct {
	Name                  string
	RequiredConfirmations uint64
	BlockTime             time.Duration
	HealthInterval        time.Duration
}

// TxHandle identifies a pending transaction. The submitting call returns
// immediately, confirmation is waited on separately.
type TxHandle struct {
	ID     string
	Chain  string
	TxHash common.Hash
	Block  uint64
}

// Adapter is the capability surface the coordinator uses to interact with one
// escrow ledger. Implementations own reconnection and retry; a delivered
// event stream must be gapless and in ledger order, resuming from the given
// checkpoint after restart.
type Adapter interface {
	Config() ChainConfig

	// Subscribe delivers every escrow event with block number greater than
	// fromBlock on the events channel, in ledger order, until ctx is done.
	Subscribe(ctx context.Context, fromBlock uint64, events chan<- ledger.Event) error

	SubmitLock(ctx context.Context, sender common.Address, params ledger.LockParams) (TxHandle, error)
	SubmitLockAsResolver(ctx context.Context, resolver common.Address, params ledger.ResolverLockParams) (TxHandle, error)
	SubmitWithdraw(ctx context.Context, caller common.Address, escrowID common.Hash, secret []byte) (TxHandle, error)
	SubmitCancel(ctx context.Context, caller common.Address, escrowID common.Hash) (TxHandle, error)

	// WaitConfirmed blocks until the transaction reaches the given
	// confirmation depth. It returns an error wrapping ErrTransient on
	// timeout or connectivity loss, and ErrReverted on on-chain rejection.
	WaitConfirmed(ctx context.Context, handle TxHandle, confirmations uint64) error

	CurrentRate(ctx context.Context, orderID string) (*big.Int, error)
	IsHealthy(ctx context.Context) error
}
