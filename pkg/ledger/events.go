package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type EventType string

const (
	EventEscrowCreated   EventType = "EscrowCreated"
	EventEscrowWithdrawn EventType = "EscrowWithdrawn"
	EventEscrowCancelled EventType = "EscrowCancelled"
)

// Event is a finalized ledger event. Events carry everything an off-chain
// observer needs to rebuild escrow state without querying the ledger.
type Event struct {
	Type     EventType
	Chain    string
	EscrowID common.Hash
	OrderID  string

	// Created fields.
	Sender     common.Address
	Receiver   common.Address
	Resolver   common.Address
	Amount     *big.Int
	SecretHash common.Hash
	Timelock   int64
	Asset      common.Address
	StartRate  *big.Int
	EndRate    *big.Int

	// Withdrawn fields.
	Secret        []byte
	ExecutionRate *big.Int

	// Cancelled fields.
	RefundAmount *big.Int

	BlockNumber uint64
	TxHash      common.Hash
}
