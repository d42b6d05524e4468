package coordinator

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/duskswap/dusk/pkg/ledger"
)

type OrderStatus string

const (
	OrderPending       OrderStatus = "PENDING"
	OrderAuctionActive OrderStatus = "AUCTION_ACTIVE"
	OrderAccepted      OrderStatus = "ACCEPTED"
	OrderExecuting     OrderStatus = "EXECUTING"
	OrderCompleted     OrderStatus = "COMPLETED"
	OrderCancelled     OrderStatus = "CANCELLED"
	OrderExpired       OrderStatus = "EXPIRED"
	OrderFailed        OrderStatus = "FAILED"
)

// orderRank orders statuses so transitions stay monotonic. A late event can
// never move an order backwards.
var orderRank = map[OrderStatus]int{
	OrderPending:       0,
	OrderAuctionActive: 1,
	OrderAccepted:      2,
	OrderExecuting:     3,
	OrderCompleted:     4,
	OrderCancelled:     4,
	OrderExpired:       4,
	OrderFailed:        4,
}

func (s OrderStatus) Terminal() bool { return orderRank[s] == 4 }

type SwapStatus string

const (
	SwapInitiated      SwapStatus = "INITIATED"
	SwapSourceLocked   SwapStatus = "SOURCE_LOCKED"
	SwapDestLocked     SwapStatus = "DEST_LOCKED"
	SwapSecretRevealed SwapStatus = "SECRET_REVEALED"
	SwapRecovering     SwapStatus = "RECOVERING"
	SwapCompleted      SwapStatus = "COMPLETED"
	SwapFailed         SwapStatus = "FAILED"
)

func (s SwapStatus) Terminal() bool { return s == SwapCompleted || s == SwapFailed }

// Order is the coordinator's view of a maker's swap intent, updated only in
// response to ledger events.
type Order struct {
	ID         string
	Maker      common.Address
	Receiver   common.Address
	SrcChain   string
	DestChain  string
	SrcAsset   common.Address
	DestAsset  common.Address
	SrcAmount  *big.Int
	DestAmount *big.Int
	SecretHash common.Hash
	Timelock   int64

	AuctionStart int64
	AuctionEnd   int64
	StartRate    *big.Int
	EndRate      *big.Int
	CurrentRate  *big.Int

	Status    OrderStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CrossChainSwap ties both escrow legs of an order together. It is the
// coordinator's private correlation record; everything in it is derivable by
// replaying both chains' events.
type CrossChainSwap struct {
	OrderID        string
	SourceChain    string
	DestChain      string
	SourceEscrowID common.Hash
	DestEscrowID   common.Hash
	Secret         []byte
	Status         SwapStatus

	// Leg bookkeeping for recovery: who locked each leg and whether the leg
	// has reached a terminal escrow state.
	SourceSender  common.Address
	DestSender    common.Address
	SourceSettled bool
	DestSettled   bool

	ExecutionDeadline int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type NotificationType string

const (
	NotifyEscrowEvent   NotificationType = "escrowEvent"
	NotifySwapCompleted NotificationType = "swapCompleted"
	NotifyAuctionUpdate NotificationType = "auctionUpdate"
)

// Notification is one entry of the push feed consumed by the API layer.
type Notification struct {
	Type    NotificationType `json:"type"`
	OrderID string           `json:"orderId"`
	Event   *ledger.Event    `json:"event,omitempty"`
	Swap    *CrossChainSwap  `json:"swap,omitempty"`
	Order   *Order           `json:"order,omitempty"`
	Rate    *big.Int         `json:"rate,omitempty"`
}

// State is the snapshot handed to the API layer.
type State struct {
	Running         bool     `json:"running"`
	ConnectedChains []string `json:"connectedChains"`
	PendingSwaps    int      `json:"pendingSwaps"`
	ActiveOrders    int      `json:"activeOrders"`
	Errors          int      `json:"errors"`
}

func copyOrder(o *Order) *Order {
	c := *o
	c.SrcAmount = copyBig(o.SrcAmount)
	c.DestAmount = copyBig(o.DestAmount)
	c.StartRate = copyBig(o.StartRate)
	c.EndRate = copyBig(o.EndRate)
	c.CurrentRate = copyBig(o.CurrentRate)
	return &c
}

func copySwap(s *CrossChainSwap) *CrossChainSwap {
	c := *s
	c.Secret = append([]byte(nil), s.Secret...)
	return &c
}

func copyBig(b *big.Int) *big.Int {
	if b == nil {
		return nil
	}
	return new(big.Int).Set(b)
}
