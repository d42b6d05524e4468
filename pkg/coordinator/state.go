package coordinator

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/duskswap/dusk/pkg/ledger"
)

// CreateOrderParams is a maker's swap intent.
type CreateOrderParams struct {
	OrderID    string
	Maker      common.Address
	Receiver   common.Address
	SrcChain   string
	DestChain  string
	SrcAsset   common.Address
	DestAsset  common.Address
	SrcAmount  *big.Int
	DestAmount *big.Int
	SecretHash common.Hash

	// Secret is only set when this process acts for the maker and must later
	// reveal it. Stored off-chain, keyed by the secret hash.
	Secret []byte

	TimelockSeconds int64
	AuctionDuration int64
	StartRate       *big.Int
	EndRate         *big.Int
}

// CreateOrder registers a maker intent so subsequent ledger events correlate
// to it. It performs no ledger transaction itself, the maker's lock does.
func (c *Coordinator) CreateOrder(params CreateOrderParams) (*Order, error) {
	if params.OrderID == "" {
		return nil, fmt.Errorf("empty order id")
	}
	if _, ok := c.adapters[params.SrcChain]; !ok {
		return nil, fmt.Errorf("unknown source chain %q", params.SrcChain)
	}
	if _, ok := c.adapters[params.DestChain]; !ok {
		return nil, fmt.Errorf("unknown destination chain %q", params.DestChain)
	}
	if params.SrcAmount == nil || params.SrcAmount.Sign() <= 0 {
		return nil, ledger.ErrInvalidAmount
	}

	now := time.Now()
	order := &Order{
		ID:           params.OrderID,
		Maker:        params.Maker,
		Receiver:     params.Receiver,
		SrcChain:     params.SrcChain,
		DestChain:    params.DestChain,
		SrcAsset:     params.SrcAsset,
		DestAsset:    params.DestAsset,
		SrcAmount:    copyBig(params.SrcAmount),
		DestAmount:   copyBig(params.DestAmount),
		SecretHash:   params.SecretHash,
		Timelock:     now.Unix() + params.TimelockSeconds,
		AuctionStart: now.Unix(),
		AuctionEnd:   now.Unix() + params.AuctionDuration,
		StartRate:    copyBig(params.StartRate),
		EndRate:      copyBig(params.EndRate),
		Status:       OrderAuctionActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	c.mu.Lock()
	if _, ok := c.orders[params.OrderID]; ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("order %q already exists", params.OrderID)
	}
	c.orders[params.OrderID] = order
	c.mu.Unlock()

	var secret *string
	if len(params.Secret) != 0 {
		s := hex.EncodeToString(params.Secret)
		secret = &s
	}
	if err := c.orderDB.PutSecret(params.SecretHash.Hex(), secret, params.OrderID); err != nil {
		c.logger.Warn("persist order secret", zap.Error(err))
		c.errs.Warn(fmt.Sprintf("persist order: %v", err), params.OrderID, "")
	}

	return copyOrder(order), nil
}

// GetState returns the snapshot consumed by the API layer.
func (c *Coordinator) GetState() State {
	c.mu.RLock()
	defer c.mu.RUnlock()

	pending := 0
	for _, swap := range c.swaps {
		if !swap.Status.Terminal() {
			pending++
		}
	}
	active := 0
	for _, order := range c.orders {
		if !order.Status.Terminal() {
			active++
		}
	}
	chains := make([]string, 0, len(c.adapters))
	for name := range c.adapters {
		chains = append(chains, name)
	}

	return State{
		Running:         c.running,
		ConnectedChains: chains,
		PendingSwaps:    pending,
		ActiveOrders:    active,
		Errors:          c.errs.Len(),
	}
}

func (c *Coordinator) GetOrder(orderID string) (*Order, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	order, ok := c.orders[orderID]
	if !ok {
		return nil, false
	}
	return copyOrder(order), true
}

func (c *Coordinator) GetSwap(orderID string) (*CrossChainSwap, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	swap, ok := c.swaps[orderID]
	if !ok {
		return nil, false
	}
	return copySwap(swap), true
}

// Orders returns a snapshot of all orders, for the API layer's listings.
func (c *Coordinator) Orders() []*Order {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Order, 0, len(c.orders))
	for _, order := range c.orders {
		out = append(out, copyOrder(order))
	}
	return out
}
