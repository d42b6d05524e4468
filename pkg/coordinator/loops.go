package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/duskswap/dusk/pkg/adapter"
	"github.com/duskswap/dusk/pkg/auction"
	"github.com/duskswap/dusk/pkg/store"
)

// recoveryLoop scans for swaps that blew past their execution deadline and
// cancels whichever legs are still locked so the original senders can reclaim
// their funds. Best effort: the ledger's own timelock check is the safety
// backstop, not this loop.
func (c *Coordinator) recoveryLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.RecoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.recoverExpired(ctx)
		case <-ctx.Done():
			return
		}
	}
}

type recoveryLeg struct {
	orderID  string
	chain    string
	escrowID common.Hash
	sender   common.Address
	key      string
}

func (c *Coordinator) recoverExpired(ctx context.Context) {
	now := time.Now().Unix()

	var legs []recoveryLeg
	c.mu.Lock()
	for _, swap := range c.swaps {
		if swap.Status.Terminal() {
			continue
		}
		if swap.ExecutionDeadline == 0 || now < swap.ExecutionDeadline {
			continue
		}
		if swap.Status != SwapRecovering {
			c.logger.Info("swap past execution deadline, recovering", zap.String("order", swap.OrderID))
			c.advanceSwap(swap, SwapRecovering)
			if order := c.orders[swap.OrderID]; order != nil {
				c.advanceOrder(order, OrderExpired)
			}
		}
		if swap.SourceEscrowID != (common.Hash{}) && !swap.SourceSettled {
			legs = append(legs, recoveryLeg{
				orderID:  swap.OrderID,
				chain:    swap.SourceChain,
				escrowID: swap.SourceEscrowID,
				sender:   swap.SourceSender,
				key:      swap.OrderID + ":source",
			})
		}
		if swap.DestEscrowID != (common.Hash{}) && !swap.DestSettled {
			legs = append(legs, recoveryLeg{
				orderID:  swap.OrderID,
				chain:    swap.DestChain,
				escrowID: swap.DestEscrowID,
				sender:   swap.DestSender,
				key:      swap.OrderID + ":dest",
			})
		}
	}
	c.mu.Unlock()

	for _, leg := range legs {
		c.cancelLeg(ctx, leg)
	}
}

func (c *Coordinator) cancelLeg(ctx context.Context, leg recoveryLeg) {
	logger := c.logger.With(zap.String("order", leg.orderID), zap.String("chain", leg.chain))

	ad, ok := c.adapters[leg.chain]
	if !ok {
		c.errs.Error("no adapter for chain", leg.orderID, leg.chain)
		return
	}
	done, err := c.actions.CheckAction(store.ActionCancel, leg.key)
	if err != nil || done {
		if err != nil {
			logger.Error("check cancel action", zap.Error(err))
		}
		return
	}

	handle, err := ad.SubmitCancel(ctx, leg.sender, leg.escrowID)
	if err != nil {
		// A not-yet-expired timelock is expected when the counter leg's
		// window runs longer, retry on the next sweep.
		logger.Warn("cancel submit failed", zap.Error(err))
		c.errs.Warn(fmt.Sprintf("recovery cancel: %v", err), leg.orderID, leg.chain)
		return
	}
	if err := c.actions.StoreAction(store.ActionCancel, leg.key); err != nil {
		logger.Error("store cancel action", zap.Error(err))
	}
	if err := c.orderDB.UpdateTxHash(leg.orderID, store.ActionCancel, handle.TxHash.Hex()); err != nil {
		logger.Debug("persist cancel tx hash", zap.Error(err))
	}
	logger.Info("recovery cancel submitted", zap.String("tx", handle.TxHash.Hex()))
}

// refreshLoop keeps live auction pricing flowing to feed subscribers without
// anyone polling the ledgers.
func (c *Coordinator) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, n := range c.refreshAuctions() {
				c.notify(n)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Coordinator) refreshAuctions() []Notification {
	now := time.Now().Unix()

	var updates []Notification
	c.mu.Lock()
	for _, order := range c.orders {
		if order.Status == OrderPending && order.AuctionStart > 0 && now >= order.AuctionStart {
			c.advanceOrder(order, OrderAuctionActive)
		}
		if order.Status != OrderAuctionActive {
			continue
		}
		if order.Timelock > 0 && now >= order.Timelock {
			// Auction ran out without anyone accepting.
			c.advanceOrder(order, OrderExpired)
			continue
		}
		if order.StartRate == nil || order.EndRate == nil {
			continue
		}
		rate := auction.CurrentRate(order.StartRate, order.EndRate, order.AuctionStart, order.AuctionEnd, now)
		order.CurrentRate = rate
		order.UpdatedAt = time.Now()
		updates = append(updates, Notification{
			Type:    NotifyAuctionUpdate,
			OrderID: order.ID,
			Order:   copyOrder(order),
			Rate:    copyBig(rate),
		})
	}
	c.mu.Unlock()
	return updates
}

// healthLoop checks one adapter on its configured interval. An unhealthy
// chain is a warning, never a reason to stop processing the healthy ones.
func (c *Coordinator) healthLoop(ctx context.Context, ad adapter.Adapter) {
	cfg := ad.Config()
	interval := cfg.HealthInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := ad.IsHealthy(ctx); err != nil {
				c.logger.Warn("chain unhealthy", zap.String("chain", cfg.Name), zap.Error(err))
				c.errs.Warn(fmt.Sprintf("health check: %v", err), "", cfg.Name)
			}
		case <-ctx.Done():
			return
		}
	}
}
