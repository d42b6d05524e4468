package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/duskswap/dusk/pkg/adapter"
	"github.com/duskswap/dusk/pkg/ledger"
	"github.com/duskswap/dusk/pkg/store"
)

// handleEvent applies one finalized ledger event. Failures are recorded and
// isolated: a bad event never halts processing of later events or other
// orders.
func (c *Coordinator) handleEvent(ctx context.Context, ev ledger.Event) {
	logger := c.logger.With(zap.String("chain", ev.Chain), zap.String("order", ev.OrderID), zap.String("event", string(ev.Type)))

	switch ev.Type {
	case ledger.EventEscrowCreated:
		c.handleCreated(ctx, ev)
	case ledger.EventEscrowWithdrawn:
		c.handleWithdrawn(ctx, ev)
	case ledger.EventEscrowCancelled:
		c.handleCancelled(ev)
	default:
		// Forward compatible: unknown event kinds are logged and skipped.
		logger.Warn("unknown event type, ignoring")
		c.errs.Warn(fmt.Sprintf("unknown event type %q", ev.Type), ev.OrderID, ev.Chain)
		return
	}

	evCopy := ev
	c.notify(Notification{Type: NotifyEscrowEvent, OrderID: ev.OrderID, Event: &evCopy})
}

func (c *Coordinator) handleCreated(ctx context.Context, ev ledger.Event) {
	c.mu.Lock()

	order, ok := c.orders[ev.OrderID]
	if !ok {
		order = c.orderFromEvent(ev)
		c.orders[ev.OrderID] = order
	}

	swap, ok := c.swaps[ev.OrderID]
	if !ok {
		swap = &CrossChainSwap{
			OrderID:     ev.OrderID,
			SourceChain: order.SrcChain,
			DestChain:   order.DestChain,
			Status:      SwapInitiated,
			CreatedAt:   time.Now(),
		}
		c.swaps[ev.OrderID] = swap
	}

	// The destination leg can reveal the secret before the source Created is
	// observed, cross-chain ordering carries no guarantee. In that case the
	// counter-withdrawal was deferred until the source escrow id is known,
	// which is now.
	resumeWithdraw := false
	var secret []byte

	switch ev.Chain {
	case order.SrcChain:
		swap.SourceEscrowID = ev.EscrowID
		swap.SourceSender = ev.Sender
		if swap.Status == SwapInitiated {
			c.advanceSwap(swap, SwapSourceLocked)
		}
		c.advanceOrder(order, OrderAuctionActive)
		if swap.Status == SwapSecretRevealed && !swap.SourceSettled && len(swap.Secret) > 0 {
			resumeWithdraw = true
			secret = append([]byte(nil), swap.Secret...)
		}
	case order.DestChain:
		swap.DestEscrowID = ev.EscrowID
		swap.DestSender = ev.Sender
		swap.ExecutionDeadline = ev.Timelock
		if !swap.Status.Terminal() && swap.Status != SwapSecretRevealed && swap.Status != SwapRecovering {
			c.advanceSwap(swap, SwapDestLocked)
		}
		c.advanceOrder(order, OrderAccepted)
	default:
		c.logger.Warn("created event on unexpected chain",
			zap.String("order", ev.OrderID), zap.String("chain", ev.Chain))
		c.errs.Warn("created event on unexpected chain", ev.OrderID, ev.Chain)
	}
	swap.UpdatedAt = time.Now()
	c.mu.Unlock()

	if resumeWithdraw {
		c.counterWithdraw(ctx, ev.OrderID, ev.EscrowID, secret)
	}
}

func (c *Coordinator) handleWithdrawn(ctx context.Context, ev ledger.Event) {
	c.mu.Lock()
	swap, ok := c.swaps[ev.OrderID]
	if !ok {
		c.mu.Unlock()
		c.logger.Warn("withdrawn event for unknown swap", zap.String("order", ev.OrderID))
		c.errs.Warn("withdrawn event for unknown swap", ev.OrderID, ev.Chain)
		return
	}

	sourceLeg := ev.EscrowID == swap.SourceEscrowID
	if sourceLeg {
		swap.SourceSettled = true
	} else if ev.EscrowID == swap.DestEscrowID {
		swap.DestSettled = true
	}

	if swap.Status.Terminal() {
		// Duplicate delivery or the counter-withdrawal we submitted
		// ourselves, nothing left to do.
		swap.UpdatedAt = time.Now()
		c.mu.Unlock()
		return
	}

	swap.Secret = append([]byte(nil), ev.Secret...)
	c.advanceSwap(swap, SwapSecretRevealed)
	order := c.orders[ev.OrderID]
	if order != nil {
		c.advanceOrder(order, OrderExecuting)
	}

	if sourceLeg {
		// The resolver already pulled the source funds with the secret, the
		// maker has their destination funds. Fully settled.
		c.advanceSwap(swap, SwapCompleted)
		if order != nil {
			c.advanceOrder(order, OrderCompleted)
		}
		completed := copySwap(swap)
		c.mu.Unlock()
		c.notify(Notification{Type: NotifySwapCompleted, OrderID: ev.OrderID, Swap: completed})
		return
	}

	sourceEscrow := swap.SourceEscrowID
	c.mu.Unlock()

	// Destination leg revealed the secret: unlock the source leg with it.
	c.counterWithdraw(ctx, ev.OrderID, sourceEscrow, ev.Secret)
}

// counterWithdraw submits at most one withdrawal on the source leg per order,
// then waits out the chain's confirmation depth before declaring the swap
// complete.
func (c *Coordinator) counterWithdraw(ctx context.Context, orderID string, sourceEscrow common.Hash, secret []byte) {
	logger := c.logger.With(zap.String("order", orderID))

	c.mu.RLock()
	swap := c.swaps[orderID]
	ad, ok := c.sourceAdapter(swap)
	c.mu.RUnlock()
	if !ok {
		c.errs.Error("no adapter for source chain", orderID, swap.SourceChain)
		return
	}
	if sourceEscrow == (common.Hash{}) {
		// Source Created not observed yet; handleCreated resumes the
		// withdrawal once the escrow id is known.
		logger.Info("source escrow not yet observed, deferring counter-withdraw")
		return
	}

	done, err := c.actions.CheckAction(store.ActionWithdraw, orderID)
	if err != nil {
		logger.Error("check withdraw action", zap.Error(err))
		c.errs.Error(fmt.Sprintf("action store: %v", err), orderID, swap.SourceChain)
		return
	}
	if done {
		logger.Debug("counter-withdraw already submitted")
		return
	}
	// Record before submitting: a replayed event must never produce a second
	// submission.
	if err := c.actions.StoreAction(store.ActionWithdraw, orderID); err != nil {
		logger.Error("store withdraw action", zap.Error(err))
		c.errs.Error(fmt.Sprintf("action store: %v", err), orderID, swap.SourceChain)
		return
	}

	handle, err := ad.SubmitWithdraw(ctx, c.cfg.Signer, sourceEscrow, secret)
	if err != nil {
		c.submitFailed(orderID, "counter-withdraw", err)
		return
	}

	// Waiting out the confirmation depth can take minutes; it must not hold
	// the event worker hostage, unrelated orders pinned to it keep flowing.
	c.workWg.Add(1)
	go func() {
		defer c.workWg.Done()

		waitCtx, cancel := context.WithTimeout(ctx, c.cfg.ConfirmTimeout)
		defer cancel()
		if err := ad.WaitConfirmed(waitCtx, handle, ad.Config().RequiredConfirmations); err != nil {
			c.submitFailed(orderID, "counter-withdraw confirmation", err)
			return
		}

		if err := c.orderDB.UpdateTxHash(orderID, store.ActionWithdraw, handle.TxHash.Hex()); err != nil {
			logger.Warn("persist withdraw tx hash", zap.Error(err))
		}
		logger.Info("counter-withdraw confirmed", zap.String("tx", handle.TxHash.Hex()))

		c.mu.Lock()
		swap := c.swaps[orderID]
		swap.SourceSettled = true
		c.advanceSwap(swap, SwapCompleted)
		if order := c.orders[orderID]; order != nil {
			c.advanceOrder(order, OrderCompleted)
		}
		completed := copySwap(swap)
		c.mu.Unlock()

		c.notify(Notification{Type: NotifySwapCompleted, OrderID: orderID, Swap: completed})
	}()
}

// submitFailed sorts a submission error into the taxonomy: an on-chain revert
// is final for the swap, anything transient stays open for retry or recovery.
func (c *Coordinator) submitFailed(orderID, op string, err error) {
	logger := c.logger.With(zap.String("order", orderID))

	if errors.Is(err, adapter.ErrReverted) {
		// A state-conflict revert means another actor already finalized the
		// escrow; the ledger event for that transition settles the swap, it
		// must not be failed here.
		if ledger.Classify(err) == ledger.ClassStateConflict {
			logger.Warn(op+" reverted on settled escrow", zap.Error(err))
			c.errs.Warn(fmt.Sprintf("%s: %v", op, err), orderID, "")
			return
		}

		logger.Error(op+" reverted", zap.Error(err))
		c.errs.Error(fmt.Sprintf("%s reverted: %v", op, err), orderID, "")

		c.mu.Lock()
		if swap := c.swaps[orderID]; swap != nil && !swap.Status.Terminal() {
			c.advanceSwap(swap, SwapFailed)
		}
		if order := c.orders[orderID]; order != nil {
			c.advanceOrder(order, OrderFailed)
		}
		c.mu.Unlock()
		return
	}

	// Transient: the swap stays in its current state, the timelock on the
	// ledger is the safety backstop.
	logger.Warn(op+" failed transiently", zap.Error(err))
	c.errs.Warn(fmt.Sprintf("%s: %v", op, err), orderID, "")
}

func (c *Coordinator) handleCancelled(ev ledger.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	swap, ok := c.swaps[ev.OrderID]
	if ok {
		if ev.EscrowID == swap.SourceEscrowID {
			swap.SourceSettled = true
		} else if ev.EscrowID == swap.DestEscrowID {
			swap.DestSettled = true
		}
		if !swap.Status.Terminal() {
			c.advanceSwap(swap, SwapFailed)
		}
		swap.UpdatedAt = time.Now()
	}

	if order, ok := c.orders[ev.OrderID]; ok {
		c.advanceOrder(order, OrderCancelled)
	}
}

// orderFromEvent reconstructs a minimal order from a created event. The
// coordinator holds nothing that is not derivable from ledger events, so a
// replay from checkpoint rebuilds orders it never saw being created. A lock
// with auction rates is the maker's source leg, a resolver counter leg
// carries none.
func (c *Coordinator) orderFromEvent(ev ledger.Event) *Order {
	order := &Order{
		ID:         ev.OrderID,
		SecretHash: ev.SecretHash,
		Timelock:   ev.Timelock,
		Status:     OrderAuctionActive,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if ev.StartRate != nil {
		order.Maker = ev.Sender
		order.SrcChain = ev.Chain
		order.SrcAsset = ev.Asset
		order.SrcAmount = copyBig(ev.Amount)
		order.StartRate = copyBig(ev.StartRate)
		order.EndRate = copyBig(ev.EndRate)
		order.DestChain = c.otherChain(ev.Chain)
	} else {
		order.Receiver = ev.Receiver
		order.DestChain = ev.Chain
		order.DestAsset = ev.Asset
		order.DestAmount = copyBig(ev.Amount)
		order.SrcChain = c.otherChain(ev.Chain)
	}
	c.logger.Info("order reconstructed from ledger event", zap.String("order", ev.OrderID), zap.String("chain", ev.Chain))
	return order
}

// otherChain resolves the counterparty chain when only one leg has been
// observed. With exactly two configured chains this is unambiguous.
func (c *Coordinator) otherChain(chain string) string {
	for name := range c.adapters {
		if name != chain {
			return name
		}
	}
	return ""
}

// advanceOrder moves an order forward, never backward, and persists the
// change best effort.
func (c *Coordinator) advanceOrder(order *Order, status OrderStatus) {
	if order.Status.Terminal() {
		return
	}
	if orderRank[status] <= orderRank[order.Status] {
		if orderRank[status] < orderRank[order.Status] {
			c.logger.Debug("ignoring backward order transition",
				zap.String("order", order.ID),
				zap.String("from", string(order.Status)),
				zap.String("to", string(status)))
		}
		return
	}
	order.Status = status
	order.UpdatedAt = time.Now()
	if err := c.orderDB.UpdateOrderStatus(order.ID, string(status), nil); err != nil {
		c.logger.Debug("persist order status", zap.String("order", order.ID), zap.Error(err))
	}
}

func (c *Coordinator) advanceSwap(swap *CrossChainSwap, status SwapStatus) {
	if swap.Status.Terminal() {
		return
	}
	swap.Status = status
	swap.UpdatedAt = time.Now()
}
