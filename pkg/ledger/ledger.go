package ledger

import (
	"crypto/sha256"
	"encoding/binary"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/duskswap/dusk/pkg/auction"
)

// Timelock bounds relative to the lock time. Locks outside this window are
// rejected before any state is written.
const (
	MinTimelock = time.Hour
	MaxTimelock = 30 * 24 * time.Hour
)

// NativeAsset is the sentinel asset id for the chain's native value.
var NativeAsset = common.Address{}

// Escrow holds locked value against a hash lock and a timelock. An escrow is
// created once and mutated exactly once into a terminal state, withdrawn or
// cancelled. Terminal escrows are permanent ledger history and never deleted.
type Escrow struct {
	ID         common.Hash
	OrderID    string
	Sender     common.Address
	Receiver   common.Address
	Resolver   common.Address
	Asset      common.Address
	Amount     *big.Int
	SecretHash common.Hash
	Timelock   int64

	Withdrawn bool
	Cancelled bool

	CreatedAt    int64
	AuctionStart int64
	AuctionEnd   int64
	StartRate    *big.Int
	EndRate      *big.Int

	IsResolverLeg  bool
	SourceEscrowID common.Hash
}

// HasAuction reports whether the escrow carries a price auction. Resolver
// counter legs are locked at a fixed amount and have none.
func (e *Escrow) HasAuction() bool {
	return e.AuctionEnd > e.AuctionStart
}

// Terminal reports whether the escrow has reached a terminal state.
func (e *Escrow) Terminal() bool {
	return e.Withdrawn || e.Cancelled
}

// EscrowID derives the deterministic escrow id from the semantic lock fields.
// It is a pure function of its inputs so any off-chain observer can recompute
// the id from order parameters and correlate events without querying the
// ledger.
func EscrowID(sender, receiver, asset common.Address, amount *big.Int, secretHash common.Hash, timelock int64, orderID string) common.Hash {
	h := sha256.New()
	h.Write(sender.Bytes())
	h.Write(receiver.Bytes())
	h.Write(asset.Bytes())
	h.Write(common.BigToHash(amount).Bytes())
	h.Write(secretHash.Bytes())

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(timelock))
	h.Write(ts[:])
	h.Write([]byte(orderID))

	return common.BytesToHash(h.Sum(nil))
}

// SecretHash commits to a secret the way the ledger verifies it on withdraw.
func SecretHash(secret []byte) common.Hash {
	return sha256.Sum256(secret)
}

// LockParams are the inputs to Lock.
type LockParams struct {
	OrderID         string
	SecretHash      common.Hash
	TimelockSeconds int64
	Receiver        common.Address
	Resolver        common.Address
	Asset           common.Address
	Amount          *big.Int
	AuctionDuration int64
	StartRate       *big.Int
	EndRate         *big.Int
}

// ResolverLockParams are the inputs to LockAsResolver, the counter leg paired
// to an escrow on the other chain.
type ResolverLockParams struct {
	OrderID         string
	SecretHash      common.Hash
	TimelockSeconds int64
	Receiver        common.Address
	Asset           common.Address
	Amount          *big.Int
	SourceEscrowID  common.Hash
}

// Ledger is the authoritative escrow state machine for one chain. All
// mutations are atomic: an operation either transitions state and appends an
// event, or returns an error having written nothing.
type Ledger struct {
	chain  string
	owner  common.Address
	logger *zap.Logger
	clock  func() time.Time

	mu        sync.RWMutex
	height    uint64
	escrows   map[common.Hash]*Escrow
	orders    map[string]common.Hash
	links     map[common.Hash]common.Hash
	resolvers map[common.Address]bool
	balances  map[common.Address]map[common.Address]*big.Int
	events    []Event
}

type Option func(*Ledger)

// WithClock overrides the ledger's time source.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) { l.clock = clock }
}

func New(chain string, owner common.Address, logger *zap.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		chain:     chain,
		owner:     owner,
		logger:    logger.With(zap.String("ledger", chain)),
		clock:     time.Now,
		height:    1,
		escrows:   map[common.Hash]*Escrow{},
		orders:    map[string]common.Hash{},
		links:     map[common.Hash]common.Hash{},
		resolvers: map[common.Address]bool{},
		balances:  map[common.Address]map[common.Address]*big.Int{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) Chain() string { return l.chain }

// SetResolver adds or removes an address from the authorized resolver set.
// Owner only, and the only admin mutation outside the protocol flows.
func (l *Ledger) SetResolver(caller, resolver common.Address, authorized bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.owner {
		return ErrUnauthorized
	}
	if resolver == (common.Address{}) {
		return ErrInvalidAddress
	}
	if authorized {
		l.resolvers[resolver] = true
	} else {
		delete(l.resolvers, resolver)
	}
	return nil
}

func (l *Ledger) IsResolver(addr common.Address) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.resolvers[addr]
}

// Lock creates the sender-leg escrow for an order.
func (l *Ledger) Lock(sender common.Address, p LockParams) (*Escrow, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock().Unix()
	if err := validateLock(sender, p); err != nil {
		return nil, err
	}

	timelock := now + p.TimelockSeconds
	id := EscrowID(sender, p.Receiver, p.Asset, p.Amount, p.SecretHash, timelock, p.OrderID)
	if _, ok := l.escrows[id]; ok {
		return nil, ErrAlreadyExists
	}
	if _, ok := l.orders[p.OrderID]; ok {
		return nil, ErrAlreadyExists
	}

	escrow := &Escrow{
		ID:           id,
		OrderID:      p.OrderID,
		Sender:       sender,
		Receiver:     p.Receiver,
		Resolver:     p.Resolver,
		Asset:        p.Asset,
		Amount:       new(big.Int).Set(p.Amount),
		SecretHash:   p.SecretHash,
		Timelock:     timelock,
		CreatedAt:    now,
		AuctionStart: now,
		AuctionEnd:   now + p.AuctionDuration,
		StartRate:    new(big.Int).Set(p.StartRate),
		EndRate:      new(big.Int).Set(p.EndRate),
	}
	l.escrows[id] = escrow
	l.orders[p.OrderID] = id
	l.emitCreated(escrow)

	l.logger.Debug("escrow locked",
		zap.String("order", p.OrderID),
		zap.String("escrow", id.Hex()),
		zap.String("amount", p.Amount.String()))
	return copyEscrow(escrow), nil
}

// LockAsResolver creates the counter-leg escrow paired with sourceEscrowID on
// the other chain. Callable only by an authorized resolver.
func (l *Ledger) LockAsResolver(resolver common.Address, p ResolverLockParams) (*Escrow, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.resolvers[resolver] {
		return nil, ErrUnauthorized
	}
	if p.Amount == nil || p.Amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if p.Receiver == (common.Address{}) {
		return nil, ErrInvalidAddress
	}
	if p.TimelockSeconds < int64(MinTimelock/time.Second) || p.TimelockSeconds > int64(MaxTimelock/time.Second) {
		return nil, ErrTimelockOutOfRange
	}

	now := l.clock().Unix()
	timelock := now + p.TimelockSeconds
	id := EscrowID(resolver, p.Receiver, p.Asset, p.Amount, p.SecretHash, timelock, p.OrderID)
	if _, ok := l.escrows[id]; ok {
		return nil, ErrAlreadyExists
	}
	if _, ok := l.orders[p.OrderID]; ok {
		return nil, ErrAlreadyExists
	}

	escrow := &Escrow{
		ID:             id,
		OrderID:        p.OrderID,
		Sender:         resolver,
		Receiver:       p.Receiver,
		Resolver:       resolver,
		Asset:          p.Asset,
		Amount:         new(big.Int).Set(p.Amount),
		SecretHash:     p.SecretHash,
		Timelock:       timelock,
		CreatedAt:      now,
		IsResolverLeg:  true,
		SourceEscrowID: p.SourceEscrowID,
	}
	l.escrows[id] = escrow
	l.orders[p.OrderID] = id
	l.links[p.SourceEscrowID] = id
	l.links[id] = p.SourceEscrowID
	l.emitCreated(escrow)

	l.logger.Debug("resolver escrow locked",
		zap.String("order", p.OrderID),
		zap.String("escrow", id.Hex()),
		zap.String("source", p.SourceEscrowID.Hex()))
	return copyEscrow(escrow), nil
}

// Withdraw transitions the escrow to withdrawn and transfers the locked value
// to the receiver. Only the recorded receiver may withdraw, and only with the
// preimage of the secret hash.
func (l *Ledger) Withdraw(caller common.Address, id common.Hash, secret []byte) (*Escrow, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	escrow, ok := l.escrows[id]
	if !ok {
		return nil, ErrNotFound
	}
	if escrow.Withdrawn {
		return nil, ErrAlreadyWithdrawn
	}
	if escrow.Cancelled {
		return nil, ErrAlreadyCancelled
	}
	if caller != escrow.Receiver {
		return nil, ErrUnauthorized
	}
	if SecretHash(secret) != escrow.SecretHash {
		return nil, ErrInvalidSecret
	}

	escrow.Withdrawn = true
	l.credit(escrow.Asset, escrow.Receiver, escrow.Amount)

	var execRate *big.Int
	if escrow.HasAuction() {
		execRate = auction.CurrentRate(escrow.StartRate, escrow.EndRate, escrow.AuctionStart, escrow.AuctionEnd, l.clock().Unix())
	}
	l.emitWithdrawn(escrow, secret, execRate)

	l.logger.Debug("escrow withdrawn",
		zap.String("order", escrow.OrderID),
		zap.String("escrow", id.Hex()))
	return copyEscrow(escrow), nil
}

// Cancel transitions the escrow to cancelled and refunds the sender. Only the
// original sender may cancel, and only once the timelock has expired.
func (l *Ledger) Cancel(caller common.Address, id common.Hash) (*Escrow, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	escrow, ok := l.escrows[id]
	if !ok {
		return nil, ErrNotFound
	}
	if escrow.Withdrawn {
		return nil, ErrAlreadyWithdrawn
	}
	if escrow.Cancelled {
		return nil, ErrAlreadyCancelled
	}
	if caller != escrow.Sender {
		return nil, ErrUnauthorized
	}
	if l.clock().Unix() < escrow.Timelock {
		return nil, ErrTimelockNotExpired
	}

	escrow.Cancelled = true
	l.credit(escrow.Asset, escrow.Sender, escrow.Amount)
	l.emitCancelled(escrow)

	l.logger.Debug("escrow cancelled",
		zap.String("order", escrow.OrderID),
		zap.String("escrow", id.Hex()))
	return copyEscrow(escrow), nil
}

// CurrentRate returns the live auction rate for the order's escrow.
func (l *Ledger) CurrentRate(orderID string) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	id, ok := l.orders[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	escrow := l.escrows[id]
	if !escrow.HasAuction() {
		return nil, ErrNoAuction
	}
	return auction.CurrentRate(escrow.StartRate, escrow.EndRate, escrow.AuctionStart, escrow.AuctionEnd, l.clock().Unix()), nil
}

// Escrow returns a copy of the escrow with the given id.
func (l *Ledger) Escrow(id common.Hash) (*Escrow, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	escrow, ok := l.escrows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyEscrow(escrow), nil
}

// EscrowByOrder returns a copy of the escrow created for the given order on
// this chain, if any.
func (l *Ledger) EscrowByOrder(orderID string) (*Escrow, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	id, ok := l.orders[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyEscrow(l.escrows[id]), nil
}

// PairedEscrowID resolves the cross-chain link table in either direction.
func (l *Ledger) PairedEscrowID(id common.Hash) (common.Hash, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	paired, ok := l.links[id]
	return paired, ok
}

// BalanceOf returns the settled balance credited to addr for the given asset.
func (l *Ledger) BalanceOf(asset, addr common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	holders, ok := l.balances[asset]
	if !ok {
		return big.NewInt(0)
	}
	balance, ok := holders[addr]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(balance)
}

// Height returns the current block height.
func (l *Ledger) Height() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.height
}

// AdvanceBlock moves the chain forward one block without any transaction,
// letting confirmations accumulate.
func (l *Ledger) AdvanceBlock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.height++
}

// EventFor returns the event of the given type emitted for the escrow. At
// most one exists per escrow and type, escrows transition each way once.
func (l *Ledger) EventFor(id common.Hash, typ EventType) (Event, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for i := len(l.events) - 1; i >= 0; i-- {
		if l.events[i].EscrowID == id && l.events[i].Type == typ {
			return l.events[i], true
		}
	}
	return Event{}, false
}

// EventsSince returns all finalized events with block number strictly greater
// than the checkpoint, in ledger order.
func (l *Ledger) EventsSince(checkpoint uint64) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Event
	for _, ev := range l.events {
		if ev.BlockNumber > checkpoint {
			out = append(out, ev)
		}
	}
	return out
}

func validateLock(sender common.Address, p LockParams) error {
	if p.Amount == nil || p.Amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if sender == (common.Address{}) || p.Receiver == (common.Address{}) {
		return ErrInvalidAddress
	}
	if p.TimelockSeconds < int64(MinTimelock/time.Second) || p.TimelockSeconds > int64(MaxTimelock/time.Second) {
		return ErrTimelockOutOfRange
	}
	if p.AuctionDuration <= 0 {
		return ErrInvalidAuctionParams
	}
	if p.StartRate == nil || p.EndRate == nil || p.StartRate.Sign() == 0 || p.EndRate.Sign() == 0 {
		return ErrInvalidAuctionParams
	}
	if p.StartRate.Cmp(p.EndRate) < 0 {
		return ErrInvalidAuctionParams
	}
	return nil
}

func (l *Ledger) credit(asset, addr common.Address, amount *big.Int) {
	holders, ok := l.balances[asset]
	if !ok {
		holders = map[common.Address]*big.Int{}
		l.balances[asset] = holders
	}
	balance, ok := holders[addr]
	if !ok {
		balance = big.NewInt(0)
		holders[addr] = balance
	}
	balance.Add(balance, amount)
}

func (l *Ledger) emitCreated(escrow *Escrow) {
	l.height++
	l.events = append(l.events, Event{
		Type:        EventEscrowCreated,
		Chain:       l.chain,
		EscrowID:    escrow.ID,
		OrderID:     escrow.OrderID,
		Sender:      escrow.Sender,
		Receiver:    escrow.Receiver,
		Resolver:    escrow.Resolver,
		Amount:      new(big.Int).Set(escrow.Amount),
		SecretHash:  escrow.SecretHash,
		Timelock:    escrow.Timelock,
		Asset:       escrow.Asset,
		StartRate:   copyRate(escrow.StartRate),
		EndRate:     copyRate(escrow.EndRate),
		BlockNumber: l.height,
		TxHash:      l.txHash("lock", escrow.ID),
	})
}

func (l *Ledger) emitWithdrawn(escrow *Escrow, secret []byte, execRate *big.Int) {
	l.height++
	l.events = append(l.events, Event{
		Type:          EventEscrowWithdrawn,
		Chain:         l.chain,
		EscrowID:      escrow.ID,
		OrderID:       escrow.OrderID,
		Receiver:      escrow.Receiver,
		Secret:        append([]byte(nil), secret...),
		ExecutionRate: execRate,
		BlockNumber:   l.height,
		TxHash:        l.txHash("withdraw", escrow.ID),
	})
}

func (l *Ledger) emitCancelled(escrow *Escrow) {
	l.height++
	l.events = append(l.events, Event{
		Type:         EventEscrowCancelled,
		Chain:        l.chain,
		EscrowID:     escrow.ID,
		OrderID:      escrow.OrderID,
		Sender:       escrow.Sender,
		RefundAmount: new(big.Int).Set(escrow.Amount),
		BlockNumber:  l.height,
		TxHash:       l.txHash("cancel", escrow.ID),
	})
}

func (l *Ledger) txHash(op string, id common.Hash) common.Hash {
	h := sha256.New()
	h.Write([]byte(l.chain))
	h.Write([]byte(op))
	h.Write(id.Bytes())
	var height [8]byte
	binary.BigEndian.PutUint64(height[:], l.height)
	h.Write(height[:])
	return common.BytesToHash(h.Sum(nil))
}

func copyEscrow(e *Escrow) *Escrow {
	c := *e
	c.Amount = new(big.Int).Set(e.Amount)
	c.StartRate = copyRate(e.StartRate)
	c.EndRate = copyRate(e.EndRate)
	return &c
}

func copyRate(r *big.Int) *big.Int {
	if r == nil {
		return nil
	}
	return new(big.Int).Set(r)
}
