package store

import (
	"time"

	"gorm.io/gorm"
)

// Order is the persisted projection of a coordinator order. It exists so the
// coordinator can resume after restart without replaying both chains from
// genesis; the in-memory state stays authoritative while running.
type Order struct {
	gorm.Model

	OrderID    string `gorm:"uniqueIndex"`
	SecretHash string `gorm:"index"`
	Secret     string
	Status     string
	Error      string

	LockTxHash     string
	WithdrawTxHash string
	CancelTxHash   string
}

// Checkpoint records the last processed block per chain so event
// subscriptions resume where they left off.
type Checkpoint struct {
	gorm.Model

	Chain string `gorm:"uniqueIndex"`
	Block uint64
}

type OrderStore interface {
	// PutSecret inserts the order with its secret hash. The secret itself is
	// only known on the maker side and may be nil.
	PutSecret(secretHash string, secret *string, orderID string) error

	Secret(secretHash string) (string, error)

	Status(orderID string) (string, error)

	UpdateOrderStatus(orderID string, status string, err error) error

	UpdateTxHash(orderID string, event Action, hash string) error

	OrderByID(orderID string) (Order, error)

	PutCheckpoint(chain string, block uint64) error

	// Checkpoint returns the last processed block for the chain, zero if the
	// chain has never been seen.
	Checkpoint(chain string) (uint64, error)
}

type orderStore struct {
	db *gorm.DB
}

func NewOrderStore(db *gorm.DB) (OrderStore, error) {
	if err := db.AutoMigrate(&Order{}, &Checkpoint{}); err != nil {
		return nil, err
	}

	sqlDb, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDb.SetMaxIdleConns(5)
	sqlDb.SetMaxOpenConns(5)
	sqlDb.SetConnMaxIdleTime(10 * time.Minute)
	return &orderStore{db: db}, nil
}

func (s *orderStore) PutSecret(secretHash string, secret *string, orderID string) error {
	secretStr := ""
	if secret != nil {
		secretStr = *secret
	}
	order := Order{
		OrderID:    orderID,
		SecretHash: secretHash,
		Secret:     secretStr,
	}
	return s.db.Create(&order).Error
}

func (s *orderStore) Secret(secretHash string) (string, error) {
	var order Order
	if err := s.db.Where("secret_hash = ?", secretHash).First(&order).Error; err != nil {
		return "", err
	}
	return order.Secret, nil
}

func (s *orderStore) Status(orderID string) (string, error) {
	var order Order
	err := s.db.Where("order_id = ?", orderID).First(&order).Error
	return order.Status, err
}

func (s *orderStore) UpdateOrderStatus(orderID string, status string, opErr error) error {
	tx := s.db.Table("orders").Where("order_id = ?", orderID).Update("status", status)
	if opErr != nil {
		tx = tx.Update("error", opErr.Error())
	}
	return tx.Error
}

func (s *orderStore) UpdateTxHash(orderID string, event Action, hash string) error {
	tx := s.db.Table("orders").Where("order_id = ?", orderID)
	switch event {
	case ActionLock:
		return tx.Update("lock_tx_hash", hash).Error
	case ActionWithdraw:
		return tx.Update("withdraw_tx_hash", hash).Error
	case ActionCancel:
		return tx.Update("cancel_tx_hash", hash).Error
	default:
		return ErrUnknownAction
	}
}

func (s *orderStore) OrderByID(orderID string) (Order, error) {
	var order Order
	err := s.db.Where("order_id = ?", orderID).First(&order).Error
	return order, err
}

func (s *orderStore) PutCheckpoint(chain string, block uint64) error {
	checkpoint := Checkpoint{Chain: chain, Block: block}
	return s.db.Where("chain = ?", chain).
		Assign(Checkpoint{Block: block}).
		FirstOrCreate(&checkpoint).Error
}

func (s *orderStore) Checkpoint(chain string) (uint64, error) {
	var checkpoint Checkpoint
	err := s.db.Where("chain = ?", chain).First(&checkpoint).Error
	if err == gorm.ErrRecordNotFound {
		return 0, nil
	}
	return checkpoint.Block, err
}
