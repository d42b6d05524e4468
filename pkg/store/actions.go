package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrUnknownAction = errors.New("unknown action")

// Action is a coordinator-submitted ledger transaction kind.
type Action string

const (
	ActionLock     Action = "lock"
	ActionWithdraw Action = "withdraw"
	ActionCancel   Action = "cancel"
)

// ActionStore remembers which actions have already been submitted per order,
// so a replayed or duplicated event never triggers a second submission, even
// across a process restart.
type ActionStore interface {
	// StoreAction records that the action has been submitted for the order.
	StoreAction(action Action, orderID string) error

	// CheckAction reports whether the action was submitted previously.
	CheckAction(action Action, orderID string) (bool, error)
}

type redisStore struct {
	client *redis.Client
}

func NewRedisStore(redisURL string) (ActionStore, error) {
	parsedURL, err := url.Parse(redisURL)
	if err != nil {
		return nil, err
	}
	redisPassword, _ := parsedURL.User.Password()
	client := redis.NewClient(&redis.Options{
		Addr:     parsedURL.Host,
		Password: redisPassword,
		DB:       0, // Use default DB.
	})
	return redisStore{client: client}, nil
}

func (rs redisStore) StoreAction(action Action, orderID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	return rs.client.Set(ctx, actionKey(action, orderID), true, 0).Err()
}

func (rs redisStore) CheckAction(action Action, orderID string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ok, err := rs.client.Get(ctx, actionKey(action, orderID)).Bool()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	return ok, err
}

func actionKey(action Action, orderID string) string {
	return fmt.Sprintf("%v-%v", action, orderID)
}

type memStore struct {
	mu      sync.Mutex
	actions map[string]struct{}
}

// NewMemStore returns an in-memory ActionStore. Dedup state does not survive
// a restart, use the redis store in production.
func NewMemStore() ActionStore {
	return &memStore{actions: map[string]struct{}{}}
}

func (ms *memStore) StoreAction(action Action, orderID string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.actions[actionKey(action, orderID)] = struct{}{}
	return nil
}

func (ms *memStore) CheckAction(action Action, orderID string) (bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	_, ok := ms.actions[actionKey(action, orderID)]
	return ok, nil
}
