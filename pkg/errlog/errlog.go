package errlog

import (
	"sync"
	"time"
)

// DefaultCapacity bounds the log so a misbehaving chain cannot grow the
// process without limit.
const DefaultCapacity = 1000

type Level string

const (
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Record is a single operational error or warning, with optional order and
// chain context for correlation.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	OrderID   string    `json:"orderId,omitempty"`
	Chain     string    `json:"chain,omitempty"`
}

// Log is an append-only ring buffer of Records. Once the capacity is reached,
// the oldest record is evicted first.
type Log struct {
	mu      sync.Mutex
	cap     int
	records []Record
}

func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{cap: capacity}
}

func (l *Log) Warn(message, orderID, chain string) {
	l.append(Record{Timestamp: time.Now(), Level: LevelWarn, Message: message, OrderID: orderID, Chain: chain})
}

func (l *Log) Error(message, orderID, chain string) {
	l.append(Record{Timestamp: time.Now(), Level: LevelError, Message: message, OrderID: orderID, Chain: chain})
}

func (l *Log) append(rec Record) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = append(l.records, rec)
	if len(l.records) > l.cap {
		l.records = l.records[len(l.records)-l.cap:]
	}
}

// Records returns a copy of the buffered records, oldest first.
func (l *Log) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// Len returns the number of buffered records.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
