package coordinator

import (
	"sync"

	"github.com/duskswap/dusk/pkg/store"
)

// checkpointTracker persists the highest block per chain for which every
// delivered event has been handled. Workers ack out of order, so the
// persisted checkpoint trails the lowest still-pending block; resubscribing
// from it can replay events but never skip one.
type checkpointTracker struct {
	db store.OrderStore

	mu     sync.Mutex
	chains map[string]*chainProgress
}

// pending counts outstanding events per block: a block may carry several
// events, and its entry clears only once every one of them is acked.
type chainProgress struct {
	delivered uint64
	pending   map[uint64]int
	persisted uint64
}

func newCheckpointTracker(db store.OrderStore) *checkpointTracker {
	return &checkpointTracker{
		db:     db,
		chains: map[string]*chainProgress{},
	}
}

func (t *checkpointTracker) Deliver(chain string, block uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.progress(chain)
	if block > p.delivered {
		p.delivered = block
	}
	p.pending[block]++
}

func (t *checkpointTracker) Ack(chain string, block uint64) {
	t.mu.Lock()
	p := t.progress(chain)
	if p.pending[block] > 1 {
		p.pending[block]--
	} else {
		delete(p.pending, block)
	}

	checkpoint := p.delivered
	for pending := range p.pending {
		if pending-1 < checkpoint {
			checkpoint = pending - 1
		}
	}
	persist := checkpoint > p.persisted
	if persist {
		p.persisted = checkpoint
	}
	t.mu.Unlock()

	if persist {
		// Best effort, a stale checkpoint only causes replay on restart.
		_ = t.db.PutCheckpoint(chain, checkpoint)
	}
}

func (t *checkpointTracker) progress(chain string) *chainProgress {
	p, ok := t.chains[chain]
	if !ok {
		p = &chainProgress{pending: map[uint64]int{}}
		t.chains[chain] = p
	}
	return p
}
