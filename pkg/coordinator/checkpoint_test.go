package coordinator

import (
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/duskswap/dusk/pkg/store"
)

// checkpointRecorder captures every persisted checkpoint for assertions.
type checkpointRecorder struct {
	mu     sync.Mutex
	blocks map[string][]uint64
}

func newCheckpointRecorder() *checkpointRecorder {
	return &checkpointRecorder{blocks: map[string][]uint64{}}
}

func (r *checkpointRecorder) PutCheckpoint(chain string, block uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocks[chain] = append(r.blocks[chain], block)
	return nil
}

func (r *checkpointRecorder) Checkpoint(chain string) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	persisted := r.blocks[chain]
	if len(persisted) == 0 {
		return 0, nil
	}
	return persisted[len(persisted)-1], nil
}

func (r *checkpointRecorder) persistedBlocks(chain string) []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.blocks[chain]...)
}

func (r *checkpointRecorder) PutSecret(string, *string, string) error { return nil }

func (r *checkpointRecorder) Secret(string) (string, error) { return "", nil }

func (r *checkpointRecorder) Status(string) (string, error) { return "", nil }

func (r *checkpointRecorder) UpdateOrderStatus(string, string, error) error { return nil }

func (r *checkpointRecorder) UpdateTxHash(string, store.Action, string) error { return nil }

func (r *checkpointRecorder) OrderByID(string) (store.Order, error) { return store.Order{}, nil }

var _ = Describe("Checkpoint Tracker", func() {
	var (
		recorder *checkpointRecorder
		tracker  *checkpointTracker
	)

	BeforeEach(func() {
		recorder = newCheckpointRecorder()
		tracker = newCheckpointTracker(recorder)
	})

	It("should trail the lowest pending block when acks arrive out of order", func() {
		tracker.Deliver("alpha", 2)
		tracker.Deliver("alpha", 3)
		tracker.Deliver("alpha", 4)

		tracker.Ack("alpha", 4)
		block, err := recorder.Checkpoint("alpha")
		Expect(err).To(BeNil())
		Expect(block).To(Equal(uint64(1)))

		tracker.Ack("alpha", 2)
		tracker.Ack("alpha", 3)
		block, err = recorder.Checkpoint("alpha")
		Expect(err).To(BeNil())
		Expect(block).To(Equal(uint64(4)))
	})

	It("should hold the checkpoint until every event in a block is acked", func() {
		tracker.Deliver("alpha", 5)
		tracker.Deliver("alpha", 5)

		tracker.Ack("alpha", 5)
		block, err := recorder.Checkpoint("alpha")
		Expect(err).To(BeNil())
		Expect(block).To(Equal(uint64(4)))

		tracker.Ack("alpha", 5)
		block, err = recorder.Checkpoint("alpha")
		Expect(err).To(BeNil())
		Expect(block).To(Equal(uint64(5)))
	})

	It("should never persist a regressing checkpoint", func() {
		tracker.Deliver("alpha", 7)
		tracker.Ack("alpha", 7)

		tracker.Deliver("alpha", 8)
		tracker.Deliver("alpha", 9)
		tracker.Ack("alpha", 9)
		tracker.Ack("alpha", 8)

		Expect(recorder.persistedBlocks("alpha")).To(Equal([]uint64{7, 9}))
	})

	It("should track chains independently", func() {
		tracker.Deliver("alpha", 3)
		tracker.Deliver("beta", 11)
		tracker.Ack("beta", 11)

		block, err := recorder.Checkpoint("beta")
		Expect(err).To(BeNil())
		Expect(block).To(Equal(uint64(11)))
		Expect(recorder.persistedBlocks("alpha")).To(BeEmpty())
	})
})
