package store_test

import (
	"fmt"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/duskswap/dusk/pkg/store"
)

var _ = Describe("Order Store", func() {
	var orders store.OrderStore

	BeforeEach(func() {
		db, err := gorm.Open(sqlite.Open(filepath.Join(GinkgoT().TempDir(), "dusk.db")))
		Expect(err).To(BeNil())
		orders, err = store.NewOrderStore(db)
		Expect(err).To(BeNil())
	})

	It("should round-trip an order with its secret", func() {
		secret := "deadbeef"
		Expect(orders.PutSecret("0xhash", &secret, "order-1")).To(Succeed())

		got, err := orders.Secret("0xhash")
		Expect(err).To(BeNil())
		Expect(got).To(Equal(secret))

		order, err := orders.OrderByID("order-1")
		Expect(err).To(BeNil())
		Expect(order.SecretHash).To(Equal("0xhash"))
	})

	It("should store a resolver-side order without a secret", func() {
		Expect(orders.PutSecret("0xhash", nil, "order-1")).To(Succeed())
		got, err := orders.Secret("0xhash")
		Expect(err).To(BeNil())
		Expect(got).To(BeEmpty())
	})

	It("should reject a duplicate order id", func() {
		Expect(orders.PutSecret("0xhash", nil, "order-1")).To(Succeed())
		Expect(orders.PutSecret("0xother", nil, "order-1")).NotTo(Succeed())
	})

	It("should update status and transaction hashes", func() {
		Expect(orders.PutSecret("0xhash", nil, "order-1")).To(Succeed())
		Expect(orders.UpdateOrderStatus("order-1", "EXECUTING", nil)).To(Succeed())
		Expect(orders.UpdateTxHash("order-1", store.ActionWithdraw, "0xabc")).To(Succeed())
		Expect(orders.UpdateOrderStatus("order-1", "FAILED", fmt.Errorf("reverted"))).To(Succeed())

		order, err := orders.OrderByID("order-1")
		Expect(err).To(BeNil())
		Expect(order.Status).To(Equal("FAILED"))
		Expect(order.WithdrawTxHash).To(Equal("0xabc"))
		Expect(order.Error).To(Equal("reverted"))
	})

	It("should default a never-seen chain checkpoint to zero", func() {
		block, err := orders.Checkpoint("alpha")
		Expect(err).To(BeNil())
		Expect(block).To(BeZero())
	})

	It("should upsert checkpoints per chain", func() {
		Expect(orders.PutCheckpoint("alpha", 10)).To(Succeed())
		Expect(orders.PutCheckpoint("beta", 4)).To(Succeed())
		Expect(orders.PutCheckpoint("alpha", 25)).To(Succeed())

		block, err := orders.Checkpoint("alpha")
		Expect(err).To(BeNil())
		Expect(block).To(Equal(uint64(25)))

		block, err = orders.Checkpoint("beta")
		Expect(err).To(BeNil())
		Expect(block).To(Equal(uint64(4)))
	})
})

var _ = Describe("Action Store", func() {
	It("should remember submitted actions", func() {
		actions := store.NewMemStore()

		done, err := actions.CheckAction(store.ActionWithdraw, "order-1")
		Expect(err).To(BeNil())
		Expect(done).To(BeFalse())

		Expect(actions.StoreAction(store.ActionWithdraw, "order-1")).To(Succeed())

		done, err = actions.CheckAction(store.ActionWithdraw, "order-1")
		Expect(err).To(BeNil())
		Expect(done).To(BeTrue())
	})

	It("should keep actions independent per kind and order", func() {
		actions := store.NewMemStore()
		Expect(actions.StoreAction(store.ActionWithdraw, "order-1")).To(Succeed())

		done, err := actions.CheckAction(store.ActionCancel, "order-1")
		Expect(err).To(BeNil())
		Expect(done).To(BeFalse())

		done, err = actions.CheckAction(store.ActionWithdraw, "order-2")
		Expect(err).To(BeNil())
		Expect(done).To(BeFalse())
	})
})
