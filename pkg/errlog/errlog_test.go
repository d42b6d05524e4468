package errlog_test

import (
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/duskswap/dusk/pkg/errlog"
)

var _ = Describe("Error Log", func() {
	It("should record level, message and context", func() {
		log := errlog.New(10)
		log.Warn("health check failed", "", "alpha")
		log.Error("secret mismatch", "order-1", "beta")

		records := log.Records()
		Expect(records).To(HaveLen(2))
		Expect(records[0].Level).To(Equal(errlog.LevelWarn))
		Expect(records[0].Chain).To(Equal("alpha"))
		Expect(records[1].Level).To(Equal(errlog.LevelError))
		Expect(records[1].OrderID).To(Equal("order-1"))
		Expect(records[1].Timestamp).ToNot(BeZero())
	})

	It("should evict the oldest records beyond its capacity", func() {
		log := errlog.New(5)
		for i := 0; i < 12; i++ {
			log.Error(fmt.Sprintf("failure %d", i), "", "")
		}

		records := log.Records()
		Expect(records).To(HaveLen(5))
		Expect(records[0].Message).To(Equal("failure 7"))
		Expect(records[4].Message).To(Equal("failure 11"))
	})

	It("should return an independent copy of its records", func() {
		log := errlog.New(5)
		log.Warn("first", "", "")
		records := log.Records()
		records[0].Message = "mutated"
		Expect(log.Records()[0].Message).To(Equal("first"))
	})
})
