package observer_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dataview/dataview/pkg/observer"
)

var _ = Describe("EvaluateCondition", func() {
	data := []byte(`{"status":"active","amount":150,"tenant":{"plan":"pro"}}`)

	It("always matches an empty expression", func() {
		matched, err := observer.EvaluateCondition("", data)
		Expect(err).NotTo(HaveOccurred())
		Expect(matched).To(BeTrue())
	})

	It("evaluates a string equality clause", func() {
		matched, err := observer.EvaluateCondition(`status == "active"`, data)
		Expect(err).NotTo(HaveOccurred())
		Expect(matched).To(BeTrue())
	})

	It("evaluates a numeric comparison", func() {
		matched, err := observer.EvaluateCondition("amount > 100", data)
		Expect(err).NotTo(HaveOccurred())
		Expect(matched).To(BeTrue())

		matched, err = observer.EvaluateCondition("amount > 1000", data)
		Expect(err).NotTo(HaveOccurred())
		Expect(matched).To(BeFalse())
	})

	It("resolves a dotted path into nested objects", func() {
		matched, err := observer.EvaluateCondition(`tenant.plan == "pro"`, data)
		Expect(err).NotTo(HaveOccurred())
		Expect(matched).To(BeTrue())
	})

	It("combines clauses with && and ||", func() {
		matched, err := observer.EvaluateCondition(`status == "inactive" || amount > 100`, data)
		Expect(err).NotTo(HaveOccurred())
		Expect(matched).To(BeTrue())

		matched, err = observer.EvaluateCondition(`status == "active" && amount > 1000`, data)
		Expect(err).NotTo(HaveOccurred())
		Expect(matched).To(BeFalse())
	})

	It("treats an unresolvable path as not matched, without erroring", func() {
		matched, err := observer.EvaluateCondition(`missing.field == "x"`, data)
		Expect(err).NotTo(HaveOccurred())
		Expect(matched).To(BeFalse())
	})

	It("errors on malformed event data but still returns a bool", func() {
		matched, err := observer.EvaluateCondition(`status == "active"`, []byte(`not json`))
		Expect(err).To(HaveOccurred())
		Expect(matched).To(BeFalse())
	})
})
