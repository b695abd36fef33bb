package extraction_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/feichai0017/document-recognizer/internal/models"
	"github.com/feichai0017/document-recognizer/internal/service/extraction"
)

func ptr[T any](v T) *T { return &v }

var _ = Describe("Normalizer", func() {
	var normalizer *extraction.Normalizer

	BeforeEach(func() {
		vendors, err := extraction.DefaultVendorTable()
		Expect(err).NotTo(HaveOccurred())
		normalizer = extraction.NewNormalizer(vendors)
	})

	It("normalizes every field", func() {
		out := normalizer.Normalize(models.ExtractedData{
			Amounts:       []float64{450, 1250.505},
			Total:         ptr(1250.505),
			Dates:         []string{"not a date", "15/03/2024"},
			Vendor:        "  acme   supplies ltd ",
			InvoiceNumber: " inv-7 ",
			Currency:      "FCFA",
		})

		Expect(*out.Amount).To(BeNumerically("~", 1250.51, 0.0001))
		Expect(*out.Currency).To(Equal("XOF"))
		Expect(*out.Date).To(Equal(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)))
		Expect(*out.InvoiceNumber).To(Equal("INV-7"))
		Expect(*out.Vendor).To(Equal("ACME Supplies"))
	})

	It("falls back to the largest candidate", func() {
		out := normalizer.Normalize(models.ExtractedData{Amounts: []float64{120, 300}})
		Expect(*out.Amount).To(Equal(300.0))
	})

	It("drops amounts outside the plausible range", func() {
		Expect(normalizer.Normalize(models.ExtractedData{Total: ptr(99.99)}).Amount).To(BeNil())
		Expect(normalizer.Normalize(models.ExtractedData{Total: ptr(20_000_000.0)}).Amount).To(BeNil())
	})

	It("keeps unknown vendors as written", func() {
		out := normalizer.Normalize(models.ExtractedData{Vendor: "Chez  Fatou"})
		Expect(*out.Vendor).To(Equal("Chez Fatou"))
	})

	It("leaves missing fields nil", func() {
		out := normalizer.Normalize(models.ExtractedData{})
		Expect(out).To(Equal(models.NormalizedData{}))
	})
})

var _ = DescribeTable("ParseDate",
	func(raw string, want time.Time) {
		got, ok := extraction.ParseDate(raw)
		Expect(ok).To(BeTrue())
		Expect(got).To(Equal(want))
	},
	Entry("iso", "2024-03-15", time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)),
	Entry("day first slash", "5/3/2024", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)),
	Entry("day first dot", "15.03.2024", time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)),
	Entry("month name", "Jan 2, 2006", time.Date(2006, 1, 2, 0, 0, 0, 0, time.UTC)),
	Entry("abbreviation with dot", "Mar. 5, 2024", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)),
	Entry("sept", "Sept 9, 2024", time.Date(2024, 9, 9, 0, 0, 0, 0, time.UTC)),
	Entry("day month year", "15 March 2024", time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)),
)

var _ = DescribeTable("NormalizeCurrency",
	func(raw, want string) {
		Expect(extraction.NormalizeCurrency(raw)).To(Equal(want))
	},
	Entry("dollar", "$", "USD"),
	Entry("euro", "€", "EUR"),
	Entry("cfa franc", "CFA", "XOF"),
	Entry("iso code", "eur", "EUR"),
	Entry("empty", "", ""),
)
