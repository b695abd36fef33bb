package extraction_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/feichai0017/document-recognizer/internal/models"
	"github.com/feichai0017/document-recognizer/internal/service/extraction"
)

const invoiceText = `ACME Supplies Ltd, 12 Rue du Commerce
Invoice No: INV-2024-001
Date: 15/03/2024

Widget A  2  150.00  300.00
Widget B 3 x 50.00 = 150.00

Subtotal: 450.00
TOTAL: 1 250,50 FCFA`

var _ = Describe("Parser", func() {
	var (
		parser *extraction.Parser
		data   models.ExtractedData
		text   string
	)

	BeforeEach(func() {
		parser = extraction.NewParser()
		text = invoiceText
	})

	JustBeforeEach(func() {
		data = parser.Parse(text)
	})

	It("reads the header fields", func() {
		Expect(data.Vendor).To(Equal("ACME Supplies Ltd"))
		Expect(data.InvoiceNumber).To(Equal("INV-2024-001"))
		Expect(data.Dates).To(Equal([]string{"15/03/2024"}))
		Expect(data.Currency).To(Equal("FCFA"))
	})

	It("reads the labelled total with space grouping", func() {
		Expect(data.Total).NotTo(BeNil())
		Expect(*data.Total).To(BeNumerically("~", 1250.50, 0.001))
		Expect(data.Amounts).To(ContainElements(450.0, 1250.5))
	})

	It("reads both line item layouts", func() {
		Expect(data.LineItems).To(HaveLen(2))
		Expect(data.LineItems[0]).To(Equal(models.LineItem{Description: "Widget A", Quantity: 2, UnitPrice: 150, Total: 300}))
		Expect(data.LineItems[1]).To(Equal(models.LineItem{Description: "Widget B", Quantity: 3, UnitPrice: 50, Total: 150}))
	})

	When("several totals are printed", func() {
		BeforeEach(func() {
			text = "Shop\nTotal: 90.00\nAmount Due: 120.00\nTotal: 95.00"
		})

		It("prefers the strongest label", func() {
			Expect(*data.Total).To(Equal(120.0))
		})
	})

	When("the total is in thousands with spaces", func() {
		BeforeEach(func() {
			text = "Boutique Centrale\n\nTOTAL: 125 000"
		})

		It("keeps the whole number", func() {
			Expect(*data.Total).To(Equal(125000.0))
		})
	})

	When("dates use month names", func() {
		BeforeEach(func() {
			text = "Paid on Jan 2, 2024 and due 15 March 2024"
		})

		It("returns them in document order", func() {
			Expect(data.Dates).To(Equal([]string{"Jan 2, 2024", "15 March 2024"}))
		})
	})

	When("nothing looks like an invoice", func() {
		BeforeEach(func() {
			text = ""
		})

		It("returns empty fields", func() {
			Expect(data.Total).To(BeNil())
			Expect(data.Amounts).To(BeEmpty())
			Expect(data.Vendor).To(BeEmpty())
			Expect(data.InvoiceNumber).To(BeEmpty())
		})
	})
})

var _ = DescribeTable("ParseNumber",
	func(in string, want string) {
		got, ok := extraction.ParseNumber(in)
		Expect(ok).To(BeTrue())
		Expect(got.String()).To(Equal(want))
	},
	Entry("space thousands", "125 000", "125000"),
	Entry("comma decimal", "1 250,50", "1250.5"),
	Entry("dot thousands comma decimal", "1.234.567,89", "1234567.89"),
	Entry("comma thousands", "1,234", "1234"),
	Entry("dot decimal", "99.9", "99.9"),
)
