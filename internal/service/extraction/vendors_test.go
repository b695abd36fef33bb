package extraction_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/feichai0017/document-recognizer/internal/service/extraction"
)

var _ = Describe("VendorTable", func() {
	var table *extraction.VendorTable

	BeforeEach(func() {
		var err error
		table, err = extraction.DefaultVendorTable()
		Expect(err).NotTo(HaveOccurred())
		Expect(table.Len()).To(BeNumerically(">", 0))
	})

	DescribeTable("Match",
		func(name, method, canonical string, confidence float64) {
			m := table.Match(name)
			Expect(m.Method).To(Equal(method))
			Expect(m.Canonical).To(Equal(canonical))
			Expect(m.Confidence).To(Equal(confidence))
			Expect(m.Found).To(Equal(method != extraction.MatchNotFound))
		},
		Entry("exact ignoring case and suffix", "ACME SUPPLIES LTD.", extraction.MatchExact, "ACME Supplies", 1.0),
		Entry("accented name", "Orange Cote d'Ivoire", extraction.MatchExact, "Orange Côte d'Ivoire", 1.0),
		Entry("alias", "DHL", extraction.MatchAlias, "DHL Express", 0.9),
		Entry("substring", "Carrefour Market Plateau", extraction.MatchSubstring, "Carrefour", 0.7),
		Entry("unknown", "Chez Fatou", extraction.MatchNotFound, "", 0.0),
		Entry("empty", "   ", extraction.MatchNotFound, "", 0.0),
	)

	It("loads an override file", func() {
		path := filepath.Join(GinkgoT().TempDir(), "vendors.yaml")
		Expect(os.WriteFile(path, []byte("vendors:\n  - name: Local Bakery\n    aliases: [bakery]\n"), 0o644)).To(Succeed())

		custom, err := extraction.LoadVendorTable(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(custom.Len()).To(Equal(1))
		Expect(custom.Match("bakery").Canonical).To(Equal("Local Bakery"))
	})

	It("rejects malformed files", func() {
		_, err := extraction.ParseVendorTable([]byte("vendors: [unclosed"))
		Expect(err).To(HaveOccurred())
	})
})
