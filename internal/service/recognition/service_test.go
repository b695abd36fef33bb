package recognition_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/feichai0017/document-recognizer/internal/agent/backend"
	"github.com/feichai0017/document-recognizer/internal/agent/document"
	"github.com/feichai0017/document-recognizer/internal/agent/document/pdf"
	"github.com/feichai0017/document-recognizer/internal/agent/document/pdf/pdftest"
	"github.com/feichai0017/document-recognizer/internal/models"
	"github.com/feichai0017/document-recognizer/internal/service/extraction"
	"github.com/feichai0017/document-recognizer/internal/service/recognition"
	"github.com/feichai0017/document-recognizer/internal/service/validation"
	"github.com/feichai0017/document-recognizer/pkg/logger"
)

const receiptText = `ACME Supplies
Invoice No: INV-2025-042
Date: 2025-05-20

Widget A  2  150.00  300.00
Widget B 3 x 50.00 = 150.00

TOTAL: 450.00 EUR`

var _ = Describe("Service", func() {
	var (
		local, cloud *fakeBackend
		service      *recognition.Service
		opts         recognition.Options
		ctx          context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		local = localBackend()
		local.text = receiptText
		local.confidence = 82
		cloud = cloudBackend()
		cloud.text = receiptText

		vendors, err := extraction.DefaultVendorTable()
		Expect(err).NotTo(HaveOccurred())

		orch := recognition.NewOrchestrator(&backend.Set{Local: local, Cloud: cloud},
			recognition.OrchestratorConfig{Provider: recognition.ProviderAuto, Fallback: models.BackendLocal}, logger.NewNop())
		profiler := document.NewProfiler(pdf.NewProcessor(logger.NewNop()), logger.NewNop())
		clock := validation.WithClock(func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) })
		service = recognition.NewService(orch, profiler, vendors, validation.NewEngine(vendors, clock), logger.NewNop())

		opts = recognition.Options{MaxCost: 10, MinQuality: 70, Validate: true}
	})

	It("reads a native pdf for free", func() {
		page := []string{
			"Boutique Centrale SARL, Avenue Chardy, Plateau, Abidjan",
			"",
			"Invoice INV-7781 for office furniture delivered and installed",
			"",
			"TOTAL: 125 000",
		}
		doc := models.NewDocument("native.pdf", pdftest.Build(page))

		result, report, err := service.Recognize(ctx, doc, opts)
		Expect(err).NotTo(HaveOccurred())
		Expect(report).NotTo(BeNil())
		Expect(result.Tier).To(Equal(models.TierFree))
		Expect(result.Recognition.Source).To(Equal(models.SourceNativeText))
		Expect(result.Recognition.CostUnits).To(BeZero())
		Expect(*result.Extracted.Total).To(Equal(125000.0))
		Expect(*result.Normalized.Amount).To(Equal(125000.0))
		Expect(*result.Normalized.InvoiceNumber).To(Equal("INV-7781"))
		Expect(local.calls + cloud.calls).To(BeZero())
	})

	It("parses, normalizes and validates an image", func() {
		doc := models.NewDocument("receipt.png", []byte("png"))

		result, report, err := service.Recognize(ctx, doc, opts)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Recognition.Source).To(Equal(models.SourceTesseract))
		Expect(*result.Normalized.Currency).To(Equal("EUR"))
		Expect(*result.Normalized.Vendor).To(Equal("ACME Supplies"))
		Expect(report.Errors).To(BeEmpty())
		Expect(report.Warnings).To(BeEmpty())
		// 82 plus the vendor and complete-items bonuses
		Expect(result.Confidence).To(Equal(92.0))
		Expect(result.ValidationStatus).To(Equal(models.ValidationValid))
	})

	It("skips validation when asked", func() {
		opts.Validate = false
		local.confidence = 65
		opts.MaxCost = 0

		result, report, err := service.Recognize(ctx, models.NewDocument("receipt.png", []byte("png")), opts)
		Expect(err).NotTo(HaveOccurred())
		Expect(report).To(BeNil())
		Expect(result.Confidence).To(Equal(65.0))
		Expect(result.ValidationStatus).To(Equal(models.ValidationWarning))
		Expect(result.Degraded).To(BeTrue())
		Expect(result.Suggestions).To(ContainElement(result.Recommendation))
	})

	It("honours a forced provider", func() {
		opts.ForceProvider = models.BackendCloud

		result, _, err := service.Recognize(ctx, models.NewDocument("receipt.png", []byte("png")), opts)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Tier).To(Equal(models.TierEconomic))
		Expect(cloud.calls).To(Equal(1))
		Expect(local.calls).To(BeZero())
		Expect(service.Usage().TotalCost).To(Equal(1.5))
	})

	It("falls back to the local engine when the cloud fails", func() {
		cloud.err = errors.New("network down")
		doc := models.NewDocument("big.png", make([]byte, 600<<10))

		result, _, err := service.Recognize(ctx, doc, opts)
		Expect(err).NotTo(HaveOccurred())
		Expect(cloud.calls).To(Equal(1))
		Expect(local.calls).To(Equal(1))
		Expect(result.Recognition.Source).To(Equal(models.SourceTesseract))
		Expect(result.Tier).To(Equal(models.TierFree))

		usage := service.Usage()
		Expect(usage.TotalScans).To(Equal(int64(2)))
		Expect(usage.FailedScans).To(Equal(int64(1)))
	})

	It("reports the spend of every tier tried", func() {
		local.confidence = 40
		cloud.confidence = 50
		opts.MaxCost = 1.5

		result, _, err := service.Recognize(ctx, models.NewDocument("receipt.png", []byte("png")), opts)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Degraded).To(BeTrue())
		Expect(result.Recognition.Source).To(Equal(models.SourceTesseract))
		Expect(result.CostUnits).To(Equal(1.5))
		Expect(result.CostUnits).To(Equal(service.Usage().TotalCost))
	})

	It("fails when nothing can recognize the document", func() {
		local.err = errors.New("tesseract missing")
		opts.MaxCost = 0

		_, _, err := service.Recognize(ctx, models.NewDocument("receipt.png", []byte("png")), opts)
		Expect(errors.Is(err, models.ErrNoStrategyAvailable)).To(BeTrue())
	})
})
