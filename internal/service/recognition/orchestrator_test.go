package recognition_test

import (
	"context"
	"errors"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/feichai0017/document-recognizer/internal/agent/backend"
	"github.com/feichai0017/document-recognizer/internal/models"
	"github.com/feichai0017/document-recognizer/internal/service/recognition"
	"github.com/feichai0017/document-recognizer/pkg/logger"
)

var _ = Describe("Orchestrator", func() {
	var (
		local, cloud *fakeBackend
		set          *backend.Set
		config       recognition.OrchestratorConfig
		orch         *recognition.Orchestrator
		ctx          context.Context
	)

	BeforeEach(func() {
		local = localBackend()
		cloud = cloudBackend()
		set = &backend.Set{Local: local, Cloud: cloud}
		config = recognition.OrchestratorConfig{Provider: recognition.ProviderAuto, Fallback: models.BackendLocal}
		ctx = context.Background()
	})

	JustBeforeEach(func() {
		orch = recognition.NewOrchestrator(set, config, logger.NewNop())
	})

	Describe("auto routing", func() {
		It("sends pdfs and large files to the cloud", func() {
			Expect(orch.Route(models.NewDocument("a.pdf", []byte("%PDF")))).To(Equal(models.BackendCloud))
			Expect(orch.Route(models.NewDocument("a.jpg", make([]byte, 3<<20)))).To(Equal(models.BackendCloud))
			Expect(orch.Route(models.NewDocument("a.jpg", make([]byte, 1024)))).To(Equal(models.BackendLocal))
		})

		When("no cloud credential is configured", func() {
			BeforeEach(func() {
				cloud.available = false
			})

			It("stays local", func() {
				Expect(orch.Route(models.NewDocument("a.pdf", []byte("%PDF")))).To(Equal(models.BackendLocal))
			})
		})
	})

	When("the primary backend fails", func() {
		BeforeEach(func() {
			cloud.err = errors.New("connection reset")
		})

		It("retries once on the fallback", func() {
			result, err := orch.ProcessWith(ctx, models.NewDocument("a.pdf", nil), models.BackendCloud)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Source).To(Equal(models.SourceTesseract))
			Expect(cloud.calls).To(Equal(1))
			Expect(local.calls).To(Equal(1))

			snap := orch.Stats().Snapshot()
			Expect(snap.TotalScans).To(Equal(int64(2)))
			Expect(snap.FailedScans).To(Equal(int64(1)))
			Expect(snap.SuccessfulScans).To(Equal(int64(1)))
			Expect(snap.SuccessRate).To(Equal(0.5))
		})

		When("the fallback fails too", func() {
			BeforeEach(func() {
				local.err = errors.New("tesseract crashed")
			})

			It("returns a backend error", func() {
				_, err := orch.ProcessWith(ctx, models.NewDocument("a.pdf", nil), models.BackendCloud)
				Expect(errors.Is(err, models.ErrBackendFailure)).To(BeTrue())

				var be *models.BackendError
				Expect(errors.As(err, &be)).To(BeTrue())
				Expect(be.Source).To(Equal(models.SourceTesseract))
				Expect(local.calls).To(Equal(1))
			})
		})

		When("no fallback is configured", func() {
			BeforeEach(func() {
				config.Fallback = ""
			})

			It("does not retry", func() {
				_, err := orch.ProcessWith(ctx, models.NewDocument("a.pdf", nil), models.BackendCloud)
				Expect(err).To(HaveOccurred())
				Expect(local.calls).To(BeZero())
			})
		})
	})

	When("the requested backend is not configured", func() {
		BeforeEach(func() {
			set.Cloud = nil
		})

		It("counts a failed attempt and falls back", func() {
			result, err := orch.ProcessWith(ctx, models.NewDocument("a.png", nil), models.BackendCloud)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Backend).To(Equal(models.BackendLocal))
			Expect(orch.Stats().Snapshot().FailedScans).To(Equal(int64(1)))
		})

		It("reports an unavailable failure from Attempt", func() {
			_, err := orch.Attempt(ctx, models.NewDocument("a.png", nil), models.BackendCloud)
			var be *models.BackendError
			Expect(errors.As(err, &be)).To(BeTrue())
			Expect(be.Category).To(Equal(models.FailureUnavailable))
		})
	})

	It("rejects unknown kinds", func() {
		_, err := orch.Attempt(ctx, models.NewDocument("a.png", nil), "quantum")
		Expect(err).To(MatchError(ContainSubstring("unknown backend kind")))
	})
})

var _ = Describe("UsageStats", func() {
	It("counts concurrent attempts exactly", func() {
		cloud := cloudBackend()
		cloud.cost = 0.1
		orch := recognition.NewOrchestrator(&backend.Set{Local: localBackend(), Cloud: cloud},
			recognition.OrchestratorConfig{}, logger.NewNop())

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = orch.AttemptWith(context.Background(), models.NewDocument("a.png", nil), cloud)
			}()
		}
		wg.Wait()

		snap := orch.Stats().Snapshot()
		Expect(snap.TotalScans).To(Equal(int64(50)))
		Expect(snap.ByBackend[models.BackendCloud]).To(Equal(int64(50)))
		Expect(snap.BySource[models.SourceTextract]).To(Equal(int64(50)))
		Expect(snap.TotalCost).To(Equal(5.0))

		orch.Stats().Reset()
		snap = orch.Stats().Snapshot()
		Expect(snap.TotalScans).To(BeZero())
		Expect(snap.TotalCost).To(BeZero())
		Expect(snap.SuccessRate).To(BeZero())
	})
})

var _ = DescribeTable("ParseProvider",
	func(in string, want recognition.Provider, ok bool) {
		got, err := recognition.ParseProvider(in)
		if !ok {
			Expect(err).To(HaveOccurred())
			return
		}
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(want))
	},
	Entry("local", "local", recognition.ProviderLocal, true),
	Entry("upper case cloud", "CLOUD", recognition.ProviderCloud, true),
	Entry("empty means auto", "", recognition.ProviderAuto, true),
	Entry("unknown", "quantum", recognition.Provider(""), false),
)
