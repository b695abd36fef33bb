package document

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/feichai0017/document-recognizer/internal/models"
	"github.com/feichai0017/document-recognizer/internal/service/batch"
	"github.com/feichai0017/document-recognizer/pkg/logger"
	"github.com/feichai0017/document-recognizer/pkg/queue"
	"github.com/feichai0017/document-recognizer/pkg/storage"
)

var _ = Describe("DocumentService", func() {
	var (
		ctx        context.Context
		q          *fakeQueue
		store      *storage.Memory
		recognizer *fakeRecognizer
		ledger     *fakeLedger
		opts       []Option
		svc        *DocumentService
	)

	BeforeEach(func() {
		ctx = context.Background()
		q = newFakeQueue()
		store = storage.NewMemory()
		recognizer = &fakeRecognizer{}
		ledger = nil
		opts = nil
	})

	JustBeforeEach(func() {
		if ledger != nil {
			opts = append(opts, WithLedger(ledger))
		}
		runner := batch.NewRunner(recognizer, nil, logger.NewNop())
		svc = NewService(recognizer, runner, q, store, logger.NewNop(), nil, opts...)
	})

	submit := func(name string, data []byte, o TaskOptions) *models.ProcessingTask {
		task, err := svc.ProcessFile(ctx, fileHeaders(upload{name, data})[0], o)
		Expect(err).NotTo(HaveOccurred())
		return task
	}

	Describe("single documents", func() {
		It("stores the upload and enqueues a recognize task", func() {
			task := submit("receipt.png", pngBytes(100, 100), TaskOptions{})
			Expect(task.Status).To(Equal(models.StatusPending))
			Expect(task.Type).To(Equal(queue.TaskTypeRecognize))
			Expect(task.Metadata).To(HaveKeyWithValue("filename", "receipt.png"))

			var payload RecognizePayload
			Expect(q.last().Decode(&payload)).To(Succeed())
			Expect(payload.File.Key).To(Equal(storage.UploadKey(task.ID, "receipt.png")))
			Expect(store.ContentType(payload.File.Key)).To(Equal("image/png"))

			status, err := svc.GetProcessingStatus(ctx, task.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(status.Status).To(Equal(models.StatusPending))
			Expect(status.Total).To(Equal(1))
		})

		It("rejects uploads whose content does not match", func() {
			_, err := svc.ProcessFile(ctx, fileHeaders(upload{"receipt.png", []byte("not an image")})[0], TaskOptions{})
			Expect(err).To(MatchError(ErrInvalidUpload))
			Expect(q.tasks).To(BeEmpty())
			Expect(store.Len()).To(Equal(0))
		})

		It("recognizes the stored file and serves the result", func() {
			validate := false
			task := submit("receipt.png", pngBytes(100, 100), TaskOptions{Provider: models.BackendCloud, Validate: &validate})

			_, err := svc.GetProcessedDocument(ctx, task.ID)
			Expect(err).To(MatchError(ErrTaskNotReady))

			Expect(svc.HandleDocument(ctx, q.last())).To(Succeed())
			Expect(q.history[task.ID]).To(Equal([]string{queue.StatusPending, queue.StatusRunning, queue.StatusCompleted}))

			ropts := recognizer.lastOptions()
			Expect(ropts.ForceProvider).To(Equal(models.BackendCloud))
			Expect(ropts.Validate).To(BeFalse())
			Expect(ropts.MinQuality).To(Equal(70.0))

			doc, err := svc.GetProcessedDocument(ctx, task.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(doc.TaskID).To(Equal(task.ID))
			Expect(doc.Metadata.FileName).To(Equal("receipt.png"))
			Expect(doc.Metadata.Source).To(Equal(models.SourceTesseract))
			Expect(*doc.Result.Normalized.Amount).To(Equal(1250.5))
		})

		It("marks the task failed when recognition fails", func() {
			task := submit("bad-scan.png", pngBytes(100, 100), TaskOptions{})

			err := svc.HandleDocument(ctx, q.last())
			Expect(err).To(MatchError(models.ErrNoStrategyAvailable))

			status := q.status(task.ID)
			Expect(status.Status).To(Equal(queue.StatusFailed))
			Expect(status.Error).To(ContainSubstring("no recognition strategy available"))

			_, err = svc.GetProcessedDocument(ctx, task.ID)
			Expect(err).To(MatchError(models.ErrNotFound))
		})

		It("fails when the upload disappeared", func() {
			task := submit("receipt.png", pngBytes(100, 100), TaskOptions{})
			Expect(store.Delete(ctx, storage.UploadKey(task.ID, "receipt.png"))).To(Succeed())

			Expect(svc.HandleDocument(ctx, q.last())).To(MatchError(models.ErrNotFound))
			Expect(q.status(task.ID).Status).To(Equal(queue.StatusFailed))
		})
	})

	Describe("batches", func() {
		var task *models.ProcessingTask

		JustBeforeEach(func() {
			var err error
			task, err = svc.ProcessBatch(ctx, fileHeaders(
				upload{"a.png", pngBytes(100, 100)},
				upload{"bad.png", pngBytes(100, 100)},
				upload{"c.png", pngBytes(100, 100)},
			), TaskOptions{})
			Expect(err).NotTo(HaveOccurred())
		})

		It("enqueues one task over every file", func() {
			Expect(task.Type).To(Equal(queue.TaskTypeBatchRecognize))
			Expect(task.Total).To(Equal(3))

			var payload BatchPayload
			Expect(q.last().Decode(&payload)).To(Succeed())
			Expect(payload.Files).To(HaveLen(3))
			Expect(payload.Files[1].Name).To(Equal("bad.png"))
		})

		It("runs the batch and stores results and reports", func() {
			Expect(svc.HandleBatch(ctx, q.last())).To(Succeed())

			status := q.status(task.ID)
			Expect(status.Status).To(Equal(queue.StatusCompleted))
			Expect(status.Completed).To(Equal(3))
			Expect(status.Failed).To(Equal(1))
			Expect(q.history[task.ID]).To(ContainElement(queue.StatusRunning))

			doc, err := svc.GetProcessedDocument(ctx, task.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(doc.Batch.Summary.Successful).To(Equal(2))
			Expect(doc.Batch.Results[1].File).To(Equal("bad.png"))
			Expect(doc.Batch.Results[1].Success).To(BeFalse())

			csv, contentType, err := svc.GetReport(ctx, task.ID, "csv")
			Expect(err).NotTo(HaveOccurred())
			Expect(contentType).To(Equal("text/csv"))
			Expect(string(csv)).To(HavePrefix("file,status,backend"))

			html, contentType, err := svc.GetReport(ctx, task.ID, "html")
			Expect(err).NotTo(HaveOccurred())
			Expect(contentType).To(HavePrefix("text/html"))
			Expect(string(html)).To(ContainSubstring("c.png"))

			_, _, err = svc.GetReport(ctx, task.ID, "pdf")
			Expect(err).To(MatchError(ErrUnsupportedFormat))
		})

		It("reports unloadable files in input order", func() {
			Expect(store.Delete(ctx, storage.UploadKey(task.ID, "a.png"))).To(Succeed())
			Expect(svc.HandleBatch(ctx, q.last())).To(Succeed())

			doc, err := svc.GetProcessedDocument(ctx, task.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(doc.Batch.Results[0].File).To(Equal("a.png"))
			Expect(doc.Batch.Results[0].Error).To(ContainSubstring("not found"))
			Expect(doc.Batch.Results[2].Success).To(BeTrue())
			Expect(doc.Batch.Summary.Failed).To(Equal(2))
		})
	})

	It("rejects an empty batch", func() {
		_, err := svc.ProcessBatch(ctx, nil, TaskOptions{})
		Expect(err).To(MatchError(ErrInvalidUpload))
	})

	It("forwards cancellation to the queue", func() {
		Expect(svc.CancelTask(ctx, "t-9")).To(Succeed())
		Expect(q.cancelled).To(ConsistOf("t-9"))
	})

	It("cleans up objects past the retention period", func() {
		submit("receipt.png", pngBytes(100, 100), TaskOptions{})
		Expect(store.Len()).To(Equal(1))

		svc.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
		Expect(svc.CleanupTasks(ctx)).To(Succeed())
		Expect(store.Len()).To(Equal(0))
	})

	Describe("usage", func() {
		When("the process keeps the ledger", func() {
			BeforeEach(func() {
				ledger = &fakeLedger{}
			})

			It("records snapshots and returns the history", func() {
				submit("receipt.png", pngBytes(100, 100), TaskOptions{})
				Expect(svc.HandleDocument(ctx, q.last())).To(Succeed())
				Expect(svc.RecordUsage(ctx)).To(Succeed())

				report, err := svc.Usage(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(report.Current.TotalScans).To(Equal(int64(1)))
				Expect(report.History).To(HaveLen(1))
				Expect(ledger.snaps).To(HaveLen(1))
			})

			It("surfaces ledger failures", func() {
				ledger.err = errLedgerFull
				Expect(svc.RecordUsage(ctx)).To(MatchError(errLedgerFull))
			})
		})

		It("serves the report published by the worker", func() {
			worker := NewService(recognizer, nil, q, store, logger.NewNop(), nil, WithLedger(&fakeLedger{}))
			recognizer.scans = 4
			Expect(worker.RecordUsage(ctx)).To(Succeed())

			report, err := svc.Usage(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Current.TotalScans).To(Equal(int64(4)))
			Expect(report.History).To(HaveLen(1))
		})

		It("falls back to local counters before anything was published", func() {
			report, err := svc.Usage(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Current.TotalScans).To(BeZero())
			Expect(report.History).To(BeEmpty())
		})
	})
})
