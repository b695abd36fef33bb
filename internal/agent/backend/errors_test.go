package backend

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/aws/smithy-go"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/api/googleapi"

	"github.com/feichai0017/document-recognizer/internal/models"
	"github.com/feichai0017/document-recognizer/pkg/logger"
)

func nopLogger() logger.Logger { return logger.NewNop() }

type timeoutErr struct{ timeout bool }

func (e timeoutErr) Error() string   { return "dial tcp: i/o" }
func (e timeoutErr) Timeout() bool   { return e.timeout }
func (e timeoutErr) Temporary() bool { return false }

var _ net.Error = timeoutErr{}

var _ = Describe("Classify", func() {
	DescribeTable("maps errors onto categories",
		func(err error, expected models.FailureCategory) {
			Expect(Classify(err)).To(Equal(expected))
		},
		Entry("deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), models.FailureTimeout),
		Entry("bad image", fmt.Errorf("%w: broken", models.ErrInvalidImage), models.FailureDecode),
		Entry("bad model reply", fmt.Errorf("%w: x", errMalformedResponse), models.FailureDecode),
		Entry("textract throttling", &smithy.GenericAPIError{Code: "ThrottlingException"}, models.FailureRateLimit),
		Entry("textract limit", &smithy.GenericAPIError{Code: "LimitExceededException"}, models.FailureQuota),
		Entry("textract bad document", &smithy.GenericAPIError{Code: "BadDocumentException"}, models.FailureDecode),
		Entry("textract access denied", &smithy.GenericAPIError{Code: "AccessDeniedException"}, models.FailureUnavailable),
		Entry("openai quota", &openai.APIError{HTTPStatusCode: 429, Type: "insufficient_quota"}, models.FailureQuota),
		Entry("openai rate limit", &openai.APIError{HTTPStatusCode: 429, Type: "requests"}, models.FailureRateLimit),
		Entry("openai auth", &openai.APIError{HTTPStatusCode: 401}, models.FailureUnavailable),
		Entry("openai raw 503", &openai.RequestError{HTTPStatusCode: 503, Err: errors.New("x")}, models.FailureUnavailable),
		Entry("gemini quota", &googleapi.Error{Code: 429, Message: "Quota exceeded"}, models.FailureQuota),
		Entry("gemini rate", &googleapi.Error{Code: 429, Message: "slow down"}, models.FailureRateLimit),
		Entry("gemini bad request", &googleapi.Error{Code: 400}, models.FailureDecode),
		Entry("network timeout", timeoutErr{timeout: true}, models.FailureTimeout),
		Entry("network", timeoutErr{}, models.FailureNetwork),
		Entry("anything else", errors.New("boom"), models.FailureUnknown),
	)
})

var _ = Describe("NewError", func() {
	It("wraps into a BackendError matching ErrBackendFailure", func() {
		b := NewTesseract(TesseractConfig{}, nil, nopLogger())
		err := NewError(b, context.DeadlineExceeded)

		var be *models.BackendError
		Expect(errors.As(err, &be)).To(BeTrue())
		Expect(be.Backend).To(Equal(models.BackendLocal))
		Expect(be.Source).To(Equal(models.SourceTesseract))
		Expect(be.Category).To(Equal(models.FailureTimeout))
		Expect(errors.Is(err, models.ErrBackendFailure)).To(BeTrue())
		Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
	})

	It("does not wrap twice", func() {
		b := NewTesseract(TesseractConfig{}, nil, nopLogger())
		once := NewError(b, errors.New("x"))
		Expect(NewError(b, once)).To(BeIdenticalTo(once))
		Expect(NewError(b, nil)).To(BeNil())
	})
})
