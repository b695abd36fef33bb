package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/aws/smithy-go"
	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/api/googleapi"

	"github.com/feichai0017/document-recognizer/internal/models"
)

// errMalformedResponse marks a model reply that could not be decoded.
var errMalformedResponse = errors.New("malformed model response")

// NewError wraps err as a classified *models.BackendError for b.
func NewError(b Backend, err error) error {
	if err == nil {
		return nil
	}
	var be *models.BackendError
	if errors.As(err, &be) {
		return err
	}
	return &models.BackendError{
		Backend:  b.Kind(),
		Source:   b.Source(),
		Category: Classify(err),
		Err:      err,
	}
}

// Classify maps an engine or transport error onto a failure category.
func Classify(err error) models.FailureCategory {
	if err == nil {
		return models.FailureUnknown
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.FailureTimeout
	case errors.Is(err, models.ErrInvalidImage), errors.Is(err, errMalformedResponse):
		return models.FailureDecode
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return classifyAWSCode(apiErr.ErrorCode())
	}

	var oaiErr *openai.APIError
	if errors.As(err, &oaiErr) {
		if oaiErr.HTTPStatusCode == 429 && isQuotaCode(oaiErr.Type, fmt.Sprint(oaiErr.Code)) {
			return models.FailureQuota
		}
		return classifyStatus(oaiErr.HTTPStatusCode)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return classifyStatus(reqErr.HTTPStatusCode)
	}

	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		if gErr.Code == 429 && strings.Contains(strings.ToLower(gErr.Message), "quota") {
			return models.FailureQuota
		}
		return classifyStatus(gErr.Code)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return models.FailureTimeout
		}
		return models.FailureNetwork
	}

	return models.FailureUnknown
}

func classifyAWSCode(code string) models.FailureCategory {
	switch code {
	case "ThrottlingException", "ProvisionedThroughputExceededException":
		return models.FailureRateLimit
	case "LimitExceededException":
		return models.FailureQuota
	case "BadDocumentException", "UnsupportedDocumentException", "DocumentTooLargeException",
		"InvalidParameterException":
		return models.FailureDecode
	case "AccessDeniedException", "UnrecognizedClientException", "InvalidSignatureException",
		"ExpiredTokenException", "InternalServerError", "ServiceUnavailableException":
		return models.FailureUnavailable
	case "RequestTimeout", "RequestTimeoutException":
		return models.FailureTimeout
	}
	return models.FailureUnknown
}

func classifyStatus(status int) models.FailureCategory {
	switch {
	case status == 429:
		return models.FailureRateLimit
	case status == 408 || status == 504:
		return models.FailureTimeout
	case status == 400 || status == 413 || status == 415 || status == 422:
		return models.FailureDecode
	case status == 401 || status == 403 || status == 404:
		return models.FailureUnavailable
	case status >= 500:
		return models.FailureUnavailable
	}
	return models.FailureUnknown
}

func isQuotaCode(values ...string) bool {
	for _, v := range values {
		if strings.Contains(v, "insufficient_quota") {
			return true
		}
	}
	return false
}
