package models

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidImage aborts the pipeline of a single file.
	ErrInvalidImage = errors.New("invalid image")
	// ErrBackendFailure is matched by every *BackendError.
	ErrBackendFailure = errors.New("backend failure")
	// ErrNoStrategyAvailable means no tier produced any result.
	ErrNoStrategyAvailable = errors.New("no recognition strategy available")
	// ErrNotFound is returned by stores for a missing object or task.
	ErrNotFound = errors.New("not found")
)

type FailureCategory string

const (
	FailureNetwork     FailureCategory = "network"
	FailureQuota       FailureCategory = "quota"
	FailureRateLimit   FailureCategory = "rate_limit"
	FailureTimeout     FailureCategory = "timeout"
	FailureDecode      FailureCategory = "decode"
	FailureUnavailable FailureCategory = "unavailable"
	FailureUnknown     FailureCategory = "unknown"
)

// BackendError describes one failed backend invocation.
type BackendError struct {
	Backend  BackendKind
	Source   Source
	Category FailureCategory
	Err      error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s backend (%s) failed [%s]: %v", e.Backend, e.Source, e.Category, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

func (e *BackendError) Is(target error) bool {
	return target == ErrBackendFailure
}
