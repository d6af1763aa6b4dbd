package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a classified processing error.
type ErrorCode string

const (
	ErrTimeout            ErrorCode = "timeout"
	ErrRateLimit          ErrorCode = "rate_limit"
	ErrModelUnavailable   ErrorCode = "model_unavailable"
	ErrContextCancelled   ErrorCode = "context_cancelled"
	ErrParseError         ErrorCode = "parse_error"
	ErrEmptyDocument      ErrorCode = "empty_document"
	ErrStoreError         ErrorCode = "store_error"
	ErrDuplicateDocument  ErrorCode = "duplicate_document"
	ErrLinkAmbiguous      ErrorCode = "link_ambiguous"
	ErrClassifyFailed     ErrorCode = "classify_failed"
	ErrProcessingFailed   ErrorCode = "processing_failed"
)

// ProcessingError is a structured error for pipeline failures.
type ProcessingError struct {
	Code     ErrorCode
	Stage    string
	Message  string
	Duration time.Duration
	Timeout  time.Duration
	Cause    error
}

func (e *ProcessingError) Error() string {
	if e.Timeout > 0 && e.Duration > 0 {
		return fmt.Sprintf("%s: %s timed out after %s (limit: %s)", e.Code, e.Stage, e.Duration.Truncate(time.Second), e.Timeout.Truncate(time.Second))
	}
	if e.Stage != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// ClassifyError inspects an error and returns a *ProcessingError with the
// appropriate code. If the error doesn't match any known pattern, it returns
// a ProcessingError with ErrProcessingFailed.
func ClassifyError(err error, stage string) *ProcessingError {
	if err == nil {
		return nil
	}

	pe := &ProcessingError{
		Stage: stage,
		Cause: err,
	}

	for _, m := range sentinelCodes {
		if errors.Is(err, m.target) {
			pe.Code = m.code
			pe.Message = m.message
			if pe.Message == "" {
				pe.Message = err.Error()
			}
			return pe
		}
	}

	// Errors from external clients carry no sentinels, so fall back to
	// message patterns.
	msg := err.Error()
	lower := strings.ToLower(msg)
	pe.Message = msg

	for _, m := range patternCodes {
		for _, needle := range m.needles {
			if strings.Contains(lower, needle) {
				pe.Code = m.code
				return pe
			}
		}
	}

	pe.Code = ErrProcessingFailed
	return pe
}

var sentinelCodes = []struct {
	target  error
	code    ErrorCode
	message string
}{
	{context.DeadlineExceeded, ErrTimeout, "operation timed out"},
	{context.Canceled, ErrContextCancelled, "operation cancelled"},
	{ErrAmbiguousLink, ErrLinkAmbiguous, ""},
	{ErrClassificationFailed, ErrClassifyFailed, ""},
	{ErrStoreUnavailable, ErrStoreError, ""},
	{ErrConflict, ErrDuplicateDocument, ""},
}

var patternCodes = []struct {
	code    ErrorCode
	needles []string
}{
	{ErrRateLimit, []string{"rate limit", "429", "too many requests", "quota exceeded"}},
	{ErrModelUnavailable, []string{"connection refused", "unavailable", "503", "no such host", "circuit breaker"}},
	{ErrParseError, []string{"parse", "unmarshal", "invalid json"}},
	{ErrEmptyDocument, []string{"empty document", "no content"}},
}

// IsTimeout returns true if the error is a timeout error.
func IsTimeout(err error) bool {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Code == ErrTimeout
	}
	return false
}

// IsErrorRetryable returns true if the error is likely transient and worth
// retrying, based on the ErrorCodeRegistry.
func IsErrorRetryable(err error) bool {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		if info, ok := ErrorCodeRegistry[pe.Code]; ok {
			return info.Retryable
		}
		return false
	}
	return false
}
