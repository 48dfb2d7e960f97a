package usecase

import (
	"context"
	"errors"
	"net"
	"strings"

	"searchchat/internal/domain"
)

// ErrorCategory indicates whether an error is transient or permanent.
type ErrorCategory int

const (
	ErrorCategoryUnknown   ErrorCategory = iota
	ErrorCategoryRetryable               // rate limit, 5xx, network, timeouts
	ErrorCategoryPermanent               // auth, bad input, tool failures
)

func (c ErrorCategory) String() string {
	switch c {
	case ErrorCategoryRetryable:
		return "retryable"
	case ErrorCategoryPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// ClassifiedError holds the result of error classification.
type ClassifiedError struct {
	Original error
	Category ErrorCategory
	Sentinel error // matched domain sentinel, or nil
}

// ErrorClassifier sorts turn failures for logs. Nothing retries on its
// verdict: a rate-limited turn is reported to the user as is.
type ErrorClassifier struct{}

// NewErrorClassifier creates a new classifier.
func NewErrorClassifier() *ErrorClassifier {
	return &ErrorClassifier{}
}

var sentinelCategories = []struct {
	err      error
	category ErrorCategory
}{
	{domain.ErrRateLimit, ErrorCategoryRetryable},
	{domain.ErrContextOverflow, ErrorCategoryPermanent},
	{domain.ErrAuthInvalid, ErrorCategoryPermanent},
	{domain.ErrTimeout, ErrorCategoryRetryable},
	{domain.ErrToolFailure, ErrorCategoryPermanent},
	{domain.ErrToolNotFound, ErrorCategoryPermanent},
	{domain.ErrInvalidInput, ErrorCategoryPermanent},
	{domain.ErrMaxIterations, ErrorCategoryPermanent},
	{domain.ErrProviderError, ErrorCategoryRetryable},
}

// Classify inspects err and returns its category and matched sentinel.
func (c *ErrorClassifier) Classify(err error) ClassifiedError {
	if err == nil {
		return ClassifiedError{}
	}

	for _, s := range sentinelCategories {
		if errors.Is(err, s.err) {
			return ClassifiedError{Original: err, Category: s.category, Sentinel: s.err}
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassifiedError{Original: err, Category: ErrorCategoryRetryable, Sentinel: domain.ErrTimeout}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassifiedError{Original: err, Category: ErrorCategoryRetryable}
	}

	lower := strings.ToLower(err.Error())
	for _, p := range []string{"connection refused", "no such host", "connection reset", "eof"} {
		if strings.Contains(lower, p) {
			return ClassifiedError{Original: err, Category: ErrorCategoryRetryable}
		}
	}
	return ClassifiedError{Original: err, Category: ErrorCategoryUnknown}
}
