package usecase

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"searchchat/internal/domain"
)

func TestErrorClassifier(t *testing.T) {
	c := NewErrorClassifier()

	tests := []struct {
		name     string
		err      error
		category ErrorCategory
		sentinel error
	}{
		{"nil", nil, ErrorCategoryUnknown, nil},
		{"rate limit", fmt.Errorf("groq: %w", domain.ErrRateLimit), ErrorCategoryRetryable, domain.ErrRateLimit},
		{"auth", fmt.Errorf("groq: %w", domain.ErrAuthInvalid), ErrorCategoryPermanent, domain.ErrAuthInvalid},
		{"overflow", domain.ErrContextOverflow, ErrorCategoryPermanent, domain.ErrContextOverflow},
		{"tool failure wins over provider", fmt.Errorf("%w: %w", domain.ErrToolFailure, domain.ErrProviderError), ErrorCategoryPermanent, domain.ErrToolFailure},
		{"provider 5xx", fmt.Errorf("status 502: %w", domain.ErrProviderError), ErrorCategoryRetryable, domain.ErrProviderError},
		{"deadline", fmt.Errorf("turn: %w", context.DeadlineExceeded), ErrorCategoryRetryable, domain.ErrTimeout},
		{"net error", &net.OpError{Op: "dial", Err: errors.New("refused")}, ErrorCategoryRetryable, nil},
		{"connection reset text", errors.New("read: connection reset by peer"), ErrorCategoryRetryable, nil},
		{"other", errors.New("weird"), ErrorCategoryUnknown, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.err)
			if got.Category != tt.category {
				t.Errorf("Category = %v, want %v", got.Category, tt.category)
			}
			if got.Sentinel != tt.sentinel {
				t.Errorf("Sentinel = %v, want %v", got.Sentinel, tt.sentinel)
			}
		})
	}
}

func TestErrorCategoryString(t *testing.T) {
	for cat, want := range map[ErrorCategory]string{
		ErrorCategoryUnknown:   "unknown",
		ErrorCategoryRetryable: "retryable",
		ErrorCategoryPermanent: "permanent",
	} {
		if got := cat.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", cat, got, want)
		}
	}
}
