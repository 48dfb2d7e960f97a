package llm

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"searchchat/internal/domain"
)

// mapAPIError maps an HTTP status reported by the client library to a
// domain sentinel. The original error stays in the chain.
func mapAPIError(err error) error {
	if err == nil {
		return nil
	}

	var status int
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	default:
		return err
	}

	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", domain.ErrRateLimit, err)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %w", domain.ErrAuthInvalid, err)
	case status == http.StatusRequestEntityTooLarge:
		return fmt.Errorf("%w: %w", domain.ErrContextOverflow, err)
	case status >= 500:
		return fmt.Errorf("%w: %w", domain.ErrProviderError, err)
	default:
		return err
	}
}
