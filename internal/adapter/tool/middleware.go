package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"searchchat/internal/domain"
	"searchchat/internal/infra/tracer"
)

// Execute is the standard tool pipeline: start span, parse params, run
// handler, format result.
//
// The handler returns:
//   - (string, nil): a plain-text result
//   - (*domain.ToolResult, nil): returned as-is
//   - (any other value, nil): marshaled to JSON
//   - (nil, error): the error is returned to the caller unchanged
func Execute[P any](
	ctx context.Context,
	spanName string,
	logger *slog.Logger,
	rawParams json.RawMessage,
	handler func(ctx context.Context, span trace.Span, params P) (any, error),
) (*domain.ToolResult, error) {
	ctx, span := tracer.StartSpan(ctx, spanName,
		trace.WithAttributes(
			tracer.StringAttr("tool.name", spanName),
			tracer.StringAttr("thread.id", domain.ThreadIDFromContext(ctx)),
		),
	)
	defer span.End()

	var p P
	if err := json.Unmarshal(rawParams, &p); err != nil {
		err = fmt.Errorf("%s: invalid params: %v: %w", spanName, err, domain.ErrInvalidInput)
		tracer.RecordError(span, err)
		return nil, err
	}

	result, err := handler(ctx, span, p)
	if err != nil {
		tracer.RecordError(span, err)
		if !errors.Is(err, context.Canceled) {
			logger.Warn(spanName+" failed",
				"error", err,
				"code", string(domain.ErrorCodeOf(err)),
				"session_id", domain.SessionIDFromContext(ctx),
			)
		}
		return nil, err
	}

	return formatResult(span, result)
}

func formatResult(span trace.Span, result any) (*domain.ToolResult, error) {
	switch v := result.(type) {
	case *domain.ToolResult:
		tracer.SetOK(span)
		return v, nil
	case string:
		tracer.SetOK(span)
		return &domain.ToolResult{Content: v}, nil
	default:
		data, err := json.Marshal(result)
		if err != nil {
			tracer.RecordError(span, err)
			return nil, fmt.Errorf("format result: %w", err)
		}
		tracer.SetOK(span)
		return &domain.ToolResult{Content: string(data)}, nil
	}
}
