package domain

import (
	"errors"
	"fmt"
)

// Category sentinels.
var (
	ErrNotFound      = fmt.Errorf("not found")
	ErrInvalidInput  = fmt.Errorf("invalid input")
	ErrProviderError = fmt.Errorf("provider error")
	ErrTimeout       = fmt.Errorf("operation timed out")
)

// Sentinel errors for the domain layer.
var (
	ErrToolNotFound    = fmt.Errorf("tool not found")
	ErrToolFailure     = fmt.Errorf("tool execution failed")
	ErrMaxIterations   = fmt.Errorf("agent reached max iterations")
	ErrSessionNotFound = fmt.Errorf("session not found")
	ErrSessionExists   = fmt.Errorf("session already exists")
	ErrCheckpointStore = fmt.Errorf("checkpoint store failed")
	ErrConfigLoad      = fmt.Errorf("failed to load configuration")
	ErrDecryption      = fmt.Errorf("decryption failed")

	// Gateway / RPC errors.
	ErrGatewayAuthFailed = fmt.Errorf("gateway: %w", ErrAuthInvalid)
	ErrRPCMethodNotFound = fmt.Errorf("rpc method not found")
	ErrRPCInvalidPayload = fmt.Errorf("rpc payload invalid")

	// Provider status errors.
	ErrContextOverflow = fmt.Errorf("context window exceeded")
	ErrRateLimit       = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid     = fmt.Errorf("authentication failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Agent.Stream")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRateLimit reports whether err was caused by a provider rejecting the
// request with HTTP 429.
func IsRateLimit(err error) bool {
	return errors.Is(err, ErrRateLimit)
}

// ErrorCode is a machine-parseable error category for logs and monitoring.
type ErrorCode string

const (
	CodeUnknown           ErrorCode = "UNKNOWN"
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeInvalidInput      ErrorCode = "INVALID_INPUT"
	CodeProviderError     ErrorCode = "PROVIDER_ERROR"
	CodeTimeout           ErrorCode = "TIMEOUT"
	CodeToolNotFound      ErrorCode = "TOOL_NOT_FOUND"
	CodeToolFailure       ErrorCode = "TOOL_FAILURE"
	CodeMaxIterations     ErrorCode = "MAX_ITERATIONS"
	CodeSessionNotFound   ErrorCode = "SESSION_NOT_FOUND"
	CodeSessionExists     ErrorCode = "SESSION_EXISTS"
	CodeCheckpointStore   ErrorCode = "CHECKPOINT_STORE"
	CodeConfigLoad        ErrorCode = "CONFIG_LOAD"
	CodeDecryption        ErrorCode = "DECRYPTION"
	CodeGatewayAuth       ErrorCode = "GATEWAY_AUTH"
	CodeRPCMethodNotFound ErrorCode = "RPC_METHOD_NOT_FOUND"
	CodeRPCInvalidPayload ErrorCode = "RPC_INVALID_PAYLOAD"
	CodeContextOverflow   ErrorCode = "CONTEXT_OVERFLOW"
	CodeRateLimit         ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid       ErrorCode = "AUTH_INVALID"
)

// errorCodeOrder lists sentinels from most to least specific so that wrapped
// chains resolve deterministically (ErrGatewayAuthFailed before ErrAuthInvalid).
var errorCodeOrder = []struct {
	err  error
	code ErrorCode
}{
	{ErrRateLimit, CodeRateLimit},
	{ErrGatewayAuthFailed, CodeGatewayAuth},
	{ErrAuthInvalid, CodeAuthInvalid},
	{ErrContextOverflow, CodeContextOverflow},
	{ErrToolNotFound, CodeToolNotFound},
	{ErrToolFailure, CodeToolFailure},
	{ErrMaxIterations, CodeMaxIterations},
	{ErrSessionNotFound, CodeSessionNotFound},
	{ErrSessionExists, CodeSessionExists},
	{ErrCheckpointStore, CodeCheckpointStore},
	{ErrConfigLoad, CodeConfigLoad},
	{ErrDecryption, CodeDecryption},
	{ErrRPCMethodNotFound, CodeRPCMethodNotFound},
	{ErrRPCInvalidPayload, CodeRPCInvalidPayload},
	{ErrNotFound, CodeNotFound},
	{ErrInvalidInput, CodeInvalidInput},
	{ErrProviderError, CodeProviderError},
	{ErrTimeout, CodeTimeout},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It walks the wrap chain with errors.Is. Returns CodeUnknown if no sentinel matches.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	for _, e := range errorCodeOrder {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	return ErrorCodeOf(e.Err)
}
