package domain

import (
	"errors"
	"fmt"
)

// Category sentinels.
var (
	ErrNotFound      = fmt.Errorf("not found")
	ErrTimeout       = fmt.Errorf("operation timed out")
	ErrInvalidInput  = fmt.Errorf("invalid input")
	ErrNotConfigured = fmt.Errorf("not configured")
	ErrProviderError = fmt.Errorf("provider error")
)

// Sentinel errors for the domain layer.
var (
	ErrProviderNotFound        = fmt.Errorf("llm provider not found")
	ErrModelUnavailable        = fmt.Errorf("model backend unavailable")
	ErrToolNotFound            = fmt.Errorf("tool not found")
	ErrToolFailure             = fmt.Errorf("tool execution failed")
	ErrCollaboratorUnavailable = fmt.Errorf("collaborator unavailable")
	ErrCircuitOpen             = fmt.Errorf("circuit open")
	ErrMemoryStore             = fmt.Errorf("memory store failed")
	ErrMemoryNotFound          = fmt.Errorf("memory not found")
	ErrConfigLoad              = fmt.Errorf("failed to load configuration")
	ErrDecryption              = fmt.Errorf("decryption failed")

	// Upstream API errors.
	ErrContextOverflow = fmt.Errorf("context window exceeded")
	ErrRateLimit       = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid     = fmt.Errorf("authentication failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Registry.Dispatch")
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

// IsRetryableError reports whether err is a transient error that may succeed on retry.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimit) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrCollaboratorUnavailable)
}

// ErrorCode is a machine-parseable error category for logs and API responses.
type ErrorCode string

const (
	CodeUnknown                 ErrorCode = "UNKNOWN"
	CodeNotFound                ErrorCode = "NOT_FOUND"
	CodeTimeout                 ErrorCode = "TIMEOUT"
	CodeInvalidInput            ErrorCode = "INVALID_INPUT"
	CodeNotConfigured           ErrorCode = "NOT_CONFIGURED"
	CodeProviderError           ErrorCode = "PROVIDER_ERROR"
	CodeProviderNotFound        ErrorCode = "PROVIDER_NOT_FOUND"
	CodeModelUnavailable        ErrorCode = "MODEL_UNAVAILABLE"
	CodeToolNotFound            ErrorCode = "TOOL_NOT_FOUND"
	CodeToolFailure             ErrorCode = "TOOL_FAILURE"
	CodeCollaboratorUnavailable ErrorCode = "COLLABORATOR_UNAVAILABLE"
	CodeCircuitOpen             ErrorCode = "CIRCUIT_OPEN"
	CodeMemoryStore             ErrorCode = "MEMORY_STORE"
	CodeMemoryNotFound          ErrorCode = "MEMORY_NOT_FOUND"
	CodeConfigLoad              ErrorCode = "CONFIG_LOAD"
	CodeDecryption              ErrorCode = "DECRYPTION"
	CodeContextOverflow         ErrorCode = "CONTEXT_OVERFLOW"
	CodeRateLimit               ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid             ErrorCode = "AUTH_INVALID"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:                CodeNotFound,
	ErrTimeout:                 CodeTimeout,
	ErrInvalidInput:            CodeInvalidInput,
	ErrNotConfigured:           CodeNotConfigured,
	ErrProviderError:           CodeProviderError,
	ErrProviderNotFound:        CodeProviderNotFound,
	ErrModelUnavailable:        CodeModelUnavailable,
	ErrToolNotFound:            CodeToolNotFound,
	ErrToolFailure:             CodeToolFailure,
	ErrCollaboratorUnavailable: CodeCollaboratorUnavailable,
	ErrCircuitOpen:             CodeCircuitOpen,
	ErrMemoryStore:             CodeMemoryStore,
	ErrMemoryNotFound:          CodeMemoryNotFound,
	ErrConfigLoad:              CodeConfigLoad,
	ErrDecryption:              CodeDecryption,
	ErrContextOverflow:         CodeContextOverflow,
	ErrRateLimit:               CodeRateLimit,
	ErrAuthInvalid:             CodeAuthInvalid,
}

// codePriority orders the chain walk so that specific sentinels win over
// category ones when an error wraps both.
var codePriority = []error{
	ErrModelUnavailable,
	ErrCircuitOpen,
	ErrRateLimit,
	ErrAuthInvalid,
	ErrContextOverflow,
	ErrToolNotFound,
	ErrToolFailure,
	ErrCollaboratorUnavailable,
	ErrMemoryNotFound,
	ErrMemoryStore,
	ErrProviderNotFound,
	ErrConfigLoad,
	ErrDecryption,
	ErrTimeout,
	ErrNotConfigured,
	ErrInvalidInput,
	ErrNotFound,
	ErrProviderError,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	if code, ok := errorCodeMap[err]; ok {
		return code
	}
	for _, sentinel := range codePriority {
		if errors.Is(err, sentinel) {
			return errorCodeMap[sentinel]
		}
	}
	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	return ErrorCodeOf(e.Err)
}
