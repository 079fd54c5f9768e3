package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Subsystem-specific sentinels below wrap one of these so
// callers can match either the category or the specific condition.
var (
	ErrNotFound      = fmt.Errorf("not found")
	ErrDuplicate     = fmt.Errorf("duplicate")
	ErrTimeout       = fmt.Errorf("operation timed out")
	ErrInvalidInput  = fmt.Errorf("invalid input")
	ErrProviderError = fmt.Errorf("provider error")
)

// Sentinel errors for the domain layer.
var (
	ErrSessionNotFound     = fmt.Errorf("session %w", ErrNotFound)
	ErrSessionExists       = fmt.Errorf("session already exists: %w", ErrDuplicate)
	ErrUnsupportedModality = fmt.Errorf("unsupported modality")
	ErrOracleFailure       = fmt.Errorf("oracle failure: %w", ErrProviderError)
	ErrTransportClosed     = fmt.Errorf("transport closed")
	ErrCapabilityNotFound  = fmt.Errorf("capability %w", ErrNotFound)
	ErrConfigLoad          = fmt.Errorf("failed to load configuration")
	ErrDecryption          = fmt.Errorf("decryption failed")
	ErrBlobStore           = fmt.Errorf("blob store operation failed")
	ErrRecordStore         = fmt.Errorf("record store operation failed")

	// Resilience errors reported by oracle adapters.
	ErrContextOverflow = fmt.Errorf("context window exceeded")
	ErrRateLimit       = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid     = fmt.Errorf("authentication failed")
	ErrCircuitOpen     = fmt.Errorf("circuit open: %w", ErrProviderError)
	ErrEmbeddingFailed = fmt.Errorf("embedding generation failed: %w", ErrProviderError)
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "SessionStore.Create")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "session", "oracle"); used for ErrorCode dispatch
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

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err is a transient error that may succeed
// if a caller above this layer decides to retry. Nothing in this module retries.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrCircuitOpen)
}

// ErrorCode is a machine-parseable error category for monitoring and clients.
type ErrorCode string

const (
	CodeUnknown             ErrorCode = "UNKNOWN"
	CodeNotFound            ErrorCode = "NOT_FOUND"
	CodeDuplicate           ErrorCode = "DUPLICATE"
	CodeTimeout             ErrorCode = "TIMEOUT"
	CodeInvalidInput        ErrorCode = "INVALID_INPUT"
	CodeProviderError       ErrorCode = "PROVIDER_ERROR"
	CodeSessionNotFound     ErrorCode = "SESSION_NOT_FOUND"
	CodeSessionExists       ErrorCode = "SESSION_EXISTS"
	CodeUnsupportedModality ErrorCode = "UNSUPPORTED_MODALITY"
	CodeOracleFailure       ErrorCode = "ORACLE_FAILURE"
	CodeTransportClosed     ErrorCode = "TRANSPORT_CLOSED"
	CodeCapabilityNotFound  ErrorCode = "CAPABILITY_NOT_FOUND"
	CodeConfigLoad          ErrorCode = "CONFIG_LOAD"
	CodeDecryption          ErrorCode = "DECRYPTION"
	CodeBlobStore           ErrorCode = "BLOB_STORE"
	CodeRecordStore         ErrorCode = "RECORD_STORE"
	CodeContextOverflow     ErrorCode = "CONTEXT_OVERFLOW"
	CodeRateLimit           ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid         ErrorCode = "AUTH_INVALID"
	CodeCircuitOpen         ErrorCode = "CIRCUIT_OPEN"
	CodeEmbeddingFailed     ErrorCode = "EMBEDDING_FAILED"
	CodeRecordsTimeout      ErrorCode = "RECORDS_TIMEOUT"
	CodeOracleTimeout       ErrorCode = "ORACLE_TIMEOUT"
)

type codedSentinel struct {
	err  error
	code ErrorCode
}

// errorCodes is ordered most specific first: several sentinels wrap a
// category sentinel and must win over it when matched with errors.Is.
var errorCodes = []codedSentinel{
	{ErrSessionNotFound, CodeSessionNotFound},
	{ErrSessionExists, CodeSessionExists},
	{ErrCapabilityNotFound, CodeCapabilityNotFound},
	{ErrCircuitOpen, CodeCircuitOpen},
	{ErrEmbeddingFailed, CodeEmbeddingFailed},
	{ErrOracleFailure, CodeOracleFailure},
	{ErrUnsupportedModality, CodeUnsupportedModality},
	{ErrTransportClosed, CodeTransportClosed},
	{ErrConfigLoad, CodeConfigLoad},
	{ErrDecryption, CodeDecryption},
	{ErrBlobStore, CodeBlobStore},
	{ErrRecordStore, CodeRecordStore},
	{ErrContextOverflow, CodeContextOverflow},
	{ErrRateLimit, CodeRateLimit},
	{ErrAuthInvalid, CodeAuthInvalid},
	{ErrNotFound, CodeNotFound},
	{ErrDuplicate, CodeDuplicate},
	{ErrTimeout, CodeTimeout},
	{ErrInvalidInput, CodeInvalidInput},
	{ErrProviderError, CodeProviderError},
}

// subSystemCodes maps (category sentinel, subsystem) pairs to specific codes.
var subSystemCodes = map[error]map[string]ErrorCode{
	ErrTimeout: {
		"oracle":  CodeOracleTimeout,
		"records": CodeRecordsTimeout,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// For DomainErrors with a SubSystem, subsystem-specific codes take precedence.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	var de *DomainError
	if errors.As(err, &de) && de.SubSystem != "" {
		if m, ok := subSystemCodes[de.Err]; ok {
			if code, ok := m[de.SubSystem]; ok {
				return code
			}
		}
	}

	for _, cs := range errorCodes {
		if errors.Is(err, cs.err) {
			return cs.code
		}
	}
	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError.
func (e *DomainError) Code() ErrorCode { return ErrorCodeOf(e) }
