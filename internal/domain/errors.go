package domain

import (
	"errors"
	"fmt"
)

// Category sentinels, used with NewSubSystemError for subsystem-specific errors.
var (
	ErrNotFound     = fmt.Errorf("not found")
	ErrConflict     = fmt.Errorf("conflicting lifecycle state")
	ErrTimeout      = fmt.Errorf("operation timed out")
	ErrInvalidInput = fmt.Errorf("invalid input")
	ErrUnavailable  = fmt.Errorf("unavailable")
)

// Sentinel errors for the domain layer.
var (
	ErrAlreadyRunning  = fmt.Errorf("session already running: %w", ErrConflict)
	ErrAlreadyActive   = fmt.Errorf("sequential runner already active: %w", ErrConflict)
	ErrSpawnFailure    = fmt.Errorf("worker spawn failed")
	ErrWorkerFailure   = fmt.Errorf("worker exited with failure")
	ErrReaderFault     = fmt.Errorf("log reader fault")
	ErrSessionNotFound = fmt.Errorf("session not found")
	ErrSessionInvalid  = fmt.Errorf("session not valid for automation")
	ErrRegistryStore   = fmt.Errorf("session registry store failed")
	ErrLoginTimeout    = fmt.Errorf("login not completed in time")
	ErrGatewayAuth     = fmt.Errorf("gateway authentication failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Launcher.StartOne")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "launcher", "runner")
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

// NewSubSystemError creates a DomainError tagged with a subsystem for
// ErrorCode dispatch.
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

// ErrorCode is a machine-parseable error category for monitoring and API
// responses.
type ErrorCode string

// Every sentinel error maps to exactly one code.
const (
	CodeUnknown         ErrorCode = "UNKNOWN"
	CodeNotFound        ErrorCode = "NOT_FOUND"
	CodeConflict        ErrorCode = "CONFLICT"
	CodeTimeout         ErrorCode = "TIMEOUT"
	CodeInvalidInput    ErrorCode = "INVALID_INPUT"
	CodeUnavailable     ErrorCode = "UNAVAILABLE"
	CodeAlreadyRunning  ErrorCode = "ALREADY_RUNNING"
	CodeAlreadyActive   ErrorCode = "ALREADY_ACTIVE"
	CodeSpawnFailure    ErrorCode = "SPAWN_FAILURE"
	CodeWorkerFailure   ErrorCode = "WORKER_FAILURE"
	CodeReaderFault     ErrorCode = "READER_FAULT"
	CodeSessionNotFound ErrorCode = "SESSION_NOT_FOUND"
	CodeSessionInvalid  ErrorCode = "SESSION_INVALID"
	CodeRegistryStore   ErrorCode = "REGISTRY_STORE"
	CodeLoginTimeout    ErrorCode = "LOGIN_TIMEOUT"
	CodeGatewayAuth     ErrorCode = "GATEWAY_AUTH"
	CodeStopTimeout     ErrorCode = "STOP_TIMEOUT"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:     CodeNotFound,
	ErrConflict:     CodeConflict,
	ErrInvalidInput: CodeInvalidInput,
	ErrUnavailable:  CodeUnavailable,

	ErrAlreadyRunning:  CodeAlreadyRunning,
	ErrAlreadyActive:   CodeAlreadyActive,
	ErrSpawnFailure:    CodeSpawnFailure,
	ErrWorkerFailure:   CodeWorkerFailure,
	ErrReaderFault:     CodeReaderFault,
	ErrSessionNotFound: CodeSessionNotFound,
	ErrSessionInvalid:  CodeSessionInvalid,
	ErrRegistryStore:   CodeRegistryStore,
	ErrLoginTimeout:    CodeLoginTimeout,
	ErrGatewayAuth:     CodeGatewayAuth,
}

// subSystemCodeMap maps (category sentinel, subsystem) pairs to specific codes,
// so NewSubSystemError-based errors resolve to the same monitoring codes as
// the dedicated sentinels.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrNotFound: {
		"registry": CodeSessionNotFound,
		"tracker":  CodeSessionNotFound,
		"logs":     CodeSessionNotFound,
	},
	ErrConflict: {
		"launcher": CodeAlreadyRunning,
		"runner":   CodeAlreadyActive,
	},
	ErrTimeout: {
		"launcher": CodeStopTimeout,
		"browser":  CodeLoginTimeout,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		return de.Code()
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	if errors.Is(err, ErrTimeout) {
		return CodeTimeout
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel,
// preferring a subsystem-specific code when one exists.
func (e *DomainError) Code() ErrorCode {
	if e.SubSystem != "" {
		if subsysMap, ok := subSystemCodeMap[e.Err]; ok {
			if code, ok := subsysMap[e.SubSystem]; ok {
				return code
			}
		}
	}
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	for sentinel, code := range errorCodeMap {
		if errors.Is(e.Err, sentinel) {
			return code
		}
	}
	if errors.Is(e.Err, ErrTimeout) {
		return CodeTimeout
	}
	return CodeUnknown
}
