package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCode identifies a class of failure surfaced to the flow controller.
type ErrorCode string

const (
	// Wallet side
	ErrCodeUserRejected   ErrorCode = "USER_REJECTED"
	ErrCodePendingRequest ErrorCode = "PENDING_REQUEST"
	ErrCodeTimeout        ErrorCode = "TIMEOUT"
	ErrCodeSessionLost    ErrorCode = "SESSION_LOST"
	ErrCodeNotConnected   ErrorCode = "NOT_CONNECTED"
	ErrCodeUnsupported    ErrorCode = "UNSUPPORTED_CHAIN"
	ErrCodeWallet         ErrorCode = "WALLET_ERROR"

	// Configuration
	ErrCodeConfig ErrorCode = "CONFIG_ERROR"

	// Backend side
	ErrCodeAuthExpired ErrorCode = "AUTH_EXPIRED"
	ErrCodeNetwork     ErrorCode = "NETWORK_ERROR"
	ErrCodeServer      ErrorCode = "SERVER_ERROR"
	ErrCodeRateLimited ErrorCode = "RATE_LIMITED"
	ErrCodeNotFound    ErrorCode = "NOT_FOUND"

	// Input
	ErrCodeValidation ErrorCode = "VALIDATION_ERROR"

	// Anything that was not classified
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// AppError is a classified application error carrying a user-facing message.
type AppError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Context   map[string]string      `json:"context,omitempty"`
	Stack     []string               `json:"stack,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	RequestID string                 `json:"request_id,omitempty"`
	Status    int                    `json:"status,omitempty"`
	Cause     error                  `json:"-"`
}

// Error returns the string form of the error.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the cause.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches on code so errors.Is(err, errors.New(code, "")) works across instances.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// IsRecoverable reports whether the flow should offer a retry path.
func (e *AppError) IsRecoverable() bool {
	switch e.Code {
	case ErrCodeTimeout, ErrCodeSessionLost, ErrCodeAuthExpired, ErrCodeNotConnected, ErrCodeNetwork, ErrCodePendingRequest:
		return true
	}
	return false
}

// IsSessionLoss reports whether the error means the wallet session went away.
func (e *AppError) IsSessionLoss() bool {
	return e.Code == ErrCodeSessionLost || e.Code == ErrCodeNotConnected
}

// IsWallet reports whether the error originated on the wallet side.
func (e *AppError) IsWallet() bool {
	switch e.Code {
	case ErrCodeUserRejected, ErrCodePendingRequest, ErrCodeTimeout, ErrCodeSessionLost,
		ErrCodeNotConnected, ErrCodeUnsupported, ErrCodeWallet:
		return true
	}
	return false
}

// WithContext attaches a string context value.
func (e *AppError) WithContext(key, value string) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail attaches a detail value.
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithRequestID attaches the id of the HTTP request that produced the error.
func (e *AppError) WithRequestID(requestID string) *AppError {
	e.RequestID = requestID
	return e
}

// WithStatus attaches the HTTP status that produced the error.
func (e *AppError) WithStatus(status int) *AppError {
	e.Status = status
	return e
}

// New creates an application error.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Stack:     getStackTrace(),
	}
}

// Wrap wraps an existing error.
func Wrap(err error, code ErrorCode, message string) *AppError {
	appErr := New(code, message)
	appErr.Cause = err
	return appErr
}

// Wrapf wraps an existing error with a formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *AppError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

func getStackTrace() []string {
	var stack []string
	for i := 2; ; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}
		if strings.Contains(fn.Name(), "internal/common/errors") {
			continue
		}
		stack = append(stack, fmt.Sprintf("%s:%d %s", file, line, fn.Name()))
		if len(stack) >= 10 {
			break
		}
	}
	return stack
}

// NewValidationError creates a validation error for a field.
func NewValidationError(field, reason string) *AppError {
	return New(ErrCodeValidation, reason).
		WithDetail("field", field)
}

// NewConfigError creates an error for a missing or invalid setting.
func NewConfigError(setting, message string) *AppError {
	return New(ErrCodeConfig, message).
		WithDetail("setting", setting)
}

// NewTimeoutError creates a timeout error for a bounded operation.
func NewTimeoutError(operation string, after time.Duration, message string) *AppError {
	return New(ErrCodeTimeout, message).
		WithDetail("operation", operation).
		WithDetail("after", after.String())
}

// IsAppError reports whether err is or wraps an AppError.
func IsAppError(err error) bool {
	_, ok := AsAppError(err)
	return ok
}

// AsAppError finds the first AppError in err's chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if err == nil {
		return nil, false
	}
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf returns the code of err, or ErrCodeInternal for unclassified errors.
func CodeOf(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err carries code.
func HasCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// UserMessage returns the message that should reach the user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if appErr, ok := AsAppError(err); ok && appErr.Message != "" {
		return appErr.Message
	}
	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	return msg
}
