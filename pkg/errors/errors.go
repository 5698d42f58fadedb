package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for the delivery engine taxonomy. Admission-time outcomes
// (validation, duplicate, rate-limited) surface synchronously from Submit;
// delivery-time outcomes (unavailable, transient, permanent) are recorded on
// the notification record.
var (
	ErrValidation         = NewError("VALIDATION_ERROR", "validation failed", http.StatusBadRequest)
	ErrDuplicate          = NewError("DUPLICATE", "duplicate notification blocked", http.StatusOK)
	ErrRateLimited        = NewError("RATE_LIMITED", "rate ceiling exceeded", http.StatusTooManyRequests)
	ErrChannelUnavailable = NewError("CHANNEL_UNAVAILABLE", "no delivery path for channel", http.StatusServiceUnavailable)
	ErrTransient          = NewError("TRANSIENT_FAILURE", "transient delivery failure", http.StatusServiceUnavailable)
	ErrPermanent          = NewError("PERMANENT_FAILURE", "permanent delivery failure", http.StatusUnprocessableEntity)
	ErrNotFound           = NewError("NOT_FOUND", "resource not found", http.StatusNotFound)
	ErrConflict           = NewError("CONFLICT", "resource conflict", http.StatusConflict)
	ErrInternal           = NewError("INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
	ErrTimeout            = NewError("TIMEOUT", "operation timed out", http.StatusRequestTimeout)
)

type RetryableError interface {
	error
	IsRetryable() bool
}

type FatalError interface {
	error
	IsFatal() bool
}

type Error struct {
	Code      string
	Message   string
	Status    int
	Details   map[string]interface{}
	Cause     error
	retryable *bool
}

func NewError(code, message string, status int) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Status:  status,
		Details: make(map[string]interface{}),
	}
}

func (e *Error) Error() string {
	msg := e.Message

	if len(e.Details) > 0 {
		if detailMsg, ok := e.Details["message"].(string); ok && detailMsg != "" {
			msg = detailMsg
		}
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the failure class is worth retrying. Validation,
// duplicate, and permanent delivery failures never are; everything else is
// retryable unless explicitly marked fatal.
func (e *Error) IsRetryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	if e.Cause != nil {
		var retryableErr RetryableError
		if errors.As(e.Cause, &retryableErr) {
			return retryableErr.IsRetryable()
		}
		var fatalErr FatalError
		if errors.As(e.Cause, &fatalErr) {
			return !fatalErr.IsFatal()
		}
	}
	switch e.Code {
	case ErrValidation.Code, ErrPermanent.Code, ErrNotFound.Code, ErrDuplicate.Code:
		return false
	}
	return true
}

func (e *Error) IsFatal() bool {
	if e.retryable != nil {
		return !*e.retryable
	}
	if e.Cause != nil {
		var fatalErr FatalError
		if errors.As(e.Cause, &fatalErr) {
			return fatalErr.IsFatal()
		}
	}
	return !e.IsRetryable()
}

func (e *Error) WithCause(cause error) *Error {
	err := *e
	err.Cause = cause
	return &err
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	err := *e
	if err.Details == nil {
		err.Details = make(map[string]interface{})
	}
	err.Details[key] = value
	return &err
}

func (e *Error) AsRetryable() *Error {
	err := *e
	retryable := true
	err.retryable = &retryable
	return &err
}

func (e *Error) AsFatal() *Error {
	err := *e
	retryable := false
	err.retryable = &retryable
	return &err
}

func Wrap(err error, appErr *Error) *Error {
	if err == nil {
		return nil
	}
	return appErr.WithCause(err)
}

func is(err error, code string) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

func IsValidation(err error) bool         { return is(err, ErrValidation.Code) }
func IsDuplicate(err error) bool          { return is(err, ErrDuplicate.Code) }
func IsRateLimited(err error) bool        { return is(err, ErrRateLimited.Code) }
func IsChannelUnavailable(err error) bool { return is(err, ErrChannelUnavailable.Code) }
func IsTransient(err error) bool          { return is(err, ErrTransient.Code) }
func IsPermanent(err error) bool          { return is(err, ErrPermanent.Code) }
func IsNotFound(err error) bool           { return is(err, ErrNotFound.Code) }
func IsConflict(err error) bool           { return is(err, ErrConflict.Code) }

func ToHTTPStatus(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

func ToErrorResponse(err error) map[string]interface{} {
	var appErr *Error
	if !errors.As(err, &appErr) {
		appErr = ErrInternal.WithCause(err)
	}

	response := map[string]interface{}{
		"error":      appErr.Message,
		"error_code": appErr.Code,
	}

	if len(appErr.Details) > 0 {
		response["details"] = appErr.Details
	}

	return response
}
