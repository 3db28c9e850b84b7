package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
)

// Error is a coded error. Message overrides the code's default text; Err is the cause.
type Error struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Err     error
	Stack   string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code.Message()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, msg string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: msg,
		Details: map[string]interface{}{},
		Err:     cause,
		Stack:   callers(4),
	}
}

// New creates an error carrying the code's default message.
func New(code ErrorCode) *Error {
	return newError(code, code.Message(), nil)
}

// Newf creates an error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return newError(code, fmt.Sprintf(format, args...), nil)
}

// Wrap attaches code to err, keeping err's text. A coded error is re-coded in place.
func Wrap(err error, code ErrorCode) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		e.Code = code
		return e
	}
	return newError(code, err.Error(), err)
}

// Wrapf attaches code and a formatted message to err.
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return newError(code, fmt.Sprintf(format, args...), err)
}

func (e *Error) WithMessage(msg string) *Error {
	e.Message = msg
	return e
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = map[string]interface{}{}
	}
	e.Details[key] = value
	return e
}

// GetCode returns the code of the first coded error in err's chain. Uncoded errors report
// InternalServerError; nil reports Success.
func GetCode(err error) ErrorCode {
	if err == nil {
		return Success
	}
	if e := find(err); e != nil {
		return e.Code
	}
	return InternalServerError
}

// GetError returns the coded error in err's chain, wrapping uncoded errors as internal.
func GetError(err error) *Error {
	if err == nil {
		return nil
	}
	if e := find(err); e != nil {
		return e
	}
	return Wrap(err, InternalServerError)
}

// Is reports whether err carries code. Uncoded errors never match.
func Is(err error, code ErrorCode) bool {
	e := find(err)
	return e != nil && e.Code == code
}

func find(err error) *Error {
	var e *Error
	if err != nil && stderrors.As(err, &e) {
		return e
	}
	return nil
}

func callers(skip int) string {
	var pcs [10]uintptr
	n := runtime.Callers(skip, pcs[:])
	if n == 0 {
		return ""
	}
	var b strings.Builder
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !strings.HasPrefix(frame.Function, "runtime.") {
			fmt.Fprintf(&b, "\n\t%s:%d %s", frame.File, frame.Line, frame.Function)
		}
		if !more {
			return b.String()
		}
	}
}

// ValidationError reports a rejected field of a request.
func ValidationError(field, reason string) *Error {
	return New(ValidationFailed).
		WithDetail("field", field).
		WithDetail("reason", reason)
}

// ConfigError creates a checker configuration error naming the offending field.
func ConfigError(field, reason string) *Error {
	return Newf(CheckConfigInvalid, "%s: %s", field, reason).
		WithDetail("field", field)
}
