package result

import "fmt"

// ErrorType is the machine-readable category carried by every failure.
type ErrorType string

const (
	ErrorTypeConnectorNotFound       ErrorType = "connector_not_found"
	ErrorTypeInternalServerError     ErrorType = "internal_server_error"
	ErrorTypeConnectorConflict       ErrorType = "connector_conflict"
	ErrorTypeInvalidRequest          ErrorType = "invalid_request_error"
	ErrorTypeUnauthorized            ErrorType = "unauthorized"
	ErrorTypeProviderError           ErrorType = "connector_provider_error"
	ErrorTypeTransportFailure        ErrorType = "transport_failure"
	ErrorTypeDataSourceNotFound      ErrorType = "data_source_not_found"
	ErrorTypeDataSourceAlreadyExists ErrorType = "data_source_already_exists"
)

// Error is the structured failure of a Result. It serializes as
// {"type": ..., "message": ...}.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`

	cause error
}

// NewError builds an Error of the given type.
func NewError(typ ErrorType, message string) *Error {
	return &Error{Type: typ, Message: message}
}

// Errorf builds an Error with a formatted message.
func Errorf(typ ErrorType, format string, args ...any) *Error {
	return &Error{Type: typ, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error whose cause stays reachable through errors.Is/As.
func Wrap(typ ErrorType, cause error, message string) *Error {
	return &Error{Type: typ, Message: message, cause: cause}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// OutcomeUnknown reports whether the failure leaves the remote operation's
// outcome undetermined: it may have partially or fully happened.
func (e *Error) OutcomeUnknown() bool {
	return e != nil && e.Type == ErrorTypeTransportFailure
}

// Void is the payload of results that carry no value.
type Void struct{}

// Result holds either a value or an *Error, never both.
type Result[T any] struct {
	value T
	err   *Error
}

// Ok wraps a successful value.
func Ok[T any](value T) Result[T] {
	return Result[T]{value: value}
}

// Err wraps a failure. A nil error is turned into an internal error so that
// a Result can never be neither.
func Err[T any](err *Error) Result[T] {
	if err == nil {
		err = NewError(ErrorTypeInternalServerError, "unspecified failure")
	}
	return Result[T]{err: err}
}

// OkVoid is the successful Result[Void].
func OkVoid() Result[Void] {
	return Ok(Void{})
}

func (r Result[T]) IsOk() bool  { return r.err == nil }
func (r Result[T]) IsErr() bool { return r.err != nil }

// Value returns the payload. It panics on a failed result: callers must check
// IsErr first.
func (r Result[T]) Value() T {
	if r.err != nil {
		panic(fmt.Sprintf("result: Value called on failed result: %v", r.err))
	}
	return r.value
}

// Error returns the failure, or nil for a successful result.
func (r Result[T]) Error() *Error {
	return r.err
}

// Unpack returns both variants for callers that prefer the (value, err) form.
func (r Result[T]) Unpack() (T, *Error) {
	return r.value, r.err
}

// AndThen runs next with the value of r, or propagates r's failure without
// calling next.
func AndThen[T, U any](r Result[T], next func(T) Result[U]) Result[U] {
	if r.err != nil {
		return Err[U](r.err)
	}
	return next(r.value)
}

// Map transforms the value of a successful result.
func Map[T, U any](r Result[T], fn func(T) U) Result[U] {
	if r.err != nil {
		return Err[U](r.err)
	}
	return Ok(fn(r.value))
}

// MapErr rewrites the failure of r, leaving a success untouched.
func MapErr[T any](r Result[T], fn func(*Error) *Error) Result[T] {
	if r.err == nil {
		return r
	}
	return Err[T](fn(r.err))
}
