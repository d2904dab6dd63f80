package services

import "errors"

type ErrorCode string

const (
	ErrorInvalid      ErrorCode = "invalid"
	ErrorUnauthorized ErrorCode = "unauthorized"
	ErrorForbidden    ErrorCode = "forbidden"
	ErrorNotFound     ErrorCode = "not_found"
	ErrorConflict     ErrorCode = "conflict"
	ErrorExpired      ErrorCode = "expired"
	ErrorUnavailable  ErrorCode = "unavailable"
)

// ServiceError is a business-rule failure with a stable, user-facing
// message. Anything else that escapes a service is an infrastructure fault
// and is reduced to a generic message at the API boundary.
type ServiceError struct {
	Code    ErrorCode
	Message string
}

func (e *ServiceError) Error() string { return e.Message }

func NewInvalidError(msg string) error     { return &ServiceError{Code: ErrorInvalid, Message: msg} }
func NewForbiddenError(msg string) error   { return &ServiceError{Code: ErrorForbidden, Message: msg} }
func NewNotFoundError(msg string) error    { return &ServiceError{Code: ErrorNotFound, Message: msg} }
func NewConflictError(msg string) error    { return &ServiceError{Code: ErrorConflict, Message: msg} }
func NewExpiredError(msg string) error     { return &ServiceError{Code: ErrorExpired, Message: msg} }
func NewUnavailableError(msg string) error { return &ServiceError{Code: ErrorUnavailable, Message: msg} }
func NewUnauthorizedError(msg string) error {
	return &ServiceError{Code: ErrorUnauthorized, Message: msg}
}

func AsServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// ErrDuplicate is returned by stores when an insert hits a uniqueness
// constraint. Services resolve it by re-reading the winning row instead of
// failing the caller.
var ErrDuplicate = errors.New("duplicate row")
