// Package errors maps relay failures onto client-facing categories. A
// ServiceError carries the message shown to the caller and the underlying
// error that is only logged.
package errors

import (
	"errors"
	"net/http"
)

// Category defines error category
type Category int

// Categories below CategoryDependencyFailure are caller errors; the rest are
// internal.
const (
	CategoryNoError Category = iota
	// CategoryDataError the request payload or parameters are invalid.
	CategoryDataError
	// CategoryUnauthorized no valid credentials were presented.
	CategoryUnauthorized
	// CategoryForbidden the caller may not perform the action.
	CategoryForbidden
	// CategoryResourceNotFound the referenced migration or universe does not exist.
	CategoryResourceNotFound
	// CategoryDataConflict the request clashes with the current migration state.
	CategoryDataConflict
	// CategoryTooManyRequests the caller exceeded the allowed request rate.
	CategoryTooManyRequests
	// CategoryDependencyFailure a chain or the database failed the request.
	CategoryDependencyFailure
	// CategoryGeneralError the relay failed in an unexpected way.
	CategoryGeneralError
	// CategoryRecovering the relay is starting up or shutting down.
	CategoryRecovering
)

var categories = map[Category]struct {
	name   string
	status int
}{
	CategoryDataError:         {"CategoryDataError", http.StatusBadRequest},
	CategoryUnauthorized:      {"CategoryUnauthorized", http.StatusUnauthorized},
	CategoryForbidden:         {"CategoryForbidden", http.StatusForbidden},
	CategoryResourceNotFound:  {"CategoryResourceNotFound", http.StatusNotFound},
	CategoryDataConflict:      {"CategoryDataConflict", http.StatusConflict},
	CategoryTooManyRequests:   {"CategoryTooManyRequests", http.StatusTooManyRequests},
	CategoryDependencyFailure: {"CategoryDependencyFailure", http.StatusBadGateway},
	CategoryGeneralError:      {"CategoryGeneralError", http.StatusInternalServerError},
	CategoryRecovering:        {"CategoryRecovering", http.StatusServiceUnavailable},
}

func (c Category) String() string {
	if info, ok := categories[c]; ok {
		return info.name
	}
	return "CategoryGeneralError"
}

// ServiceError represents service specific type that
// is used all over the services.
type ServiceError struct {
	Category Category
	Message  string
	Err      error
}

// Error returns the logged cause, falling back to the client message.
func (err ServiceError) Error() string {
	if err.Err != nil {
		return err.Err.Error()
	}
	return err.Message
}

// Unwrap returns the underlying error
func (err ServiceError) Unwrap() error {
	return err.Err
}

// StatusCode returns the HTTP status code for the error category
func (err ServiceError) StatusCode() int {
	if info, ok := categories[err.Category]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

// Is checks that provided error is a ServiceError with desired Category
func Is(err error, cat Category) bool {
	var svcErr *ServiceError
	return errors.As(err, &svcErr) && svcErr.Category == cat
}

// IsInternalError reports whether err should be logged as a relay fault
// rather than a caller mistake. Plain errors are internal.
func IsInternalError(err error) bool {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) && svcErr.Category < CategoryDependencyFailure {
		return false
	}
	return true
}

func newError(cat Category, err error, fallback, message string) error {
	if err == nil {
		err = errors.New(fallback)
	}
	return &ServiceError{Category: cat, Message: message, Err: err}
}

// GeneralError hides err behind "Internal Server Error".
func GeneralError(err error) error {
	return newError(CategoryGeneralError, err, "internal server error", "Internal Server Error")
}

// ResourceNotFoundError returns an error with category ResourceNotFound
// the error message provided is returned to the user
// the err object provided is logged in logger
func ResourceNotFoundError(err error, message string) error {
	return newError(CategoryResourceNotFound, err, "resource not found: "+message, message)
}

// BadRequestError returns an error with category DataError.
func BadRequestError(err error, message string) error {
	return newError(CategoryDataError, err, "bad request: "+message, message)
}

// ForbiddenError returns an error with category Forbidden.
func ForbiddenError(err error, message string) error {
	return newError(CategoryForbidden, err, "request forbidden", message)
}

// UnAuthorizedError returns an error with category Unauthorized.
func UnAuthorizedError(err error, message string) error {
	return newError(CategoryUnauthorized, err, "unauthorized", message)
}

// ConflictError returns an error with category DataConflict.
func ConflictError(err error, message string) error {
	return newError(CategoryDataConflict, err, "conflict", message)
}

// TooManyRequestsError is rendered with a Retry-After header.
func TooManyRequestsError(err error, message string) error {
	return newError(CategoryTooManyRequests, err, "too many requests", message)
}

// DependencyFailureError reports a chain or database failure as 502.
func DependencyFailureError(err error, message string) error {
	return newError(CategoryDependencyFailure, err, "dependency failure", message)
}

// UnavailableError reports 503 while the relay cannot accept work.
func UnavailableError(err error, message string) error {
	return newError(CategoryRecovering, err, "service unavailable", message)
}
