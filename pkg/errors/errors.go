// Package errors defines the sentinel errors shared by the code-search
// service and maps them onto HTTP status codes.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrLoad          = errors.New("vocabulary load failed")
	ErrInvalidQuery  = errors.New("invalid query")
	ErrCodeNotFound  = errors.New("code not found")
	ErrNotReady      = errors.New("vocabulary not loaded")
	ErrCacheDisabled = errors.New("cache disabled")
)

// AppError attaches a caller-facing message and status code to a sentinel.
type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, ErrCodeNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrLoad), errors.Is(err, ErrNotReady), errors.Is(err, ErrCacheDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
