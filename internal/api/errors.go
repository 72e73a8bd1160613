package api

import (
	"fmt"
	"net/http"
	"strings"
)

type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func lower(s string) string {
	return strings.ToLower(s)
}

func newApiError(code int, message string) *ApiError {
	if message == "" {
		message = lower(http.StatusText(code))
	}

	return &ApiError{
		StatusCode: code,
		Message:    message,
	}
}

func NewBadRequestError() *ApiError {
	return newApiError(http.StatusBadRequest, "")
}

// NewValidationError is a 400 carrying a message the caller can act on.
func NewValidationError(message string) *ApiError {
	return newApiError(http.StatusBadRequest, message)
}

func NewNotFoundError() *ApiError {
	return newApiError(http.StatusNotFound, "")
}

// NewInternalServerError keeps err for logging only. The response body is
// always the generic status text.
func NewInternalServerError(err error) *ApiError {
	e := newApiError(http.StatusInternalServerError, "")
	e.Err = err
	return e
}

func NewUnauthorizedError() *ApiError {
	return newApiError(http.StatusUnauthorized, "")
}

func NewInvalidCredentialsError() *ApiError {
	return newApiError(http.StatusUnauthorized, "invalid email or password")
}

func NewForbiddenError() *ApiError {
	return newApiError(http.StatusForbidden, "")
}

func NewConflictError(message string) *ApiError {
	return newApiError(http.StatusConflict, message)
}
