// Package apierr defines the controller's error taxonomy. Each error type
// carries its own HTTP status so handlers never hand-pick a status code
// from inside business logic.
package apierr

import (
	"fmt"
	"net/http"
)

type StatusError interface {
	error
	StatusCode() int
}

type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string  { return e.Msg }
func (e *ValidationError) StatusCode() int { return http.StatusBadRequest }

type AuthError struct{ Msg string }

func (e *AuthError) Error() string  { return e.Msg }
func (e *AuthError) StatusCode() int { return http.StatusUnauthorized }

// ForbiddenError is the token-scope mismatch case (§3.3 invariant): the
// caller authenticated fine but the token's runner doesn't own the
// resource named in the request.
type ForbiddenError struct{ Msg string }

func (e *ForbiddenError) Error() string  { return e.Msg }
func (e *ForbiddenError) StatusCode() int { return http.StatusForbidden }

type NotFoundError struct{ Msg string }

func (e *NotFoundError) Error() string  { return e.Msg }
func (e *NotFoundError) StatusCode() int { return http.StatusNotFound }

type ConflictError struct{ Msg string }

func (e *ConflictError) Error() string  { return e.Msg }
func (e *ConflictError) StatusCode() int { return http.StatusConflict }

type CooldownError struct{ Msg string }

func (e *CooldownError) Error() string  { return e.Msg }
func (e *CooldownError) StatusCode() int { return http.StatusTooManyRequests }

type BackendError struct {
	Msg string
	Err error
}

func (e *BackendError) Error() string  { return fmt.Sprintf("%s: %v", e.Msg, e.Err) }
func (e *BackendError) Unwrap() error  { return e.Err }
func (e *BackendError) StatusCode() int { return http.StatusBadGateway }

type CIAdapterError struct {
	Msg       string
	Err       error
	Retryable bool
}

func (e *CIAdapterError) Error() string  { return fmt.Sprintf("%s: %v", e.Msg, e.Err) }
func (e *CIAdapterError) Unwrap() error  { return e.Err }
func (e *CIAdapterError) StatusCode() int { return http.StatusBadGateway }

type StoreError struct{ Err error }

func (e *StoreError) Error() string  { return fmt.Sprintf("store error: %v", e.Err) }
func (e *StoreError) Unwrap() error  { return e.Err }
func (e *StoreError) StatusCode() int { return http.StatusInternalServerError }

type ReadinessTimeoutError struct{ Msg string }

func (e *ReadinessTimeoutError) Error() string  { return e.Msg }
func (e *ReadinessTimeoutError) StatusCode() int { return http.StatusGatewayTimeout }

// StatusCode extracts the HTTP status for any error in the apierr
// taxonomy, defaulting to 500 for anything else.
func StatusCode(err error) int {
	if se, ok := err.(StatusError); ok {
		return se.StatusCode()
	}
	return http.StatusInternalServerError
}
