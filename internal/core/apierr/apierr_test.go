package apierr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusCode_PerErrorType(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &ValidationError{Msg: "bad input"}, http.StatusBadRequest},
		{"auth", &AuthError{Msg: "no token"}, http.StatusUnauthorized},
		{"forbidden", &ForbiddenError{Msg: "scope mismatch"}, http.StatusForbidden},
		{"not found", &NotFoundError{Msg: "missing"}, http.StatusNotFound},
		{"conflict", &ConflictError{Msg: "already exists"}, http.StatusConflict},
		{"cooldown", &CooldownError{Msg: "too soon"}, http.StatusTooManyRequests},
		{"backend", &BackendError{Msg: "boom", Err: errors.New("x")}, http.StatusBadGateway},
		{"ci adapter", &CIAdapterError{Msg: "boom", Err: errors.New("x")}, http.StatusBadGateway},
		{"store", &StoreError{Err: errors.New("x")}, http.StatusInternalServerError},
		{"readiness timeout", &ReadinessTimeoutError{Msg: "timed out"}, http.StatusGatewayTimeout},
		{"unrecognized error defaults to 500", errors.New("plain error"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusCode(tt.err))
		})
	}
}

func TestBackendError_Unwrap(t *testing.T) {
	inner := errors.New("dial tcp: connection refused")
	err := &BackendError{Msg: "create_checkpoint failed", Err: inner}
	assert.ErrorIs(t, err, inner)
}

func TestCIAdapterError_Unwrap(t *testing.T) {
	inner := errors.New("unexpected status 503")
	err := &CIAdapterError{Msg: "pause_runner failed", Err: inner}
	assert.ErrorIs(t, err, inner)
}

func TestStoreError_Unwrap(t *testing.T) {
	inner := errors.New("connection reset")
	err := &StoreError{Err: inner}
	assert.ErrorIs(t, err, inner)
}
