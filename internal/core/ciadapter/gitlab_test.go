package ciadapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/theblitlabs/parity-server/internal/core/models"
	"github.com/theblitlabs/parity-server/internal/core/ports"
)

func newTestGitLab(t *testing.T, handler http.HandlerFunc) (*GitLab, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	g := NewGitLab(&models.Runner{
		CIBaseURL: srv.URL,
		CIToken:   "test-token",
	})
	return g, srv
}

func TestMapStatus(t *testing.T) {
	tests := []struct {
		in   string
		want ports.JobStatus
	}{
		{"success", ports.JobSuccess},
		{"failed", ports.JobFailed},
		{"canceled", ports.JobCanceled},
		{"running", ports.JobRunning},
		{"pending", ports.JobRunning},
		{"skipped", ports.JobUnknown},
		{"", ports.JobUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, mapStatus(tt.in))
		})
	}
}

func TestGitLab_GetJobStatus_Success(t *testing.T) {
	g, _ := newTestGitLab(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v4/jobs/123", r.URL.Path)
		assert.Equal(t, "test-token", r.Header.Get("PRIVATE-TOKEN"))
		_ = json.NewEncoder(w).Encode(gitlabJob{Status: "success"})
	})

	status, err := g.GetJobStatus(context.Background(), "123")
	require.NoError(t, err)
	assert.Equal(t, ports.JobSuccess, status)
}

func TestGitLab_GetJobStatus_NotFoundIsNotRetryable(t *testing.T) {
	g, _ := newTestGitLab(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	status, err := g.GetJobStatus(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, ports.JobUnknown, status)

	var nr *notRetryable
	assert.ErrorAs(t, err, &nr)
}

func TestGitLab_GetJobStatus_ServerErrorIsRetryable(t *testing.T) {
	g, _ := newTestGitLab(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := g.GetJobStatus(context.Background(), "123")
	require.Error(t, err)

	var rt *retryable
	assert.ErrorAs(t, err, &rt)
}

func TestGitLab_PauseUnpause_NoopWithoutCIRunnerID(t *testing.T) {
	called := false
	g, _ := newTestGitLab(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	require.NoError(t, g.PauseRunner(context.Background(), ""))
	require.NoError(t, g.UnpauseRunner(context.Background(), ""))
	assert.False(t, called, "setActive must not hit the network when ciRunnerID is empty")
}

func TestGitLab_PauseRunner_SetsActiveFalse(t *testing.T) {
	var gotBody map[string]bool
	g, _ := newTestGitLab(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/v4/runners/runner-42", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, g.PauseRunner(context.Background(), "runner-42"))
	assert.Equal(t, map[string]bool{"active": false}, gotBody)
}

func TestGitLab_UnpauseRunner_SetsActiveTrue(t *testing.T) {
	var gotBody map[string]bool
	g, _ := newTestGitLab(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, g.UnpauseRunner(context.Background(), "runner-42"))
	assert.Equal(t, map[string]bool{"active": true}, gotBody)
}

func TestGitLab_SetActive_PropagatesServerError(t *testing.T) {
	g, _ := newTestGitLab(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	err := g.PauseRunner(context.Background(), "runner-42")
	require.Error(t, err)
	var rt *retryable
	assert.ErrorAs(t, err, &rt)
}
