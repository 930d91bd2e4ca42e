// Package ciadapter implements ports.CIAdapter for specific CI systems.
// GitLab is the reference adapter.
package ciadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/theblitlabs/gologger"
	"github.com/theblitlabs/parity-server/internal/core/models"
	"github.com/theblitlabs/parity-server/internal/core/ports"
)

type GitLab struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewGitLab(runner *models.Runner) *GitLab {
	return &GitLab{
		baseURL: strings.TrimRight(runner.CIBaseURL, "/"),
		token:   runner.CIToken,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type gitlabJob struct {
	Status string `json:"status"`
}

func (g *GitLab) GetJobStatus(ctx context.Context, jobID string) (ports.JobStatus, error) {
	log := gologger.WithComponent("ciadapter.gitlab")

	url := fmt.Sprintf("%s/api/v4/jobs/%s", g.baseURL, jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ports.JobUnknown, &notRetryable{err}
	}
	req.Header.Set("PRIVATE-TOKEN", g.token)

	resp, err := g.client.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("job_id", jobID).Msg("GitLab job status request failed")
		return ports.JobUnknown, &retryable{err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ports.JobUnknown, &notRetryable{fmt.Errorf("job %s not found", jobID)}
	}
	if resp.StatusCode != http.StatusOK {
		return ports.JobUnknown, &retryable{fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var job gitlabJob
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return ports.JobUnknown, &retryable{err}
	}

	return mapStatus(job.Status), nil
}

func mapStatus(s string) ports.JobStatus {
	switch s {
	case "success":
		return ports.JobSuccess
	case "failed":
		return ports.JobFailed
	case "canceled":
		return ports.JobCanceled
	case "running", "pending":
		return ports.JobRunning
	default:
		return ports.JobUnknown
	}
}

// PauseRunner and UnpauseRunner flip GitLab's inverted `active` flag.
// Active=false means paused. No-op (returns nil) when ciRunnerID is empty,
// matching the "pause/unpause silently skip when the runner has no CI
// runner id configured" rule.
func (g *GitLab) PauseRunner(ctx context.Context, ciRunnerID string) error {
	return g.setActive(ctx, ciRunnerID, false)
}

func (g *GitLab) UnpauseRunner(ctx context.Context, ciRunnerID string) error {
	return g.setActive(ctx, ciRunnerID, true)
}

func (g *GitLab) setActive(ctx context.Context, ciRunnerID string, active bool) error {
	if ciRunnerID == "" {
		return nil
	}

	body, err := json.Marshal(map[string]bool{"active": active})
	if err != nil {
		return &notRetryable{err}
	}

	url := fmt.Sprintf("%s/api/v4/runners/%s", g.baseURL, ciRunnerID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, strings.NewReader(string(body)))
	if err != nil {
		return &notRetryable{err}
	}
	req.Header.Set("PRIVATE-TOKEN", g.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return &retryable{err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &retryable{fmt.Errorf("unexpected status %d setting active=%v", resp.StatusCode, active)}
	}
	return nil
}

// retryable/notRetryable wrap the same underlying error with a Retryable
// flag so callers can distinguish "try again" network failures from a
// permanent misconfiguration — network errors are always retryable per
// the controller's error-handling policy.
type retryable struct{ err error }

func (e *retryable) Error() string  { return e.err.Error() }
func (e *retryable) Unwrap() error  { return e.err }
func (e *retryable) Retryable() bool { return true }

type notRetryable struct{ err error }

func (e *notRetryable) Error() string   { return e.err.Error() }
func (e *notRetryable) Unwrap() error   { return e.err }
func (e *notRetryable) Retryable() bool { return false }
