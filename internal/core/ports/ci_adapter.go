package ports

import "context"

type JobStatus string

const (
	JobRunning  JobStatus = "running"
	JobSuccess  JobStatus = "success"
	JobFailed   JobStatus = "failed"
	JobCanceled JobStatus = "canceled"
	JobUnknown  JobStatus = "unknown"
)

// CIAdapter isolates the controller from a specific CI system's API.
// GitLab is the reference implementation; additional adapters are added
// to the unexported registry map in ciadapter/registry.go without
// touching any caller.
type CIAdapter interface {
	GetJobStatus(ctx context.Context, jobID string) (JobStatus, error)
	PauseRunner(ctx context.Context, ciRunnerID string) error
	UnpauseRunner(ctx context.Context, ciRunnerID string) error
}
