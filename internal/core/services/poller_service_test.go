package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/theblitlabs/parity-server/internal/core/models"
	"github.com/theblitlabs/parity-server/internal/core/ports"
)

func TestMapJobStatus(t *testing.T) {
	tests := []struct {
		name           string
		status         ports.JobStatus
		wantStatus     models.FinalizeStatus
		wantTerminal   bool
	}{
		{"success is terminal", ports.JobSuccess, models.FinalizeSuccess, true},
		{"failed is terminal", ports.JobFailed, models.FinalizeFailure, true},
		{"canceled is terminal", ports.JobCanceled, models.FinalizeCanceled, true},
		{"running is not terminal", ports.JobRunning, "", false},
		{"unknown is not terminal", ports.JobUnknown, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotStatus, gotTerminal := mapJobStatus(tt.status)
			assert.Equal(t, tt.wantTerminal, gotTerminal)
			assert.Equal(t, tt.wantStatus, gotStatus)
		})
	}
}
