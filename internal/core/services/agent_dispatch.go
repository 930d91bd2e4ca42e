package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/theblitlabs/parity-server/internal/core/apierr"
	"github.com/theblitlabs/parity-server/internal/core/models"
)

// agentRequestHandler has the same signature as agentchannel.RequestHandler
// (func(ctx, runnerID, reqType string, payload json.RawMessage) (json.RawMessage, error))
// but is declared here without importing agentchannel; server_builder.go
// converts it to agentchannel.RequestHandler when registering it on the Hub.
type agentRequestHandler func(ctx context.Context, runnerID string, reqType string, payload json.RawMessage) (json.RawMessage, error)

type agentCreatePayload struct {
	JobID string `json:"job_id"`
}

type agentFinalizePayload struct {
	CheckpointName string `json:"checkpoint_name"`
	Status         string `json:"status"`
}

type agentStatusPayload struct {
	CheckpointName string `json:"checkpoint_name"`
}

// NewAgentDispatcher builds the agent-channel request handler for the
// runner-host hook path (spec §4.6/§4.9(a)): an e2epool-agent daemon's
// create/finalize/status CLI verbs arrive here as agent-initiated WS
// requests and are answered by calling straight into CheckpointService,
// same as the HTTP handlers do for the hook/poller/webhook sources.
// Finalize is always tagged source=agent, matching §4.6's message body.
func NewAgentDispatcher(checkpoints *CheckpointService) agentRequestHandler {
	return func(ctx context.Context, runnerID, reqType string, payload json.RawMessage) (json.RawMessage, error) {
		switch reqType {
		case "create":
			var req agentCreatePayload
			if err := json.Unmarshal(payload, &req); err != nil {
				return nil, fmt.Errorf("invalid create payload: %w", err)
			}
			checkpoint, err := checkpoints.Create(ctx, runnerID, req.JobID)
			if err != nil {
				return nil, err
			}
			return json.Marshal(checkpoint)

		case "finalize":
			var req agentFinalizePayload
			if err := json.Unmarshal(payload, &req); err != nil {
				return nil, fmt.Errorf("invalid finalize payload: %w", err)
			}
			status := models.FinalizeStatus(req.Status)
			switch status {
			case models.FinalizeSuccess, models.FinalizeFailure, models.FinalizeCanceled:
			default:
				return nil, fmt.Errorf("status must be one of: success, failure, canceled")
			}
			existing, err := checkpoints.GetStatus(ctx, req.CheckpointName)
			if err != nil {
				return nil, err
			}
			if existing.RunnerID != runnerID {
				return nil, &apierr.ForbiddenError{Msg: "checkpoint does not belong to authenticated runner"}
			}
			checkpoint, _, err := checkpoints.QueueFinalize(ctx, req.CheckpointName, status, models.SourceAgent)
			if err != nil {
				return nil, err
			}
			return json.Marshal(checkpoint)

		case "status":
			var req agentStatusPayload
			if err := json.Unmarshal(payload, &req); err != nil {
				return nil, fmt.Errorf("invalid status payload: %w", err)
			}
			checkpoint, err := checkpoints.GetStatus(ctx, req.CheckpointName)
			if err != nil {
				return nil, err
			}
			return json.Marshal(checkpoint)

		default:
			return nil, fmt.Errorf("unknown agent request type: %s", reqType)
		}
	}
}
