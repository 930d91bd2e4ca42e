package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/theblitlabs/gologger"
	"github.com/theblitlabs/parity-server/internal/core/models"
	"github.com/theblitlabs/parity-server/internal/core/services"
	"github.com/theblitlabs/parity-server/internal/database/repositories"
)

// WebhookHandler is one of the three completion-detector sources (C9):
// GitLab/GitHub push job-completion events here instead of waiting on the
// poller's own schedule.
type WebhookHandler struct {
	checkpoints  *services.CheckpointService
	repo         *repositories.CheckpointRepository
	gitlabSecret string
	githubSecret string
}

func NewWebhookHandler(checkpoints *services.CheckpointService, repo *repositories.CheckpointRepository, gitlabSecret, githubSecret string) *WebhookHandler {
	return &WebhookHandler{
		checkpoints:  checkpoints,
		repo:         repo,
		gitlabSecret: gitlabSecret,
		githubSecret: githubSecret,
	}
}

var gitlabStatusMap = map[string]models.FinalizeStatus{
	"success":  models.FinalizeSuccess,
	"failed":   models.FinalizeFailure,
	"canceled": models.FinalizeCanceled,
}

func (h *WebhookHandler) GitLab(c *gin.Context) {
	token := c.GetHeader("X-Gitlab-Token")
	if h.gitlabSecret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.gitlabSecret)) != 1 {
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid webhook token"})
		return
	}

	var body struct {
		ObjectKind  string `json:"object_kind"`
		BuildID     int64  `json:"build_id"`
		BuildStatus string `json:"build_status"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	if body.ObjectKind != "build" || body.BuildID == 0 || body.BuildStatus == "" {
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	status, ok := gitlabStatusMap[body.BuildStatus]
	if !ok {
		// Non-terminal status (running, pending, created, ...).
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	h.queueFromJobID(c, strconv.FormatInt(body.BuildID, 10), status, "gitlab")
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

var githubConclusionMap = map[string]models.FinalizeStatus{
	"success":   models.FinalizeSuccess,
	"failure":   models.FinalizeFailure,
	"cancelled": models.FinalizeCanceled,
	"timed_out": models.FinalizeFailure,
}

func (h *WebhookHandler) GitHub(c *gin.Context) {
	rawBody, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read request body"})
		return
	}

	signature := c.GetHeader("X-Hub-Signature-256")
	if !verifyGithubSignature(h.githubSecret, rawBody, signature) {
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid webhook signature"})
		return
	}

	if c.GetHeader("X-GitHub-Event") != "workflow_job" {
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	var body struct {
		Action      string `json:"action"`
		WorkflowJob struct {
			ID         int64  `json:"id"`
			Conclusion string `json:"conclusion"`
		} `json:"workflow_job"`
	}
	if err := json.Unmarshal(rawBody, &body); err != nil || body.Action != "completed" {
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	if body.WorkflowJob.ID == 0 || body.WorkflowJob.Conclusion == "" {
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	status, ok := githubConclusionMap[body.WorkflowJob.Conclusion]
	if !ok {
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	h.queueFromJobID(c, strconv.FormatInt(body.WorkflowJob.ID, 10), status, "github")
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *WebhookHandler) queueFromJobID(c *gin.Context, jobID string, status models.FinalizeStatus, source string) {
	log := gologger.WithComponent("webhook_handler")

	checkpoint, err := h.repo.GetByJobID(c.Request.Context(), jobID)
	if err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("webhook: looking up checkpoint failed")
		return
	}
	if checkpoint == nil {
		log.Debug().Str("job_id", jobID).Msg("webhook: no checkpoint for job_id")
		return
	}
	if checkpoint.State != models.StateCreated {
		log.Debug().Str("checkpoint", checkpoint.Name).Str("state", string(checkpoint.State)).
			Msg("webhook: checkpoint not in created state")
		return
	}

	_, already, err := h.checkpoints.QueueFinalize(c.Request.Context(), checkpoint.Name, status, models.SourceWebhook)
	if err != nil {
		log.Error().Err(err).Str("checkpoint", checkpoint.Name).Msg("webhook: failed to queue finalize")
		return
	}
	if !already {
		log.Info().Str("checkpoint", checkpoint.Name).Str("status", string(status)).Str("source", source).
			Msg("webhook queued finalize")
	}
}

func verifyGithubSignature(secret string, body []byte, signature string) bool {
	if secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
