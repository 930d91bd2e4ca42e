package handlers

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestContext(method, path string, body []byte, headers map[string]string) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range headers {
		c.Request.Header.Set(k, v)
	}
	return c, w
}

func TestWebhookHandler_GitLab_RejectsMissingSecret(t *testing.T) {
	h := NewWebhookHandler(nil, nil, "", "")
	c, w := newTestContext(http.MethodPost, "/webhooks/gitlab", []byte(`{}`), nil)

	h.GitLab(c)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestWebhookHandler_GitLab_RejectsWrongToken(t *testing.T) {
	h := NewWebhookHandler(nil, nil, "correct-secret", "")
	c, w := newTestContext(http.MethodPost, "/webhooks/gitlab", []byte(`{}`), map[string]string{
		"X-Gitlab-Token": "wrong-secret",
	})

	h.GitLab(c)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestWebhookHandler_GitLab_IgnoresNonBuildEvents(t *testing.T) {
	h := NewWebhookHandler(nil, nil, "correct-secret", "")
	body := []byte(`{"object_kind":"pipeline","build_id":1,"build_status":"success"}`)
	c, w := newTestContext(http.MethodPost, "/webhooks/gitlab", body, map[string]string{
		"X-Gitlab-Token": "correct-secret",
	})

	h.GitLab(c)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhookHandler_GitLab_IgnoresNonTerminalBuildStatus(t *testing.T) {
	h := NewWebhookHandler(nil, nil, "correct-secret", "")
	body := []byte(`{"object_kind":"build","build_id":7,"build_status":"running"}`)
	c, w := newTestContext(http.MethodPost, "/webhooks/gitlab", body, map[string]string{
		"X-Gitlab-Token": "correct-secret",
	})

	// A non-terminal status must short-circuit before ever touching
	// h.repo/h.checkpoints (both nil here), so reaching 200 with no panic
	// is itself the assertion.
	h.GitLab(c)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhookHandler_GitLab_MalformedBodyStillAcks(t *testing.T) {
	h := NewWebhookHandler(nil, nil, "correct-secret", "")
	c, w := newTestContext(http.MethodPost, "/webhooks/gitlab", []byte(`not json`), map[string]string{
		"X-Gitlab-Token": "correct-secret",
	})

	h.GitLab(c)

	assert.Equal(t, http.StatusOK, w.Code, "GitLab retries on non-2xx, so malformed payloads must still be acked")
}

func TestWebhookHandler_GitHub_RejectsBadSignature(t *testing.T) {
	h := NewWebhookHandler(nil, nil, "", "github-secret")
	c, w := newTestContext(http.MethodPost, "/webhooks/github", []byte(`{}`), map[string]string{
		"X-Hub-Signature-256": "sha256=deadbeef",
		"X-GitHub-Event":      "workflow_job",
	})

	h.GitHub(c)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestWebhookHandler_GitHub_IgnoresNonWorkflowJobEvents(t *testing.T) {
	secret := "github-secret"
	body := []byte(`{}`)
	h := NewWebhookHandler(nil, nil, "", secret)
	c, w := newTestContext(http.MethodPost, "/webhooks/github", body, map[string]string{
		"X-Hub-Signature-256": githubSignatureFor(t, secret, body),
		"X-GitHub-Event":      "push",
	})

	h.GitHub(c)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhookHandler_GitHub_IgnoresNonCompletedAction(t *testing.T) {
	secret := "github-secret"
	body := []byte(`{"action":"in_progress","workflow_job":{"id":1,"conclusion":""}}`)
	h := NewWebhookHandler(nil, nil, "", secret)
	c, w := newTestContext(http.MethodPost, "/webhooks/github", body, map[string]string{
		"X-Hub-Signature-256": githubSignatureFor(t, secret, body),
		"X-GitHub-Event":      "workflow_job",
	})

	h.GitHub(c)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestVerifyGithubSignature(t *testing.T) {
	body := []byte(`{"hello":"world"}`)
	secret := "shh"
	good := githubSignatureFor(t, secret, body)

	assert.True(t, verifyGithubSignature(secret, body, good))
	assert.False(t, verifyGithubSignature(secret, body, "sha256=0000000000000000000000000000000000000000000000000000000000000000"))
	assert.False(t, verifyGithubSignature("", body, good), "empty configured secret must never validate")
}

func TestGitlabStatusMap_CoversDocumentedTerminalStates(t *testing.T) {
	require.Contains(t, gitlabStatusMap, "success")
	require.Contains(t, gitlabStatusMap, "failed")
	require.Contains(t, gitlabStatusMap, "canceled")
}

func TestGithubConclusionMap_TimedOutCountsAsFailure(t *testing.T) {
	status, ok := githubConclusionMap["timed_out"]
	require.True(t, ok)
	assert.Equal(t, "failure", string(status))
}

func githubSignatureFor(t *testing.T, secret string, body []byte) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
