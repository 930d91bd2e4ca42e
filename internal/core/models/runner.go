package models

import "time"

// Backend identifies which reset driver a runner uses.
type Backend string

const (
	BackendProxmox   Backend = "proxmox"
	BackendBareMetal Backend = "bare_metal"
)

// Runner is an admin-registered CI runner host. Token authenticates both
// the agent-channel WebSocket handshake and the checkpoint HTTP API.
type Runner struct {
	ID       uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	RunnerID string `json:"runner_id" gorm:"type:varchar(255);uniqueIndex"`
	Token    string `json:"-" gorm:"type:varchar(255);uniqueIndex"`
	Backend  Backend `json:"backend" gorm:"type:varchar(32)"`
	CIAdapter string `json:"ci_adapter" gorm:"type:varchar(32)"`

	// Hypervisor (proxmox) backend fields.
	ProxmoxHost       string `json:"proxmox_host,omitempty" gorm:"type:varchar(255)"`
	ProxmoxTokenName  string `json:"-" gorm:"type:varchar(255)"`
	ProxmoxTokenValue string `json:"-" gorm:"type:varchar(255)"`
	ProxmoxNode       string `json:"proxmox_node,omitempty" gorm:"type:varchar(255)"`
	ProxmoxVMID       int    `json:"proxmox_vmid,omitempty"`

	// Bare-metal backend fields: commands executed over the agent channel.
	ResetCmd     string `json:"reset_cmd,omitempty" gorm:"type:text"`
	CleanupCmd   string `json:"cleanup_cmd,omitempty" gorm:"type:text"`
	ReadinessCmd string `json:"readiness_cmd,omitempty" gorm:"type:text"`

	// CI adapter fields.
	CIBaseURL  string `json:"ci_base_url,omitempty" gorm:"type:varchar(255)"`
	CIToken    string `json:"-" gorm:"type:varchar(255)"`
	CIRunnerID string `json:"ci_runner_id,omitempty" gorm:"type:varchar(255)"`

	IsActive  bool      `json:"is_active" gorm:"default:true"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (r *Runner) Validate() error {
	if r.RunnerID == "" {
		return ErrValidation("runner_id is required")
	}
	switch r.Backend {
	case BackendProxmox:
		if r.ProxmoxHost == "" || r.ProxmoxNode == "" || r.ProxmoxVMID == 0 {
			return ErrValidation("proxmox_host, proxmox_node and proxmox_vmid are required for backend=proxmox")
		}
	case BackendBareMetal:
		if r.ResetCmd == "" {
			return ErrValidation("reset_cmd is required for backend=bare_metal")
		}
	default:
		return ErrValidation("backend must be one of: proxmox, bare_metal")
	}
	return nil
}

// ErrValidation is a lightweight validation error used by model-level
// invariant checks, independent of the richer apierr taxonomy the HTTP
// layer uses to pick a status code.
type ErrValidation string

func (e ErrValidation) Error() string { return string(e) }
