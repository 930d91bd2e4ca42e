package models

import "time"

// OperationLog is an append-only audit row written once per backend/CI/
// agent operation a checkpoint's lifecycle performs. Never updated after
// insert.
type OperationLog struct {
	ID           uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	CheckpointID uint      `json:"checkpoint_id" gorm:"index"`
	RunnerID     string    `json:"runner_id" gorm:"type:varchar(255);index"`
	Operation    string    `json:"operation" gorm:"type:varchar(64)"`
	Backend      Backend   `json:"backend" gorm:"type:varchar(32)"`
	Detail       string    `json:"detail" gorm:"type:text"`
	Result       string    `json:"result" gorm:"type:varchar(16)"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	DurationMs   int64     `json:"duration_ms"`
	CreatedAt    time.Time `json:"created_at" gorm:"autoCreateTime"`
}
