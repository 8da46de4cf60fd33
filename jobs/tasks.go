package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAuditCleanup is the task type for the audit retention purge.
	TaskAuditCleanup = "audit:cleanup"
)

// AuditCleanupPayload carries the retention window for a purge run.
type AuditCleanupPayload struct {
	RetentionDays int `json:"retention_days"`
}

// NewAuditCleanupTask constructs an Asynq task.
func NewAuditCleanupTask(payload AuditCleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditCleanup, data), nil
}
