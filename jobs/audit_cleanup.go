package jobs

import (
	"context"
	"encoding/json"
	"errors"

	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/nexhub/nexhub/internal/audit"
)

// AuditCleanupJob purges audit entries past the retention window. The
// engine never triggers it on its own; the scheduler does.
type AuditCleanupJob struct {
	Audit  *audit.Service
	Logger *slog.Logger
}

// NewAuditCleanupJob initialises the purge handler.
func NewAuditCleanupJob(service *audit.Service, logger *slog.Logger) *AuditCleanupJob {
	return &AuditCleanupJob{Audit: service, Logger: logger}
}

// Handle executes one purge run.
func (j *AuditCleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Audit == nil {
		return errors.New("audit cleanup: handler not configured")
	}
	var payload AuditCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.RetentionDays <= 0 {
		payload.RetentionDays = 90
	}
	removed, err := j.Audit.CleanupOldLogs(ctx, payload.RetentionDays)
	if err != nil {
		if j.Logger != nil {
			j.Logger.Error("audit cleanup", slog.Any("error", err))
		}
		return err
	}
	if j.Logger != nil {
		j.Logger.Info("audit cleanup complete", slog.Int64("removed", removed))
	}
	return nil
}
