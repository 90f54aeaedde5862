package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-portal/internal/jobs"
	"github.com/odyssey-erp/odyssey-portal/internal/rbac"
)

// RoleSynchronizer applies a desired role set to a user.
type RoleSynchronizer interface {
	SynchronizeRoles(ctx context.Context, userID int64, desired []int64) error
}

// RoleSyncJob runs TaskRoleSync tasks.
type RoleSyncJob struct {
	Service RoleSynchronizer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewRoleSyncJob constructs the job handler.
func NewRoleSyncJob(service RoleSynchronizer, logger *slog.Logger, metrics *jobmetrics.Metrics) *RoleSyncJob {
	return &RoleSyncJob{Service: service, Logger: logger, Metrics: metrics}
}

// Handle executes one synchronization. Malformed payloads and unknown users or
// roles are not retried; lock contention and store failures are.
func (j *RoleSyncJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("jobs: role sync not configured")
	}
	var payload RoleSyncPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil || payload.UserID <= 0 {
		j.Logger.Warn("role sync payload rejected", slog.String("payload", string(task.Payload())))
		return fmt.Errorf("%w: %w", errInvalidPayload, asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskRoleSync)
	err := j.Service.SynchronizeRoles(ctx, payload.UserID, payload.RoleIDs)
	_ = tracker.End(err)

	switch {
	case err == nil:
		j.Logger.Info("role sync complete",
			slog.Int64("user_id", payload.UserID),
			slog.Int("roles", len(payload.RoleIDs)),
		)
		return nil
	case errors.Is(err, rbac.ErrNotFound):
		j.Logger.Warn("role sync target missing",
			slog.Int64("user_id", payload.UserID),
			slog.Any("error", err),
		)
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	default:
		j.Logger.Error("role sync failed",
			slog.Int64("user_id", payload.UserID),
			slog.Any("error", err),
		)
		return err
	}
}
