package jobs

import (
	"encoding/json"
	"errors"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskRoleSync replaces a user's role set with the payload's role ids.
	TaskRoleSync = "rbac:sync_roles"
)

// RoleSyncPayload names the user and the complete desired role set.
type RoleSyncPayload struct {
	UserID  int64   `json:"user_id"`
	RoleIDs []int64 `json:"role_ids"`
}

var errInvalidPayload = errors.New("jobs: invalid payload")

// NewRoleSyncTask constructs an Asynq task for role synchronization.
func NewRoleSyncTask(payload RoleSyncPayload) (*asynq.Task, error) {
	if payload.UserID <= 0 {
		return nil, errInvalidPayload
	}
	if payload.RoleIDs == nil {
		payload.RoleIDs = []int64{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRoleSync, body, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}
