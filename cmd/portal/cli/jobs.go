// Package cli implements the operational subcommands of the portal binary.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-portal/jobs"
)

// RoleSyncEnqueuer submits role synchronization tasks.
type RoleSyncEnqueuer interface {
	EnqueueRoleSync(ctx context.Context, payload jobs.RoleSyncPayload) (*asynq.TaskInfo, error)
}

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	enqueuer  RoleSyncEnqueuer
	inspector jobs.QueueInspector
}

// NewJobsCLI builds the helpers over an enqueuer and a queue inspector.
func NewJobsCLI(enqueuer RoleSyncEnqueuer, inspector jobs.QueueInspector) *JobsCLI {
	return &JobsCLI{enqueuer: enqueuer, inspector: inspector}
}

// SyncRolesOptions defines the flags of jobs sync-roles.
type SyncRolesOptions struct {
	UserID     int64
	Roles      string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

type syncRolesSummary struct {
	TaskID  string  `json:"task_id"`
	Queue   string  `json:"queue"`
	UserID  int64   `json:"user_id"`
	RoleIDs []int64 `json:"role_ids"`
}

// SyncRolesCommand enqueues a role synchronization and returns the exit code.
func (c *JobsCLI) SyncRolesCommand(ctx context.Context, opts SyncRolesOptions) int {
	stdout, stderr := writers(opts.Stdout, opts.Stderr)
	if opts.UserID <= 0 {
		_, _ = fmt.Fprintln(stderr, "sync-roles: --user is required and must be positive")
		return 1
	}
	roleIDs, err := ParseIDList(opts.Roles)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "sync-roles: %v\n", err)
		return 1
	}
	info, err := c.enqueuer.EnqueueRoleSync(ctx, jobs.RoleSyncPayload{UserID: opts.UserID, RoleIDs: roleIDs})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "sync-roles: enqueue: %v\n", err)
		return 1
	}
	summary := syncRolesSummary{TaskID: info.ID, Queue: info.Queue, UserID: opts.UserID, RoleIDs: roleIDs}
	if opts.JSONOutput {
		if err := json.NewEncoder(stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(stderr, "sync-roles: encode json: %v\n", err)
			return 1
		}
		return 0
	}
	_, _ = fmt.Fprintf(stdout, "enqueued %s on %s: user %d -> roles %v\n", summary.TaskID, summary.Queue, summary.UserID, summary.RoleIDs)
	return 0
}

// StatsOptions defines the flags of jobs stats.
type StatsOptions struct {
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// StatsCommand prints the default queue state.
func (c *JobsCLI) StatsCommand(ctx context.Context, opts StatsOptions) int {
	stdout, stderr := writers(opts.Stdout, opts.Stderr)
	stats, err := jobs.QueueStats(c.inspector)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "stats: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(stdout).Encode(stats); err != nil {
			_, _ = fmt.Fprintf(stderr, "stats: encode json: %v\n", err)
			return 1
		}
		return 0
	}
	_, _ = fmt.Fprintf(stdout, "queue=%s pending=%d active=%d retry=%d archived=%d processed_today=%d failed_today=%d\n",
		stats.Queue, stats.Pending, stats.Active, stats.Retry, stats.Archived, stats.Processed, stats.Failed)
	return 0
}

// ParseIDList parses "1,2, 3" into ids. An empty string is the empty set.
func ParseIDList(raw string) ([]int64, error) {
	ids := []int64{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid role id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func writers(stdout, stderr io.Writer) (io.Writer, io.Writer) {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return stdout, stderr
}
