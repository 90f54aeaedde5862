package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
)

// Audit actions recorded for administrative changes.
const (
	AuditRolesSynchronized = "user_roles.synchronize"
	AuditRoleAssigned      = "user_roles.assign"
	AuditRoleRemoved       = "user_roles.remove"
	AuditRoleCreated       = "role.create"
	AuditPermissionCreated = "permission.create"
	AuditPermissionGranted = "role_permissions.grant"
	AuditPermissionRevoked = "role_permissions.revoke"
)

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// Execer is the write surface of a pgx pool or transaction.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	db Execer
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(db Execer) *AuditLogger {
	return &AuditLogger{db: db}
}

// Record persists the log entry. A zero At defaults to the database clock.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.db == nil {
		return errors.New("audit logger not initialised")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	if log.Meta == nil {
		log.Meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	var at any
	if !log.At.IsZero() {
		at = log.At
	}
	query, args, err := sq.StatementBuilder.PlaceholderFormat(sq.Dollar).
		Insert("audit_logs").
		Columns("actor_id", "action", "entity", "entity_id", "meta", "occurred_at").
		Values(log.ActorID, log.Action, log.Entity, log.EntityID, metaJSON, sq.Expr("COALESCE(?, NOW())", at)).
		ToSql()
	if err != nil {
		return err
	}
	_, err = l.db.Exec(ctx, query, args...)
	return err
}
