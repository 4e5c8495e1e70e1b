package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gatehouse-io/gatehouse/pkg/observability"
)

// Logger writes audit entries to PostgreSQL. Audit writes are
// best-effort: a failure is logged, never propagated to the operation
// that triggered it.
type Logger struct {
	db  *sql.DB
	log *observability.Logger
}

// NewLogger creates a database-backed audit logger.
func NewLogger(db *sql.DB, log *observability.Logger) *Logger {
	if log == nil {
		log = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Logger{db: db, log: log}
}

// Record persists an audit entry.
func (l *Logger) Record(ctx context.Context, entry Entry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	var detailJSON any
	if entry.Detail != nil {
		data, err := json.Marshal(entry.Detail)
		if err != nil {
			l.log.WithError(err).Warn("failed to marshal audit detail")
		} else {
			detailJSON = string(data)
		}
	}

	query := `
		INSERT INTO audit_logs (id, tenant_id, actor_id, action, target_type, target_id, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := l.db.ExecContext(ctx, query,
		entry.ID, nullable(entry.TenantID), nullable(entry.ActorID),
		entry.Action, entry.TargetType, nullable(entry.TargetID), detailJSON,
	)
	if err != nil {
		l.log.WithError(err).WithField("action", string(entry.Action)).Warn("audit write failed")
	}
}

// ListByTenant returns the most recent entries for a tenant, newest first.
func (l *Logger) ListByTenant(ctx context.Context, tenantID string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `
		SELECT id, tenant_id, actor_id, action, target_type, target_id, detail, created_at
		FROM audit_logs
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := l.db.QueryContext(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var tenant, actor, target, detail sql.NullString
		var createdAt time.Time
		if err := rows.Scan(&entry.ID, &tenant, &actor, &entry.Action, &entry.TargetType, &target, &detail, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entry.TenantID = tenant.String
		entry.ActorID = actor.String
		entry.TargetID = target.String
		entry.CreatedAt = createdAt
		if detail.Valid {
			if err := json.Unmarshal([]byte(detail.String), &entry.Detail); err != nil {
				return nil, fmt.Errorf("failed to unmarshal audit detail: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
