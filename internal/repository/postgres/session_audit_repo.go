// internal/repository/postgres/session_audit_repo.go
package postgres

import (
	"context"
	"fmt"

	"defiers-auth/internal/domain/auth"

	"github.com/jackc/pgx/v5"
)

const sessionEventsSchema = `
	CREATE TABLE IF NOT EXISTS session_events (
		id          BIGSERIAL PRIMARY KEY,
		session_id  TEXT        NOT NULL,
		user_id     TEXT        NOT NULL,
		event       TEXT        NOT NULL,
		reason      TEXT        NOT NULL DEFAULT '',
		ip_address  TEXT        NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_session_events_user_created
		ON session_events (user_id, created_at DESC);
`

type SessionAuditRepository struct {
	db *DB
}

func NewSessionAuditRepository(db *DB) *SessionAuditRepository {
	return &SessionAuditRepository{db: db}
}

// EnsureSchema creates the session_events table if it does not exist
func (r *SessionAuditRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Pool().Exec(ctx, sessionEventsSchema); err != nil {
		return fmt.Errorf("failed to create session_events: %w", err)
	}
	return nil
}

// Record appends one event to the audit trail
func (r *SessionAuditRepository) Record(ctx context.Context, e *auth.SessionEvent) error {
	query := `
		INSERT INTO session_events (session_id, user_id, event, reason, ip_address)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		e.SessionID, e.UserID, e.Event, e.Reason, e.IPAddress,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record session event: %w", err)
	}
	return nil
}

// ListByUser returns the user's most recent events, oldest first
func (r *SessionAuditRepository) ListByUser(ctx context.Context, userID string, limit int) ([]auth.SessionEvent, error) {
	query := `
		SELECT id, session_id, user_id, event, reason, ip_address, created_at
		FROM (
			SELECT id, session_id, user_id, event, reason, ip_address, created_at
			FROM session_events
			WHERE user_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list session events: %w", err)
	}

	events, err := pgx.CollectRows(rows, pgx.RowToStructByNameLax[auth.SessionEvent])
	if err != nil {
		return nil, fmt.Errorf("failed to scan session events: %w", err)
	}
	return events, nil
}

// DeleteByUser drops a user's audit trail and reports how many rows went
func (r *SessionAuditRepository) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	tag, err := r.db.Pool().Exec(ctx, `DELETE FROM session_events WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete session events: %w", err)
	}
	return tag.RowsAffected(), nil
}
