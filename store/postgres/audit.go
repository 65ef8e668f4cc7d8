package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/feedrlabs/identity"
)

// auditRow carries the JSONB detail column through sqlx; the map form
// lives only on identity.AuditEntry.
type auditRow struct {
	ID            uuid.UUID            `db:"id"`
	ActorID       uuid.UUID            `db:"actor_id"`
	ActorUsername string               `db:"actor_username"`
	Action        identity.AuditAction `db:"action"`
	TargetType    string               `db:"target_type"`
	TargetID      string               `db:"target_id"`
	TargetLabel   string               `db:"target_label"`
	Detail        []byte               `db:"detail"`
	IP            string               `db:"ip"`
	UserAgent     string               `db:"user_agent"`
	CreatedAt     time.Time            `db:"created_at"`
}

func (r *auditRow) toEntry() (identity.AuditEntry, error) {
	entry := identity.AuditEntry{
		ID:            r.ID,
		ActorID:       r.ActorID,
		ActorUsername: r.ActorUsername,
		Action:        r.Action,
		TargetType:    r.TargetType,
		TargetID:      r.TargetID,
		TargetLabel:   r.TargetLabel,
		IP:            r.IP,
		UserAgent:     r.UserAgent,
		CreatedAt:     r.CreatedAt,
	}
	if len(r.Detail) > 0 {
		if err := json.Unmarshal(r.Detail, &entry.Detail); err != nil {
			return entry, fmt.Errorf("postgres: decode audit detail: %w", err)
		}
	}
	return entry, nil
}

func (s *Store) InsertAuditEntry(ctx context.Context, entry *identity.AuditEntry) error {
	var detail []byte
	if len(entry.Detail) > 0 {
		var err error
		detail, err = json.Marshal(entry.Detail)
		if err != nil {
			return fmt.Errorf("postgres: encode audit detail: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, actor_id, actor_username, action,
			target_type, target_id, target_label, detail,
			ip, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.ID, entry.ActorID, entry.ActorUsername, entry.Action,
		entry.TargetType, entry.TargetID, entry.TargetLabel, detail,
		entry.IP, entry.UserAgent, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert audit entry: %w", err)
	}
	return nil
}

func (s *Store) AuditEntriesByTime(ctx context.Context, from, to time.Time, page identity.Page) ([]identity.AuditEntry, error) {
	return s.auditQuery(ctx, `
		SELECT * FROM audit_log
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`, from, to, page.Size, page.Offset)
}

func (s *Store) AuditEntriesByActor(ctx context.Context, actorID uuid.UUID, page identity.Page) ([]identity.AuditEntry, error) {
	return s.auditQuery(ctx, `
		SELECT * FROM audit_log
		WHERE actor_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, actorID, page.Size, page.Offset)
}

func (s *Store) AuditEntriesByTarget(ctx context.Context, targetType, targetID string, page identity.Page) ([]identity.AuditEntry, error) {
	return s.auditQuery(ctx, `
		SELECT * FROM audit_log
		WHERE target_type = $1 AND target_id = $2
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`, targetType, targetID, page.Size, page.Offset)
}

func (s *Store) auditQuery(ctx context.Context, query string, args ...any) ([]identity.AuditEntry, error) {
	var rows []auditRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("postgres: audit query: %w", err)
	}
	entries := make([]identity.AuditEntry, 0, len(rows))
	for i := range rows {
		entry, err := rows[i].toEntry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
