package repository

import (
	"context"

	"github.com/segyhp/loan-engine/internal/domain"

	"github.com/jmoiron/sqlx"
)

type auditRepository struct {
	db sqlx.ExtContext
}

func NewAuditRepository(db sqlx.ExtContext) AuditRepository {
	return &auditRepository{db: db}
}

// Append is the only write path; audit_log rows are never updated or deleted
func (r *auditRepository) Append(ctx context.Context, entry *domain.AuditEntry) error {
	query := `
		INSERT INTO audit_log (id, subject, action, actor, before_state, after_state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.Subject,
		entry.Action,
		entry.Actor,
		entry.Before,
		entry.After,
		entry.CreatedAt,
	)

	return err
}

func (r *auditRepository) ListBySubject(ctx context.Context, subject string, limit int) ([]*domain.AuditEntry, error) {
	query := `
		SELECT id, subject, action, actor, before_state, after_state, created_at
		FROM audit_log
		WHERE subject = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	var entries []*domain.AuditEntry
	if err := sqlx.SelectContext(ctx, r.db, &entries, query, subject, limit); err != nil {
		return nil, err
	}

	return entries, nil
}
