package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
	"github.com/segyhp/loan-engine/internal/domain"
	"github.com/segyhp/loan-engine/internal/repository"
)

// AuditRecorder appends before/after snapshots of every state change
type AuditRecorder struct {
	now func() time.Time
}

func NewAuditRecorder(now func() time.Time) *AuditRecorder {
	return &AuditRecorder{now: now}
}

// Record must be called with the sink of the transaction that performs the mutation
func (a *AuditRecorder) Record(ctx context.Context, sink repository.AuditSink, subject, action, actor string, before, after interface{}) error {
	beforeJSON, err := json.Marshal(before)
	if err != nil {
		return fmt.Errorf("audit: marshal before: %w", err)
	}
	afterJSON, err := json.Marshal(after)
	if err != nil {
		return fmt.Errorf("audit: marshal after: %w", err)
	}

	return sink.Append(ctx, &domain.AuditEntry{
		ID:        uuid.New(),
		Subject:   subject,
		Action:    action,
		Actor:     actor,
		Before:    types.JSONText(beforeJSON),
		After:     types.JSONText(afterJSON),
		CreatedAt: a.now(),
	})
}
