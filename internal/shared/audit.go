package shared

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditEntry records one state transition for dispute resolution.
type AuditEntry struct {
	ID         uuid.UUID      `json:"id"`
	ActorID    int64          `json:"actor_id"`
	BusinessID int64          `json:"business_id"`
	Action     string         `json:"action"`
	Entity     string         `json:"entity"`
	EntityID   string         `json:"entity_id"`
	FromState  string         `json:"from_state"`
	ToState    string         `json:"to_state"`
	Meta       map[string]any `json:"meta,omitempty"`
	At         time.Time      `json:"at"`
}

// RetryQueue re-submits failed audit writes out of band.
type RetryQueue interface {
	EnqueueAuditRetry(ctx context.Context, entry AuditEntry) error
}

// AuditLogger writes entries into audit_logs.
type AuditLogger struct {
	pool   *pgxpool.Pool
	queue  RetryQueue
	logger *slog.Logger
}

// NewAuditLogger returns a new AuditLogger. queue may be nil when no
// worker is running (tests, one-off scripts).
func NewAuditLogger(pool *pgxpool.Pool, queue RetryQueue, logger *slog.Logger) *AuditLogger {
	return &AuditLogger{pool: pool, queue: queue, logger: logger}
}

// Record persists the entry. The uuid primary key plus ON CONFLICT DO
// NOTHING makes retries idempotent.
func (l *AuditLogger) Record(ctx context.Context, entry AuditEntry) error {
	if l == nil || l.pool == nil {
		return errors.New("audit logger not initialised")
	}
	if entry.Action == "" || entry.Entity == "" || entry.EntityID == "" {
		return errors.New("audit entry requires action/entity/entity_id")
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.At.IsZero() {
		entry.At = time.Now()
	}
	metaJSON, err := json.Marshal(entry.Meta)
	if err != nil {
		return err
	}
	_, err = l.pool.Exec(ctx, `
		INSERT INTO audit_logs (id, actor_id, business_id, action, entity, entity_id, from_state, to_state, meta, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`, entry.ID, entry.ActorID, entry.BusinessID, entry.Action, entry.Entity, entry.EntityID, entry.FromState, entry.ToState, metaJSON, entry.At)
	return err
}

// RecordOrRetry attempts a synchronous write and falls back to the
// retry queue. Audit loss must not fail an already-committed business
// transition, so this never returns an error to the caller.
func (l *AuditLogger) RecordOrRetry(ctx context.Context, entry AuditEntry) {
	if l == nil {
		return
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.At.IsZero() {
		entry.At = time.Now()
	}
	err := l.Record(ctx, entry)
	if err == nil {
		return
	}
	if l.logger != nil {
		l.logger.Warn("audit write failed, enqueueing retry",
			slog.String("entity", entry.Entity),
			slog.String("entity_id", entry.EntityID),
			slog.Any("error", err))
	}
	if l.queue == nil {
		return
	}
	if qerr := l.queue.EnqueueAuditRetry(ctx, entry); qerr != nil && l.logger != nil {
		l.logger.Error("audit retry enqueue failed",
			slog.String("entity", entry.Entity),
			slog.String("entity_id", entry.EntityID),
			slog.Any("error", qerr))
	}
}
