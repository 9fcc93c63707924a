// Package jobs defines background tasks processed by the asynq worker.
package jobs

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"

	"github.com/tradebooks/tradebooks/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAuditRetry re-attempts audit log writes that failed inline.
	TaskAuditRetry = "audit:retry"
)

// NewAuditRetryTask constructs an Asynq task carrying the audit entry.
func NewAuditRetryTask(entry shared.AuditEntry) (*asynq.Task, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditRetry, data), nil
}

// AuditRetryHandler replays failed audit writes against the store.
type AuditRetryHandler struct {
	logger AuditWriter
}

// AuditWriter is the slice of AuditLogger the handler needs.
type AuditWriter interface {
	Record(ctx context.Context, entry shared.AuditEntry) error
}

// NewAuditRetryHandler builds the handler.
func NewAuditRetryHandler(logger AuditWriter) *AuditRetryHandler {
	return &AuditRetryHandler{logger: logger}
}

// Handle processes TaskAuditRetry tasks. The entry's uuid makes the
// write idempotent, so asynq-level retries are harmless.
func (h *AuditRetryHandler) Handle(ctx context.Context, t *asynq.Task) error {
	var entry shared.AuditEntry
	if err := json.Unmarshal(t.Payload(), &entry); err != nil {
		return asynq.SkipRetry
	}
	return h.logger.Record(ctx, entry)
}
