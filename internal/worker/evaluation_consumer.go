package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nsqio/go-nsq"

	"policyeval/internal/middleware"
)

const (
	DefaultMaxAttempts = 5
	DefaultTaskTimeout = 5 * time.Minute
)

type EvaluationConsumer struct {
	runner      EvaluationRunner
	maxAttempts uint16
	timeout     time.Duration
}

func NewEvaluationConsumer(r EvaluationRunner, maxAttempts int, timeout time.Duration) *EvaluationConsumer {
	if maxAttempts <= 0 || maxAttempts > 65535 {
		maxAttempts = DefaultMaxAttempts
	}
	if timeout <= 0 {
		timeout = DefaultTaskTimeout
	}
	return &EvaluationConsumer{
		runner:      r,
		maxAttempts: uint16(maxAttempts),
		timeout:     timeout,
	}
}

func (h *EvaluationConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload EvaluationPayload
	if err := json.Unmarshal(m.Body, &payload); err != nil {
		// Poison Pill: Invalid JSON, don't retry
		slog.Error("poison pill: invalid json", "error", err)
		return nil
	}
	if payload.TaskID == "" {
		slog.Error("poison pill: missing task id")
		return nil
	}

	ctx := context.Background()
	if payload.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, payload.CorrelationID)
	}
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	lastAttempt := m.Attempts >= h.maxAttempts
	slog.InfoContext(ctx, "evaluation task received", "task_id", payload.TaskID, "attempt", m.Attempts)

	if err := h.runner.RunTask(ctx, payload.TaskID, lastAttempt); err != nil {
		slog.WarnContext(ctx, "evaluation task requeued", "task_id", payload.TaskID, "attempt", m.Attempts, "error", err)
		return err
	}
	return nil
}
