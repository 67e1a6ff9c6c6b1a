package evaluation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"policyeval/internal/apperr"
	"policyeval/internal/config"
	"policyeval/internal/middleware"
	"policyeval/internal/worker"
)

type TaskPublisher interface {
	Publish(topic string, body []byte) error
}

// Queue accepts evaluations for background processing and runs them when the
// worker delivers them back.
type Queue struct {
	service *Service
	repo    Repository
	pub     TaskPublisher
}

func NewQueue(svc *Service, repo Repository, pub TaskPublisher) *Queue {
	return &Queue{service: svc, repo: repo, pub: pub}
}

// Submit validates req, stores it as pending and publishes it for the worker.
func (q *Queue) Submit(ctx context.Context, req Request) (*Task, error) {
	if err := q.service.Validate(req); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	rec, err := pendingRecord(id, req)
	if err != nil {
		return nil, apperr.Internal("failed to encode request", err)
	}
	if err := q.repo.Save(ctx, rec); err != nil {
		return nil, apperr.Internal("failed to store evaluation task", err)
	}

	body, err := json.Marshal(worker.EvaluationPayload{
		TaskID:        id,
		CorrelationID: middleware.GetCorrelationID(ctx),
	})
	if err != nil {
		return nil, apperr.Internal("failed to encode task", err)
	}
	if err := q.pub.Publish(config.TopicEvaluationTask, body); err != nil {
		rec.Status = StatusFailed
		rec.ErrorCode = apperr.CodeInternal
		rec.ErrorMessage = "task could not be queued"
		if saveErr := q.repo.Save(ctx, rec); saveErr != nil {
			slog.WarnContext(ctx, "failed to mark task failed", "task_id", id, "error", saveErr)
		}
		return nil, apperr.Internal("failed to queue evaluation task", err)
	}

	slog.InfoContext(ctx, "evaluation task queued", "task_id", id)
	return &Task{TaskID: id, Status: StatusPending, Message: "Evaluation task accepted for processing"}, nil
}

func (q *Queue) Get(ctx context.Context, id string) (*Record, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperr.New(apperr.CodeNotFound, "evaluation not found")
	}
	return q.repo.Get(ctx, id)
}

// RunTask loads the stored request for taskID, evaluates it and stores the outcome. It
// returns an error only when the failure is transient and another attempt is allowed.
func (q *Queue) RunTask(ctx context.Context, taskID string, lastAttempt bool) error {
	stored, err := q.repo.Get(ctx, taskID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			slog.ErrorContext(ctx, "evaluation task not found, dropping", "task_id", taskID)
			return nil
		}
		if !lastAttempt {
			return fmt.Errorf("load evaluation task %s: %w", taskID, err)
		}
		slog.ErrorContext(ctx, "failed to load evaluation task", "task_id", taskID, "error", err)
		return nil
	}
	if stored.Status == StatusCompleted || stored.Status == StatusFailed {
		slog.InfoContext(ctx, "evaluation task already finished", "task_id", taskID, "status", stored.Status)
		return nil
	}

	rec := &Record{ID: taskID, Status: StatusProcessing, Request: stored.Request}

	var req Request
	if err := json.Unmarshal(stored.Request, &req); err != nil {
		q.fail(ctx, rec, apperr.InvalidRequest("stored request is malformed: %v", err))
		return nil
	}
	if err := q.repo.Save(ctx, rec); err != nil {
		slog.WarnContext(ctx, "failed to mark task processing", "task_id", taskID, "error", err)
	}

	res, err := q.service.EvaluateWithID(ctx, taskID, req)
	if err != nil {
		appErr := apperr.From(err)
		if appErr.Code == apperr.CodeReasoningFailed && !lastAttempt {
			slog.WarnContext(ctx, "evaluation task will be retried", "task_id", taskID, "error", err)
			return fmt.Errorf("evaluation task %s: %w", taskID, err)
		}
		q.fail(ctx, rec, appErr)
		return nil
	}

	done, err := completedRecord(taskID, req, res)
	if err != nil {
		q.fail(ctx, rec, apperr.Internal("failed to encode result", err))
		return nil
	}
	if err := q.repo.Save(ctx, done); err != nil {
		slog.ErrorContext(ctx, "failed to store evaluation result", "task_id", taskID, "error", err)
		return err
	}
	return nil
}

func (q *Queue) fail(ctx context.Context, rec *Record, appErr *apperr.Error) {
	rec.Status = StatusFailed
	rec.ErrorCode = appErr.Code
	rec.ErrorMessage = appErr.Message
	if err := q.repo.Save(ctx, rec); err != nil {
		slog.ErrorContext(ctx, "failed to store task failure", "task_id", rec.ID, "error", err)
	}
	slog.WarnContext(ctx, "evaluation task failed", "task_id", rec.ID, "code", appErr.Code, "error", appErr)
}
