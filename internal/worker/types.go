package worker

import "context"

// EvaluationRunner executes one queued evaluation. A non-nil error asks for redelivery.
type EvaluationRunner interface {
	RunTask(ctx context.Context, taskID string, lastAttempt bool) error
}
