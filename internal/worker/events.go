package worker

// EvaluationPayload is the body published on the evaluation task topic. The request
// itself stays in the evaluations table; inline documents would exceed nsqd's message size.
type EvaluationPayload struct {
	TaskID        string `json:"task_id"`
	CorrelationID string `json:"correlation_id"`
}
