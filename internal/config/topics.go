package config

const (
	// TopicEvaluationTask is the NSQ topic for evaluations accepted for background processing.
	TopicEvaluationTask = "evaluation.task"

	// ChannelEvaluationWorker is the channel the evaluation worker consumes from.
	ChannelEvaluationWorker = "evaluation-worker"
)
