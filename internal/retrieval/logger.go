package retrieval

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"policyeval/internal/middleware"
)

const (
	RerankSkipped = "skipped"
	RerankApplied = "applied"
	RerankFailed  = "failed"

	maxLoggedQueryLen = 512
)

// QueryLogEntry is one retrieval against a request-scoped index, written as a JSON line.
type QueryLogEntry struct {
	Timestamp       time.Time     `json:"timestamp"`
	Query           string        `json:"query"`
	TopK            int           `json:"top_k"`
	IndexSize       int           `json:"index_size"`
	NumResults      int           `json:"num_results"`
	NearestDistance *float64      `json:"nearest_distance,omitempty"`
	Rerank          string        `json:"rerank"`
	Duration        time.Duration `json:"-"`
	LatencyMs       int64         `json:"latency_ms"`
	CorrelationID   string        `json:"correlation_id"`
}

type QueryLogger struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewQueryLogger(w io.Writer) *QueryLogger {
	return &QueryLogger{writer: w}
}

// NewFileQueryLogger appends to path, creating its directory, and mirrors every line to stdout.
func NewFileQueryLogger(path string) (*QueryLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(filepath.Clean(path), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) // #nosec G304 -- path is from application config, not user input
	if err != nil {
		return nil, err
	}
	return NewQueryLogger(io.MultiWriter(os.Stdout, f)), nil
}

// Log stamps entry with the time and the correlation id carried by ctx. Queries longer
// than maxLoggedQueryLen bytes are cut.
func (l *QueryLogger) Log(ctx context.Context, entry QueryLogEntry) {
	entry.Timestamp = time.Now()
	entry.LatencyMs = entry.Duration.Milliseconds()
	entry.CorrelationID = middleware.GetCorrelationID(ctx)
	if entry.Rerank == "" {
		entry.Rerank = RerankSkipped
	}
	if len(entry.Query) > maxLoggedQueryLen {
		entry.Query = entry.Query[:maxLoggedQueryLen]
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := json.NewEncoder(l.writer).Encode(entry); err != nil {
		slog.ErrorContext(ctx, "failed to write query log entry", "error", err)
	}
}
