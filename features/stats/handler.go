package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"policyeval/internal/middleware"
)

// DecisionCounter is the evaluation store. Nil when persistence is disabled.
type DecisionCounter interface {
	CountByDecision(ctx context.Context) (map[string]int, error)
}

// CacheSizer reports the number of cached embeddings. Nil when the cache is disabled.
type CacheSizer interface {
	Len() int
}

type Handler struct {
	counter DecisionCounter
	cache   CacheSizer
}

func NewHandler(c DecisionCounter, cache CacheSizer) *Handler {
	return &Handler{counter: c, cache: cache}
}

type StatsResponse struct {
	PersistenceEnabled    bool           `json:"persistence_enabled"`
	Evaluations           int            `json:"evaluations"`
	EvaluationsByDecision map[string]int `json:"evaluations_by_decision"`
	CacheEnabled          bool           `json:"embedding_cache_enabled"`
	CachedEmbeddings      int            `json:"cached_embeddings"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	slog.InfoContext(ctx, "getting stats", "correlationId", correlationID)

	resp := StatsResponse{EvaluationsByDecision: map[string]int{}}

	if h.counter != nil {
		counts, err := h.counter.CountByDecision(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "failed to count evaluations", "error", err, "correlationId", correlationID)
			h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count evaluations", http.StatusInternalServerError)
			return
		}
		resp.PersistenceEnabled = true
		for status, n := range counts {
			resp.EvaluationsByDecision[status] = n
			resp.Evaluations += n
		}
	}

	if h.cache != nil {
		resp.CacheEnabled = true
		resp.CachedEmbeddings = h.cache.Len()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
