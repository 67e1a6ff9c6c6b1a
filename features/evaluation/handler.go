package evaluation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"policyeval/internal/apperr"
	"policyeval/internal/middleware"
)

const maxBodyBytes = 50 << 20

type Handler struct {
	service *Service
	queue   *Queue
}

// NewHandler serves synchronous evaluations. queue may be nil, in which case the
// task endpoints answer FEATURE_DISABLED.
func NewHandler(service *Service, queue *Queue) *Handler {
	return &Handler{service: service, queue: queue}
}

func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	res, err := h.service.Evaluate(r.Context(), req)
	if err != nil {
		h.writeAppError(r.Context(), w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		h.writeError(r.Context(), w, apperr.CodeFeatureDisabled, "Background evaluation is not enabled", http.StatusServiceUnavailable)
		return
	}
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	task, err := h.queue.Submit(r.Context(), req)
	if err != nil {
		h.writeAppError(r.Context(), w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, task)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		h.writeError(r.Context(), w, apperr.CodeFeatureDisabled, "Background evaluation is not enabled", http.StatusServiceUnavailable)
		return
	}

	rec, err := h.queue.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			h.writeError(r.Context(), w, apperr.CodeNotFound, "Evaluation not found", http.StatusNotFound)
			return
		}
		h.writeAppError(r.Context(), w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": rec})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (Request, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(r.Context(), w, apperr.CodeInvalidRequest, "Request body too large", http.StatusRequestEntityTooLarge)
			return req, false
		}
		h.writeError(r.Context(), w, apperr.CodeInvalidRequest, "Invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return req, false
	}
	return req, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeAppError(ctx context.Context, w http.ResponseWriter, err error) {
	appErr := apperr.From(err)
	status := apperr.HTTPStatus(appErr.Code)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(ctx, "evaluation failed", "code", appErr.Code, "error", err)
	}
	message := appErr.Message
	if appErr.Code == apperr.CodeInternal {
		message = "Internal Server Error"
	}
	h.writeError(ctx, w, appErr.Code, message, status)
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
