package qa

import (
	"context"
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
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(r.Context(), w, apperr.CodeInvalidRequest, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		h.writeError(r.Context(), w, apperr.CodeInvalidRequest, "Invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return
	}

	answers, err := h.service.Answer(r.Context(), req)
	if err != nil {
		appErr := apperr.From(err)
		message := appErr.Message
		if appErr.Code == apperr.CodeInternal {
			slog.ErrorContext(r.Context(), "question answering failed", "error", err)
			message = "Internal Server Error"
		}
		h.writeError(r.Context(), w, appErr.Code, message, apperr.HTTPStatus(appErr.Code))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(Response{Answers: answers}); err != nil {
		slog.Error("failed to encode response", "error", err)
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
