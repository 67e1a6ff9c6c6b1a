package apperr_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"policyeval/internal/apperr"
)

func TestFrom(t *testing.T) {
	t.Run("Wrapped AppError", func(t *testing.T) {
		inner := apperr.InvalidRequest("query is required")
		err := fmt.Errorf("collect query: %w", inner)

		got := apperr.From(err)
		assert.Equal(t, apperr.CodeInvalidRequest, got.Code)
		assert.Equal(t, "query is required", got.Message)
	})

	t.Run("Plain Error", func(t *testing.T) {
		cause := errors.New("boom")
		got := apperr.From(cause)
		assert.Equal(t, apperr.CodeInternal, got.Code)
		assert.ErrorIs(t, got, cause)
	})
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{apperr.CodeInvalidRequest, http.StatusBadRequest},
		{apperr.CodeUnauthorized, http.StatusUnauthorized},
		{apperr.CodeForbidden, http.StatusForbidden},
		{apperr.CodeNotFound, http.StatusNotFound},
		{apperr.CodeNoContent, http.StatusUnprocessableEntity},
		{apperr.CodeReasoningFailed, http.StatusBadGateway},
		{apperr.CodeFeatureDisabled, http.StatusServiceUnavailable},
		{apperr.CodeInternal, http.StatusInternalServerError},
		{"SOMETHING_ELSE", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, apperr.HTTPStatus(tt.code))
		})
	}
}

func TestError_Message(t *testing.T) {
	err := apperr.NoContent("no content could be extracted", errors.New("fetch failed"))
	assert.Equal(t, "NO_CONTENT: no content could be extracted: fetch failed", err.Error())

	plain := apperr.New(apperr.CodeNotFound, "evaluation not found")
	assert.Equal(t, "NOT_FOUND: evaluation not found", plain.Error())
}
