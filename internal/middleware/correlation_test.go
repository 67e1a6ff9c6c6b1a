package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrelationID(t *testing.T) {
	var seen string
	handler := CorrelationID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
	}))

	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"Generated", nil, ""},
		{"Propagated", map[string]string{"X-Correlation-ID": "upstream-id"}, "upstream-id"},
		{"Request ID Fallback", map[string]string{"X-Request-ID": "req-7"}, "req-7"},
		{"Correlation ID Wins", map[string]string{"X-Correlation-ID": "corr-1", "X-Request-ID": "req-7"}, "corr-1"},
		{"Oversized Replaced", map[string]string{"X-Correlation-ID": strings.Repeat("a", 129)}, ""},
		{"Control Characters Replaced", map[string]string{"X-Correlation-ID": "bad\tid"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if tt.want == "" {
				assert.Len(t, seen, 36)
			} else {
				assert.Equal(t, tt.want, seen)
			}
			assert.Equal(t, seen, w.Header().Get(CorrelationHeader))
		})
	}
}

func TestCorrelationID_LogsStatus(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	handler := CorrelationID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	req := httptest.NewRequest("POST", "/v1/evaluate", nil)
	req.Header.Set(CorrelationHeader, "corr-5")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	var done map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &done))
	assert.Equal(t, "request failed", done["msg"])
	assert.Equal(t, "WARN", done["level"])
	assert.EqualValues(t, http.StatusBadGateway, done["status"])
	assert.Equal(t, "/v1/evaluate", done["path"])
}

func TestGetCorrelationID_Missing(t *testing.T) {
	assert.Equal(t, "unknown", GetCorrelationID(context.Background()))
	assert.Equal(t, "x", GetCorrelationID(WithCorrelationID(context.Background(), "x")))
}
