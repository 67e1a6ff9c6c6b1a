package app_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policyeval/internal/app"
	"policyeval/internal/config"
	"policyeval/internal/testutils"
)

func TestApp_EndToEnd_BackgroundEvaluation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping E2E integration test")
	}

	s := testutils.NewIntegrationSuite(t)
	s.Setup()
	s.SetupNSQ()
	defer s.Teardown()

	cfg := s.GetAppConfig()
	cfg.EmbeddingDimension = 2
	cfg.ChunkSize = 5
	cfg.ChunkOverlap = 1
	cfg.QueryLogPath = t.TempDir() + "/query.log"

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	deps := &app.Dependencies{DB: s.DB, NSQProducer: s.NSQ}
	application, err := app.New(context.Background(), cfg, deps, logger, &app.Options{Gateway: fakeGateway{}})
	require.NoError(t, err)
	require.NotNil(t, application.EvaluationConsumer)

	consumer, err := nsq.NewConsumer(config.TopicEvaluationTask, config.ChannelEvaluationWorker, nsq.NewConfig())
	require.NoError(t, err)
	consumer.AddHandler(application.EvaluationConsumer)
	require.NoError(t, consumer.ConnectToNSQD(s.NSQAddr))
	defer consumer.Stop()

	doc := policyServer(t)

	// 1. Submit
	body := `{"query":{"raw_text":"knee surgery"},"documents":[{"type":"url","content":"` + doc.URL + `/policy.txt"}]}`
	req := httptest.NewRequest("POST", "/v1/evaluations", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	w := httptest.NewRecorder()
	application.Handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var task struct {
		TaskID string `json:"task_id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&task))
	assert.Equal(t, "pending", task.Status)

	// 2. Poll until the worker stores the result
	var rec struct {
		Data struct {
			Status         string `json:"status"`
			DecisionStatus string `json:"decision_status"`
		} `json:"data"`
	}
	require.Eventually(t, func() bool {
		req := httptest.NewRequest("GET", "/v1/evaluations/"+task.TaskID, nil)
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
		w := httptest.NewRecorder()
		application.Handler.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			return false
		}
		if err := json.NewDecoder(w.Body).Decode(&rec); err != nil {
			return false
		}
		return rec.Data.Status == "completed"
	}, 30*time.Second, 250*time.Millisecond)

	assert.Equal(t, "rejected", rec.Data.DecisionStatus)
}
