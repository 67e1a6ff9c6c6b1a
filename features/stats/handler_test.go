package stats

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockCounter struct{ mock.Mock }

func (m *MockCounter) CountByDecision(ctx context.Context) (map[string]int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]int), args.Error(1)
}

type fixedCache int

func (c fixedCache) Len() int { return int(c) }

func TestHandler_GetStats_Table(t *testing.T) {
	tests := []struct {
		name       string
		setup      func() (DecisionCounter, CacheSizer)
		wantStatus int
		wantError  bool
		checkBody  func(*testing.T, map[string]interface{})
	}{
		{
			name: "Success",
			setup: func() (DecisionCounter, CacheSizer) {
				c := new(MockCounter)
				c.On("CountByDecision", mock.Anything).Return(map[string]int{"approved": 4, "rejected": 2}, nil)
				return c, fixedCache(17)
			},
			wantStatus: http.StatusOK,
			checkBody: func(t *testing.T, body map[string]interface{}) {
				data := body["data"].(map[string]interface{})
				assert.Equal(t, true, data["persistence_enabled"])
				assert.EqualValues(t, 6, data["evaluations"])
				assert.EqualValues(t, 4, data["evaluations_by_decision"].(map[string]interface{})["approved"])
				assert.Equal(t, true, data["embedding_cache_enabled"])
				assert.EqualValues(t, 17, data["cached_embeddings"])
			},
		},
		{
			name: "Everything Disabled",
			setup: func() (DecisionCounter, CacheSizer) {
				return nil, nil
			},
			wantStatus: http.StatusOK,
			checkBody: func(t *testing.T, body map[string]interface{}) {
				data := body["data"].(map[string]interface{})
				assert.Equal(t, false, data["persistence_enabled"])
				assert.Equal(t, false, data["embedding_cache_enabled"])
				assert.EqualValues(t, 0, data["evaluations"])
			},
		},
		{
			name: "Counter Error",
			setup: func() (DecisionCounter, CacheSizer) {
				c := new(MockCounter)
				c.On("CountByDecision", mock.Anything).Return(nil, errors.New("db error"))
				return c, nil
			},
			wantStatus: http.StatusInternalServerError,
			wantError:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter, cache := tt.setup()
			h := NewHandler(counter, cache)
			req := httptest.NewRequest("GET", "/stats", nil)
			w := httptest.NewRecorder()

			h.GetStats(w, req)

			resp := w.Result()
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			var body map[string]interface{}
			err := json.NewDecoder(resp.Body).Decode(&body)
			assert.NoError(t, err)

			if tt.wantError {
				assert.Contains(t, body, "error")
				errMap := body["error"].(map[string]interface{})
				assert.Equal(t, "INTERNAL_ERROR", errMap["code"])
			} else {
				tt.checkBody(t, body)
			}
		})
	}
}
