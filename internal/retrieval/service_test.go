package retrieval_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"policyeval/internal/apperr"
	"policyeval/internal/document"
	"policyeval/internal/middleware"
	"policyeval/internal/reasoning"
	"policyeval/internal/retrieval"
	"policyeval/internal/text"
)

type MockEmbedder struct{ mock.Mock }

func (m *MockEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

func (m *MockEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

type MockSource struct{ mock.Mock }

func (m *MockSource) ExtractAndChunk(ctx context.Context, doc document.Document) ([]text.Chunk, error) {
	args := m.Called(ctx, doc)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]text.Chunk), args.Error(1)
}

type MockReranker struct{ mock.Mock }

func (m *MockReranker) Rerank(ctx context.Context, query string, docs []string) ([]int, error) {
	args := m.Called(ctx, query, docs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int), args.Error(1)
}

func chunksFor(id string, texts ...string) []text.Chunk {
	out := make([]text.Chunk, len(texts))
	for i, t := range texts {
		out[i] = text.Chunk{Text: t, SourceDocumentID: id, Ordinal: i}
	}
	return out
}

func TestService_ChunkDocuments(t *testing.T) {
	src := new(MockSource)
	docs := []document.Document{{ID: "slow"}, {ID: "fetch"}, {ID: "fast"}, {ID: "decode"}}

	src.On("ExtractAndChunk", mock.Anything, docs[0]).
		After(50*time.Millisecond).
		Return(chunksFor("slow", "s0", "s1"), nil)
	src.On("ExtractAndChunk", mock.Anything, docs[1]).
		Return(nil, &document.FetchError{URL: "http://x", StatusCode: 404})
	src.On("ExtractAndChunk", mock.Anything, docs[2]).
		Return(chunksFor("fast", "f0"), nil)
	src.On("ExtractAndChunk", mock.Anything, docs[3]).
		Return(nil, &document.DecodeError{Format: "pdf", Err: errors.New("bad xref")})

	svc := retrieval.NewService(src, new(MockEmbedder), nil, nil, retrieval.Options{Concurrency: 4})
	chunks, report := svc.ChunkDocuments(context.Background(), docs)

	require.Len(t, chunks, 3)
	assert.Equal(t, []string{"s0", "s1", "f0"}, []string{chunks[0].Text, chunks[1].Text, chunks[2].Text})
	assert.Equal(t, 2, report.DocumentsProcessed)
	assert.Equal(t, 2, report.DocumentsFailed)
	require.Len(t, report.Failures, 2)
	assert.Equal(t, 1, report.Failures[0].Index)
	assert.Equal(t, apperr.CodeFetchFailed, report.Failures[0].Code)
	assert.Equal(t, "decode", report.Failures[1].DocumentID)
	assert.Equal(t, apperr.CodeDecodeFailed, report.Failures[1].Code)
	src.AssertExpectations(t)
}

func TestService_BuildIndex(t *testing.T) {
	doc := document.Document{ID: "d"}

	tests := []struct {
		name     string
		dim      int
		setup    func(*MockSource, *MockEmbedder)
		wantCode string
		wantLen  int
	}{
		{
			name: "Success",
			dim:  2,
			setup: func(s *MockSource, e *MockEmbedder) {
				s.On("ExtractAndChunk", mock.Anything, doc).Return(chunksFor("d", "a", "b"), nil)
				e.On("EmbedDocuments", mock.Anything, []string{"a", "b"}).
					Return([][]float32{{0, 0}, {1, 1}}, nil)
			},
			wantLen: 2,
		},
		{
			name: "No Chunks",
			setup: func(s *MockSource, e *MockEmbedder) {
				s.On("ExtractAndChunk", mock.Anything, doc).Return([]text.Chunk{}, nil)
			},
			wantCode: apperr.CodeNoContent,
		},
		{
			name: "All Documents Failed",
			setup: func(s *MockSource, e *MockEmbedder) {
				s.On("ExtractAndChunk", mock.Anything, doc).Return(nil, &document.FetchError{URL: "u", Err: errors.New("timeout")})
			},
			wantCode: apperr.CodeNoContent,
		},
		{
			name: "Embedding Failure",
			setup: func(s *MockSource, e *MockEmbedder) {
				s.On("ExtractAndChunk", mock.Anything, doc).Return(chunksFor("d", "a"), nil)
				e.On("EmbedDocuments", mock.Anything, []string{"a"}).Return(nil, errors.New("quota"))
			},
			wantCode: apperr.CodeReasoningFailed,
		},
		{
			name: "Embedding Count Violation",
			setup: func(s *MockSource, e *MockEmbedder) {
				s.On("ExtractAndChunk", mock.Anything, doc).Return(chunksFor("d", "a", "b"), nil)
				e.On("EmbedDocuments", mock.Anything, []string{"a", "b"}).Return([][]float32{{1}}, nil)
			},
			wantCode: apperr.CodeInternal,
		},
		{
			name: "Dimension Mismatch",
			dim:  3,
			setup: func(s *MockSource, e *MockEmbedder) {
				s.On("ExtractAndChunk", mock.Anything, doc).Return(chunksFor("d", "a"), nil)
				e.On("EmbedDocuments", mock.Anything, []string{"a"}).Return([][]float32{{1, 2}}, nil)
			},
			wantCode: apperr.CodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := new(MockSource)
			emb := new(MockEmbedder)
			tt.setup(src, emb)

			svc := retrieval.NewService(src, emb, nil, nil, retrieval.Options{Dimension: tt.dim})
			idx, report, err := svc.BuildIndex(context.Background(), []document.Document{doc})

			if tt.wantCode != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, apperr.From(err).Code)
				assert.Nil(t, idx)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantLen, idx.Len())
				assert.Equal(t, tt.wantLen, report.ChunksIndexed)
			}
			src.AssertExpectations(t)
			emb.AssertExpectations(t)
		})
	}
}

func buildIndex(t *testing.T, r retrieval.Reranker, logger *retrieval.QueryLogger) (*retrieval.Service, *MockEmbedder) {
	t.Helper()
	src := new(MockSource)
	emb := new(MockEmbedder)
	src.On("ExtractAndChunk", mock.Anything, mock.Anything).Return(chunksFor("d", "near", "mid", "far"), nil)
	emb.On("EmbedDocuments", mock.Anything, []string{"near", "mid", "far"}).
		Return([][]float32{{1, 0}, {2, 0}, {5, 0}}, nil)
	return retrieval.NewService(src, emb, r, logger, retrieval.Options{Dimension: 2}), emb
}

func TestService_Retrieve(t *testing.T) {
	ctx := middleware.WithCorrelationID(context.Background(), "corr-1")

	t.Run("Distance Order", func(t *testing.T) {
		var buf bytes.Buffer
		svc, emb := buildIndex(t, nil, retrieval.NewQueryLogger(&buf))
		idx, _, err := svc.BuildIndex(ctx, []document.Document{{ID: "d"}})
		require.NoError(t, err)

		emb.On("EmbedQuery", mock.Anything, "q").Return([]float32{0, 0}, nil)
		matches, err := svc.Retrieve(ctx, idx, "q", 5)
		require.NoError(t, err)
		assert.Equal(t, []string{"near", "mid", "far"}, retrieval.Texts(matches))

		var entry retrieval.QueryLogEntry
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "q", entry.Query)
		assert.Equal(t, 5, entry.TopK)
		assert.Equal(t, 3, entry.NumResults)
		assert.Equal(t, retrieval.RerankSkipped, entry.Rerank)
		require.NotNil(t, entry.NearestDistance)
		assert.Equal(t, matches[0].Distance, *entry.NearestDistance)
		assert.Equal(t, "corr-1", entry.CorrelationID)
	})

	t.Run("Reranked", func(t *testing.T) {
		r := new(MockReranker)
		svc, emb := buildIndex(t, r, nil)
		idx, _, err := svc.BuildIndex(ctx, []document.Document{{ID: "d"}})
		require.NoError(t, err)

		emb.On("EmbedQuery", mock.Anything, "q").Return([]float32{0, 0}, nil)
		r.On("Rerank", mock.Anything, "q", []string{"near", "mid"}).Return([]int{1, 7, 1}, nil)

		matches, err := svc.Retrieve(ctx, idx, "q", 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"mid", "near"}, retrieval.Texts(matches))
		r.AssertExpectations(t)
	})

	t.Run("Reranker Error Keeps Distance Order", func(t *testing.T) {
		var buf bytes.Buffer
		r := new(MockReranker)
		svc, emb := buildIndex(t, r, retrieval.NewQueryLogger(&buf))
		idx, _, err := svc.BuildIndex(ctx, []document.Document{{ID: "d"}})
		require.NoError(t, err)

		emb.On("EmbedQuery", mock.Anything, "q").Return([]float32{0, 0}, nil)
		r.On("Rerank", mock.Anything, "q", mock.Anything).Return(nil, errors.New("rerank down"))

		matches, err := svc.Retrieve(ctx, idx, "q", 3)
		require.NoError(t, err)
		assert.Equal(t, []string{"near", "mid", "far"}, retrieval.Texts(matches))

		var entry retrieval.QueryLogEntry
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, retrieval.RerankFailed, entry.Rerank)
	})

	t.Run("Query Embedding Failure", func(t *testing.T) {
		svc, emb := buildIndex(t, nil, nil)
		idx, _, err := svc.BuildIndex(ctx, []document.Document{{ID: "d"}})
		require.NoError(t, err)

		emb.On("EmbedQuery", mock.Anything, "q").Return(nil, errors.New("unavailable"))
		_, err = svc.Retrieve(ctx, idx, "q", 3)
		assert.Equal(t, apperr.CodeReasoningFailed, apperr.From(err).Code)
	})

	t.Run("Query Dimension Mismatch", func(t *testing.T) {
		svc, emb := buildIndex(t, nil, nil)
		idx, _, err := svc.BuildIndex(ctx, []document.Document{{ID: "d"}})
		require.NoError(t, err)

		emb.On("EmbedQuery", mock.Anything, "q").Return([]float32{0, 0, 0}, nil)
		_, err = svc.Retrieve(ctx, idx, "q", 3)
		assert.Equal(t, apperr.CodeInternal, apperr.From(err).Code)
	})
}

func TestCachedEmbedder(t *testing.T) {
	ctx := context.Background()
	next := new(MockEmbedder)
	cached, err := retrieval.NewCachedEmbedder(next, 16)
	require.NoError(t, err)

	next.On("EmbedDocuments", mock.Anything, []string{"a", "b"}).Return([][]float32{{1}, {2}}, nil).Once()
	vecs, err := cached.EmbedDocuments(ctx, []string{"a", "b", "a"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1}, {2}, {1}}, vecs)

	next.On("EmbedDocuments", mock.Anything, []string{"c"}).Return([][]float32{{3}}, nil).Once()
	vecs, err = cached.EmbedDocuments(ctx, []string{"b", "c"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{2}, {3}}, vecs)

	// Query embeddings use a different task type and are cached separately.
	next.On("EmbedQuery", mock.Anything, "a").Return([]float32{9}, nil).Once()
	for range 2 {
		vec, err := cached.EmbedQuery(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, []float32{9}, vec)
	}

	assert.Equal(t, 4, cached.Len())
	next.AssertExpectations(t)

	t.Run("Count Violation", func(t *testing.T) {
		next.On("EmbedDocuments", mock.Anything, []string{"x", "y"}).Return([][]float32{{1}}, nil).Once()
		_, err := cached.EmbedDocuments(ctx, []string{"x", "y"})
		assert.ErrorIs(t, err, reasoning.ErrEmbeddingCount)
	})

	t.Run("Invalid Size", func(t *testing.T) {
		_, err := retrieval.NewCachedEmbedder(next, 0)
		assert.Error(t, err)
	})
}
