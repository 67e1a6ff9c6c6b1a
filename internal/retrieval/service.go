package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"policyeval/internal/apperr"
	"policyeval/internal/document"
	"policyeval/internal/reasoning"
	"policyeval/internal/text"
	"policyeval/internal/vector"
)

const DefaultConcurrency = 8

type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type ChunkSource interface {
	ExtractAndChunk(ctx context.Context, doc document.Document) ([]text.Chunk, error)
}

type Reranker interface {
	Rerank(ctx context.Context, query string, docs []string) ([]int, error)
}

// DocumentFailure is a document that produced no chunks. It never fails the request
// on its own.
type DocumentFailure struct {
	Index      int    `json:"index"`
	DocumentID string `json:"document_id,omitempty"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

type IndexReport struct {
	DocumentsProcessed int               `json:"documents_processed"`
	DocumentsFailed    int               `json:"documents_failed"`
	Failures           []DocumentFailure `json:"failures,omitempty"`
	ChunksIndexed      int               `json:"chunks_indexed"`
}

type Options struct {
	// Dimension every embedding must have. Zero lets the first batch decide.
	Dimension   int
	Concurrency int
}

// Service builds request-scoped indexes from documents and retrieves from them.
type Service struct {
	source      ChunkSource
	embedder    Embedder
	reranker    Reranker
	logger      *QueryLogger
	dimension   int
	concurrency int
}

func NewService(src ChunkSource, e Embedder, r Reranker, l *QueryLogger, opts Options) *Service {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Service{
		source:      src,
		embedder:    e,
		reranker:    r,
		logger:      l,
		dimension:   opts.Dimension,
		concurrency: opts.Concurrency,
	}
}

// ChunkDocuments extracts every document concurrently and concatenates the chunks in
// document order. Failed documents are reported, not returned as errors.
func (s *Service) ChunkDocuments(ctx context.Context, docs []document.Document) ([]text.Chunk, IndexReport) {
	perDoc := make([][]text.Chunk, len(docs))
	errs := make([]error, len(docs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, doc := range docs {
		g.Go(func() error {
			chunks, err := s.source.ExtractAndChunk(gctx, doc)
			if err != nil {
				errs[i] = err
				return nil
			}
			perDoc[i] = chunks
			return nil
		})
	}
	_ = g.Wait()

	var report IndexReport
	var all []text.Chunk
	for i := range docs {
		if errs[i] != nil {
			report.DocumentsFailed++
			report.Failures = append(report.Failures, DocumentFailure{
				Index:      i,
				DocumentID: docs[i].ID,
				Code:       failureCode(errs[i]),
				Message:    errs[i].Error(),
			})
			slog.WarnContext(ctx, "document skipped", "index", i, "document_id", docs[i].ID, "error", errs[i])
			continue
		}
		report.DocumentsProcessed++
		all = append(all, perDoc[i]...)
	}
	return all, report
}

func failureCode(err error) string {
	var fetchErr *document.FetchError
	var decodeErr *document.DecodeError
	switch {
	case errors.As(err, &fetchErr):
		return apperr.CodeFetchFailed
	case errors.As(err, &decodeErr):
		return apperr.CodeDecodeFailed
	default:
		return apperr.CodeInternal
	}
}

// Index embeds chunks in one batch call and loads them into a fresh index in the
// same order.
func (s *Service) Index(ctx context.Context, chunks []text.Chunk) (*vector.Index, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vecs, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		if errors.Is(err, reasoning.ErrEmbeddingCount) {
			return nil, apperr.Internal("embedding provider broke the batch contract", err)
		}
		return nil, apperr.ReasoningFailed("embed_documents", err)
	}
	if len(vecs) != len(texts) {
		return nil, apperr.Internal("embedding provider broke the batch contract",
			fmt.Errorf("%w: sent %d texts, received %d embeddings", reasoning.ErrEmbeddingCount, len(texts), len(vecs)))
	}

	entries := make([]vector.Entry, len(chunks))
	for i := range chunks {
		entries[i] = vector.Entry{Text: texts[i], Embedding: vecs[i]}
	}

	idx := vector.NewIndex(s.dimension)
	if err := idx.Add(entries); err != nil {
		return nil, apperr.Internal("embedding dimension mismatch", err)
	}
	return idx, nil
}

// BuildIndex chunks and indexes docs. Zero chunks across all documents is NO_CONTENT.
func (s *Service) BuildIndex(ctx context.Context, docs []document.Document) (*vector.Index, IndexReport, error) {
	chunks, report := s.ChunkDocuments(ctx, docs)
	if len(chunks) == 0 {
		return nil, report, apperr.NoContent("no content could be extracted from the provided documents", nil)
	}

	idx, err := s.Index(ctx, chunks)
	if err != nil {
		return nil, report, err
	}
	report.ChunksIndexed = idx.Len()
	return idx, report, nil
}

func (s *Service) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, apperr.ReasoningFailed("embed_query", err)
	}
	return vec, nil
}

// Search returns the k nearest chunks, reordered by the reranker when one is set.
func (s *Service) Search(ctx context.Context, idx *vector.Index, query string, vec []float32, k int) ([]vector.Match, error) {
	start := time.Now()
	matches, err := idx.Search(vec, k)
	if err != nil {
		return nil, apperr.Internal("query embedding dimension mismatch", err)
	}

	rerank := RerankSkipped
	if s.reranker != nil && len(matches) > 1 {
		matches, rerank = s.rerank(ctx, query, matches)
	}

	if s.logger != nil {
		entry := QueryLogEntry{
			Query:      query,
			TopK:       k,
			IndexSize:  idx.Len(),
			NumResults: len(matches),
			Rerank:     rerank,
			Duration:   time.Since(start),
		}
		if nearest, ok := nearestDistance(matches); ok {
			entry.NearestDistance = &nearest
		}
		s.logger.Log(ctx, entry)
	}
	return matches, nil
}

func nearestDistance(matches []vector.Match) (float64, bool) {
	if len(matches) == 0 {
		return 0, false
	}
	nearest := matches[0].Distance
	for _, m := range matches[1:] {
		nearest = min(nearest, m.Distance)
	}
	return nearest, true
}

// Retrieve embeds query and searches idx with it.
func (s *Service) Retrieve(ctx context.Context, idx *vector.Index, query string, k int) ([]vector.Match, error) {
	vec, err := s.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.Search(ctx, idx, query, vec, k)
}

// rerank keeps the distance order when the reranker fails. Indices the reranker drops
// or repeats are ignored.
func (s *Service) rerank(ctx context.Context, query string, matches []vector.Match) ([]vector.Match, string) {
	docs := make([]string, len(matches))
	for i, m := range matches {
		docs[i] = m.Text
	}

	indices, err := s.reranker.Rerank(ctx, query, docs)
	if err != nil {
		slog.WarnContext(ctx, "rerank failed, keeping distance order", "error", err)
		return matches, RerankFailed
	}

	seen := make([]bool, len(matches))
	reranked := make([]vector.Match, 0, len(matches))
	for _, i := range indices {
		if i < 0 || i >= len(matches) || seen[i] {
			continue
		}
		seen[i] = true
		reranked = append(reranked, matches[i])
	}
	for i, m := range matches {
		if !seen[i] {
			reranked = append(reranked, m)
		}
	}
	return reranked, RerankApplied
}

func Texts(matches []vector.Match) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.Text
	}
	return out
}
