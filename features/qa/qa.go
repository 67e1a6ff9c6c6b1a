package qa

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"policyeval/internal/apperr"
	"policyeval/internal/document"
	"policyeval/internal/retrieval"
	"policyeval/internal/vector"
)

const (
	DefaultConcurrency = 8
	// retrieveK is the number of chunks each answer is grounded on.
	retrieveK = 5
)

type Request struct {
	Documents string   `json:"documents"`
	Questions []string `json:"questions"`
}

type Response struct {
	Answers []string `json:"answers"`
}

type Retriever interface {
	BuildIndex(ctx context.Context, docs []document.Document) (*vector.Index, retrieval.IndexReport, error)
	Retrieve(ctx context.Context, idx *vector.Index, query string, k int) ([]vector.Match, error)
}

type Answerer interface {
	GenerateAnswer(ctx context.Context, question string, chunks []string) (string, error)
}

type Service struct {
	retriever   Retriever
	answerer    Answerer
	concurrency int
}

func NewService(r Retriever, a Answerer, concurrency int) *Service {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Service{retriever: r, answerer: a, concurrency: concurrency}
}

// Answer indexes the document once and answers every question against it. The
// answers line up with the questions; a failed question only affects its own slot.
func (s *Service) Answer(ctx context.Context, req Request) ([]string, error) {
	url := strings.TrimSpace(req.Documents)
	if url == "" {
		return nil, apperr.InvalidRequest("documents must be a document URL")
	}
	if len(req.Questions) == 0 {
		return nil, apperr.InvalidRequest("at least one question is required")
	}

	start := time.Now()
	idx, report, err := s.retriever.BuildIndex(ctx, []document.Document{{ID: "doc-0", Content: url}})
	if err != nil {
		slog.ErrorContext(ctx, "failed to index document", "url", url, "error", err)
		return nil, err
	}
	slog.InfoContext(ctx, "document indexed", "chunks", report.ChunksIndexed, "questions", len(req.Questions))

	answers := make([]string, len(req.Questions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, q := range req.Questions {
		g.Go(func() error {
			answer, err := s.answer(gctx, idx, q)
			if err != nil {
				slog.WarnContext(gctx, "question failed", "index", i, "error", err)
				answer = fmt.Sprintf("Error generating response: %v", err)
			}
			answers[i] = answer
			return nil
		})
	}
	_ = g.Wait()

	slog.InfoContext(ctx, "questions answered", "count", len(answers), "duration_ms", time.Since(start).Milliseconds())
	return answers, nil
}

func (s *Service) answer(ctx context.Context, idx *vector.Index, question string) (string, error) {
	matches, err := s.retriever.Retrieve(ctx, idx, question, retrieveK)
	if err != nil {
		return "", err
	}
	return s.answerer.GenerateAnswer(ctx, question, retrieval.Texts(matches))
}
