package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/nsqio/go-nsq"
	"google.golang.org/api/option"

	"policyeval/features/evaluation"
	"policyeval/features/qa"
	"policyeval/features/stats"
	"policyeval/internal/adapter/gemini"
	"policyeval/internal/adapter/reranker"
	"policyeval/internal/config"
	"policyeval/internal/document"
	"policyeval/internal/middleware"
	"policyeval/internal/retrieval"
	"policyeval/internal/text"
	"policyeval/internal/worker"
)

// Gateway is the model capability the features are built on.
type Gateway interface {
	evaluation.Reasoner
	retrieval.Embedder
	qa.Answerer
}

type Options struct {
	// Gateway replaces the Gemini gateway built from the config.
	Gateway Gateway
	// GeminiOptions are passed to the Gemini client when no Gateway is given.
	GeminiOptions []option.ClientOption
	// Reranker replaces the configured rerank provider.
	Reranker retrieval.Reranker
}

type App struct {
	Handler            http.Handler
	Evaluations        *evaluation.Service
	Queue              *evaluation.Queue
	EvaluationConsumer *worker.EvaluationConsumer

	cfg     *config.Config
	closers []func() error
}

func New(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger, opts *Options) (*App, error) {
	if deps == nil {
		deps = &Dependencies{}
	}
	if opts == nil {
		opts = &Options{}
	}
	a := &App{cfg: cfg}

	// Gateway
	gw := opts.Gateway
	if gw == nil {
		g, err := gemini.NewGateway(ctx, cfg.GeminiAPIKey, gemini.Models{
			Generation: cfg.GenerationModel,
			Embedding:  cfg.EmbeddingModel,
		}, opts.GeminiOptions...)
		if err != nil {
			return nil, fmt.Errorf("gemini gateway: %w", err)
		}
		a.closers = append(a.closers, g.Close)
		gw = g
	}

	var embedder retrieval.Embedder = gw
	var cache stats.CacheSizer
	if cfg.EmbeddingCacheSize > 0 {
		cached, err := retrieval.NewCachedEmbedder(gw, cfg.EmbeddingCacheSize)
		if err != nil {
			return nil, fmt.Errorf("embedding cache: %w", err)
		}
		embedder = cached
		cache = cached
	}

	rr := opts.Reranker
	if rr == nil {
		if client := reranker.NewClient(cfg.RerankProvider, cfg.RerankAPIKey); client.Enabled() {
			rr = client
		}
	}

	// Documents
	chunker, err := text.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("chunker: %w", err)
	}
	fetcher := document.NewFetcher(time.Duration(cfg.FetchTimeoutSeconds)*time.Second, cfg.MaxDocumentMB<<20)
	processor := document.NewProcessor(fetcher, chunker)

	// Retrieval
	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		logger.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}
	retrievalService := retrieval.NewService(processor, embedder, rr, queryLogger, retrieval.Options{
		Dimension:   cfg.EmbeddingDimension,
		Concurrency: cfg.IngestionConcurrency,
	})

	// Feature: Evaluation
	var repo evaluation.Repository
	var recorder evaluation.Recorder
	var counter stats.DecisionCounter
	if deps.DB != nil {
		pg := evaluation.NewPostgresRepo(deps.DB)
		repo, recorder, counter = pg, pg, pg
	}
	a.Evaluations = evaluation.NewService(retrievalService, gw, recorder, cfg.EnforceDecisionRules)
	if repo != nil && deps.NSQProducer != nil {
		a.Queue = evaluation.NewQueue(a.Evaluations, repo, deps.NSQProducer)
		a.EvaluationConsumer = worker.NewEvaluationConsumer(a.Queue, cfg.NSQMaxAttempts, worker.DefaultTaskTimeout)
	}
	evaluationHandler := evaluation.NewHandler(a.Evaluations, a.Queue)

	// Feature: QA
	qaHandler := qa.NewHandler(qa.NewService(retrievalService, gw, cfg.QAConcurrency))

	// Feature: Stats
	statsHandler := stats.NewHandler(counter, cache)

	// Routes
	auth := middleware.BearerAuth(cfg.APIKey)
	open := func(h http.HandlerFunc) http.Handler { return middleware.CorrelationID(h) }
	secured := func(h http.HandlerFunc) http.Handler { return middleware.CorrelationID(auth(h)) }

	mux := http.NewServeMux()
	mux.Handle("GET /{$}", open(welcome))
	mux.Handle("GET /health", open(health))
	mux.Handle("GET /stats", open(statsHandler.GetStats))

	mux.Handle("POST /v1/evaluate", secured(evaluationHandler.Evaluate))
	mux.Handle("POST /v1/evaluations", secured(evaluationHandler.Submit))
	mux.Handle("GET /v1/evaluations/{id}", secured(evaluationHandler.Get))
	mux.Handle("POST /hackrx/run", secured(qaHandler.Run))

	a.Handler = mux
	logger.Info("application initialized",
		"persistence", deps.DB != nil,
		"background_evaluations", a.Queue != nil,
		"rerank", rr != nil,
		"embedding_cache", cache != nil)
	return a, nil
}

func welcome(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"message":"Policy evaluation service is running","docs":"POST /v1/evaluate, POST /hackrx/run"}`))
}

func health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// Run serves HTTP, and consumes background evaluations when they are enabled, until
// ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	if a.EvaluationConsumer != nil {
		consumer, err := a.startConsumer()
		if err != nil {
			return err
		}
		defer consumer.Stop()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.ServerPort),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      5 * time.Minute,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.cfg.ServerPort)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (a *App) startConsumer() (*nsq.Consumer, error) {
	nsqCfg := nsq.NewConfig()
	nsqCfg.MaxAttempts = uint16(a.cfg.NSQMaxAttempts)
	// Evaluations run for minutes, not seconds.
	nsqCfg.MsgTimeout = worker.DefaultTaskTimeout + time.Minute

	consumer, err := nsq.NewConsumer(config.TopicEvaluationTask, config.ChannelEvaluationWorker, nsqCfg)
	if err != nil {
		return nil, fmt.Errorf("nsq consumer: %w", err)
	}
	consumer.AddHandler(a.EvaluationConsumer)
	if err := consumer.ConnectToNSQLookupd(a.cfg.NSQLookupd); err != nil {
		consumer.Stop()
		return nil, fmt.Errorf("connect to nsqlookupd: %w", err)
	}
	slog.Info("evaluation consumer connected", "topic", config.TopicEvaluationTask)
	return consumer, nil
}

// Close releases the clients New created.
func (a *App) Close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			slog.Warn("failed to close client", "error", err)
		}
	}
	a.closers = nil
}
