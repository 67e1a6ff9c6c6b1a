package evaluation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"policyeval/internal/apperr"
	"policyeval/internal/document"
	"policyeval/internal/reasoning"
	"policyeval/internal/retrieval"
	"policyeval/internal/text"
	"policyeval/internal/vector"
)

type Reasoner interface {
	ExtractEntities(ctx context.Context, query string) (reasoning.Parsed[reasoning.Entities], error)
	AnalyzeClauses(ctx context.Context, entities reasoning.Entities, chunks []string) (reasoning.Parsed[[]reasoning.ClauseAnalysis], error)
	Decide(ctx context.Context, entities reasoning.Entities, analyses []reasoning.ClauseAnalysis) (reasoning.Parsed[reasoning.Decision], error)
	Model() string
}

type Retriever interface {
	ChunkDocuments(ctx context.Context, docs []document.Document) ([]text.Chunk, retrieval.IndexReport)
	Index(ctx context.Context, chunks []text.Chunk) (*vector.Index, error)
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
	Search(ctx context.Context, idx *vector.Index, query string, vec []float32, k int) ([]vector.Match, error)
}

// Recorder stores finished evaluations. Optional.
type Recorder interface {
	Save(ctx context.Context, rec *Record) error
}

type Service struct {
	retriever    Retriever
	reasoner     Reasoner
	recorder     Recorder
	enforceRules bool
	validate     *validator.Validate
	now          func() time.Time
}

func NewService(r Retriever, g Reasoner, rec Recorder, enforceRules bool) *Service {
	return &Service{
		retriever:    r,
		reasoner:     g,
		recorder:     rec,
		enforceRules: enforceRules,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		now:          time.Now,
	}
}

// Validate performs the CollectQuery checks without running the pipeline.
func (s *Service) Validate(req Request) error {
	if len(req.Documents) == 0 {
		return apperr.InvalidRequest("at least one document is required")
	}
	if strings.TrimSpace(req.Query.RawText) == "" && req.Query.StructuredData.empty() {
		return apperr.InvalidRequest("a query must be provided in either raw_text or structured_data")
	}
	if err := s.validate.Struct(req); err != nil {
		return apperr.InvalidRequest("%s", describeValidation(err))
	}
	return nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("%s failed '%s'", fe.Namespace(), fe.Tag())
		if fe.Param() != "" {
			msg += fmt.Sprintf(" (%s)", fe.Param())
		}
		msgs = append(msgs, msg)
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Evaluate runs the decision pipeline. It returns either a complete Result or an
// *apperr.Error, never both.
func (s *Service) Evaluate(ctx context.Context, req Request) (*Result, error) {
	res, err := s.evaluate(ctx, uuid.NewString(), req)
	if err != nil {
		return nil, err
	}
	s.record(ctx, res, req)
	return res, nil
}

// EvaluateWithID is Evaluate under a caller-chosen request id. The caller owns
// recording the outcome.
func (s *Service) EvaluateWithID(ctx context.Context, id string, req Request) (*Result, error) {
	return s.evaluate(ctx, id, req)
}

func (s *Service) evaluate(ctx context.Context, id string, req Request) (*Result, error) {
	start := s.now()
	res := &Result{RequestID: id, Timestamp: start.UTC()}
	log := slog.With("request_id", id)

	// CollectQuery
	if err := s.Validate(req); err != nil {
		log.WarnContext(ctx, "evaluation rejected", "stage", "collect_query", "error", err)
		return nil, err
	}
	query := req.Query.Text()
	res.Metadata.ProcessingMode = req.Options.mode()
	res.Metadata.TopK = req.Options.topK()
	res.Metadata.Model = s.reasoner.Model()
	log.InfoContext(ctx, "evaluation started", "documents", len(req.Documents), "mode", res.Metadata.ProcessingMode)

	// ExtractEntities
	entities, err := s.reasoner.ExtractEntities(ctx, query)
	if err != nil {
		log.ErrorContext(ctx, "stage failed", "stage", reasoning.StageEntities, "error", err)
		return nil, apperr.ReasoningFailed(reasoning.StageEntities, err)
	}
	res.ExtractedEntities = entities
	if !entities.OK() {
		res.Errors = append(res.Errors, parseStageError(entities.Err))
		log.WarnContext(ctx, "entity reply unparseable", "reason", entities.Err.Reason)
	}
	facts := mergeFacts(entities.Value, req.Query.StructuredData)

	// ChunkDocuments
	chunks, report := s.retriever.ChunkDocuments(ctx, req.documents())
	res.Metadata.DocumentsProcessed = report.DocumentsProcessed
	res.Metadata.DocumentsFailed = report.DocumentsFailed
	res.Metadata.DocumentFailures = report.Failures
	log.InfoContext(ctx, "documents chunked", "chunks", len(chunks), "failed", report.DocumentsFailed)
	if len(chunks) == 0 {
		return nil, apperr.NoContent("no content could be extracted from the provided documents", nil)
	}

	// EmbedAndIndex
	idx, err := s.retriever.Index(ctx, chunks)
	if err != nil {
		log.ErrorContext(ctx, "stage failed", "stage", "embed_and_index", "error", err)
		return nil, err
	}
	res.Metadata.ChunksIndexed = idx.Len()

	// EmbedQuery
	vec, err := s.retriever.EmbedQuery(ctx, query)
	if err != nil {
		log.ErrorContext(ctx, "stage failed", "stage", "embed_query", "error", err)
		return nil, err
	}

	// Retrieve
	matches, err := s.retriever.Search(ctx, idx, query, vec, res.Metadata.TopK)
	if err != nil {
		log.ErrorContext(ctx, "stage failed", "stage", "retrieve", "error", err)
		return nil, err
	}
	res.Metadata.ClausesRetrieved = len(matches)

	// AnalyzeClauses
	clauses, err := s.reasoner.AnalyzeClauses(ctx, facts, retrieval.Texts(matches))
	if err != nil {
		log.ErrorContext(ctx, "stage failed", "stage", reasoning.StageClauses, "error", err)
		return nil, apperr.ReasoningFailed(reasoning.StageClauses, err)
	}
	analyses := []reasoning.ClauseAnalysis{}
	if clauses.OK() {
		analyses = append(analyses, clauses.Value...)
	} else {
		res.Errors = append(res.Errors, parseStageError(clauses.Err))
		log.WarnContext(ctx, "clause reply unparseable", "reason", clauses.Err.Reason)
	}
	if limit := req.Options.maxClauses(); len(analyses) > limit {
		analyses = analyses[:limit]
	}
	res.AnalyzedClauses = analyses
	res.Metadata.ClausesEvaluated = len(analyses)

	// Decide
	decision, err := s.reasoner.Decide(ctx, facts, analyses)
	if err != nil {
		log.ErrorContext(ctx, "stage failed", "stage", reasoning.StageDecision, "error", err)
		return nil, apperr.ReasoningFailed(reasoning.StageDecision, err)
	}
	verdict := Evaluate(facts, analyses)
	res.Metadata.RuleApplied = verdict.Rule.String()
	switch {
	case !decision.OK():
		res.Errors = append(res.Errors, parseStageError(decision.Err))
		res.Decision = Derive(verdict)
		res.Metadata.DecisionSource = DecisionSourceRules
		log.WarnContext(ctx, "decision reply unparseable, using rules", "reason", decision.Err.Reason)
	case s.enforceRules:
		final, overridden := Enforce(decision.Value, verdict)
		res.Decision = final
		res.Metadata.DecisionSource = DecisionSourceModel
		if overridden {
			res.Metadata.DecisionSource = DecisionSourceOverride
			res.Warnings = append(res.Warnings, Warning{
				Code:     "DECISION_OVERRIDDEN",
				Message:  fmt.Sprintf("model verdict %s replaced by %s", decision.Value.Status, final.Status),
				Severity: "medium",
			})
			log.WarnContext(ctx, "model decision overridden", "model_status", decision.Value.Status, "status", final.Status, "rule", verdict.Rule.String())
		}
	default:
		res.Decision = cloneDecision(decision.Value)
		res.Metadata.DecisionSource = DecisionSourceModel
	}

	// Assemble
	s.assemble(res, req.Options.threshold())
	res.ProcessingTimeMs = s.now().Sub(start).Milliseconds()
	log.InfoContext(ctx, "evaluation completed",
		"status", res.Decision.Status, "confidence", res.Decision.ConfidenceScore,
		"source", res.Metadata.DecisionSource, "duration_ms", res.ProcessingTimeMs)
	return res, nil
}

func (s *Service) assemble(res *Result, threshold float64) {
	if res.Metadata.DocumentsFailed > 0 {
		res.Warnings = append(res.Warnings, Warning{
			Code:     "DOCUMENTS_SKIPPED",
			Message:  fmt.Sprintf("%d of %d documents could not be processed", res.Metadata.DocumentsFailed, res.Metadata.DocumentsFailed+res.Metadata.DocumentsProcessed),
			Severity: "medium",
		})
	}
	if len(res.AnalyzedClauses) == 0 {
		res.Warnings = append(res.Warnings, Warning{
			Code:     "NO_RELEVANT_CLAUSES",
			Message:  "no relevant policy clauses were identified",
			Severity: "high",
		})
	}
	if res.Decision.ConfidenceScore < threshold {
		res.Warnings = append(res.Warnings, Warning{
			Code:     "LOW_CONFIDENCE",
			Message:  fmt.Sprintf("decision confidence %.2f is below the threshold %.2f", res.Decision.ConfidenceScore, threshold),
			Severity: "medium",
		})
		res.Decision.Recommendations = append(res.Decision.Recommendations, "Manual review recommended due to low confidence")
	}
}

func (s *Service) record(ctx context.Context, res *Result, req Request) {
	if s.recorder == nil {
		return
	}
	rec, err := completedRecord(res.RequestID, req, res)
	if err == nil {
		err = s.recorder.Save(ctx, rec)
	}
	if err != nil {
		slog.WarnContext(ctx, "failed to record evaluation", "request_id", res.RequestID, "error", err)
	}
}

func parseStageError(pe *reasoning.ParseError) StageError {
	return StageError{
		Stage:      pe.Stage,
		Code:       "PARSE_ERROR",
		Message:    pe.Error(),
		ParseError: pe,
	}
}
