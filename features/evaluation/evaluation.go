package evaluation

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"policyeval/internal/document"
	"policyeval/internal/reasoning"
	"policyeval/internal/retrieval"
)

const (
	ModeFast          = "fast"
	ModeAccurate      = "accurate"
	ModeComprehensive = "comprehensive"

	DefaultConfidenceThreshold = 0.8
	DefaultMaxClauses          = 10
)

var topKByMode = map[string]int{
	ModeFast:          5,
	ModeAccurate:      8,
	ModeComprehensive: 12,
}

type StructuredQuery struct {
	Age                  *int    `json:"age,omitempty" validate:"omitempty,gte=0,lte=150"`
	Gender               *string `json:"gender,omitempty"`
	Procedure            *string `json:"procedure,omitempty"`
	Location             *string `json:"location,omitempty"`
	PolicyDurationMonths *int    `json:"policy_duration_months,omitempty" validate:"omitempty,gte=0"`
	Emergency            *bool   `json:"emergency,omitempty"`
	PreExisting          *bool   `json:"pre_existing,omitempty"`
}

func (q *StructuredQuery) empty() bool {
	return q == nil || (q.Age == nil && q.Gender == nil && q.Procedure == nil && q.Location == nil &&
		q.PolicyDurationMonths == nil && q.Emergency == nil && q.PreExisting == nil)
}

// text renders the set fields as "age is 46, procedure is knee surgery".
func (q *StructuredQuery) text() string {
	if q == nil {
		return ""
	}
	var parts []string
	add := func(name, value string) {
		if value = strings.TrimSpace(value); value != "" {
			parts = append(parts, name+" is "+value)
		}
	}
	if q.Age != nil {
		add("age", strconv.Itoa(*q.Age))
	}
	if q.Gender != nil {
		add("gender", *q.Gender)
	}
	if q.Procedure != nil {
		add("procedure", *q.Procedure)
	}
	if q.Location != nil {
		add("location", *q.Location)
	}
	if q.PolicyDurationMonths != nil {
		add("policy duration months", strconv.Itoa(*q.PolicyDurationMonths))
	}
	if q.Emergency != nil {
		add("emergency", strconv.FormatBool(*q.Emergency))
	}
	if q.PreExisting != nil {
		add("pre existing", strconv.FormatBool(*q.PreExisting))
	}
	return strings.Join(parts, ", ")
}

type Query struct {
	RawText        string           `json:"raw_text,omitempty"`
	StructuredData *StructuredQuery `json:"structured_data,omitempty"`
}

// Text collapses the query into the single string used for entity extraction and
// query embedding. Empty when the query carries nothing.
func (q Query) Text() string {
	var parts []string
	if raw := strings.TrimSpace(q.RawText); raw != "" {
		parts = append(parts, raw)
	}
	if s := q.StructuredData.text(); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, ". ")
}

type DocumentInput struct {
	Type     string            `json:"type" validate:"omitempty,oneof=url base64 document_id"`
	Content  string            `json:"content" validate:"required"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type Options struct {
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty" validate:"omitempty,gte=0,lte=1"`
	MaxClauses          *int     `json:"max_clauses,omitempty" validate:"omitempty,gt=0"`
	ProcessingMode      string   `json:"processing_mode,omitempty" validate:"omitempty,oneof=fast accurate comprehensive"`
}

func (o *Options) threshold() float64 {
	if o == nil || o.ConfidenceThreshold == nil {
		return DefaultConfidenceThreshold
	}
	return *o.ConfidenceThreshold
}

func (o *Options) maxClauses() int {
	if o == nil || o.MaxClauses == nil {
		return DefaultMaxClauses
	}
	return *o.MaxClauses
}

func (o *Options) mode() string {
	if o == nil || o.ProcessingMode == "" {
		return ModeFast
	}
	return o.ProcessingMode
}

func (o *Options) topK() int {
	return topKByMode[o.mode()]
}

type Request struct {
	Query     Query           `json:"query"`
	Documents []DocumentInput `json:"documents" validate:"dive"`
	Options   *Options        `json:"options,omitempty"`
}

func (r Request) documents() []document.Document {
	docs := make([]document.Document, len(r.Documents))
	for i, d := range r.Documents {
		docs[i] = document.Document{
			ID:       fmt.Sprintf("doc-%d", i),
			Kind:     document.Kind(d.Type),
			Content:  d.Content,
			Metadata: d.Metadata,
		}
		if name := d.Metadata["filename"]; name != "" {
			docs[i].ID = fmt.Sprintf("doc-%d:%s", i, name)
		}
	}
	return docs
}

// StageError is a degraded stage: the request still produced a decision.
type StageError struct {
	Stage      string                `json:"stage"`
	Code       string                `json:"code"`
	Message    string                `json:"message"`
	ParseError *reasoning.ParseError `json:"parse_error,omitempty"`
}

type Warning struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

const (
	DecisionSourceModel    = "model"
	DecisionSourceOverride = "model_overridden_by_rules"
	DecisionSourceRules    = "rules"
)

type Metadata struct {
	DocumentsProcessed int                         `json:"documents_processed"`
	DocumentsFailed    int                         `json:"documents_failed"`
	DocumentFailures   []retrieval.DocumentFailure `json:"document_failures,omitempty"`
	ChunksIndexed      int                         `json:"chunks_indexed"`
	ClausesRetrieved   int                         `json:"clauses_retrieved"`
	ClausesEvaluated   int                         `json:"clauses_evaluated"`
	ProcessingMode     string                      `json:"processing_mode"`
	TopK               int                         `json:"top_k"`
	DecisionSource     string                      `json:"decision_source"`
	RuleApplied        string                      `json:"rule_applied,omitempty"`
	Model              string                      `json:"ai_model"`
}

type Result struct {
	RequestID         string                               `json:"request_id"`
	Timestamp         time.Time                            `json:"timestamp"`
	ProcessingTimeMs  int64                                `json:"processing_time_ms"`
	Decision          reasoning.Decision                   `json:"decision"`
	AnalyzedClauses   []reasoning.ClauseAnalysis           `json:"analyzed_clauses"`
	ExtractedEntities reasoning.Parsed[reasoning.Entities] `json:"extracted_entities"`
	Errors            []StageError                         `json:"errors,omitempty"`
	Warnings          []Warning                            `json:"warnings,omitempty"`
	Metadata          Metadata                             `json:"processing_metadata"`
}

// Task is the acknowledgement for an evaluation accepted for background processing.
type Task struct {
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}
