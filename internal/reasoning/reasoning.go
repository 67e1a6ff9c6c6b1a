package reasoning

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrEmbeddingCount is returned when a batch embedding call does not yield exactly
// one vector per input text.
var ErrEmbeddingCount = errors.New("embedding count does not match input count")

const (
	StageEntities = "extract_entities"
	StageClauses  = "analyze_clauses"
	StageDecision = "decide"
)

// Entities is the normalized structured view of a query. Nil means not mentioned.
type Entities struct {
	Age                  *int    `json:"age"`
	Gender               *string `json:"gender"`
	Procedure            *string `json:"procedure"`
	Location             *string `json:"location"`
	PolicyDurationMonths *int    `json:"policy_duration_months"`
	PreExisting          *bool   `json:"pre_existing"`
	Emergency            *bool   `json:"emergency"`
}

type ClauseType string

const (
	ClauseInclusion ClauseType = "inclusion"
	ClauseExclusion ClauseType = "exclusion"
	ClauseCondition ClauseType = "condition"
	ClauseGeneral   ClauseType = "general"
)

type ExtractedRules struct {
	WaitingPeriodMonths        *int     `json:"waiting_period_months"`
	PreExistingConditionClause bool     `json:"pre_existing_condition_clause"`
	CoverageAmount             *float64 `json:"coverage_amount"`
	ExclusionsMentioned        []string `json:"exclusions_mentioned"`
	ConditionsMentioned        []string `json:"conditions_mentioned"`
}

type ClauseAnalysis struct {
	ClauseID        string         `json:"clause_id"`
	RelevanceScore  float64        `json:"relevance_score"`
	ClauseType      ClauseType     `json:"clause_type"`
	MatchedCriteria []string       `json:"matched_criteria"`
	ExtractedRules  ExtractedRules `json:"extracted_rules"`
	Reasoning       string         `json:"reasoning"`
}

type Status string

const (
	StatusApproved         Status = "approved"
	StatusRejected         Status = "rejected"
	StatusRequiresReview   Status = "requires_review"
	StatusInsufficientInfo Status = "insufficient_info"
)

func (s Status) Valid() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusRequiresReview, StatusInsufficientInfo:
		return true
	}
	return false
}

type Decision struct {
	Status          Status   `json:"status"`
	ConfidenceScore float64  `json:"confidence_score"`
	ApprovedAmount  float64  `json:"approved_amount"`
	Reasoning       string   `json:"reasoning"`
	RiskFactors     []string `json:"risk_factors"`
	Recommendations []string `json:"recommendations"`
}

// ParseError describes a structured reply that could not be understood. Raw holds the
// reply exactly as received.
type ParseError struct {
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
	Raw    string `json:"raw"`
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: unparseable reply: %s", e.Stage, e.Reason)
}

// Parsed is either a value or the ParseError explaining why there is none.
type Parsed[T any] struct {
	Value T
	Err   *ParseError
}

func Success[T any](v T) Parsed[T] {
	return Parsed[T]{Value: v}
}

func Failure[T any](stage, reason, raw string) Parsed[T] {
	return Parsed[T]{Err: &ParseError{Stage: stage, Reason: reason, Raw: raw}}
}

func (p Parsed[T]) OK() bool { return p.Err == nil }

func (p Parsed[T]) MarshalJSON() ([]byte, error) {
	if p.Err != nil {
		return json.Marshal(struct {
			ParseError *ParseError `json:"parse_error"`
		}{p.Err})
	}
	return json.Marshal(p.Value)
}
