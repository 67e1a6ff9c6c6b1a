package reasoning

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	fencePattern  = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)\\s*```")
	numberPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
	monthsPattern = regexp.MustCompile(`(?i)^(\d+(?:\.\d+)?)\s*(months?|years?)?$`)
)

// ExtractJSON locates the JSON payload inside a model reply: a fenced code block if
// present, otherwise the whole reply, otherwise the outermost object or array, whichever opens first.
func ExtractJSON(reply string) ([]byte, bool) {
	if m := fencePattern.FindStringSubmatch(reply); m != nil {
		if candidate := []byte(m[1]); json.Valid(candidate) {
			return candidate, true
		}
	}

	trimmed := []byte(strings.TrimSpace(reply))
	if len(trimmed) > 0 && json.Valid(trimmed) {
		return trimmed, true
	}

	pairs := [][2]byte{{'{', '}'}, {'[', ']'}}
	if arr := bytes.IndexByte(trimmed, '['); arr >= 0 {
		if obj := bytes.IndexByte(trimmed, '{'); obj < 0 || arr < obj {
			pairs[0], pairs[1] = pairs[1], pairs[0]
		}
	}
	for _, pair := range pairs {
		start := bytes.IndexByte(trimmed, pair[0])
		end := bytes.LastIndexByte(trimmed, pair[1])
		if start >= 0 && end > start {
			if candidate := trimmed[start : end+1]; json.Valid(candidate) {
				return candidate, true
			}
		}
	}
	return nil, false
}

func decode(reply string) (any, string) {
	payload, ok := ExtractJSON(reply)
	if !ok {
		return nil, "no JSON value found in reply"
	}
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, err.Error()
	}
	return v, ""
}

// ParseEntities turns an entity extraction reply into Entities.
func ParseEntities(reply string) Parsed[Entities] {
	v, reason := decode(reply)
	if reason != "" {
		return Failure[Entities](StageEntities, reason, reply)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return Failure[Entities](StageEntities, fmt.Sprintf("expected object, got %s", kindOf(v)), reply)
	}

	return Success(Entities{
		Age:                  asInt(obj["age"]),
		Gender:               asString(obj["gender"]),
		Procedure:            asString(obj["procedure"]),
		Location:             asString(obj["location"]),
		PolicyDurationMonths: asMonths(obj["policy_duration_months"]),
		PreExisting:          asBool(obj["pre_existing"]),
		Emergency:            asBool(obj["emergency"]),
	})
}

// ParseClauses accepts a bare array or an object wrapping it under "clauses". An empty
// array is a valid reply.
func ParseClauses(reply string) Parsed[[]ClauseAnalysis] {
	v, reason := decode(reply)
	if reason != "" {
		return Failure[[]ClauseAnalysis](StageClauses, reason, reply)
	}

	if obj, ok := v.(map[string]any); ok {
		wrapped, found := obj["clauses"]
		if !found {
			return Failure[[]ClauseAnalysis](StageClauses, `object reply without "clauses" array`, reply)
		}
		v = wrapped
	}
	items, ok := v.([]any)
	if !ok {
		return Failure[[]ClauseAnalysis](StageClauses, fmt.Sprintf("expected array, got %s", kindOf(v)), reply)
	}

	analyses := make([]ClauseAnalysis, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return Failure[[]ClauseAnalysis](StageClauses, fmt.Sprintf("element %d is %s, not an object", i, kindOf(item)), reply)
		}
		analyses = append(analyses, clauseFrom(i, obj))
	}
	return Success(analyses)
}

func clauseFrom(i int, obj map[string]any) ClauseAnalysis {
	c := ClauseAnalysis{
		ClauseType:      normalizeClauseType(obj["clause_type"]),
		MatchedCriteria: asStrings(obj["matched_criteria"]),
	}
	if id := asString(obj["clause_id"]); id != nil {
		c.ClauseID = *id
	} else {
		c.ClauseID = fmt.Sprintf("clause-%d", i+1)
	}
	if score := asFloat(obj["relevance_score"]); score != nil {
		c.RelevanceScore = clamp01(*score)
	}
	if r := asString(obj["reasoning"]); r != nil {
		c.Reasoning = *r
	}

	if rules, ok := obj["extracted_rules"].(map[string]any); ok {
		c.ExtractedRules = ExtractedRules{
			WaitingPeriodMonths: asMonths(rules["waiting_period_months"]),
			CoverageAmount:      asFloat(rules["coverage_amount"]),
			ExclusionsMentioned: asStrings(rules["exclusions_mentioned"]),
			ConditionsMentioned: asStrings(rules["conditions_mentioned"]),
		}
		if b := asBool(rules["pre_existing_condition_clause"]); b != nil {
			c.ExtractedRules.PreExistingConditionClause = *b
		}
	}
	return c
}

func normalizeClauseType(v any) ClauseType {
	s := asString(v)
	if s == nil {
		return ClauseGeneral
	}
	switch t := ClauseType(cleanToken(*s)); t {
	case ClauseInclusion, ClauseExclusion, ClauseCondition:
		return t
	default:
		return ClauseGeneral
	}
}

// ParseDecision reads the verdict from "status" or, failing that, "decision". An
// unknown status is a parse failure.
func ParseDecision(reply string) Parsed[Decision] {
	v, reason := decode(reply)
	if reason != "" {
		return Failure[Decision](StageDecision, reason, reply)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return Failure[Decision](StageDecision, fmt.Sprintf("expected object, got %s", kindOf(v)), reply)
	}

	raw := asString(obj["status"])
	if raw == nil {
		raw = asString(obj["decision"])
	}
	if raw == nil {
		return Failure[Decision](StageDecision, "missing decision status", reply)
	}
	status := Status(cleanToken(*raw))
	if !status.Valid() {
		return Failure[Decision](StageDecision, fmt.Sprintf("unknown decision status %q", *raw), reply)
	}

	d := Decision{
		Status:          status,
		RiskFactors:     asStrings(obj["risk_factors"]),
		Recommendations: asStrings(obj["recommendations"]),
	}
	if c := asFloat(obj["confidence_score"]); c != nil {
		d.ConfidenceScore = clamp01(*c)
	}
	if a := asFloat(obj["approved_amount"]); a != nil && *a > 0 {
		d.ApprovedAmount = *a
	}
	if r := asString(obj["reasoning"]); r != nil {
		d.Reasoning = *r
	}
	return Success(d)
}

func cleanToken(s string) string {
	s = strings.ToLower(strings.Trim(strings.TrimSpace(s), `'"`))
	return strings.ReplaceAll(s, " ", "_")
}

func clamp01(f float64) float64 {
	if math.IsNaN(f) {
		return 0
	}
	return math.Min(1, math.Max(0, f))
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "an object"
	case []any:
		return "an array"
	case string:
		return "a string"
	case float64:
		return "a number"
	case bool:
		return "a boolean"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func isNullish(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "null", "none", "n/a", "unknown":
		return true
	}
	return false
}

func asFloat(v any) *float64 {
	switch t := v.(type) {
	case float64:
		return &t
	case string:
		if isNullish(t) {
			return nil
		}
		m := numberPattern.FindString(strings.ReplaceAll(t, ",", ""))
		if m == "" {
			return nil
		}
		f, err := strconv.ParseFloat(m, 64)
		if err != nil {
			return nil
		}
		return &f
	}
	return nil
}

func asInt(v any) *int {
	f := asFloat(v)
	if f == nil {
		return nil
	}
	i := int(math.Round(*f))
	return &i
}

// asMonths reads a duration as a bare number of months, "N month(s)" or "N year(s)".
// Anything else is unknown.
func asMonths(v any) *int {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case string:
		m := monthsPattern.FindStringSubmatch(strings.TrimSpace(t))
		if m == nil {
			return nil
		}
		n, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return nil
		}
		f = n
		if strings.HasPrefix(strings.ToLower(m[2]), "year") {
			f *= 12
		}
	default:
		return nil
	}
	if f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	i := int(math.Round(f))
	return &i
}

func asString(v any) *string {
	switch t := v.(type) {
	case string:
		t = strings.TrimSpace(t)
		if isNullish(t) {
			return nil
		}
		return &t
	case float64:
		s := strconv.FormatFloat(t, 'f', -1, 64)
		return &s
	case bool:
		s := strconv.FormatBool(t)
		return &s
	}
	return nil
}

func asBool(v any) *bool {
	var b bool
	switch t := v.(type) {
	case bool:
		b = t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "y":
			b = true
		case "false", "no", "n":
			b = false
		default:
			return nil
		}
	default:
		return nil
	}
	return &b
}

func asStrings(v any) []string {
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s := asString(item); s != nil {
				out = append(out, *s)
			}
		}
		return out
	case string:
		if s := asString(t); s != nil {
			return []string{*s}
		}
	}
	return []string{}
}
