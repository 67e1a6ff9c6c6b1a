package evaluation

import (
	"fmt"

	"policyeval/internal/reasoning"
)

// Rule is one step of the decision priority order. Lower values win.
type Rule int

const (
	RuleNone Rule = iota
	RuleExclusion
	RuleWaitingPeriod
	RulePreExisting
	RuleInclusion
)

func (r Rule) String() string {
	switch r {
	case RuleExclusion:
		return "exclusion_priority"
	case RuleWaitingPeriod:
		return "waiting_period"
	case RulePreExisting:
		return "pre_existing_condition"
	case RuleInclusion:
		return "inclusion"
	default:
		return ""
	}
}

// rulesConfidence is reported when the decision had to be derived without the model.
const rulesConfidence = 0.5

type Verdict struct {
	Rule   Rule
	Status reasoning.Status
	Clause *reasoning.ClauseAnalysis
	Reason string
}

// Evaluate applies the priority order to the analysed clauses:
// exclusion, unmet waiting period, pre-existing condition, inclusion, review.
func Evaluate(facts reasoning.Entities, analyses []reasoning.ClauseAnalysis) Verdict {
	for i := range analyses {
		if analyses[i].ClauseType == reasoning.ClauseExclusion {
			return Verdict{
				Rule: RuleExclusion, Status: reasoning.StatusRejected, Clause: &analyses[i],
				Reason: fmt.Sprintf("Exclusion clause applied (%s)", analyses[i].ClauseID),
			}
		}
	}

	if facts.PolicyDurationMonths != nil {
		for i := range analyses {
			wait := analyses[i].ExtractedRules.WaitingPeriodMonths
			if wait != nil && *facts.PolicyDurationMonths < *wait {
				return Verdict{
					Rule: RuleWaitingPeriod, Status: reasoning.StatusRejected, Clause: &analyses[i],
					Reason: fmt.Sprintf("Waiting period not met: policy held %d of %d required months (%s)",
						*facts.PolicyDurationMonths, *wait, analyses[i].ClauseID),
				}
			}
		}
	}

	if facts.PreExisting != nil && *facts.PreExisting {
		for i := range analyses {
			if analyses[i].ExtractedRules.PreExistingConditionClause {
				return Verdict{
					Rule: RulePreExisting, Status: reasoning.StatusRejected, Clause: &analyses[i],
					Reason: fmt.Sprintf("Pre-existing condition clause applied (%s)", analyses[i].ClauseID),
				}
			}
		}
	}

	for i := range analyses {
		if analyses[i].ClauseType == reasoning.ClauseInclusion {
			return Verdict{
				Rule: RuleInclusion, Status: reasoning.StatusApproved, Clause: &analyses[i],
				Reason: fmt.Sprintf("Inclusion clause applies (%s)", analyses[i].ClauseID),
			}
		}
	}

	return Verdict{Rule: RuleNone, Status: reasoning.StatusRequiresReview, Reason: "No decisive clause found"}
}

// Enforce reconciles the model's decision with the verdict and reports whether the
// status had to change. The input decision is not modified.
func Enforce(d reasoning.Decision, v Verdict) (reasoning.Decision, bool) {
	out := cloneDecision(d)
	target := v.Status

	switch {
	case v.Status == reasoning.StatusRejected:
		out.ApprovedAmount = 0
		if out.Status == reasoning.StatusRejected {
			return out, false
		}
	case v.Rule == RuleInclusion:
		switch out.Status {
		case reasoning.StatusApproved:
			return out, false
		case reasoning.StatusRejected:
			// An inclusion never outranks a model rejection; the model may have applied a
			// rule the extraction missed.
			target = reasoning.StatusRequiresReview
			out.ApprovedAmount = 0
		default:
			if out.ApprovedAmount == 0 {
				out.ApprovedAmount = coverage(v.Clause)
			}
		}
	default:
		if out.Status != reasoning.StatusApproved && out.Status != reasoning.StatusRejected {
			return out, false
		}
		out.ApprovedAmount = 0
	}

	note := fmt.Sprintf("Status changed from %s to %s by decision rule %q: %s.", out.Status, target, v.Rule.String(), v.Reason)
	if v.Rule == RuleNone {
		note = fmt.Sprintf("Status changed from %s to %s: no exclusion, waiting period, pre-existing or inclusion clause supports it.", out.Status, target)
	}
	out.Status = target
	out.RiskFactors = append(out.RiskFactors, v.Reason)
	if out.Reasoning == "" {
		out.Reasoning = note
	} else {
		out.Reasoning += "\n\n" + note
	}
	return out, true
}

// Derive builds a decision from the verdict alone.
func Derive(v Verdict) reasoning.Decision {
	d := reasoning.Decision{
		Status:          v.Status,
		ConfidenceScore: rulesConfidence,
		Reasoning:       fmt.Sprintf("Decision derived from policy rules: %s.", v.Reason),
		RiskFactors:     []string{},
		Recommendations: []string{},
	}
	switch v.Status {
	case reasoning.StatusRejected:
		d.RiskFactors = append(d.RiskFactors, v.Reason)
	case reasoning.StatusApproved:
		d.ApprovedAmount = coverage(v.Clause)
	default:
		d.Recommendations = append(d.Recommendations, "Refer the claim for manual review")
	}
	return d
}

func coverage(c *reasoning.ClauseAnalysis) float64 {
	if c == nil || c.ExtractedRules.CoverageAmount == nil {
		return 0
	}
	return *c.ExtractedRules.CoverageAmount
}

func cloneDecision(d reasoning.Decision) reasoning.Decision {
	d.RiskFactors = append([]string{}, d.RiskFactors...)
	d.Recommendations = append([]string{}, d.Recommendations...)
	return d
}

// mergeFacts fills entity fields the model did not extract from the structured query.
func mergeFacts(e reasoning.Entities, q *StructuredQuery) reasoning.Entities {
	if q == nil {
		return e
	}
	if e.Age == nil {
		e.Age = q.Age
	}
	if e.Gender == nil {
		e.Gender = q.Gender
	}
	if e.Procedure == nil {
		e.Procedure = q.Procedure
	}
	if e.Location == nil {
		e.Location = q.Location
	}
	if e.PolicyDurationMonths == nil {
		e.PolicyDurationMonths = q.PolicyDurationMonths
	}
	if e.PreExisting == nil {
		e.PreExisting = q.PreExisting
	}
	if e.Emergency == nil {
		e.Emergency = q.Emergency
	}
	return e
}
