package gemini

import (
	"encoding/json"
	"fmt"
	"strings"

	"policyeval/internal/reasoning"
)

const entityPrompt = `Extract structured information from this insurance query: %q

Return a JSON object with exactly these keys:
{
  "age": integer or null,
  "gender": "M" | "F" | "Other" | null,
  "procedure": string or null,
  "location": string or null,
  "policy_duration_months": integer or null,
  "pre_existing": true if a pre-existing condition is mentioned, false if explicitly denied, otherwise null,
  "emergency": true if the treatment is described as an emergency, otherwise null
}

Only extract information that is explicitly mentioned. Use null for anything missing.
Format the output as a JSON object inside a ` + "```json" + ` markdown block.`

const clausePrompt = `Analyze these policy document sections against the insurance query. Follow every instruction.

Query: %s

Policy Sections:
%s

For each relevant section return one object in a JSON array:
[{
  "clause_id": "a reference from the section, or its first ten words",
  "relevance_score": float between 0 and 1,
  "clause_type": "inclusion" (grants coverage) | "exclusion" (denies coverage) | "condition" (a prerequisite) | "general",
  "matched_criteria": ["query criteria the clause matches"],
  "extracted_rules": {
    "waiting_period_months": integer or null,
    "pre_existing_condition_clause": true if the clause concerns pre-existing conditions,
    "coverage_amount": number or null,
    "exclusions_mentioned": ["specific exclusions"],
    "conditions_mentioned": ["specific conditions"]
  },
  "reasoning": "how the clause applies to the query"
}]

Instructions:
1. Classify each clause as inclusion, exclusion or condition before anything else.
2. Pay close attention to waiting periods, pre-existing conditions and coverage amounts.
3. Use null for any value that is not explicitly stated.
4. If no section is relevant, return an empty array [].

Format the output as a JSON array inside a ` + "```json" + ` markdown block.`

const decisionPrompt = `Make a final insurance claim decision from the query and the policy analysis.

Query: %s
Policy Analysis: %s

Decision rules, applied strictly in this order:
1. Exclusion priority: if any relevant clause is an "exclusion", the decision MUST be "rejected" regardless of other clauses.
2. Waiting period: if a clause requires a waiting period and the policy duration in the query is shorter, the decision MUST be "rejected".
3. Pre-existing conditions: if the query mentions a pre-existing condition and a relevant clause concerns pre-existing conditions, the decision MUST be "rejected".
4. Approval: if none of the above apply and at least one clause is an "inclusion", the decision is "approved".
5. Review: otherwise the decision is "requires_review".

Return a single JSON object:
{
  "decision": "approved" | "rejected" | "requires_review" | "insufficient_info",
  "confidence_score": float between 0 and 1,
  "approved_amount": number, 0 when rejected,
  "reasoning": "step by step explanation naming the rule that was applied",
  "risk_factors": ["e.g. Exclusion clause applied, Waiting period not met"],
  "recommendations": ["e.g. request documents clarifying the pre-existing condition"]
}

Be conservative and cite the triggering rule. Format the output as a JSON object inside a ` + "```json" + ` markdown block.`

const answerPrompt = `You are an expert insurance policy analyst. Answer the question clearly and formally, using ONLY the policy context below.

Instructions:
1. Write complete, grammatically correct sentences.
2. Be precise. Avoid vague wording such as "might be" or "could be".
3. Include the specific policy terms, conditions and limits that apply.
4. Write numbers consistently, for example "thirty (30) days".
5. If the context does not contain the answer, reply: "This information is not specified in the provided policy document."

Structure:
[Summary] A brief, direct answer.

[Conditions] Applicable conditions, waiting periods or requirements.

[Limitations] Coverage limits, sub-limits or exclusions.

[Reference] The section or clause of the policy, if available.

Question: %s

Policy Document Context:
---
%s
---`

func buildEntityPrompt(query string) string {
	return fmt.Sprintf(entityPrompt, query)
}

func buildClausePrompt(entities reasoning.Entities, chunks []string) (string, error) {
	q, err := json.Marshal(entities)
	if err != nil {
		return "", err
	}
	sections, err := json.MarshalIndent(chunks, "", "  ")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(clausePrompt, q, sections), nil
}

func buildDecisionPrompt(entities reasoning.Entities, analyses []reasoning.ClauseAnalysis) (string, error) {
	q, err := json.Marshal(entities)
	if err != nil {
		return "", err
	}
	if analyses == nil {
		analyses = []reasoning.ClauseAnalysis{}
	}
	a, err := json.Marshal(analyses)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(decisionPrompt, q, a), nil
}

func buildAnswerPrompt(question string, chunks []string) string {
	return fmt.Sprintf(answerPrompt, question, strings.Join(chunks, "\n"))
}
