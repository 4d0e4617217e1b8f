// Package rules evaluates conditional visibility rules for form questions.
//
// The evaluator is a pure function over a rule set and the answers collected
// so far. It is the single implementation shared by form rendering, the
// evaluate-logic endpoint, and submission-time re-validation; those paths
// must never diverge.
package rules

import (
	"fmt"
	"strings"
)

const (
	LogicAnd = "AND"
	LogicOr  = "OR"
)

const (
	OperatorEquals    = "equals"
	OperatorNotEquals = "notEquals"
	OperatorContains  = "contains"
)

// Condition compares the answer stored under QuestionKey against Value.
type Condition struct {
	QuestionKey string `json:"questionKey"`
	Operator    string `json:"operator"`
	Value       any    `json:"value"`
}

// RuleSet combines conditions with AND or OR logic. A nil or empty rule set
// always evaluates to visible.
type RuleSet struct {
	Logic      string      `json:"logic"`
	Conditions []Condition `json:"conditions"`
}

// Visible reports whether a question governed by ruleSet should be shown
// given the answers collected so far.
//
// Unknown operators and invalid conditions evaluate to true. This fail-open
// behavior is a deliberate policy: forms built against the looser semantics
// depend on it, so it must not be silently tightened.
func Visible(ruleSet *RuleSet, answers map[string]any) bool {
	if ruleSet == nil || len(ruleSet.Conditions) == 0 {
		return true
	}

	if strings.TrimSpace(ruleSet.Logic) == LogicOr {
		for _, condition := range ruleSet.Conditions {
			if evaluateCondition(condition, answers) {
				return true
			}
		}
		return false
	}

	// Any logic value other than OR combines as AND.
	for _, condition := range ruleSet.Conditions {
		if !evaluateCondition(condition, answers) {
			return false
		}
	}
	return true
}

// Validate checks rule set structure without evaluating it. A nil rule set
// is valid.
func (r *RuleSet) Validate() error {
	if r == nil {
		return nil
	}
	logic := strings.TrimSpace(r.Logic)
	if logic != LogicAnd && logic != LogicOr {
		return fmt.Errorf("rules: logic must be AND or OR, got %q", r.Logic)
	}
	for i, condition := range r.Conditions {
		if strings.TrimSpace(condition.QuestionKey) == "" {
			return fmt.Errorf("rules: condition %d is missing a question key", i)
		}
		switch condition.Operator {
		case OperatorEquals, OperatorNotEquals, OperatorContains:
		default:
			return fmt.Errorf("rules: condition %d has unsupported operator %q", i, condition.Operator)
		}
		if condition.Value == nil {
			return fmt.Errorf("rules: condition %d is missing a value", i)
		}
	}
	return nil
}

func evaluateCondition(condition Condition, answers map[string]any) bool {
	if strings.TrimSpace(condition.QuestionKey) == "" {
		return true
	}

	answer, present := answers[condition.QuestionKey]
	expected := condition.Value

	switch condition.Operator {
	case OperatorEquals:
		return equalsAnswer(answer, present, expected)
	case OperatorNotEquals:
		return !equalsAnswer(answer, present, expected)
	case OperatorContains:
		return containsAnswer(answer, present, expected)
	default:
		return true
	}
}

// equalsAnswer treats a sequence answer as "equal" when the expected value
// is a member, matching how multi-select answers compare in the source
// system. Scalar answers compare by string form. An absent answer is never
// equal to a concrete expected value.
func equalsAnswer(answer any, present bool, expected any) bool {
	if !present || answer == nil {
		return expected == nil
	}
	if items, ok := asSequence(answer); ok {
		return sequenceContains(items, expected)
	}
	return stringForm(answer) == stringForm(expected)
}

func containsAnswer(answer any, present bool, expected any) bool {
	if !present || answer == nil {
		return false
	}
	if items, ok := asSequence(answer); ok {
		return sequenceContains(items, expected)
	}
	if text, ok := answer.(string); ok {
		return strings.Contains(text, stringForm(expected))
	}
	return false
}

func asSequence(value any) ([]any, bool) {
	switch typed := value.(type) {
	case []any:
		return typed, true
	case []string:
		items := make([]any, 0, len(typed))
		for _, item := range typed {
			items = append(items, item)
		}
		return items, true
	default:
		return nil, false
	}
}

func sequenceContains(items []any, expected any) bool {
	want := stringForm(expected)
	for _, item := range items {
		if stringForm(item) == want {
			return true
		}
	}
	return false
}

func stringForm(value any) string {
	if value == nil {
		return ""
	}
	if text, ok := value.(string); ok {
		return text
	}
	return fmt.Sprint(value)
}
