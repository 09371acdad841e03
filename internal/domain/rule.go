package domain

import "time"

// OverrideRule is an analyst-defined hard rule evaluated over the derived
// feature vector. A matching rule forces the transaction to be flagged
// regardless of the model's decision; it never lowers a flag.
type OverrideRule struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// CEL expression over feature variables; must evaluate to bool.
	// Example: `amount > 50000.0 && impossible_travel`
	Expression string `json:"expression"`

	// Reason attached to the assessment when the rule matches.
	Reason string `json:"reason"`

	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// OverrideMatch is the outcome of a matched override rule.
type OverrideMatch struct {
	RuleID string `json:"ruleId"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}
