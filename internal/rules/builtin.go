package rules

import "github.com/opensource-finance/kestrel/internal/domain"

// BuiltinRules returns the default override rule set installed on first
// start. Operators replace or extend these through the rules API; the
// repository is the source of truth after first boot.
func BuiltinRules() []*domain.OverrideRule {
	return []*domain.OverrideRule{
		{
			ID:          "builtin-large-amount",
			Name:        "large-amount",
			Description: "Single transactions above the hard review limit always go to review.",
			Expression:  `amount > 50000.0`,
			Reason:      "Amount exceeds hard review limit",
			Enabled:     true,
		},
		{
			ID:          "builtin-burst-travel",
			Name:        "burst-with-travel",
			Description: "Saturated velocity combined with impossible travel is a strong takeover signal.",
			Expression:  `velocity_score >= 0.9 && impossible_travel`,
			Reason:      "Velocity burst with impossible travel",
			Enabled:     true,
		},
		{
			ID:          "builtin-new-account-spike",
			Name:        "new-account-spike",
			Description: "Accounts younger than a week spending far above their norm.",
			Expression:  `account_age_days < 7 && amount_ratio > 20.0`,
			Reason:      "New account with extreme amount spike",
			Enabled:     true,
		},
	}
}
