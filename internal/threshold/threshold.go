// Package threshold computes trust-adjusted decision thresholds.
//
// A fixed cutoff over-penalizes new legitimate users and under-penalizes
// compromised-but-trusted accounts. The calculator interpolates between a
// strict floor and a lenient ceiling, monotone in both account age and
// trust: a brand-new account stays near the floor regardless of trust,
// while an established trusted account approaches the ceiling.
package threshold

import (
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Calculator maps account trust signals to a flag/no-flag threshold.
type Calculator struct {
	min            float64
	max            float64
	saturationDays float64
}

// NewCalculator creates a calculator from the pipeline parameters.
func NewCalculator(cfg domain.EngineConfig) *Calculator {
	return &Calculator{
		min:            cfg.MinThreshold,
		max:            cfg.MaxThreshold,
		saturationDays: float64(cfg.AgeSaturationDays),
	}
}

// Compute returns the threshold for an account:
//
//	t = min + (max-min) * saturate(age) * trust
//
// where saturate(age) ramps linearly to 1 at the saturation horizon.
// Result is always within [min, max].
func (c *Calculator) Compute(accountAgeDays int, trustScore float64) float64 {
	age := math.Min(float64(accountAgeDays)/c.saturationDays, 1.0)
	if age < 0 {
		age = 0
	}

	trust := trustScore
	if trust < 0 {
		trust = 0
	}
	if trust > 1 {
		trust = 1
	}

	return c.min + (c.max-c.min)*age*trust
}
