// Package explain produces the top contributing factors for a risk
// decision. Contributions are local additive approximations: each
// feature's deviation from its training baseline, weighted by the
// model's learned sensitivity to that feature. The decomposition does
// not sum exactly to the final probability (the ensemble combination
// and threshold are non-linear); it ranks factors, it does not prove
// them.
package explain

import (
	"fmt"
	"math"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ensemble"
)

// MaxReasons is the maximum number of factors reported per decision.
const MaxReasons = 3

// Contribution is one feature's share of the decision.
type Contribution struct {
	Feature   string
	Label     string
	Value     float64
	Increased bool    // direction relative to baseline risk
	Percent   float64 // share of the final probability, in percent
}

// Generator ranks feature contributions for a scored transaction.
type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

// Explain returns at most MaxReasons contributions ordered by descending
// magnitude. Ties break by feature declaration order for determinism.
// Returns a single generic marker when no trained champion exists.
func (g *Generator) Explain(fv domain.FeatureVector, m *ensemble.Model, probability float64) []Contribution {
	if m == nil {
		return []Contribution{{
			Feature: "model",
			Label:   "Model",
			Percent: probability * 100,
			// Direction defaults to increased: the heuristic only adds risk.
			Increased: true,
		}}
	}

	x := fv.Values()

	// Raw signed contribution per feature: standardized deviation from
	// the training baseline times learned sensitivity.
	var raw [domain.FeatureCount]float64
	var totalMag float64
	for f := 0; f < domain.FeatureCount; f++ {
		raw[f] = m.Sensitivity[f] * (x[f] - m.Baseline[f]) / m.Scale[f]
		totalMag += math.Abs(raw[f])
	}
	if totalMag == 0 {
		return nil
	}

	order := make([]int, domain.FeatureCount)
	for i := range order {
		order[i] = i
	}
	// Stable sort preserves declaration order for equal magnitudes.
	sort.SliceStable(order, func(i, j int) bool {
		return math.Abs(raw[order[i]]) > math.Abs(raw[order[j]])
	})

	contributions := make([]Contribution, 0, MaxReasons)
	for _, f := range order {
		if len(contributions) == MaxReasons {
			break
		}
		if raw[f] == 0 {
			continue
		}
		name := domain.FeatureNames[f]
		contributions = append(contributions, Contribution{
			Feature:   name,
			Label:     domain.FeatureLabels[name],
			Value:     x[f],
			Increased: raw[f] > 0,
			Percent:   math.Abs(raw[f]) / totalMag * probability * 100,
		})
	}

	return contributions
}

// Strings renders contributions as analyst-facing reason strings.
func Strings(contributions []Contribution) []string {
	reasons := make([]string, 0, len(contributions))
	for _, c := range contributions {
		direction := "increased"
		if !c.Increased {
			direction = "decreased"
		}
		reasons = append(reasons, fmt.Sprintf("%s (%s) %s risk by %.1f%%",
			c.Label, formatValue(c.Feature, c.Value), direction, c.Percent))
	}
	return reasons
}

func formatValue(feature string, value float64) string {
	switch feature {
	case "amount", "tx_amount_sum_24h":
		return fmt.Sprintf("$%.2f", value)
	case "impossible_travel":
		if value >= 1 {
			return "yes"
		}
		return "no"
	case "hour":
		return fmt.Sprintf("%02d:00", int(value))
	case "model":
		return "untrained"
	default:
		return fmt.Sprintf("%.2f", value)
	}
}
