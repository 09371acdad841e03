package ensemble

import (
	"math"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Supervised classifier: gradient-boosted decision stumps with logistic
// loss. Each round fits a one-split stump to the current residuals and
// takes a Newton step for the leaf values.
type boostedModel struct {
	Bias         float64 `json:"bias"`
	LearningRate float64 `json:"learningRate"`
	Stumps       []stump `json:"stumps"`

	// FeatureGain accumulates each feature's total split gain, used for
	// sensitivity estimates in explanations.
	FeatureGain [domain.FeatureCount]float64 `json:"featureGain"`
}

type stump struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      float64 `json:"left"`  // value when x[feature] < threshold
	Right     float64 `json:"right"` // value otherwise
}

const (
	boostRounds   = 60
	boostLearning = 0.1
	maxLeafValue  = 4.0
	minLeafHess   = 1e-6
)

func sigmoid(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}

// trainBoosted fits the classifier on a labeled matrix. Labels are 0/1.
// Fully deterministic for a given sample order.
func trainBoosted(x [][domain.FeatureCount]float64, y []float64) *boostedModel {
	n := len(x)

	// Log-odds prior, guarded against degenerate class balance.
	var pos float64
	for _, label := range y {
		pos += label
	}
	prior := (pos + 1) / (float64(n) + 2)
	model := &boostedModel{
		Bias:         math.Log(prior / (1 - prior)),
		LearningRate: boostLearning,
	}

	raw := make([]float64, n)
	for i := range raw {
		raw[i] = model.Bias
	}

	grad := make([]float64, n)
	hess := make([]float64, n)

	for round := 0; round < boostRounds; round++ {
		for i := range x {
			p := sigmoid(raw[i])
			grad[i] = y[i] - p
			hess[i] = p * (1 - p)
		}

		best, gain := fitStump(x, grad, hess)
		if gain <= 0 {
			break
		}
		model.Stumps = append(model.Stumps, best)
		model.FeatureGain[best.Feature] += gain

		for i := range x {
			raw[i] += model.LearningRate * best.apply(x[i])
		}
	}

	return model
}

// fitStump finds the single split maximizing the Newton gain over all
// features and candidate thresholds. Returns the stump and its gain.
func fitStump(x [][domain.FeatureCount]float64, grad, hess []float64) (stump, float64) {
	var totalG, totalH float64
	for i := range grad {
		totalG += grad[i]
		totalH += hess[i]
	}
	rootScore := totalG * totalG / (totalH + minLeafHess)

	var best stump
	bestGain := 0.0
	found := false

	type pair struct{ v, g, h float64 }
	pairs := make([]pair, len(x))

	for f := 0; f < domain.FeatureCount; f++ {
		for i := range x {
			pairs[i] = pair{x[i][f], grad[i], hess[i]}
		}
		sort.Slice(pairs, func(i, j int) bool { return pairs[i].v < pairs[j].v })

		var leftG, leftH float64
		for i := 0; i < len(pairs)-1; i++ {
			leftG += pairs[i].g
			leftH += pairs[i].h
			if pairs[i].v == pairs[i+1].v {
				continue
			}

			rightG := totalG - leftG
			rightH := totalH - leftH
			gain := leftG*leftG/(leftH+minLeafHess) +
				rightG*rightG/(rightH+minLeafHess) - rootScore

			if gain > bestGain {
				bestGain = gain
				found = true
				best = stump{
					Feature:   f,
					Threshold: (pairs[i].v + pairs[i+1].v) / 2,
					Left:      clampLeaf(leftG / (leftH + minLeafHess)),
					Right:     clampLeaf(rightG / (rightH + minLeafHess)),
				}
			}
		}
	}

	if !found {
		return stump{}, 0
	}
	return best, bestGain
}

func clampLeaf(v float64) float64 {
	if v > maxLeafValue {
		return maxLeafValue
	}
	if v < -maxLeafValue {
		return -maxLeafValue
	}
	return v
}

func (s stump) apply(x [domain.FeatureCount]float64) float64 {
	if x[s.Feature] < s.Threshold {
		return s.Left
	}
	return s.Right
}

// predict returns P(fraud) for one feature vector.
func (m *boostedModel) predict(x [domain.FeatureCount]float64) float64 {
	raw := m.Bias
	for _, s := range m.Stumps {
		raw += m.LearningRate * s.apply(x)
	}
	return sigmoid(raw)
}
