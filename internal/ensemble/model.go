// Package ensemble implements the hybrid fraud scorer: a supervised
// gradient-boosted classifier combined with an unsupervised isolation
// forest. Model versions are immutable once trained; the serving champion
// is swapped atomically and never mutated in place.
package ensemble

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var ErrInsufficientData = errors.New("insufficient training data")

// MinTrainSamples is the smallest corpus a model can be fit on. Below it,
// or with a single class, Train refuses rather than producing a model
// that memorized noise.
const MinTrainSamples = 20

// Model is one immutable trained version of the ensemble.
type Model struct {
	Version     string    `json:"version"`
	TrainedAt   time.Time `json:"trainedAt"`
	F1          float64   `json:"f1"`
	SampleCount int       `json:"sampleCount"`

	Boost  *boostedModel    `json:"boost"`
	Forest *isolationForest `json:"forest"`

	// Training-set statistics used by explanations.
	Baseline    [domain.FeatureCount]float64 `json:"baseline"`
	Scale       [domain.FeatureCount]float64 `json:"scale"`
	Sensitivity [domain.FeatureCount]float64 `json:"sensitivity"`
}

// Train fits a new model version on the labeled corpus. The corpus must
// contain both classes and at least MinTrainSamples rows. A held-out
// stratified slice provides the F1 used for champion/challenger
// comparison. Deterministic for a given seed.
func Train(samples []*domain.LabeledSample, version string, seed int64) (*Model, error) {
	if len(samples) < MinTrainSamples {
		return nil, fmt.Errorf("%w: have %d samples, need %d",
			ErrInsufficientData, len(samples), MinTrainSamples)
	}

	var posIdx, negIdx []int
	for i, s := range samples {
		if s.IsFraud {
			posIdx = append(posIdx, i)
		} else {
			negIdx = append(negIdx, i)
		}
	}
	if len(posIdx) == 0 || len(negIdx) == 0 {
		return nil, fmt.Errorf("%w: corpus must contain both classes", ErrInsufficientData)
	}

	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(posIdx), func(i, j int) { posIdx[i], posIdx[j] = posIdx[j], posIdx[i] })
	rng.Shuffle(len(negIdx), func(i, j int) { negIdx[i], negIdx[j] = negIdx[j], negIdx[i] })

	// Stratified 80/20 split, keeping at least one positive held out.
	trainIdx, holdIdx := splitStratified(posIdx, negIdx)

	trainX := make([][domain.FeatureCount]float64, 0, len(trainIdx))
	trainY := make([]float64, 0, len(trainIdx))
	for _, i := range trainIdx {
		trainX = append(trainX, samples[i].Features.Values())
		label := 0.0
		if samples[i].IsFraud {
			label = 1.0
		}
		trainY = append(trainY, label)
	}

	m := &Model{
		Version:     version,
		TrainedAt:   time.Now().UTC(),
		SampleCount: len(samples),
		Boost:       trainBoosted(trainX, trainY),
		Forest:      trainForest(trainX, rng),
	}
	m.computeStatistics(trainX)

	holdout := make([]*domain.LabeledSample, 0, len(holdIdx))
	for _, i := range holdIdx {
		holdout = append(holdout, samples[i])
	}
	m.F1 = m.EvaluateF1(holdout)

	return m, nil
}

func splitStratified(posIdx, negIdx []int) (train, holdout []int) {
	posHold := len(posIdx) / 5
	if posHold == 0 {
		posHold = 1
	}
	negHold := len(negIdx) / 5
	if negHold == 0 {
		negHold = 1
	}

	holdout = append(holdout, posIdx[:posHold]...)
	holdout = append(holdout, negIdx[:negHold]...)
	train = append(train, posIdx[posHold:]...)
	train = append(train, negIdx[negHold:]...)
	return train, holdout
}

func (m *Model) computeStatistics(x [][domain.FeatureCount]float64) {
	n := float64(len(x))
	if n == 0 {
		return
	}

	for f := 0; f < domain.FeatureCount; f++ {
		var sum float64
		for _, row := range x {
			sum += row[f]
		}
		m.Baseline[f] = sum / n
	}
	for f := 0; f < domain.FeatureCount; f++ {
		var sq float64
		for _, row := range x {
			d := row[f] - m.Baseline[f]
			sq += d * d
		}
		m.Scale[f] = math.Sqrt(sq / n)
		if m.Scale[f] < 1e-9 {
			m.Scale[f] = 1
		}
	}

	// Normalize split gains into per-feature sensitivities summing to 1.
	var totalGain float64
	for _, g := range m.Boost.FeatureGain {
		totalGain += g
	}
	if totalGain > 0 {
		for f := range m.Sensitivity {
			m.Sensitivity[f] = m.Boost.FeatureGain[f] / totalGain
		}
	} else {
		for f := range m.Sensitivity {
			m.Sensitivity[f] = 1.0 / domain.FeatureCount
		}
	}
}

// Supervised returns P(fraud) from the boosted classifier.
func (m *Model) Supervised(x [domain.FeatureCount]float64) float64 {
	return m.Boost.predict(x)
}

// Anomaly returns the isolation forest score in (0,1).
func (m *Model) Anomaly(x [domain.FeatureCount]float64) float64 {
	return m.Forest.score(x)
}

// EvaluateF1 computes F1 over the given labeled samples at the 0.5
// supervised cutoff. Returns 0 when no positive predictions or labels
// exist.
func (m *Model) EvaluateF1(samples []*domain.LabeledSample) float64 {
	var tp, fp, fn float64
	for _, s := range samples {
		predicted := m.Supervised(s.Features.Values()) >= 0.5
		switch {
		case predicted && s.IsFraud:
			tp++
		case predicted && !s.IsFraud:
			fp++
		case !predicted && s.IsFraud:
			fn++
		}
	}

	if tp == 0 {
		return 0
	}
	precision := tp / (tp + fp)
	recall := tp / (tp + fn)
	return 2 * precision * recall / (precision + recall)
}
