package ensemble

import (
	"math"
	"sync/atomic"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// HeuristicVersion marks scores produced before any champion exists.
const HeuristicVersion = "heuristic-v0"

// Result carries the combined probability and its constituent sub-scores.
type Result struct {
	Probability  float64
	Supervised   float64
	Anomaly      float64
	Untrained    bool
	ModelVersion string
}

// Scorer combines the champion model's supervised and unsupervised scores
// into one fraud probability. The champion is read through an atomic
// pointer: scoring never blocks on a promotion, and a concurrent swap is
// observed as either fully old or fully new.
type Scorer struct {
	wSupervised   float64
	wUnsupervised float64

	champion atomic.Pointer[Model]
	previous atomic.Pointer[Model]
}

// NewScorer creates a scorer with the configured ensemble weights and no
// champion. Until a champion is promoted, scoring uses the heuristic
// fallback and marks results as untrained.
func NewScorer(cfg domain.EngineConfig) *Scorer {
	return &Scorer{
		wSupervised:   cfg.SupervisedWeight,
		wUnsupervised: cfg.UnsupervisedWeight,
	}
}

// Champion returns the serving model, or nil before the first promotion.
func (s *Scorer) Champion() *Model {
	return s.champion.Load()
}

// Promote atomically installs a new champion, retaining the previous one
// as a rollback candidate.
func (s *Scorer) Promote(m *Model) {
	old := s.champion.Swap(m)
	if old != nil {
		s.previous.Store(old)
	}
}

// Rollback restores the previous champion. Returns false when no
// rollback candidate exists.
func (s *Scorer) Rollback() bool {
	prev := s.previous.Load()
	if prev == nil {
		return false
	}
	s.champion.Store(prev)
	return true
}

// Score produces the fraud probability for one feature vector.
func (s *Scorer) Score(fv domain.FeatureVector) Result {
	m := s.champion.Load()
	if m == nil {
		p := heuristicScore(fv)
		return Result{
			Probability:  p,
			Supervised:   p,
			Anomaly:      p,
			Untrained:    true,
			ModelVersion: HeuristicVersion,
		}
	}

	x := fv.Values()
	sup := m.Supervised(x)
	anom := m.Anomaly(x)

	p := s.wSupervised*sup + s.wUnsupervised*anom
	p = math.Max(0, math.Min(1, p))

	return Result{
		Probability:  p,
		Supervised:   sup,
		Anomaly:      anom,
		ModelVersion: m.Version,
	}
}

// heuristicScore is the low-confidence fallback used before a champion
// exists. Built from the same behavioral signals the models consume, so
// its ordering is sane even though its calibration is not.
func heuristicScore(fv domain.FeatureVector) float64 {
	score := 0.05

	// Spend far above the account's norm.
	if fv.AmountRatio > 1 {
		score += 0.35 * math.Min((fv.AmountRatio-1)/20, 1)
	}
	// Burst of activity.
	score += 0.25 * fv.VelocityScore
	// Physically implausible movement.
	if fv.ImpossibleTravel {
		score += 0.30
	}
	// Large absolute amounts carry residual risk on their own.
	score += 0.10 * math.Min(fv.RawAmount/50000, 1)

	return math.Max(0, math.Min(1, score))
}
