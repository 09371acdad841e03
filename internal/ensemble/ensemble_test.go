package ensemble

import (
	"errors"
	"sync"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func trainedModel(t *testing.T) *Model {
	t.Helper()
	m, err := Train(SyntheticCorpus(42), "test-v1", 42)
	if err != nil {
		t.Fatalf("failed to train model: %v", err)
	}
	return m
}

func legitVector() domain.FeatureVector {
	return domain.FeatureVector{
		RawAmount:      150,
		DeviceEnc:      0,
		HourOfDay:      14,
		TxCount1h:      1,
		TxAmountSum24h: 400,
		AmountRatio:    1.0,
		VelocityScore:  0.1,
	}
}

func fraudVector() domain.FeatureVector {
	return domain.FeatureVector{
		RawAmount:        45000,
		DeviceEnc:        1,
		HourOfDay:        3,
		TxCount1h:        12,
		TxAmountSum24h:   60000,
		AmountRatio:      37.5,
		VelocityScore:    1.0,
		ImpossibleTravel: true,
	}
}

func TestTrainInsufficientData(t *testing.T) {
	_, err := Train(nil, "v1", 1)
	if !errors.Is(err, ErrInsufficientData) {
		t.Errorf("expected ErrInsufficientData for empty corpus, got %v", err)
	}

	// Enough rows but a single class.
	var oneClass []*domain.LabeledSample
	for i := 0; i < MinTrainSamples+5; i++ {
		oneClass = append(oneClass, &domain.LabeledSample{
			Features: legitVector(), IsFraud: false,
		})
	}
	_, err = Train(oneClass, "v1", 1)
	if !errors.Is(err, ErrInsufficientData) {
		t.Errorf("expected ErrInsufficientData for single class, got %v", err)
	}
}

func TestTrainedModelSeparatesClasses(t *testing.T) {
	m := trainedModel(t)

	legit := legitVector()
	fraud := fraudVector()
	pLegit := m.Supervised(legit.Values())
	pFraud := m.Supervised(fraud.Values())

	if pFraud <= pLegit {
		t.Errorf("fraud proba %v must exceed legit proba %v", pFraud, pLegit)
	}
	if pFraud < 0.5 {
		t.Errorf("obvious fraud scored %v, want >= 0.5", pFraud)
	}
	if pLegit > 0.5 {
		t.Errorf("obvious legit scored %v, want < 0.5", pLegit)
	}
}

// Window features describe the account before the transaction lands, so
// a spike presents a baseline-scale or empty 24h sum, never its own
// amount. The model must flag the spike on amount and ratio alone.
func TestSpikeScoresHighOnPreTransactionWindows(t *testing.T) {
	m := trainedModel(t)

	tests := []struct {
		name string
		fv   domain.FeatureVector
	}{
		{"seeded baseline", domain.FeatureVector{
			RawAmount: 45000, HourOfDay: 14, TxCount1h: 1,
			TxAmountSum24h: 1200, AmountRatio: 37.5, VelocityScore: 0.1,
		}},
		{"dormant account", domain.FeatureVector{
			RawAmount: 45000, HourOfDay: 14, AmountRatio: 37.5,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if p := m.Supervised(tt.fv.Values()); p < 0.5 {
				t.Errorf("spike scored %v, want >= 0.5", p)
			}
		})
	}
}

func TestAnomalyScoreRange(t *testing.T) {
	m := trainedModel(t)

	for _, fv := range []domain.FeatureVector{legitVector(), fraudVector(), {}} {
		s := m.Anomaly(fv.Values())
		if s < 0 || s > 1 {
			t.Errorf("anomaly score %v outside [0,1] for %+v", s, fv)
		}
	}

	// An extreme outlier isolates earlier than a typical point.
	legit := legitVector()
	fraud := fraudVector()
	if m.Anomaly(fraud.Values()) <= m.Anomaly(legit.Values()) {
		t.Error("outlier must score more anomalous than typical point")
	}
}

func TestTrainDeterministic(t *testing.T) {
	a, err := Train(SyntheticCorpus(7), "v1", 7)
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	b, err := Train(SyntheticCorpus(7), "v1", 7)
	if err != nil {
		t.Fatalf("train: %v", err)
	}

	fraud := fraudVector()
	x := fraud.Values()
	if a.Supervised(x) != b.Supervised(x) {
		t.Error("supervised predictions differ across identical training runs")
	}
	if a.F1 != b.F1 {
		t.Errorf("F1 differs across identical runs: %v vs %v", a.F1, b.F1)
	}
}

func TestModelF1OnSyntheticCorpus(t *testing.T) {
	m := trainedModel(t)
	if m.F1 < 0.6 {
		t.Errorf("holdout F1 = %v, expected a usable model (>= 0.6)", m.F1)
	}
}

func TestScorerUntrainedFallback(t *testing.T) {
	scorer := NewScorer(domain.DefaultEngineConfig())

	res := scorer.Score(fraudVector())
	if !res.Untrained {
		t.Error("expected untrained marker before first promotion")
	}
	if res.ModelVersion != HeuristicVersion {
		t.Errorf("ModelVersion = %q, want %q", res.ModelVersion, HeuristicVersion)
	}
	if res.Probability < 0 || res.Probability > 1 {
		t.Errorf("heuristic probability %v outside [0,1]", res.Probability)
	}

	// Heuristic ordering is still sane.
	if scorer.Score(fraudVector()).Probability <= scorer.Score(legitVector()).Probability {
		t.Error("heuristic must rank obvious fraud above obvious legit")
	}
}

func TestScorerCombinesWeights(t *testing.T) {
	scorer := NewScorer(domain.DefaultEngineConfig())
	m := trainedModel(t)
	scorer.Promote(m)

	res := scorer.Score(fraudVector())
	if res.Untrained {
		t.Error("promoted scorer must not mark results untrained")
	}
	if res.ModelVersion != "test-v1" {
		t.Errorf("ModelVersion = %q, want test-v1", res.ModelVersion)
	}

	want := 0.7*res.Supervised + 0.3*res.Anomaly
	if diff := res.Probability - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Probability = %v, want weighted combination %v", res.Probability, want)
	}
	if res.Probability < 0 || res.Probability > 1 {
		t.Errorf("probability %v outside [0,1]", res.Probability)
	}
}

func TestPromoteAndRollback(t *testing.T) {
	scorer := NewScorer(domain.DefaultEngineConfig())

	if scorer.Rollback() {
		t.Error("rollback with no history must report false")
	}

	v1 := trainedModel(t)
	scorer.Promote(v1)
	if scorer.Champion() != v1 {
		t.Fatal("champion not installed")
	}

	v2, err := Train(SyntheticCorpus(99), "test-v2", 99)
	if err != nil {
		t.Fatalf("train v2: %v", err)
	}
	scorer.Promote(v2)
	if scorer.Champion() != v2 {
		t.Fatal("second promotion not visible")
	}

	if !scorer.Rollback() {
		t.Fatal("rollback must succeed after two promotions")
	}
	if scorer.Champion() != v1 {
		t.Error("rollback did not restore previous champion")
	}
}

func TestConcurrentPromoteAndScore(t *testing.T) {
	scorer := NewScorer(domain.DefaultEngineConfig())
	v1 := trainedModel(t)
	v2, err := Train(SyntheticCorpus(99), "test-v2", 99)
	if err != nil {
		t.Fatalf("train v2: %v", err)
	}
	scorer.Promote(v1)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	// Writer flips the champion back and forth.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			if i%2 == 0 {
				scorer.Promote(v2)
			} else {
				scorer.Promote(v1)
			}
		}
		close(stop)
	}()

	// Readers score continuously; every result must be internally
	// consistent and from exactly one version.
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				res := scorer.Score(fraudVector())
				if res.Probability < 0 || res.Probability > 1 {
					t.Errorf("probability %v outside [0,1] during swap", res.Probability)
					return
				}
				if res.ModelVersion != "test-v1" && res.ModelVersion != "test-v2" {
					t.Errorf("unexpected model version %q during swap", res.ModelVersion)
					return
				}
			}
		}()
	}

	wg.Wait()
}

func TestSyntheticCorpusShape(t *testing.T) {
	corpus := SyntheticCorpus(1)

	var fraud int
	for _, s := range corpus {
		if s.IsFraud {
			fraud++
		}
	}
	if len(corpus) != 500 || fraud != 100 {
		t.Errorf("corpus = %d rows / %d fraud, want 500 / 100", len(corpus), fraud)
	}

	// Deterministic for a given seed.
	again := SyntheticCorpus(1)
	if corpus[10].Features != again[10].Features {
		t.Error("synthetic corpus must be deterministic per seed")
	}
}
