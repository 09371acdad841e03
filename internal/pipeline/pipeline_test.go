package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ensemble"
	"github.com/opensource-finance/kestrel/internal/featurestore"
	"github.com/opensource-finance/kestrel/internal/graph"
	"github.com/opensource-finance/kestrel/internal/rules"
)

type testPipeline struct {
	*Pipeline
	store  *featurestore.Store
	scorer *ensemble.Scorer
	graph  *graph.Analyzer
}

func newTestPipeline(t *testing.T, trained bool) *testPipeline {
	t.Helper()

	cfg := domain.DefaultEngineConfig()
	store := featurestore.New(nil, nil)
	scorer := ensemble.NewScorer(cfg)
	analyzer := graph.NewAnalyzer(cfg)

	if trained {
		m, err := ensemble.Train(ensemble.SyntheticCorpus(1), "test-v1", 1)
		if err != nil {
			t.Fatalf("failed to train model: %v", err)
		}
		scorer.Promote(m)
	}

	p, err := New(cfg, Deps{Store: store, Scorer: scorer, Graph: analyzer})
	if err != nil {
		t.Fatalf("failed to create pipeline: %v", err)
	}
	return &testPipeline{Pipeline: p, store: store, scorer: scorer, graph: analyzer}
}

func newTx(id, account string, amount float64) *domain.Transaction {
	now := time.Now().UTC()
	return &domain.Transaction{
		ID:         id,
		AccountID:  account,
		Name:       "Test Account",
		Amount:     amount,
		DeviceType: "Mobile",
		IPAddress:  "82.132.20.5",
		Timestamp:  now,
		CreatedAt:  now,
	}
}

func TestProcessInvariants(t *testing.T) {
	p := newTestPipeline(t, true)
	ctx := context.Background()

	amounts := []float64{5, 120, 1500, 9000, 45000}
	for i, amount := range amounts {
		a, err := p.Process(ctx, newTx(fmt.Sprintf("tx-%d", i), "alice", amount))
		if err != nil {
			t.Fatalf("process failed: %v", err)
		}

		if a.FraudProbability < 0 || a.FraudProbability > 1 {
			t.Errorf("probability %v outside [0,1]", a.FraudProbability)
		}
		if a.RiskScore != int(math.Round(a.FraudProbability*100)) {
			t.Errorf("RiskScore = %d, want round(%v*100)", a.RiskScore, a.FraudProbability)
		}
		if a.Flagged != (a.FraudProbability >= a.ThresholdUsed) {
			t.Errorf("flagged = %v inconsistent with p=%v threshold=%v",
				a.Flagged, a.FraudProbability, a.ThresholdUsed)
		}
		if len(a.Reasons) > 3 {
			t.Errorf("got %d reasons, max 3", len(a.Reasons))
		}

		wantLevel := domain.RiskLevelLow
		switch {
		case a.RiskScore >= 70:
			wantLevel = domain.RiskLevelHigh
		case a.RiskScore >= 40:
			wantLevel = domain.RiskLevelMedium
		}
		if a.RiskLevel != wantLevel {
			t.Errorf("RiskLevel = %q for score %d, want %q", a.RiskLevel, a.RiskScore, wantLevel)
		}
	}
}

// Brand-new account spending far above any plausible baseline must flag
// with the strictest threshold.
func TestScenarioNewAccountLargeSpike(t *testing.T) {
	p := newTestPipeline(t, true)
	ctx := context.Background()

	// Establish a modest baseline first, then the spike.
	if _, err := p.Process(ctx, newTx("tx-base", "newbie", 1200)); err != nil {
		t.Fatalf("baseline tx: %v", err)
	}
	a, err := p.Process(ctx, newTx("tx-spike", "newbie", 45000))
	if err != nil {
		t.Fatalf("spike tx: %v", err)
	}

	if a.Features.AmountRatio <= 10 {
		t.Errorf("AmountRatio = %v, want >> 1", a.Features.AmountRatio)
	}
	// Age 0, trust 0.5: threshold pinned to the floor.
	if math.Abs(a.ThresholdUsed-0.3) > 1e-9 {
		t.Errorf("ThresholdUsed = %v, want 0.3 for brand-new account", a.ThresholdUsed)
	}
	if !a.Flagged {
		t.Error("45000 spike on a new account must flag")
	}
	if a.RiskLevel != domain.RiskLevelHigh {
		t.Errorf("RiskLevel = %q, want High", a.RiskLevel)
	}
}

// Account whose history is all older than 24h presents empty rolling
// windows; a spike must still flag on the amount ratio alone.
func TestScenarioDormantAccountSpike(t *testing.T) {
	p := newTestPipeline(t, true)
	ctx := context.Background()

	p.store.Hydrate(&domain.AccountProfile{
		AccountID:  "dormant",
		TrustScore: 0.5,
		AvgAmount:  1200,
		FirstSeen:  time.Now().UTC().AddDate(0, 0, -10),
	})

	a, err := p.Process(ctx, newTx("tx-spike", "dormant", 45000))
	if err != nil {
		t.Fatalf("spike tx: %v", err)
	}

	if a.Features.TxAmountSum24h != 0 {
		t.Errorf("TxAmountSum24h = %v, want 0 for a dormant account", a.Features.TxAmountSum24h)
	}
	if a.Features.AmountRatio <= 10 {
		t.Errorf("AmountRatio = %v, want >> 1", a.Features.AmountRatio)
	}
	if !a.Flagged {
		t.Error("45000 spike on a dormant account must flag")
	}
	if a.RiskLevel != domain.RiskLevelHigh {
		t.Errorf("RiskLevel = %q, want High", a.RiskLevel)
	}
}

// Established trusted account spending near its norm stays unflagged at
// a lenient threshold.
func TestScenarioEstablishedAccountTypicalSpend(t *testing.T) {
	p := newTestPipeline(t, true)
	ctx := context.Background()

	p.store.Hydrate(&domain.AccountProfile{
		AccountID:  "veteran",
		TrustScore: 0.9,
		AvgAmount:  1200,
		FirstSeen:  time.Now().UTC().AddDate(-1, 0, 0),
	})

	a, err := p.Process(ctx, newTx("tx-1", "veteran", 1250))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	// age saturated, trust 0.9: t = 0.3 + 0.4*1*0.9 = 0.66
	if math.Abs(a.ThresholdUsed-0.66) > 1e-9 {
		t.Errorf("ThresholdUsed = %v, want 0.66", a.ThresholdUsed)
	}
	if a.Flagged {
		t.Errorf("typical spend flagged: p=%v threshold=%v", a.FraudProbability, a.ThresholdUsed)
	}
}

// Two transactions from distant locations within minutes trip the
// impossible-travel feature.
func TestScenarioImpossibleTravel(t *testing.T) {
	p := newTestPipeline(t, true)
	ctx := context.Background()

	first := newTx("tx-ny", "traveler", 200)
	first.Location = &domain.GeoPoint{Lat: 40.7128, Lon: -74.0060}
	first.Timestamp = time.Now().UTC().Add(-30 * time.Minute)
	if _, err := p.Process(ctx, first); err != nil {
		t.Fatalf("first tx: %v", err)
	}

	second := newTx("tx-tokyo", "traveler", 200)
	second.Location = &domain.GeoPoint{Lat: 35.6762, Lon: 139.6503}
	a, err := p.Process(ctx, second)
	if err != nil {
		t.Fatalf("second tx: %v", err)
	}

	if !a.Features.ImpossibleTravel {
		t.Error("9,000+ km in 30 minutes must set impossible_travel")
	}
}

func TestProcessUntrainedChampion(t *testing.T) {
	p := newTestPipeline(t, false)

	a, err := p.Process(context.Background(), newTx("tx-1", "alice", 500))
	if err != nil {
		t.Fatalf("untrained pipeline must still score: %v", err)
	}

	if !a.ModelUntrained {
		t.Error("expected untrained marker")
	}
	if a.ModelVersion != ensemble.HeuristicVersion {
		t.Errorf("ModelVersion = %q, want heuristic", a.ModelVersion)
	}
	if a.FraudProbability < 0 || a.FraudProbability > 1 {
		t.Errorf("heuristic probability %v outside [0,1]", a.FraudProbability)
	}
}

func TestProcessInputValidation(t *testing.T) {
	p := newTestPipeline(t, true)
	ctx := context.Background()

	tests := []struct {
		name string
		tx   *domain.Transaction
	}{
		{"nil transaction", nil},
		{"missing account", newTx("tx-1", "", 100)},
		{"zero amount", newTx("tx-1", "alice", 0)},
		{"negative amount", newTx("tx-1", "alice", -50)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := p.Process(ctx, tt.tx); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestProcessGraphFlagged(t *testing.T) {
	p := newTestPipeline(t, true)
	ctx := context.Background()

	p.graph.MarkMule("mule")
	p.graph.RecordLink("associate", "mule", 1)

	a, err := p.Process(ctx, newTx("tx-1", "associate", 100))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !a.GraphFlagged {
		t.Error("account linked to a mule must be graph flagged")
	}

	b, err := p.Process(ctx, newTx("tx-2", "stranger", 100))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if b.GraphFlagged {
		t.Error("unrelated account must not be graph flagged")
	}
}

func TestProcessOverrideRule(t *testing.T) {
	cfg := domain.DefaultEngineConfig()
	store := featurestore.New(nil, nil)
	scorer := ensemble.NewScorer(cfg)
	m, err := ensemble.Train(ensemble.SyntheticCorpus(1), "test-v1", 1)
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	scorer.Promote(m)

	engine, err := rules.NewEngine()
	if err != nil {
		t.Fatalf("rules engine: %v", err)
	}
	if err := engine.Load(&domain.OverrideRule{
		ID:         "r-1",
		Name:       "hard-limit",
		Expression: `amount > 900.0`,
		Reason:     "Amount exceeds hard limit",
	}); err != nil {
		t.Fatalf("load rule: %v", err)
	}

	// Hydrate a trusted veteran so the model path alone would not flag.
	store.Hydrate(&domain.AccountProfile{
		AccountID:  "veteran",
		TrustScore: 0.9,
		AvgAmount:  1000,
		FirstSeen:  time.Now().UTC().AddDate(-1, 0, 0),
	})

	p, err := New(cfg, Deps{
		Store: store, Scorer: scorer,
		Graph: graph.NewAnalyzer(cfg), Rules: engine,
	})
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}

	a, err := p.Process(context.Background(), newTx("tx-1", "veteran", 1000))
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if !a.Flagged {
		t.Error("override match must force the flag")
	}
	if a.OverrideRule != "hard-limit" {
		t.Errorf("OverrideRule = %q, want hard-limit", a.OverrideRule)
	}
}

func TestProcessUpdatesWindows(t *testing.T) {
	p := newTestPipeline(t, true)
	ctx := context.Background()

	// First transaction sees an empty window.
	a1, err := p.Process(ctx, newTx("tx-1", "alice", 100))
	if err != nil {
		t.Fatalf("tx-1: %v", err)
	}
	if a1.Features.TxCount1h != 0 {
		t.Errorf("first tx sees TxCount1h = %v, want 0 (pre-transaction state)", a1.Features.TxCount1h)
	}

	// Second sees the first.
	a2, err := p.Process(ctx, newTx("tx-2", "alice", 100))
	if err != nil {
		t.Fatalf("tx-2: %v", err)
	}
	if a2.Features.TxCount1h != 1 {
		t.Errorf("second tx sees TxCount1h = %v, want 1", a2.Features.TxCount1h)
	}
}

func TestProcessConcurrent(t *testing.T) {
	p := newTestPipeline(t, true)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 60)
	for i := 0; i < 60; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			account := fmt.Sprintf("acct-%d", i%6)
			a, err := p.Process(ctx, newTx(fmt.Sprintf("tx-%d", i), account, 100+float64(i)))
			if err != nil {
				errs <- err
				return
			}
			if a.FraudProbability < 0 || a.FraudProbability > 1 {
				errs <- fmt.Errorf("probability %v outside [0,1]", a.FraudProbability)
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent process: %v", err)
	}
}
