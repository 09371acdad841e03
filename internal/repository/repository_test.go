package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func sampleTransaction(id, accountID string, ts time.Time) *domain.Transaction {
	return &domain.Transaction{
		ID:         id,
		AccountID:  accountID,
		Name:       "Alice Smith",
		Amount:     250.0,
		DeviceType: "Mobile",
		IPAddress:  "203.0.113.10",
		Location:   &domain.GeoPoint{Lat: 40.7128, Lon: -74.0060},
		Timestamp:  ts,
		CreatedAt:  ts,
	}
}

func sampleAssessment(id, txID, accountID string, ts time.Time) *domain.RiskAssessment {
	return &domain.RiskAssessment{
		ID:               id,
		TxID:             txID,
		AccountID:        accountID,
		FraudProbability: 0.42,
		RiskScore:        42,
		RiskLevel:        domain.RiskLevelMedium,
		SupervisedProba:  0.5,
		AnomalyScore:     0.3,
		ThresholdUsed:    0.55,
		Flagged:          false,
		Reasons:          []string{"Transaction Amount ($250) increased risk by 12%"},
		Features: domain.FeatureVector{
			RawAmount:     250.0,
			TxCount1h:     3,
			VelocityScore: 0.3,
		},
		TrustScore:     0.5,
		AccountAgeDays: 30,
		ModelVersion:   "v1",
		Timestamp:      ts,
	}
}

func TestTransactionRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	tx := sampleTransaction("tx-1", "alice_smith", now)
	if err := repo.SaveTransaction(ctx, tx); err != nil {
		t.Fatalf("failed to save transaction: %v", err)
	}

	got, err := repo.GetTransaction(ctx, "tx-1")
	if err != nil {
		t.Fatalf("failed to get transaction: %v", err)
	}

	if got.AccountID != tx.AccountID {
		t.Errorf("AccountID = %q, want %q", got.AccountID, tx.AccountID)
	}
	if got.Amount != tx.Amount {
		t.Errorf("Amount = %v, want %v", got.Amount, tx.Amount)
	}
	if got.Location == nil {
		t.Fatal("expected location to survive round trip")
	}
	if got.Location.Lat != tx.Location.Lat || got.Location.Lon != tx.Location.Lon {
		t.Errorf("Location = %+v, want %+v", got.Location, tx.Location)
	}
}

func TestTransactionWithoutLocation(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	tx := sampleTransaction("tx-noloc", "bob", time.Now().UTC())
	tx.Location = nil

	if err := repo.SaveTransaction(ctx, tx); err != nil {
		t.Fatalf("failed to save transaction: %v", err)
	}

	got, err := repo.GetTransaction(ctx, "tx-noloc")
	if err != nil {
		t.Fatalf("failed to get transaction: %v", err)
	}
	if got.Location != nil {
		t.Errorf("expected nil location, got %+v", got.Location)
	}
}

func TestGetTransactionNotFound(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.GetTransaction(context.Background(), "nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveTransactionValidation(t *testing.T) {
	repo := newTestRepo(t)

	err := repo.SaveTransaction(context.Background(), &domain.Transaction{})
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for empty ID, got %v", err)
	}
}

func TestAssessmentRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	if err := repo.SaveTransaction(ctx, sampleTransaction("tx-1", "alice", now)); err != nil {
		t.Fatalf("failed to save transaction: %v", err)
	}

	a := sampleAssessment("a-1", "tx-1", "alice", now)
	if err := repo.SaveAssessment(ctx, a); err != nil {
		t.Fatalf("failed to save assessment: %v", err)
	}

	got, err := repo.GetAssessmentByTx(ctx, "tx-1")
	if err != nil {
		t.Fatalf("failed to get assessment: %v", err)
	}

	if got.RiskScore != 42 {
		t.Errorf("RiskScore = %d, want 42", got.RiskScore)
	}
	if got.RiskLevel != domain.RiskLevelMedium {
		t.Errorf("RiskLevel = %q, want %q", got.RiskLevel, domain.RiskLevelMedium)
	}
	if len(got.Reasons) != 1 {
		t.Fatalf("expected 1 reason, got %d", len(got.Reasons))
	}
	if got.Features.RawAmount != 250.0 {
		t.Errorf("feature snapshot amount = %v, want 250", got.Features.RawAmount)
	}
}

func TestListAssessmentsNewestFirst(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	for i := 0; i < 3; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		txID := []string{"tx-old", "tx-mid", "tx-new"}[i]
		if err := repo.SaveTransaction(ctx, sampleTransaction(txID, "alice", ts)); err != nil {
			t.Fatalf("failed to save transaction: %v", err)
		}
		if err := repo.SaveAssessment(ctx, sampleAssessment("a-"+txID, txID, "alice", ts)); err != nil {
			t.Fatalf("failed to save assessment: %v", err)
		}
	}

	list, err := repo.ListAssessments(ctx, 10)
	if err != nil {
		t.Fatalf("failed to list assessments: %v", err)
	}

	if len(list) != 3 {
		t.Fatalf("expected 3 assessments, got %d", len(list))
	}
	if list[0].Assessment.TxID != "tx-new" {
		t.Errorf("first entry = %q, want tx-new", list[0].Assessment.TxID)
	}
	if list[2].Assessment.TxID != "tx-old" {
		t.Errorf("last entry = %q, want tx-old", list[2].Assessment.TxID)
	}
	if list[0].Transaction == nil || list[0].Transaction.Name != "Alice Smith" {
		t.Error("expected joined transaction context")
	}

	limited, err := repo.ListAssessments(ctx, 2)
	if err != nil {
		t.Fatalf("failed to list with limit: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("expected 2 assessments with limit, got %d", len(limited))
	}
}

func TestFeedbackUpsert(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	fb := &domain.FeedbackRecord{
		TransactionID:  "tx-1",
		AccountID:      "alice",
		ConfirmedFraud: true,
		AnalystID:      "analyst-1",
		CreatedAt:      now,
	}
	if err := repo.SaveFeedback(ctx, fb); err != nil {
		t.Fatalf("failed to save feedback: %v", err)
	}

	// Re-label the same transaction; must overwrite, not duplicate.
	fb.ConfirmedFraud = false
	fb.AnalystID = "analyst-2"
	fb.CreatedAt = now.Add(time.Minute)
	if err := repo.SaveFeedback(ctx, fb); err != nil {
		t.Fatalf("failed to upsert feedback: %v", err)
	}

	records, err := repo.ListFeedback(ctx)
	if err != nil {
		t.Fatalf("failed to list feedback: %v", err)
	}

	if len(records) != 1 {
		t.Fatalf("expected 1 feedback record after upsert, got %d", len(records))
	}
	if records[0].ConfirmedFraud {
		t.Error("expected label to be overwritten to false")
	}
	if records[0].AnalystID != "analyst-2" {
		t.Errorf("AnalystID = %q, want analyst-2", records[0].AnalystID)
	}
}

func TestCountFeedbackSince(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	for i, txID := range []string{"tx-1", "tx-2", "tx-3"} {
		fb := &domain.FeedbackRecord{
			TransactionID:  txID,
			AccountID:      "alice",
			ConfirmedFraud: true,
			CreatedAt:      base.Add(time.Duration(i) * time.Hour),
		}
		if err := repo.SaveFeedback(ctx, fb); err != nil {
			t.Fatalf("failed to save feedback: %v", err)
		}
	}

	count, err := repo.CountFeedbackSince(ctx, base.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("failed to count feedback: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}

func TestLabeledAssessments(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	if err := repo.SaveTransaction(ctx, sampleTransaction("tx-1", "alice", now)); err != nil {
		t.Fatalf("failed to save transaction: %v", err)
	}
	if err := repo.SaveAssessment(ctx, sampleAssessment("a-1", "tx-1", "alice", now)); err != nil {
		t.Fatalf("failed to save assessment: %v", err)
	}

	// Feedback on a transaction with a stored assessment
	if err := repo.SaveFeedback(ctx, &domain.FeedbackRecord{
		TransactionID: "tx-1", AccountID: "alice", ConfirmedFraud: true, CreatedAt: now,
	}); err != nil {
		t.Fatalf("failed to save feedback: %v", err)
	}
	// Feedback on a transaction with no assessment: excluded from training
	if err := repo.SaveFeedback(ctx, &domain.FeedbackRecord{
		TransactionID: "tx-orphan", AccountID: "bob", ConfirmedFraud: false, CreatedAt: now,
	}); err != nil {
		t.Fatalf("failed to save feedback: %v", err)
	}

	samples, err := repo.LabeledAssessments(ctx)
	if err != nil {
		t.Fatalf("failed to load labeled assessments: %v", err)
	}

	if len(samples) != 1 {
		t.Fatalf("expected 1 labeled sample, got %d", len(samples))
	}
	if !samples[0].IsFraud {
		t.Error("expected sample labeled as fraud")
	}
	if samples[0].Features.RawAmount != 250.0 {
		t.Errorf("feature snapshot amount = %v, want 250", samples[0].Features.RawAmount)
	}
}

func TestOverrideRules(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rules := []*domain.OverrideRule{
		{ID: "r-1", Name: "large-amount", Expression: `amount > 10000.0`, Reason: "Amount exceeds review limit", Enabled: true},
		{ID: "r-2", Name: "disabled-rule", Expression: `velocity_score >= 1.0`, Reason: "Velocity saturated", Enabled: false},
	}
	for _, rule := range rules {
		if err := repo.SaveOverrideRule(ctx, rule); err != nil {
			t.Fatalf("failed to save rule %s: %v", rule.ID, err)
		}
	}

	all, err := repo.ListOverrideRules(ctx, false)
	if err != nil {
		t.Fatalf("failed to list rules: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 rules, got %d", len(all))
	}

	enabled, err := repo.ListOverrideRules(ctx, true)
	if err != nil {
		t.Fatalf("failed to list enabled rules: %v", err)
	}
	if len(enabled) != 1 || enabled[0].ID != "r-1" {
		t.Errorf("expected only r-1 enabled, got %+v", enabled)
	}

	// Upsert: disable r-1
	rules[0].Enabled = false
	if err := repo.SaveOverrideRule(ctx, rules[0]); err != nil {
		t.Fatalf("failed to upsert rule: %v", err)
	}
	enabled, err = repo.ListOverrideRules(ctx, true)
	if err != nil {
		t.Fatalf("failed to list enabled rules: %v", err)
	}
	if len(enabled) != 0 {
		t.Errorf("expected no enabled rules after upsert, got %d", len(enabled))
	}
}

func TestIPAnalytics(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	ips := []string{"1.1.1.1", "1.1.1.1", "1.1.1.1", "2.2.2.2", "2.2.2.2", "3.3.3.3"}
	for i, ip := range ips {
		tx := sampleTransaction(
			"tx-"+string(rune('a'+i)), "acct", base.Add(time.Duration(i)*time.Minute))
		tx.IPAddress = ip
		if err := repo.SaveTransaction(ctx, tx); err != nil {
			t.Fatalf("failed to save transaction: %v", err)
		}
	}

	count, err := repo.CountTransactionsByIP(ctx, "1.1.1.1", base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("failed to count by IP: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}

	top, err := repo.TopIPs(ctx, base.Add(-time.Hour), 2)
	if err != nil {
		t.Fatalf("failed to get top IPs: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("expected 2 top IPs, got %d", len(top))
	}
	if top[0].IPAddress != "1.1.1.1" || top[0].Count != 3 {
		t.Errorf("top IP = %+v, want 1.1.1.1 x3", top[0])
	}
}

func TestInsights(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	day := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)

	type entry struct {
		txID    string
		hour    int
		flagged bool
		level   string
		score   int
	}
	entries := []entry{
		{"tx-1", 10, false, domain.RiskLevelLow, 20},
		{"tx-2", 14, false, domain.RiskLevelMedium, 50},
		{"tx-3", 23, true, domain.RiskLevelHigh, 85},
		{"tx-4", 2, true, domain.RiskLevelHigh, 90},
	}
	for _, e := range entries {
		ts := day.Add(time.Duration(e.hour) * time.Hour)
		if err := repo.SaveTransaction(ctx, sampleTransaction(e.txID, "alice", ts)); err != nil {
			t.Fatalf("failed to save transaction: %v", err)
		}
		a := sampleAssessment("a-"+e.txID, e.txID, "alice", ts)
		a.Flagged = e.flagged
		a.RiskLevel = e.level
		a.RiskScore = e.score
		if err := repo.SaveAssessment(ctx, a); err != nil {
			t.Fatalf("failed to save assessment: %v", err)
		}
	}

	insights, err := repo.Insights(ctx, day)
	if err != nil {
		t.Fatalf("failed to compute insights: %v", err)
	}

	if insights.Date != "2025-06-15" {
		t.Errorf("Date = %q, want 2025-06-15", insights.Date)
	}
	if insights.TotalTransactions != 4 {
		t.Errorf("TotalTransactions = %d, want 4", insights.TotalTransactions)
	}
	if insights.FraudCount != 2 {
		t.Errorf("FraudCount = %d, want 2", insights.FraudCount)
	}
	if insights.FraudPercentage != 50.0 {
		t.Errorf("FraudPercentage = %v, want 50", insights.FraudPercentage)
	}
	if insights.RiskDistribution.High != 2 {
		t.Errorf("High = %d, want 2", insights.RiskDistribution.High)
	}
	if insights.NighttimeAttacks.Count != 2 {
		t.Errorf("nighttime count = %d, want 2", insights.NighttimeAttacks.Count)
	}
	if insights.NighttimeAttacks.FraudRate != 100.0 {
		t.Errorf("nighttime fraud rate = %v, want 100", insights.NighttimeAttacks.FraudRate)
	}
}

func TestInsightsAllTimeFallback(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	// Data exists, but on a different day than the one requested.
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := repo.SaveTransaction(ctx, sampleTransaction("tx-1", "alice", ts)); err != nil {
		t.Fatalf("failed to save transaction: %v", err)
	}
	if err := repo.SaveAssessment(ctx, sampleAssessment("a-1", "tx-1", "alice", ts)); err != nil {
		t.Fatalf("failed to save assessment: %v", err)
	}

	insights, err := repo.Insights(ctx, time.Date(2025, 7, 20, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("failed to compute insights: %v", err)
	}

	if insights.Date != "All Time" {
		t.Errorf("Date = %q, want All Time", insights.Date)
	}
	if insights.TotalTransactions != 1 {
		t.Errorf("TotalTransactions = %d, want 1", insights.TotalTransactions)
	}
}
