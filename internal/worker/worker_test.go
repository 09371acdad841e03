package worker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ensemble"
	"github.com/opensource-finance/kestrel/internal/featurestore"
	"github.com/opensource-finance/kestrel/internal/graph"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/repository"
)

func newTestWorker(t *testing.T) (*Worker, *bus.ChannelBus, domain.Repository) {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "worker_test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	chBus := bus.NewChannelBus(100)
	cfg := domain.DefaultEngineConfig()

	store := featurestore.New(nil, logger)
	scorer := ensemble.NewScorer(cfg)
	analyzer := graph.NewAnalyzer(cfg)

	pl, err := pipeline.New(cfg, pipeline.Deps{
		Store:  store,
		Scorer: scorer,
		Graph:  analyzer,
		Repo:   repo,
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("failed to create pipeline: %v", err)
	}

	w := NewWorker(chBus, pl, analyzer, logger)
	return w, chBus, repo
}

func submitTransaction(t *testing.T, chBus *bus.ChannelBus, tx *domain.Transaction) {
	t.Helper()
	payload, err := json.Marshal(tx)
	if err != nil {
		t.Fatalf("failed to marshal transaction: %v", err)
	}
	if err := chBus.Publish(context.Background(), domain.TopicTransactionSubmitted, payload); err != nil {
		t.Fatalf("failed to publish transaction: %v", err)
	}
}

func waitForAssessments(t *testing.T, repo domain.Repository, want int) []*domain.AssessmentWithTx {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rows, err := repo.ListAssessments(context.Background(), 0)
		if err != nil {
			t.Fatalf("failed to list assessments: %v", err)
		}
		if len(rows) >= want {
			return rows
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d assessments", want)
	return nil
}

func TestWorkerScoresSubmittedTransactions(t *testing.T) {
	w, chBus, repo := newTestWorker(t)

	if err := w.Start(Config{Concurrency: 2}); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}
	defer w.Stop()

	now := time.Now().UTC()
	for i, amount := range []float64{120, 60, 900} {
		submitTransaction(t, chBus, &domain.Transaction{
			ID:         "async-" + string(rune('a'+i)),
			AccountID:  "async-account",
			Name:       "Async User",
			Amount:     amount,
			DeviceType: "Mobile",
			IPAddress:  "203.0.113.9",
			Timestamp:  now,
			CreatedAt:  now,
		})
	}

	rows := waitForAssessments(t, repo, 3)
	for _, row := range rows {
		if row.Assessment.RiskScore < 0 || row.Assessment.RiskScore > 100 {
			t.Errorf("risk score %d out of range", row.Assessment.RiskScore)
		}
		if row.Transaction.AccountID != "async-account" {
			t.Errorf("account = %q, want async-account", row.Transaction.AccountID)
		}
	}
}

func TestWorkerSkipsMalformedMessages(t *testing.T) {
	w, chBus, repo := newTestWorker(t)

	if err := w.Start(Config{Concurrency: 1}); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}
	defer w.Stop()

	if err := chBus.Publish(context.Background(), domain.TopicTransactionSubmitted, []byte("{broken")); err != nil {
		t.Fatalf("failed to publish: %v", err)
	}

	now := time.Now().UTC()
	submitTransaction(t, chBus, &domain.Transaction{
		ID:         "after-garbage",
		AccountID:  "resilient",
		Name:       "Resilient User",
		Amount:     42,
		DeviceType: "Desktop",
		IPAddress:  "203.0.113.10",
		Timestamp:  now,
		CreatedAt:  now,
	})

	rows := waitForAssessments(t, repo, 1)
	if rows[0].Transaction.ID != "after-garbage" {
		t.Errorf("scored tx = %q, want after-garbage", rows[0].Transaction.ID)
	}
}

func TestWorkerStats(t *testing.T) {
	w, _, _ := newTestWorker(t)

	if got := w.GetStats().SubscriptionCount; got != 0 {
		t.Errorf("subscriptions before start = %d, want 0", got)
	}

	if err := w.Start(Config{}); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}

	stats := w.GetStats()
	if stats.SubscriptionCount != 1 {
		t.Errorf("subscriptions = %d, want 1", stats.SubscriptionCount)
	}
	if len(stats.Topics) != 1 || stats.Topics[0] != domain.TopicTransactionSubmitted {
		t.Errorf("topics = %v, want [%s]", stats.Topics, domain.TopicTransactionSubmitted)
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("failed to stop worker: %v", err)
	}
	if got := w.GetStats().SubscriptionCount; got != 0 {
		t.Errorf("subscriptions after stop = %d, want 0", got)
	}
}
