// Package worker provides async transaction scoring off the event bus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/graph"
	"github.com/opensource-finance/kestrel/internal/pipeline"
)

// Worker consumes submitted transactions from the EventBus and runs them
// through the scoring pipeline. It also owns periodic graph maintenance.
type Worker struct {
	bus      domain.EventBus
	pipeline *pipeline.Pipeline
	analyzer *graph.Analyzer
	logger   *slog.Logger

	subscriptions []domain.Subscription
	sem           chan struct{}
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// Concurrency bounds the number of transactions scored in parallel.
	Concurrency int

	// GraphPruneInterval is how often stale graph edges are dropped.
	// Zero disables pruning.
	GraphPruneInterval time.Duration

	// GraphMaxEdgeAge is the age past which an unseen link is forgotten.
	GraphMaxEdgeAge time.Duration
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, p *pipeline.Pipeline, analyzer *graph.Analyzer, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		pipeline: p,
		analyzer: analyzer,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to the submitted-transaction topic and begins scoring.
func (w *Worker) Start(cfg Config) error {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	w.sem = make(chan struct{}, cfg.Concurrency)

	sub, err := w.bus.Subscribe(w.ctx, domain.TopicTransactionSubmitted, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	if cfg.GraphPruneInterval > 0 && w.analyzer != nil {
		maxAge := cfg.GraphMaxEdgeAge
		if maxAge <= 0 {
			maxAge = 30 * 24 * time.Hour
		}
		w.wg.Add(1)
		go w.pruneLoop(cfg.GraphPruneInterval, maxAge)
	}

	w.logger.Info("worker started",
		"topic", domain.TopicTransactionSubmitted,
		"concurrency", cfg.Concurrency,
	)
	return nil
}

// handleMessage scores one submitted transaction.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var tx domain.Transaction
	if err := json.Unmarshal(msg.Payload, &tx); err != nil {
		w.logger.Error("failed to parse transaction message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Bound concurrent scoring; per-account ordering is handled by the
	// feature store, not by the worker.
	select {
	case w.sem <- struct{}{}:
	case <-w.ctx.Done():
		return w.ctx.Err()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.sem }()

		start := time.Now()
		assessment, err := w.pipeline.Process(w.ctx, &tx)
		if err != nil {
			w.logger.Error("async scoring failed",
				"tx_id", tx.ID,
				"error", err,
			)
			return
		}

		w.logger.Info("transaction scored async",
			"tx_id", tx.ID,
			"risk_score", assessment.RiskScore,
			"flagged", assessment.Flagged,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}()

	return nil
}

// pruneLoop drops graph links that have not been observed recently.
func (w *Worker) pruneLoop(interval, maxAge time.Duration) {
	defer w.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			removed := w.analyzer.Prune(maxAge)
			if removed > 0 {
				w.logger.Info("graph pruned", "removed_links", removed)
			}
		}
	}
}

// Stop gracefully stops the worker, draining in-flight scoring.
func (w *Worker) Stop() error {
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			w.logger.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.cancel()
	w.wg.Wait()

	w.logger.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
