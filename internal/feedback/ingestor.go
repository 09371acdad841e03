// Package feedback records analyst-confirmed fraud labels and propagates
// their consequences: the training corpus grows, confirmed mules enter
// the contagion graph, and account trust adjusts.
package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/featurestore"
	"github.com/opensource-finance/kestrel/internal/graph"
)

const (
	// trustPenalty applies when an account's transaction is confirmed
	// fraudulent.
	trustPenalty = -0.15

	// trustReward applies when a flagged transaction turns out clean.
	trustReward = 0.02
)

// Ingestor handles label submission.
type Ingestor struct {
	repo   domain.Repository
	store  *featurestore.Store
	graph  *graph.Analyzer
	bus    domain.EventBus
	logger *slog.Logger
}

// NewIngestor creates a feedback ingestor.
func NewIngestor(repo domain.Repository, store *featurestore.Store, analyzer *graph.Analyzer, bus domain.EventBus, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		repo:   repo,
		store:  store,
		graph:  analyzer,
		bus:    bus,
		logger: logger,
	}
}

// Submit records one label. Idempotent per transaction ID: resubmission
// overwrites the stored label and re-applies side effects against the
// latest value.
func (in *Ingestor) Submit(ctx context.Context, req *domain.FeedbackRequest) (*domain.FeedbackResponse, error) {
	if req.TransactionID == "" {
		return nil, fmt.Errorf("transaction_id is required")
	}

	tx, err := in.repo.GetTransaction(ctx, req.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction %s: %w", req.TransactionID, err)
	}

	record := &domain.FeedbackRecord{
		TransactionID:  req.TransactionID,
		AccountID:      tx.AccountID,
		ConfirmedFraud: req.IsFraud,
		AnalystID:      req.AnalystID,
		CreatedAt:      time.Now().UTC(),
	}
	if err := in.repo.SaveFeedback(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to save feedback: %w", err)
	}

	if req.IsFraud {
		in.graph.MarkMule(tx.AccountID)
		trust := in.store.AdjustTrust(ctx, tx.AccountID, trustPenalty)
		in.logger.Info("fraud confirmed",
			"tx_id", req.TransactionID,
			"account_id", tx.AccountID,
			"trust_score", trust)
	} else {
		in.store.AdjustTrust(ctx, tx.AccountID, trustReward)
	}

	in.publish(ctx, record)

	return &domain.FeedbackResponse{
		Status:         "feedback recorded",
		TransactionID:  req.TransactionID,
		ConfirmedFraud: req.IsFraud,
	}, nil
}

// publish notifies the retraining controller. Best effort: a bus failure
// never fails the submission, the controller also polls on a cadence.
func (in *Ingestor) publish(ctx context.Context, record *domain.FeedbackRecord) {
	if in.bus == nil {
		return
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return
	}
	if err := in.bus.Publish(ctx, domain.TopicFeedbackReceived, payload); err != nil {
		in.logger.Warn("failed to publish feedback event",
			"tx_id", record.TransactionID, "error", err)
	}
}
