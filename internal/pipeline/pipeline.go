// Package pipeline orchestrates per-transaction risk scoring: feature
// derivation, ensemble scoring, trust-adjusted thresholding, override
// screening, explainability, graph contagion, and assessment assembly.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ensemble"
	"github.com/opensource-finance/kestrel/internal/explain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/featurestore"
	"github.com/opensource-finance/kestrel/internal/graph"
	"github.com/opensource-finance/kestrel/internal/ipscreen"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/threshold"
)

var ErrInvalidInput = errors.New("invalid transaction input")

// sharedIPWeight is the edge weight for accounts linked by a shared
// origin IP.
const sharedIPWeight = 0.5

// Pipeline wires the scoring stages together. Safe for concurrent use;
// per-account ordering is enforced inside the feature store.
type Pipeline struct {
	cfg        domain.EngineConfig
	store      *featurestore.Store
	engine     *features.Engine
	scorer     *ensemble.Scorer
	thresholds *threshold.Calculator
	explainer  *explain.Generator
	graph      *graph.Analyzer
	rules      *rules.Engine
	screener   *ipscreen.Screener
	repo       domain.Repository
	bus        domain.EventBus
	logger     *slog.Logger
}

// Deps collects the pipeline's collaborators. Rules, screener, repo and
// bus are optional; the corresponding stage is skipped when nil.
type Deps struct {
	Store    *featurestore.Store
	Scorer   *ensemble.Scorer
	Graph    *graph.Analyzer
	Rules    *rules.Engine
	Screener *ipscreen.Screener
	Repo     domain.Repository
	Bus      domain.EventBus
	Logger   *slog.Logger
}

// New assembles a pipeline from validated engine parameters.
func New(cfg domain.EngineConfig, deps Deps) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	if deps.Store == nil || deps.Scorer == nil || deps.Graph == nil {
		return nil, fmt.Errorf("store, scorer and graph are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Pipeline{
		cfg:        cfg,
		store:      deps.Store,
		engine:     features.NewEngine(cfg),
		scorer:     deps.Scorer,
		thresholds: threshold.NewCalculator(cfg),
		explainer:  explain.NewGenerator(),
		graph:      deps.Graph,
		rules:      deps.Rules,
		screener:   deps.Screener,
		repo:       deps.Repo,
		bus:        deps.Bus,
		logger:     logger,
	}, nil
}

// Process scores one transaction and returns its assessment.
func (p *Pipeline) Process(ctx context.Context, tx *domain.Transaction) (*domain.RiskAssessment, error) {
	if err := validate(tx); err != nil {
		return nil, err
	}

	// Profile reflects the account's state BEFORE this transaction.
	profile := p.store.Get(ctx, tx.AccountID)
	fv := p.engine.Derive(tx, profile)

	var ipFlagged bool
	if p.screener != nil {
		screen := p.screener.Screen(ctx, tx.IPAddress)
		ipFlagged = screen.Flagged

		// Accounts sharing an origin IP are linked in the contagion graph.
		for _, other := range p.screener.RegisterAccount(tx.IPAddress, tx.AccountID) {
			p.graph.RecordLink(tx.AccountID, other, sharedIPWeight)
		}
	}

	score := p.scorer.Score(fv)
	thresholdUsed := p.thresholds.Compute(profile.AccountAgeDays, profile.TrustScore)
	flagged := score.Probability >= thresholdUsed

	var overrideRule string
	if p.rules != nil {
		matches := p.rules.Evaluate(rules.Input{
			Features:       fv,
			TrustScore:     profile.TrustScore,
			AccountAgeDays: profile.AccountAgeDays,
			IPFlagged:      ipFlagged,
		})
		if len(matches) > 0 {
			flagged = true
			overrideRule = matches[0].Name
		}
	}

	contributions := p.explainer.Explain(fv, p.scorer.Champion(), score.Probability)
	graphFlagged := p.graph.IsNearMule(tx.AccountID)

	riskScore := domain.ScoreFromProbability(score.Probability)
	assessment := &domain.RiskAssessment{
		ID:               uuid.New().String(),
		TxID:             tx.ID,
		AccountID:        tx.AccountID,
		FraudProbability: score.Probability,
		RiskScore:        riskScore,
		RiskLevel:        p.cfg.RiskLevels.Level(riskScore),
		SupervisedProba:  score.Supervised,
		AnomalyScore:     score.Anomaly,
		ThresholdUsed:    thresholdUsed,
		Flagged:          flagged,
		Reasons:          explain.Strings(contributions),
		GraphFlagged:     graphFlagged,
		ModelUntrained:   score.Untrained,
		OverrideRule:     overrideRule,
		IPFlagged:        ipFlagged,
		Features:         fv,
		TrustScore:       profile.TrustScore,
		AccountAgeDays:   profile.AccountAgeDays,
		ModelVersion:     score.ModelVersion,
		Timestamp:        time.Now().UTC(),
	}

	// Write-back after derivation so the next transaction sees this one.
	p.store.Update(ctx, tx)

	p.persist(ctx, tx, assessment)
	p.publish(ctx, assessment)

	p.logger.Info("transaction scored",
		"tx_id", tx.ID,
		"account_id", tx.AccountID,
		"risk_score", assessment.RiskScore,
		"risk_level", assessment.RiskLevel,
		"flagged", assessment.Flagged,
		"model_version", assessment.ModelVersion)

	return assessment, nil
}

func validate(tx *domain.Transaction) error {
	if tx == nil {
		return fmt.Errorf("%w: transaction is required", ErrInvalidInput)
	}
	if tx.AccountID == "" {
		return fmt.Errorf("%w: account ID is required", ErrInvalidInput)
	}
	if tx.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	return nil
}

// persist stores the transaction and its assessment. Persistence is a
// dependency: failures degrade to a warning, the caller still gets the
// decision.
func (p *Pipeline) persist(ctx context.Context, tx *domain.Transaction, a *domain.RiskAssessment) {
	if p.repo == nil {
		return
	}
	if err := p.repo.SaveTransaction(ctx, tx); err != nil {
		p.logger.Warn("failed to persist transaction", "tx_id", tx.ID, "error", err)
		return
	}
	if err := p.repo.SaveAssessment(ctx, a); err != nil {
		p.logger.Warn("failed to persist assessment", "tx_id", tx.ID, "error", err)
	}
}

func (p *Pipeline) publish(ctx context.Context, a *domain.RiskAssessment) {
	if p.bus == nil {
		return
	}
	payload, err := json.Marshal(a)
	if err != nil {
		return
	}
	if err := p.bus.Publish(ctx, domain.TopicRiskDecision, payload); err != nil {
		p.logger.Warn("failed to publish decision", "tx_id", a.TxID, "error", err)
	}
	if a.Flagged {
		if err := p.bus.Publish(ctx, domain.TopicRiskAlert, payload); err != nil {
			p.logger.Warn("failed to publish alert", "tx_id", a.TxID, "error", err)
		}
	}
}
