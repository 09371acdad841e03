// Package adaptive runs the champion/challenger retraining loop: it
// accumulates analyst feedback, trains challenger models in the
// background, and promotes them only when they beat the serving champion
// by a margin. Inference never blocks on this loop.
package adaptive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ensemble"
)

// State of the controller's retraining cycle.
type State string

const (
	StateIdle       State = "idle"
	StateTraining   State = "training"
	StateEvaluating State = "evaluating"
	StatePromoted   State = "promoted"
	StateRejected   State = "rejected"
)

// modelEvent is published on the operator topic after each cycle.
type modelEvent struct {
	State        State   `json:"state"`
	Version      string  `json:"version,omitempty"`
	ChampionF1   float64 `json:"champion_f1"`
	ChallengerF1 float64 `json:"challenger_f1"`
	Error        string  `json:"error,omitempty"`
}

// Controller owns all model version transitions. The scorer holds only a
// read reference to the champion.
type Controller struct {
	repo   domain.Repository
	scorer *ensemble.Scorer
	bus    domain.EventBus
	logger *slog.Logger
	cfg    domain.EngineConfig

	mu          sync.Mutex
	state       State
	cancelJob   context.CancelFunc
	lastTrained time.Time

	versionSeq  atomic.Int64
	feedbackSeq atomic.Int64 // labels seen since last training
}

// NewController creates an idle controller.
func NewController(repo domain.Repository, scorer *ensemble.Scorer, bus domain.EventBus, cfg domain.EngineConfig, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		repo:   repo,
		scorer: scorer,
		bus:    bus,
		logger: logger,
		cfg:    cfg,
		state:  StateIdle,
	}
}

// State returns the current cycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Bootstrap trains the initial champion on the deterministic synthetic
// corpus so a cold deployment serves model scores, not heuristics.
func (c *Controller) Bootstrap(ctx context.Context) error {
	version := c.nextVersion()
	m, err := ensemble.Train(ensemble.SyntheticCorpus(1), version, 1)
	if err != nil {
		return fmt.Errorf("bootstrap training failed: %w", err)
	}

	c.scorer.Promote(m)
	c.mu.Lock()
	c.lastTrained = time.Now().UTC()
	c.mu.Unlock()

	c.logger.Info("bootstrap champion trained",
		"version", version, "f1", m.F1, "samples", m.SampleCount)
	return nil
}

// Retrain runs one champion/challenger cycle synchronously. A cycle
// already in flight is superseded: its context is cancelled and its
// result discarded.
func (c *Controller) Retrain(ctx context.Context) *domain.RetrainResponse {
	jobCtx := c.beginJob(ctx)
	defer c.endJob()

	c.setState(StateTraining)
	resp := c.runCycle(jobCtx)
	c.setState(StateIdle)
	return resp
}

func (c *Controller) beginJob(ctx context.Context) context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelJob != nil {
		// A newer batch supersedes the in-flight cycle.
		c.cancelJob()
	}
	jobCtx, cancel := context.WithCancel(ctx)
	c.cancelJob = cancel
	return jobCtx
}

func (c *Controller) endJob() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelJob != nil {
		c.cancelJob()
		c.cancelJob = nil
	}
}

func (c *Controller) runCycle(ctx context.Context) *domain.RetrainResponse {
	// Labels seen so far are consumed by this cycle whether or not the
	// challenger wins; otherwise a rejected cycle leaves the counter above
	// the threshold and every later feedback event re-fires a cycle.
	c.feedbackSeq.Store(0)

	labeled, err := c.repo.LabeledAssessments(ctx)
	if err != nil {
		return c.reject(fmt.Sprintf("failed to load training corpus: %v", err))
	}

	// Feedback rides on top of the synthetic base so early deployments
	// with thin corpora still train, while real labels dominate over time.
	corpus := append(ensemble.SyntheticCorpus(1), labeled...)

	version := c.nextVersion()
	challenger, err := ensemble.Train(corpus, version, time.Now().UnixNano())
	if err != nil {
		return c.reject(fmt.Sprintf("challenger training failed: %v", err))
	}

	if ctx.Err() != nil {
		// Superseded mid-flight; discard without touching the champion.
		return c.reject("retraining superseded by a newer batch")
	}

	c.setState(StateEvaluating)

	resp := &domain.RetrainResponse{ChallengerF1: challenger.F1}
	champion := c.scorer.Champion()
	if champion != nil {
		resp.ChampionF1 = champion.F1
	}

	promote := champion == nil || challenger.F1 >= resp.ChampionF1+c.cfg.PromotionMargin
	if !promote {
		resp.Message = fmt.Sprintf(
			"challenger rejected: F1 %.4f did not beat champion %.4f by %.2f",
			challenger.F1, resp.ChampionF1, c.cfg.PromotionMargin)
		c.publishEvent(ctx, modelEvent{
			State: StateRejected, Version: version,
			ChampionF1: resp.ChampionF1, ChallengerF1: challenger.F1,
		})
		return resp
	}

	if ctx.Err() != nil {
		return c.reject("retraining superseded by a newer batch")
	}

	c.scorer.Promote(challenger)
	c.mu.Lock()
	c.lastTrained = time.Now().UTC()
	c.mu.Unlock()

	resp.Swapped = true
	resp.Message = fmt.Sprintf("challenger %s promoted", version)
	c.logger.Info("champion promoted",
		"version", version,
		"champion_f1", resp.ChampionF1,
		"challenger_f1", challenger.F1,
		"corpus_size", len(corpus))
	c.publishEvent(ctx, modelEvent{
		State: StatePromoted, Version: version,
		ChampionF1: resp.ChampionF1, ChallengerF1: challenger.F1,
	})
	return resp
}

func (c *Controller) reject(msg string) *domain.RetrainResponse {
	c.logger.Warn("retraining cycle failed", "error", msg)
	c.publishEvent(context.Background(), modelEvent{State: StateRejected, Error: msg})
	return &domain.RetrainResponse{Error: msg}
}

// Run drives the cadence loop: a retrain cycle fires when enough new
// feedback accumulated, checked both on a timer and on feedback events.
// Blocks until the context is cancelled.
func (c *Controller) Run(ctx context.Context) {
	if c.bus != nil {
		sub, err := c.bus.Subscribe(ctx, domain.TopicFeedbackReceived, func(_ context.Context, _ *domain.Message) error {
			if c.feedbackSeq.Add(1) >= int64(c.cfg.RetrainMinFeedback) {
				go c.maybeRetrain(ctx)
			}
			return nil
		})
		if err != nil {
			c.logger.Warn("failed to subscribe to feedback topic", "error", err)
		} else {
			defer sub.Unsubscribe()
		}
	}

	ticker := time.NewTicker(c.cfg.RetrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.maybeRetrain(ctx)
		}
	}
}

// maybeRetrain fires a cycle when the feedback volume threshold is met.
func (c *Controller) maybeRetrain(ctx context.Context) {
	c.mu.Lock()
	since := c.lastTrained
	busy := c.state != StateIdle
	c.mu.Unlock()
	if busy {
		return
	}

	count, err := c.repo.CountFeedbackSince(ctx, since)
	if err != nil {
		c.logger.Warn("failed to count feedback", "error", err)
		return
	}
	if count < c.cfg.RetrainMinFeedback {
		return
	}

	c.logger.Info("retraining triggered", "new_feedback", count)
	c.Retrain(ctx)
}

func (c *Controller) nextVersion() string {
	return fmt.Sprintf("v%d", c.versionSeq.Add(1))
}

func (c *Controller) publishEvent(ctx context.Context, ev modelEvent) {
	if c.bus == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := c.bus.Publish(ctx, domain.TopicModelEvents, payload); err != nil {
		c.logger.Warn("failed to publish model event", "error", err)
	}
}
