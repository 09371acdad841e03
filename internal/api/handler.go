package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/adaptive"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ensemble"
	"github.com/opensource-finance/kestrel/internal/feedback"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	pipeline   *pipeline.Pipeline
	repo       domain.Repository
	cache      domain.Cache
	ingestor   *feedback.Ingestor
	controller *adaptive.Controller
	scorer     *ensemble.Scorer
	engine     *rules.Engine
	version    string
}

// NewHandler creates a new API handler.
func NewHandler(p *pipeline.Pipeline, repo domain.Repository, cache domain.Cache, ingestor *feedback.Ingestor, controller *adaptive.Controller, scorer *ensemble.Scorer, engine *rules.Engine, version string) *Handler {
	return &Handler{
		pipeline:   p,
		repo:       repo,
		cache:      cache,
		ingestor:   ingestor,
		controller: controller,
		scorer:     scorer,
		engine:     engine,
		version:    version,
	}
}

// ScoreTransaction handles POST /transaction: it runs the full scoring
// pipeline synchronously and returns the risk assessment.
func (h *Handler) ScoreTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Name == "" && req.AccountID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "name or user_id is required",
		})
		return
	}
	if req.Amount <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "amount must be positive",
		})
		return
	}

	tx := req.ToTransaction(uuid.New().String(), clientIP(r))

	assessment, err := h.pipeline.Process(ctx, tx)
	if err != nil {
		if errors.Is(err, pipeline.ErrInvalidInput) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
			return
		}
		slog.Error("scoring failed", "tx_id", tx.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "scoring failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, assessment.ToResponse(tx.Name, tx.Amount, tx.IPAddress))
}

// History handles GET /history: past assessments, newest first.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a non-negative integer",
			})
			return
		}
		limit = n
	}

	rows, err := h.repo.ListAssessments(ctx, limit)
	if err != nil {
		slog.Error("failed to list assessments", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load history",
		})
		return
	}

	out := make([]*domain.AssessmentResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.Assessment.ToResponse(
			row.Transaction.Name, row.Transaction.Amount, row.Transaction.IPAddress))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txID := chi.URLParam(r, "id")

	tx, err := h.repo.GetTransaction(ctx, txID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "transaction not found",
			})
			return
		}
		slog.Error("failed to get transaction", "id", txID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load transaction",
		})
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// GetAssessment retrieves the assessment for a transaction ID.
func (h *Handler) GetAssessment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txID := chi.URLParam(r, "id")

	a, err := h.repo.GetAssessmentByTx(ctx, txID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "assessment not found",
			})
			return
		}
		slog.Error("failed to get assessment", "tx_id", txID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load assessment",
		})
		return
	}

	writeJSON(w, http.StatusOK, a)
}

// SubmitFeedback handles POST /feedback: analyst labels for scored
// transactions. Confirmed fraud feeds the graph and trust signals.
func (h *Handler) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.TransactionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transaction_id is required",
		})
		return
	}

	resp, err := h.ingestor.Submit(ctx, &req)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "transaction not found",
			})
			return
		}
		slog.Error("feedback ingestion failed", "tx_id", req.TransactionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to record feedback",
		})
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Retrain handles POST /retrain: it runs a champion/challenger cycle
// synchronously and reports whether the challenger was promoted.
func (h *Handler) Retrain(w http.ResponseWriter, r *http.Request) {
	resp := h.controller.Retrain(r.Context())
	writeJSON(w, http.StatusOK, resp)
}

// ModelStatus reports the current champion and controller state.
func (h *Handler) ModelStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"state":   string(h.controller.State()),
		"version": ensemble.HeuristicVersion,
	}
	if champion := h.scorer.Champion(); champion != nil {
		status["version"] = champion.Version
		status["f1"] = champion.F1
		status["trained_at"] = champion.TrainedAt
		status["sample_count"] = champion.SampleCount
	} else {
		status["untrained"] = true
	}
	writeJSON(w, http.StatusOK, status)
}

// RollbackModel handles POST /model/rollback: it restores the previous
// champion if one exists.
func (h *Handler) RollbackModel(w http.ResponseWriter, r *http.Request) {
	if !h.scorer.Rollback() {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": "no previous model to roll back to",
		})
		return
	}

	version := ensemble.HeuristicVersion
	if champion := h.scorer.Champion(); champion != nil {
		version = champion.Version
	}
	slog.Info("model rolled back", "version", version)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "model rolled back",
		"version": version,
	})
}

// Insights handles GET /insights: daily aggregates over assessments.
// An optional date=YYYY-MM-DD query selects the day; default is today.
func (h *Handler) Insights(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	day := time.Now().UTC()
	if v := r.URL.Query().Get("date"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "date must be formatted as YYYY-MM-DD",
			})
			return
		}
		day = parsed
	}

	insights, err := h.repo.Insights(ctx, day)
	if err != nil {
		slog.Error("failed to compute insights", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to compute insights",
		})
		return
	}

	writeJSON(w, http.StatusOK, insights)
}

// ListRules returns all persisted override rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	ruleset, err := h.repo.ListOverrideRules(r.Context(), false)
	if err != nil {
		slog.Error("failed to list rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": ruleset,
		"count": len(ruleset),
	})
}

// CreateRule validates, persists and hot-loads an override rule.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var rule domain.OverrideRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if rule.ID == "" || rule.Name == "" || rule.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}
	if rule.Reason == "" {
		rule.Reason = rule.Name
	}

	if err := h.engine.Validate(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	if err := h.repo.SaveOverrideRule(ctx, &rule); err != nil {
		slog.Error("failed to save rule", "id", rule.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule",
		})
		return
	}

	if err := h.reloadRules(ctx); err != nil {
		slog.Error("failed to reload rules after create", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "rule saved but reload failed: " + err.Error(),
		})
		return
	}

	slog.Info("override rule created", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule":   rule,
		"loaded": h.engine.Count(),
	})
}

// ReloadRules reloads all enabled override rules from the database.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if err := h.reloadRules(r.Context()); err != nil {
		slog.Error("failed to reload rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("override rules reloaded", "count", h.engine.Count())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"count":   h.engine.Count(),
	})
}

func (h *Handler) reloadRules(ctx context.Context) error {
	ruleset, err := h.repo.ListOverrideRules(ctx, true)
	if err != nil {
		return err
	}
	return h.engine.Reload(ruleset)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// clientIP extracts the caller's IP. RealIP middleware has already
// resolved forwarding headers into RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
