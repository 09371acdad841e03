package domain

import (
	"math"
	"time"
)

// Risk levels, ordered.
const (
	RiskLevelLow    = "Low"
	RiskLevelMedium = "Medium"
	RiskLevelHigh   = "High"
)

// RiskAssessment is the pipeline's output: one per transaction,
// immutable once assembled.
type RiskAssessment struct {
	ID        string `json:"id"`
	TxID      string `json:"txId"`
	AccountID string `json:"accountId"`

	// FraudProbability is the combined ensemble probability in [0,1].
	FraudProbability float64 `json:"fraudProbability"`

	// RiskScore == round(FraudProbability * 100), in [0,100].
	RiskScore int    `json:"riskScore"`
	RiskLevel string `json:"riskLevel"`

	// Constituent sub-scores, exposed for transparency.
	SupervisedProba float64 `json:"supervisedProba"`
	AnomalyScore    float64 `json:"anomalyScore"`

	ThresholdUsed float64 `json:"thresholdUsed"`
	Flagged       bool    `json:"flagged"`

	// Top contributing factors, at most three, ordered by descending
	// contribution magnitude.
	Reasons []string `json:"reasons"`

	GraphFlagged bool `json:"graphFlagged"`

	// ModelUntrained marks heuristic scores produced before any champion
	// has been trained.
	ModelUntrained bool `json:"modelUntrained,omitempty"`

	// OverrideRule names the analyst rule that forced the flag, if any.
	OverrideRule string `json:"overrideRule,omitempty"`

	// IPFlagged marks transactions whose origin IP screened as VPN/proxy.
	IPFlagged bool `json:"ipFlagged,omitempty"`

	// Feature snapshot used for this decision.
	Features FeatureVector `json:"features"`

	// Account trust signals at decision time.
	TrustScore     float64 `json:"trustScore"`
	AccountAgeDays int     `json:"accountAgeDays"`

	ModelVersion string    `json:"modelVersion"`
	Timestamp    time.Time `json:"timestamp"`
}

// ScoreFromProbability converts a probability to the 0-100 risk score.
func ScoreFromProbability(p float64) int {
	return int(math.Round(p * 100))
}

// RiskLevelCutoffs maps risk scores to levels. Cutoffs must be ordered:
// scores below Medium are Low, below High are Medium, the rest High.
type RiskLevelCutoffs struct {
	Medium int `json:"medium"`
	High   int `json:"high"`
}

// DefaultRiskLevelCutoffs returns the standard Low/Medium/High banding.
func DefaultRiskLevelCutoffs() RiskLevelCutoffs {
	return RiskLevelCutoffs{Medium: 40, High: 70}
}

// Level returns the risk level for a 0-100 risk score.
func (c RiskLevelCutoffs) Level(score int) string {
	switch {
	case score < c.Medium:
		return RiskLevelLow
	case score < c.High:
		return RiskLevelMedium
	default:
		return RiskLevelHigh
	}
}

// AssessmentResponse is the wire representation of a RiskAssessment.
// Field names are part of the external contract and must not change.
// fraud_probability is reported on the 0-100 scale, mirroring risk_score,
// for compatibility with existing consumers.
type AssessmentResponse struct {
	TransactionID    string    `json:"transaction_id"`
	Name             string    `json:"name"`
	Amount           float64   `json:"amount"`
	IPAddress        string    `json:"ip_address"`
	FraudProbability float64   `json:"fraud_probability"`
	RiskLevel        string    `json:"risk_level"`
	RiskScore        int       `json:"risk_score"`
	XGBProba         float64   `json:"xgb_proba"`
	IsoScore         float64   `json:"iso_score"`
	ThresholdUsed    float64   `json:"threshold_used"`
	Flagged          bool      `json:"flagged"`
	ShapReasons      []string  `json:"shap_reasons"`
	GraphFlagged     bool      `json:"graph_flagged"`
	TxCount1h        int       `json:"tx_count_1h"`
	TxAmountSum24h   float64   `json:"tx_amount_sum_24h"`
	ImpossibleTravel bool      `json:"impossible_travel"`
	AmountRatio      float64   `json:"amount_ratio"`
	VelocityScore    float64   `json:"velocity_score"`
	TrustScore       float64   `json:"trust_score"`
	AccountAgeDays   int       `json:"account_age_days"`
	Timestamp        time.Time `json:"timestamp"`

	ModelUntrained bool   `json:"model_untrained,omitempty"`
	OverrideRule   string `json:"override_rule,omitempty"`
	IPFlagged      bool   `json:"ip_flagged,omitempty"`
}

// ToResponse converts an assessment to its wire representation.
func (a *RiskAssessment) ToResponse(name string, amount float64, ipAddress string) *AssessmentResponse {
	return &AssessmentResponse{
		TransactionID:    a.TxID,
		Name:             name,
		Amount:           amount,
		IPAddress:        ipAddress,
		FraudProbability: float64(a.RiskScore),
		RiskLevel:        a.RiskLevel,
		RiskScore:        a.RiskScore,
		XGBProba:         a.SupervisedProba,
		IsoScore:         a.AnomalyScore,
		ThresholdUsed:    a.ThresholdUsed,
		Flagged:          a.Flagged,
		ShapReasons:      a.Reasons,
		GraphFlagged:     a.GraphFlagged,
		TxCount1h:        int(a.Features.TxCount1h),
		TxAmountSum24h:   a.Features.TxAmountSum24h,
		ImpossibleTravel: a.Features.ImpossibleTravel,
		AmountRatio:      a.Features.AmountRatio,
		VelocityScore:    a.Features.VelocityScore,
		TrustScore:       a.TrustScore,
		AccountAgeDays:   a.AccountAgeDays,
		Timestamp:        a.Timestamp,
		ModelUntrained:   a.ModelUntrained,
		OverrideRule:     a.OverrideRule,
		IPFlagged:        a.IPFlagged,
	}
}
