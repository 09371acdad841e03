package domain

import (
	"time"
)

// AccountProfile is a point-in-time snapshot of an account's behavioral
// state, owned by the feature store. Rolling aggregates reflect the state
// BEFORE the transaction currently being scored.
type AccountProfile struct {
	AccountID      string  `json:"accountId"`
	AccountAgeDays int     `json:"accountAgeDays"`
	TrustScore     float64 `json:"trustScore"` // in [0,1]

	// Rolling window aggregates.
	TxCount1h    int     `json:"txCount1h"`
	AmountSum24h float64 `json:"amountSum24h"`
	AvgAmount    float64 `json:"avgAmount"` // rolling historical average

	// Last observed transaction context for impossible-travel checks.
	LastLocation  *GeoPoint `json:"lastLocation,omitempty"`
	LastTimestamp time.Time `json:"lastTimestamp"`

	FirstSeen time.Time `json:"firstSeen"`
}

// ColdStart reports whether the profile has no transaction history.
func (p *AccountProfile) ColdStart() bool {
	return p.AvgAmount == 0 && p.TxCount1h == 0 && p.AmountSum24h == 0
}

// DefaultTrustScore is assigned to accounts with no history.
const DefaultTrustScore = 0.5

// NewAccountProfile returns a cold-start profile for an unseen account.
func NewAccountProfile(accountID string) *AccountProfile {
	return &AccountProfile{
		AccountID:      accountID,
		AccountAgeDays: 0,
		TrustScore:     DefaultTrustScore,
		FirstSeen:      time.Now().UTC(),
	}
}

// FeatureVector holds the derived features for a single scoring call.
// Ephemeral: computed per transaction and discarded after assembly.
type FeatureVector struct {
	RawAmount        float64 `json:"amount"`
	DeviceEnc        float64 `json:"device_enc"`
	HourOfDay        float64 `json:"hour"`
	TxCount1h        float64 `json:"tx_count_1h"`
	TxAmountSum24h   float64 `json:"tx_amount_sum_24h"`
	AmountRatio      float64 `json:"amount_ratio"`
	VelocityScore    float64 `json:"velocity_score"`
	ImpossibleTravel bool    `json:"impossible_travel"`
}

// FeatureCount is the fixed dimensionality of the model input.
const FeatureCount = 8

// FeatureNames lists feature identifiers in model input order.
// The order is load-bearing: models, baselines and explanations all
// index into it.
var FeatureNames = [FeatureCount]string{
	"amount",
	"device_enc",
	"hour",
	"tx_count_1h",
	"tx_amount_sum_24h",
	"amount_ratio",
	"velocity_score",
	"impossible_travel",
}

// FeatureLabels maps feature identifiers to analyst-facing display names.
var FeatureLabels = map[string]string{
	"amount":            "Transaction Amount",
	"device_enc":        "Device Type",
	"hour":              "Time of Day",
	"tx_count_1h":       "Transactions in Last Hour",
	"tx_amount_sum_24h": "Total Amount (24h)",
	"amount_ratio":      "Amount vs Historical Avg",
	"velocity_score":    "Transaction Velocity",
	"impossible_travel": "Impossible Travel Flag",
}

// Values returns the vector in model input order.
func (f *FeatureVector) Values() [FeatureCount]float64 {
	travel := 0.0
	if f.ImpossibleTravel {
		travel = 1.0
	}
	return [FeatureCount]float64{
		f.RawAmount,
		f.DeviceEnc,
		f.HourOfDay,
		f.TxCount1h,
		f.TxAmountSum24h,
		f.AmountRatio,
		f.VelocityScore,
		travel,
	}
}
