package domain

import "time"

// FeedbackRecord is an analyst-confirmed label for a scored transaction.
// One record per transaction ID; repeated submissions overwrite.
type FeedbackRecord struct {
	TransactionID  string    `json:"transactionId"`
	AccountID      string    `json:"accountId"`
	ConfirmedFraud bool      `json:"confirmedFraud"`
	AnalystID      string    `json:"analystId"`
	CreatedAt      time.Time `json:"createdAt"`
}

// FeedbackRequest is the API payload for submitting a label.
type FeedbackRequest struct {
	TransactionID string `json:"transaction_id"`
	IsFraud       bool   `json:"is_fraud"`
	AnalystID     string `json:"admin_id,omitempty"`
}

// FeedbackResponse acknowledges a recorded label.
type FeedbackResponse struct {
	Status         string `json:"status"`
	TransactionID  string `json:"transaction_id"`
	ConfirmedFraud bool   `json:"confirmed_fraud"`
}

// RetrainResponse reports the outcome of a champion/challenger cycle.
type RetrainResponse struct {
	Swapped      bool    `json:"swapped"`
	ChampionF1   float64 `json:"champion_f1,omitempty"`
	ChallengerF1 float64 `json:"challenger_f1,omitempty"`
	Message      string  `json:"message,omitempty"`
	Error        string  `json:"error,omitempty"`
}
