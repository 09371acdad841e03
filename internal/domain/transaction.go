package domain

import (
	"strings"
	"time"
)

// Transaction represents an incoming transaction to be scored.
// Immutable once created; referenced by assessments and feedback.
type Transaction struct {
	ID        string `json:"id"`
	AccountID string `json:"accountId"`

	// Display name of the account holder (kept for the wire contract).
	Name string `json:"name"`

	Amount     float64 `json:"amount"`
	DeviceType string  `json:"deviceType"` // "Mobile", "Desktop", "Tablet"
	IPAddress  string  `json:"ipAddress"`

	// Optional geolocation of the transaction origin.
	Location *GeoPoint `json:"location,omitempty"`

	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`
}

// GeoPoint is a latitude/longitude pair.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// TransactionRequest is the API request payload for transaction scoring.
type TransactionRequest struct {
	Name      string    `json:"name"`
	AccountID string    `json:"user_id,omitempty"`
	Amount    float64   `json:"amount"`
	Device    string    `json:"device"`
	Location  *GeoPoint `json:"location,omitempty"`
}

// DeviceEncoding maps device type strings to the numeric encoding used by
// the model. Must match the encoding the champion was trained with.
var DeviceEncoding = map[string]float64{
	"Mobile":  0,
	"Desktop": 1,
	"Tablet":  2,
}

// EncodeDevice returns the numeric encoding for a device type.
// Unknown device types encode as Mobile.
func EncodeDevice(device string) float64 {
	if enc, ok := DeviceEncoding[device]; ok {
		return enc
	}
	return 0
}

// ToTransaction converts a request to a Transaction domain object.
// The account ID falls back to a normalized form of the display name,
// matching how accounts are identified when the caller omits user_id.
func (r *TransactionRequest) ToTransaction(id, ipAddress string) *Transaction {
	now := time.Now().UTC()
	accountID := r.AccountID
	if accountID == "" {
		accountID = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(r.Name), " ", "_"))
	}
	return &Transaction{
		ID:         id,
		AccountID:  accountID,
		Name:       r.Name,
		Amount:     r.Amount,
		DeviceType: r.Device,
		IPAddress:  ipAddress,
		Location:   r.Location,
		Timestamp:  now,
		CreatedAt:  now,
	}
}
