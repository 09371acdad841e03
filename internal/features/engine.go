// Package features derives behavioral feature vectors from transactions
// and account profiles.
package features

import (
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const (
	// earthRadiusKM for the haversine great-circle distance.
	earthRadiusKM = 6371.0

	// velocityBaseline is the hourly transaction count that saturates
	// the velocity score at 1.0.
	velocityBaseline = 10.0

	// ratioEpsilon guards the amount ratio denominator.
	ratioEpsilon = 1e-9
)

// Engine derives feature vectors. Stateless; all behavioral context comes
// from the profile snapshot, which reflects the account's state BEFORE the
// transaction being scored.
type Engine struct {
	maxTravelSpeedKPH float64
}

// NewEngine creates a feature engine from the pipeline parameters.
func NewEngine(cfg domain.EngineConfig) *Engine {
	return &Engine{maxTravelSpeedKPH: cfg.MaxTravelSpeedKPH}
}

// Derive computes the feature vector for one transaction.
func (e *Engine) Derive(tx *domain.Transaction, profile *domain.AccountProfile) domain.FeatureVector {
	fv := domain.FeatureVector{
		RawAmount:      tx.Amount,
		DeviceEnc:      domain.EncodeDevice(tx.DeviceType),
		HourOfDay:      float64(tx.Timestamp.UTC().Hour()),
		TxCount1h:      float64(profile.TxCount1h),
		TxAmountSum24h: profile.AmountSum24h,
	}

	// Cold-start accounts get a neutral ratio rather than an extreme one.
	if profile.AvgAmount <= 0 {
		fv.AmountRatio = 1.0
	} else {
		fv.AmountRatio = tx.Amount / math.Max(profile.AvgAmount, ratioEpsilon)
	}

	fv.VelocityScore = math.Min(fv.TxCount1h/velocityBaseline, 1.0)

	fv.ImpossibleTravel = e.impossibleTravel(tx, profile)

	return fv
}

// impossibleTravel reports whether the implied travel speed between the
// account's last known location and the current one exceeds the plausible
// maximum. Missing locations cannot disprove presence, so they never flag.
func (e *Engine) impossibleTravel(tx *domain.Transaction, profile *domain.AccountProfile) bool {
	if tx.Location == nil || profile.LastLocation == nil || profile.LastTimestamp.IsZero() {
		return false
	}

	distKM := Haversine(
		profile.LastLocation.Lat, profile.LastLocation.Lon,
		tx.Location.Lat, tx.Location.Lon,
	)

	elapsed := tx.Timestamp.Sub(profile.LastTimestamp)
	if elapsed <= 0 {
		// Simultaneous transactions from distinct places are implausible.
		return distKM > 1.0
	}

	speedKPH := distKM / elapsed.Hours()
	return speedKPH > e.maxTravelSpeedKPH
}

// Haversine returns the great-circle distance in kilometers between two
// points given in decimal degrees.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	return 2 * earthRadiusKM * math.Asin(math.Sqrt(a))
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
