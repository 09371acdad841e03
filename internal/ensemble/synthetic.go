package ensemble

import (
	"fmt"
	"math/rand"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// SyntheticCorpus generates a deterministic labeled corpus so a cold
// deployment can train an initial champion before any analyst feedback
// exists. Legitimate rows follow everyday spending patterns; fraud rows
// mix amount spikes, velocity bursts and impossible travel. Once real
// feedback accumulates it dominates retraining.
func SyntheticCorpus(seed int64) []*domain.LabeledSample {
	rng := rand.New(rand.NewSource(seed))
	samples := make([]*domain.LabeledSample, 0, 500)

	// 400 legitimate transactions.
	for i := 0; i < 400; i++ {
		amount := 20 + rng.Float64()*980 // everyday range
		count := float64(rng.Intn(3))
		samples = append(samples, &domain.LabeledSample{
			TransactionID: fmt.Sprintf("syn-legit-%d", i),
			Features: domain.FeatureVector{
				RawAmount:      amount,
				DeviceEnc:      float64(rng.Intn(3)),
				HourOfDay:      float64(8 + rng.Intn(14)), // daytime
				TxCount1h:      count,
				TxAmountSum24h: amount * (1 + rng.Float64()*3),
				AmountRatio:    0.5 + rng.Float64(), // near historical norm
				VelocityScore:  count / 10,
			},
			IsFraud: false,
		})
	}

	// 100 fraudulent transactions across typologies. The window features
	// hold the account's state BEFORE the fraudulent transaction arrives,
	// matching what feature derivation produces at scoring time: a spike
	// lands on a baseline-scale (or empty) 24h sum, never on itself.
	for i := 0; i < 100; i++ {
		fv := domain.FeatureVector{
			DeviceEnc: float64(rng.Intn(3)),
			HourOfDay: float64(rng.Intn(24)),
		}

		switch i % 3 {
		case 0: // amount spike against a modest baseline
			fv.RawAmount = 10000 + rng.Float64()*60000
			fv.AmountRatio = 8 + rng.Float64()*40
			fv.TxCount1h = float64(rng.Intn(3))
			if rng.Intn(2) == 0 {
				baseline := fv.RawAmount / fv.AmountRatio
				fv.TxAmountSum24h = baseline * (1 + rng.Float64()*3)
			} // else dormant: nothing spent in the last 24h
		case 1: // velocity burst, prior burst txs already fill the windows
			fv.RawAmount = 100 + rng.Float64()*2000
			fv.AmountRatio = 1 + rng.Float64()*3
			fv.TxCount1h = float64(8 + rng.Intn(15))
			fv.TxAmountSum24h = fv.RawAmount * fv.TxCount1h
			fv.HourOfDay = float64(rng.Intn(6)) // small hours
		default: // account takeover with travel
			fv.RawAmount = 1000 + rng.Float64()*20000
			fv.AmountRatio = 3 + rng.Float64()*15
			fv.TxCount1h = float64(2 + rng.Intn(6))
			baseline := fv.RawAmount / fv.AmountRatio
			fv.TxAmountSum24h = baseline * (fv.TxCount1h + rng.Float64()*2)
			fv.ImpossibleTravel = true
		}
		fv.VelocityScore = minFloat(fv.TxCount1h/10, 1)

		samples = append(samples, &domain.LabeledSample{
			TransactionID: fmt.Sprintf("syn-fraud-%d", i),
			Features:      fv,
			IsFraud:       true,
		})
	}

	return samples
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
