// Package risk implements the pure position risk computations: impermanent loss,
// stop-loss drawdown, volume trend and the resulting CONTINUE/EXIT verdict.
package risk

import (
	"fmt"
	"math"

	"dlmm-risk-manager/internal/domain"
)

// PricePair is an entry/current price pair for one position.
type PricePair struct {
	Initial float64
	Current float64
}

// ImpermanentLoss computes IL for the position's effective price ratio:
//
//	r  = current / initial
//	il = 1 - sqrt(2 / (1 + r)) * r
//
// The result is floored at 0. Non-positive prices yield 0.
func ImpermanentLoss(initialPrice, currentPrice float64) float64 {
	if initialPrice <= 0 || currentPrice <= 0 {
		return 0
	}
	ratio := currentPrice / initialPrice
	il := 1 - math.Sqrt(2/(1+ratio))*ratio
	if il < 0 || math.IsNaN(il) {
		return 0
	}
	return il
}

// AverageImpermanentLoss returns the mean IL across positions, or 0 when there are none.
func AverageImpermanentLoss(pairs []PricePair) float64 {
	if len(pairs) == 0 {
		return 0
	}
	var total float64
	for _, p := range pairs {
		total += ImpermanentLoss(p.Initial, p.Current)
	}
	return total / float64(len(pairs))
}

// PriceDrawdown returns the fractional fall from entry. Negative when price rose.
func PriceDrawdown(initialPrice, currentPrice float64) float64 {
	if initialPrice == 0 {
		return 0
	}
	return (initialPrice - currentPrice) / initialPrice
}

// VolumeChangePct returns the percent change between the last two points of a
// time-ordered volume series.
func VolumeChangePct(series []float64) (float64, error) {
	if len(series) < 2 {
		return 0, fmt.Errorf("volume series has %d points: %w", len(series), domain.ErrInsufficientData)
	}
	last := series[len(series)-1]
	prev := series[len(series)-2]
	if prev == 0 {
		return 0, fmt.Errorf("previous volume is zero: %w", domain.ErrInsufficientData)
	}
	return (last - prev) / prev * 100, nil
}

// HealthScore rates a position from 0 to 100. Each metric can take away up to a
// third of the score, in proportion to how close it is to its threshold.
func HealthScore(m domain.PositionMetrics, t domain.RiskThresholds) float64 {
	const share = 100.0 / 3

	score := 100.0
	score -= share * pressure(ImpermanentLoss(m.InitialPrice, m.CurrentPrice), t.MaxImpermanentLoss)
	score -= share * pressure(PriceDrawdown(m.InitialPrice, m.CurrentPrice), t.StopLossFraction)
	if m.VolumeChangePct != nil {
		score -= share * pressure(*m.VolumeChangePct, t.VolumeDropThreshold*100)
	}

	return math.Max(0, math.Min(100, score))
}

func pressure(value, threshold float64) float64 {
	if threshold <= 0 || value <= 0 {
		return 0
	}
	return math.Min(1, value/threshold)
}

// Evaluate scores one position against the thresholds.
//
// The verdict is EXIT when any guard fires; every firing guard is recorded in
// evaluation order. Volume change is a percentage and VolumeDropThreshold a
// fraction, so the threshold is scaled by 100 before comparing. A missing
// volume metric never fires.
func Evaluate(position *domain.Position, m domain.PositionMetrics, t domain.RiskThresholds) domain.RiskVerdict {
	v := domain.RiskVerdict{
		PositionID:      position.ID,
		PoolAddress:     position.PoolAddress,
		ImpermanentLoss: ImpermanentLoss(m.InitialPrice, m.CurrentPrice),
		PriceDrawdown:   PriceDrawdown(m.InitialPrice, m.CurrentPrice),
		VolumeChangePct: m.VolumeChangePct,
		HealthScore:     HealthScore(m, t),
		Action:          domain.ActionContinue,
	}

	if v.ImpermanentLoss > t.MaxImpermanentLoss {
		v.TriggeredBy = append(v.TriggeredBy, domain.ReasonImpermanentLoss)
	}
	if v.PriceDrawdown > t.StopLossFraction {
		v.TriggeredBy = append(v.TriggeredBy, domain.ReasonStopLoss)
	}
	if m.VolumeChangePct != nil && *m.VolumeChangePct > t.VolumeDropThreshold*100 {
		v.TriggeredBy = append(v.TriggeredBy, domain.ReasonVolumeChange)
	}

	if len(v.TriggeredBy) > 0 {
		v.Action = domain.ActionExit
	}
	return v
}
