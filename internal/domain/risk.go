package domain

// RiskThresholds is the process-wide risk configuration.
// Loaded once at startup and never mutated.
type RiskThresholds struct {
	StopLossFraction    float64 // max tolerated fall from entry price (0.05 = 5%)
	MaxImpermanentLoss  float64 // max tolerated IL fraction
	VolumeDropThreshold float64 // volume change threshold as a fraction (0.4 = 40%)
	HealthScoreMin      float64 // 0..100, below this the position is reported unhealthy
	CheckIntervalMs     int64   // periodic risk cycle interval
}

// DefaultRiskThresholds returns the production defaults.
func DefaultRiskThresholds() RiskThresholds {
	return RiskThresholds{
		StopLossFraction:    0.05,
		MaxImpermanentLoss:  0.015,
		VolumeDropThreshold: 0.4,
		HealthScoreMin:      70,
		CheckIntervalMs:     300000,
	}
}

// PositionMetrics are the derived scalars fed to the evaluator.
type PositionMetrics struct {
	InitialPrice float64
	CurrentPrice float64

	// VolumeChangePct is nil when the volume series was unavailable.
	VolumeChangePct *float64
}

// Action is the evaluator decision for a position.
type Action string

const (
	ActionContinue Action = "CONTINUE"
	ActionExit     Action = "EXIT"
)

// ReasonCode identifies which guard triggered an exit.
type ReasonCode string

// Exit reason codes
const (
	ReasonImpermanentLoss ReasonCode = "impermanent_loss"
	ReasonStopLoss        ReasonCode = "stop_loss"
	ReasonVolumeChange    ReasonCode = "volume_change"
	ReasonManual          ReasonCode = "manual"
)

// ExitState records what the controller did with an EXIT verdict.
type ExitState string

const (
	ExitStateNone    ExitState = ""
	ExitStateClosed  ExitState = "closed"  // removal confirmed, ledger updated
	ExitStateFailed  ExitState = "failed"  // removal or ledger update failed
	ExitStateLocked  ExitState = "locked"  // another exit for the position is in flight
	ExitStatePending ExitState = "pending" // cycle deadline reached before completion
)

// RiskVerdict is the per-position evaluation result.
type RiskVerdict struct {
	CycleID     string
	PositionID  string
	PoolAddress string

	ImpermanentLoss float64
	PriceDrawdown   float64
	VolumeChangePct *float64
	HealthScore     float64

	Action      Action
	TriggeredBy []ReasonCode

	ExitState   ExitState
	Err         string
	EvaluatedAt int64 // Unix timestamp in milliseconds
}

// Triggered reports whether the verdict carries the given reason.
func (v *RiskVerdict) Triggered(reason ReasonCode) bool {
	for _, r := range v.TriggeredBy {
		if r == reason {
			return true
		}
	}
	return false
}
