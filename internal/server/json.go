package server

import (
	"encoding/json"
	"net/http"
	"time"

	"dlmm-risk-manager/internal/domain"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}

// Requests.

type amountRequest struct {
	PoolAddress string `json:"poolAddress"`
	Amount      uint64 `json:"amount"`
}

type poolRequest struct {
	PoolAddress string `json:"poolAddress"`
}

type claimFeesRequest struct {
	PoolAddress    string `json:"poolAddress"`
	PositionPubKey string `json:"positionPubKey"`
}

// Responses.

type successResponse struct {
	Success    bool          `json:"success"`
	Signature  string        `json:"signature,omitempty"`
	Signatures []string      `json:"signatures,omitempty"`
	Position   *positionJSON `json:"position,omitempty"`
}

type binJSON struct {
	BinID   int32  `json:"binId"`
	XAmount uint64 `json:"xAmount"`
	YAmount uint64 `json:"yAmount"`
}

type positionJSON struct {
	ID             string    `json:"id"`
	PoolAddress    string    `json:"poolAddress"`
	Owner          string    `json:"owner"`
	Amount         uint64    `json:"amount"`
	Status         string    `json:"status"`
	Bins           []binJSON `json:"bins"`
	CreatedAt      int64     `json:"createdAt"`
	ClosedAt       *int64    `json:"closedAt,omitempty"`
	CloseSignature string    `json:"closeSignature,omitempty"`
}

func toPositionJSON(p *domain.Position) *positionJSON {
	out := &positionJSON{
		ID:             p.ID,
		PoolAddress:    p.PoolAddress,
		Owner:          p.Owner,
		Amount:         p.Amount,
		Status:         string(p.Status),
		Bins:           make([]binJSON, len(p.Bins)),
		CreatedAt:      p.CreatedAt,
		ClosedAt:       p.ClosedAt,
		CloseSignature: p.CloseSignature,
	}
	for i, b := range p.Bins {
		out.Bins[i] = binJSON{BinID: b.BinID, XAmount: b.XAmount, YAmount: b.YAmount}
	}
	return out
}

type verdictJSON struct {
	CycleID         string   `json:"cycleId"`
	PositionID      string   `json:"positionId"`
	PoolAddress     string   `json:"poolAddress"`
	ImpermanentLoss float64  `json:"impermanentLoss"`
	PriceDrawdown   float64  `json:"priceDrawdown"`
	VolumeChangePct *float64 `json:"volumeChangePct"`
	HealthScore     float64  `json:"healthScore"`
	Action          string   `json:"action"`
	TriggeredBy     []string `json:"triggeredBy"`
	ExitState       string   `json:"exitState,omitempty"`
	Error           string   `json:"error,omitempty"`
	EvaluatedAt     int64    `json:"evaluatedAt"`
}

func toVerdictJSON(v *domain.RiskVerdict) verdictJSON {
	out := verdictJSON{
		CycleID:         v.CycleID,
		PositionID:      v.PositionID,
		PoolAddress:     v.PoolAddress,
		ImpermanentLoss: v.ImpermanentLoss,
		PriceDrawdown:   v.PriceDrawdown,
		VolumeChangePct: v.VolumeChangePct,
		HealthScore:     v.HealthScore,
		Action:          string(v.Action),
		TriggeredBy:     make([]string, len(v.TriggeredBy)),
		ExitState:       string(v.ExitState),
		Error:           v.Err,
		EvaluatedAt:     v.EvaluatedAt,
	}
	for i, r := range v.TriggeredBy {
		out.TriggeredBy[i] = string(r)
	}
	return out
}

type cycleJSON struct {
	Success   bool   `json:"success"`
	CycleID   string `json:"cycleId"`
	Positions int    `json:"positions"`
	Evaluated int    `json:"evaluated"`
	Closed    int    `json:"closed"`
	Failed    int    `json:"failed"`
	Pending   int    `json:"pending"`
}

type statusResponse struct {
	Status      string    `json:"status"`
	Uptime      string    `json:"uptime"`
	Interval    string    `json:"check_interval,omitempty"`
	Cycles      int       `json:"cycles"`
	CycleActive bool      `json:"cycle_running"`
	LastCycleID string    `json:"last_cycle_id,omitempty"`
	LastCycleAt time.Time `json:"last_cycle_at,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}
