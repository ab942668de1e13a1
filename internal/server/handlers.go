package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dlmm-risk-manager/internal/domain"
	"dlmm-risk-manager/internal/position"
	"dlmm-risk-manager/internal/solana"
	"dlmm-risk-manager/internal/storage"
)

const defaultVerdictLimit = 50

func (s *Server) handleCreatePosition(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !s.decodeAmountRequest(w, r, &req) {
		return
	}

	p, err := s.positions.CreatePosition(r.Context(), req.PoolAddress, req.Amount)
	if err != nil {
		s.fail(w, "createPosition", err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true, Position: toPositionJSON(p)})
}

func (s *Server) handleAddLiquidity(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !s.decodeAmountRequest(w, r, &req) {
		return
	}

	sig, err := s.positions.AddLiquidity(r.Context(), req.PoolAddress, req.Amount)
	if err != nil {
		s.fail(w, "addLiquidity", err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true, Signature: sig})
}

func (s *Server) handleSellPosition(w http.ResponseWriter, r *http.Request) {
	var req poolRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validateAddress("poolAddress", req.PoolAddress); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sigs, err := s.positions.SellPosition(r.Context(), req.PoolAddress)
	if err != nil {
		s.fail(w, "sellPosition", err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true, Signatures: sigs})
}

func (s *Server) handleClaimFees(w http.ResponseWriter, r *http.Request) {
	var req claimFeesRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validateAddress("poolAddress", req.PoolAddress); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateAddress("positionPubKey", req.PositionPubKey); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sig, err := s.positions.ClaimFees(r.Context(), req.PoolAddress, req.PositionPubKey)
	if err != nil {
		s.fail(w, "claimFees", err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true, Signature: sig})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	report, err := s.cycles.Trigger(r.Context())
	if err != nil {
		s.fail(w, "update", err)
		return
	}
	writeJSON(w, http.StatusOK, cycleJSON{
		Success:   true,
		CycleID:   report.CycleID,
		Positions: len(report.Outcomes),
		Evaluated: report.Evaluated(),
		Closed:    report.Closed(),
		Failed:    report.Failed(),
		Pending:   report.Pending(),
	})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	var status domain.PositionStatus
	switch q := strings.ToUpper(r.URL.Query().Get("status")); q {
	case "":
	case string(domain.PositionStatusOpen), string(domain.PositionStatusClosed):
		status = domain.PositionStatus(q)
	default:
		writeError(w, http.StatusBadRequest, "status must be open or closed")
		return
	}

	positions, err := s.positions.Positions(r.Context(), status)
	if err != nil {
		s.fail(w, "positions", err)
		return
	}

	out := make([]*positionJSON, len(positions))
	for i, p := range positions {
		out[i] = toPositionJSON(p)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleVerdicts(w http.ResponseWriter, r *http.Request) {
	if s.verdicts == nil {
		writeError(w, http.StatusServiceUnavailable, "verdict history not configured")
		return
	}

	limit := defaultVerdictLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	verdicts, err := s.verdicts.GetByPosition(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		s.fail(w, "verdicts", err)
		return
	}

	out := make([]verdictJSON, len(verdicts))
	for i, v := range verdicts {
		out[i] = toVerdictJSON(v)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleInvestablePools(w http.ResponseWriter, r *http.Request) {
	if s.pools == nil {
		writeError(w, http.StatusServiceUnavailable, "pool discovery disabled")
		return
	}

	snap, err := s.pools.Snapshot(r.Context())
	if err != nil {
		s.fail(w, "investablePools", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status: "running",
		Uptime: time.Since(s.started).Truncate(time.Second).String(),
	}
	if s.stats != nil {
		st := s.stats.Stats()
		resp.Interval = st.Interval.String()
		resp.Cycles = st.Cycles
		resp.CycleActive = st.Running
		resp.LastCycleID = st.LastCycleID
		resp.LastCycleAt = st.LastRun
		resp.LastError = st.LastError
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) decodeAmountRequest(w http.ResponseWriter, r *http.Request, req *amountRequest) bool {
	if err := decodeBody(w, r, req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := validateAddress("poolAddress", req.PoolAddress); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	if req.Amount == 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return false
	}
	return true
}

// fail maps a service error to a status code and logs server-side failures.
func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, position.ErrInvalidAmount),
		errors.Is(err, position.ErrPoolMismatch),
		errors.Is(err, position.ErrNoOpenPosition),
		errors.Is(err, storage.ErrNotOpen),
		errors.Is(err, storage.ErrNotFound):
		status = http.StatusBadRequest
	default:
		s.logger.Printf("%s failed: %v", op, err)
	}
	writeError(w, status, err.Error())
}

func validateAddress(field, address string) error {
	if address == "" {
		return fmt.Errorf("%s is required", field)
	}
	if err := solana.ValidateAddress(address); err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	return nil
}
