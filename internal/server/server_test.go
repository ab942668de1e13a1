package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dlmm-risk-manager/internal/controller"
	"dlmm-risk-manager/internal/domain"
	"dlmm-risk-manager/internal/position"
	"dlmm-risk-manager/internal/scheduler"
	"dlmm-risk-manager/internal/solana"
	"dlmm-risk-manager/internal/storage/memory"
)

type fakePositions struct {
	created   []string
	amounts   []uint64
	err       error
	positions []*domain.Position
	status    domain.PositionStatus
}

func (f *fakePositions) CreatePosition(_ context.Context, pool string, amount uint64) (*domain.Position, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created = append(f.created, pool)
	f.amounts = append(f.amounts, amount)
	return &domain.Position{
		ID:          "pos-1",
		PoolAddress: pool,
		Owner:       "wallet",
		Amount:      amount,
		Bins:        []domain.BinAllocation{{BinID: 5, XAmount: 10, YAmount: 15}},
		Status:      domain.PositionStatusOpen,
		CreatedAt:   1000,
	}, nil
}

func (f *fakePositions) AddLiquidity(_ context.Context, pool string, amount uint64) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.amounts = append(f.amounts, amount)
	return "add-sig", nil
}

func (f *fakePositions) SellPosition(context.Context, string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []string{"close-1", "close-2"}, nil
}

func (f *fakePositions) ClaimFees(context.Context, string, string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "claim-sig", nil
}

func (f *fakePositions) Positions(_ context.Context, status domain.PositionStatus) ([]*domain.Position, error) {
	f.status = status
	return f.positions, f.err
}

type fakeTrigger struct {
	report *controller.CycleReport
	err    error
}

func (f *fakeTrigger) Trigger(context.Context) (*controller.CycleReport, error) {
	return f.report, f.err
}

type fakeSnapshotter struct {
	snap *domain.InvestableSnapshot
	err  error
}

func (f *fakeSnapshotter) Snapshot(context.Context) (*domain.InvestableSnapshot, error) {
	return f.snap, f.err
}

type fakeStats struct{ stats scheduler.Stats }

func (f fakeStats) Stats() scheduler.Stats { return f.stats }

func newAddress(t *testing.T) string {
	t.Helper()
	kp, err := solana.NewKeypair()
	require.NoError(t, err)
	return kp.PublicKey()
}

func newTestServer(opts Options) http.Handler {
	opts.Logger = log.New(io.Discard, "", 0)
	opts.Metrics = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# metrics"))
	})
	return New(opts).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") && strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestCreatePosition(t *testing.T) {
	positions := &fakePositions{}
	h := newTestServer(Options{Positions: positions})
	pool := newAddress(t)

	rec, body := do(t, h, http.MethodPost, "/createPosition", fmt.Sprintf(`{"poolAddress":%q,"amount":1000}`, pool))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, []string{pool}, positions.created)
	assert.Equal(t, []uint64{1000}, positions.amounts)

	pos := body["position"].(map[string]any)
	assert.Equal(t, "pos-1", pos["id"])
	assert.Equal(t, "OPEN", pos["status"])
	assert.Len(t, pos["bins"], 1)
}

func TestCreatePosition_Validation(t *testing.T) {
	h := newTestServer(Options{Positions: &fakePositions{}})
	pool := newAddress(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"poolAddress":`},
		{"missing pool", `{"amount":5}`},
		{"bad base58", `{"poolAddress":"0OIl","amount":5}`},
		{"short key", `{"poolAddress":"abc","amount":5}`},
		{"zero amount", fmt.Sprintf(`{"poolAddress":%q,"amount":0}`, pool)},
		{"negative amount", fmt.Sprintf(`{"poolAddress":%q,"amount":-1}`, pool)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := do(t, h, http.MethodPost, "/createPosition", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestCreatePosition_UpstreamFailure(t *testing.T) {
	h := newTestServer(Options{Positions: &fakePositions{err: fmt.Errorf("initialize: %w", domain.ErrSubmissionFailed)}})

	rec, body := do(t, h, http.MethodPost, "/createPosition", fmt.Sprintf(`{"poolAddress":%q,"amount":1}`, newAddress(t)))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, body["error"], "submission failed")
}

func TestAddLiquidity(t *testing.T) {
	h := newTestServer(Options{Positions: &fakePositions{}})

	rec, body := do(t, h, http.MethodPost, "/addLiquidity", fmt.Sprintf(`{"poolAddress":%q,"amount":7}`, newAddress(t)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "add-sig", body["signature"])
}

func TestAddLiquidity_NoOpenPosition(t *testing.T) {
	h := newTestServer(Options{Positions: &fakePositions{err: position.ErrNoOpenPosition}})

	rec, _ := do(t, h, http.MethodPost, "/addLiquidity", fmt.Sprintf(`{"poolAddress":%q,"amount":7}`, newAddress(t)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSellPosition(t *testing.T) {
	h := newTestServer(Options{Positions: &fakePositions{}})

	rec, body := do(t, h, http.MethodPost, "/sellPosition", fmt.Sprintf(`{"poolAddress":%q}`, newAddress(t)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Len(t, body["signatures"], 2)
}

func TestSellPosition_ExitFailure(t *testing.T) {
	err := errors.Join(fmt.Errorf("position a: %w", domain.ErrSubmissionFailed))
	h := newTestServer(Options{Positions: &fakePositions{err: err}})

	rec, body := do(t, h, http.MethodPost, "/sellPosition", fmt.Sprintf(`{"poolAddress":%q}`, newAddress(t)))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotEmpty(t, body["error"])
}

func TestClaimFees(t *testing.T) {
	h := newTestServer(Options{Positions: &fakePositions{}})

	body := fmt.Sprintf(`{"poolAddress":%q,"positionPubKey":%q}`, newAddress(t), newAddress(t))
	rec, out := do(t, h, http.MethodPost, "/claimFees", body)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "claim-sig", out["signature"])

	rec, _ = do(t, h, http.MethodPost, "/claimFees", fmt.Sprintf(`{"poolAddress":%q}`, newAddress(t)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdate(t *testing.T) {
	report := &controller.CycleReport{
		CycleID: "cycle-1",
		Outcomes: []controller.Outcome{
			{PositionID: "a", Verdict: &domain.RiskVerdict{Action: domain.ActionContinue}},
			{PositionID: "b", Verdict: &domain.RiskVerdict{Action: domain.ActionExit, ExitState: domain.ExitStateClosed}},
			{PositionID: "c", Err: domain.ErrUpstreamUnavailable},
			{PositionID: "d", Err: context.DeadlineExceeded, Pending: true},
		},
	}
	h := newTestServer(Options{Cycles: &fakeTrigger{report: report}})

	rec, body := do(t, h, http.MethodPost, "/update", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "cycle-1", body["cycleId"])
	assert.EqualValues(t, 4, body["positions"])
	assert.EqualValues(t, 2, body["evaluated"])
	assert.EqualValues(t, 1, body["closed"])
	assert.EqualValues(t, 1, body["failed"])
	assert.EqualValues(t, 1, body["pending"])
}

func TestUpdate_CycleFailure(t *testing.T) {
	h := newTestServer(Options{Cycles: &fakeTrigger{err: errors.New("list open positions: connection refused")}})

	rec, body := do(t, h, http.MethodPost, "/update", "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, body["error"], "connection refused")
}

func TestPositions(t *testing.T) {
	closedAt := int64(2000)
	positions := &fakePositions{positions: []*domain.Position{
		{ID: "a", PoolAddress: "pool", Status: domain.PositionStatusOpen},
		{ID: "b", PoolAddress: "pool", Status: domain.PositionStatusClosed, ClosedAt: &closedAt, CloseSignature: "sig"},
	}}
	h := newTestServer(Options{Positions: positions})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/positions?status=closed", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.PositionStatusClosed, positions.status)

	var out []positionJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Equal(t, "b", out[1].ID)
	require.NotNil(t, out[1].ClosedAt)
	assert.Equal(t, closedAt, *out[1].ClosedAt)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/positions", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.PositionStatus(""), positions.status)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/positions?status=pending", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPositions_EmptyIsArray(t *testing.T) {
	h := newTestServer(Options{Positions: &fakePositions{}})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/positions", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestVerdicts(t *testing.T) {
	store := memory.NewVerdictStore()
	vol := 12.5
	require.NoError(t, store.InsertBulk(context.Background(), []*domain.RiskVerdict{
		{CycleID: "c1", PositionID: "pos", Action: domain.ActionContinue, EvaluatedAt: 1},
		{CycleID: "c2", PositionID: "pos", Action: domain.ActionExit, TriggeredBy: []domain.ReasonCode{domain.ReasonStopLoss}, VolumeChangePct: &vol, ExitState: domain.ExitStateClosed, EvaluatedAt: 2},
		{CycleID: "c2", PositionID: "other", Action: domain.ActionContinue, EvaluatedAt: 2},
	}))
	h := newTestServer(Options{Verdicts: store})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/positions/pos/verdicts?limit=1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var out []verdictJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "c2", out[0].CycleID)
	assert.Equal(t, []string{"stop_loss"}, out[0].TriggeredBy)
	assert.Equal(t, "closed", out[0].ExitState)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/positions/pos/verdicts?limit=x", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInvestablePools(t *testing.T) {
	snap := &domain.InvestableSnapshot{
		LastUpdated: "2026-01-01T00:00:00Z",
		Pairs: []domain.PoolGroup{{
			Name:  "SOL-USDC",
			Pools: []domain.InvestablePool{{Address: "pool-a", SymbolX: "SOL", SymbolY: "USDC", Volume24h: 2e6}},
		}},
	}
	h := newTestServer(Options{Pools: &fakeSnapshotter{snap: snap}})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/investablePools", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var out domain.InvestableSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, []string{"pool-a"}, out.Addresses())
}

func TestInvestablePools_Errors(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(Options{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/investablePools", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	h := newTestServer(Options{Pools: &fakeSnapshotter{err: domain.ErrUpstreamUnavailable}})
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/investablePools", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestOperationalEndpoints(t *testing.T) {
	stats := scheduler.Stats{Interval: 5 * time.Minute, Cycles: 3, LastCycleID: "cycle-3", LastRun: time.Now()}
	h := newTestServer(Options{Stats: fakeStats{stats: stats}})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, "# metrics", rec.Body.String())

	rec, body := do(t, h, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "running", body["status"])
	assert.EqualValues(t, 3, body["cycles"])
	assert.Equal(t, "cycle-3", body["last_cycle_id"])
	assert.Equal(t, "5m0s", body["check_interval"])
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestServer(Options{Positions: &fakePositions{}})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/createPosition", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
