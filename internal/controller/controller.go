// Package controller runs risk cycles: it evaluates every OPEN position and
// withdraws the liquidity of those whose verdict is EXIT.
//
// Per position the state machine is OPEN → evaluating → OPEN, or
// OPEN → evaluating → EXITING → CLOSED. A position is marked CLOSED in the
// ledger only after its removal transaction confirms. A failed removal leaves
// it OPEN for the next cycle; there is no immediate retry.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"dlmm-risk-manager/internal/dlmm"
	"dlmm-risk-manager/internal/domain"
	"dlmm-risk-manager/internal/lock"
	"dlmm-risk-manager/internal/observability"
	"dlmm-risk-manager/internal/risk"
	"dlmm-risk-manager/internal/storage"
)

// Defaults.
const (
	DefaultWorkers      = 4
	DefaultCycleTimeout = 2 * time.Minute
	DefaultLockTTL      = 5 * time.Minute

	// ledgerTimeout bounds ledger writes that must outlive the cycle deadline.
	ledgerTimeout = 10 * time.Second
)

// MetricsCollector produces evaluator inputs for one position.
type MetricsCollector interface {
	Collect(ctx context.Context, p *domain.Position) (domain.PositionMetrics, domain.PoolSnapshot, error)
}

// LiquidityRemover is the write side of the Pool Service used for exits.
type LiquidityRemover interface {
	RemoveLiquidity(ctx context.Context, req dlmm.RemoveLiquidityRequest) (domain.TxResult, error)
}

// Controller evaluates positions and executes exits.
type Controller struct {
	positions  storage.PositionStore
	verdicts   storage.VerdictStore
	collector  MetricsCollector
	pools      LiquidityRemover
	locks      lock.Locker
	thresholds domain.RiskThresholds

	workers      int
	cycleTimeout time.Duration
	lockTTL      time.Duration
	logger       *log.Logger

	now   func() time.Time
	newID func() string
}

// Options contains configuration for creating a Controller.
type Options struct {
	Positions  storage.PositionStore
	Verdicts   storage.VerdictStore // optional verdict history
	Collector  MetricsCollector
	Pools      LiquidityRemover
	Locks      lock.Locker // Default: in-process lock.Memory
	Thresholds domain.RiskThresholds

	Workers      int           // Default: 4
	CycleTimeout time.Duration // Default: 2m
	LockTTL      time.Duration // Default: 5m
	Logger       *log.Logger
}

// New creates a Controller.
func New(opts Options) *Controller {
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	cycleTimeout := opts.CycleTimeout
	if cycleTimeout <= 0 {
		cycleTimeout = DefaultCycleTimeout
	}

	lockTTL := opts.LockTTL
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}

	locks := opts.Locks
	if locks == nil {
		locks = lock.NewMemory()
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Controller{
		positions:    opts.Positions,
		verdicts:     opts.Verdicts,
		collector:    opts.Collector,
		pools:        opts.Pools,
		locks:        locks,
		thresholds:   opts.Thresholds,
		workers:      workers,
		cycleTimeout: cycleTimeout,
		lockTTL:      lockTTL,
		logger:       logger,
		now:          time.Now,
		newID:        uuid.NewString,
	}
}

// Outcome is what one cycle did with one position.
type Outcome struct {
	PositionID  string
	PoolAddress string

	// Verdict is nil when the position could not be evaluated.
	Verdict *domain.RiskVerdict

	// Err holds the evaluation or exit failure, if any.
	Err error

	// Pending is set when the cycle deadline was reached first.
	Pending bool
}

// CycleReport summarises one risk cycle.
type CycleReport struct {
	CycleID    string
	StartedAt  time.Time
	FinishedAt time.Time
	Outcomes   []Outcome
}

// Count returns the number of outcomes matching keep.
func (r *CycleReport) Count(keep func(Outcome) bool) int {
	n := 0
	for _, o := range r.Outcomes {
		if keep(o) {
			n++
		}
	}
	return n
}

// Evaluated is the number of positions that received a verdict.
func (r *CycleReport) Evaluated() int {
	return r.Count(func(o Outcome) bool { return o.Verdict != nil })
}

// Closed is the number of positions closed by this cycle.
func (r *CycleReport) Closed() int {
	return r.Count(func(o Outcome) bool { return o.Verdict != nil && o.Verdict.ExitState == domain.ExitStateClosed })
}

// Failed is the number of positions with an error, pending ones excluded.
func (r *CycleReport) Failed() int {
	return r.Count(func(o Outcome) bool { return o.Err != nil && !o.Pending })
}

// Pending is the number of positions left for the next cycle by the deadline.
func (r *CycleReport) Pending() int {
	return r.Count(func(o Outcome) bool { return o.Pending })
}

// RunCycle evaluates every OPEN position on a bounded worker pool.
//
// Per-position failures are captured in the report and never abort the
// cycle. Only a failure to list positions returns an error.
func (c *Controller) RunCycle(ctx context.Context) (*CycleReport, error) {
	report := &CycleReport{
		CycleID:   c.newID(),
		StartedAt: c.now(),
	}

	cctx, cancel := context.WithTimeout(ctx, c.cycleTimeout)
	defer cancel()

	positions, err := c.positions.ListOpenPositions(cctx)
	if err != nil {
		report.FinishedAt = c.now()
		observability.RecordCycle("failed", report.FinishedAt.Sub(report.StartedAt).Seconds(), report.FinishedAt.Unix())
		return report, fmt.Errorf("list open positions: %w", err)
	}

	report.Outcomes = make([]Outcome, len(positions))

	var g errgroup.Group
	g.SetLimit(c.workers)
	for i, p := range positions {
		g.Go(func() error {
			report.Outcomes[i] = c.evaluate(cctx, report.CycleID, p)
			return nil
		})
	}
	_ = g.Wait()

	report.FinishedAt = c.now()
	c.persistVerdicts(ctx, report)
	c.finishCycle(ctx, report)

	return report, nil
}

func (c *Controller) evaluate(ctx context.Context, cycleID string, p *domain.Position) Outcome {
	out := Outcome{PositionID: p.ID, PoolAddress: p.PoolAddress}

	if err := ctx.Err(); err != nil {
		out.Err, out.Pending = err, true
		return out
	}

	m, _, err := c.collector.Collect(ctx, p)
	if err != nil {
		out.Err = err
		switch {
		case ctx.Err() != nil:
			out.Pending = true
		case errors.Is(err, domain.ErrInvalidPositionData):
			c.logger.Printf("[%s] position %s skipped: %v", short(cycleID), p.ID, err)
		default:
			c.logger.Printf("[%s] position %s not evaluated, retrying next cycle: %v", short(cycleID), p.ID, err)
		}
		return out
	}

	v := risk.Evaluate(p, m, c.thresholds)
	v.CycleID = cycleID
	v.EvaluatedAt = c.now().UnixMilli()
	observability.RecordVerdict(p.ID, string(v.Action), v.HealthScore)

	if v.HealthScore < c.thresholds.HealthScoreMin {
		c.logger.Printf("[%s] position %s unhealthy: score=%.1f il=%.4f drawdown=%.4f",
			short(cycleID), p.ID, v.HealthScore, v.ImpermanentLoss, v.PriceDrawdown)
	}

	if v.Action == domain.ActionExit {
		c.logger.Printf("[%s] position %s EXIT triggered by %v", short(cycleID), p.ID, v.TriggeredBy)
		state, _, err := c.exit(ctx, p, v.TriggeredBy)
		v.ExitState = state
		if err != nil {
			v.Err = err.Error()
			out.Err = err
			out.Pending = state == domain.ExitStatePending
		}
	}

	out.Verdict = &v
	return out
}

// ExitPosition withdraws all liquidity of an OPEN position through the same
// locked path the risk cycle uses. It returns the close signature.
//
// ErrExitInFlight is returned when another exit for the position holds the lock.
func (c *Controller) ExitPosition(ctx context.Context, p *domain.Position, reason domain.ReasonCode) (string, error) {
	v := domain.RiskVerdict{
		CycleID:     "manual-" + c.newID(),
		PositionID:  p.ID,
		PoolAddress: p.PoolAddress,
		Action:      domain.ActionExit,
		TriggeredBy: []domain.ReasonCode{reason},
		EvaluatedAt: c.now().UnixMilli(),
	}

	state, sig, err := c.exit(ctx, p, v.TriggeredBy)
	v.ExitState = state
	if err != nil {
		v.Err = err.Error()
	}
	c.persist(ctx, []*domain.RiskVerdict{&v})

	if err != nil {
		return "", err
	}
	if state == domain.ExitStateClosed {
		observability.ForgetPosition(p.ID)
	}
	return sig, nil
}

func (c *Controller) exit(ctx context.Context, p *domain.Position, reasons []domain.ReasonCode) (state domain.ExitState, sig string, err error) {
	trigger := "unknown"
	if len(reasons) > 0 {
		trigger = string(reasons[0])
	}
	defer func() {
		observability.RecordExit(trigger, string(state))
	}()

	unlock, err := c.locks.Acquire(ctx, lockKey(p.ID), c.lockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return domain.ExitStateLocked, "", fmt.Errorf("position %s: %w", p.ID, domain.ErrExitInFlight)
		}
		return domain.ExitStateFailed, "", fmt.Errorf("acquire exit lock %s: %w", p.ID, err)
	}
	defer unlock()

	// The list this exit came from may predate another holder's close.
	current, err := c.positions.GetByID(ctx, p.ID)
	if err != nil {
		if ctx.Err() != nil {
			return domain.ExitStatePending, "", err
		}
		return domain.ExitStateFailed, "", fmt.Errorf("reload position %s: %w", p.ID, err)
	}
	if !current.IsOpen() {
		return domain.ExitStateClosed, current.CloseSignature, nil
	}

	res, err := c.pools.RemoveLiquidity(ctx, dlmm.RemoveLiquidityRequest{
		Pool:          current.PoolAddress,
		Position:      current.ID,
		BinIDs:        current.BinIDs(),
		Bps:           dlmm.FullWithdrawBps,
		ClaimAndClose: true,
	})
	if err != nil {
		// A deadline that hit while the removal was in flight is not a rejection.
		if ctx.Err() != nil && !errors.Is(err, domain.ErrSubmissionFailed) {
			c.logger.Printf("exit of position %s still pending at cycle deadline, retrying next cycle: %v", p.ID, err)
			return domain.ExitStatePending, "", fmt.Errorf("remove liquidity %s: %w", p.ID, err)
		}
		c.logger.Printf("OPERATOR: exit of position %s in pool %s failed, stays OPEN: %v", p.ID, p.PoolAddress, err)
		if !errors.Is(err, domain.ErrSubmissionFailed) {
			err = fmt.Errorf("%v: %w", err, domain.ErrSubmissionFailed)
		}
		return domain.ExitStateFailed, "", fmt.Errorf("remove liquidity %s: %w", p.ID, err)
	}

	sig = res.LastSignature()

	// Removal is confirmed on chain: the ledger write must not be lost to the cycle deadline.
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerTimeout)
	defer cancel()
	if err := c.positions.MarkClosed(lctx, current.ID, sig, c.now().UnixMilli()); err != nil && !errors.Is(err, storage.ErrNotOpen) {
		c.logger.Printf("OPERATOR: position %s removed on chain (sig %s) but ledger update failed: %v", p.ID, sig, err)
		return domain.ExitStateFailed, sig, fmt.Errorf("mark closed %s: %w", p.ID, err)
	}

	c.logger.Printf("position %s closed, signature %s", p.ID, sig)
	return domain.ExitStateClosed, sig, nil
}

func (c *Controller) persistVerdicts(ctx context.Context, report *CycleReport) {
	var verdicts []*domain.RiskVerdict
	for _, o := range report.Outcomes {
		if o.Verdict != nil {
			verdicts = append(verdicts, o.Verdict)
		}
	}
	c.persist(ctx, verdicts)
}

func (c *Controller) persist(ctx context.Context, verdicts []*domain.RiskVerdict) {
	if c.verdicts == nil || len(verdicts) == 0 {
		return
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerTimeout)
	defer cancel()
	if err := c.verdicts.InsertBulk(wctx, verdicts); err != nil {
		c.logger.Printf("store %d verdicts: %v", len(verdicts), err)
	}
}

func (c *Controller) finishCycle(ctx context.Context, report *CycleReport) {
	for _, o := range report.Outcomes {
		if o.Verdict != nil && o.Verdict.ExitState == domain.ExitStateClosed {
			observability.ForgetPosition(o.PositionID)
		}
	}

	status := "ok"
	if report.Pending() > 0 {
		status = "timeout"
	}
	observability.RecordCycle(status, report.FinishedAt.Sub(report.StartedAt).Seconds(), report.FinishedAt.Unix())

	qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerTimeout)
	defer cancel()
	if open, err := c.positions.ListOpenPositions(qctx); err == nil {
		observability.SetOpenPositions(len(open))
	}

	c.logger.Printf("[%s] cycle done in %s: evaluated=%d closed=%d failed=%d pending=%d",
		short(report.CycleID), report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond),
		report.Evaluated(), report.Closed(), report.Failed(), report.Pending())
}

func lockKey(positionID string) string {
	return "position:" + positionID
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
