package dlmm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"dlmm-risk-manager/internal/domain"
	"dlmm-risk-manager/internal/observability"
	"dlmm-risk-manager/internal/solana"
)

// Client implements Service on top of a Chain and a Builder.
type Client struct {
	chain   *solana.Chain
	builder *Builder
	logger  *log.Logger
	now     func() time.Time
}

var _ Service = (*Client)(nil)

// NewClient creates a Pool Service client.
func NewClient(chain *solana.Chain, builder *Builder, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.Default()
	}
	return &Client{chain: chain, builder: builder, logger: logger, now: time.Now}
}

// GetActiveBin returns the pool's active bin and its price per lamport.
func (c *Client) GetActiveBin(ctx context.Context, pool string) (domain.ActiveBin, error) {
	snap, err := c.GetPoolSnapshot(ctx, pool)
	if err != nil {
		return domain.ActiveBin{}, err
	}
	return domain.ActiveBin{BinID: snap.ActiveBinID, PricePerLamport: snap.PricePerLamport}, nil
}

// GetPoolSnapshot reads the LbPair account and both token mints.
func (c *Client) GetPoolSnapshot(ctx context.Context, pool string) (domain.PoolSnapshot, error) {
	info, err := c.chain.RPC.GetAccountInfo(ctx, pool)
	if err != nil {
		return domain.PoolSnapshot{}, fmt.Errorf("dlmm: get pool %s: %v: %w", pool, err, domain.ErrUpstreamUnavailable)
	}
	if info == nil {
		return domain.PoolSnapshot{}, fmt.Errorf("dlmm: pool %s not found: %w", pool, domain.ErrInvalidPositionData)
	}
	if info.Owner != "" && info.Owner != ProgramID {
		return domain.PoolSnapshot{}, fmt.Errorf("dlmm: %s is owned by %s, not the DLMM program: %w", pool, info.Owner, domain.ErrInvalidPositionData)
	}

	data, err := info.DecodeData()
	if err != nil {
		return domain.PoolSnapshot{}, fmt.Errorf("dlmm: %w", err)
	}
	pair, err := DecodeLbPair(data)
	if err != nil {
		return domain.PoolSnapshot{}, fmt.Errorf("dlmm: decode %s: %v: %w", pool, err, domain.ErrInvalidPositionData)
	}

	mints, err := c.chain.RPC.GetMultipleAccounts(ctx, []string{pair.TokenXMint, pair.TokenYMint})
	if err != nil {
		return domain.PoolSnapshot{}, fmt.Errorf("dlmm: get mints of %s: %v: %w", pool, err, domain.ErrUpstreamUnavailable)
	}
	decimals := make([]uint8, 2)
	for i, m := range mints {
		if m == nil {
			return domain.PoolSnapshot{}, fmt.Errorf("dlmm: mint %d of %s missing: %w", i, pool, domain.ErrInvalidPositionData)
		}
		raw, err := m.DecodeData()
		if err != nil {
			return domain.PoolSnapshot{}, fmt.Errorf("dlmm: %w", err)
		}
		if decimals[i], err = DecodeMintDecimals(raw); err != nil {
			return domain.PoolSnapshot{}, fmt.Errorf("dlmm: %v: %w", err, domain.ErrInvalidPositionData)
		}
	}

	return domain.PoolSnapshot{
		PoolAddress:     pool,
		ActiveBinID:     pair.ActiveID,
		BinStep:         pair.BinStep,
		PricePerLamport: PricePerLamport(pair.ActiveID, pair.BinStep),
		TokenXMint:      pair.TokenXMint,
		TokenYMint:      pair.TokenYMint,
		DecimalsX:       decimals[0],
		DecimalsY:       decimals[1],
		FetchedAt:       c.now().UnixMilli(),
	}, nil
}

// InitializePosition creates the position account and deposits into it.
func (c *Client) InitializePosition(ctx context.Context, req InitializePositionRequest) (domain.TxResult, error) {
	if req.Position == nil {
		return domain.TxResult{}, fmt.Errorf("dlmm: initialize position: missing position keypair")
	}
	if req.Strategy == "" {
		req.Strategy = StrategySpotBalanced
	}
	txs, err := c.builder.InitializePosition(ctx, c.chain.Wallet.PublicKey(), req)
	if err != nil {
		return domain.TxResult{}, err
	}
	return c.submit(ctx, "initialize_position", txs, req.Position)
}

// AddLiquidityByStrategy deposits into an existing position.
func (c *Client) AddLiquidityByStrategy(ctx context.Context, req AddLiquidityRequest) (domain.TxResult, error) {
	if req.Strategy == "" {
		req.Strategy = StrategySpotBalanced
	}
	txs, err := c.builder.AddLiquidity(ctx, c.chain.Wallet.PublicKey(), req)
	if err != nil {
		return domain.TxResult{}, err
	}
	return c.submit(ctx, "add_liquidity", txs)
}

// RemoveLiquidity withdraws liquidity. Transactions are submitted in order
// and the call succeeds only when every one of them confirms.
func (c *Client) RemoveLiquidity(ctx context.Context, req RemoveLiquidityRequest) (domain.TxResult, error) {
	if len(req.BinIDs) == 0 {
		return domain.TxResult{}, fmt.Errorf("dlmm: remove liquidity from %s: no bins: %w", req.Position, domain.ErrInvalidPositionData)
	}
	txs, err := c.builder.RemoveLiquidity(ctx, c.chain.Wallet.PublicKey(), req)
	if err != nil {
		return domain.TxResult{}, err
	}
	return c.submit(ctx, "remove_liquidity", txs)
}

// ClaimFees claims accumulated swap fees.
func (c *Client) ClaimFees(ctx context.Context, req ClaimFeesRequest) (domain.TxResult, error) {
	txs, err := c.builder.ClaimFees(ctx, c.chain.Wallet.PublicKey(), req)
	if err != nil {
		return domain.TxResult{}, err
	}
	return c.submit(ctx, "claim_fees", txs)
}

func (c *Client) submit(ctx context.Context, op string, txs []string, extra ...*solana.Keypair) (domain.TxResult, error) {
	var res domain.TxResult
	for i, tx := range txs {
		sig, err := c.chain.SignAndSend(ctx, tx, extra...)
		observability.RecordTransaction(op, err)
		if sig != "" {
			res.Signatures = append(res.Signatures, sig)
		}
		if err != nil {
			c.logger.Printf("%s: transaction %d/%d failed: %v", op, i+1, len(txs), err)
			return res, classify(op, err)
		}
	}
	return res, nil
}

// classify maps chain errors onto the domain error kinds. A node rejection,
// a failed execution or a submission the chain never confirmed is a
// SubmissionFailed. The caller's own cancellation or deadline is passed
// through unchanged; anything that never reached the node is
// UpstreamUnavailable.
func classify(op string, err error) error {
	switch {
	case solana.IsRPCError(err),
		errors.Is(err, solana.ErrTransactionFailed),
		errors.Is(err, solana.ErrNotConfirmed):
		return fmt.Errorf("dlmm: %s: %v: %w", op, err, domain.ErrSubmissionFailed)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("dlmm: %s: %w", op, err)
	default:
		return fmt.Errorf("dlmm: %s: %v: %w", op, err, domain.ErrUpstreamUnavailable)
	}
}
