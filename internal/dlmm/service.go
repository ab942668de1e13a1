// Package dlmm is the Pool Service: it reads Meteora DLMM pool state from
// chain and executes liquidity operations through an external transaction
// builder, signing and confirming with the service wallet.
package dlmm

import (
	"context"

	"dlmm-risk-manager/internal/domain"
	"dlmm-risk-manager/internal/solana"
)

// FullWithdrawBps removes all liquidity from the given bins.
const FullWithdrawBps = 10000

// Service is the DLMM pool surface the rest of the service depends on.
type Service interface {
	GetActiveBin(ctx context.Context, pool string) (domain.ActiveBin, error)
	GetPoolSnapshot(ctx context.Context, pool string) (domain.PoolSnapshot, error)
	InitializePosition(ctx context.Context, req InitializePositionRequest) (domain.TxResult, error)
	AddLiquidityByStrategy(ctx context.Context, req AddLiquidityRequest) (domain.TxResult, error)
	RemoveLiquidity(ctx context.Context, req RemoveLiquidityRequest) (domain.TxResult, error)
	ClaimFees(ctx context.Context, req ClaimFeesRequest) (domain.TxResult, error)
}

// InitializePositionRequest opens a new position and deposits into it.
// Position is a fresh keypair that co-signs the initialisation.
type InitializePositionRequest struct {
	Pool     string
	Position *solana.Keypair
	TotalX   uint64
	TotalY   uint64
	MinBinID int32
	MaxBinID int32
	Strategy string
}

// AddLiquidityRequest deposits into an existing position.
type AddLiquidityRequest struct {
	Pool     string
	Position string
	TotalX   uint64
	TotalY   uint64
	MinBinID int32
	MaxBinID int32
	Strategy string
}

// RemoveLiquidityRequest withdraws Bps of liquidity from BinIDs.
// ClaimAndClose also claims fees and closes the position account.
type RemoveLiquidityRequest struct {
	Pool          string
	Position      string
	BinIDs        []int32
	Bps           uint16
	ClaimAndClose bool
}

// ClaimFeesRequest claims swap fees of a position.
type ClaimFeesRequest struct {
	Pool     string
	Position string
}
