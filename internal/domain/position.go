package domain

// PositionStatus is the lifecycle state of a liquidity position.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "OPEN"
	PositionStatusClosed PositionStatus = "CLOSED"
)

// BinAllocation is the liquidity deposited into one bin when the position was opened.
// Amounts are token base units.
type BinAllocation struct {
	BinID   int32
	XAmount uint64
	YAmount uint64
}

// Position represents a DLMM liquidity position tracked by the ledger.
// Corresponds to positions + position_bins tables in PostgreSQL.
type Position struct {
	ID          string // position account pubkey (base58)
	PoolAddress string // lb pair pubkey (base58)
	Owner       string // wallet pubkey (base58)
	Amount      uint64 // total token X deposited (base units)

	// Bins captured at open time. Never rewritten: the entry price is derived from them.
	Bins []BinAllocation

	Status         PositionStatus
	CreatedAt      int64  // Unix timestamp in milliseconds
	ClosedAt       *int64 // Unix timestamp in milliseconds (nullable)
	CloseSignature string // signature of the confirmed close transaction
}

// BinIDs returns the bin ids covered by the position in allocation order.
func (p *Position) BinIDs() []int32 {
	ids := make([]int32, len(p.Bins))
	for i, b := range p.Bins {
		ids[i] = b.BinID
	}
	return ids
}

// IsOpen reports whether the position is still OPEN.
func (p *Position) IsOpen() bool {
	return p.Status == PositionStatusOpen
}
