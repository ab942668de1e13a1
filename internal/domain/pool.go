package domain

// ActiveBin is the bin currently matching the pool's market price.
type ActiveBin struct {
	BinID           int32
	PricePerLamport float64 // price of one base unit of X in base units of Y
}

// PoolSnapshot is the pool state fetched for one evaluation.
// Snapshots are never cached across cycles.
type PoolSnapshot struct {
	PoolAddress     string
	ActiveBinID     int32
	BinStep         uint16
	PricePerLamport float64
	TokenXMint      string
	TokenYMint      string
	DecimalsX       uint8
	DecimalsY       uint8
	FetchedAt       int64 // Unix timestamp in milliseconds
}

// TxResult is the outcome of a confirmed Pool Service operation.
type TxResult struct {
	Signatures []string
}

// LastSignature returns the signature of the final transaction, or "".
func (r TxResult) LastSignature() string {
	if len(r.Signatures) == 0 {
		return ""
	}
	return r.Signatures[len(r.Signatures)-1]
}
