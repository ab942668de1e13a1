package domain

// InvestablePool is a DLMM pair that passed the entry checks.
type InvestablePool struct {
	Address   string  `json:"address"`
	SymbolX   string  `json:"symbol_x"`
	SymbolY   string  `json:"symbol_y"`
	MintX     string  `json:"mint_x"`
	MintY     string  `json:"mint_y"`
	Volume24h float64 `json:"volume_24h"`
	TVL       float64 `json:"tvl"`
}

// PoolGroup is a token pair group with its qualifying pools.
type PoolGroup struct {
	Name        string           `json:"name"`
	Pools       []InvestablePool `json:"pools"`
	LastUpdated string           `json:"last_updated"`
}

// InvestableSnapshot is the result of one discovery run.
type InvestableSnapshot struct {
	LastUpdated string      `json:"last_updated"`
	Pairs       []PoolGroup `json:"pairs"`
}

// Addresses returns every pool address in the snapshot.
func (s *InvestableSnapshot) Addresses() []string {
	var out []string
	for _, g := range s.Pairs {
		for _, p := range g.Pools {
			out = append(out, p.Address)
		}
	}
	return out
}

// PoolsByMint returns pools that contain the given token mint on either side.
func (s *InvestableSnapshot) PoolsByMint(mint string) []InvestablePool {
	var out []InvestablePool
	for _, g := range s.Pairs {
		for _, p := range g.Pools {
			if p.MintX == mint || p.MintY == mint {
				out = append(out, p)
			}
		}
	}
	return out
}
