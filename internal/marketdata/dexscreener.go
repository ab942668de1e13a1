package marketdata

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// DefaultDexScreenerBaseURL is the public DexScreener API.
const DefaultDexScreenerBaseURL = "https://api.dexscreener.com"

// DexScreenerClient reads token pairs from DexScreener.
type DexScreenerClient struct {
	base
}

// NewDexScreenerClient creates a client for baseURL limited to ratePerSec requests.
func NewDexScreenerClient(baseURL string, ratePerSec float64, opts ...Option) *DexScreenerClient {
	if baseURL == "" {
		baseURL = DefaultDexScreenerBaseURL
	}
	if ratePerSec <= 0 {
		ratePerSec = 5
	}
	return &DexScreenerClient{base: newBase("dexscreener", strings.TrimRight(baseURL, "/"), ratePerSec, opts)}
}

// DexToken identifies one side of a DexScreener pair.
type DexToken struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
}

// DexPair is the subset of a DexScreener pair the entry checks use.
type DexPair struct {
	ChainID     string             `json:"chainId"`
	DexID       string             `json:"dexId"`
	PairAddress string             `json:"pairAddress"`
	BaseToken   DexToken           `json:"baseToken"`
	QuoteToken  DexToken           `json:"quoteToken"`
	PriceUSD    string             `json:"priceUsd"`
	PriceChange map[string]float64 `json:"priceChange"`
	Volume      map[string]float64 `json:"volume"`
	Liquidity   struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
}

// TokenPairs returns every Solana pair that trades mint.
func (c *DexScreenerClient) TokenPairs(ctx context.Context, mint string) ([]DexPair, error) {
	path := fmt.Sprintf("/tokens/v1/solana/%s", url.PathEscape(mint))

	var pairs []DexPair
	if err := c.getJSON(ctx, path, &pairs); err != nil {
		return nil, err
	}
	return pairs, nil
}

// FindPair returns the first pair on dexID where mint is the base token and
// the quote symbol matches quote (case-insensitive).
func FindPair(pairs []DexPair, mint, dexID, quote string) (DexPair, bool) {
	for _, p := range pairs {
		if p.DexID == dexID && p.BaseToken.Address == mint && strings.EqualFold(p.QuoteToken.Symbol, quote) {
			return p, true
		}
	}
	return DexPair{}, false
}
