package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"dlmm-risk-manager/internal/domain"
)

// DefaultMeteoraBaseURL is the public DLMM analytics API.
const DefaultMeteoraBaseURL = "https://dlmm-api.meteora.ag"

// MeteoraClient reads DLMM pair analytics. The upstream allows one request
// per second, which is the default limiter rate.
type MeteoraClient struct {
	base
}

// NewMeteoraClient creates a client for baseURL.
func NewMeteoraClient(baseURL string, opts ...Option) *MeteoraClient {
	if baseURL == "" {
		baseURL = DefaultMeteoraBaseURL
	}
	return &MeteoraClient{base: newBase("meteora", strings.TrimRight(baseURL, "/"), 1, opts)}
}

// DailyVolume is one day of pair trade volume.
type DailyVolume struct {
	TradeVolume float64 `json:"trade_volume"`
	Day         string  `json:"day_str"`
}

// PairTradeVolume returns daily trade volumes for pair over the last days,
// oldest first. Fewer than two points wraps domain.ErrInsufficientData.
func (c *MeteoraClient) PairTradeVolume(ctx context.Context, pair string, days int) ([]float64, error) {
	path := fmt.Sprintf("/pair/%s/analytic/pair_trade_volume?num_of_days=%d", url.PathEscape(pair), days)

	var rows []DailyVolume
	if err := c.getJSON(ctx, path, &rows); err != nil {
		return nil, err
	}

	// day_str is YYYY-MM-DD; lexical order is chronological.
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Day < rows[j].Day })

	series := make([]float64, len(rows))
	for i, r := range rows {
		series[i] = r.TradeVolume
	}
	if len(series) < 2 {
		return series, fmt.Errorf("meteora: %d volume points for %s: %w", len(series), pair, domain.ErrInsufficientData)
	}
	return series, nil
}

// Pair is one DLMM pair as listed by the grouped pairs endpoint.
type Pair struct {
	Address        string    `json:"address"`
	Name           string    `json:"name"`
	MintX          string    `json:"mint_x"`
	MintY          string    `json:"mint_y"`
	BinStep        int       `json:"bin_step"`
	TradeVolume24h flexFloat `json:"trade_volume_24h"`
	Liquidity      flexFloat `json:"liquidity"`
}

// PairGroup groups the pairs of one token pair across bin steps.
type PairGroup struct {
	Name  string `json:"name"`
	Pairs []Pair `json:"pairs"`
}

// PairsByGroups returns one page of grouped pairs.
func (c *MeteoraClient) PairsByGroups(ctx context.Context, page, limit int) ([]PairGroup, error) {
	path := fmt.Sprintf("/pair/all_by_groups?page=%d&limit=%d", page, limit)

	var resp struct {
		Groups []PairGroup `json:"groups"`
	}
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Groups, nil
}

// flexFloat accepts a JSON number or a numeric string; the API uses both.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = 0
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("flexFloat: %s is neither number nor string", b)
	}
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("flexFloat: %w", err)
	}
	*f = flexFloat(n)
	return nil
}

// Float returns the value as float64.
func (f flexFloat) Float() float64 { return float64(f) }
