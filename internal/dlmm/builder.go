package dlmm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"dlmm-risk-manager/internal/domain"
)

// Builder calls the DLMM transaction-builder API, which assembles unsigned
// base64 transactions for the liquidity instructions.
type Builder struct {
	baseURL string
	http    *http.Client
}

// NewBuilder creates a builder client for baseURL.
func NewBuilder(baseURL string, client *http.Client) *Builder {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Builder{baseURL: strings.TrimRight(baseURL, "/"), http: client}
}

type initializeBody struct {
	Pool         string `json:"pool"`
	User         string `json:"user"`
	Position     string `json:"position"`
	TotalXAmount string `json:"totalXAmount"`
	TotalYAmount string `json:"totalYAmount"`
	MinBinID     int32  `json:"minBinId"`
	MaxBinID     int32  `json:"maxBinId"`
	Strategy     string `json:"strategy"`
}

type removeBody struct {
	Pool                string  `json:"pool"`
	User                string  `json:"user"`
	Position            string  `json:"position"`
	BinIDs              []int32 `json:"binIds"`
	Bps                 uint16  `json:"bps"`
	ShouldClaimAndClose bool    `json:"shouldClaimAndClose"`
}

type claimBody struct {
	Pool     string `json:"pool"`
	User     string `json:"user"`
	Position string `json:"position"`
}

// builderResponse carries either a single transaction or several; large
// withdrawals are split across transactions by the builder.
type builderResponse struct {
	Transaction  string   `json:"transaction"`
	Transactions []string `json:"transactions"`
	Error        string   `json:"error"`
}

func (r builderResponse) all() []string {
	if len(r.Transactions) > 0 {
		return r.Transactions
	}
	if r.Transaction != "" {
		return []string{r.Transaction}
	}
	return nil
}

// InitializePosition builds the position-initialisation transaction.
func (b *Builder) InitializePosition(ctx context.Context, user string, req InitializePositionRequest) ([]string, error) {
	return b.post(ctx, "/v1/positions/initialize", initializeBody{
		Pool:         req.Pool,
		User:         user,
		Position:     req.Position.PublicKey(),
		TotalXAmount: fmt.Sprintf("%d", req.TotalX),
		TotalYAmount: fmt.Sprintf("%d", req.TotalY),
		MinBinID:     req.MinBinID,
		MaxBinID:     req.MaxBinID,
		Strategy:     req.Strategy,
	})
}

// AddLiquidity builds the add-liquidity transaction.
func (b *Builder) AddLiquidity(ctx context.Context, user string, req AddLiquidityRequest) ([]string, error) {
	return b.post(ctx, "/v1/positions/add-liquidity", initializeBody{
		Pool:         req.Pool,
		User:         user,
		Position:     req.Position,
		TotalXAmount: fmt.Sprintf("%d", req.TotalX),
		TotalYAmount: fmt.Sprintf("%d", req.TotalY),
		MinBinID:     req.MinBinID,
		MaxBinID:     req.MaxBinID,
		Strategy:     req.Strategy,
	})
}

// RemoveLiquidity builds the withdrawal transactions.
func (b *Builder) RemoveLiquidity(ctx context.Context, user string, req RemoveLiquidityRequest) ([]string, error) {
	return b.post(ctx, "/v1/positions/remove-liquidity", removeBody{
		Pool:                req.Pool,
		User:                user,
		Position:            req.Position,
		BinIDs:              req.BinIDs,
		Bps:                 req.Bps,
		ShouldClaimAndClose: req.ClaimAndClose,
	})
}

// ClaimFees builds the fee-claim transactions.
func (b *Builder) ClaimFees(ctx context.Context, user string, req ClaimFeesRequest) ([]string, error) {
	return b.post(ctx, "/v1/positions/claim-fees", claimBody{
		Pool:     req.Pool,
		User:     user,
		Position: req.Position,
	})
}

func (b *Builder) post(ctx context.Context, path string, body interface{}) ([]string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("builder: marshal %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("builder: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("builder: POST %s: %v: %w", path, err, domain.ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("builder: read response: %v: %w", err, domain.ErrUpstreamUnavailable)
	}

	var out builderResponse
	_ = json.Unmarshal(raw, &out)

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("builder: POST %s: status %d %s: %w", path, resp.StatusCode, out.Error, domain.ErrUpstreamUnavailable)
	case resp.StatusCode >= 400:
		// The builder refused the instruction (bad position, empty bins).
		return nil, fmt.Errorf("builder: POST %s: status %d %s: %w", path, resp.StatusCode, out.Error, domain.ErrSubmissionFailed)
	}

	txs := out.all()
	if len(txs) == 0 {
		return nil, fmt.Errorf("builder: POST %s: no transactions in response: %w", path, domain.ErrUpstreamUnavailable)
	}
	return txs, nil
}
