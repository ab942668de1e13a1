package stub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"dlmm-risk-manager/internal/solana"
)

// ErrNotFound is returned when a signature is unknown to the stub.
var ErrNotFound = errors.New("not found")

// RPCClient implements solana.RPCClient for testing.
// Sent transactions are confirmed immediately unless SendErr, FailTx or
// Unconfirmed is set.
type RPCClient struct {
	mu sync.Mutex

	Accounts map[string]*solana.AccountInfo
	Statuses map[string]*solana.SignatureStatus
	Sent     []string

	SendErr   error
	FailTx    interface{}
	HealthErr error

	// Unconfirmed leaves sent transactions without a status, as if they
	// were never picked up by a leader.
	Unconfirmed bool
}

var _ solana.RPCClient = (*RPCClient)(nil)

// NewRPCClient creates a new stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		Accounts: make(map[string]*solana.AccountInfo),
		Statuses: make(map[string]*solana.SignatureStatus),
	}
}

// SetAccount stores account data under pubkey.
func (c *RPCClient) SetAccount(pubkey string, info *solana.AccountInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Accounts[pubkey] = info
}

// GetAccountInfo returns the stored account or nil.
func (c *RPCClient) GetAccountInfo(_ context.Context, pubkey string) (*solana.AccountInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Accounts[pubkey], nil
}

// GetMultipleAccounts returns stored accounts in request order.
func (c *RPCClient) GetMultipleAccounts(ctx context.Context, pubkeys []string) ([]*solana.AccountInfo, error) {
	out := make([]*solana.AccountInfo, len(pubkeys))
	for i, k := range pubkeys {
		out[i], _ = c.GetAccountInfo(ctx, k)
	}
	return out, nil
}

// SendTransaction records the transaction and returns a deterministic signature.
func (c *RPCClient) SendTransaction(_ context.Context, txBase64 string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return "", c.SendErr
	}
	c.Sent = append(c.Sent, txBase64)
	sig := fmt.Sprintf("stubsig%d", len(c.Sent))
	if c.Unconfirmed {
		return sig, nil
	}
	c.Statuses[sig] = &solana.SignatureStatus{
		Slot:               int64(len(c.Sent)),
		Err:                c.FailTx,
		ConfirmationStatus: solana.CommitmentConfirmed,
	}
	return sig, nil
}

// GetSignatureStatuses returns stored statuses, nil for unknown signatures.
func (c *RPCClient) GetSignatureStatuses(_ context.Context, sigs []string) ([]*solana.SignatureStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*solana.SignatureStatus, len(sigs))
	for i, s := range sigs {
		out[i] = c.Statuses[s]
	}
	return out, nil
}

// GetHealth returns HealthErr.
func (c *RPCClient) GetHealth(context.Context) error {
	return c.HealthErr
}

// SentCount returns how many transactions were submitted.
func (c *RPCClient) SentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Sent)
}
