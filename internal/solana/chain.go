package solana

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// ErrTransactionFailed is returned when a submitted transaction executed with an error.
var ErrTransactionFailed = errors.New("transaction failed on chain")

// ErrNotConfirmed is returned when a signature did not reach confirmed
// commitment within ConfirmTimeout. A deadline of the caller's context is
// reported as the context error instead.
var ErrNotConfirmed = errors.New("transaction not confirmed")

// TxError carries the on-chain error of a failed transaction.
type TxError struct {
	Signature string
	Err       interface{}
}

func (e *TxError) Error() string {
	return fmt.Sprintf("transaction %s failed: %v", e.Signature, e.Err)
}

func (e *TxError) Unwrap() error { return ErrTransactionFailed }

// Chain bundles the RPC client, the optional WebSocket client and the wallet
// that signs every transaction the service submits.
type Chain struct {
	RPC    RPCClient
	WS     WSClient // nil disables push confirmation
	Wallet *Keypair

	PollInterval   time.Duration
	ConfirmTimeout time.Duration
	Logger         *log.Logger
}

// NewChain creates a Chain with default confirmation settings.
func NewChain(rpc RPCClient, ws WSClient, wallet *Keypair, logger *log.Logger) *Chain {
	if logger == nil {
		logger = log.Default()
	}
	return &Chain{
		RPC:            rpc,
		WS:             ws,
		Wallet:         wallet,
		PollInterval:   2 * time.Second,
		ConfirmTimeout: 90 * time.Second,
		Logger:         logger,
	}
}

// CheckHealth verifies the RPC node answers before the service starts work.
func (c *Chain) CheckHealth(ctx context.Context) error {
	if err := c.RPC.GetHealth(ctx); err != nil {
		return fmt.Errorf("rpc health: %w", err)
	}
	return nil
}

// SignAndSend signs an unsigned transaction with the wallet plus any extra
// signers, submits it and waits for confirmed commitment.
func (c *Chain) SignAndSend(ctx context.Context, txBase64 string, extra ...*Keypair) (string, error) {
	signers := append([]*Keypair{c.Wallet}, extra...)
	signed, txID, err := SignTransaction(txBase64, signers...)
	if err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}

	sig, err := c.RPC.SendTransaction(ctx, signed)
	if err != nil {
		return "", err
	}
	if sig != txID {
		c.Logger.Printf("node returned signature %s, expected %s", sig, txID)
	}

	if err := c.Confirm(ctx, sig); err != nil {
		return sig, err
	}
	return sig, nil
}

// Confirm waits until sig reaches confirmed commitment. It listens on the
// WebSocket when available and falls back to polling signature statuses.
func (c *Chain) Confirm(ctx context.Context, sig string) error {
	timeout := c.ConfirmTimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	expired := func() error {
		if err := parent.Err(); err != nil {
			return fmt.Errorf("confirm %s: %w", sig, err)
		}
		return fmt.Errorf("confirm %s: %w after %v", sig, ErrNotConfirmed, timeout)
	}

	if c.WS != nil {
		ch, err := c.WS.SubscribeSignature(ctx, sig, CommitmentConfirmed)
		if err != nil {
			c.Logger.Printf("signature subscribe %s failed, polling: %v", sig, err)
		} else {
			select {
			case n, ok := <-ch:
				if ok {
					if n.Err != nil {
						return &TxError{Signature: sig, Err: n.Err}
					}
					return nil
				}
			case <-ctx.Done():
				return expired()
			}
		}
	}

	return c.poll(ctx, sig, expired)
}

func (c *Chain) poll(ctx context.Context, sig string, expired func() error) error {
	interval := c.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		statuses, err := c.RPC.GetSignatureStatuses(ctx, []string{sig})
		if err != nil {
			c.Logger.Printf("signature status %s: %v", sig, err)
		} else if len(statuses) == 1 && statuses[0] != nil {
			st := statuses[0]
			if st.Err != nil {
				return &TxError{Signature: sig, Err: st.Err}
			}
			if st.Confirmed() {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return expired()
		case <-ticker.C:
		}
	}
}
