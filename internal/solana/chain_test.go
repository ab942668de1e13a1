package solana_test

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"dlmm-risk-manager/internal/solana"
	"dlmm-risk-manager/internal/solana/stub"
)

func unsignedFor(signers ...*solana.Keypair) string {
	tx := []byte{byte(len(signers))}
	tx = append(tx, make([]byte, 64*len(signers))...)
	tx = append(tx, byte(len(signers)), 0, 0, byte(len(signers)))
	for _, s := range signers {
		tx = append(tx, s.PublicKeyBytes()...)
	}
	tx = append(tx, make([]byte, 32)...)
	tx = append(tx, 0)
	return base64.StdEncoding.EncodeToString(tx)
}

func newChain(t *testing.T, rpc *stub.RPCClient) (*solana.Chain, *solana.Keypair) {
	t.Helper()
	wallet, err := solana.NewKeypair()
	if err != nil {
		t.Fatalf("NewKeypair: %v", err)
	}
	c := solana.NewChain(rpc, nil, wallet, nil)
	c.PollInterval = 5 * time.Millisecond
	c.ConfirmTimeout = time.Second
	return c, wallet
}

func TestChain_SignAndSend(t *testing.T) {
	rpc := stub.NewRPCClient()
	chain, wallet := newChain(t, rpc)
	position, _ := solana.NewKeypair()

	sig, err := chain.SignAndSend(context.Background(), unsignedFor(wallet, position), position)
	if err != nil {
		t.Fatalf("SignAndSend: %v", err)
	}
	if sig == "" {
		t.Error("expected signature")
	}
	if rpc.SentCount() != 1 {
		t.Errorf("expected 1 sent transaction, got %d", rpc.SentCount())
	}
}

func TestChain_SignAndSend_OnChainFailure(t *testing.T) {
	rpc := stub.NewRPCClient()
	rpc.FailTx = map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}
	chain, wallet := newChain(t, rpc)

	_, err := chain.SignAndSend(context.Background(), unsignedFor(wallet))
	if !errors.Is(err, solana.ErrTransactionFailed) {
		t.Fatalf("expected ErrTransactionFailed, got %v", err)
	}
}

func TestChain_SignAndSend_SendError(t *testing.T) {
	rpc := stub.NewRPCClient()
	rpc.SendErr = errors.New("boom")
	chain, wallet := newChain(t, rpc)

	if _, err := chain.SignAndSend(context.Background(), unsignedFor(wallet)); err == nil {
		t.Fatal("expected error")
	}
}

func TestChain_ConfirmTimesOut(t *testing.T) {
	rpc := stub.NewRPCClient()
	chain, _ := newChain(t, rpc)
	chain.ConfirmTimeout = 30 * time.Millisecond

	err := chain.Confirm(context.Background(), "unknown")
	if !errors.Is(err, solana.ErrNotConfirmed) {
		t.Fatalf("expected ErrNotConfirmed, got %v", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("confirm timeout must not surface as a context error: %v", err)
	}
}

func TestChain_ConfirmCallerDeadline(t *testing.T) {
	rpc := stub.NewRPCClient()
	chain, _ := newChain(t, rpc)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := chain.Confirm(ctx, "unknown")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if errors.Is(err, solana.ErrNotConfirmed) {
		t.Errorf("caller deadline must not be reported as ErrNotConfirmed: %v", err)
	}
}

func TestChain_CheckHealth(t *testing.T) {
	rpc := stub.NewRPCClient()
	chain, _ := newChain(t, rpc)
	if err := chain.CheckHealth(context.Background()); err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	rpc.HealthErr = errors.New("behind")
	if err := chain.CheckHealth(context.Background()); err == nil {
		t.Fatal("expected health error")
	}
}
