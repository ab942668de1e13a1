package solana

import "context"

// WSClient defines the Solana WebSocket subscription interface.
type WSClient interface {
	// SubscribeSignature waits for a transaction signature to reach the given commitment.
	// The returned channel yields exactly one notification and is then closed.
	SubscribeSignature(ctx context.Context, signature string, commitment Commitment) (<-chan SignatureNotification, error)

	// Close closes the WebSocket connection.
	Close() error
}

// SignatureNotification reports the outcome of a watched transaction.
type SignatureNotification struct {
	Signature string
	Slot      int64
	// Err is the on-chain execution error, nil on success.
	Err interface{}
}
