package solana

import "context"

// RPCClient defines the Solana RPC HTTP methods the service depends on.
type RPCClient interface {
	// GetAccountInfo retrieves an account by public key. Returns nil if the account does not exist.
	GetAccountInfo(ctx context.Context, pubkey string) (*AccountInfo, error)

	// GetMultipleAccounts retrieves several accounts in one call, preserving order.
	// Missing accounts are returned as nil entries.
	GetMultipleAccounts(ctx context.Context, pubkeys []string) ([]*AccountInfo, error)

	// SendTransaction submits a signed, base64-encoded transaction and returns its signature.
	SendTransaction(ctx context.Context, txBase64 string) (string, error)

	// GetSignatureStatuses returns the status of each signature. Unknown signatures are nil.
	GetSignatureStatuses(ctx context.Context, signatures []string) ([]*SignatureStatus, error)

	// GetHealth returns nil when the node reports itself healthy.
	GetHealth(ctx context.Context) error
}
