package solana

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Keypair is an ed25519 signing key with its Solana address.
type Keypair struct {
	private ed25519.PrivateKey
}

// NewKeypair generates a fresh random keypair.
func NewKeypair() (*Keypair, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &Keypair{private: priv}, nil
}

// KeypairFromBase58 parses a 64-byte secret key (seed || public key) in base58,
// the format used by Solana CLI and wallet exports.
func KeypairFromBase58(secret string) (*Keypair, error) {
	raw, err := base58.Decode(secret)
	if err != nil {
		return nil, fmt.Errorf("decode secret key: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("secret key must be %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
	}

	priv := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
	if !bytes.Equal(priv[ed25519.SeedSize:], raw[ed25519.SeedSize:]) {
		return nil, fmt.Errorf("secret key public half does not match its seed")
	}
	if !isOnCurve(priv[ed25519.SeedSize:]) {
		return nil, fmt.Errorf("public key is not a valid curve point")
	}

	return &Keypair{private: priv}, nil
}

// PublicKey returns the base58 address.
func (k *Keypair) PublicKey() string {
	return base58.Encode(k.PublicKeyBytes())
}

// PublicKeyBytes returns the raw 32-byte public key.
func (k *Keypair) PublicKeyBytes() []byte {
	return []byte(k.private.Public().(ed25519.PublicKey))
}

// Sign signs message with the private key.
func (k *Keypair) Sign(message []byte) []byte {
	return ed25519.Sign(k.private, message)
}

// DecodePublicKey decodes a base58 address and checks its length.
func DecodePublicKey(address string) ([]byte, error) {
	raw, err := base58.Decode(address)
	if err != nil {
		return nil, fmt.Errorf("decode public key %q: %w", address, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key %q must be %d bytes, got %d", address, ed25519.PublicKeySize, len(raw))
	}
	return raw, nil
}

// ValidateAddress checks that address is a 32-byte base58 key.
// Program-derived addresses (pools, positions owned by programs) are off-curve, so
// no curve check is applied here.
func ValidateAddress(address string) error {
	_, err := DecodePublicKey(address)
	return err
}

// ValidateWalletAddress checks that address is a key a wallet can sign for.
func ValidateWalletAddress(address string) error {
	raw, err := DecodePublicKey(address)
	if err != nil {
		return err
	}
	if !isOnCurve(raw) {
		return fmt.Errorf("address %q is off-curve and cannot sign", address)
	}
	return nil
}

func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}
