package solana

import (
	"bytes"
	"encoding/base64"
	"fmt"

	"github.com/mr-tron/base58"
)

const signatureLength = 64

// SignTransaction fills the signature slots of a serialized (legacy or v0)
// transaction for each of the given signers and returns the re-encoded base64
// transaction plus its first signature, which is the transaction id.
//
// Every required signature slot must end up filled, either by a signer passed
// here or by a signature already present in the input.
func SignTransaction(txBase64 string, signers ...*Keypair) (string, string, error) {
	raw, err := base64.StdEncoding.DecodeString(txBase64)
	if err != nil {
		return "", "", fmt.Errorf("decode transaction: %w", err)
	}

	numSigs, n, err := decodeShortVec(raw)
	if err != nil {
		return "", "", fmt.Errorf("read signature count: %w", err)
	}
	sigStart := n
	msgStart := sigStart + numSigs*signatureLength
	if msgStart > len(raw) {
		return "", "", fmt.Errorf("transaction truncated in signatures")
	}
	message := raw[msgStart:]

	required, keys, err := parseMessageSigners(message)
	if err != nil {
		return "", "", err
	}
	if required != numSigs {
		return "", "", fmt.Errorf("message requires %d signatures, transaction has %d slots", required, numSigs)
	}

	for _, signer := range signers {
		idx := -1
		pub := signer.PublicKeyBytes()
		for i := 0; i < required; i++ {
			if bytes.Equal(keys[i], pub) {
				idx = i
				break
			}
		}
		if idx < 0 {
			return "", "", fmt.Errorf("signer %s is not a required signer", signer.PublicKey())
		}
		sig := signer.Sign(message)
		copy(raw[sigStart+idx*signatureLength:], sig)
	}

	empty := make([]byte, signatureLength)
	for i := 0; i < required; i++ {
		slot := raw[sigStart+i*signatureLength : sigStart+(i+1)*signatureLength]
		if bytes.Equal(slot, empty) {
			return "", "", fmt.Errorf("missing signature for %s", base58.Encode(keys[i]))
		}
	}

	txID := base58.Encode(raw[sigStart : sigStart+signatureLength])
	return base64.StdEncoding.EncodeToString(raw), txID, nil
}

// parseMessageSigners returns the number of required signatures and the static account keys.
func parseMessageSigners(message []byte) (int, [][]byte, error) {
	offset := 0
	if len(message) == 0 {
		return 0, nil, fmt.Errorf("empty message")
	}
	// Versioned messages set the high bit of the first byte.
	if message[0]&0x80 != 0 {
		offset = 1
	}
	if len(message) < offset+3 {
		return 0, nil, fmt.Errorf("message header truncated")
	}
	required := int(message[offset])
	offset += 3

	count, n, err := decodeShortVec(message[offset:])
	if err != nil {
		return 0, nil, fmt.Errorf("read account key count: %w", err)
	}
	offset += n
	if len(message) < offset+count*32 {
		return 0, nil, fmt.Errorf("account keys truncated")
	}
	if required > count {
		return 0, nil, fmt.Errorf("message requires %d signers but lists %d keys", required, count)
	}

	keys := make([][]byte, count)
	for i := 0; i < count; i++ {
		keys[i] = message[offset+i*32 : offset+(i+1)*32]
	}
	return required, keys, nil
}

// decodeShortVec reads a compact-u16 length prefix.
func decodeShortVec(b []byte) (int, int, error) {
	var value int
	for i := 0; i < 3; i++ {
		if i >= len(b) {
			return 0, 0, fmt.Errorf("short vec truncated")
		}
		value |= int(b[i]&0x7f) << (7 * i)
		if b[i]&0x80 == 0 {
			return value, i + 1, nil
		}
	}
	return 0, 0, fmt.Errorf("short vec too long")
}
