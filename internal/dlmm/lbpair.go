package dlmm

import (
	"encoding/binary"
	"fmt"

	"github.com/mr-tron/base58"
)

// ProgramID is the Meteora DLMM program.
const ProgramID = "LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo"

// LbPair account layout offsets (Anchor discriminator included).
const (
	offActiveID   = 76
	offBinStep    = 80
	offTokenXMint = 88
	offTokenYMint = 120
	lbPairMinLen  = offTokenYMint + 32

	offMintDecimals = 44
	mintMinLen      = offMintDecimals + 1
)

// LbPair is the subset of the on-chain pool account the service reads.
type LbPair struct {
	ActiveID   int32
	BinStep    uint16
	TokenXMint string
	TokenYMint string
}

// DecodeLbPair parses raw LbPair account data.
func DecodeLbPair(data []byte) (LbPair, error) {
	if len(data) < lbPairMinLen {
		return LbPair{}, fmt.Errorf("lb pair account too short: %d bytes", len(data))
	}

	p := LbPair{
		ActiveID:   int32(binary.LittleEndian.Uint32(data[offActiveID:])),
		BinStep:    binary.LittleEndian.Uint16(data[offBinStep:]),
		TokenXMint: base58.Encode(data[offTokenXMint : offTokenXMint+32]),
		TokenYMint: base58.Encode(data[offTokenYMint : offTokenYMint+32]),
	}
	if p.BinStep == 0 {
		return LbPair{}, fmt.Errorf("lb pair has zero bin step")
	}
	return p, nil
}

// DecodeMintDecimals reads the decimals field of an SPL token mint.
func DecodeMintDecimals(data []byte) (uint8, error) {
	if len(data) < mintMinLen {
		return 0, fmt.Errorf("mint account too short: %d bytes", len(data))
	}
	return data[offMintDecimals], nil
}
