package dispenser

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

const (
	PubkeyBytes          = 32
	EvmPubkeyBytes       = 20
	Secp256k1PubkeyBytes = 65
	SignatureBytes       = 64
)

// Pubkey is an ed25519 public key. It names native accounts (claimants, the
// dispenser guard, mints, token accounts) and the ed25519 keys of Sui, Aptos
// and Algorand.
type Pubkey [PubkeyBytes]byte

func (k Pubkey) String() string {
	return base58.Encode(k[:])
}

func (k Pubkey) IsZero() bool {
	return k == Pubkey{}
}

func (k Pubkey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Pubkey) UnmarshalText(text []byte) error {
	p, err := ParsePubkey(string(text))
	if err != nil {
		return err
	}
	*k = p
	return nil
}

// ParsePubkey decodes the base58 text form of a native key.
func ParsePubkey(s string) (Pubkey, error) {
	var out Pubkey
	b, err := base58.Decode(strings.TrimSpace(s))
	if err != nil {
		return out, fmt.Errorf("pubkey: %w", err)
	}
	if len(b) != PubkeyBytes {
		return out, fmt.Errorf("pubkey: must be %d bytes (got %d)", PubkeyBytes, len(b))
	}
	copy(out[:], b)
	return out, nil
}

func mustPubkey(s string) Pubkey {
	p, err := ParsePubkey(s)
	if err != nil {
		panic(err)
	}
	return p
}

// EvmPubkey is the 20-byte Ethereum address form of a secp256k1 key.
type EvmPubkey [EvmPubkeyBytes]byte

func (k EvmPubkey) String() string {
	return "0x" + hex.EncodeToString(k[:])
}

func (k EvmPubkey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *EvmPubkey) UnmarshalText(text []byte) error {
	p, err := ParseEvmPubkey(string(text))
	if err != nil {
		return err
	}
	*k = p
	return nil
}

// ParseEvmPubkey accepts a hex address with or without the 0x prefix.
func ParseEvmPubkey(s string) (EvmPubkey, error) {
	var out EvmPubkey
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("evm pubkey: %w", err)
	}
	if len(b) != EvmPubkeyBytes {
		return out, fmt.Errorf("evm pubkey: must be %d bytes (got %d)", EvmPubkeyBytes, len(b))
	}
	copy(out[:], b)
	return out, nil
}

// Secp256k1Pubkey is an uncompressed SEC1 secp256k1 key (0x04 | X | Y).
type Secp256k1Pubkey [Secp256k1PubkeyBytes]byte

func (k Secp256k1Pubkey) String() string {
	return hex.EncodeToString(k[:])
}
