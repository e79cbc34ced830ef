package guard

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	sha256 "github.com/minio/sha256-simd"

	"dispenser.dev/node/crypto"
	"dispenser.dev/node/dispenser"
)

const (
	KeystoreVersion = "DGKSv1"
	WrapAlg         = "AES-256-KW"
)

// Keystore keeps the guard's ed25519 seed wrapped under an operator KEK.
type Keystore struct {
	Version        string `json:"version"`
	Pubkey         string `json:"pubkey"`
	KeyIDHex       string `json:"key_id_hex"`
	WrapAlg        string `json:"wrap_alg"`
	WrappedSeedHex string `json:"wrapped_seed_hex"`
}

var ErrKeystoreMismatch = errors.New("keystore: unwrapped seed does not match pubkey")

// ParseKEK decodes a 32-byte hex KEK, ignoring whitespace.
func ParseKEK(s string) ([]byte, error) {
	kek, err := hex.DecodeString(strings.Join(strings.Fields(s), ""))
	if err != nil {
		return nil, fmt.Errorf("kek: %w", err)
	}
	if len(kek) != 32 {
		return nil, fmt.Errorf("kek must be 32 bytes (got %d)", len(kek))
	}
	return kek, nil
}

func keyID(pub dispenser.Pubkey) string {
	sum := sha256.Sum256(pub[:])
	return hex.EncodeToString(sum[:])
}

// Seal wraps the seed of key under kek.
func Seal(kek []byte, key ed25519.PrivateKey) (*Keystore, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("guard key must be %d bytes", ed25519.PrivateKeySize)
	}
	wrapped, err := crypto.WrapKey(kek, key.Seed())
	if err != nil {
		return nil, err
	}
	pub := crypto.Ed25519Pubkey(key)
	return &Keystore{
		Version:        KeystoreVersion,
		Pubkey:         pub.String(),
		KeyIDHex:       keyID(pub),
		WrapAlg:        WrapAlg,
		WrappedSeedHex: hex.EncodeToString(wrapped),
	}, nil
}

// Open unwraps the seed and checks it against the recorded pubkey.
func (ks *Keystore) Open(kek []byte) (ed25519.PrivateKey, error) {
	if err := ks.validate(); err != nil {
		return nil, err
	}
	wrapped, err := hex.DecodeString(ks.WrappedSeedHex)
	if err != nil {
		return nil, fmt.Errorf("wrapped_seed_hex: %w", err)
	}
	seed, err := crypto.UnwrapKey(kek, wrapped)
	if err != nil {
		return nil, err
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("keystore: seed is %d bytes", len(seed))
	}
	key := ed25519.NewKeyFromSeed(seed)
	if crypto.Ed25519Pubkey(key).String() != ks.Pubkey {
		return nil, ErrKeystoreMismatch
	}
	return key, nil
}

// Rewrap moves the keystore from oldKEK to newKEK.
func (ks *Keystore) Rewrap(oldKEK, newKEK []byte) (*Keystore, error) {
	key, err := ks.Open(oldKEK)
	if err != nil {
		return nil, err
	}
	return Seal(newKEK, key)
}

func (ks *Keystore) validate() error {
	if ks.Version != KeystoreVersion {
		return fmt.Errorf("unsupported keystore version: %q", ks.Version)
	}
	if !strings.EqualFold(ks.WrapAlg, WrapAlg) {
		return fmt.Errorf("unsupported wrap_alg: %q", ks.WrapAlg)
	}
	pub, err := dispenser.ParsePubkey(ks.Pubkey)
	if err != nil {
		return fmt.Errorf("pubkey: %w", err)
	}
	if ks.KeyIDHex != keyID(pub) {
		return errors.New("keystore: key_id_hex does not match pubkey")
	}
	return nil
}

func ReadKeystore(path string) (*Keystore, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- operator-provided
	if err != nil {
		return nil, err
	}
	var ks Keystore
	if err := json.Unmarshal(raw, &ks); err != nil {
		return nil, fmt.Errorf("keystore json: %w", err)
	}
	if err := ks.validate(); err != nil {
		return nil, err
	}
	return &ks, nil
}

func WriteKeystore(path string, ks *Keystore) error {
	b, err := json.MarshalIndent(ks, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o600)
}

// LoadKey reads the keystore at path and opens it with the hex KEK.
func LoadKey(path, kekHex string) (ed25519.PrivateKey, error) {
	kek, err := ParseKEK(kekHex)
	if err != nil {
		return nil, err
	}
	ks, err := ReadKeystore(path)
	if err != nil {
		return nil, err
	}
	return ks.Open(kek)
}
