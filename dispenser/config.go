package dispenser

import (
	"context"
	"errors"
	"fmt"

	"dispenser.dev/node/merkle"
)

// Config is the dispenser state written once by Initialize and read by every
// claim.
type Config struct {
	MerkleRoot     merkle.Root
	DispenserGuard Pubkey
	Mint           Pubkey
	Treasury       Pubkey
	MaxTransfer    uint64
}

func (c Config) Encode() []byte {
	out := make([]byte, 0, merkle.HashSize+8+3*PubkeyBytes+8)
	out = append(out, c.MerkleRoot.Hash[:]...)
	out = appendU64le(out, c.MerkleRoot.Size)
	out = append(out, c.DispenserGuard[:]...)
	out = append(out, c.Mint[:]...)
	out = append(out, c.Treasury[:]...)
	return appendU64le(out, c.MaxTransfer)
}

func DecodeConfig(b []byte) (Config, error) {
	var c Config
	off := 0
	if err := readFixed(b, &off, c.MerkleRoot.Hash[:]); err != nil {
		return c, err
	}
	var err error
	if c.MerkleRoot.Size, err = readU64le(b, &off); err != nil {
		return c, err
	}
	for _, k := range []*Pubkey{&c.DispenserGuard, &c.Mint, &c.Treasury} {
		if err := readFixed(b, &off, k[:]); err != nil {
			return c, err
		}
	}
	if c.MaxTransfer, err = readU64le(b, &off); err != nil {
		return c, err
	}
	if off != len(b) {
		return c, claimerr(CLAIM_ERR_PARSE, "trailing bytes")
	}
	return c, nil
}

var (
	ErrNotInitialized = errors.New("dispenser not initialized")
	ErrConfigExists   = errors.New("dispenser config already exists")
	ErrAccountMissing = errors.New("token account not found")

	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrMintMismatch      = errors.New("token accounts hold different mints")
)

// ConfigStore persists the write-once Config.
type ConfigStore interface {
	LoadConfig(ctx context.Context) (Config, error)
	StoreConfigIfAbsent(ctx context.Context, c Config) error
}

// TokenAccount is the part of a token account the dispenser looks at.
type TokenAccount struct {
	Mint    Pubkey
	Balance uint64
}

// Treasury holds the token pool. Transfer returns the remaining balance of
// from and creates the destination account when it does not exist yet.
type Treasury interface {
	Account(ctx context.Context, account Pubkey) (TokenAccount, error)
	Transfer(ctx context.Context, from, to Pubkey, amount uint64) (uint64, error)
}

// Initialize validates c against the treasury and writes it. A second call
// fails with INIT_ERR_ALREADY_INITIALIZED and leaves the stored config alone.
func Initialize(ctx context.Context, store ConfigStore, treasury Treasury, c Config) error {
	if c.MerkleRoot.Size == 0 {
		return claimerr(INIT_ERR_CONFIG, "merkle root commits to an empty tree")
	}
	if c.Mint.IsZero() || c.Treasury.IsZero() {
		return claimerr(INIT_ERR_CONFIG, "mint and treasury are required")
	}
	acct, err := treasury.Account(ctx, c.Treasury)
	if errors.Is(err, ErrAccountMissing) {
		return claimerr(INIT_ERR_CONFIG, "treasury account does not exist")
	}
	if err != nil {
		return fmt.Errorf("load treasury: %w", err)
	}
	if acct.Mint != c.Mint {
		return claimerr(INIT_ERR_MINT_MISMATCH, fmt.Sprintf("treasury holds %s, config names %s", acct.Mint, c.Mint))
	}
	if err := store.StoreConfigIfAbsent(ctx, c); err != nil {
		if errors.Is(err, ErrConfigExists) {
			return claimerr(INIT_ERR_ALREADY_INITIALIZED, "")
		}
		return fmt.Errorf("store config: %w", err)
	}
	return nil
}
