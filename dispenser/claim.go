package dispenser

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"dispenser.dev/node/merkle"
)

// ClaimTransaction is everything a claim instruction sees: the signing
// claimant, the account that receives the tokens, the transaction's other
// instructions (already executed by the host) and the claim argument.
type ClaimTransaction struct {
	Claimant     Pubkey
	ClaimantFund Pubkey
	Instructions []Instruction
	Certificate  ClaimCertificate
}

// ClaimEvent records one successful claim.
type ClaimEvent struct {
	ID               uuid.UUID
	Time             time.Time
	RemainingBalance uint64
	Treasury         Pubkey
	Claimant         Pubkey
	ClaimInfo        ClaimInfo
	LeafHash         [merkle.HashSize]byte
}

type claimEventJSON struct {
	ID               string `json:"id"`
	Time             string `json:"time"`
	RemainingBalance uint64 `json:"remaining_balance"`
	Treasury         string `json:"treasury"`
	Claimant         string `json:"claimant"`
	Ecosystem        string `json:"ecosystem"`
	Identity         string `json:"identity"`
	Amount           uint64 `json:"amount"`
	LeafHash         string `json:"leaf_hash"`
}

func (e ClaimEvent) MarshalJSON() ([]byte, error) {
	v := claimEventJSON{
		ID:               e.ID.String(),
		Time:             e.Time.UTC().Format(time.RFC3339Nano),
		RemainingBalance: e.RemainingBalance,
		Treasury:         e.Treasury.String(),
		Claimant:         e.Claimant.String(),
		Amount:           e.ClaimInfo.Amount,
		LeafHash:         hex.EncodeToString(e.LeafHash[:]),
	}
	if e.ClaimInfo.Identity != nil {
		v.Ecosystem = string(e.ClaimInfo.Identity.Ecosystem())
		v.Identity = e.ClaimInfo.Identity.String()
	}
	return json.Marshal(v)
}

// EventLog receives every successful claim. It is optional, and a failed
// append does not undo a paid claim.
type EventLog interface {
	AppendEvent(ctx context.Context, ev ClaimEvent) error
}

// Dispenser runs claims against one deployment.
type Dispenser struct {
	ID           Pubkey
	Configs      ConfigStore
	Ledger       ReceiptLedger
	Treasury     Treasury
	Events       EventLog
	Denylist     Denylist
	CosmosChains []string
	Logger       *slog.Logger
	Now          func() time.Time
}

func (d *Dispenser) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d *Dispenser) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Claim verifies tx and pays out the leaf it proves. Steps run in a fixed
// order: denylist, identity resolution, inclusion, receipt, transfer cap,
// transfer. The receipt is created before the cap is enforced, so an
// over-cap claim still consumes its leaf. Once the receipt exists the
// remaining steps ignore cancellation of ctx.
func (d *Dispenser) Claim(ctx context.Context, tx ClaimTransaction) (*ClaimEvent, error) {
	ev, err := d.claim(ctx, tx)
	if err != nil {
		attrs := []any{"claimant", tx.Claimant.String(), "error", err.Error()}
		if cert := tx.Certificate.ProofOfIdentity; cert != nil {
			attrs = append(attrs, "ecosystem", string(cert.Ecosystem()))
		}
		if code := CodeOf(err); code != "" {
			attrs = append(attrs, "code", string(code))
		}
		d.logger().Warn("claim rejected", attrs...)
		return nil, err
	}
	d.logger().Info("claim paid",
		"id", ev.ID.String(),
		"claimant", ev.Claimant.String(),
		"ecosystem", string(ev.ClaimInfo.Identity.Ecosystem()),
		"identity", ev.ClaimInfo.Identity.String(),
		"amount", ev.ClaimInfo.Amount,
		"remaining", ev.RemainingBalance,
	)
	return ev, nil
}

func (d *Dispenser) claim(ctx context.Context, tx ClaimTransaction) (*ClaimEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cert := tx.Certificate
	if cert.ProofOfIdentity == nil {
		return nil, claimerr(CLAIM_ERR_PARSE, "missing proof of identity")
	}
	if err := d.Denylist.Check(tx.Claimant, cert.ProofOfIdentity); err != nil {
		return nil, err
	}

	cfg, err := d.Configs.LoadConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	resolver := Resolver{DispenserID: d.ID, Guard: cfg.DispenserGuard, CosmosChains: d.CosmosChains}
	identity, err := resolver.Resolve(cert.ProofOfIdentity, tx.Claimant, tx.Instructions)
	if err != nil {
		return nil, err
	}

	info := ClaimInfo{Identity: identity, Amount: cert.Amount}
	leaf := info.Encode()
	if !cfg.MerkleRoot.Check(cert.ProofOfInclusion, leaf) {
		return nil, claimerr(CLAIM_ERR_INVALID_INCLUSION_PROOF, "")
	}

	// Within the cap, a claim the treasury cannot pay fails before its
	// receipt exists. Claims racing for the last tokens can still burn a leaf.
	if cert.Amount <= cfg.MaxTransfer {
		funds, err := d.Treasury.Account(ctx, cfg.Treasury)
		if err != nil {
			return nil, fmt.Errorf("treasury: %w", err)
		}
		if funds.Balance < cert.Amount {
			return nil, fmt.Errorf("treasury %s holds %d, claim needs %d: %w", cfg.Treasury, funds.Balance, cert.Amount, ErrInsufficientFunds)
		}
	}

	slot := DeriveSlot(leaf)
	now := d.now().UTC()
	receipt := Receipt{Slot: slot, Claimant: tx.Claimant, Amount: cert.Amount, CreatedAt: now}
	if err := d.Ledger.CreateIfAbsent(ctx, receipt); err != nil {
		if errors.Is(err, ErrReceiptExists) {
			return nil, claimerr(CLAIM_ERR_ALREADY_CLAIMED, hex.EncodeToString(slot[:]))
		}
		return nil, fmt.Errorf("create receipt: %w", err)
	}
	// Steps after the receipt ignore cancellation.
	ctx = context.WithoutCancel(ctx)

	if cert.Amount > cfg.MaxTransfer {
		return nil, claimerr(CLAIM_ERR_TRANSFER_EXCEEDS_MAX, fmt.Sprintf("%d > %d", cert.Amount, cfg.MaxTransfer))
	}

	remaining, err := d.Treasury.Transfer(ctx, cfg.Treasury, tx.ClaimantFund, cert.Amount)
	if err != nil {
		return nil, fmt.Errorf("transfer: %w", err)
	}

	ev := &ClaimEvent{
		ID:               uuid.New(),
		Time:             now,
		RemainingBalance: remaining,
		Treasury:         cfg.Treasury,
		Claimant:         tx.Claimant,
		ClaimInfo:        info,
		LeafHash:         slot,
	}
	if d.Events != nil {
		if err := d.Events.AppendEvent(ctx, *ev); err != nil {
			d.logger().Error("append claim event", "id", ev.ID.String(), "error", err.Error())
		}
	}
	return ev, nil
}
