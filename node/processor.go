package node

import (
	"context"
	"errors"
	"log/slog"

	"dispenser.dev/node/crypto"
	"dispenser.dev/node/dispenser"
	"dispenser.dev/node/node/metrics"
)

var ErrClaimsPaused = errors.New("claims paused: ledger unavailable")

// ClaimRequest is a claim as submitted to the node: the claim transaction
// with the certificate still in wire form, and the claimant's signature
// authorizing exactly that certificate paid to exactly that fund account.
type ClaimRequest struct {
	Claimant      dispenser.Pubkey
	ClaimantFund  dispenser.Pubkey
	Instructions  []dispenser.Instruction
	Certificate   []byte
	Authorization [dispenser.SignatureBytes]byte
}

func (r ClaimRequest) authorization(dispenserID dispenser.Pubkey) crypto.ClaimAuthorization {
	return crypto.ClaimAuthorization{
		DispenserID:  dispenserID,
		Claimant:     r.Claimant,
		ClaimantFund: r.ClaimantFund,
		Certificate:  r.Certificate,
	}
}

// Processor runs the host side of a claim (claimant signature, signature
// precompiles) and then the dispenser.
type Processor struct {
	Dispenser *dispenser.Dispenser
	Provider  crypto.Provider
	Metrics   *metrics.Metrics
	Monitor   *LedgerMonitor
	Logger    *slog.Logger
}

func (p *Processor) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *Processor) Submit(ctx context.Context, req ClaimRequest) (*dispenser.ClaimEvent, error) {
	ev, ecosystem, err := p.submit(ctx, req)
	if err != nil {
		p.Metrics.ClaimRejected(ecosystem, ResultCode(err))
		return nil, err
	}
	p.Metrics.ClaimPaid(string(ev.ClaimInfo.Identity.Ecosystem()), ev.ClaimInfo.Amount, ev.RemainingBalance)
	return ev, nil
}

func (p *Processor) submit(ctx context.Context, req ClaimRequest) (*dispenser.ClaimEvent, string, error) {
	if !p.Monitor.AcceptingClaims() {
		return nil, "", ErrClaimsPaused
	}
	if err := crypto.VerifyClaimAuthorization(p.Provider, req.authorization(p.Dispenser.ID), req.Authorization); err != nil {
		return nil, "", err
	}
	cert, err := dispenser.DecodeClaimCertificate(req.Certificate)
	if err != nil {
		return nil, "", err
	}
	ecosystem := string(cert.ProofOfIdentity.Ecosystem())
	if err := crypto.VerifyInstructions(p.Provider, req.Instructions); err != nil {
		p.logger().Warn("precompile rejected", "claimant", req.Claimant.String(), "error", err.Error())
		return nil, ecosystem, err
	}
	ev, err := p.Dispenser.Claim(ctx, dispenser.ClaimTransaction{
		Claimant:     req.Claimant,
		ClaimantFund: req.ClaimantFund,
		Instructions: req.Instructions,
		Certificate:  cert,
	})
	if err != nil {
		return nil, ecosystem, err
	}
	return ev, ecosystem, nil
}

// ResultCode is the short label for a failed claim, used in metrics and
// API error bodies.
func ResultCode(err error) string {
	if code := dispenser.CodeOf(err); code != "" {
		return string(code)
	}
	var pe *crypto.PrecompileError
	switch {
	case errors.As(err, &pe):
		return "PRECOMPILE"
	case errors.Is(err, crypto.ErrBadClaimAuthorization):
		return "UNAUTHORIZED"
	case errors.Is(err, ErrClaimsPaused):
		return "PAUSED"
	case errors.Is(err, dispenser.ErrInsufficientFunds):
		return "TREASURY_EMPTY"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "CANCELED"
	default:
		return "internal"
	}
}
