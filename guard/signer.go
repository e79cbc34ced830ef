// Package guard is the dispenser guard: the service that vouches for Discord
// identities by signing a DiscordMessage for a verified account and claimant.
package guard

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"

	"dispenser.dev/node/crypto"
	"dispenser.dev/node/dispenser"
)

var ErrUnverified = errors.New("discord account not verified")

// SignedMessage is the guard's answer: a signature over FullMessage and the
// precompile instruction carrying it.
type SignedMessage struct {
	Signature   [dispenser.SignatureBytes]byte
	PublicKey   dispenser.Pubkey
	FullMessage []byte
	Instruction dispenser.Instruction
}

type Guard struct {
	key      ed25519.PrivateKey
	verifier DiscordVerifier
	logger   *slog.Logger
}

func New(key ed25519.PrivateKey, verifier DiscordVerifier, logger *slog.Logger) (*Guard, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("guard key must be %d bytes", ed25519.PrivateKeySize)
	}
	if verifier == nil {
		return nil, errors.New("guard needs a discord verifier")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{key: key, verifier: verifier, logger: logger}, nil
}

func (g *Guard) Pubkey() dispenser.Pubkey {
	return crypto.Ed25519Pubkey(g.key)
}

// Sign signs the DiscordMessage for discordID and claimant without any
// account check.
func (g *Guard) Sign(discordID string, claimant dispenser.Pubkey) SignedMessage {
	msg := dispenser.DiscordMessage{UserID: discordID, Claimant: claimant}.Encode()
	sig := crypto.SignEd25519(g.key, msg)
	pub := g.Pubkey()
	return SignedMessage{
		Signature:   sig,
		PublicKey:   pub,
		FullMessage: msg,
		Instruction: dispenser.NewEd25519Instruction(pub, sig, msg),
	}
}

// SignVerified checks that accessToken belongs to discordID and then signs.
func (g *Guard) SignVerified(ctx context.Context, discordID, accessToken string, claimant dispenser.Pubkey) (SignedMessage, error) {
	if discordID == "" || accessToken == "" {
		return SignedMessage{}, ErrUnverified
	}
	if err := g.verifier.Verify(ctx, discordID, accessToken); err != nil {
		g.logger.Warn("discord verification failed", "discord_id", discordID, "error", err.Error())
		return SignedMessage{}, err
	}
	g.logger.Info("discord message signed", "discord_id", discordID, "claimant", claimant.String())
	return g.Sign(discordID, claimant), nil
}
