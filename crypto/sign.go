package crypto

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	sha256 "github.com/minio/sha256-simd"

	"dispenser.dev/node/dispenser"
)

// Wallet-side helpers. They produce exactly what the wallets of each
// ecosystem produce, so tooling and tests can build valid claims.

func Ed25519Pubkey(priv ed25519.PrivateKey) dispenser.Pubkey {
	var pub dispenser.Pubkey
	copy(pub[:], priv.Public().(ed25519.PublicKey))
	return pub
}

func SignEd25519(priv ed25519.PrivateKey, msg []byte) [dispenser.SignatureBytes]byte {
	var sig [dispenser.SignatureBytes]byte
	copy(sig[:], ed25519.Sign(priv, msg))
	return sig
}

// Ed25519Instruction signs msg and wraps it in a single-signature precompile
// instruction.
func Ed25519Instruction(priv ed25519.PrivateKey, msg []byte) dispenser.Instruction {
	return dispenser.NewEd25519Instruction(Ed25519Pubkey(priv), SignEd25519(priv, msg), msg)
}

// WalletInstruction frames payload with codec and signs it with priv. Sui
// wallets sign the digest of the framing.
func WalletInstruction(priv ed25519.PrivateKey, e dispenser.Ecosystem, payload []byte) (dispenser.Instruction, error) {
	if e == dispenser.EcosystemSui {
		digest := dispenser.SuiDigest(payload)
		return Ed25519Instruction(priv, digest[:]), nil
	}
	codec, err := dispenser.CodecFor(e)
	if err != nil {
		return dispenser.Instruction{}, err
	}
	msg, err := codec.Wrap(payload)
	if err != nil {
		return dispenser.Instruction{}, err
	}
	return Ed25519Instruction(priv, msg), nil
}

func Secp256k1Pubkey(priv *btcec.PrivateKey) dispenser.Secp256k1Pubkey {
	var pub dispenser.Secp256k1Pubkey
	copy(pub[:], priv.PubKey().SerializeUncompressed())
	return pub
}

func EvmAddress(priv *btcec.PrivateKey) dispenser.EvmPubkey {
	return dispenser.EvmAddressFromPubkey(Secp256k1Pubkey(priv))
}

func signCompact(priv *btcec.PrivateKey, digest [32]byte) ([dispenser.SignatureBytes]byte, uint8) {
	compact := ecdsa.SignCompact(priv, digest[:], false)
	var sig [dispenser.SignatureBytes]byte
	copy(sig[:], compact[1:])
	return sig, compact[0] - 27
}

// EvmInstruction personal_signs payload and returns the secp256k1
// precompile instruction for transaction position index.
func EvmInstruction(priv *btcec.PrivateKey, payload []byte, index uint8) (dispenser.Instruction, error) {
	msg, err := dispenser.EvmCodec{}.Wrap(payload)
	if err != nil {
		return dispenser.Instruction{}, err
	}
	sig, recid := signCompact(priv, keccak256(msg))
	return dispenser.NewSecp256k1Instruction(EvmAddress(priv), sig, recid, msg, index), nil
}

// CosmosCertificate signs an ADR-036 sign doc for payload, the way Keplr's
// signArbitrary does, and returns the direct-recovery certificate.
func CosmosCertificate(priv *btcec.PrivateKey, chainID string, payload []byte) (dispenser.CosmosCertificate, error) {
	pub := Secp256k1Pubkey(priv)
	addr, err := dispenser.CosmosAddress(chainID, pub)
	if err != nil {
		return dispenser.CosmosCertificate{}, err
	}
	msg, err := dispenser.CosmosCodec{Signer: addr}.Wrap(payload)
	if err != nil {
		return dispenser.CosmosCertificate{}, err
	}
	sig, recid := signCompact(priv, sha256.Sum256(msg))
	return dispenser.CosmosCertificate{
		ChainID:    chainID,
		Signature:  sig,
		RecoveryID: recid,
		Pubkey:     pub,
		Message:    msg,
	}, nil
}

// ClaimAuthorization is everything a claimant's HTTP signature commits to:
// the deployment, both accounts of the claim transaction and the encoded
// claim certificate.
type ClaimAuthorization struct {
	DispenserID  dispenser.Pubkey
	Claimant     dispenser.Pubkey
	ClaimantFund dispenser.Pubkey
	Certificate  []byte
}

func (a ClaimAuthorization) digest() [32]byte {
	h := sha256.New()
	h.Write(a.DispenserID[:])
	h.Write(a.Claimant[:])
	h.Write(a.ClaimantFund[:])
	h.Write(a.Certificate)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// ClaimAuthorizationMessage is what a claimant signs to submit a claim over
// HTTP: the native off-chain framing of "claim:" and the hex sha256 of
// dispenser id | claimant | claimant fund | certificate.
func ClaimAuthorizationMessage(a ClaimAuthorization) []byte {
	digest := a.digest()
	msg, _ := dispenser.NativeOffchainCodec{}.Wrap([]byte("claim:" + hex.EncodeToString(digest[:])))
	return msg
}

func SignClaimAuthorization(priv ed25519.PrivateKey, a ClaimAuthorization) [dispenser.SignatureBytes]byte {
	return SignEd25519(priv, ClaimAuthorizationMessage(a))
}

var ErrBadClaimAuthorization = errors.New("claimant signature does not authorize this claim")

// VerifyClaimAuthorization checks sig against a.Claimant.
func VerifyClaimAuthorization(p Provider, a ClaimAuthorization, sig [dispenser.SignatureBytes]byte) error {
	if !p.VerifyEd25519(a.Claimant, ClaimAuthorizationMessage(a), sig) {
		return ErrBadClaimAuthorization
	}
	return nil
}
