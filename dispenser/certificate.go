package dispenser

import (
	"fmt"

	"dispenser.dev/node/merkle"
)

// IdentityCertificate is the unverified proof of identity a claimant submits.
// Each variant mirrors an Identity variant and carries the tag of it.
type IdentityCertificate interface {
	Ecosystem() Ecosystem
	appendCertificate(dst []byte) []byte
}

// The index fields name the precompile instruction, within the same
// transaction, that attested the wallet signature.

type DiscordCertificate struct {
	UserID                       string
	VerificationInstructionIndex uint8
}

type NativeCertificate struct{}

type EvmCertificate struct {
	Pubkey                       EvmPubkey
	VerificationInstructionIndex uint8
}

type SuiCertificate struct {
	Pubkey                       Pubkey
	VerificationInstructionIndex uint8
}

type AptosCertificate struct {
	Pubkey                       Pubkey
	VerificationInstructionIndex uint8
}

// CosmosCertificate carries everything needed for direct recovery; there is
// no companion instruction.
type CosmosCertificate struct {
	ChainID    string
	Signature  [SignatureBytes]byte
	RecoveryID uint8
	Pubkey     Secp256k1Pubkey
	Message    []byte
}

type InjectiveCertificate struct {
	Pubkey                       EvmPubkey
	VerificationInstructionIndex uint8
}

type AlgorandCertificate struct {
	Pubkey                       Pubkey
	VerificationInstructionIndex uint8
}

func (DiscordCertificate) Ecosystem() Ecosystem   { return EcosystemDiscord }
func (NativeCertificate) Ecosystem() Ecosystem    { return EcosystemNative }
func (EvmCertificate) Ecosystem() Ecosystem       { return EcosystemEvm }
func (SuiCertificate) Ecosystem() Ecosystem       { return EcosystemSui }
func (AptosCertificate) Ecosystem() Ecosystem     { return EcosystemAptos }
func (CosmosCertificate) Ecosystem() Ecosystem    { return EcosystemCosmos }
func (InjectiveCertificate) Ecosystem() Ecosystem { return EcosystemInjective }
func (AlgorandCertificate) Ecosystem() Ecosystem  { return EcosystemAlgorand }

func (c DiscordCertificate) appendCertificate(dst []byte) []byte {
	dst = appendString(append(dst, TagDiscord), c.UserID)
	return append(dst, c.VerificationInstructionIndex)
}

func (NativeCertificate) appendCertificate(dst []byte) []byte {
	return append(dst, TagNative)
}

func (c EvmCertificate) appendCertificate(dst []byte) []byte {
	dst = append(append(dst, TagEvm), c.Pubkey[:]...)
	return append(dst, c.VerificationInstructionIndex)
}

func (c SuiCertificate) appendCertificate(dst []byte) []byte {
	dst = append(append(dst, TagSui), c.Pubkey[:]...)
	return append(dst, c.VerificationInstructionIndex)
}

func (c AptosCertificate) appendCertificate(dst []byte) []byte {
	dst = append(append(dst, TagAptos), c.Pubkey[:]...)
	return append(dst, c.VerificationInstructionIndex)
}

func (c CosmosCertificate) appendCertificate(dst []byte) []byte {
	dst = appendString(append(dst, TagCosmos), c.ChainID)
	dst = append(dst, c.Signature[:]...)
	dst = append(dst, c.RecoveryID)
	dst = append(dst, c.Pubkey[:]...)
	return appendVec(dst, c.Message)
}

func (c InjectiveCertificate) appendCertificate(dst []byte) []byte {
	dst = append(append(dst, TagInjective), c.Pubkey[:]...)
	return append(dst, c.VerificationInstructionIndex)
}

func (c AlgorandCertificate) appendCertificate(dst []byte) []byte {
	dst = append(append(dst, TagAlgorand), c.Pubkey[:]...)
	return append(dst, c.VerificationInstructionIndex)
}

func readCertificate(b []byte, off *int) (IdentityCertificate, error) {
	tag, err := readU8(b, off)
	if err != nil {
		return nil, err
	}
	switch tag {
	case TagDiscord:
		var c DiscordCertificate
		if c.UserID, err = readString(b, off); err != nil {
			return nil, err
		}
		if c.VerificationInstructionIndex, err = readU8(b, off); err != nil {
			return nil, err
		}
		return c, nil
	case TagNative:
		return NativeCertificate{}, nil
	case TagEvm:
		var c EvmCertificate
		if err := readFixed(b, off, c.Pubkey[:]); err != nil {
			return nil, err
		}
		if c.VerificationInstructionIndex, err = readU8(b, off); err != nil {
			return nil, err
		}
		return c, nil
	case TagSui:
		var c SuiCertificate
		if err := readFixed(b, off, c.Pubkey[:]); err != nil {
			return nil, err
		}
		if c.VerificationInstructionIndex, err = readU8(b, off); err != nil {
			return nil, err
		}
		return c, nil
	case TagAptos:
		var c AptosCertificate
		if err := readFixed(b, off, c.Pubkey[:]); err != nil {
			return nil, err
		}
		if c.VerificationInstructionIndex, err = readU8(b, off); err != nil {
			return nil, err
		}
		return c, nil
	case TagCosmos:
		var c CosmosCertificate
		if c.ChainID, err = readString(b, off); err != nil {
			return nil, err
		}
		if err := readFixed(b, off, c.Signature[:]); err != nil {
			return nil, err
		}
		if c.RecoveryID, err = readU8(b, off); err != nil {
			return nil, err
		}
		if err := readFixed(b, off, c.Pubkey[:]); err != nil {
			return nil, err
		}
		if c.Message, err = readVec(b, off); err != nil {
			return nil, err
		}
		return c, nil
	case TagInjective:
		var c InjectiveCertificate
		if err := readFixed(b, off, c.Pubkey[:]); err != nil {
			return nil, err
		}
		if c.VerificationInstructionIndex, err = readU8(b, off); err != nil {
			return nil, err
		}
		return c, nil
	case TagAlgorand:
		var c AlgorandCertificate
		if err := readFixed(b, off, c.Pubkey[:]); err != nil {
			return nil, err
		}
		if c.VerificationInstructionIndex, err = readU8(b, off); err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, claimerr(CLAIM_ERR_PARSE, fmt.Sprintf("unknown certificate tag %d", tag))
	}
}

// ClaimCertificate is the claim argument: the amount of the leaf, the proof
// of identity and the inclusion path.
type ClaimCertificate struct {
	Amount           uint64
	ProofOfIdentity  IdentityCertificate
	ProofOfInclusion merkle.Path
}

func (c ClaimCertificate) Encode() []byte {
	out := appendU64le(make([]byte, 0, 128), c.Amount)
	out = c.ProofOfIdentity.appendCertificate(out)
	out = appendU64le(out, c.ProofOfInclusion.Index)
	out = appendU32le(out, uint32(len(c.ProofOfInclusion.Hashes))) // #nosec G115 -- tree depth is at most 64.
	for _, h := range c.ProofOfInclusion.Hashes {
		out = append(out, h[:]...)
	}
	return out
}

func DecodeClaimCertificate(b []byte) (ClaimCertificate, error) {
	var c ClaimCertificate
	off := 0
	var err error
	if c.Amount, err = readU64le(b, &off); err != nil {
		return c, err
	}
	if c.ProofOfIdentity, err = readCertificate(b, &off); err != nil {
		return c, err
	}
	if c.ProofOfInclusion.Index, err = readU64le(b, &off); err != nil {
		return c, err
	}
	n, err := readU32le(b, &off)
	if err != nil {
		return c, err
	}
	if uint64(n)*merkle.HashSize > uint64(len(b)-off) {
		return c, claimerr(CLAIM_ERR_PARSE, "inclusion path exceeds buffer")
	}
	c.ProofOfInclusion.Hashes = make([][merkle.HashSize]byte, n)
	for i := range c.ProofOfInclusion.Hashes {
		if err := readFixed(b, &off, c.ProofOfInclusion.Hashes[i][:]); err != nil {
			return c, err
		}
	}
	if off != len(b) {
		return c, claimerr(CLAIM_ERR_PARSE, "trailing bytes")
	}
	return c, nil
}
