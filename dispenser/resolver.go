package dispenser

import (
	"fmt"
	"slices"
)

// Resolver turns an identity certificate into a verified Identity for one
// claimant. It never returns a partially verified identity.
type Resolver struct {
	DispenserID  Pubkey
	Guard        Pubkey
	CosmosChains []string
}

func (r Resolver) Resolve(cert IdentityCertificate, claimant Pubkey, instructions []Instruction) (Identity, error) {
	expected := AuthorizationPayload(r.DispenserID, claimant)
	switch c := cert.(type) {
	case NativeCertificate:
		return NativeIdentity{Pubkey: claimant}, nil

	case EvmCertificate:
		if err := r.checkSecp256k1(instructions, c.VerificationInstructionIndex, c.Pubkey, expected); err != nil {
			return nil, err
		}
		return EvmIdentity{Address: c.Pubkey}, nil

	case InjectiveCertificate:
		if err := r.checkSecp256k1(instructions, c.VerificationInstructionIndex, c.Pubkey, expected); err != nil {
			return nil, err
		}
		return InjectiveIdentity{Address: InjectiveAddress(c.Pubkey)}, nil

	case SuiCertificate:
		msg, err := AttestedEd25519(instructions, c.VerificationInstructionIndex, c.Pubkey)
		if err != nil {
			return nil, err
		}
		if len(msg) != 32 {
			return nil, claimerr(CLAIM_ERR_SIG_WRONG_PAYLOAD_METADATA, "sui signature must cover a 32-byte digest")
		}
		digest := SuiDigest(expected)
		if err := checkPayload(msg, digest[:]); err != nil {
			return nil, err
		}
		return SuiIdentity{Address: SuiAddressFromPubkey(c.Pubkey)}, nil

	case AptosCertificate:
		if err := r.checkEd25519(instructions, c.VerificationInstructionIndex, c.Pubkey, AptosCodec{}, expected); err != nil {
			return nil, err
		}
		return AptosIdentity{Address: AptosAddressFromPubkey(c.Pubkey)}, nil

	case AlgorandCertificate:
		if err := r.checkEd25519(instructions, c.VerificationInstructionIndex, c.Pubkey, AlgorandCodec{}, expected); err != nil {
			return nil, err
		}
		return AlgorandIdentity{Pubkey: c.Pubkey}, nil

	case DiscordCertificate:
		msg, err := AttestedEd25519(instructions, c.VerificationInstructionIndex, r.Guard)
		if err != nil {
			return nil, err
		}
		dm, err := ParseDiscordMessage(msg)
		if err != nil {
			return nil, err
		}
		if dm.UserID != c.UserID || dm.Claimant != claimant {
			return nil, claimerr(CLAIM_ERR_SIG_WRONG_PAYLOAD, "guard message does not match claim")
		}
		return DiscordIdentity{UserID: c.UserID}, nil

	case CosmosCertificate:
		return r.resolveCosmos(c, expected)

	default:
		return nil, claimerr(CLAIM_ERR_PARSE, fmt.Sprintf("unsupported certificate %T", cert))
	}
}

func (r Resolver) checkSecp256k1(instructions []Instruction, index uint8, signer EvmPubkey, expected []byte) error {
	msg, err := AttestedSecp256k1(instructions, index, signer)
	if err != nil {
		return err
	}
	payload, err := EvmCodec{}.Parse(msg)
	if err != nil {
		return err
	}
	return checkPayload(payload, expected)
}

func (r Resolver) checkEd25519(instructions []Instruction, index uint8, signer Pubkey, codec MessageCodec, expected []byte) error {
	msg, err := AttestedEd25519(instructions, index, signer)
	if err != nil {
		return err
	}
	payload, err := codec.Parse(msg)
	if err != nil {
		return err
	}
	return checkPayload(payload, expected)
}

func (r Resolver) resolveCosmos(c CosmosCertificate, expected []byte) (Identity, error) {
	if !r.ChainAllowed(c.ChainID) {
		return nil, claimerr(CLAIM_ERR_UNAUTHORIZED_CHAIN_ID, c.ChainID)
	}
	payload, signer, err := ParseADR036(c.Message)
	if err != nil {
		return nil, err
	}
	if err := checkPayload(payload, expected); err != nil {
		return nil, err
	}
	addr, err := CosmosAddress(c.ChainID, c.Pubkey)
	if err != nil {
		return nil, claimerr(CLAIM_ERR_RECOVERY, err.Error())
	}
	if signer != addr {
		return nil, claimerr(CLAIM_ERR_SIG_WRONG_SIGNER, "sign doc signer does not match pubkey")
	}
	if err := VerifyRecovery(c.Pubkey, c.Signature, c.RecoveryID, c.Message); err != nil {
		return nil, err
	}
	return CosmosIdentity{ChainID: c.ChainID, Address: addr}, nil
}

// ChainAllowed reports whether generic Cosmos claims may use chainID. The
// EVM-style chain is never allowed here whatever the allowlist says.
func (r Resolver) ChainAllowed(chainID string) bool {
	if chainID == InjectiveHRP {
		return false
	}
	return slices.Contains(r.CosmosChains, chainID)
}
