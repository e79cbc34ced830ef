package dispenser

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// Co-attestation: the host already verified the signature carried by a
// precompile instruction. Binding only has to prove that the instruction it
// points at is the expected program, in the expected single-signature
// layout, attested by the expected key, over the expected message.

func instructionAt(instructions []Instruction, index uint8) (Instruction, error) {
	if int(index) >= len(instructions) {
		return Instruction{}, claimerr(CLAIM_ERR_SIG_WRONG_HEADER, fmt.Sprintf("no instruction at index %d", index))
	}
	return instructions[index], nil
}

// AttestedEd25519 returns the message of the ed25519 precompile instruction
// at index after checking program, header, offsets and signer.
func AttestedEd25519(instructions []Instruction, index uint8, signer Pubkey) ([]byte, error) {
	ix, err := instructionAt(instructions, index)
	if err != nil {
		return nil, err
	}
	if ix.ProgramID != Ed25519ProgramID {
		return nil, claimerr(CLAIM_ERR_SIG_WRONG_PROGRAM, "expected ed25519 precompile")
	}
	d := ix.Data
	if len(d) < Ed25519PubkeyOffset || d[0] != 1 || d[1] != 0 {
		return nil, claimerr(CLAIM_ERR_SIG_WRONG_HEADER, "expected one ed25519 signature")
	}
	o, _ := ParseEd25519Offsets(d, Ed25519OffsetsStart)
	if len(d) < Ed25519MessageOffset ||
		o.SignatureOffset != Ed25519SigOffset ||
		o.SignatureInstructionIndex != Ed25519CurrentIx ||
		o.PubkeyOffset != Ed25519PubkeyOffset ||
		o.PubkeyInstructionIndex != Ed25519CurrentIx ||
		o.MessageOffset != Ed25519MessageOffset ||
		o.MessageInstructionIndex != Ed25519CurrentIx ||
		int(o.MessageSize) != len(d)-Ed25519MessageOffset {
		return nil, claimerr(CLAIM_ERR_SIG_WRONG_PAYLOAD_METADATA, "unexpected ed25519 offsets")
	}
	if !bytes.Equal(d[Ed25519PubkeyOffset:Ed25519SigOffset], signer[:]) {
		return nil, claimerr(CLAIM_ERR_SIG_WRONG_SIGNER, "ed25519 signer mismatch")
	}
	return d[Ed25519MessageOffset:], nil
}

// AttestedSecp256k1 is the secp256k1 counterpart of AttestedEd25519. The
// precompile attests the Ethereum address recovered from the signature.
func AttestedSecp256k1(instructions []Instruction, index uint8, signer EvmPubkey) ([]byte, error) {
	ix, err := instructionAt(instructions, index)
	if err != nil {
		return nil, err
	}
	if ix.ProgramID != Secp256k1ProgramID {
		return nil, claimerr(CLAIM_ERR_SIG_WRONG_PROGRAM, "expected secp256k1 precompile")
	}
	d := ix.Data
	if len(d) < Secp256k1EthOffset || d[0] != 1 {
		return nil, claimerr(CLAIM_ERR_SIG_WRONG_HEADER, "expected one secp256k1 signature")
	}
	o, _ := ParseSecp256k1Offsets(d, Secp256k1OffsetsStart)
	if len(d) < Secp256k1MessageOffset ||
		o.SignatureOffset != Secp256k1SigOffset ||
		o.SignatureInstructionIndex != index ||
		o.EthAddressOffset != Secp256k1EthOffset ||
		o.EthAddressInstructionIdx != index ||
		o.MessageOffset != Secp256k1MessageOffset ||
		o.MessageInstructionIndex != index ||
		int(o.MessageSize) != len(d)-Secp256k1MessageOffset {
		return nil, claimerr(CLAIM_ERR_SIG_WRONG_PAYLOAD_METADATA, "unexpected secp256k1 offsets")
	}
	if !bytes.Equal(d[Secp256k1EthOffset:Secp256k1SigOffset], signer[:]) {
		return nil, claimerr(CLAIM_ERR_SIG_WRONG_SIGNER, "secp256k1 signer mismatch")
	}
	return d[Secp256k1MessageOffset:], nil
}

// VerifyRecovery checks a secp256k1 signature by recovering the signing key
// from sha256(message) and comparing it to pub.
func VerifyRecovery(pub Secp256k1Pubkey, sig [SignatureBytes]byte, recoveryID uint8, message []byte) error {
	if recoveryID > 3 {
		return claimerr(CLAIM_ERR_RECOVERY, "recovery id out of range")
	}
	compact := make([]byte, 1+SignatureBytes)
	compact[0] = 27 + recoveryID
	copy(compact[1:], sig[:])
	digest := sha256Sum(message)
	got, _, err := ecdsa.RecoverCompact(compact, digest[:])
	if err != nil {
		return claimerr(CLAIM_ERR_RECOVERY, err.Error())
	}
	if !bytes.Equal(got.SerializeUncompressed(), pub[:]) {
		return claimerr(CLAIM_ERR_RECOVERY, "recovered key does not match")
	}
	return nil
}

func checkPayload(got, want []byte) error {
	if !bytes.Equal(got, want) {
		return claimerr(CLAIM_ERR_SIG_WRONG_PAYLOAD, "signed payload does not authorize this claimant")
	}
	return nil
}
