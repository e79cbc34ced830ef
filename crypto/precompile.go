package crypto

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/sha3"

	"dispenser.dev/node/dispenser"
)

var (
	ErrInvalidInstructionDataSize = errors.New("precompile: invalid instruction data size")
	ErrInvalidDataOffsets         = errors.New("precompile: invalid data offsets")
	ErrInvalidSignature           = errors.New("precompile: invalid signature")
	ErrInvalidRecoveryID          = errors.New("precompile: invalid recovery id")
)

// PrecompileError names the instruction that failed the precompile step.
type PrecompileError struct {
	Index int
	Err   error
}

func (e *PrecompileError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("instruction %d: %v", e.Index, e.Err)
}

func (e *PrecompileError) Unwrap() error { return e.Err }

// VerifyInstructions runs every signature precompile instruction of a
// transaction the way the host runtime does before any program sees the
// transaction. Instructions for other programs are ignored.
func VerifyInstructions(p Provider, ixs []dispenser.Instruction) error {
	for i, ix := range ixs {
		var err error
		switch ix.ProgramID {
		case dispenser.Ed25519ProgramID:
			err = verifyEd25519(p, ix.Data, ixs)
		case dispenser.Secp256k1ProgramID:
			err = verifySecp256k1(p, ix.Data, ixs)
		default:
			continue
		}
		if err != nil {
			return &PrecompileError{Index: i, Err: err}
		}
	}
	return nil
}

// slice resolves (instruction index, offset, size) against the transaction.
// The ed25519 program uses 0xffff for the instruction being executed.
func slice(current []byte, ixs []dispenser.Instruction, index uint16, offset uint16, size int) ([]byte, error) {
	data := current
	if index != dispenser.Ed25519CurrentIx {
		if int(index) >= len(ixs) {
			return nil, ErrInvalidDataOffsets
		}
		data = ixs[index].Data
	}
	start := int(offset)
	if start+size > len(data) {
		return nil, ErrInvalidDataOffsets
	}
	return data[start : start+size], nil
}

func verifyEd25519(p Provider, data []byte, ixs []dispenser.Instruction) error {
	if len(data) < dispenser.Ed25519OffsetsStart {
		return ErrInvalidInstructionDataSize
	}
	count := int(data[0])
	if count == 0 && len(data) > dispenser.Ed25519OffsetsStart {
		return ErrInvalidInstructionDataSize
	}
	if len(data) < dispenser.Ed25519OffsetsStart+count*dispenser.Ed25519OffsetsSize {
		return ErrInvalidInstructionDataSize
	}
	for i := 0; i < count; i++ {
		o, _ := dispenser.ParseEd25519Offsets(data, dispenser.Ed25519OffsetsStart+i*dispenser.Ed25519OffsetsSize)
		sigBytes, err := slice(data, ixs, o.SignatureInstructionIndex, o.SignatureOffset, dispenser.SignatureBytes)
		if err != nil {
			return err
		}
		pubBytes, err := slice(data, ixs, o.PubkeyInstructionIndex, o.PubkeyOffset, dispenser.PubkeyBytes)
		if err != nil {
			return err
		}
		msg, err := slice(data, ixs, o.MessageInstructionIndex, o.MessageOffset, int(o.MessageSize))
		if err != nil {
			return err
		}
		var pub dispenser.Pubkey
		var sig [dispenser.SignatureBytes]byte
		copy(pub[:], pubBytes)
		copy(sig[:], sigBytes)
		if !p.VerifyEd25519(pub, msg, sig) {
			return ErrInvalidSignature
		}
	}
	return nil
}

// The secp256k1 program has no "current instruction" marker; its indices
// are always absolute.
func absolute(ixs []dispenser.Instruction, index uint8, offset uint16, size int) ([]byte, error) {
	if int(index) >= len(ixs) {
		return nil, ErrInvalidDataOffsets
	}
	data := ixs[index].Data
	start := int(offset)
	if start+size > len(data) {
		return nil, ErrInvalidDataOffsets
	}
	return data[start : start+size], nil
}

func verifySecp256k1(p Provider, data []byte, ixs []dispenser.Instruction) error {
	if len(data) < dispenser.Secp256k1OffsetsStart {
		return ErrInvalidInstructionDataSize
	}
	count := int(data[0])
	if count == 0 && len(data) > dispenser.Secp256k1OffsetsStart {
		return ErrInvalidInstructionDataSize
	}
	if len(data) < dispenser.Secp256k1OffsetsStart+count*dispenser.Secp256k1OffsetsSize {
		return ErrInvalidInstructionDataSize
	}
	for i := 0; i < count; i++ {
		o, _ := dispenser.ParseSecp256k1Offsets(data, dispenser.Secp256k1OffsetsStart+i*dispenser.Secp256k1OffsetsSize)
		sigBytes, err := absolute(ixs, o.SignatureInstructionIndex, o.SignatureOffset, dispenser.SignatureBytes+1)
		if err != nil {
			return err
		}
		addrBytes, err := absolute(ixs, o.EthAddressInstructionIdx, o.EthAddressOffset, dispenser.EvmPubkeyBytes)
		if err != nil {
			return err
		}
		msg, err := absolute(ixs, o.MessageInstructionIndex, o.MessageOffset, int(o.MessageSize))
		if err != nil {
			return err
		}
		recoveryID := sigBytes[dispenser.SignatureBytes]
		if recoveryID > 3 {
			return ErrInvalidRecoveryID
		}
		var sig [dispenser.SignatureBytes]byte
		copy(sig[:], sigBytes)
		got, ok := p.RecoverEthAddress(keccak256(msg), sig, recoveryID)
		if !ok {
			return ErrInvalidSignature
		}
		var want dispenser.EvmPubkey
		copy(want[:], addrBytes)
		if got != want {
			return ErrInvalidSignature
		}
	}
	return nil
}

func keccak256(b []byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write(b)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
