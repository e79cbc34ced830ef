package dispenser

import "encoding/binary"

// Instruction is one entry of a claim transaction. Besides the claim itself a
// transaction may carry signature-verification instructions addressed to the
// host's precompiled programs; the host executes those before the claim runs
// and aborts the transaction if any signature is invalid.
type Instruction struct {
	ProgramID Pubkey
	Data      []byte
}

var (
	Ed25519ProgramID   = mustPubkey("Ed25519SigVerify111111111111111111111111111")
	Secp256k1ProgramID = mustPubkey("KeccakSecp256k11111111111111111111111111111")
)

// ed25519 precompile layout for a single signature whose data lives in the
// instruction itself:
//
//	num u8 | padding u8 | 7 x u16le offsets | pubkey 32 | signature 64 | message
const (
	Ed25519OffsetsStart  = 2
	Ed25519OffsetsSize   = 14
	Ed25519PubkeyOffset  = Ed25519OffsetsStart + Ed25519OffsetsSize
	Ed25519SigOffset     = Ed25519PubkeyOffset + PubkeyBytes
	Ed25519MessageOffset = Ed25519SigOffset + SignatureBytes
	Ed25519CurrentIx     = 0xffff
)

// Ed25519Offsets is one signature descriptor of the ed25519 precompile.
type Ed25519Offsets struct {
	SignatureOffset           uint16
	SignatureInstructionIndex uint16
	PubkeyOffset              uint16
	PubkeyInstructionIndex    uint16
	MessageOffset             uint16
	MessageSize               uint16
	MessageInstructionIndex   uint16
}

func (o Ed25519Offsets) appendTo(dst []byte) []byte {
	dst = appendU16le(dst, o.SignatureOffset)
	dst = appendU16le(dst, o.SignatureInstructionIndex)
	dst = appendU16le(dst, o.PubkeyOffset)
	dst = appendU16le(dst, o.PubkeyInstructionIndex)
	dst = appendU16le(dst, o.MessageOffset)
	dst = appendU16le(dst, o.MessageSize)
	return appendU16le(dst, o.MessageInstructionIndex)
}

// ParseEd25519Offsets reads the descriptor at byte offset off.
func ParseEd25519Offsets(data []byte, off int) (Ed25519Offsets, bool) {
	if off < 0 || off+Ed25519OffsetsSize > len(data) {
		return Ed25519Offsets{}, false
	}
	u := func(i int) uint16 { return binary.LittleEndian.Uint16(data[off+2*i:]) }
	return Ed25519Offsets{
		SignatureOffset:           u(0),
		SignatureInstructionIndex: u(1),
		PubkeyOffset:              u(2),
		PubkeyInstructionIndex:    u(3),
		MessageOffset:             u(4),
		MessageSize:               u(5),
		MessageInstructionIndex:   u(6),
	}, true
}

// NewEd25519Instruction builds the single-signature precompile instruction
// in the layout the binding check expects.
func NewEd25519Instruction(pub Pubkey, sig [SignatureBytes]byte, message []byte) Instruction {
	offsets := Ed25519Offsets{
		SignatureOffset:           Ed25519SigOffset,
		SignatureInstructionIndex: Ed25519CurrentIx,
		PubkeyOffset:              Ed25519PubkeyOffset,
		PubkeyInstructionIndex:    Ed25519CurrentIx,
		MessageOffset:             Ed25519MessageOffset,
		MessageSize:               uint16(len(message)), // #nosec G115 -- messages are bounded by transaction size.
		MessageInstructionIndex:   Ed25519CurrentIx,
	}
	data := make([]byte, 0, Ed25519MessageOffset+len(message))
	data = append(data, 1, 0)
	data = offsets.appendTo(data)
	data = append(data, pub[:]...)
	data = append(data, sig[:]...)
	data = append(data, message...)
	return Instruction{ProgramID: Ed25519ProgramID, Data: data}
}

// secp256k1 precompile layout for a single signature:
//
//	num u8 | sig_off u16 | sig_ix u8 | eth_off u16 | eth_ix u8 |
//	msg_off u16 | msg_size u16 | msg_ix u8 | eth address 20 |
//	signature 64 | recovery id u8 | message
const (
	Secp256k1OffsetsStart  = 1
	Secp256k1OffsetsSize   = 11
	Secp256k1EthOffset     = Secp256k1OffsetsStart + Secp256k1OffsetsSize
	Secp256k1SigOffset     = Secp256k1EthOffset + EvmPubkeyBytes
	Secp256k1MessageOffset = Secp256k1SigOffset + SignatureBytes + 1
)

// Secp256k1Offsets is one signature descriptor of the secp256k1 precompile.
// Instruction indices are absolute positions in the transaction.
type Secp256k1Offsets struct {
	SignatureOffset           uint16
	SignatureInstructionIndex uint8
	EthAddressOffset          uint16
	EthAddressInstructionIdx  uint8
	MessageOffset             uint16
	MessageSize               uint16
	MessageInstructionIndex   uint8
}

func (o Secp256k1Offsets) appendTo(dst []byte) []byte {
	dst = appendU16le(dst, o.SignatureOffset)
	dst = append(dst, o.SignatureInstructionIndex)
	dst = appendU16le(dst, o.EthAddressOffset)
	dst = append(dst, o.EthAddressInstructionIdx)
	dst = appendU16le(dst, o.MessageOffset)
	dst = appendU16le(dst, o.MessageSize)
	return append(dst, o.MessageInstructionIndex)
}

func ParseSecp256k1Offsets(data []byte, off int) (Secp256k1Offsets, bool) {
	if off < 0 || off+Secp256k1OffsetsSize > len(data) {
		return Secp256k1Offsets{}, false
	}
	d := data[off:]
	return Secp256k1Offsets{
		SignatureOffset:           binary.LittleEndian.Uint16(d[0:]),
		SignatureInstructionIndex: d[2],
		EthAddressOffset:          binary.LittleEndian.Uint16(d[3:]),
		EthAddressInstructionIdx:  d[5],
		MessageOffset:             binary.LittleEndian.Uint16(d[6:]),
		MessageSize:               binary.LittleEndian.Uint16(d[8:]),
		MessageInstructionIndex:   d[10],
	}, true
}

// NewSecp256k1Instruction builds the single-signature precompile instruction
// placed at position index of the transaction.
func NewSecp256k1Instruction(addr EvmPubkey, sig [SignatureBytes]byte, recoveryID uint8, message []byte, index uint8) Instruction {
	offsets := Secp256k1Offsets{
		SignatureOffset:           Secp256k1SigOffset,
		SignatureInstructionIndex: index,
		EthAddressOffset:          Secp256k1EthOffset,
		EthAddressInstructionIdx:  index,
		MessageOffset:             Secp256k1MessageOffset,
		MessageSize:               uint16(len(message)), // #nosec G115 -- messages are bounded by transaction size.
		MessageInstructionIndex:   index,
	}
	data := make([]byte, 0, Secp256k1MessageOffset+len(message))
	data = append(data, 1)
	data = offsets.appendTo(data)
	data = append(data, addr[:]...)
	data = append(data, sig[:]...)
	data = append(data, recoveryID)
	data = append(data, message...)
	return Instruction{ProgramID: Secp256k1ProgramID, Data: data}
}
