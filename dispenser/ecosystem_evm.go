package dispenser

import (
	"bytes"
	"strconv"
)

// EIP-191 personal_sign framing: "\x19Ethereum Signed Message:\n" followed
// by the decimal payload length and the payload.
var EvmPrefix = []byte("\x19Ethereum Signed Message:\n")

type EvmCodec struct{}

func (EvmCodec) Parse(data []byte) ([]byte, error) {
	rest, ok := bytes.CutPrefix(data, EvmPrefix)
	if !ok {
		return nil, framingerr(EcosystemEvm, "missing personal_sign prefix")
	}
	// At most one split satisfies digits == len(payload): a longer digit run
	// would have to encode a smaller number.
	for d := 1; d <= 20 && d <= len(rest); d++ {
		if string(rest[:d]) == strconv.Itoa(len(rest)-d) {
			return append([]byte(nil), rest[d:]...), nil
		}
	}
	return nil, framingerr(EcosystemEvm, "length metadata does not match payload")
}

func (EvmCodec) Wrap(payload []byte) ([]byte, error) {
	n := strconv.Itoa(len(payload))
	out := make([]byte, 0, len(EvmPrefix)+len(n)+len(payload))
	out = append(out, EvmPrefix...)
	out = append(out, n...)
	return append(out, payload...), nil
}

// EvmAddressFromPubkey derives the 20-byte address of an uncompressed
// secp256k1 key: the last 20 bytes of keccak256(X | Y).
func EvmAddressFromPubkey(pub Secp256k1Pubkey) EvmPubkey {
	h := keccak256(pub[1:])
	var out EvmPubkey
	copy(out[:], h[12:])
	return out
}
