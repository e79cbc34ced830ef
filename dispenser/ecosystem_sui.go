package dispenser

import "bytes"

// Sui personal messages are signed as blake2b-256 over
//
//	intent (03 00 00) | uleb128 length | payload
//
// so the ed25519 precompile attests the 32-byte digest, not the framing.
var SuiIntent = []byte{0x03, 0x00, 0x00}

type SuiAddress [32]byte

type SuiCodec struct{}

func (SuiCodec) Parse(data []byte) ([]byte, error) {
	rest, ok := bytes.CutPrefix(data, SuiIntent)
	if !ok {
		return nil, framingerr(EcosystemSui, "missing personal message intent")
	}
	n, used, ok := readULEB128(rest)
	if !ok {
		return nil, framingerr(EcosystemSui, "malformed length")
	}
	payload := rest[used:]
	if uint64(len(payload)) != n {
		return nil, framingerr(EcosystemSui, "length does not match payload")
	}
	return append([]byte(nil), payload...), nil
}

func (SuiCodec) Wrap(payload []byte) ([]byte, error) {
	out := make([]byte, 0, len(SuiIntent)+5+len(payload))
	out = append(out, SuiIntent...)
	out = appendULEB128(out, uint64(len(payload)))
	return append(out, payload...), nil
}

// SuiDigest is the value a Sui wallet signs for payload.
func SuiDigest(payload []byte) [32]byte {
	framed, _ := SuiCodec{}.Wrap(payload)
	return blake2b256(framed)
}

// SuiAddressFromPubkey returns blake2b-256(0x00 | pubkey).
func SuiAddressFromPubkey(pub Pubkey) SuiAddress {
	buf := make([]byte, 0, 1+PubkeyBytes)
	buf = append(buf, 0x00)
	buf = append(buf, pub[:]...)
	return SuiAddress(blake2b256(buf))
}

// readULEB128 decodes a minimally encoded u32 length.
func readULEB128(b []byte) (uint64, int, bool) {
	var v uint64
	for i := 0; i < 5 && i < len(b); i++ {
		c := b[i]
		v |= uint64(c&0x7f) << (7 * i)
		if c&0x80 == 0 {
			if i > 0 && c == 0 {
				return 0, 0, false
			}
			if v > 0xffffffff {
				return 0, 0, false
			}
			return v, i + 1, true
		}
	}
	return 0, 0, false
}

func appendULEB128(dst []byte, v uint64) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(dst, c)
		}
		dst = append(dst, c|0x80)
	}
}
