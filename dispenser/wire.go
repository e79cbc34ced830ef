package dispenser

import (
	"encoding/binary"
	"unicode/utf8"
)

// Borsh-compatible primitives. Every length prefix is u32le and every read is
// bounds-checked against the remaining buffer.

func readU8(b []byte, off *int) (uint8, error) {
	if *off+1 > len(b) {
		return 0, claimerr(CLAIM_ERR_PARSE, "unexpected EOF (u8)")
	}
	v := b[*off]
	*off++
	return v, nil
}

func readU16le(b []byte, off *int) (uint16, error) {
	if *off+2 > len(b) {
		return 0, claimerr(CLAIM_ERR_PARSE, "unexpected EOF (u16le)")
	}
	v := binary.LittleEndian.Uint16(b[*off : *off+2])
	*off += 2
	return v, nil
}

func readU32le(b []byte, off *int) (uint32, error) {
	if *off+4 > len(b) {
		return 0, claimerr(CLAIM_ERR_PARSE, "unexpected EOF (u32le)")
	}
	v := binary.LittleEndian.Uint32(b[*off : *off+4])
	*off += 4
	return v, nil
}

func readU64le(b []byte, off *int) (uint64, error) {
	if *off+8 > len(b) {
		return 0, claimerr(CLAIM_ERR_PARSE, "unexpected EOF (u64le)")
	}
	v := binary.LittleEndian.Uint64(b[*off : *off+8])
	*off += 8
	return v, nil
}

func readBytes(b []byte, off *int, n int) ([]byte, error) {
	if n < 0 {
		return nil, claimerr(CLAIM_ERR_PARSE, "negative length")
	}
	if *off+n > len(b) {
		return nil, claimerr(CLAIM_ERR_PARSE, "unexpected EOF (bytes)")
	}
	v := b[*off : *off+n]
	*off += n
	return v, nil
}

func readFixed(b []byte, off *int, dst []byte) error {
	v, err := readBytes(b, off, len(dst))
	if err != nil {
		return err
	}
	copy(dst, v)
	return nil
}

// readVec reads a u32le length-prefixed byte vector.
func readVec(b []byte, off *int) ([]byte, error) {
	n, err := readU32le(b, off)
	if err != nil {
		return nil, err
	}
	if uint64(n) > uint64(len(b)-*off) {
		return nil, claimerr(CLAIM_ERR_PARSE, "vector length exceeds buffer")
	}
	v, err := readBytes(b, off, int(n))
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), v...), nil
}

func readString(b []byte, off *int) (string, error) {
	v, err := readVec(b, off)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(v) {
		return "", claimerr(CLAIM_ERR_PARSE, "string is not valid utf-8")
	}
	return string(v), nil
}

func appendU16le(dst []byte, v uint16) []byte {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	return append(dst, buf[:]...)
}

func appendU32le(dst []byte, v uint32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return append(dst, buf[:]...)
}

func appendU64le(dst []byte, v uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return append(dst, buf[:]...)
}

func appendVec(dst []byte, v []byte) []byte {
	dst = appendU32le(dst, uint32(len(v))) // #nosec G115 -- vectors are bounded by request size limits.
	return append(dst, v...)
}

func appendString(dst []byte, s string) []byte {
	return appendVec(dst, []byte(s))
}
