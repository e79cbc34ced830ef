package dispenser

import (
	"crypto/sha512"

	sha256 "github.com/minio/sha256-simd"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // cosmos addresses are defined over RIPEMD-160.
	"golang.org/x/crypto/sha3"
)

func sha3_256(b []byte) [32]byte {
	return sha3.Sum256(b)
}

func keccak256(parts ...[]byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		_, _ = h.Write(p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func blake2b256(b []byte) [32]byte {
	return blake2b.Sum256(b)
}

func sha512_256(b []byte) [32]byte {
	return sha512.Sum512_256(b)
}

func sha256Sum(b []byte) [32]byte {
	return sha256.Sum256(b)
}

func ripemd160Sum(b []byte) []byte {
	h := ripemd160.New()
	_, _ = h.Write(b)
	return h.Sum(nil)
}
