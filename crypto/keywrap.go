package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"encoding/binary"
	"errors"
)

// AES-256 key wrap (RFC 3394), used to keep the guard's ed25519 seed
// encrypted at rest.

var kwIV = []byte{0xa6, 0xa6, 0xa6, 0xa6, 0xa6, 0xa6, 0xa6, 0xa6}

var ErrKeyWrapIntegrity = errors.New("keywrap: integrity check failed")

func kwCipher(kek []byte) (cipher.Block, error) {
	if len(kek) != 32 {
		return nil, errors.New("keywrap: kek must be 32 bytes (AES-256)")
	}
	return aes.NewCipher(kek)
}

// WrapKey wraps key material of 16..4096 bytes, a multiple of 8.
func WrapKey(kek, key []byte) ([]byte, error) {
	if len(key) < 16 || len(key) > 4096 || len(key)%8 != 0 {
		return nil, errors.New("keywrap: key must be 16..4096 bytes and a multiple of 8")
	}
	block, err := kwCipher(kek)
	if err != nil {
		return nil, err
	}
	n := len(key) / 8
	out := make([]byte, 8+len(key))
	copy(out[:8], kwIV)
	copy(out[8:], key)

	var buf [16]byte
	for j := 0; j < 6; j++ {
		for i := 1; i <= n; i++ {
			copy(buf[:8], out[:8])
			copy(buf[8:], out[8*i:8*i+8])
			block.Encrypt(buf[:], buf[:])
			t := uint64(n*j + i)
			binary.BigEndian.PutUint64(out[:8], binary.BigEndian.Uint64(buf[:8])^t)
			copy(out[8*i:8*i+8], buf[8:])
		}
	}
	return out, nil
}

// UnwrapKey reverses WrapKey and fails with ErrKeyWrapIntegrity when the kek
// is wrong or the blob was altered.
func UnwrapKey(kek, wrapped []byte) ([]byte, error) {
	if len(wrapped) < 24 || len(wrapped) > 4104 || len(wrapped)%8 != 0 {
		return nil, errors.New("keywrap: wrapped key must be 24..4104 bytes and a multiple of 8")
	}
	block, err := kwCipher(kek)
	if err != nil {
		return nil, err
	}
	n := len(wrapped)/8 - 1
	out := append([]byte(nil), wrapped...)

	var buf [16]byte
	for j := 5; j >= 0; j-- {
		for i := n; i >= 1; i-- {
			t := uint64(n*j + i)
			binary.BigEndian.PutUint64(buf[:8], binary.BigEndian.Uint64(out[:8])^t)
			copy(buf[8:], out[8*i:8*i+8])
			block.Decrypt(buf[:], buf[:])
			copy(out[:8], buf[:8])
			copy(out[8*i:8*i+8], buf[8:])
		}
	}
	if subtle.ConstantTimeCompare(out[:8], kwIV) != 1 {
		return nil, ErrKeyWrapIntegrity
	}
	return out[8:], nil
}
