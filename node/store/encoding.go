package store

import (
	"encoding/binary"
	"fmt"

	"dispenser.dev/node/dispenser"
)

const accountBytes = dispenser.PubkeyBytes + 8

// encodeAccount lays out a token account as mint(32) || balance(u64le).
func encodeAccount(a dispenser.TokenAccount) []byte {
	out := make([]byte, accountBytes)
	copy(out, a.Mint[:])
	binary.LittleEndian.PutUint64(out[dispenser.PubkeyBytes:], a.Balance)
	return out
}

func decodeAccount(b []byte) (dispenser.TokenAccount, error) {
	var a dispenser.TokenAccount
	if len(b) != accountBytes {
		return a, fmt.Errorf("token account: %d bytes", len(b))
	}
	copy(a.Mint[:], b[:dispenser.PubkeyBytes])
	a.Balance = binary.LittleEndian.Uint64(b[dispenser.PubkeyBytes:])
	return a, nil
}

func eventKey(seq uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], seq)
	return k[:]
}
