package dispenser

import (
	"bytes"
	"encoding/base32"
)

var AlgorandPrefix = []byte("MX")

const AlgorandAddressBytes = PubkeyBytes + 4

// AlgorandAddress is pubkey | last 4 bytes of sha512/256(pubkey).
type AlgorandAddress [AlgorandAddressBytes]byte

func (a AlgorandAddress) String() string {
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(a[:])
}

type AlgorandCodec struct{}

func (AlgorandCodec) Parse(data []byte) ([]byte, error) {
	payload, ok := bytes.CutPrefix(data, AlgorandPrefix)
	if !ok {
		return nil, framingerr(EcosystemAlgorand, "missing MX prefix")
	}
	return append([]byte(nil), payload...), nil
}

func (AlgorandCodec) Wrap(payload []byte) ([]byte, error) {
	out := make([]byte, 0, len(AlgorandPrefix)+len(payload))
	out = append(out, AlgorandPrefix...)
	return append(out, payload...), nil
}

func AlgorandAddressFromPubkey(pub Pubkey) AlgorandAddress {
	checksum := sha512_256(pub[:])
	var out AlgorandAddress
	copy(out[:PubkeyBytes], pub[:])
	copy(out[PubkeyBytes:], checksum[len(checksum)-4:])
	return out
}
