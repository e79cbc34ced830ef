package dispenser

import "bytes"

var (
	AptosPrefix = []byte("APTOS\nmessage: ")
	AptosSuffix = []byte("\nnonce: nonce")
)

// AptosAddress is the single-signer authentication key of an ed25519 account.
type AptosAddress [32]byte

type AptosCodec struct{}

func (AptosCodec) Parse(data []byte) ([]byte, error) {
	rest, ok := bytes.CutPrefix(data, AptosPrefix)
	if !ok {
		return nil, framingerr(EcosystemAptos, "missing message prefix")
	}
	payload, ok := bytes.CutSuffix(rest, AptosSuffix)
	if !ok {
		return nil, framingerr(EcosystemAptos, "missing nonce suffix")
	}
	return append([]byte(nil), payload...), nil
}

func (AptosCodec) Wrap(payload []byte) ([]byte, error) {
	out := make([]byte, 0, len(AptosPrefix)+len(payload)+len(AptosSuffix))
	out = append(out, AptosPrefix...)
	out = append(out, payload...)
	return append(out, AptosSuffix...), nil
}

// AptosAddressFromPubkey returns sha3-256(pubkey | 0x00), 0x00 being the
// ed25519 single-key scheme id.
func AptosAddressFromPubkey(pub Pubkey) AptosAddress {
	buf := make([]byte, 0, PubkeyBytes+1)
	buf = append(buf, pub[:]...)
	buf = append(buf, 0x00)
	return AptosAddress(sha3_256(buf))
}
