package dispenser

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/bech32"
)

// InjectiveHRP is the bech32 prefix of the EVM-style Cosmos chain. Its keys
// sign EIP-191 messages and must go through the Injective certificate.
const InjectiveHRP = "inj"

// ADR-036 arbitrary-message sign doc, amino JSON with sorted keys. Only the
// base64 data and the bech32 signer vary.
var (
	adr036Head   = []byte(`{"account_number":"0","chain_id":"","fee":{"amount":[],"gas":"0"},"memo":"","msgs":[{"type":"sign/MsgSignData","value":{"data":"`)
	adr036Signer = []byte(`","signer":"`)
	adr036Tail   = []byte(`"}}],"sequence":"0"}`)
)

// CosmosCodec frames payloads as ADR-036 sign docs. Wrap needs Signer; Parse
// checks it when set.
type CosmosCodec struct {
	Signer string
}

func (c CosmosCodec) Parse(data []byte) ([]byte, error) {
	payload, signer, err := ParseADR036(data)
	if err != nil {
		return nil, err
	}
	if c.Signer != "" && signer != c.Signer {
		return nil, framingerr(EcosystemCosmos, "signer does not match")
	}
	return payload, nil
}

func (c CosmosCodec) Wrap(payload []byte) ([]byte, error) {
	if c.Signer == "" || !isSignerText(c.Signer) {
		return nil, framingerr(EcosystemCosmos, "sign doc needs a bech32 signer")
	}
	data := base64.StdEncoding.EncodeToString(payload)
	out := make([]byte, 0, len(adr036Head)+len(data)+len(adr036Signer)+len(c.Signer)+len(adr036Tail))
	out = append(out, adr036Head...)
	out = append(out, data...)
	out = append(out, adr036Signer...)
	out = append(out, c.Signer...)
	return append(out, adr036Tail...), nil
}

// ParseADR036 extracts the payload and the signer from a canonical sign doc.
func ParseADR036(data []byte) ([]byte, string, error) {
	rest, ok := bytes.CutPrefix(data, adr036Head)
	if !ok {
		return nil, "", framingerr(EcosystemCosmos, "not an ADR-036 sign doc")
	}
	rest, ok = bytes.CutSuffix(rest, adr036Tail)
	if !ok {
		return nil, "", framingerr(EcosystemCosmos, "not an ADR-036 sign doc")
	}
	encoded, signer, ok := bytes.Cut(rest, adr036Signer)
	if !ok {
		return nil, "", framingerr(EcosystemCosmos, "missing signer")
	}
	if !isSignerText(string(signer)) {
		return nil, "", framingerr(EcosystemCosmos, "malformed signer")
	}
	payload, err := base64.StdEncoding.DecodeString(string(encoded))
	if err != nil {
		return nil, "", framingerr(EcosystemCosmos, "malformed base64 data")
	}
	if base64.StdEncoding.EncodeToString(payload) != string(encoded) {
		return nil, "", framingerr(EcosystemCosmos, "non-canonical base64 data")
	}
	return payload, string(signer), nil
}

func isSignerText(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x21 || c > 0x7e || c == '"' || c == '\\' {
			return false
		}
	}
	return true
}

// CosmosAddress derives bech32(hrp, ripemd160(sha256(compressed pubkey))).
// The chain id of a generic Cosmos chain is its bech32 prefix.
func CosmosAddress(hrp string, pub Secp256k1Pubkey) (string, error) {
	key, err := btcec.ParsePubKey(pub[:])
	if err != nil {
		return "", fmt.Errorf("cosmos address: %w", err)
	}
	digest := sha256Sum(key.SerializeCompressed())
	return encodeBech32(hrp, ripemd160Sum(digest[:]))
}

// InjectiveAddress is bech32("inj", evm address).
func InjectiveAddress(addr EvmPubkey) string {
	s, err := encodeBech32(InjectiveHRP, addr[:])
	if err != nil {
		// Constant hrp and a 20-byte body always encode.
		panic(err)
	}
	return s
}

func encodeBech32(hrp string, data []byte) (string, error) {
	if hrp == "" || strings.ToLower(hrp) != hrp {
		return "", fmt.Errorf("bech32: invalid prefix %q", hrp)
	}
	conv, err := bech32.ConvertBits(data, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("bech32: %w", err)
	}
	return bech32.Encode(hrp, conv)
}

// DecodeBech32 returns the prefix and the 8-bit body of a bech32 address.
func DecodeBech32(addr string) (string, []byte, error) {
	hrp, conv, err := bech32.Decode(addr)
	if err != nil {
		return "", nil, fmt.Errorf("bech32: %w", err)
	}
	data, err := bech32.ConvertBits(conv, 5, 8, false)
	if err != nil {
		return "", nil, fmt.Errorf("bech32: %w", err)
	}
	return hrp, data, nil
}
