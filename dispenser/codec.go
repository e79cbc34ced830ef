package dispenser

import "fmt"

// Ecosystem names an external identity provider. The string values are the
// ones used by allocation files and the HTTP API.
type Ecosystem string

const (
	EcosystemDiscord   Ecosystem = "discord"
	EcosystemNative    Ecosystem = "native"
	EcosystemEvm       Ecosystem = "evm"
	EcosystemSui       Ecosystem = "sui"
	EcosystemAptos     Ecosystem = "aptos"
	EcosystemCosmos    Ecosystem = "cosmwasm"
	EcosystemInjective Ecosystem = "injective"
	EcosystemAlgorand  Ecosystem = "algorand"
)

// Ecosystems lists every ecosystem in variant-tag order.
var Ecosystems = []Ecosystem{
	EcosystemDiscord,
	EcosystemNative,
	EcosystemEvm,
	EcosystemSui,
	EcosystemAptos,
	EcosystemCosmos,
	EcosystemInjective,
	EcosystemAlgorand,
}

// MessageCodec strips and re-adds the wallet signing convention of one
// ecosystem. Parse is strict: any deviation in the framing is a
// CLAIM_ERR_FRAMING failure. Wrap is the inverse and exists for wallets,
// tooling and tests.
type MessageCodec interface {
	Parse(data []byte) ([]byte, error)
	Wrap(payload []byte) ([]byte, error)
}

// CodecFor returns the message codec of an ecosystem. Discord has no wallet
// framing (the guard signs a Borsh DiscordMessage) and the Cosmos codec
// returned here accepts any signer.
func CodecFor(e Ecosystem) (MessageCodec, error) {
	switch e {
	case EcosystemNative:
		return NativeOffchainCodec{}, nil
	case EcosystemEvm, EcosystemInjective:
		return EvmCodec{}, nil
	case EcosystemSui:
		return SuiCodec{}, nil
	case EcosystemAptos:
		return AptosCodec{}, nil
	case EcosystemCosmos:
		return CosmosCodec{}, nil
	case EcosystemAlgorand:
		return AlgorandCodec{}, nil
	default:
		return nil, fmt.Errorf("no message codec for ecosystem %q", e)
	}
}

func framingerr(ecosystem Ecosystem, msg string) error {
	return claimerr(CLAIM_ERR_FRAMING, string(ecosystem)+": "+msg)
}
