package dispenser

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Variant tags shared by Identity and IdentityCertificate. They are part of
// the leaf encoding and must never be renumbered.
const (
	TagDiscord   uint8 = 0
	TagNative    uint8 = 1
	TagEvm       uint8 = 2
	TagSui       uint8 = 3
	TagAptos     uint8 = 4
	TagCosmos    uint8 = 5
	TagInjective uint8 = 6
	TagAlgorand  uint8 = 7
)

// Identity is a verified external identity. The set of variants is closed.
type Identity interface {
	Ecosystem() Ecosystem
	String() string
	appendIdentity(dst []byte) []byte
}

// DiscordIdentity holds the Discord account id (snowflake). Usernames can
// change hands, so leaves never carry them.
type DiscordIdentity struct{ UserID string }
type NativeIdentity struct{ Pubkey Pubkey }
type EvmIdentity struct{ Address EvmPubkey }
type SuiIdentity struct{ Address SuiAddress }
type AptosIdentity struct{ Address AptosAddress }
type CosmosIdentity struct{ ChainID, Address string }
type InjectiveIdentity struct{ Address string }
type AlgorandIdentity struct{ Pubkey Pubkey }

func (DiscordIdentity) Ecosystem() Ecosystem   { return EcosystemDiscord }
func (NativeIdentity) Ecosystem() Ecosystem    { return EcosystemNative }
func (EvmIdentity) Ecosystem() Ecosystem       { return EcosystemEvm }
func (SuiIdentity) Ecosystem() Ecosystem       { return EcosystemSui }
func (AptosIdentity) Ecosystem() Ecosystem     { return EcosystemAptos }
func (CosmosIdentity) Ecosystem() Ecosystem    { return EcosystemCosmos }
func (InjectiveIdentity) Ecosystem() Ecosystem { return EcosystemInjective }
func (AlgorandIdentity) Ecosystem() Ecosystem  { return EcosystemAlgorand }

func (i DiscordIdentity) String() string   { return i.UserID }
func (i NativeIdentity) String() string    { return i.Pubkey.String() }
func (i EvmIdentity) String() string       { return i.Address.String() }
func (i SuiIdentity) String() string       { return fmt.Sprintf("0x%x", i.Address[:]) }
func (i AptosIdentity) String() string     { return fmt.Sprintf("0x%x", i.Address[:]) }
func (i CosmosIdentity) String() string    { return i.Address }
func (i InjectiveIdentity) String() string { return i.Address }
func (i AlgorandIdentity) String() string  { return AlgorandAddressFromPubkey(i.Pubkey).String() }

func (i DiscordIdentity) appendIdentity(dst []byte) []byte {
	return appendString(append(dst, TagDiscord), i.UserID)
}

func (i NativeIdentity) appendIdentity(dst []byte) []byte {
	return append(append(dst, TagNative), i.Pubkey[:]...)
}

func (i EvmIdentity) appendIdentity(dst []byte) []byte {
	return append(append(dst, TagEvm), i.Address[:]...)
}

func (i SuiIdentity) appendIdentity(dst []byte) []byte {
	return append(append(dst, TagSui), i.Address[:]...)
}

func (i AptosIdentity) appendIdentity(dst []byte) []byte {
	return append(append(dst, TagAptos), i.Address[:]...)
}

func (i CosmosIdentity) appendIdentity(dst []byte) []byte {
	dst = appendString(append(dst, TagCosmos), i.ChainID)
	return appendString(dst, i.Address)
}

func (i InjectiveIdentity) appendIdentity(dst []byte) []byte {
	return appendString(append(dst, TagInjective), i.Address)
}

func (i AlgorandIdentity) appendIdentity(dst []byte) []byte {
	return append(append(dst, TagAlgorand), i.Pubkey[:]...)
}

func EncodeIdentity(id Identity) []byte {
	return id.appendIdentity(nil)
}

func readIdentity(b []byte, off *int) (Identity, error) {
	tag, err := readU8(b, off)
	if err != nil {
		return nil, err
	}
	switch tag {
	case TagDiscord:
		name, err := readString(b, off)
		if err != nil {
			return nil, err
		}
		return DiscordIdentity{UserID: name}, nil
	case TagNative:
		var id NativeIdentity
		if err := readFixed(b, off, id.Pubkey[:]); err != nil {
			return nil, err
		}
		return id, nil
	case TagEvm:
		var id EvmIdentity
		if err := readFixed(b, off, id.Address[:]); err != nil {
			return nil, err
		}
		return id, nil
	case TagSui:
		var id SuiIdentity
		if err := readFixed(b, off, id.Address[:]); err != nil {
			return nil, err
		}
		return id, nil
	case TagAptos:
		var id AptosIdentity
		if err := readFixed(b, off, id.Address[:]); err != nil {
			return nil, err
		}
		return id, nil
	case TagCosmos:
		chainID, err := readString(b, off)
		if err != nil {
			return nil, err
		}
		addr, err := readString(b, off)
		if err != nil {
			return nil, err
		}
		return CosmosIdentity{ChainID: chainID, Address: addr}, nil
	case TagInjective:
		addr, err := readString(b, off)
		if err != nil {
			return nil, err
		}
		return InjectiveIdentity{Address: addr}, nil
	case TagAlgorand:
		var id AlgorandIdentity
		if err := readFixed(b, off, id.Pubkey[:]); err != nil {
			return nil, err
		}
		return id, nil
	default:
		return nil, claimerr(CLAIM_ERR_PARSE, fmt.Sprintf("unknown identity tag %d", tag))
	}
}

// DecodeIdentity parses a serialized identity. It is used by tooling and
// lookups; the claim path only obtains identities from the resolver.
func DecodeIdentity(b []byte) (Identity, error) {
	off := 0
	id, err := readIdentity(b, &off)
	if err != nil {
		return nil, err
	}
	if off != len(b) {
		return nil, claimerr(CLAIM_ERR_PARSE, "trailing bytes")
	}
	return id, nil
}

// ParseIdentity reads the text form used by allocation files: base58 for
// native and Algorand keys, 0x-hex for EVM, Sui and Aptos, bech32 for
// Cosmos and Injective, and the plain account id for Discord. chainID is
// only read for Cosmos, where it must be the address's bech32 prefix.
func ParseIdentity(e Ecosystem, chainID, text string) (Identity, error) {
	text = strings.TrimSpace(text)
	switch e {
	case EcosystemDiscord:
		if text == "" {
			return nil, errors.New("discord: empty user id")
		}
		return DiscordIdentity{UserID: text}, nil
	case EcosystemNative:
		pub, err := ParsePubkey(text)
		if err != nil {
			return nil, err
		}
		return NativeIdentity{Pubkey: pub}, nil
	case EcosystemAlgorand:
		pub, err := ParsePubkey(text)
		if err != nil {
			return nil, err
		}
		return AlgorandIdentity{Pubkey: pub}, nil
	case EcosystemEvm:
		addr, err := ParseEvmPubkey(text)
		if err != nil {
			return nil, err
		}
		return EvmIdentity{Address: addr}, nil
	case EcosystemSui:
		var id SuiIdentity
		if err := parseHex32(text, id.Address[:]); err != nil {
			return nil, err
		}
		return id, nil
	case EcosystemAptos:
		var id AptosIdentity
		if err := parseHex32(text, id.Address[:]); err != nil {
			return nil, err
		}
		return id, nil
	case EcosystemCosmos:
		if chainID == "" {
			return nil, errors.New("cosmwasm: chain_id is required")
		}
		hrp, _, err := DecodeBech32(text)
		if err != nil {
			return nil, err
		}
		// Claims derive the address with the chain id as prefix, so any
		// other pairing is a leaf nobody can claim.
		if hrp != chainID {
			return nil, fmt.Errorf("cosmwasm: address prefix %q does not match chain_id %q", hrp, chainID)
		}
		if hrp == InjectiveHRP {
			return nil, errors.New("cosmwasm: inj addresses belong to the injective ecosystem")
		}
		return CosmosIdentity{ChainID: chainID, Address: text}, nil
	case EcosystemInjective:
		hrp, _, err := DecodeBech32(text)
		if err != nil {
			return nil, err
		}
		if hrp != InjectiveHRP {
			return nil, fmt.Errorf("injective: unexpected prefix %q", hrp)
		}
		return InjectiveIdentity{Address: text}, nil
	default:
		return nil, fmt.Errorf("unknown ecosystem %q", e)
	}
}

func parseHex32(s string, dst []byte) error {
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X"))
	if err != nil {
		return err
	}
	if len(b) != len(dst) {
		return fmt.Errorf("address must be %d bytes (got %d)", len(dst), len(b))
	}
	copy(dst, b)
	return nil
}
