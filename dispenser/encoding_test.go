package dispenser

import (
	"bytes"
	"reflect"
	"strings"
	"testing"
	"time"

	"dispenser.dev/node/merkle"
)

func TestClaimInfo_NativeLayout(t *testing.T) {
	k := newEdKey(1).pub
	got := ClaimInfo{Identity: NativeIdentity{Pubkey: k}, Amount: 100}.Encode()
	want := append([]byte{TagNative}, k[:]...)
	want = append(want, 100, 0, 0, 0, 0, 0, 0, 0)
	if !bytes.Equal(got, want) {
		t.Fatalf("leaf bytes:\n got %x\nwant %x", got, want)
	}
}

func TestClaimInfo_StringLayout(t *testing.T) {
	got := ClaimInfo{Identity: CosmosIdentity{ChainID: "osmo", Address: "osmo1x"}, Amount: 1}.Encode()
	want := []byte{TagCosmos, 4, 0, 0, 0, 'o', 's', 'm', 'o', 6, 0, 0, 0, 'o', 's', 'm', 'o', '1', 'x', 1, 0, 0, 0, 0, 0, 0, 0}
	if !bytes.Equal(got, want) {
		t.Fatalf("leaf bytes:\n got %x\nwant %x", got, want)
	}
}

func TestClaimInfo_RoundTripAllVariants(t *testing.T) {
	ed := newEdKey(2).pub
	ids := []Identity{
		DiscordIdentity{UserID: "user"},
		NativeIdentity{Pubkey: ed},
		EvmIdentity{Address: newSecpKey(2).evm()},
		SuiIdentity{Address: SuiAddressFromPubkey(ed)},
		AptosIdentity{Address: AptosAddressFromPubkey(ed)},
		CosmosIdentity{ChainID: "terra", Address: "terra1abc"},
		InjectiveIdentity{Address: InjectiveAddress(newSecpKey(2).evm())},
		AlgorandIdentity{Pubkey: ed},
	}
	for i, id := range ids {
		enc := ClaimInfo{Identity: id, Amount: uint64(i) * 1000}.Encode()
		if enc[0] != uint8(i) {
			t.Fatalf("%T: tag %d want %d", id, enc[0], i)
		}
		got, err := DecodeClaimInfo(enc)
		if err != nil {
			t.Fatalf("%T decode: %v", id, err)
		}
		if !reflect.DeepEqual(got.Identity, id) || got.Amount != uint64(i)*1000 {
			t.Fatalf("%T round trip mismatch: %+v", id, got)
		}
		if _, err := DecodeClaimInfo(append(enc, 0)); CodeOf(err) != CLAIM_ERR_PARSE {
			t.Fatalf("%T trailing byte: %v", id, err)
		}
		if _, err := DecodeClaimInfo(enc[:len(enc)-1]); CodeOf(err) != CLAIM_ERR_PARSE {
			t.Fatalf("%T truncated: %v", id, err)
		}
	}
	if _, err := DecodeIdentity([]byte{99}); CodeOf(err) != CLAIM_ERR_PARSE {
		t.Fatalf("unknown tag: %v", err)
	}
}

func TestClaimCertificate_RoundTrip(t *testing.T) {
	ed := newEdKey(3).pub
	certs := []IdentityCertificate{
		DiscordCertificate{UserID: "user", VerificationInstructionIndex: 1},
		NativeCertificate{},
		EvmCertificate{Pubkey: newSecpKey(3).evm(), VerificationInstructionIndex: 2},
		SuiCertificate{Pubkey: ed, VerificationInstructionIndex: 3},
		AptosCertificate{Pubkey: ed, VerificationInstructionIndex: 4},
		newSecpKey(3).cosmosCertificate(t, "osmo", []byte("payload")),
		InjectiveCertificate{Pubkey: newSecpKey(3).evm(), VerificationInstructionIndex: 5},
		AlgorandCertificate{Pubkey: ed, VerificationInstructionIndex: 6},
	}
	path := merkle.Path{Index: 9, Hashes: [][merkle.HashSize]byte{{1}, {2}, {3}}}
	for _, c := range certs {
		in := ClaimCertificate{Amount: 42, ProofOfIdentity: c, ProofOfInclusion: path}
		enc := in.Encode()
		got, err := DecodeClaimCertificate(enc)
		if err != nil {
			t.Fatalf("%T decode: %v", c, err)
		}
		if !reflect.DeepEqual(got, in) {
			t.Fatalf("%T round trip mismatch:\n got %+v\nwant %+v", c, got, in)
		}
		if _, err := DecodeClaimCertificate(append(enc, 0)); CodeOf(err) != CLAIM_ERR_PARSE {
			t.Fatalf("%T trailing byte: %v", c, err)
		}
	}
}

func TestDecodeClaimCertificate_HugePathCount(t *testing.T) {
	enc := ClaimCertificate{Amount: 1, ProofOfIdentity: NativeCertificate{}}.Encode()
	enc = enc[:len(enc)-4]
	enc = append(enc, 0xff, 0xff, 0xff, 0xff)
	if _, err := DecodeClaimCertificate(enc); CodeOf(err) != CLAIM_ERR_PARSE {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestConfigAndReceipt_RoundTrip(t *testing.T) {
	cfg := Config{
		MerkleRoot:     merkle.Root{Hash: [32]byte{7}, Size: 3},
		DispenserGuard: newEdKey(4).pub,
		Mint:           testMint,
		Treasury:       testTreasury,
		MaxTransfer:    500,
	}
	got, err := DecodeConfig(cfg.Encode())
	if err != nil || got != cfg {
		t.Fatalf("config round trip: %+v %v", got, err)
	}
	r := Receipt{Slot: [32]byte{1}, Claimant: newEdKey(5).pub, Amount: 9, CreatedAt: time.Unix(1700000000, 5).UTC()}
	dec, err := DecodeReceipt(r.Slot, EncodeReceipt(r))
	if err != nil {
		t.Fatalf("receipt: %v", err)
	}
	if dec.Claimant != r.Claimant || dec.Amount != 9 || dec.Slot != r.Slot || !dec.CreatedAt.Equal(r.CreatedAt) {
		t.Fatalf("receipt mismatch: %+v", dec)
	}
}

func TestDeriveSlot_DependsOnLeafOnly(t *testing.T) {
	leaf := ClaimInfo{Identity: DiscordIdentity{UserID: "a"}, Amount: 1}.Encode()
	if DeriveSlot(leaf) != merkle.HashLeaf(leaf) {
		t.Fatalf("slot must be the leaf hash")
	}
	other := ClaimInfo{Identity: DiscordIdentity{UserID: "a"}, Amount: 2}.Encode()
	if DeriveSlot(leaf) == DeriveSlot(other) {
		t.Fatalf("distinct leaves must have distinct slots")
	}
}

func TestParseIdentity(t *testing.T) {
	k := newSecpKey(1)
	osmo, err := CosmosAddress("osmo", k.uncompressed())
	if err != nil {
		t.Fatalf("cosmos address: %v", err)
	}
	native := newEdKey(2).pub
	cases := []struct {
		eco   Ecosystem
		chain string
		text  string
		want  Identity
	}{
		{EcosystemDiscord, "", "80351110224678912", DiscordIdentity{UserID: "80351110224678912"}},
		{EcosystemNative, "", native.String(), NativeIdentity{Pubkey: native}},
		{EcosystemAlgorand, "", native.String(), AlgorandIdentity{Pubkey: native}},
		{EcosystemEvm, "", k.evm().String(), EvmIdentity{Address: k.evm()}},
		{EcosystemSui, "", "0x" + strings.Repeat("ab", 32), SuiIdentity{Address: [32]byte(bytes.Repeat([]byte{0xab}, 32))}},
		{EcosystemCosmos, "osmo", osmo, CosmosIdentity{ChainID: "osmo", Address: osmo}},
		{EcosystemInjective, "", InjectiveAddress(k.evm()), InjectiveIdentity{Address: InjectiveAddress(k.evm())}},
	}
	for _, tc := range cases {
		got, err := ParseIdentity(tc.eco, tc.chain, tc.text)
		if err != nil {
			t.Fatalf("%s: %v", tc.eco, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %#v want %#v", tc.eco, got, tc.want)
		}
	}

	bad := []struct {
		eco         Ecosystem
		chain, text string
	}{
		{EcosystemDiscord, "", " "},
		{EcosystemAptos, "", "0x1234"},
		{EcosystemCosmos, "", osmo},
		{EcosystemCosmos, "osmosis-1", osmo},
		{EcosystemCosmos, "cosmos", osmo},
		{EcosystemCosmos, "inj", InjectiveAddress(k.evm())},
		{EcosystemInjective, "", osmo},
		{"tron", "", "T9yD14Nj9j7xAB4dbGeiX9h8unkKHxuWwb"},
	}
	for _, tc := range bad {
		if _, err := ParseIdentity(tc.eco, tc.chain, tc.text); err == nil {
			t.Fatalf("%s %q: expected error", tc.eco, tc.text)
		}
	}
}
