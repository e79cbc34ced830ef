package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"

	"dispenser.dev/node/crypto"
	"dispenser.dev/node/dispenser"
	"dispenser.dev/node/merkle"
)

func runJSON(t *testing.T, req map[string]any) Response {
	t.Helper()
	raw, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	var out bytes.Buffer
	run(bytes.NewReader(raw), &out)
	var resp Response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", out.String(), err)
	}
	return resp
}

func TestWrapParseRoundTrip(t *testing.T) {
	payload := hex.EncodeToString([]byte("Airdrop PID:\nx\n"))
	for _, eco := range []string{"native", "evm", "sui", "aptos", "injective", "algorand", "cosmwasm"} {
		signer := ""
		if eco == "cosmwasm" {
			signer = "osmo1qypqxpq9qcrsszg2pvxq6rs0zqg3yyc5lzv7xu"
		}
		wrapped := runJSON(t, map[string]any{"op": "wrap_message", "ecosystem": eco, "payload_hex": payload, "signer": signer})
		if !wrapped.Ok || wrapped.MessageHex == "" {
			t.Fatalf("%s wrap: %+v", eco, wrapped)
		}
		parsed := runJSON(t, map[string]any{"op": "parse_message", "ecosystem": eco, "message_hex": wrapped.MessageHex, "signer": signer})
		if !parsed.Ok || parsed.PayloadHex != payload {
			t.Fatalf("%s parse: %+v", eco, parsed)
		}
	}
}

func TestParseMessageReportsFramingCode(t *testing.T) {
	resp := runJSON(t, map[string]any{"op": "parse_message", "ecosystem": "evm", "message_hex": "00ff"})
	if resp.Ok || resp.Err != string(dispenser.CLAIM_ERR_FRAMING) {
		t.Fatalf("resp=%+v", resp)
	}
}

func TestWrapCosmosNeedsSigner(t *testing.T) {
	resp := runJSON(t, map[string]any{"op": "wrap_message", "ecosystem": "cosmwasm", "payload_hex": "00"})
	if resp.Ok || resp.Err != string(dispenser.CLAIM_ERR_FRAMING) {
		t.Fatalf("resp=%+v", resp)
	}
}

func TestDeriveAddress(t *testing.T) {
	// secp256k1 generator point, the pubkey of private key 1.
	const compressed = "0279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"
	resp := runJSON(t, map[string]any{"op": "derive_address", "ecosystem": "evm", "pubkey_hex": compressed})
	if !resp.Ok || resp.Address != "0x7e5f4552091a69125d5dfcb7b8c2659029395bdf" {
		t.Fatalf("evm: %+v", resp)
	}

	inj := runJSON(t, map[string]any{"op": "derive_address", "ecosystem": "injective", "pubkey_hex": compressed})
	if !inj.Ok || !strings.HasPrefix(inj.Address, "inj1") {
		t.Fatalf("injective: %+v", inj)
	}
	hrp, _, err := dispenser.DecodeBech32(inj.Address)
	if err != nil || hrp != "inj" {
		t.Fatalf("injective address %q does not decode: %v", inj.Address, err)
	}

	cosmos := runJSON(t, map[string]any{"op": "derive_address", "ecosystem": "cosmwasm", "pubkey_hex": compressed, "hrp": "osmo"})
	if !cosmos.Ok || !strings.HasPrefix(cosmos.Address, "osmo1") {
		t.Fatalf("cosmwasm: %+v", cosmos)
	}
	if noHRP := runJSON(t, map[string]any{"op": "derive_address", "ecosystem": "cosmwasm", "pubkey_hex": compressed}); noHRP.Ok {
		t.Fatalf("cosmwasm without hrp must fail")
	}

	ed := strings.Repeat("ab", 32)
	var pub dispenser.Pubkey
	copy(pub[:], bytes.Repeat([]byte{0xab}, 32))
	native := runJSON(t, map[string]any{"op": "derive_address", "ecosystem": "native", "pubkey_hex": ed})
	if !native.Ok || native.Address != pub.String() {
		t.Fatalf("native: %+v", native)
	}
	algo := runJSON(t, map[string]any{"op": "derive_address", "ecosystem": "algorand", "pubkey_hex": ed})
	if !algo.Ok || algo.Address != dispenser.AlgorandAddressFromPubkey(pub).String() {
		t.Fatalf("algorand: %+v", algo)
	}
	sui := dispenser.SuiAddressFromPubkey(pub)
	if resp := runJSON(t, map[string]any{"op": "derive_address", "ecosystem": "sui", "pubkey_hex": ed}); resp.Address != "0x"+hex.EncodeToString(sui[:]) {
		t.Fatalf("sui: %+v", resp)
	}
	if resp := runJSON(t, map[string]any{"op": "derive_address", "ecosystem": "aptos", "pubkey_hex": "abcd"}); resp.Ok {
		t.Fatalf("short ed25519 key must fail")
	}
	if resp := runJSON(t, map[string]any{"op": "derive_address", "ecosystem": "discord", "pubkey_hex": ed}); resp.Ok {
		t.Fatalf("discord has no address")
	}
}

func TestLeafHash(t *testing.T) {
	resp := runJSON(t, map[string]any{"op": "leaf_hash", "ecosystem": "discord", "identity": "80351110224678912", "amount": 42})
	if !resp.Ok {
		t.Fatalf("resp=%+v", resp)
	}
	leaf := dispenser.ClaimInfo{Identity: dispenser.DiscordIdentity{UserID: "80351110224678912"}, Amount: 42}.Encode()
	slot := dispenser.DeriveSlot(leaf)
	if resp.LeafHex != hex.EncodeToString(leaf) || resp.LeafHash != hex.EncodeToString(slot[:]) {
		t.Fatalf("resp=%+v", resp)
	}
	if bad := runJSON(t, map[string]any{"op": "leaf_hash", "ecosystem": "evm", "identity": "0x12", "amount": 1}); bad.Ok {
		t.Fatalf("short evm address must fail")
	}
}

func TestAuthorizationPayload(t *testing.T) {
	id := dispenser.Pubkey{1}
	claimant := dispenser.Pubkey{2}
	resp := runJSON(t, map[string]any{"op": "authorization_payload", "dispenser_id": id.String(), "claimant": claimant.String()})
	if !resp.Ok || resp.Payload != string(dispenser.AuthorizationPayload(id, claimant)) {
		t.Fatalf("resp=%+v", resp)
	}
	if !strings.HasPrefix(resp.Payload, "Airdrop PID:\n"+id.String()+"\n") {
		t.Fatalf("payload=%q", resp.Payload)
	}
}

func TestClaimAuthorizationMessage(t *testing.T) {
	a := crypto.ClaimAuthorization{
		DispenserID:  dispenser.Pubkey{1},
		Claimant:     dispenser.Pubkey{2},
		ClaimantFund: dispenser.Pubkey{2},
		Certificate:  []byte{0xde, 0xad},
	}
	req := map[string]any{"op": "claim_authorization", "dispenser_id": a.DispenserID.String(), "claimant": a.Claimant.String(), "certificate_hex": "dead"}
	resp := runJSON(t, req)
	if !resp.Ok || resp.MessageHex != hex.EncodeToString(crypto.ClaimAuthorizationMessage(a)) {
		t.Fatalf("default fund: %+v", resp)
	}
	req["claimant_fund"] = dispenser.Pubkey{3}.String()
	if other := runJSON(t, req); !other.Ok || other.MessageHex == resp.MessageHex {
		t.Fatalf("fund account must change the message: %+v", other)
	}
}

func TestDecodeCertificateAndInclusion(t *testing.T) {
	leaves := [][]byte{
		dispenser.ClaimInfo{Identity: dispenser.NativeIdentity{Pubkey: dispenser.Pubkey{3}}, Amount: 10}.Encode(),
		dispenser.ClaimInfo{Identity: dispenser.NativeIdentity{Pubkey: dispenser.Pubkey{4}}, Amount: 20}.Encode(),
		dispenser.ClaimInfo{Identity: dispenser.DiscordIdentity{UserID: "u"}, Amount: 30}.Encode(),
	}
	tree := merkle.NewTree(leaves)
	root := tree.Root()
	p, err := tree.Path(1)
	if err != nil {
		t.Fatalf("path: %v", err)
	}
	cert := dispenser.ClaimCertificate{Amount: 20, ProofOfIdentity: dispenser.NativeCertificate{}, ProofOfInclusion: p}

	dec := runJSON(t, map[string]any{"op": "decode_certificate", "certificate_hex": hex.EncodeToString(cert.Encode())})
	if !dec.Ok || dec.Amount != 20 || dec.CertEcosystem != "native" || dec.InclusionIndex != 1 || dec.InclusionDepth != len(p.Hashes) {
		t.Fatalf("decode: %+v", dec)
	}
	if trunc := runJSON(t, map[string]any{"op": "decode_certificate", "certificate_hex": "0100"}); trunc.Ok || trunc.Err != string(dispenser.CLAIM_ERR_PARSE) {
		t.Fatalf("truncated: %+v", trunc)
	}

	path := make([]string, len(p.Hashes))
	for i, h := range p.Hashes {
		path[i] = hex.EncodeToString(h[:])
	}
	req := map[string]any{
		"op":         "verify_inclusion",
		"leaf_hex":   hex.EncodeToString(leaves[1]),
		"root":       hex.EncodeToString(root.Hash[:]),
		"tree_size":  root.Size,
		"path_index": 1,
		"path":       path,
	}
	if resp := runJSON(t, req); !resp.Ok || resp.Included == nil || !*resp.Included {
		t.Fatalf("inclusion: %+v", resp)
	}
	req["leaf_hex"] = hex.EncodeToString(leaves[0])
	if resp := runJSON(t, req); !resp.Ok || resp.Included == nil || *resp.Included {
		t.Fatalf("wrong leaf verified: %+v", resp)
	}
}

func TestUnknownOpAndBadRequest(t *testing.T) {
	if resp := runJSON(t, map[string]any{"op": "mine"}); resp.Ok || resp.Err != "unknown op" {
		t.Fatalf("resp=%+v", resp)
	}
	var out bytes.Buffer
	run(strings.NewReader("{"), &out)
	if !strings.Contains(out.String(), "bad request") {
		t.Fatalf("out=%q", out.String())
	}
}
