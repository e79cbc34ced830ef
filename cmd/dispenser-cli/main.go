// Command dispenser-cli is a JSON-over-stdio harness around the claim codecs.
// It reads one request object from stdin and writes one response object to
// stdout, so wallets and fixture generators in other languages can check
// their framing against this implementation.
package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"

	"dispenser.dev/node/crypto"
	"dispenser.dev/node/dispenser"
	"dispenser.dev/node/merkle"
)

type Request struct {
	Op string `json:"op"`

	Ecosystem  string `json:"ecosystem,omitempty"`
	PayloadHex string `json:"payload_hex,omitempty"`
	MessageHex string `json:"message_hex,omitempty"`
	Signer     string `json:"signer,omitempty"`

	PubkeyHex string `json:"pubkey_hex,omitempty"`
	HRP       string `json:"hrp,omitempty"`

	ChainID  string `json:"chain_id,omitempty"`
	Identity string `json:"identity,omitempty"`
	Amount   uint64 `json:"amount,omitempty"`

	DispenserID  string `json:"dispenser_id,omitempty"`
	Claimant     string `json:"claimant,omitempty"`
	ClaimantFund string `json:"claimant_fund,omitempty"`

	CertificateHex string `json:"certificate_hex,omitempty"`

	LeafHex   string   `json:"leaf_hex,omitempty"`
	Root      string   `json:"root,omitempty"`
	TreeSize  uint64   `json:"tree_size,omitempty"`
	PathIndex uint64   `json:"path_index,omitempty"`
	PathHex   []string `json:"path,omitempty"`
}

type Response struct {
	Ok  bool   `json:"ok"`
	Err string `json:"err,omitempty"`

	PayloadHex string `json:"payload_hex,omitempty"`
	MessageHex string `json:"message_hex,omitempty"`
	Payload    string `json:"payload,omitempty"`

	Address string `json:"address,omitempty"`

	LeafHex  string `json:"leaf_hex,omitempty"`
	LeafHash string `json:"leaf_hash,omitempty"`

	Amount         uint64 `json:"amount,omitempty"`
	CertEcosystem  string `json:"cert_ecosystem,omitempty"`
	InclusionIndex uint64 `json:"inclusion_index,omitempty"`
	InclusionDepth int    `json:"inclusion_depth,omitempty"`

	Included *bool `json:"included,omitempty"`
}

func writeResp(w io.Writer, resp Response) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(resp)
}

// writeClaimErr reports a dispenser failure by its error code, so callers
// can match on it without parsing the message.
func writeClaimErr(w io.Writer, err error) {
	if code := dispenser.CodeOf(err); code != "" {
		writeResp(w, Response{Ok: false, Err: string(code)})
		return
	}
	writeResp(w, Response{Ok: false, Err: err.Error()})
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
}

func codecFor(eco dispenser.Ecosystem, signer string) (dispenser.MessageCodec, error) {
	if eco == dispenser.EcosystemCosmos {
		return dispenser.CosmosCodec{Signer: signer}, nil
	}
	return dispenser.CodecFor(eco)
}

// secp256k1Key accepts a compressed or uncompressed SEC1 key.
func secp256k1Key(raw []byte) (dispenser.Secp256k1Pubkey, error) {
	var out dispenser.Secp256k1Pubkey
	pub, err := btcec.ParsePubKey(raw)
	if err != nil {
		return out, err
	}
	copy(out[:], pub.SerializeUncompressed())
	return out, nil
}

func ed25519Key(raw []byte) (dispenser.Pubkey, error) {
	var out dispenser.Pubkey
	if len(raw) != dispenser.PubkeyBytes {
		return out, fmt.Errorf("ed25519 pubkey must be %d bytes", dispenser.PubkeyBytes)
	}
	copy(out[:], raw)
	return out, nil
}

func deriveAddress(eco dispenser.Ecosystem, raw []byte, hrp string) (string, error) {
	switch eco {
	case dispenser.EcosystemEvm, dispenser.EcosystemInjective, dispenser.EcosystemCosmos:
		pub, err := secp256k1Key(raw)
		if err != nil {
			return "", err
		}
		switch eco {
		case dispenser.EcosystemEvm:
			return dispenser.EvmAddressFromPubkey(pub).String(), nil
		case dispenser.EcosystemInjective:
			return dispenser.InjectiveAddress(dispenser.EvmAddressFromPubkey(pub)), nil
		default:
			if hrp == "" {
				return "", errors.New("cosmwasm address needs hrp")
			}
			return dispenser.CosmosAddress(hrp, pub)
		}
	case dispenser.EcosystemNative, dispenser.EcosystemSui, dispenser.EcosystemAptos, dispenser.EcosystemAlgorand:
		pub, err := ed25519Key(raw)
		if err != nil {
			return "", err
		}
		switch eco {
		case dispenser.EcosystemNative:
			return pub.String(), nil
		case dispenser.EcosystemSui:
			a := dispenser.SuiAddressFromPubkey(pub)
			return "0x" + hex.EncodeToString(a[:]), nil
		case dispenser.EcosystemAptos:
			a := dispenser.AptosAddressFromPubkey(pub)
			return "0x" + hex.EncodeToString(a[:]), nil
		default:
			return dispenser.AlgorandAddressFromPubkey(pub).String(), nil
		}
	default:
		return "", fmt.Errorf("no address derivation for ecosystem %q", eco)
	}
}

func main() {
	run(os.Stdin, os.Stdout)
}

func run(r io.Reader, w io.Writer) {
	var req Request
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		writeResp(w, Response{Ok: false, Err: fmt.Sprintf("bad request: %v", err)})
		return
	}
	eco := dispenser.Ecosystem(strings.ToLower(req.Ecosystem))

	switch req.Op {
	case "wrap_message":
		payload, err := decodeHex(req.PayloadHex)
		if err != nil {
			writeResp(w, Response{Ok: false, Err: "bad payload hex"})
			return
		}
		codec, err := codecFor(eco, req.Signer)
		if err != nil {
			writeResp(w, Response{Ok: false, Err: err.Error()})
			return
		}
		msg, err := codec.Wrap(payload)
		if err != nil {
			writeClaimErr(w, err)
			return
		}
		writeResp(w, Response{Ok: true, MessageHex: hex.EncodeToString(msg)})

	case "parse_message":
		msg, err := decodeHex(req.MessageHex)
		if err != nil {
			writeResp(w, Response{Ok: false, Err: "bad message hex"})
			return
		}
		codec, err := codecFor(eco, req.Signer)
		if err != nil {
			writeResp(w, Response{Ok: false, Err: err.Error()})
			return
		}
		payload, err := codec.Parse(msg)
		if err != nil {
			writeClaimErr(w, err)
			return
		}
		writeResp(w, Response{Ok: true, PayloadHex: hex.EncodeToString(payload)})

	case "derive_address":
		raw, err := decodeHex(req.PubkeyHex)
		if err != nil {
			writeResp(w, Response{Ok: false, Err: "bad pubkey hex"})
			return
		}
		addr, err := deriveAddress(eco, raw, req.HRP)
		if err != nil {
			writeResp(w, Response{Ok: false, Err: err.Error()})
			return
		}
		writeResp(w, Response{Ok: true, Address: addr})

	case "leaf_hash":
		id, err := dispenser.ParseIdentity(eco, req.ChainID, req.Identity)
		if err != nil {
			writeResp(w, Response{Ok: false, Err: err.Error()})
			return
		}
		leaf := dispenser.ClaimInfo{Identity: id, Amount: req.Amount}.Encode()
		slot := dispenser.DeriveSlot(leaf)
		writeResp(w, Response{Ok: true, LeafHex: hex.EncodeToString(leaf), LeafHash: hex.EncodeToString(slot[:])})

	case "authorization_payload":
		id, err := dispenser.ParsePubkey(req.DispenserID)
		if err != nil {
			writeResp(w, Response{Ok: false, Err: "bad dispenser_id"})
			return
		}
		claimant, err := dispenser.ParsePubkey(req.Claimant)
		if err != nil {
			writeResp(w, Response{Ok: false, Err: "bad claimant"})
			return
		}
		payload := dispenser.AuthorizationPayload(id, claimant)
		writeResp(w, Response{Ok: true, Payload: string(payload), PayloadHex: hex.EncodeToString(payload)})

	case "claim_authorization":
		var a crypto.ClaimAuthorization
		var err error
		if a.DispenserID, err = dispenser.ParsePubkey(req.DispenserID); err != nil {
			writeResp(w, Response{Ok: false, Err: "bad dispenser_id"})
			return
		}
		if a.Claimant, err = dispenser.ParsePubkey(req.Claimant); err != nil {
			writeResp(w, Response{Ok: false, Err: "bad claimant"})
			return
		}
		a.ClaimantFund = a.Claimant
		if req.ClaimantFund != "" {
			if a.ClaimantFund, err = dispenser.ParsePubkey(req.ClaimantFund); err != nil {
				writeResp(w, Response{Ok: false, Err: "bad claimant_fund"})
				return
			}
		}
		if a.Certificate, err = decodeHex(req.CertificateHex); err != nil || len(a.Certificate) == 0 {
			writeResp(w, Response{Ok: false, Err: "bad certificate hex"})
			return
		}
		writeResp(w, Response{Ok: true, MessageHex: hex.EncodeToString(crypto.ClaimAuthorizationMessage(a))})

	case "decode_certificate":
		raw, err := decodeHex(req.CertificateHex)
		if err != nil {
			writeResp(w, Response{Ok: false, Err: "bad certificate hex"})
			return
		}
		cert, err := dispenser.DecodeClaimCertificate(raw)
		if err != nil {
			writeClaimErr(w, err)
			return
		}
		writeResp(w, Response{
			Ok:             true,
			Amount:         cert.Amount,
			CertEcosystem:  string(cert.ProofOfIdentity.Ecosystem()),
			InclusionIndex: cert.ProofOfInclusion.Index,
			InclusionDepth: len(cert.ProofOfInclusion.Hashes),
		})

	case "verify_inclusion":
		leaf, err := decodeHex(req.LeafHex)
		if err != nil {
			writeResp(w, Response{Ok: false, Err: "bad leaf hex"})
			return
		}
		h, err := merkle.ParseHash(req.Root)
		if err != nil {
			writeResp(w, Response{Ok: false, Err: "bad root"})
			return
		}
		p := merkle.Path{Index: req.PathIndex}
		for _, s := range req.PathHex {
			node, err := merkle.ParseHash(s)
			if err != nil {
				writeResp(w, Response{Ok: false, Err: "bad path hash"})
				return
			}
			p.Hashes = append(p.Hashes, node)
		}
		ok := merkle.Root{Hash: h, Size: req.TreeSize}.Check(p, leaf)
		writeResp(w, Response{Ok: true, Included: &ok})

	default:
		writeResp(w, Response{Ok: false, Err: "unknown op"})
	}
}
