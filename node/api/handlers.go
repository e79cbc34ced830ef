package api

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"dispenser.dev/node/dispenser"
	"dispenser.dev/node/guard"
	"dispenser.dev/node/merkle"
	"dispenser.dev/node/node"
)

type instructionJSON struct {
	ProgramID dispenser.Pubkey `json:"program_id"`
	Data      string           `json:"data"`
}

func instructionToJSON(ix dispenser.Instruction) instructionJSON {
	return instructionJSON{ProgramID: ix.ProgramID, Data: hex.EncodeToString(ix.Data)}
}

type claimRequest struct {
	Claimant     dispenser.Pubkey  `json:"claimant"`
	ClaimantFund *dispenser.Pubkey `json:"claimant_fund,omitempty"`
	Instructions []instructionJSON `json:"instructions"`
	Certificate  string            `json:"certificate"`
	Signature    string            `json:"signature"`
}

type claimResponse struct {
	OK    bool                  `json:"ok"`
	Event *dispenser.ClaimEvent `json:"event"`
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return hex.DecodeString(s)
}

func (r claimRequest) toClaim() (node.ClaimRequest, error) {
	var out node.ClaimRequest
	if r.Claimant.IsZero() {
		return out, errors.New("claimant is required")
	}
	out.Claimant = r.Claimant
	out.ClaimantFund = r.Claimant
	if r.ClaimantFund != nil {
		out.ClaimantFund = *r.ClaimantFund
	}
	for i, ix := range r.Instructions {
		data, err := decodeHex(ix.Data)
		if err != nil {
			return out, errors.New("instructions[" + strconv.Itoa(i) + "].data: bad hex")
		}
		out.Instructions = append(out.Instructions, dispenser.Instruction{ProgramID: ix.ProgramID, Data: data})
	}
	cert, err := decodeHex(r.Certificate)
	if err != nil || len(cert) == 0 {
		return out, errors.New("certificate: bad hex")
	}
	out.Certificate = cert
	sig, err := decodeHex(r.Signature)
	if err != nil || len(sig) != dispenser.SignatureBytes {
		return out, errors.New("signature: must be 64 hex-encoded bytes")
	}
	copy(out.Authorization[:], sig)
	return out, nil
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var body claimRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.reject(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON: "+err.Error())
		return
	}
	req, err := body.toClaim()
	if err != nil {
		s.reject(w, r, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	ev, err := s.app.Processor.Submit(r.Context(), req)
	if err != nil {
		code := node.ResultCode(err)
		status := statusFor(code)
		msg := err.Error()
		if status == http.StatusInternalServerError {
			s.logger.Error("claim failed", "claimant", req.Claimant.String(), "error", msg)
			msg = ""
		}
		s.reject(w, r, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, claimResponse{OK: true, Event: ev})
}

// reject writes an error and charges the client's abuse score.
func (s *Server) reject(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	if s.abuse.Penalize(clientIP(r), code) {
		s.logger.Warn("client banned", "ip", clientIP(r), "last_code", code)
	}
	writeError(w, status, code, msg)
}

func statusFor(code string) int {
	switch code {
	case string(dispenser.CLAIM_ERR_ALREADY_CLAIMED):
		return http.StatusConflict
	case string(dispenser.CLAIM_ERR_FORBIDDEN):
		return http.StatusForbidden
	case string(dispenser.CLAIM_ERR_PARSE):
		return http.StatusBadRequest
	case "UNAUTHORIZED":
		return http.StatusUnauthorized
	case "PAUSED", "TREASURY_EMPTY":
		return http.StatusServiceUnavailable
	case "CANCELED":
		return http.StatusRequestTimeout
	case "internal":
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}

type discordRequest struct {
	PublicKey string `json:"publicKey"`
	DiscordID string `json:"discordId"`
}

type discordResponse struct {
	Signature   string          `json:"signature"`
	PublicKey   string          `json:"publicKey"`
	FullMessage string          `json:"fullMessage"`
	Instruction instructionJSON `json:"instruction"`
}

func (s *Server) handleDiscordSign(w http.ResponseWriter, r *http.Request) {
	if s.app.Guard == nil {
		writeError(w, http.StatusNotFound, "GUARD_DISABLED", "this node does not run a dispenser guard")
		return
	}
	var body discordRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.reject(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON: "+err.Error())
		return
	}
	claimant, err := dispenser.ParsePubkey(body.PublicKey)
	if err != nil {
		s.reject(w, r, http.StatusBadRequest, "BAD_REQUEST", "publicKey: "+err.Error())
		return
	}
	token := r.Header.Get("X-Auth-Token")
	if token == "" || body.DiscordID == "" {
		s.reject(w, r, http.StatusBadRequest, "BAD_REQUEST", "discordId and X-Auth-Token are required")
		return
	}

	sm, err := s.app.Guard.SignVerified(r.Context(), body.DiscordID, token, claimant)
	if err != nil {
		if errors.Is(err, guard.ErrUnverified) {
			s.reject(w, r, http.StatusForbidden, "UNVERIFIED", "discord access token does not match discordId")
			return
		}
		s.logger.Error("discord verification", "discord_id", body.DiscordID, "error", err.Error())
		writeError(w, http.StatusBadGateway, "DISCORD_UNAVAILABLE", "")
		return
	}
	writeJSON(w, http.StatusOK, discordResponse{
		Signature:   hex.EncodeToString(sm.Signature[:]),
		PublicKey:   hex.EncodeToString(sm.PublicKey[:]),
		FullMessage: hex.EncodeToString(sm.FullMessage),
		Instruction: instructionToJSON(sm.Instruction),
	})
}

type receiptResponse struct {
	OK        bool   `json:"ok"`
	LeafHash  string `json:"leaf_hash"`
	Claimant  string `json:"claimant"`
	Amount    uint64 `json:"amount"`
	CreatedAt string `json:"created_at"`
}

func (s *Server) handleReceipt(w http.ResponseWriter, r *http.Request) {
	slot, err := merkle.ParseHash(strings.TrimPrefix(chi.URLParam(r, "leafHash"), "0x"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	rec, err := s.app.Stores.Ledger.Get(r.Context(), slot)
	if errors.Is(err, dispenser.ErrReceiptNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "leaf not claimed")
		return
	}
	if err != nil {
		s.logger.Error("receipt lookup", "error", err.Error())
		writeError(w, http.StatusServiceUnavailable, "LEDGER_UNAVAILABLE", "")
		return
	}
	writeJSON(w, http.StatusOK, receiptResponse{
		OK:        true,
		LeafHash:  hex.EncodeToString(rec.Slot[:]),
		Claimant:  rec.Claimant.String(),
		Amount:    rec.Amount,
		CreatedAt: rec.CreatedAt.UTC().Format(time.RFC3339),
	})
}

type configResponse struct {
	OK             bool   `json:"ok"`
	DispenserID    string `json:"dispenser_id"`
	MerkleRoot     string `json:"merkle_root"`
	TreeSize       uint64 `json:"tree_size"`
	DispenserGuard string `json:"dispenser_guard"`
	Mint           string `json:"mint"`
	Treasury       string `json:"treasury"`
	MaxTransfer    uint64 `json:"max_transfer"`
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	c, err := s.app.Stores.Backend.LoadConfig(r.Context())
	if errors.Is(err, dispenser.ErrNotInitialized) {
		writeError(w, http.StatusNotFound, "NOT_INITIALIZED", "")
		return
	}
	if err != nil {
		s.logger.Error("config lookup", "error", err.Error())
		writeError(w, http.StatusServiceUnavailable, "LEDGER_UNAVAILABLE", "")
		return
	}
	writeJSON(w, http.StatusOK, configResponse{
		OK:             true,
		DispenserID:    s.app.Dispenser.ID.String(),
		MerkleRoot:     hex.EncodeToString(c.MerkleRoot.Hash[:]),
		TreeSize:       c.MerkleRoot.Size,
		DispenserGuard: c.DispenserGuard.String(),
		Mint:           c.Mint.String(),
		Treasury:       c.Treasury.String(),
		MaxTransfer:    c.MaxTransfer,
	})
}

const maxEventsLimit = 500

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "limit must be a positive integer")
			return
		}
		limit = min(n, maxEventsLimit)
	}
	events, err := s.app.Stores.Backend.Events(r.Context(), limit)
	if err != nil {
		s.logger.Error("event lookup", "error", err.Error())
		writeError(w, http.StatusServiceUnavailable, "LEDGER_UNAVAILABLE", "")
		return
	}
	if events == nil {
		events = []json.RawMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "events": events})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	state := s.app.Monitor.State()
	if state != node.LedgerServing {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": state.String()})
		return
	}
	if _, err := s.app.Stores.Backend.LoadConfig(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "NOT_INITIALIZED"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": state.String()})
}
