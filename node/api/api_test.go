package api

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dispenser.dev/node/crypto"
	"dispenser.dev/node/dispenser"
	"dispenser.dev/node/guard"
	"dispenser.dev/node/merkle"
	"dispenser.dev/node/node"
)

const (
	testDispenserID = "11111111111111111111111111111112"
	testDiscordID   = "80351110224678912"
	testToken       = "discord-access-token"
)

type fixture struct {
	app      *node.App
	srv      *Server
	tree     *merkle.Tree
	infos    []dispenser.ClaimInfo
	claimant ed25519.PrivateKey
}

func key(b byte) ed25519.PrivateKey {
	return ed25519.NewKeyFromSeed(bytes.Repeat([]byte{b}, ed25519.SeedSize))
}

// newFixture serves a memory-ledger node with a guard over two leaves: a
// native claim and a Discord claim, both for the same claimant.
func newFixture(t *testing.T, mutate func(*node.Config)) *fixture {
	t.Helper()
	ctx := context.Background()
	cfg := node.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.DispenserID = testDispenserID
	cfg.Ledger = node.LedgerMemory
	cfg.RateLimit = 0
	if mutate != nil {
		mutate(&cfg)
	}
	app, err := node.NewApp(ctx, cfg, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	app.Guard, err = guard.New(key(1), guard.StaticVerifier{testDiscordID: testToken}, nil)
	require.NoError(t, err)

	claimant := key(7)
	infos := []dispenser.ClaimInfo{
		{Identity: dispenser.NativeIdentity{Pubkey: crypto.Ed25519Pubkey(claimant)}, Amount: 300},
		{Identity: dispenser.DiscordIdentity{UserID: testDiscordID}, Amount: 200},
	}
	leaves := [][]byte{infos[0].Encode(), infos[1].Encode()}
	tree := merkle.NewTree(leaves)
	require.NoError(t, node.InitDeployment(ctx, app.Stores.Backend, dispenser.Config{
		MerkleRoot:     tree.Root(),
		DispenserGuard: app.Guard.Pubkey(),
		Mint:           dispenser.Pubkey{0x11},
		Treasury:       dispenser.Pubkey{0x22},
		MaxTransfer:    1000,
	}, 10_000))

	srv := New(app, Options{})
	t.Cleanup(srv.Close)
	return &fixture{app: app, srv: srv, tree: tree, infos: infos, claimant: claimant}
}

func (f *fixture) do(t *testing.T, method, path string, body any, header map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func (f *fixture) claimBody(t *testing.T, leaf int, cert dispenser.IdentityCertificate, ixs []dispenser.Instruction) map[string]any {
	t.Helper()
	path, err := f.tree.Path(uint64(leaf))
	require.NoError(t, err)
	raw := dispenser.ClaimCertificate{
		Amount:           f.infos[leaf].Amount,
		ProofOfIdentity:  cert,
		ProofOfInclusion: path,
	}.Encode()
	claimant := crypto.Ed25519Pubkey(f.claimant)
	sig := crypto.SignClaimAuthorization(f.claimant, crypto.ClaimAuthorization{
		DispenserID:  f.app.Dispenser.ID,
		Claimant:     claimant,
		ClaimantFund: claimant,
		Certificate:  raw,
	})
	jsonIxs := []instructionJSON{}
	for _, ix := range ixs {
		jsonIxs = append(jsonIxs, instructionToJSON(ix))
	}
	return map[string]any{
		"claimant":     claimant.String(),
		"instructions": jsonIxs,
		"certificate":  hex.EncodeToString(raw),
		"signature":    hex.EncodeToString(sig[:]),
	}
}

func TestClaim_NativeThenDuplicate(t *testing.T) {
	f := newFixture(t, nil)
	body := f.claimBody(t, 0, dispenser.NativeCertificate{}, nil)

	rec, out := f.do(t, http.MethodPost, "/v1/claims", body, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, true, out["ok"])
	ev := out["event"].(map[string]any)
	require.Equal(t, float64(300), ev["amount"])
	require.Equal(t, float64(9700), ev["remaining_balance"])
	require.Equal(t, "native", ev["ecosystem"])

	rec, out = f.do(t, http.MethodPost, "/v1/claims", body, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, false, out["ok"])
	require.Equal(t, "CLAIM_ERR_ALREADY_CLAIMED", out["err"])

	slot := dispenser.DeriveSlot(f.infos[0].Encode())
	rec, out = f.do(t, http.MethodGet, "/v1/receipts/"+hex.EncodeToString(slot[:]), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, crypto.Ed25519Pubkey(f.claimant).String(), out["claimant"])
	require.Equal(t, float64(300), out["amount"])

	rec, out = f.do(t, http.MethodGet, "/v1/events?limit=5", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, out["events"], 1)
}

func TestClaim_DiscordThroughGuard(t *testing.T) {
	f := newFixture(t, nil)
	claimant := crypto.Ed25519Pubkey(f.claimant).String()

	rec, out := f.do(t, http.MethodPost, "/v1/discord/signed-message",
		map[string]string{"publicKey": claimant, "discordId": testDiscordID},
		map[string]string{"X-Auth-Token": testToken})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	guardPub := f.app.Guard.Pubkey()
	require.Equal(t, hex.EncodeToString(guardPub[:]), out["publicKey"])

	var signed discordResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &signed))
	data, err := hex.DecodeString(signed.Instruction.Data)
	require.NoError(t, err)
	ix := dispenser.Instruction{ProgramID: signed.Instruction.ProgramID, Data: data}

	body := f.claimBody(t, 1, dispenser.DiscordCertificate{UserID: testDiscordID}, []dispenser.Instruction{ix})
	rec, out = f.do(t, http.MethodPost, "/v1/claims", body, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "discord", out["event"].(map[string]any)["ecosystem"])
}

func TestDiscordSign_RejectsBadToken(t *testing.T) {
	f := newFixture(t, nil)
	claimant := crypto.Ed25519Pubkey(f.claimant).String()

	rec, out := f.do(t, http.MethodPost, "/v1/discord/signed-message",
		map[string]string{"publicKey": claimant, "discordId": testDiscordID},
		map[string]string{"X-Auth-Token": "stolen"})
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "UNVERIFIED", out["err"])

	rec, out = f.do(t, http.MethodPost, "/v1/discord/signed-message",
		map[string]string{"publicKey": claimant, "discordId": testDiscordID}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "BAD_REQUEST", out["err"])

	f.app.Guard = nil
	rec, _ = f.do(t, http.MethodPost, "/v1/discord/signed-message",
		map[string]string{"publicKey": claimant, "discordId": testDiscordID},
		map[string]string{"X-Auth-Token": testToken})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClaim_Rejections(t *testing.T) {
	f := newFixture(t, nil)

	rec, out := f.do(t, http.MethodPost, "/v1/claims", map[string]any{"claimant": "nope"}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "BAD_REQUEST", out["err"])

	body := f.claimBody(t, 0, dispenser.NativeCertificate{}, nil)
	body["signature"] = hex.EncodeToString(make([]byte, 64))
	rec, out = f.do(t, http.MethodPost, "/v1/claims", body, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "UNAUTHORIZED", out["err"])

	body = f.claimBody(t, 0, dispenser.NativeCertificate{}, nil)
	body["claimant_fund"] = dispenser.Pubkey{0xaa}.String()
	rec, out = f.do(t, http.MethodPost, "/v1/claims", body, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "UNAUTHORIZED", out["err"])

	// the Discord leaf without the guard's instruction
	body = f.claimBody(t, 1, dispenser.DiscordCertificate{UserID: testDiscordID}, nil)
	rec, out = f.do(t, http.MethodPost, "/v1/claims", body, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "CLAIM_ERR_SIG_WRONG_HEADER", out["err"])
}

func TestReceipt_Lookup(t *testing.T) {
	f := newFixture(t, nil)
	rec, out := f.do(t, http.MethodGet, "/v1/receipts/"+hex.EncodeToString(make([]byte, 32)), nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "NOT_FOUND", out["err"])

	rec, _ = f.do(t, http.MethodGet, "/v1/receipts/zz", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConfigAndProbes(t *testing.T) {
	f := newFixture(t, nil)

	rec, out := f.do(t, http.MethodGet, "/v1/config", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	root := f.tree.Root()
	require.Equal(t, hex.EncodeToString(root.Hash[:]), out["merkle_root"])
	require.Equal(t, float64(2), out["tree_size"])
	require.Equal(t, testDispenserID, out["dispenser_id"])
	require.Equal(t, float64(1000), out["max_transfer"])

	rec, _ = f.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, out = f.do(t, http.MethodGet, "/readyz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "SERVING", out["status"])
}

func TestReadyz_NotInitialized(t *testing.T) {
	cfg := node.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.DispenserID = testDispenserID
	cfg.Ledger = node.LedgerMemory
	app, err := node.NewApp(context.Background(), cfg, nil, nil)
	require.NoError(t, err)
	defer app.Close()
	srv := New(app, Options{})
	defer srv.Close()

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/config", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, func(c *node.Config) {
		c.RateLimit = 1
		c.RateBurst = 2
	})
	for i := 0; i < 2; i++ {
		rec, _ := f.do(t, http.MethodGet, "/v1/config", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec, out := f.do(t, http.MethodGet, "/v1/config", nil, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "RATE_LIMITED", out["err"])

	rec, _ = f.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAbuse_BansForgedClaims(t *testing.T) {
	f := newFixture(t, nil)
	body := f.claimBody(t, 0, dispenser.NativeCertificate{}, nil)
	body["signature"] = hex.EncodeToString(make([]byte, 64))

	for i := 0; i < 5; i++ {
		rec, _ := f.do(t, http.MethodPost, "/v1/claims", body, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec, out := f.do(t, http.MethodPost, "/v1/claims", f.claimBody(t, 0, dispenser.NativeCertificate{}, nil), nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "BANNED", out["err"])

	rec, _ = f.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAbuseTracker_DecayAndExpiry(t *testing.T) {
	clock := time.Unix(1_700_000_000, 0)
	a := NewAbuseTracker(time.Hour)
	a.now = func() time.Time { return clock }

	for i := 0; i < 4; i++ {
		require.False(t, a.Penalize("10.0.0.1", "UNAUTHORIZED"))
	}
	clock = clock.Add(30 * time.Minute)
	require.False(t, a.Penalize("10.0.0.1", "UNAUTHORIZED"))
	require.False(t, a.Penalize("10.0.0.1", "CLAIM_ERR_FORBIDDEN"))
	require.False(t, a.Banned("10.0.0.1"))

	require.True(t, a.Penalize("10.0.0.1", "CLAIM_ERR_FORBIDDEN"))
	require.True(t, a.Banned("10.0.0.1"))
	require.False(t, a.Banned("10.0.0.2"))

	clock = clock.Add(time.Hour)
	require.False(t, a.Banned("10.0.0.1"))
	require.False(t, a.Penalize("10.0.0.1", "internal"))
}

func TestBanScore_Decay(t *testing.T) {
	var b banScore
	t0 := time.Unix(1_700_000_000, 0)
	b.Add(t0, 60)
	require.Equal(t, 60, b.Score(t0))
	require.Equal(t, 50, b.Score(t0.Add(10*time.Minute)))
	require.Equal(t, 0, b.Score(t0.Add(200*time.Minute)))
}
