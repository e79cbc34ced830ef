package node

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"

	"dispenser.dev/node/crypto"
	"dispenser.dev/node/dispenser"
	"dispenser.dev/node/merkle"
)

var (
	testMint     = dispenser.Pubkey{0x11}
	testTreasury = dispenser.Pubkey{0x22}
)

type testDeployment struct {
	app      *App
	tree     *merkle.Tree
	claimant ed25519.PrivateKey
	evm      *btcec.PrivateKey
	infos    []dispenser.ClaimInfo
}

// newTestDeployment runs a memory-ledger node over a two-leaf tree: a native
// claim of 4000 and an EVM claim of 1000, both for the same claimant.
func newTestDeployment(t *testing.T, maxTransfer uint64) *testDeployment {
	t.Helper()
	return newTestDeploymentOn(t, LedgerMemory, maxTransfer)
}

func newTestDeploymentOn(t *testing.T, ledger string, maxTransfer uint64) *testDeployment {
	t.Helper()
	ctx := context.Background()
	cfg := validConfig(t)
	cfg.Ledger = ledger

	app, err := NewApp(ctx, cfg, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	claimant := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{7}, ed25519.SeedSize))
	evm, _ := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{9}, 32))
	infos := []dispenser.ClaimInfo{
		{Identity: dispenser.NativeIdentity{Pubkey: crypto.Ed25519Pubkey(claimant)}, Amount: 4000},
		{Identity: dispenser.EvmIdentity{Address: crypto.EvmAddress(evm)}, Amount: 1000},
	}
	leaves := make([][]byte, len(infos))
	for i, info := range infos {
		leaves[i] = info.Encode()
	}
	tree := merkle.NewTree(leaves)

	require.NoError(t, InitDeployment(ctx, app.Stores.Backend, dispenser.Config{
		MerkleRoot:  tree.Root(),
		Mint:        testMint,
		Treasury:    testTreasury,
		MaxTransfer: maxTransfer,
	}, 100_000))
	return &testDeployment{app: app, tree: tree, claimant: claimant, evm: evm, infos: infos}
}

func (d *testDeployment) request(t *testing.T, leaf int) ClaimRequest {
	t.Helper()
	path, err := d.tree.Path(uint64(leaf))
	require.NoError(t, err)
	claimant := crypto.Ed25519Pubkey(d.claimant)

	cert := dispenser.ClaimCertificate{Amount: d.infos[leaf].Amount, ProofOfInclusion: path}
	var ixs []dispenser.Instruction
	switch leaf {
	case 0:
		cert.ProofOfIdentity = dispenser.NativeCertificate{}
	case 1:
		ix, err := crypto.EvmInstruction(d.evm, dispenser.AuthorizationPayload(d.app.Dispenser.ID, claimant), 0)
		require.NoError(t, err)
		ixs = append(ixs, ix)
		cert.ProofOfIdentity = dispenser.EvmCertificate{Pubkey: crypto.EvmAddress(d.evm), VerificationInstructionIndex: 0}
	}
	req := ClaimRequest{
		Claimant:     claimant,
		ClaimantFund: claimant,
		Instructions: ixs,
		Certificate:  cert.Encode(),
	}
	d.sign(&req)
	return req
}

func (d *testDeployment) sign(req *ClaimRequest) {
	req.Authorization = crypto.SignClaimAuthorization(d.claimant, req.authorization(d.app.Dispenser.ID))
}

// cancelAfterReceipt cancels the claim's context as soon as the receipt is
// written, as a client hanging up mid-claim would.
type cancelAfterReceipt struct {
	dispenser.ReceiptLedger
	cancel context.CancelFunc
}

func (l cancelAfterReceipt) CreateIfAbsent(ctx context.Context, r dispenser.Receipt) error {
	err := l.ReceiptLedger.CreateIfAbsent(ctx, r)
	l.cancel()
	return err
}

func TestProcessor_PaysEachLeafOnce(t *testing.T) {
	d := newTestDeployment(t, 5000)
	ctx := context.Background()

	ev, err := d.app.Processor.Submit(ctx, d.request(t, 0))
	require.NoError(t, err)
	require.Equal(t, uint64(4000), ev.ClaimInfo.Amount)
	require.Equal(t, uint64(96_000), ev.RemainingBalance)

	ev, err = d.app.Processor.Submit(ctx, d.request(t, 1))
	require.NoError(t, err)
	require.Equal(t, dispenser.EcosystemEvm, ev.ClaimInfo.Identity.Ecosystem())
	require.Equal(t, uint64(95_000), ev.RemainingBalance)

	_, err = d.app.Processor.Submit(ctx, d.request(t, 0))
	require.Equal(t, dispenser.CLAIM_ERR_ALREADY_CLAIMED, dispenser.CodeOf(err))

	acct, err := d.app.Stores.Backend.Account(ctx, crypto.Ed25519Pubkey(d.claimant))
	require.NoError(t, err)
	require.Equal(t, uint64(5000), acct.Balance)

	n, err := d.app.Stores.Ledger.ReceiptCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestProcessor_RejectsForeignAuthorization(t *testing.T) {
	d := newTestDeployment(t, 5000)
	req := d.request(t, 0)
	req.Authorization[0] ^= 1

	_, err := d.app.Processor.Submit(context.Background(), req)
	require.ErrorIs(t, err, crypto.ErrBadClaimAuthorization)
	require.Equal(t, "UNAUTHORIZED", ResultCode(err))
}

func TestProcessor_FundAccountIsAuthorized(t *testing.T) {
	d := newTestDeployment(t, 5000)
	ctx := context.Background()
	req := d.request(t, 0)
	req.ClaimantFund = dispenser.Pubkey{0xaa}

	_, err := d.app.Processor.Submit(ctx, req)
	require.ErrorIs(t, err, crypto.ErrBadClaimAuthorization)
	_, err = d.app.Stores.Backend.Account(ctx, dispenser.Pubkey{0xaa})
	require.ErrorIs(t, err, dispenser.ErrAccountMissing)

	d.sign(&req)
	_, err = d.app.Processor.Submit(ctx, req)
	require.NoError(t, err)
	acct, err := d.app.Stores.Backend.Account(ctx, dispenser.Pubkey{0xaa})
	require.NoError(t, err)
	require.Equal(t, uint64(4000), acct.Balance)
}

func TestProcessor_PaysAfterCallerCancels(t *testing.T) {
	d := newTestDeploymentOn(t, LedgerBolt, 5000)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.app.Dispenser.Ledger = cancelAfterReceipt{ReceiptLedger: d.app.Dispenser.Ledger, cancel: cancel}

	ev, err := d.app.Processor.Submit(ctx, d.request(t, 0))
	require.NoError(t, err)
	require.ErrorIs(t, ctx.Err(), context.Canceled)
	require.Equal(t, uint64(96_000), ev.RemainingBalance)

	acct, err := d.app.Stores.Backend.Account(context.Background(), crypto.Ed25519Pubkey(d.claimant))
	require.NoError(t, err)
	require.Equal(t, uint64(4000), acct.Balance)
}

func TestProcessor_EmptyTreasuryKeepsLeaf(t *testing.T) {
	d := newTestDeployment(t, 500_000)
	ctx := context.Background()
	_, err := d.app.Stores.Backend.Transfer(ctx, testTreasury, dispenser.Pubkey{0xbb}, 97_000)
	require.NoError(t, err)

	_, err = d.app.Processor.Submit(ctx, d.request(t, 0))
	require.ErrorIs(t, err, dispenser.ErrInsufficientFunds)
	require.Equal(t, "TREASURY_EMPTY", ResultCode(err))

	_, err = d.app.Stores.Ledger.Get(ctx, dispenser.DeriveSlot(d.infos[0].Encode()))
	require.ErrorIs(t, err, dispenser.ErrReceiptNotFound)

	ev, err := d.app.Processor.Submit(ctx, d.request(t, 1))
	require.NoError(t, err)
	require.Equal(t, uint64(2000), ev.RemainingBalance)
}

func TestProcessor_RejectsForgedPrecompile(t *testing.T) {
	d := newTestDeployment(t, 5000)
	req := d.request(t, 1)
	data := append([]byte(nil), req.Instructions[0].Data...)
	data[dispenser.Secp256k1SigOffset] ^= 1
	req.Instructions[0].Data = data

	_, err := d.app.Processor.Submit(context.Background(), req)
	var pe *crypto.PrecompileError
	require.True(t, errors.As(err, &pe))
	require.Equal(t, "PRECOMPILE", ResultCode(err))

	_, err = d.app.Stores.Ledger.Get(context.Background(), dispenser.DeriveSlot(d.infos[1].Encode()))
	require.ErrorIs(t, err, dispenser.ErrReceiptNotFound)
}

func TestProcessor_MalformedCertificate(t *testing.T) {
	d := newTestDeployment(t, 5000)
	req := d.request(t, 0)
	req.Certificate = req.Certificate[:5]
	d.sign(&req)

	_, err := d.app.Processor.Submit(context.Background(), req)
	require.Equal(t, dispenser.CLAIM_ERR_PARSE, dispenser.CodeOf(err))
}

func TestProcessor_PausedLedgerRefusesClaims(t *testing.T) {
	d := newTestDeployment(t, 5000)
	mon := NewLedgerMonitor(MonitorConfig{Interval: 1, Threshold: 1}, func(context.Context) error {
		return errors.New("disk gone")
	}, nil, nil)
	mon.Check(context.Background())
	d.app.Processor.Monitor = mon

	_, err := d.app.Processor.Submit(context.Background(), d.request(t, 0))
	require.ErrorIs(t, err, ErrClaimsPaused)
}

func TestInitDeployment(t *testing.T) {
	d := newTestDeployment(t, 5000)
	ctx := context.Background()
	b := d.app.Stores.Backend

	err := InitDeployment(ctx, b, dispenser.Config{MerkleRoot: d.tree.Root(), Mint: testMint, Treasury: testTreasury}, 1)
	require.Equal(t, dispenser.INIT_ERR_ALREADY_INITIALIZED, dispenser.CodeOf(err))

	acct, err := b.Account(ctx, testTreasury)
	require.NoError(t, err)
	require.Equal(t, uint64(100_000), acct.Balance)

	err = InitDeployment(ctx, b, dispenser.Config{Mint: testMint, Treasury: testTreasury}, 1)
	require.Equal(t, dispenser.INIT_ERR_CONFIG, dispenser.CodeOf(err))
}

func TestNewApp_BoltLedger(t *testing.T) {
	cfg := validConfig(t)
	app, err := NewApp(context.Background(), cfg, nil, nil)
	require.NoError(t, err)
	defer app.Close()
	require.Equal(t, LedgerBolt, app.Stores.Kind)
	require.NoError(t, app.Stores.Ping(context.Background()))
	require.Nil(t, app.Guard)
}

func TestNewApp_InvalidConfig(t *testing.T) {
	cfg := validConfig(t)
	cfg.DispenserID = ""
	_, err := NewApp(context.Background(), cfg, nil, nil)
	require.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger(&buf, "warn", "json")
	require.NoError(t, err)
	l.Info("hidden")
	l.Warn("shown", "k", 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "shown", rec["msg"])
	require.Equal(t, "WARN", rec["level"])

	_, err = NewLogger(&buf, "loud", "text")
	require.Error(t, err)
	_, err = NewLogger(&buf, "info", "xml")
	require.Error(t, err)
}
