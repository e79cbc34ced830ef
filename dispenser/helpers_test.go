package dispenser

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"

	"dispenser.dev/node/merkle"
)

var testDispenserID = Pubkey{0xd1, 0x5e}

type edKey struct {
	pub  Pubkey
	priv ed25519.PrivateKey
}

func newEdKey(seed byte) edKey {
	priv := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{seed}, ed25519.SeedSize))
	var k edKey
	k.priv = priv
	copy(k.pub[:], priv.Public().(ed25519.PublicKey))
	return k
}

func (k edKey) sign(msg []byte) [SignatureBytes]byte {
	var out [SignatureBytes]byte
	copy(out[:], ed25519.Sign(k.priv, msg))
	return out
}

// instruction signs msg and returns the matching ed25519 precompile
// instruction.
func (k edKey) instruction(msg []byte) Instruction {
	return NewEd25519Instruction(k.pub, k.sign(msg), msg)
}

type secpKey struct {
	priv *btcec.PrivateKey
}

func newSecpKey(seed byte) secpKey {
	b := make([]byte, 32)
	b[31] = seed
	priv, _ := btcec.PrivKeyFromBytes(b)
	return secpKey{priv: priv}
}

func (k secpKey) uncompressed() Secp256k1Pubkey {
	var out Secp256k1Pubkey
	copy(out[:], k.priv.PubKey().SerializeUncompressed())
	return out
}

func (k secpKey) evm() EvmPubkey {
	return EvmAddressFromPubkey(k.uncompressed())
}

func (k secpKey) signDigest(digest [32]byte) ([SignatureBytes]byte, uint8) {
	compact := ecdsa.SignCompact(k.priv, digest[:], false)
	var sig [SignatureBytes]byte
	copy(sig[:], compact[1:])
	return sig, compact[0] - 27
}

// evmInstruction signs keccak256(msg) and returns the secp256k1 precompile
// instruction for position index.
func (k secpKey) evmInstruction(msg []byte, index uint8) Instruction {
	sig, recid := k.signDigest(keccak256(msg))
	return NewSecp256k1Instruction(k.evm(), sig, recid, msg, index)
}

func (k secpKey) cosmosCertificate(t *testing.T, chainID string, payload []byte) CosmosCertificate {
	t.Helper()
	addr, err := CosmosAddress(chainID, k.uncompressed())
	if err != nil {
		t.Fatalf("CosmosAddress: %v", err)
	}
	msg, err := CosmosCodec{Signer: addr}.Wrap(payload)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	sig, recid := k.signDigest(sha256Sum(msg))
	return CosmosCertificate{
		ChainID:    chainID,
		Signature:  sig,
		RecoveryID: recid,
		Pubkey:     k.uncompressed(),
		Message:    msg,
	}
}

func mustWrap(t *testing.T, c MessageCodec, payload []byte) []byte {
	t.Helper()
	out, err := c.Wrap(payload)
	if err != nil {
		t.Fatalf("Wrap(%T): %v", c, err)
	}
	return out
}

func requireCode(t *testing.T, err error, want ErrorCode) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", want)
	}
	if got := CodeOf(err); got != want {
		t.Fatalf("expected %s, got %v", want, err)
	}
}

type memLedger struct {
	mu       sync.Mutex
	receipts map[[32]byte]Receipt
}

func newMemLedger() *memLedger {
	return &memLedger{receipts: make(map[[32]byte]Receipt)}
}

func (l *memLedger) CreateIfAbsent(_ context.Context, r Receipt) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.receipts[r.Slot]; ok {
		return ErrReceiptExists
	}
	l.receipts[r.Slot] = r
	return nil
}

func (l *memLedger) Get(_ context.Context, slot [32]byte) (Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.receipts[slot]
	if !ok {
		return Receipt{}, ErrReceiptNotFound
	}
	return r, nil
}

type memConfigs struct {
	cfg *Config
}

func (m *memConfigs) LoadConfig(context.Context) (Config, error) {
	if m.cfg == nil {
		return Config{}, ErrNotInitialized
	}
	return *m.cfg, nil
}

func (m *memConfigs) StoreConfigIfAbsent(_ context.Context, c Config) error {
	if m.cfg != nil {
		return ErrConfigExists
	}
	m.cfg = &c
	return nil
}

type memTreasury struct {
	mu       sync.Mutex
	accounts map[Pubkey]TokenAccount
}

func (m *memTreasury) Account(_ context.Context, a Pubkey) (TokenAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[a]
	if !ok {
		return TokenAccount{}, ErrAccountMissing
	}
	return acct, nil
}

func (m *memTreasury) Transfer(_ context.Context, from, to Pubkey, amount uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.accounts[from]
	if !ok {
		return 0, ErrAccountMissing
	}
	if src.Balance < amount {
		return 0, ErrInsufficientFunds
	}
	dst := m.accounts[to]
	dst.Mint = src.Mint
	src.Balance -= amount
	dst.Balance += amount
	m.accounts[from] = src
	m.accounts[to] = dst
	return src.Balance, nil
}

type testEnv struct {
	d        *Dispenser
	tree     *merkle.Tree
	infos    []ClaimInfo
	ledger   *memLedger
	treasury *memTreasury
	cfg      Config
}

var (
	testMint     = Pubkey{0x11}
	testTreasury = Pubkey{0x22}
)

// newTestEnv builds a tree over infos and an initialized dispenser that can
// pay every leaf.
func newTestEnv(t *testing.T, guard Pubkey, maxTransfer uint64, infos ...ClaimInfo) *testEnv {
	t.Helper()
	leaves := make([][]byte, len(infos))
	var total uint64
	for i, info := range infos {
		leaves[i] = info.Encode()
		total += info.Amount
	}
	tree := merkle.NewTree(leaves)
	treasury := &memTreasury{accounts: map[Pubkey]TokenAccount{
		testTreasury: {Mint: testMint, Balance: total},
	}}
	configs := &memConfigs{}
	cfg := Config{
		MerkleRoot:     tree.Root(),
		DispenserGuard: guard,
		Mint:           testMint,
		Treasury:       testTreasury,
		MaxTransfer:    maxTransfer,
	}
	if err := Initialize(context.Background(), configs, treasury, cfg); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	ledger := newMemLedger()
	return &testEnv{
		d: &Dispenser{
			ID:           testDispenserID,
			Configs:      configs,
			Ledger:       ledger,
			Treasury:     treasury,
			CosmosChains: []string{"osmo", "terra"},
		},
		tree:     tree,
		infos:    infos,
		ledger:   ledger,
		treasury: treasury,
		cfg:      cfg,
	}
}

func (e *testEnv) path(t *testing.T, i int) merkle.Path {
	t.Helper()
	p, err := e.tree.Path(uint64(i))
	if err != nil {
		t.Fatalf("Path(%d): %v", i, err)
	}
	return p
}
