package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"dispenser.dev/node/dispenser"
)

var (
	bucketConfig   = []byte("config")
	bucketReceipts = []byte("receipts_by_slot")
	bucketAccounts = []byte("token_accounts")
	bucketEvents   = []byte("claim_events")

	configKey = []byte("dispenser")
)

// DB is the node's bbolt store. It holds the write-once config, receipts,
// token balances and the claim event log of one deployment.
type DB struct {
	dir      string
	db       *bolt.DB
	manifest *Manifest
}

func Open(datadir string, id dispenser.Pubkey) (*DB, error) {
	if datadir == "" {
		return nil, fmt.Errorf("datadir required")
	}
	if id.IsZero() {
		return nil, fmt.Errorf("dispenser id required")
	}

	dir := DeploymentDir(datadir, id)
	if err := ensureDir(filepath.Join(dir, "db")); err != nil {
		return nil, err
	}

	bdb, err := bolt.Open(filepath.Join(dir, "db", "ledger.db"), 0o600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open bbolt: %w", err)
	}
	d := &DB{dir: dir, db: bdb}

	if err := d.db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketConfig, bucketReceipts, bucketAccounts, bucketEvents} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", string(b), err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, err
	}

	m, err := readManifest(dir)
	switch {
	case os.IsNotExist(err):
		m = &Manifest{
			SchemaVersion: SchemaVersionV1,
			DispenserID:   id.String(),
			CreatedAt:     time.Now().UTC().Format(time.RFC3339),
		}
		if err := writeManifest(dir, m); err != nil {
			_ = bdb.Close()
			return nil, err
		}
	case err != nil:
		_ = bdb.Close()
		return nil, fmt.Errorf("read manifest: %w", err)
	case m.SchemaVersion > SchemaVersionV1:
		_ = bdb.Close()
		return nil, fmt.Errorf("manifest schema_version %d > supported %d", m.SchemaVersion, SchemaVersionV1)
	case m.DispenserID != id.String():
		_ = bdb.Close()
		return nil, fmt.Errorf("datadir belongs to dispenser %s, not %s", m.DispenserID, id)
	}
	d.manifest = m
	return d, nil
}

func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

func (d *DB) Dir() string { return d.dir }

func (d *DB) Manifest() *Manifest {
	if d == nil {
		return nil
	}
	return d.manifest
}

// Ping reports whether the database still answers read transactions.
func (d *DB) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketReceipts) == nil {
			return fmt.Errorf("bucket %s missing", bucketReceipts)
		}
		return nil
	})
}

func (d *DB) LoadConfig(ctx context.Context) (dispenser.Config, error) {
	if err := ctx.Err(); err != nil {
		return dispenser.Config{}, err
	}
	var raw []byte
	if err := d.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketConfig).Get(configKey); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	}); err != nil {
		return dispenser.Config{}, err
	}
	if raw == nil {
		return dispenser.Config{}, dispenser.ErrNotInitialized
	}
	return dispenser.DecodeConfig(raw)
}

func (d *DB) StoreConfigIfAbsent(ctx context.Context, c dispenser.Config) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConfig)
		if b.Get(configKey) != nil {
			return dispenser.ErrConfigExists
		}
		return b.Put(configKey, c.Encode())
	})
}

// CreateIfAbsent writes r under its slot. bbolt serializes write
// transactions, so the existence check and the put cannot interleave with
// another claim for the same slot.
func (d *DB) CreateIfAbsent(ctx context.Context, r dispenser.Receipt) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReceipts)
		if b.Get(r.Slot[:]) != nil {
			return dispenser.ErrReceiptExists
		}
		return b.Put(r.Slot[:], dispenser.EncodeReceipt(r))
	})
}

func (d *DB) Get(ctx context.Context, slot [32]byte) (dispenser.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return dispenser.Receipt{}, err
	}
	var raw []byte
	if err := d.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketReceipts).Get(slot[:]); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	}); err != nil {
		return dispenser.Receipt{}, err
	}
	if raw == nil {
		return dispenser.Receipt{}, dispenser.ErrReceiptNotFound
	}
	return dispenser.DecodeReceipt(slot, raw)
}

// ReceiptCount returns the number of consumed slots.
func (d *DB) ReceiptCount(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n := 0
	err := d.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketReceipts).Stats().KeyN
		return nil
	})
	return n, err
}

// OpenAccount creates an empty token account for mint. Opening an existing
// account of the same mint is a no-op.
func (d *DB) OpenAccount(ctx context.Context, account, mint dispenser.Pubkey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccounts)
		if v := b.Get(account[:]); v != nil {
			a, err := decodeAccount(v)
			if err != nil {
				return err
			}
			if a.Mint != mint {
				return dispenser.ErrMintMismatch
			}
			return nil
		}
		return b.Put(account[:], encodeAccount(dispenser.TokenAccount{Mint: mint}))
	})
}

// Fund credits amount to an existing account and returns its new balance.
func (d *DB) Fund(ctx context.Context, account dispenser.Pubkey, amount uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var balance uint64
	err := d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccounts)
		a, err := loadAccount(b, account)
		if err != nil {
			return err
		}
		if a.Balance > math.MaxUint64-amount {
			return fmt.Errorf("fund %s: balance overflow", account)
		}
		a.Balance += amount
		balance = a.Balance
		return b.Put(account[:], encodeAccount(a))
	})
	return balance, err
}

func (d *DB) Account(ctx context.Context, account dispenser.Pubkey) (dispenser.TokenAccount, error) {
	if err := ctx.Err(); err != nil {
		return dispenser.TokenAccount{}, err
	}
	var a dispenser.TokenAccount
	err := d.db.View(func(tx *bolt.Tx) error {
		var err error
		a, err = loadAccount(tx.Bucket(bucketAccounts), account)
		return err
	})
	return a, err
}

// Transfer moves amount from one account to another in a single write
// transaction.
func (d *DB) Transfer(ctx context.Context, from, to dispenser.Pubkey, amount uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var remaining uint64
	err := d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccounts)
		src, err := loadAccount(b, from)
		if err != nil {
			return fmt.Errorf("source: %w", err)
		}
		if src.Balance < amount {
			return dispenser.ErrInsufficientFunds
		}
		dst, err := loadAccount(b, to)
		switch {
		case errors.Is(err, dispenser.ErrAccountMissing):
			dst = dispenser.TokenAccount{Mint: src.Mint}
		case err != nil:
			return fmt.Errorf("destination: %w", err)
		case dst.Mint != src.Mint:
			return dispenser.ErrMintMismatch
		}
		if from == to {
			remaining = src.Balance
			return nil
		}
		if dst.Balance > math.MaxUint64-amount {
			return fmt.Errorf("transfer to %s: balance overflow", to)
		}
		src.Balance -= amount
		dst.Balance += amount
		if err := b.Put(from[:], encodeAccount(src)); err != nil {
			return err
		}
		remaining = src.Balance
		return b.Put(to[:], encodeAccount(dst))
	})
	return remaining, err
}

func loadAccount(b *bolt.Bucket, account dispenser.Pubkey) (dispenser.TokenAccount, error) {
	v := b.Get(account[:])
	if v == nil {
		return dispenser.TokenAccount{}, dispenser.ErrAccountMissing
	}
	return decodeAccount(v)
}

// AppendEvent stores ev as JSON under the bucket's next sequence number.
func (d *DB) AppendEvent(ctx context.Context, ev dispenser.ClaimEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("event json: %w", err)
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(eventKey(seq), raw)
	})
}

// Events returns up to limit stored events, newest first.
func (d *DB) Events(ctx context.Context, limit int) ([]json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []json.RawMessage
	err := d.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEvents).Cursor()
		for k, v := c.Last(); k != nil && (limit <= 0 || len(out) < limit); k, v = c.Prev() {
			out = append(out, append(json.RawMessage(nil), v...))
		}
		return nil
	})
	return out, err
}
