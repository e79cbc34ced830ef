package store

import (
	"context"
	"encoding/json"
	"errors"
	"math"

	"github.com/sasha-s/go-deadlock"

	"dispenser.dev/node/dispenser"
)

// Memory keeps everything in process. It is the "memory" ledger backend and
// the store used by API tests.
type Memory struct {
	mutex    *deadlock.Mutex
	config   *dispenser.Config
	receipts map[[32]byte]dispenser.Receipt
	accounts map[dispenser.Pubkey]dispenser.TokenAccount
	events   []dispenser.ClaimEvent
}

func NewMemory() *Memory {
	return &Memory{
		mutex:    &deadlock.Mutex{},
		receipts: make(map[[32]byte]dispenser.Receipt),
		accounts: make(map[dispenser.Pubkey]dispenser.TokenAccount),
	}
}

func (m *Memory) Ping(ctx context.Context) error { return ctx.Err() }

func (m *Memory) LoadConfig(context.Context) (dispenser.Config, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.config == nil {
		return dispenser.Config{}, dispenser.ErrNotInitialized
	}
	return *m.config, nil
}

func (m *Memory) StoreConfigIfAbsent(_ context.Context, c dispenser.Config) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.config != nil {
		return dispenser.ErrConfigExists
	}
	m.config = &c
	return nil
}

func (m *Memory) CreateIfAbsent(_ context.Context, r dispenser.Receipt) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.receipts[r.Slot]; ok {
		return dispenser.ErrReceiptExists
	}
	m.receipts[r.Slot] = r
	return nil
}

func (m *Memory) Get(_ context.Context, slot [32]byte) (dispenser.Receipt, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	r, ok := m.receipts[slot]
	if !ok {
		return dispenser.Receipt{}, dispenser.ErrReceiptNotFound
	}
	return r, nil
}

func (m *Memory) ReceiptCount(context.Context) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.receipts), nil
}

func (m *Memory) OpenAccount(_ context.Context, account, mint dispenser.Pubkey) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if a, ok := m.accounts[account]; ok {
		if a.Mint != mint {
			return dispenser.ErrMintMismatch
		}
		return nil
	}
	m.accounts[account] = dispenser.TokenAccount{Mint: mint}
	return nil
}

func (m *Memory) Fund(_ context.Context, account dispenser.Pubkey, amount uint64) (uint64, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	a, ok := m.accounts[account]
	if !ok {
		return 0, dispenser.ErrAccountMissing
	}
	if a.Balance > math.MaxUint64-amount {
		return 0, errors.New("balance overflow")
	}
	a.Balance += amount
	m.accounts[account] = a
	return a.Balance, nil
}

func (m *Memory) Account(_ context.Context, account dispenser.Pubkey) (dispenser.TokenAccount, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	a, ok := m.accounts[account]
	if !ok {
		return dispenser.TokenAccount{}, dispenser.ErrAccountMissing
	}
	return a, nil
}

func (m *Memory) Transfer(_ context.Context, from, to dispenser.Pubkey, amount uint64) (uint64, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	src, ok := m.accounts[from]
	if !ok {
		return 0, dispenser.ErrAccountMissing
	}
	if src.Balance < amount {
		return 0, dispenser.ErrInsufficientFunds
	}
	dst, ok := m.accounts[to]
	if !ok {
		dst = dispenser.TokenAccount{Mint: src.Mint}
	} else if dst.Mint != src.Mint {
		return 0, dispenser.ErrMintMismatch
	}
	if from == to {
		return src.Balance, nil
	}
	if dst.Balance > math.MaxUint64-amount {
		return 0, errors.New("balance overflow")
	}
	src.Balance -= amount
	dst.Balance += amount
	m.accounts[from] = src
	m.accounts[to] = dst
	return src.Balance, nil
}

func (m *Memory) AppendEvent(_ context.Context, ev dispenser.ClaimEvent) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.events = append(m.events, ev)
	return nil
}

// ClaimEvents returns a copy of the appended events in order.
func (m *Memory) ClaimEvents() []dispenser.ClaimEvent {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]dispenser.ClaimEvent(nil), m.events...)
}

// Events returns up to limit events as JSON, newest first.
func (m *Memory) Events(ctx context.Context, limit int) ([]json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	var out []json.RawMessage
	for i := len(m.events) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		raw, err := json.Marshal(m.events[i])
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}
