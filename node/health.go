package node

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// LedgerState is the node's view of its receipt ledger.
type LedgerState int32

const (
	LedgerServing  LedgerState = 0 // ledger answers, claims accepted
	LedgerReadOnly LedgerState = 1 // ledger failing, claims refused, lookups still tried
	LedgerFailed   LedgerState = 2 // read-only for longer than the timeout, node shuts down
)

func (s LedgerState) String() string {
	switch s {
	case LedgerServing:
		return "SERVING"
	case LedgerReadOnly:
		return "READ_ONLY"
	case LedgerFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

type MonitorConfig struct {
	Interval     time.Duration
	Threshold    int
	Timeout      time.Duration // 0 never fails
	AlertWebhook string
}

func MonitorConfigFrom(cfg Config) MonitorConfig {
	return MonitorConfig{
		Interval:     cfg.HealthInterval,
		Threshold:    cfg.HealthThreshold,
		Timeout:      cfg.HealthTimeout,
		AlertWebhook: cfg.AlertWebhook,
	}
}

// PingFunc checks that the ledger is reachable.
type PingFunc func(ctx context.Context) error

// LedgerMonitor pings the ledger on an interval. After Threshold
// consecutive failures it stops claims (READ_ONLY); if the ledger stays
// down for Timeout it enters FAILED and calls onFailed once.
type LedgerMonitor struct {
	cfg   MonitorConfig
	ping  PingFunc
	state atomic.Int32

	mu            sync.Mutex
	failCount     int
	readOnlySince time.Time
	onFailed      func()
	onChange      func(LedgerState)
	logger        *slog.Logger
	client        *http.Client
	now           func() time.Time
}

func NewLedgerMonitor(cfg MonitorConfig, ping PingFunc, onFailed func(), logger *slog.Logger) *LedgerMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 1
	}
	m := &LedgerMonitor{
		cfg:      cfg,
		ping:     ping,
		onFailed: onFailed,
		logger:   logger,
		client:   &http.Client{Timeout: 5 * time.Second},
		now:      time.Now,
	}
	m.state.Store(int32(LedgerServing))
	return m
}

// OnChange registers a callback run on every state transition.
func (m *LedgerMonitor) OnChange(fn func(LedgerState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

func (m *LedgerMonitor) State() LedgerState {
	return LedgerState(m.state.Load())
}

// AcceptingClaims is true only while SERVING.
func (m *LedgerMonitor) AcceptingClaims() bool {
	return m == nil || m.State() == LedgerServing
}

// Run checks the ledger every Interval until ctx is done.
func (m *LedgerMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check runs one ping and advances the state machine.
func (m *LedgerMonitor) Check(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, m.cfg.Interval)
	err := m.ping(pctx)
	cancel()

	m.mu.Lock()
	defer m.mu.Unlock()
	current := m.State()

	if err == nil {
		if current != LedgerServing {
			m.logger.Info("ledger recovered", "from", current.String(), "to", LedgerServing.String())
			m.transition(LedgerServing)
		}
		m.failCount = 0
		return
	}

	m.failCount++
	m.logger.Warn("ledger health check failed",
		"fail_count", m.failCount,
		"threshold", m.cfg.Threshold,
		"error", err.Error(),
	)

	switch {
	case current == LedgerServing && m.failCount >= m.cfg.Threshold:
		m.readOnlySince = m.now()
		m.logger.Warn("ledger unreachable, refusing claims", "fail_count", m.failCount)
		m.transition(LedgerReadOnly)
		m.alert(LedgerReadOnly, err)
	case current == LedgerReadOnly && m.cfg.Timeout > 0 && m.now().Sub(m.readOnlySince) >= m.cfg.Timeout:
		m.logger.Error("ledger down past timeout, shutting down", "timeout", m.cfg.Timeout.String())
		m.transition(LedgerFailed)
		m.alert(LedgerFailed, err)
		if m.onFailed != nil {
			go m.onFailed()
		}
	}
}

func (m *LedgerMonitor) transition(to LedgerState) {
	m.state.Store(int32(to))
	if m.onChange != nil {
		m.onChange(to)
	}
}

type ledgerAlert struct {
	Event     string `json:"event"`
	State     string `json:"state"`
	Timestamp string `json:"timestamp"`
	FailCount int    `json:"fail_count"`
	Reason    string `json:"reason"`
}

func (m *LedgerMonitor) alert(state LedgerState, cause error) {
	if m.cfg.AlertWebhook == "" {
		return
	}
	b, err := json.Marshal(ledgerAlert{
		Event:     "ledger_state_change",
		State:     state.String(),
		Timestamp: m.now().UTC().Format(time.RFC3339),
		FailCount: m.failCount,
		Reason:    cause.Error(),
	})
	if err != nil {
		return
	}
	go func() {
		resp, err := m.client.Post(m.cfg.AlertWebhook, "application/json", bytes.NewReader(b))
		if err != nil {
			m.logger.Warn("ledger alert webhook failed", "error", err.Error())
			return
		}
		_ = resp.Body.Close()
	}()
}
