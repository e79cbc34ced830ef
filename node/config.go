package node

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"dispenser.dev/node/dispenser"
)

const EnvPrefix = "DISPENSER"

type Config struct {
	DataDir     string `json:"data_dir" mapstructure:"data_dir"`
	BindAddr    string `json:"bind_addr" mapstructure:"bind_addr"`
	MetricsAddr string `json:"metrics_addr" mapstructure:"metrics_addr"`
	LogLevel    string `json:"log_level" mapstructure:"log_level"`
	LogFormat   string `json:"log_format" mapstructure:"log_format"`

	Ledger      string `json:"ledger" mapstructure:"ledger"`
	SQLitePath  string `json:"sqlite_path,omitempty" mapstructure:"sqlite_path"`
	PostgresURL string `json:"-" mapstructure:"postgres_url"`

	DispenserID    string   `json:"dispenser_id" mapstructure:"dispenser_id"`
	CosmosChains   []string `json:"cosmos_chains" mapstructure:"cosmos_chains"`
	DenyNative     []string `json:"deny_native" mapstructure:"deny_native"`
	DenyEvm        []string `json:"deny_evm" mapstructure:"deny_evm"`
	DenyNativeFile string   `json:"deny_native_file,omitempty" mapstructure:"deny_native_file"`
	DenyEvmFile    string   `json:"deny_evm_file,omitempty" mapstructure:"deny_evm_file"`

	RateLimit int `json:"rate_limit" mapstructure:"rate_limit"`
	RateBurst int `json:"rate_burst" mapstructure:"rate_burst"`

	GuardKeystore  string `json:"guard_keystore,omitempty" mapstructure:"guard_keystore"`
	GuardKEK       string `json:"-" mapstructure:"guard_kek"`
	DiscordAPIBase string `json:"discord_api_base" mapstructure:"discord_api_base"`

	HealthInterval  time.Duration `json:"health_interval" mapstructure:"health_interval"`
	HealthThreshold int           `json:"health_threshold" mapstructure:"health_threshold"`
	HealthTimeout   time.Duration `json:"health_timeout" mapstructure:"health_timeout"`
	AlertWebhook    string        `json:"alert_webhook,omitempty" mapstructure:"alert_webhook"`
}

const (
	LedgerBolt     = "bolt"
	LedgerSQLite   = "sqlite"
	LedgerPostgres = "postgres"
	LedgerMemory   = "memory"
)

var allowedLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

var allowedLedgers = map[string]struct{}{
	LedgerBolt:     {},
	LedgerSQLite:   {},
	LedgerPostgres: {},
	LedgerMemory:   {},
}

func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".dispenser"
	}
	return filepath.Join(home, ".dispenser")
}

func DefaultConfig() Config {
	return Config{
		DataDir:         DefaultDataDir(),
		BindAddr:        "127.0.0.1:8080",
		MetricsAddr:     "127.0.0.1:9090",
		LogLevel:        "info",
		LogFormat:       "text",
		Ledger:          LedgerBolt,
		DiscordAPIBase:  "https://discord.com/api/v10",
		RateLimit:       60,
		RateBurst:       10,
		HealthInterval:  10 * time.Second,
		HealthThreshold: 3,
		HealthTimeout:   5 * time.Minute,
	}
}

// LoadConfig layers DefaultConfig, the optional config file and DISPENSER_*
// environment variables, in that order. Flags bound to v by the caller win
// over all of them.
func LoadConfig(v *viper.Viper, path string) (Config, error) {
	def := DefaultConfig()
	for key, val := range map[string]any{
		"data_dir":         def.DataDir,
		"bind_addr":        def.BindAddr,
		"metrics_addr":     def.MetricsAddr,
		"log_level":        def.LogLevel,
		"log_format":       def.LogFormat,
		"ledger":           def.Ledger,
		"sqlite_path":      "",
		"postgres_url":     "",
		"dispenser_id":     "",
		"cosmos_chains":    []string{},
		"deny_native":      []string{},
		"deny_evm":         []string{},
		"deny_native_file": "",
		"deny_evm_file":    "",
		"rate_limit":       def.RateLimit,
		"rate_burst":       def.RateBurst,
		"guard_keystore":   "",
		"guard_kek":        "",
		"discord_api_base": def.DiscordAPIBase,
		"health_interval":  def.HealthInterval,
		"health_threshold": def.HealthThreshold,
		"health_timeout":   def.HealthTimeout,
		"alert_webhook":    "",
	} {
		v.SetDefault(key, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	cfg.Ledger = strings.ToLower(strings.TrimSpace(cfg.Ledger))
	cfg.CosmosChains = NormalizeList(cfg.CosmosChains...)
	cfg.DenyNative = NormalizeList(cfg.DenyNative...)
	cfg.DenyEvm = NormalizeList(cfg.DenyEvm...)
	return cfg, nil
}

// NormalizeList splits comma-separated entries, trims them and drops empty
// and repeated values while keeping first-seen order.
func NormalizeList(raw ...string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, token := range raw {
		for _, p := range strings.Split(token, ",") {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

func ValidateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.DataDir) == "" {
		return errors.New("data_dir is required")
	}
	if err := validateAddr(cfg.BindAddr); err != nil {
		return fmt.Errorf("invalid bind_addr: %w", err)
	}
	if cfg.MetricsAddr != "" {
		if err := validateAddr(cfg.MetricsAddr); err != nil {
			return fmt.Errorf("invalid metrics_addr: %w", err)
		}
	}
	if _, ok := allowedLogLevels[strings.ToLower(strings.TrimSpace(cfg.LogLevel))]; !ok {
		return fmt.Errorf("invalid log_level %q", cfg.LogLevel)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.LogFormat)) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log_format %q", cfg.LogFormat)
	}
	if _, ok := allowedLedgers[cfg.Ledger]; !ok {
		return fmt.Errorf("invalid ledger %q", cfg.Ledger)
	}
	if cfg.Ledger == LedgerPostgres && strings.TrimSpace(cfg.PostgresURL) == "" {
		return errors.New("postgres_url is required for the postgres ledger")
	}
	if _, err := dispenser.ParsePubkey(cfg.DispenserID); err != nil {
		return fmt.Errorf("invalid dispenser_id: %w", err)
	}
	for _, chain := range cfg.CosmosChains {
		if !(dispenser.Resolver{CosmosChains: []string{chain}}).ChainAllowed(chain) {
			return fmt.Errorf("cosmos chain %q can never be claimed from", chain)
		}
	}
	if _, err := ParseDenylist(cfg.DenyNative, cfg.DenyEvm); err != nil {
		return err
	}
	if cfg.RateLimit < 0 || cfg.RateBurst < 0 {
		return errors.New("rate_limit and rate_burst must be >= 0")
	}
	if cfg.RateLimit > 0 && cfg.RateBurst == 0 {
		return errors.New("rate_burst must be > 0 when rate_limit is set")
	}
	if cfg.HealthInterval <= 0 {
		return errors.New("health_interval must be > 0")
	}
	if cfg.HealthThreshold <= 0 {
		return errors.New("health_threshold must be > 0")
	}
	if cfg.HealthTimeout < 0 {
		return errors.New("health_timeout must be >= 0")
	}
	return nil
}

// SQLiteFile returns the configured SQLite path or the default inside the
// data directory.
func (c Config) SQLiteFile() string {
	if c.SQLitePath != "" {
		return c.SQLitePath
	}
	return filepath.Join(c.DataDir, "receipts.sqlite")
}

// ParseDenylist builds a Denylist from base58 native keys and 0x-prefixed
// EVM addresses.
func ParseDenylist(native, evm []string) (dispenser.Denylist, error) {
	nk := make([]dispenser.Pubkey, 0, len(native))
	for _, s := range native {
		k, err := dispenser.ParsePubkey(s)
		if err != nil {
			return dispenser.Denylist{}, fmt.Errorf("deny_native %q: %w", s, err)
		}
		nk = append(nk, k)
	}
	ek := make([]dispenser.EvmPubkey, 0, len(evm))
	for _, s := range evm {
		k, err := dispenser.ParseEvmPubkey(s)
		if err != nil {
			return dispenser.Denylist{}, fmt.Errorf("deny_evm %q: %w", s, err)
		}
		ek = append(ek, k)
	}
	return dispenser.NewDenylist(nk, ek), nil
}

func validateAddr(addr string) error {
	if strings.TrimSpace(addr) == "" {
		return errors.New("empty address")
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if strings.TrimSpace(port) == "" {
		return errors.New("missing port")
	}
	if strings.Contains(host, " ") {
		return errors.New("invalid host")
	}
	return nil
}
