// Package common provides shared utilities for ledgermix commands.
//
// It holds the YAML configuration schema read by the daemon and the factory
// functions that turn a configuration into backends:
//
//   - Ledger client: node JSON-RPC or the in-memory simulated ledger
//   - Journal: in-memory or PostgreSQL
//   - Origin locker: in-process or Redis
//   - Event publisher: log or RabbitMQ
package common

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/flashbots/ledgermix/mixer"
	"github.com/flashbots/ledgermix/nanorpc"
	"github.com/flashbots/ledgermix/services"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration file.
type Config struct {
	HTTPAddr   string `yaml:"http_addr"`
	AdminToken string `yaml:"admin_token"`
	LogLevel   string `yaml:"log_level"`
	LogJSON    bool   `yaml:"log_json"`

	Node    NodeConfig    `yaml:"node"`
	Mixing  MixingConfig  `yaml:"mixing"`
	Journal JournalConfig `yaml:"journal"`
	Lock    LockConfig    `yaml:"lock"`
	Events  EventsConfig  `yaml:"events"`
}

// NodeConfig selects and configures the ledger client.
type NodeConfig struct {
	URL            string        `yaml:"url"`
	Wallet         string        `yaml:"wallet"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Simulate replaces the node with an in-memory ledger seeded with
	// SimulatedBalances (account to raw amount).
	Simulate          bool              `yaml:"simulate"`
	SimulatedBalances map[string]string `yaml:"simulated_balances"`
}

// MixingConfig holds session defaults.
type MixingConfig struct {
	NumMixAccounts      int    `yaml:"num_mix_accounts"`
	NumRounds           int    `yaml:"num_rounds"`
	MultiSourceFinalHop bool   `yaml:"multi_source_final_hop"`
	SeedSecret          string `yaml:"seed_secret"`
}

// JournalConfig selects the session journal.
type JournalConfig struct {
	Driver   string                  `yaml:"driver"` // memory or postgres
	Postgres services.PostgresConfig `yaml:"postgres"`
}

// LockConfig selects the origin locker.
type LockConfig struct {
	Driver    string        `yaml:"driver"` // local or redis
	RedisAddr string        `yaml:"redis_addr"`
	RedisDB   int           `yaml:"redis_db"`
	TTL       time.Duration `yaml:"ttl"`
}

// EventsConfig selects the event publisher.
type EventsConfig struct {
	Driver   string `yaml:"driver"` // log or amqp
	AMQPURL  string `yaml:"amqp_url"`
	Exchange string `yaml:"exchange"`
}

// DefaultConfig returns a configuration that runs against a local node with
// in-process backends.
func DefaultConfig() *Config {
	confirm := mixer.DefaultConfirmConfig()
	return &Config{
		HTTPAddr: ":8080",
		LogLevel: "info",
		Node: NodeConfig{
			URL:            "http://[::1]:7076",
			PollInterval:   confirm.PollInterval,
			ConfirmTimeout: confirm.Timeout,
			RequestTimeout: 10 * time.Second,
		},
		Mixing: MixingConfig{
			NumMixAccounts: 4,
			NumRounds:      2,
		},
		Journal: JournalConfig{
			Driver: "memory",
			Postgres: services.PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "ledgermix",
			},
		},
		Lock: LockConfig{
			Driver:    "local",
			RedisAddr: "localhost:6379",
			TTL:       30 * time.Second,
		},
		Events: EventsConfig{
			Driver:   "log",
			Exchange: "ledgermix.events",
		},
	}
}

// LoadConfig reads a YAML file over DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// Validate checks driver names and required fields.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("http_addr is required")
	}
	if !c.Node.Simulate {
		if c.Node.URL == "" {
			return fmt.Errorf("node.url is required")
		}
		if c.Node.Wallet == "" {
			return fmt.Errorf("node.wallet is required")
		}
	}
	if c.Mixing.NumMixAccounts < 2 {
		return fmt.Errorf("mixing.num_mix_accounts must be at least 2")
	}
	if c.Mixing.NumRounds < 1 {
		return fmt.Errorf("mixing.num_rounds must be at least 1")
	}

	switch c.Journal.Driver {
	case "memory", "postgres":
	default:
		return fmt.Errorf("unknown journal driver %q", c.Journal.Driver)
	}
	switch c.Lock.Driver {
	case "local", "redis":
	default:
		return fmt.Errorf("unknown lock driver %q", c.Lock.Driver)
	}
	switch c.Events.Driver {
	case "log":
	case "amqp":
		if c.Events.AMQPURL == "" {
			return fmt.Errorf("events.amqp_url is required for the amqp driver")
		}
	default:
		return fmt.Errorf("unknown events driver %q", c.Events.Driver)
	}
	return nil
}

// ConfirmConfig returns the settlement wait configured for the node.
func (c *Config) ConfirmConfig() mixer.ConfirmConfig {
	return mixer.ConfirmConfig{
		PollInterval: c.Node.PollInterval,
		Timeout:      c.Node.ConfirmTimeout,
	}
}

// MixerOptions returns the options shared by every Mixer of the daemon.
func (c *Config) MixerOptions() []mixer.Option {
	opts := []mixer.Option{mixer.WithConfirmConfig(c.ConfirmConfig())}
	if c.Mixing.SeedSecret != "" {
		opts = append(opts, mixer.WithSeedSecret([]byte(c.Mixing.SeedSecret)))
	}
	return opts
}

// SessionDefaults returns the manager defaults.
func (c *Config) SessionDefaults() services.SessionDefaults {
	return services.SessionDefaults{
		NumMixAccounts:      c.Mixing.NumMixAccounts,
		NumRounds:           c.Mixing.NumRounds,
		MultiSourceFinalHop: c.Mixing.MultiSourceFinalHop,
	}
}

// WalletClient is a ledger client that can also enumerate its wallet.
type WalletClient interface {
	mixer.LedgerClient
	ListAccounts(ctx context.Context) ([]mixer.AccountID, error)
}

// NewLedgerClient returns the node client, or a seeded simulated ledger when
// node.simulate is set.
func NewLedgerClient(cfg NodeConfig, log *slog.Logger) (WalletClient, error) {
	confirm := mixer.ConfirmConfig{PollInterval: cfg.PollInterval, Timeout: cfg.ConfirmTimeout}

	if cfg.Simulate {
		ledger := mixer.NewMockLedger()
		ledger.SetConfirmConfig(confirm)
		for account, amount := range cfg.SimulatedBalances {
			if amount == "0" {
				ledger.Fund(mixer.AccountID(account), decimal.Zero)
				continue
			}
			raw, err := nanorpc.ParseAmount(amount)
			if err != nil {
				return nil, fmt.Errorf("simulated balance of %s: %w", account, err)
			}
			ledger.Fund(mixer.AccountID(account), raw)
		}
		return ledger, nil
	}

	client, err := nanorpc.NewClient(nanorpc.Config{
		URL:            cfg.URL,
		Wallet:         cfg.Wallet,
		RequestTimeout: cfg.RequestTimeout,
		Confirm:        confirm,
	}, log)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// NewJournal opens the configured journal. The returned close function is
// never nil.
func NewJournal(cfg JournalConfig) (services.Journal, func() error, error) {
	if cfg.Driver == "postgres" {
		journal, err := services.NewPostgresJournal(&cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		return journal, journal.Close, nil
	}
	return services.NewInMemoryJournal(), noopClose, nil
}

// NewLocker creates the configured origin locker. The returned close
// function is never nil.
func NewLocker(cfg LockConfig, log *slog.Logger) (services.Locker, func() error, error) {
	if cfg.Driver == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		})
		return services.NewRedisLocker(client, cfg.TTL, log), client.Close, nil
	}
	return services.NewLocalLocker(), noopClose, nil
}

// NewPublisher creates the configured event publisher. The returned close
// function is never nil.
func NewPublisher(cfg EventsConfig, log *slog.Logger) (services.Publisher, func() error, error) {
	if cfg.Driver == "amqp" {
		publisher, err := services.DialAMQPPublisher(cfg.AMQPURL, cfg.Exchange)
		if err != nil {
			return nil, nil, err
		}
		return publisher, publisher.Close, nil
	}
	return services.NewLogPublisher(log), noopClose, nil
}

// NewLogger creates a stderr logger at the given level ("debug", "info",
// "warn" or "error").
func NewLogger(level string, jsonFormat bool) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if jsonFormat {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
}

func noopClose() error { return nil }
