// Package config loads the node's YAML configuration: the relational store
// DSN, per-chain indexer settings, pending-queue tuning, CAS backends, the
// P2P client endpoint, and the ambient observability stack.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so config files can use human-readable
// strings like "30s" or "1h" instead of raw nanosecond integers.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config is the node's full runtime configuration.
type Config struct {
	NodeID      string        `yaml:"node_id"`
	Store       StoreConfig   `yaml:"store"`
	CAS         CASConfig     `yaml:"cas"`
	Chains      []ChainConfig `yaml:"chains"`
	Pending     PendingConfig `yaml:"pending"`
	P2P         P2PConfig     `yaml:"p2p"`
	Balance     BalanceConfig `yaml:"balance"`
	HTTP        HTTPConfig    `yaml:"http"`
	Logging     LoggingConfig `yaml:"logging"`
	Telemetry   Telemetry     `yaml:"telemetry"`
}

// StoreConfig selects and tunes the relational store backend. Driver, unless
// set explicitly, is inferred from the DSN: "postgres" for a "postgres://" or
// "postgresql://" DSN, "sqlite" for anything else.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// CASConfig selects the content-addressed storage backends.
type CASConfig struct {
	LocalRoot  string   `yaml:"local_root"`
	IPFSAPI    string   `yaml:"ipfs_api"`
	GCInterval Duration `yaml:"gc_interval"`
}

// ChainConfig is one entry in the list of chains this node indexes.
type ChainConfig struct {
	Chain             string   `yaml:"chain"`
	RPCEndpoint       string   `yaml:"rpc_endpoint"`
	ContractAddress   string   `yaml:"contract_address"`
	StartHeight       uint64   `yaml:"start_height"`
	ConfirmationDepth uint64   `yaml:"confirmation_depth"`
	PollInterval      Duration `yaml:"poll_interval"`
	Window            uint64   `yaml:"window"`
}

// PendingConfig tunes the PTP/PMP processors.
type PendingConfig struct {
	Workers           int      `yaml:"workers"`
	BatchSize         int      `yaml:"batch_size"`
	FetchTimeout      Duration `yaml:"fetch_timeout"`
	MaxRetries        uint32   `yaml:"max_retries"`
	ClaimTimeout      Duration `yaml:"claim_timeout"`
	ShutdownGrace     Duration `yaml:"shutdown_grace"`
	HighWatermark     int      `yaml:"high_watermark"`
	AggregateTiebreak string   `yaml:"aggregate_tiebreak"`
	StoreGraceTemp    Duration `yaml:"store_grace_temp"`
	StoreGraceNormal  Duration `yaml:"store_grace_normal"`
	PerTypeConcurrency map[string]int `yaml:"per_type_concurrency"`
}

// P2PConfig points at the external P2P daemon's request/response surface.
type P2PConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Topic       string  `yaml:"topic"`
	PublishRate float64 `yaml:"publish_rate"`
}

// BalanceConfig tunes the Balance Reconciler. BytesPerBalanceUnit converts
// an address's summed on-chain Balance.Amount into an allowed storage
// quota in bytes; spec.md leaves the exact conversion unspecified (§9
// open question), so it is exposed as a knob rather than hard-coded.
type BalanceConfig struct {
	Interval            Duration `yaml:"interval"`
	ReportDir           string   `yaml:"report_dir"`
	Parquet             bool     `yaml:"parquet"`
	BytesPerBalanceUnit float64  `yaml:"bytes_per_balance_unit"`
}

// HTTPConfig configures the thin HTTP inbound adapter.
type HTTPConfig struct {
	ListenAddress string `yaml:"listen"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Service string `yaml:"service"`
	Env     string `yaml:"env"`
	Level   string `yaml:"level"`
}

// Telemetry configures the OpenTelemetry exporters.
type Telemetry struct {
	Endpoint string            `yaml:"endpoint"`
	Insecure bool              `yaml:"insecure"`
	Headers  map[string]string `yaml:"headers"`
	Metrics  bool              `yaml:"metrics"`
	Traces   bool              `yaml:"traces"`
}

// Load reads and validates configuration from the supplied path.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.NodeID == "" {
		cfg.NodeID = "ccn-local"
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "sqlite"
		if strings.HasPrefix(cfg.Store.DSN, "postgres://") || strings.HasPrefix(cfg.Store.DSN, "postgresql://") {
			cfg.Store.Driver = "postgres"
		}
	}
	if cfg.Store.DSN == "" {
		cfg.Store.DSN = "./ccn.sqlite"
	}
	if cfg.CAS.LocalRoot == "" {
		cfg.CAS.LocalRoot = "./cas-objects"
	}
	if cfg.CAS.GCInterval.Duration == 0 {
		cfg.CAS.GCInterval.Duration = time.Hour
	}
	for i := range cfg.Chains {
		c := &cfg.Chains[i]
		if c.PollInterval.Duration == 0 {
			c.PollInterval.Duration = 10 * time.Second
		}
		if c.Window == 0 {
			c.Window = 500
		}
	}
	if cfg.Pending.Workers <= 0 {
		cfg.Pending.Workers = 8
	}
	if cfg.Pending.BatchSize <= 0 {
		cfg.Pending.BatchSize = 32
	}
	if cfg.Pending.FetchTimeout.Duration == 0 {
		cfg.Pending.FetchTimeout.Duration = 30 * time.Second
	}
	if cfg.Pending.MaxRetries == 0 {
		cfg.Pending.MaxRetries = 10
	}
	if cfg.Pending.ClaimTimeout.Duration == 0 {
		cfg.Pending.ClaimTimeout.Duration = 5 * time.Minute
	}
	if cfg.Pending.ShutdownGrace.Duration == 0 {
		cfg.Pending.ShutdownGrace.Duration = 30 * time.Second
	}
	if cfg.Pending.HighWatermark <= 0 {
		cfg.Pending.HighWatermark = 10_000
	}
	if cfg.Pending.AggregateTiebreak == "" {
		cfg.Pending.AggregateTiebreak = "item_hash"
	}
	if cfg.Pending.StoreGraceTemp.Duration == 0 {
		cfg.Pending.StoreGraceTemp.Duration = time.Hour
	}
	if cfg.Pending.StoreGraceNormal.Duration == 0 {
		cfg.Pending.StoreGraceNormal.Duration = 24 * time.Hour
	}
	if cfg.P2P.PublishRate <= 0 {
		cfg.P2P.PublishRate = 50
	}
	if cfg.P2P.Topic == "" {
		cfg.P2P.Topic = "aleph"
	}
	if cfg.Balance.Interval.Duration == 0 {
		cfg.Balance.Interval.Duration = time.Hour
	}
	if cfg.Balance.BytesPerBalanceUnit <= 0 {
		cfg.Balance.BytesPerBalanceUnit = 1_000_000 // 1 MB of quota per whole balance unit
	}
	if cfg.Balance.ReportDir == "" {
		cfg.Balance.ReportDir = "./ccn-data/balance-reports"
	}
	if cfg.HTTP.ListenAddress == "" {
		cfg.HTTP.ListenAddress = ":8080"
	}
	if cfg.Logging.Service == "" {
		cfg.Logging.Service = "ccnd"
	}
	if cfg.Logging.Env == "" {
		cfg.Logging.Env = "dev"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func validate(cfg Config) error {
	if len(cfg.Chains) == 0 {
		return fmt.Errorf("at least one chain must be configured")
	}
	for _, c := range cfg.Chains {
		if c.Chain == "" {
			return fmt.Errorf("chain entry missing chain id")
		}
		if c.RPCEndpoint == "" {
			return fmt.Errorf("chain %s: rpc_endpoint required", c.Chain)
		}
	}
	switch cfg.Store.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
	return nil
}
