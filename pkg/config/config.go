// Copyright 2025 Certen Protocol
//
// Configuration loading and validation for the cross-chain transfer
// validator node.

package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MinAdaptableFeeIncreaseFactor is the minimum allowed value for a
// blockchain's adaptable_fee_increase_factor; resubmitting at a lower
// factor would never clear the mempool.
const MinAdaptableFeeIncreaseFactor = 1.05

// Mode identifies whether this node submits transfers on-chain itself
// (primary) or only collects signatures and forwards them (secondary).
type Mode string

const (
	ModePrimary   Mode = "primary"
	ModeSecondary Mode = "secondary"
)

// Config is the root configuration tree for a validator node instance.
type Config struct {
	Protocol    string                      `yaml:"protocol"`
	Application ApplicationConfig           `yaml:"application"`
	Database    DatabaseConfig              `yaml:"database"`
	Monitor     MonitorConfig               `yaml:"monitor"`
	Tasks       TasksConfig                 `yaml:"tasks"`
	Blockchains map[string]*BlockchainConfig `yaml:"blockchains"`
}

// LogConfig configures console/file logging. It is read from
// application.log; there is no separate task-queue log section.
type LogConfig struct {
	Format  string `yaml:"format"`
	Console struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"console"`
	File struct {
		Enabled     bool   `yaml:"enabled"`
		Name        string `yaml:"name"`
		MaxBytes    int    `yaml:"max_bytes"`
		BackupCount int    `yaml:"backup_count"`
	} `yaml:"file"`
}

// ApplicationConfig configures the REST API surface and validator role.
type ApplicationConfig struct {
	Debug          bool      `yaml:"debug"`
	Host           string    `yaml:"host"`
	Port           int       `yaml:"port"`
	SSLCertificate string    `yaml:"ssl_certificate"`
	SSLPrivateKey  string    `yaml:"ssl_private_key"`
	Mode           Mode      `yaml:"mode"`
	PrimaryURL     string    `yaml:"primary_url"`
	Log            LogConfig `yaml:"log"`
}

// DatabaseConfig configures the Postgres connection pool and migrations.
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	PoolSize        int    `yaml:"pool_size"`
	MaxOverflow     int    `yaml:"max_overflow"`
	Echo            bool   `yaml:"echo"`
	ApplyMigrations bool   `yaml:"apply_migrations"`
}

// MonitorConfig configures the detector's polling loop.
type MonitorConfig struct {
	IntervalSeconds int `yaml:"interval"`
	NumberThreads   int `yaml:"number_threads"`
}

func (m MonitorConfig) Interval() time.Duration {
	return time.Duration(m.IntervalSeconds) * time.Second
}

// TaskConfig configures the scheduler's retry cadence for one task kind.
type TaskConfig struct {
	RetryIntervalSeconds           int `yaml:"retry_interval_in_seconds"`
	RetryIntervalAfterErrorSeconds int `yaml:"retry_interval_after_error_in_seconds"`
}

func (t TaskConfig) RetryInterval() time.Duration {
	return time.Duration(t.RetryIntervalSeconds) * time.Second
}

func (t TaskConfig) RetryIntervalAfterError() time.Duration {
	return time.Duration(t.RetryIntervalAfterErrorSeconds) * time.Second
}

// TasksConfig holds the per-task-kind retry configuration, one entry per
// scheduler task kind.
type TasksConfig struct {
	ConfirmTransfer              TaskConfig `yaml:"confirm_transfer"`
	SubmitTransferOnchain        TaskConfig `yaml:"submit_transfer_onchain"`
	SubmitTransferToPrimaryNode  TaskConfig `yaml:"submit_transfer_to_primary_node"`
	ValidateTransfer             TaskConfig `yaml:"validate_transfer"`
}

// BlockchainConfig holds everything needed to instantiate a ChainAdapter
// for one supported blockchain.
type BlockchainConfig struct {
	Active                     bool     `yaml:"active"`
	PrivateKey                 string   `yaml:"private_key"`
	PrivateKeyPassword         string   `yaml:"private_key_password"`
	Providers                  []string `yaml:"providers"`
	FallbackProviders          []string `yaml:"fallback_providers"`
	ProviderTimeoutSeconds     int      `yaml:"provider_timeout"`
	AverageBlockTimeSeconds    int      `yaml:"average_block_time"`
	ChainID                    int64    `yaml:"chain_id"`
	Hub                        string   `yaml:"hub"`
	Forwarder                  string   `yaml:"forwarder"`
	PanToken                   string   `yaml:"pan_token"`
	FromBlock                  uint64   `yaml:"from_block"`
	OutgoingTransfersNumberBlocks uint64 `yaml:"outgoing_transfers_number_blocks"`
	Confirmations              uint64   `yaml:"confirmations"`
	MinAdaptableFeePerGas      string   `yaml:"min_adaptable_fee_per_gas"`
	MaxTotalFeePerGas          string   `yaml:"max_total_fee_per_gas"`
	AdaptableFeeIncreaseFactor float64  `yaml:"adaptable_fee_increase_factor"`
	BlocksUntilResubmission    uint64   `yaml:"blocks_until_resubmission"`

	// Name is the lower-case blockchain identifier this entry was keyed
	// by in the YAML map (e.g. "ethereum"); set by Load, not unmarshaled.
	Name string `yaml:"-"`
}

func (b *BlockchainConfig) ProviderTimeout() time.Duration {
	if b.ProviderTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(b.ProviderTimeoutSeconds) * time.Second
}

func (b *BlockchainConfig) AverageBlockTime() time.Duration {
	return time.Duration(b.AverageBlockTimeSeconds) * time.Second
}

func (b *BlockchainConfig) MinAdaptableFeePerGasWei() (*big.Int, error) {
	return parseBigInt(b.MinAdaptableFeePerGas)
}

func (b *BlockchainConfig) MaxTotalFeePerGasWei() (*big.Int, error) {
	if b.MaxTotalFeePerGas == "" {
		return nil, nil
	}
	return parseBigInt(b.MaxTotalFeePerGas)
}

func parseBigInt(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer value %q", s)
	}
	return v, nil
}

// Load reads and validates a configuration file, applying per-blockchain
// private-key overrides from the environment (e.g. ETHEREUM_PRIVATE_KEY)
// so that secrets never need to be committed to the YAML file.
func Load(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	for name, chain := range cfg.Blockchains {
		chain.Name = strings.ToLower(name)
		applyBlockchainEnvOverrides(chain)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyBlockchainEnvOverrides(chain *BlockchainConfig) {
	envPrefix := strings.ToUpper(chain.Name)
	if value := os.Getenv(envPrefix + "_PRIVATE_KEY"); value != "" {
		chain.PrivateKey = value
	}
	if value := os.Getenv(envPrefix + "_PRIVATE_KEY_PASSWORD"); value != "" {
		chain.PrivateKeyPassword = value
	}
}

// Validate checks that the loaded configuration is internally
// consistent. It does not reach out to the network.
func (c *Config) Validate() error {
	var problems []string

	if c.Protocol == "" {
		problems = append(problems, "protocol is required")
	}
	if c.Application.Host == "" {
		problems = append(problems, "application.host is required")
	}
	if c.Application.Mode != ModePrimary && c.Application.Mode != ModeSecondary {
		problems = append(problems, "application.mode must be 'primary' or 'secondary'")
	}
	if c.Application.Mode == ModeSecondary && c.Application.PrimaryURL == "" {
		problems = append(problems, "application.primary_url is required in secondary mode")
	}
	if (c.Application.SSLCertificate == "") != (c.Application.SSLPrivateKey == "") {
		problems = append(problems, "application.ssl_certificate and ssl_private_key must be set together")
	}
	if c.Database.URL == "" {
		problems = append(problems, "database.url is required")
	}

	activeCount := 0
	for name, chain := range c.Blockchains {
		if !chain.Active {
			continue
		}
		activeCount++
		prefix := fmt.Sprintf("blockchains.%s", name)
		if chain.PrivateKey == "" {
			problems = append(problems, prefix+".private_key is required for an active chain")
		}
		if len(chain.Providers) == 0 {
			problems = append(problems, prefix+".providers must not be empty")
		}
		if chain.Hub == "" || chain.Forwarder == "" {
			problems = append(problems, prefix+": hub and forwarder addresses are required")
		}
		if chain.AdaptableFeeIncreaseFactor != 0 && chain.AdaptableFeeIncreaseFactor < MinAdaptableFeeIncreaseFactor {
			problems = append(problems, fmt.Sprintf("%s.adaptable_fee_increase_factor must be >= %v", prefix, MinAdaptableFeeIncreaseFactor))
		}
		if _, err := chain.MinAdaptableFeePerGasWei(); err != nil {
			problems = append(problems, prefix+".min_adaptable_fee_per_gas: "+err.Error())
		}
	}
	if activeCount == 0 {
		problems = append(problems, "at least one active blockchain is required")
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// ActiveBlockchains returns the configuration entries with active=true,
// keyed by lower-case blockchain name.
func (c *Config) ActiveBlockchains() map[string]*BlockchainConfig {
	active := make(map[string]*BlockchainConfig)
	for name, chain := range c.Blockchains {
		if chain.Active {
			active[strings.ToLower(name)] = chain
		}
	}
	return active
}

// BlockchainConfigFor looks up the configuration for a single chain by name.
func (c *Config) BlockchainConfigFor(name string) (*BlockchainConfig, bool) {
	chain, ok := c.Blockchains[strings.ToLower(name)]
	return chain, ok
}

// ListenAddr returns the host:port pair the REST API should bind to.
func (c *Config) ListenAddr() string {
	return c.Application.Host + ":" + strconv.Itoa(c.Application.Port)
}
