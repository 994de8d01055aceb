// Package config loads configuration for the tokenization layer.
//
// Sources are applied in order: a .env file, a YAML file, then environment
// variables. Later sources override earlier ones.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Gateway   GatewayConfig     `yaml:"gateway"`
	Portal    PortalConfig      `yaml:"portal"`
	Indexer   IndexerConfig     `yaml:"indexer"`
	Chain     ChainConfig       `yaml:"chain"`
	Pipeline  PipelineConfig    `yaml:"pipeline"`
	Database  DatabaseConfig    `yaml:"database"`
	Logging   LoggingConfig     `yaml:"logging"`
	Factories map[string]string `yaml:"factories"`
	// Modules maps compliance module types to their deployed module contract.
	Modules map[string]string `yaml:"modules"`
}

// GatewayConfig configures the HTTP front door.
type GatewayConfig struct {
	ListenAddr       string        `yaml:"listen_addr" env:"GATEWAY_LISTEN_ADDR"`
	JWTPublicKeyPath string        `yaml:"jwt_public_key_path" env:"GATEWAY_JWT_PUBLIC_KEY_PATH"`
	RateLimitPerSec  int           `yaml:"rate_limit_per_sec" env:"GATEWAY_RATE_LIMIT_PER_SEC"`
	RateLimitBurst   int           `yaml:"rate_limit_burst" env:"GATEWAY_RATE_LIMIT_BURST"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout" env:"GATEWAY_SHUTDOWN_TIMEOUT"`
	// AllowedOrigins for CORS and websocket upgrades. GATEWAY_ALLOWED_ORIGINS
	// takes a comma-separated list.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// PortalConfig configures the transaction service client.
type PortalConfig struct {
	URL         string        `yaml:"url" env:"PORTAL_URL"`
	AccessToken string        `yaml:"access_token" env:"PORTAL_ACCESS_TOKEN"`
	Timeout     time.Duration `yaml:"timeout" env:"PORTAL_TIMEOUT"`
}

// IndexerConfig configures the indexer client.
type IndexerConfig struct {
	URL     string        `yaml:"url" env:"INDEXER_URL"`
	Timeout time.Duration `yaml:"timeout" env:"INDEXER_TIMEOUT"`
}

// ChainConfig configures the optional JSON-RPC node. When RPCURL is set, receipts
// are read from the node instead of the transaction service.
type ChainConfig struct {
	RPCURL  string        `yaml:"rpc_url" env:"CHAIN_RPC_URL"`
	Timeout time.Duration `yaml:"timeout" env:"CHAIN_RPC_TIMEOUT"`
}

// PipelineConfig configures transaction execution.
type PipelineConfig struct {
	ReceiptTimeout  time.Duration `yaml:"receipt_timeout" env:"PIPELINE_RECEIPT_TIMEOUT"`
	PollInterval    time.Duration `yaml:"poll_interval" env:"PIPELINE_POLL_INTERVAL"`
	IndexingTimeout time.Duration `yaml:"indexing_timeout" env:"PIPELINE_INDEXING_TIMEOUT"`
	RetryBackoff    time.Duration `yaml:"retry_backoff" env:"PIPELINE_RETRY_BACKOFF"`
}

// DatabaseConfig configures the action audit store. An empty DSN selects the in-memory store.
type DatabaseConfig struct {
	DSN string `yaml:"dsn" env:"DATABASE_URL"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			ListenAddr:      ":8080",
			RateLimitPerSec: 5,
			RateLimitBurst:  10,
			ShutdownTimeout: 15 * time.Second,
		},
		Portal: PortalConfig{
			Timeout: 30 * time.Second,
		},
		Indexer: IndexerConfig{
			Timeout: 15 * time.Second,
		},
		Chain: ChainConfig{
			Timeout: 30 * time.Second,
		},
		Pipeline: PipelineConfig{
			ReceiptTimeout:  2 * time.Minute,
			PollInterval:    2 * time.Second,
			IndexingTimeout: time.Minute,
			RetryBackoff:    time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Factories: map[string]string{},
		Modules:   map[string]string{},
	}
}

// Load reads configuration from path (defaults to config/tokenization.yaml).
// A missing file leaves the defaults in place.
func Load(path string) (*Config, error) {
	if path == "" {
		path = filepath.Join("config", "tokenization.yaml")
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("failed to decode environment: %w", err)
	}
	if raw := os.Getenv("GATEWAY_ALLOWED_ORIGINS"); raw != "" {
		cfg.Gateway.AllowedOrigins = splitAndTrimCSV(raw)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Portal.URL) == "" {
		return fmt.Errorf("portal.url is required")
	}
	if c.Pipeline.ReceiptTimeout <= 0 {
		return fmt.Errorf("pipeline.receipt_timeout must be positive")
	}
	if c.Pipeline.PollInterval <= 0 {
		return fmt.Errorf("pipeline.poll_interval must be positive")
	}
	if c.Pipeline.IndexingTimeout < 0 {
		return fmt.Errorf("pipeline.indexing_timeout must not be negative")
	}
	for assetType, addr := range c.Factories {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("factories.%s: invalid address %q", assetType, addr)
		}
	}
	for moduleType, addr := range c.Modules {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("modules.%s: invalid address %q", moduleType, addr)
		}
	}
	return nil
}

// FactoryAddresses returns the parsed factory addresses keyed by asset type.
func (c *Config) FactoryAddresses() map[string]common.Address {
	out := make(map[string]common.Address, len(c.Factories))
	for k, v := range c.Factories {
		out[k] = common.HexToAddress(v)
	}
	return out
}

// ModuleAddresses returns the parsed compliance module addresses keyed by module type.
func (c *Config) ModuleAddresses() map[string]common.Address {
	out := make(map[string]common.Address, len(c.Modules))
	for k, v := range c.Modules {
		out[k] = common.HexToAddress(v)
	}
	return out
}

func splitAndTrimCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
