package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/chainsafe/nft-migration-relay/pkg/codec"
)

// Config represents the relay configuration
type Config struct {
	Server        ServerConfig     `mapstructure:"server"`
	Database      DatabaseConfig   `mapstructure:"database"`
	Relay         RelayConfig      `mapstructure:"relay"`
	Engine        EngineConfig     `mapstructure:"engine"`
	Universes     []UniverseConfig `mapstructure:"universes"`
	UniversesFile string           `mapstructure:"universes_file"`
	Monitoring    MonitoringConfig `mapstructure:"monitoring"`
	Logging       LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig contains database connection settings
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// RelayConfig holds the relay identity and migration protocol knobs
type RelayConfig struct {
	// PrivateKey is the hex encoded signing key used on every universe.
	PrivateKey string `mapstructure:"private_key"`
	// EventTimeout bounds the wait for the departure event once the
	// departure transaction is confirmed.
	EventTimeout        time.Duration `mapstructure:"event_timeout"`
	EscrowProofAttempts int           `mapstructure:"escrow_proof_attempts"`
	EscrowProofDelay    time.Duration `mapstructure:"escrow_proof_delay"`
	// PendingTxWait is how long a resumed step waits for an earlier
	// broadcast whose nonce is still open before giving up on it.
	PendingTxWait    time.Duration `mapstructure:"pending_tx_wait"`
	PendingTxPoll    time.Duration `mapstructure:"pending_tx_poll"`
	AdminJWTSecret   string        `mapstructure:"admin_jwt_secret"`
	PremintPerMinute int           `mapstructure:"premint_per_minute"`
	PremintBurst     int           `mapstructure:"premint_burst"`
}

// EngineConfig controls the background engine
type EngineConfig struct {
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	ResumeOnStart     bool          `mapstructure:"resume_on_start"`
}

// UniverseConfig describes one connected chain. Zero values are filled from
// the default tags when the config is loaded.
type UniverseConfig struct {
	ID                  string        `mapstructure:"id" yaml:"id" validate:"required"`
	Name                string        `mapstructure:"name" yaml:"name"`
	ChainID             int64         `mapstructure:"chain_id" yaml:"chain_id" validate:"gt=0"`
	RPCURL              string        `mapstructure:"rpc_url" yaml:"rpc_url" validate:"required"`
	WSURL               string        `mapstructure:"ws_url" yaml:"ws_url"`
	BridgeAddress       string        `mapstructure:"bridge_address" yaml:"bridge_address" validate:"required,eth_addr"`
	Targets             []string      `mapstructure:"targets" yaml:"targets"`
	Worlds              []string      `mapstructure:"worlds" yaml:"worlds" validate:"dive,eth_addr"`
	ConfirmationBlocks  uint64        `mapstructure:"confirmation_blocks" yaml:"confirmation_blocks" default:"2"`
	GasLimit            uint64        `mapstructure:"gas_limit" yaml:"gas_limit" default:"8000000"`
	MaxGasPriceGwei     string        `mapstructure:"max_gas_price_gwei" yaml:"max_gas_price_gwei" default:"500"`
	GasBumpPercent      int           `mapstructure:"gas_bump_percent" yaml:"gas_bump_percent" default:"20" validate:"gte=10"`
	StallTimeout        time.Duration `mapstructure:"stall_timeout" yaml:"stall_timeout" default:"90s"`
	MaxResubmissions    int           `mapstructure:"max_resubmissions" yaml:"max_resubmissions" default:"3" validate:"gte=0"`
	ReceiptPollInterval time.Duration `mapstructure:"receipt_poll_interval" yaml:"receipt_poll_interval" default:"2s"`
	ReconnectAttempts   uint64        `mapstructure:"reconnect_attempts" yaml:"reconnect_attempts" default:"5" validate:"gte=1"`
	ReconnectDelay      time.Duration `mapstructure:"reconnect_delay" yaml:"reconnect_delay" default:"5s"`
}

// MonitoringConfig contains monitoring and metrics settings
type MonitoringConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// Endpoint returns the websocket URL when configured, the RPC URL otherwise.
func (u *UniverseConfig) Endpoint() string {
	if u.WSURL != "" {
		return u.WSURL
	}
	return u.RPCURL
}

// MaxGasPriceWei converts the configured gwei cap to wei.
func (u *UniverseConfig) MaxGasPriceWei() (*big.Int, error) {
	if u.MaxGasPriceGwei == "" {
		return nil, nil
	}
	gwei, err := decimal.NewFromString(u.MaxGasPriceGwei)
	if err != nil {
		return nil, fmt.Errorf("invalid max_gas_price_gwei %q: %w", u.MaxGasPriceGwei, err)
	}
	if gwei.Sign() <= 0 {
		return nil, fmt.Errorf("max_gas_price_gwei must be positive")
	}
	return gwei.Shift(9).BigInt(), nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.UniversesFile != "" {
		universes, err := LoadUniverses(config.UniversesFile)
		if err != nil {
			return nil, err
		}
		config.Universes = append(config.Universes, universes...)
	}

	for i := range config.Universes {
		if err := defaults.Set(&config.Universes[i]); err != nil {
			return nil, fmt.Errorf("failed to apply universe defaults: %w", err)
		}
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// LoadUniverses reads a standalone network list.
func LoadUniverses(path string) ([]UniverseConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read universes file: %w", err)
	}

	var file struct {
		Universes []UniverseConfig `yaml:"universes"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse universes file: %w", err)
	}
	return file.Universes, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.database", "nft_relay")

	// Relay defaults
	v.SetDefault("relay.private_key", "")
	v.SetDefault("relay.admin_jwt_secret", "")
	v.SetDefault("relay.event_timeout", "5m")
	v.SetDefault("relay.escrow_proof_attempts", 5)
	v.SetDefault("relay.escrow_proof_delay", "5s")
	v.SetDefault("relay.pending_tx_wait", "10m")
	v.SetDefault("relay.pending_tx_poll", "5s")
	v.SetDefault("relay.premint_per_minute", 1)
	v.SetDefault("relay.premint_burst", 1)

	// Engine defaults
	v.SetDefault("engine.reconcile_interval", "5m")
	v.SetDefault("engine.resume_on_start", true)

	// Monitoring defaults
	v.SetDefault("monitoring.enabled", true)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output_path", "stdout")
}

func validate(config *Config) error {
	if config.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if config.Relay.PrivateKey == "" {
		return fmt.Errorf("relay.private_key is required")
	}
	if len(config.Universes) == 0 {
		return fmt.Errorf("at least one universe is required")
	}

	validate := validator.New()
	seen := make(map[string]struct{}, len(config.Universes))
	chains := make(map[int64]struct{}, len(config.Universes))
	for i := range config.Universes {
		u := &config.Universes[i]
		if err := validate.Struct(u); err != nil {
			return fmt.Errorf("universes[%d]: %w", i, err)
		}
		if err := codec.CheckUniverseID(u.ID); err != nil {
			return fmt.Errorf("universes[%d]: %w", i, err)
		}
		if _, ok := seen[u.ID]; ok {
			return fmt.Errorf("duplicate universe id %q", u.ID)
		}
		seen[u.ID] = struct{}{}
		if _, ok := chains[u.ChainID]; ok {
			return fmt.Errorf("duplicate chain id %d", u.ChainID)
		}
		chains[u.ChainID] = struct{}{}
		if _, err := u.MaxGasPriceWei(); err != nil {
			return fmt.Errorf("universes[%d]: %w", i, err)
		}
	}

	for _, u := range config.Universes {
		for _, target := range u.Targets {
			if _, ok := seen[target]; !ok {
				return fmt.Errorf("universe %q targets unknown universe %q", u.ID, target)
			}
		}
	}
	return nil
}
