package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// Application
	LogLevel string
	HTTPPort string

	// Ledger
	LedgerKind           string // "node" or "evm"
	LedgerNodeURL        string
	LedgerModuleAddress  string
	LedgerModuleName     string
	LedgerEventStruct    string
	LedgerViewFunction   string
	LedgerTokenDecimals  int
	LedgerPageLimit      int
	LedgerRequestTimeout time.Duration
	EVMRPCURL            string
	EVMContractAddress   string
	EVMFromBlock         uint64

	// Polling
	PollInterval time.Duration
	PendingTTL   time.Duration

	// Positions
	PositionsMaxPoints      int
	PositionsPctThreshold   float64
	PositionsTotalThreshold float64

	// Candles
	CandlesBaseURL     string
	CandlesLimit       int
	CandlesPositiveTTL time.Duration
	CandlesNegativeTTL time.Duration
	CandlesStaleTTL    time.Duration
	CandlesCacheSize   int64
	CandleWarmKeys     string
	CandleWarmSchedule string

	// Storage
	StorageMode  string // "none", "file", "sqlite" or "postgres"
	StorageDir   string
	SQLitePath   string
	PostgresHost string
	PostgresPort string
	PostgresUser string
	PostgresPass string
	PostgresDB   string
	PostgresSSL  string
}

// loader resolves keys from the environment, falling back to the values of
// an optional YAML file.
type loader struct {
	file map[string]string
}

// LoadFromEnv loads configuration from environment variables with defaults.
// When CONFIG_PATH names a YAML file its keys fill anything the environment leaves unset.
func LoadFromEnv() (*Config, error) {
	l := &loader{}

	path := os.Getenv("CONFIG_PATH")
	if path != "" {
		file, err := readFile(path)
		if err != nil {
			return nil, err
		}
		l.file = file
	}

	cfg := l.load()

	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func (l *loader) load() *Config {
	return &Config{
		// Application defaults
		LogLevel: l.getEnvOrDefault("LOG_LEVEL", "info"),
		HTTPPort: l.getEnvOrDefault("HTTP_PORT", "8080"),

		// Ledger defaults
		LedgerKind:           l.getEnvOrDefault("LEDGER_KIND", "node"),
		LedgerNodeURL:        l.getEnvOrDefault("LEDGER_NODE_URL", "https://fullnode.testnet.aptoslabs.com"),
		LedgerModuleAddress:  l.getEnvOrDefault("LEDGER_MODULE_ADDRESS", ""),
		LedgerModuleName:     l.getEnvOrDefault("LEDGER_MODULE_NAME", "binary_option_market"),
		LedgerEventStruct:    l.getEnvOrDefault("LEDGER_EVENT_STRUCT", "MarketEvents"),
		LedgerViewFunction:   l.getEnvOrDefault("LEDGER_VIEW_FUNCTION", "get_market_details"),
		LedgerTokenDecimals:  l.getIntOrDefault("LEDGER_TOKEN_DECIMALS", 8),
		LedgerPageLimit:      l.getIntOrDefault("LEDGER_PAGE_LIMIT", 100),
		LedgerRequestTimeout: l.getDurationOrDefault("LEDGER_REQUEST_TIMEOUT", 10*time.Second),
		EVMRPCURL:            l.getEnvOrDefault("EVM_RPC_URL", ""),
		EVMContractAddress:   l.getEnvOrDefault("EVM_CONTRACT_ADDRESS", ""),
		EVMFromBlock:         l.getUint64OrDefault("EVM_FROM_BLOCK", 0),

		// Polling defaults
		PollInterval: l.getDurationOrDefault("POLL_INTERVAL", 5*time.Second),
		PendingTTL:   l.getDurationOrDefault("PENDING_LOCAL_TTL", 2*time.Minute),

		// Positions defaults
		PositionsMaxPoints:      l.getIntOrDefault("POSITIONS_MAX_POINTS", 1000),
		PositionsPctThreshold:   l.getFloat64OrDefault("POSITIONS_PCT_THRESHOLD", 0.1),
		PositionsTotalThreshold: l.getFloat64OrDefault("POSITIONS_TOTAL_THRESHOLD", 0.01),

		// Candle defaults
		CandlesBaseURL:     l.getEnvOrDefault("CANDLES_BASE_URL", "https://api.binance.com"),
		CandlesLimit:       l.getIntOrDefault("CANDLES_LIMIT", 500),
		CandlesPositiveTTL: l.getDurationOrDefault("CANDLES_POSITIVE_TTL", 5*time.Minute),
		CandlesNegativeTTL: l.getDurationOrDefault("CANDLES_NEGATIVE_TTL", 30*time.Second),
		CandlesStaleTTL:    l.getDurationOrDefault("CANDLES_STALE_TTL", 24*time.Hour),
		CandlesCacheSize:   int64(l.getIntOrDefault("CANDLES_CACHE_SIZE", 1000)),
		CandleWarmKeys:     l.getEnvOrDefault("CANDLE_WARM_KEYS", ""),
		CandleWarmSchedule: l.getEnvOrDefault("CANDLE_WARM_SCHEDULE", "@every 1m"),

		// Storage defaults
		StorageMode:  l.getEnvOrDefault("STORAGE_MODE", "file"),
		StorageDir:   l.getEnvOrDefault("STORAGE_DIR", "data"),
		SQLitePath:   l.getEnvOrDefault("SQLITE_PATH", "data/oreka.db"),
		PostgresHost: l.getEnvOrDefault("POSTGRES_HOST", "localhost"),
		PostgresPort: l.getEnvOrDefault("POSTGRES_PORT", "5432"),
		PostgresUser: l.getEnvOrDefault("POSTGRES_USER", "oreka"),
		PostgresPass: l.getEnvOrDefault("POSTGRES_PASSWORD", "oreka"),
		PostgresDB:   l.getEnvOrDefault("POSTGRES_DB", "oreka"),
		PostgresSSL:  l.getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
	}
}

// Validate checks that configuration values are valid.
func (c *Config) Validate() error {
	if c.HTTPPort == "" {
		return fmt.Errorf("HTTP_PORT cannot be empty")
	}

	switch c.LedgerKind {
	case "node":
		if c.LedgerNodeURL == "" {
			return fmt.Errorf("LEDGER_NODE_URL cannot be empty")
		}
	case "evm":
		if c.EVMRPCURL == "" {
			return fmt.Errorf("EVM_RPC_URL cannot be empty when LEDGER_KIND is evm")
		}
		if c.EVMContractAddress == "" {
			return fmt.Errorf("EVM_CONTRACT_ADDRESS cannot be empty when LEDGER_KIND is evm")
		}
	default:
		return fmt.Errorf("LEDGER_KIND must be 'node' or 'evm', got %q", c.LedgerKind)
	}

	if c.LedgerTokenDecimals < 0 || c.LedgerTokenDecimals > 36 {
		return fmt.Errorf("LEDGER_TOKEN_DECIMALS must be between 0 and 36, got %d", c.LedgerTokenDecimals)
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive, got %v", c.PollInterval)
	}

	if c.PositionsMaxPoints <= 0 {
		return fmt.Errorf("POSITIONS_MAX_POINTS must be positive, got %d", c.PositionsMaxPoints)
	}

	if c.PositionsPctThreshold < 0 {
		return fmt.Errorf("POSITIONS_PCT_THRESHOLD cannot be negative, got %f", c.PositionsPctThreshold)
	}

	if c.PositionsTotalThreshold < 0 {
		return fmt.Errorf("POSITIONS_TOTAL_THRESHOLD cannot be negative, got %f", c.PositionsTotalThreshold)
	}

	if c.CandlesNegativeTTL > c.CandlesPositiveTTL {
		return fmt.Errorf("CANDLES_NEGATIVE_TTL (%v) cannot exceed CANDLES_POSITIVE_TTL (%v)",
			c.CandlesNegativeTTL, c.CandlesPositiveTTL)
	}

	switch c.StorageMode {
	case "none", "file", "sqlite", "postgres":
	default:
		return fmt.Errorf("STORAGE_MODE must be 'none', 'file', 'sqlite' or 'postgres', got %q", c.StorageMode)
	}

	return nil
}

// readFile parses a flat YAML mapping of configuration keys to scalar values.
func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var raw map[string]interface{}
	err = yaml.Unmarshal(data, &raw)
	if err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	values := make(map[string]string, len(raw))
	for key, value := range raw {
		if value == nil {
			continue
		}
		values[strings.ToUpper(key)] = fmt.Sprint(value)
	}

	return values, nil
}

func (l *loader) lookup(key string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return l.file[key]
}

func (l *loader) getEnvOrDefault(key string, defaultValue string) string {
	value := l.lookup(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func (l *loader) getIntOrDefault(key string, defaultValue int) int {
	value := l.lookup(key)
	if value == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func (l *loader) getUint64OrDefault(key string, defaultValue uint64) uint64 {
	value := l.lookup(key)
	if value == "" {
		return defaultValue
	}

	uintVal, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return defaultValue
	}

	return uintVal
}

func (l *loader) getFloat64OrDefault(key string, defaultValue float64) float64 {
	value := l.lookup(key)
	if value == "" {
		return defaultValue
	}

	floatVal, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}

	return floatVal
}

func (l *loader) getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := l.lookup(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}

	return duration
}
