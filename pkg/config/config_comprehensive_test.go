package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		HTTPPort:                "8080",
		LedgerKind:              "node",
		LedgerNodeURL:           "https://fullnode.testnet.aptoslabs.com",
		LedgerTokenDecimals:     8,
		PollInterval:            5 * time.Second,
		PositionsMaxPoints:      1000,
		PositionsPctThreshold:   0.1,
		PositionsTotalThreshold: 0.01,
		CandlesPositiveTTL:      5 * time.Minute,
		CandlesNegativeTTL:      30 * time.Second,
		StorageMode:             "file",
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "empty-port",
			mutate:  func(c *Config) { c.HTTPPort = "" },
			wantErr: "HTTP_PORT",
		},
		{
			name:    "unknown-ledger-kind",
			mutate:  func(c *Config) { c.LedgerKind = "grpc" },
			wantErr: "LEDGER_KIND",
		},
		{
			name:    "node-without-url",
			mutate:  func(c *Config) { c.LedgerNodeURL = "" },
			wantErr: "LEDGER_NODE_URL",
		},
		{
			name:    "evm-without-rpc",
			mutate:  func(c *Config) { c.LedgerKind = "evm"; c.EVMContractAddress = "0x1" },
			wantErr: "EVM_RPC_URL",
		},
		{
			name:    "evm-without-contract",
			mutate:  func(c *Config) { c.LedgerKind = "evm"; c.EVMRPCURL = "http://localhost:8545" },
			wantErr: "EVM_CONTRACT_ADDRESS",
		},
		{
			name: "evm-complete",
			mutate: func(c *Config) {
				c.LedgerKind = "evm"
				c.EVMRPCURL = "http://localhost:8545"
				c.EVMContractAddress = "0x1"
			},
		},
		{
			name:    "negative-decimals",
			mutate:  func(c *Config) { c.LedgerTokenDecimals = -1 },
			wantErr: "LEDGER_TOKEN_DECIMALS",
		},
		{
			name:    "zero-poll-interval",
			mutate:  func(c *Config) { c.PollInterval = 0 },
			wantErr: "POLL_INTERVAL",
		},
		{
			name:    "zero-max-points",
			mutate:  func(c *Config) { c.PositionsMaxPoints = 0 },
			wantErr: "POSITIONS_MAX_POINTS",
		},
		{
			name:    "negative-pct-threshold",
			mutate:  func(c *Config) { c.PositionsPctThreshold = -0.1 },
			wantErr: "POSITIONS_PCT_THRESHOLD",
		},
		{
			name:    "negative-total-threshold",
			mutate:  func(c *Config) { c.PositionsTotalThreshold = -1 },
			wantErr: "POSITIONS_TOTAL_THRESHOLD",
		},
		{
			name:   "zero-thresholds-allowed",
			mutate: func(c *Config) { c.PositionsPctThreshold = 0; c.PositionsTotalThreshold = 0 },
		},
		{
			name:    "negative-ttl-exceeds-positive",
			mutate:  func(c *Config) { c.CandlesNegativeTTL = 10 * time.Minute },
			wantErr: "CANDLES_NEGATIVE_TTL",
		},
		{
			name:    "unknown-storage-mode",
			mutate:  func(c *Config) { c.StorageMode = "console" },
			wantErr: "STORAGE_MODE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_StorageModes(t *testing.T) {
	for _, mode := range []string{"none", "file", "sqlite", "postgres"} {
		t.Run(mode, func(t *testing.T) {
			cfg := validConfig()
			cfg.StorageMode = mode
			err := cfg.Validate()
			if err != nil {
				t.Errorf("expected %s to be valid, got %v", mode, err)
			}
		})
	}
}

func TestLoaderHelpers(t *testing.T) {
	l := &loader{file: map[string]string{
		"FILE_INT":      "42",
		"FILE_DURATION": "3s",
		"SHADOWED":      "file",
	}}

	t.Run("int-valid", func(t *testing.T) {
		t.Setenv("TEST_INT", "17")
		if got := l.getIntOrDefault("TEST_INT", 5); got != 17 {
			t.Errorf("expected 17, got %d", got)
		}
	})

	t.Run("int-invalid-falls-back", func(t *testing.T) {
		t.Setenv("TEST_INT", "seventeen")
		if got := l.getIntOrDefault("TEST_INT", 5); got != 5 {
			t.Errorf("expected 5, got %d", got)
		}
	})

	t.Run("int-from-file", func(t *testing.T) {
		if got := l.getIntOrDefault("FILE_INT", 5); got != 42 {
			t.Errorf("expected 42, got %d", got)
		}
	})

	t.Run("uint64-valid", func(t *testing.T) {
		t.Setenv("TEST_UINT", "18446744073709551615")
		if got := l.getUint64OrDefault("TEST_UINT", 1); got != 18446744073709551615 {
			t.Errorf("unexpected value %d", got)
		}
	})

	t.Run("uint64-negative-falls-back", func(t *testing.T) {
		t.Setenv("TEST_UINT", "-1")
		if got := l.getUint64OrDefault("TEST_UINT", 1); got != 1 {
			t.Errorf("expected 1, got %d", got)
		}
	})

	t.Run("float-valid", func(t *testing.T) {
		t.Setenv("TEST_FLOAT", "0.25")
		if got := l.getFloat64OrDefault("TEST_FLOAT", 1); got != 0.25 {
			t.Errorf("expected 0.25, got %f", got)
		}
	})

	t.Run("float-invalid-falls-back", func(t *testing.T) {
		t.Setenv("TEST_FLOAT", "quarter")
		if got := l.getFloat64OrDefault("TEST_FLOAT", 1); got != 1 {
			t.Errorf("expected 1, got %f", got)
		}
	})

	t.Run("duration-valid", func(t *testing.T) {
		t.Setenv("TEST_DURATION", "150ms")
		if got := l.getDurationOrDefault("TEST_DURATION", time.Second); got != 150*time.Millisecond {
			t.Errorf("expected 150ms, got %v", got)
		}
	})

	t.Run("duration-invalid-falls-back", func(t *testing.T) {
		t.Setenv("TEST_DURATION", "5")
		if got := l.getDurationOrDefault("TEST_DURATION", time.Second); got != time.Second {
			t.Errorf("expected 1s, got %v", got)
		}
	})

	t.Run("duration-from-file", func(t *testing.T) {
		if got := l.getDurationOrDefault("FILE_DURATION", time.Second); got != 3*time.Second {
			t.Errorf("expected 3s, got %v", got)
		}
	})

	t.Run("env-shadows-file", func(t *testing.T) {
		t.Setenv("SHADOWED", "env")
		if got := l.getEnvOrDefault("SHADOWED", "default"); got != "env" {
			t.Errorf("expected env, got %s", got)
		}
	})

	t.Run("empty-env-uses-file", func(t *testing.T) {
		t.Setenv("SHADOWED", "")
		if got := l.getEnvOrDefault("SHADOWED", "default"); got != "file" {
			t.Errorf("expected file, got %s", got)
		}
	})

	t.Run("missing-uses-default", func(t *testing.T) {
		if got := l.getEnvOrDefault("TEST_ABSENT_KEY", "default"); got != "default" {
			t.Errorf("expected default, got %s", got)
		}
	})
}
