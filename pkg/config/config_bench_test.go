package config

import (
	"testing"
)

// BenchmarkConfig_Validate benchmarks configuration validation
func BenchmarkConfig_Validate(b *testing.B) {
	cfg := validConfig()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = cfg.Validate()
	}
}

// BenchmarkConfig_LoadFromEnv benchmarks environment variable loading
func BenchmarkConfig_LoadFromEnv(b *testing.B) {
	b.Setenv("CONFIG_PATH", "")
	b.Setenv("POLL_INTERVAL", "5s")
	b.Setenv("POSITIONS_PCT_THRESHOLD", "0.1")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = LoadFromEnv()
	}
}
