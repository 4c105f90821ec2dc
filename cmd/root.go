package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/trongkhoidev/oreka-tracker/pkg/config"
	"go.uber.org/zap"
)

//nolint:gochecknoglobals // Cobra boilerplate
var rootCmd = &cobra.Command{
	Use:   "oreka-tracker",
	Short: "Realtime position tracker for on-chain prediction markets",
	Long: `Tracks the distribution of stake across the outcomes of on-chain
prediction markets.

The tracker polls the ledger for stake events of every market somebody is
watching, reconstructs a step-function timeline of amounts per outcome,
folds in stakes placed by this process before the ledger confirms them,
and serves current and historical snapshots over HTTP and WebSocket.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.PersistentFlags().Bool("json", false, "Output JSON instead of tables")
}

// loadConfig reads .env when present, then the environment.
func loadConfig() (cfg *config.Config, logger *zap.Logger, err error) {
	err = godotenv.Load()
	if err != nil && !os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("load .env: %w", err)
	}

	cfg, err = config.LoadFromEnv()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	logger, err = config.NewLoggerWithLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}

	return cfg, logger, nil
}
