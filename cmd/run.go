package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/trongkhoidev/oreka-tracker/internal/app"
)

//nolint:gochecknoglobals // Cobra boilerplate
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the tracker service",
	Long: `Starts the tracker service, which will:
1. Rehydrate timelines and candles from the configured mirror
2. Serve snapshots, history, candles and streams over HTTP
3. Poll the ledger for every market with at least one subscriber
4. Keep configured candle keys warm on a schedule

Use --market to keep markets polled without an API subscriber.`,
	Args: cobra.NoArgs,
	RunE: runTracker,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringSliceP("market", "m", nil, "Market to poll from startup (repeatable)")
}

func runTracker(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	markets, _ := cmd.Flags().GetStringSlice("market")

	application, err := app.New(cfg, logger, &app.Options{
		Markets: markets,
	})
	if err != nil {
		return fmt.Errorf("create app: %w", err)
	}

	err = application.Run()
	if err != nil {
		return fmt.Errorf("run app: %w", err)
	}

	return nil
}
