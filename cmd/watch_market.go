package cmd

import (
	"fmt"
	"os"
	"sync"
	"text/tabwriter"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/trongkhoidev/oreka-tracker/internal/app"
	"github.com/trongkhoidev/oreka-tracker/pkg/types"
)

//nolint:gochecknoglobals // Cobra boilerplate
var watchMarketCmd = &cobra.Command{
	Use:   "watch-market <market-id>",
	Short: "Subscribe to a market and print every snapshot",
	Long: `Polls the ledger for one market and prints each significant change
of its position snapshot until interrupted.

Example:
  oreka-tracker watch-market 0x5f1c...e2`,
	Args: cobra.ExactArgs(1),
	RunE: runWatchMarket,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(watchMarketCmd)
}

func runWatchMarket(cmd *cobra.Command, args []string) error {
	marketID := args[0]

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	jsonOutput, _ := cmd.Flags().GetBool("json")

	application, err := app.New(cfg, logger, &app.Options{DisableHTTP: true})
	if err != nil {
		return fmt.Errorf("create app: %w", err)
	}

	err = application.Start()
	if err != nil {
		return fmt.Errorf("start app: %w", err)
	}

	fmt.Printf("Watching market %s (poll every %s)\n\n", marketID, cfg.PollInterval)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	var mu sync.Mutex

	unsubscribe := application.Watch(marketID, func(snap types.PositionSnapshot) {
		mu.Lock()
		defer mu.Unlock()

		if jsonOutput {
			data, _ := json.Marshal(snap)
			fmt.Println(string(data))
			return
		}
		printSnapshotRow(w, snap)
		w.Flush()
	})
	defer unsubscribe()

	return application.Wait()
}
