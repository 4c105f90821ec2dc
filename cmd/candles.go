package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/trongkhoidev/oreka-tracker/internal/app"
)

//nolint:gochecknoglobals // Cobra boilerplate
var candlesCmd = &cobra.Command{
	Use:   "candles <symbol> <interval>",
	Short: "Read price candles through the cache",
	Long: `Reads candles for a symbol and interval through the candle cache,
rehydrating from and writing to the configured mirror.

Example:
  oreka-tracker candles BTCUSDT 1h`,
	Args: cobra.ExactArgs(2),
	RunE: runCandles,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(candlesCmd)
	candlesCmd.Flags().Int("tail", 20, "Print only the last N candles (0 for all)")
}

func runCandles(cmd *cobra.Command, args []string) error {
	symbol, interval := args[0], args[1]

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	jsonOutput, _ := cmd.Flags().GetBool("json")
	tail, _ := cmd.Flags().GetInt("tail")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	mirror, err := app.NewMirror(cfg, logger)
	if err != nil {
		return fmt.Errorf("create mirror: %w", err)
	}
	defer mirror.Close()

	store, candleCache, err := app.NewCandles(cfg, logger, mirror)
	if err != nil {
		return fmt.Errorf("create candle cache: %w", err)
	}
	defer store.Close()

	err = candleCache.Load(ctx)
	if err != nil {
		return fmt.Errorf("load mirrored candles: %w", err)
	}

	data, err := candleCache.Get(ctx, symbol, interval)
	if err != nil {
		return fmt.Errorf("get candles: %w", err)
	}

	if tail > 0 && len(data) > tail {
		data = data[len(data)-tail:]
	}

	if jsonOutput {
		out, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal candles: %w", err)
		}
		fmt.Println(string(out))
		return nil
	}

	if len(data) == 0 {
		fmt.Printf("No candles for %s %s.\n", symbol, interval)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "OPEN TIME\tOPEN\tHIGH\tLOW\tCLOSE\tVOLUME")
	for _, c := range data {
		fmt.Fprintf(w, "%s\t%.4f\t%.4f\t%.4f\t%.4f\t%.4f\n",
			time.UnixMilli(c.OpenTime).UTC().Format("2006-01-02 15:04"),
			c.Open, c.High, c.Low, c.Close, c.Volume)
	}
	w.Flush()

	return nil
}
