package cmd

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/trongkhoidev/oreka-tracker/internal/app"
	"github.com/trongkhoidev/oreka-tracker/internal/timeline"
	"github.com/trongkhoidev/oreka-tracker/pkg/types"
	"go.uber.org/zap"
)

//nolint:gochecknoglobals // Cobra boilerplate
var timelineCmd = &cobra.Command{
	Use:   "timeline <market-id>",
	Short: "Fetch a market's events once and print its reconstructed timeline",
	Long: `Reads every stake event of a market from the ledger, reconstructs the
timeline of amounts per outcome and prints it. Nothing is persisted.

Example:
  oreka-tracker timeline 0x5f1c...e2 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runTimeline,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(timelineCmd)
	timelineCmd.Flags().Duration("timeout", 30*time.Second, "Ledger request timeout")
}

func runTimeline(cmd *cobra.Command, args []string) error {
	marketID := args[0]

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	jsonOutput, _ := cmd.Flags().GetBool("json")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	source, closeSource, err := app.NewSource(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("create ledger source: %w", err)
	}
	defer closeSource()

	events := source.FetchEvents(ctx, marketID, 0)

	info, err := source.FetchMarket(ctx, marketID)
	if err != nil {
		logger.Warn("market-detail-unavailable", zap.String("market-id", marketID), zap.Error(err))
		info = nil
	}

	now := time.Now().UnixMilli()
	series := timeline.Reconstruct(events, timelineBounds(info, events, now), now)

	if jsonOutput {
		data, err := json.MarshalIndent(series, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal timeline: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("Market: %s\n", marketID)
	fmt.Printf("Events: %d\n", len(events))
	if info != nil {
		fmt.Printf("Open:   %s\n", time.UnixMilli(info.OpenTime).UTC().Format(time.RFC3339))
		fmt.Printf("Close:  %s\n", time.UnixMilli(info.CloseTime).UTC().Format(time.RFC3339))
	}
	fmt.Println()

	printTimeline(os.Stdout, series)
	return nil
}

// timelineBounds prefers the market's own window; without it the timeline
// starts at the earliest event and stays open.
func timelineBounds(info *types.MarketInfo, events []types.StakeEvent, now int64) timeline.Bounds {
	if info != nil {
		return timeline.BoundsFromMarket(info)
	}

	bounds := timeline.Bounds{Open: now, Close: math.MaxInt64}
	for _, ev := range events {
		if ev.Time > 0 && ev.Time < bounds.Open {
			bounds.Open = ev.Time
		}
		if ev.IsStake() && ev.Side+1 > bounds.Outcomes {
			bounds.Outcomes = ev.Side + 1
		}
	}
	return bounds
}

func printTimeline(out io.Writer, series []types.PositionSnapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tAMOUNTS\tTOTAL\tSHARES")
	for _, snap := range series {
		printSnapshotRow(w, snap)
	}
	w.Flush()
}

func printSnapshotRow(w io.Writer, snap types.PositionSnapshot) {
	amounts := make([]string, len(snap.Amounts))
	for i, a := range snap.Amounts {
		amounts[i] = fmt.Sprintf("%.4f", a)
	}
	shares := make([]string, len(snap.Percentages))
	for i, p := range snap.Percentages {
		shares[i] = fmt.Sprintf("%.2f%%", p)
	}

	marker := ""
	if snap.Provisional {
		marker = " *"
	}

	fmt.Fprintf(w, "%s%s\t%s\t%.4f\t%s\n",
		time.UnixMilli(snap.Time).UTC().Format("2006-01-02 15:04:05"), marker,
		strings.Join(amounts, " / "), snap.Total, strings.Join(shares, " / "))
}
