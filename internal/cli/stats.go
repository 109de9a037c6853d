package cli

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"ssebridge/internal/stats"
)

var statsCmd = &cobra.Command{
	Use:   "stats <pub|sub|connect>",
	Short: "Print recorded stats for a day as JSON",
	Long: `Print the published messages, received messages or connect records of a day.

  ssebridge stats pub --day 2024-03-01 --start 0 --end 9`,
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"pub", "sub", "connect"},
	RunE:      runStats,
}

func init() {
	statsCmd.Flags().String("day", "", "Day bucket YYYY-MM-DD (default today, UTC)")
	statsCmd.Flags().Int64("start", 0, "First record index")
	statsCmd.Flags().Int64("end", -1, "Last record index, inclusive; negative counts from the end")
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, logCloser, err := newLogger(cfg, nil)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	day, _ := cmd.Flags().GetString("day")
	if day == "" {
		day = stats.Today()
	}
	if !stats.ValidDay(day) {
		return stats.ErrInvalidDay
	}
	start, _ := cmd.Flags().GetInt64("start")
	end, _ := cmd.Flags().GetInt64("end")

	ctx := context.Background()
	c, err := buildComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.close()

	var result interface{}
	switch args[0] {
	case "pub":
		result, err = c.bridge.GetPubMessageStat(ctx, day, start, end)
	case "sub":
		result, err = c.bridge.GetSubMessageStat(ctx, day, start, end)
	case "connect":
		result, err = c.bridge.GetConnectStat(ctx, day)
	}
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding stats: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
