package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var switchCmd = &cobra.Command{
	Use:       "switch <open|close|status>",
	Short:     "Show or change the SSE switch",
	Long:      `New SSE connections are refused while the switch is closed. Existing streams are not affected.`,
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"open", "close", "status"},
	RunE:      runSwitch,
}

func runSwitch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, logCloser, err := newLogger(cfg, nil)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx := context.Background()
	c, err := buildComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.close()

	switch args[0] {
	case "open":
		err = c.bridge.OpenSSESwitch(ctx)
	case "close":
		err = c.bridge.CloseSSESwitch(ctx)
	}
	if err != nil {
		return err
	}

	open, err := c.bridge.IsOpenSSESwitch(ctx)
	if err != nil {
		return err
	}
	state := "closed"
	if open {
		state = "open"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "sse switch: %s\n", state)
	return nil
}
