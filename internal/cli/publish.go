package cli

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"ssebridge/internal/sse"
)

var publishCmd = &cobra.Command{
	Use:   "publish <channel> <data>",
	Short: "Publish a message to a channel",
	Long: `Publish a message to every SSE client subscribed to the channel on any node.
Data that parses as JSON is sent as JSON, anything else as a string.

  ssebridge publish room1 '{"text":"hello"}' --event chat`,
	Args: cobra.ExactArgs(2),
	RunE: runPublish,
}

func init() {
	publishCmd.Flags().String("event", "", "Event type (default message)")
	publishCmd.Flags().String("id", "", "Event id (generated when empty)")
}

func runPublish(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, logCloser, err := newLogger(cfg, nil)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	event, _ := cmd.Flags().GetString("event")
	id, _ := cmd.Flags().GetString("id")
	if sse.EventType(event).IsSystem() {
		return fmt.Errorf("event type %s is reserved", event)
	}

	ctx := context.Background()
	c, err := buildComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.close()

	opts := []sse.MessageOption{sse.WithEvent(sse.EventType(event))}
	if id != "" {
		opts = append(opts, sse.WithID(id))
	}

	pushCount, err := c.bridge.PublishMessage(ctx, args[0], parseData(args[1]), opts...)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "published to %s, %d subscriber(s)\n", args[0], pushCount)
	return nil
}

// parseData 合法JSON按原样发送，否则作为字符串
func parseData(raw string) interface{} {
	if json.Valid([]byte(raw)) {
		return json.RawMessage(raw)
	}
	return raw
}
