// Package cli 命令行入口
package cli

import (
	"github.com/spf13/cobra"
)

var (
	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

// SetVersion 由 main 注入构建信息
func SetVersion(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date
}

var rootCmd = &cobra.Command{
	Use:   "ssebridge",
	Short: "Redis pub/sub to Server-Sent Events bridge",
	Long: `ssebridge subscribes to Redis pub/sub channels on behalf of browser
clients and streams every message to them as Server-Sent Events.

Start the server:
  ssebridge serve

Publish from the command line:
  ssebridge publish room1 '{"text":"hello"}' --event chat`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "", "Log level (overrides LOG_LEVEL)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(switchCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute 执行根命令
func Execute() error {
	return rootCmd.Execute()
}
