// Command parley runs a spoken group conversation between a human and
// several AI personas.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-parley/internal/config"
	"github.com/teslashibe/go-parley/internal/log"
)

var (
	cfg         config.Config
	sessionPath string
	logLevel    string
)

var rootCmd = &cobra.Command{
	Use:          "parley",
	Short:        "Multi-party conversation with AI personas",
	SilenceUsage: true,
	Long: `Parley streams replies from several AI personas, splits them into
speakable sentences as they arrive, and decides after every utterance who
was addressed and who speaks next.

Configuration comes from the environment (or a .env file) and an optional
YAML session file describing the personas.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.Load()
		if sessionPath != "" {
			cfg.SessionPath = sessionPath
		}
		if cmd.Flags().Changed("log-level") {
			cfg.LogLevel = logLevel
		}
		log.Init(cfg.LogLevel)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&sessionPath, "session", "", "YAML session file (overrides PARLEY_SESSION)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
