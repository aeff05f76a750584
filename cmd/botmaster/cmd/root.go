package cmd

import (
	"github.com/spf13/cobra"
)

var cfgFile string

// version is stamped at build time with -ldflags "-X botmaster/cmd/botmaster/cmd.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "botmaster",
	Short: "Botmaster serves the multi-tenant automation control API",
	Long: `botmaster is the control API for robotic process automation work.

It tracks jobs, queues and their items, triggers and workers for every
folder, and isolates folders from each other with PostgreSQL row level
security.

Common workflows:

  Apply the schema:
    botmaster migrate up

  Start the API:
    botmaster serve --config botmaster.yaml

Configuration:
  Settings come from an optional YAML file and environment variables, with
  the environment taking precedence:
    DATABASE_URL     PostgreSQL connection string (required)
    PORT             API port (default: 6161)
    RATE_LIMIT       Requests per second per folder, 0 disables limiting`,
	Version:      version,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is environment only)")
}
