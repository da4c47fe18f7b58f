// Command server runs the campaign scheduling engine: the HTTP API, the
// scheduler loop, or both.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type rootFlags struct {
	configPath string
	store      string
	seedPath   string
}

func main() {
	flags := &rootFlags{}
	rootCmd := &cobra.Command{
		Use:          "campaign-engine",
		Short:        "campaign scheduling and recipient queuing engine",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to config.yaml (defaults plus env when empty)")
	rootCmd.PersistentFlags().StringVar(&flags.store, "store", "", "repository backend: memory or postgres (default: postgres when database.url is set)")
	rootCmd.PersistentFlags().StringVar(&flags.seedPath, "seed", "", "YAML fixture loaded into the memory store")

	rootCmd.AddCommand(
		serveCommand(flags),
		schedulerCommand(flags),
		nextSendCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
