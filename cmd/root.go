package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/jetveto/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "jetveto",
	Short: "Apply jet veto maps to NanoAOD-style event files",
	Long: "Selects jets in each event, looks them up in a detector veto map and either " +
		"flags vetoed jets (Run 2 maps) or drops events with a vetoed jet (Run 3 maps).",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
