package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pcp-cli/internal/config"
)

// modeKey annotates commands with the config validation mode they need.
const modeKey = "mode"

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "pcp-cli",
	Short: "Production metrics from daily plant records",
	Long:  "Reads processed daily production records, normalizes them into per-item facts and reports volume, efficiency and target attainment per period.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}

		if mode, ok := cmd.Annotations[modeKey]; ok {
			if err := cfg.Validate(mode); err != nil {
				return err
			}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func mode(m string) map[string]string {
	return map[string]string{modeKey: m}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
