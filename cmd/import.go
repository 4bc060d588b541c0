package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pcp-cli/internal/ingest"
)

var importWatch bool

var importCmd = &cobra.Command{
	Use:         "import [path...]",
	Short:       "Load daily records, catalog and targets from seed files",
	Long:        "Reads YAML or JSON seed files (or directories of them) and writes their records, catalog and system configuration to the store. Defaults to ingest.dir.",
	Annotations: mode("import"),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		paths := args
		if len(paths) == 0 {
			paths = []string{cfg.Ingest.Dir}
		}
		if importWatch && len(paths) != 1 {
			return eris.New("--watch takes exactly one directory")
		}

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		loc, err := cfg.Location()
		if err != nil {
			return err
		}
		loader := ingest.NewLoader(st, loc)

		sum, err := loader.ImportPaths(ctx, paths...)
		if err != nil {
			return eris.Wrap(err, "import")
		}
		zap.L().Info("import complete",
			zap.Int("files", sum.Files),
			zap.Int("records", sum.Records),
			zap.Int("catalog", sum.Catalog),
			zap.Bool("system_config", sum.SystemConfig),
			zap.Int("skipped", sum.Skipped),
		)

		if !importWatch {
			return nil
		}
		return ingest.NewWatcher(paths[0], loader, cfg.Realtime.Debounce).Run(ctx)
	},
}

func init() {
	importCmd.Flags().BoolVar(&importWatch, "watch", false, "keep running and re-import files as they change")
	rootCmd.AddCommand(importCmd)
}
