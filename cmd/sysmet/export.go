package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sysmet/internal/config"
	"sysmet/internal/derive"
	"sysmet/internal/export"
	"sysmet/internal/store"
)

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export derived series into a SQLite file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			if err := cfg.RequireDatabase(); err != nil {
				return err
			}
			rows, err := runExport(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d points to %s\n", rows, cfg.ExportPath)
			return nil
		},
	}
	config.AddExportFlags(cmd)
	return cmd
}

// runExport читает базу и выгружает все ряды дашборда в SQLite
func runExport(ctx context.Context, cfg *config.Config, log *zap.Logger) (rows int, err error) {
	db, err := store.New(cfg.DBPath, log, cfg.StoreOptions()...)
	if err != nil {
		return 0, err
	}

	s, err := db.Load()
	if err != nil {
		return 0, fmt.Errorf("failed to load database: %w", err)
	}

	out, err := export.Open(cfg.ExportPath, log)
	if err != nil {
		return 0, err
	}
	defer func() {
		err = errors.Join(err, out.Close())
	}()

	return out.Export(ctx, derive.Groups(s.Snapshots, derive.DefaultPalette))
}
