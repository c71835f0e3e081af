package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sysmet/internal/collector"
	"sysmet/internal/config"
	"sysmet/internal/store"
)

func newUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Take a snapshot and append it to the database",
		Long: `Take a snapshot of the host counters and append it to the database.
Meant to be run periodically, e.g. from cron or a systemd timer.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			if err := cfg.RequireDatabase(); err != nil {
				return err
			}
			return runUpdate(cmd.Context(), cfg, collector.New(log), time.Now, log)
		},
	}
	config.AddUpdateFlags(cmd)
	return cmd
}

// runUpdate открывает базу на запись, добавляет снимки, чистит старые и сохраняет.
// При любой ошибке файл закрывается без записи и блокировка снимается.
func runUpdate(ctx context.Context, cfg *config.Config, c store.SnapshotCollector, now func() time.Time, log *zap.Logger) error {
	db, err := store.New(cfg.DBPath, log, cfg.StoreOptions()...)
	if err != nil {
		return err
	}

	s, h, err := db.LoadForWrite()
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	if err := s.AppendN(ctx, c, cfg.IgnoredNetworks, cfg.Times); err != nil {
		return errors.Join(fmt.Errorf("failed to take snapshot: %w", err), db.Close(h))
	}

	if cfg.CleanupOlderDays != nil {
		removed, err := s.RemoveOlderThan(*cfg.CleanupOlderDays, now())
		if err != nil {
			return errors.Join(fmt.Errorf("failed to clean up snapshots: %w", err), db.Close(h))
		}
		log.Info("Old snapshots removed",
			zap.Int("removed", removed),
			zap.Int("days", *cfg.CleanupOlderDays))
	}

	if cfg.DryRun {
		log.Info("Dry run, database left untouched", zap.Int("snapshots", s.Len()))
		return db.Close(h)
	}

	if err := db.WriteAndClose(s, h); err != nil {
		return fmt.Errorf("failed to write database: %w", err)
	}

	log.Info("Database updated", zap.Int("snapshots", s.Len()))
	return nil
}
