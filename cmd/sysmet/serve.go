package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sysmet/internal/config"
	"sysmet/internal/dashboard"
	"sysmet/internal/derive"
	"sysmet/internal/scheduler"
	"sysmet/internal/server"
	"sysmet/internal/store"
	"sysmet/pkg/profiler"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [ADDRESS]",
		Short: "Serve the dashboard data over HTTP",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			if err := cfg.RequireDatabase(); err != nil {
				return err
			}
			if len(args) == 1 {
				cfg.Address = args[0]
			}
			return runServe(cmd.Context(), cfg, log)
		},
	}
	config.AddServeFlags(cmd)
	return cmd
}

// runServe загружает базу, запускает перезагрузку по таймеру и HTTP-сервер до отмены ctx
func runServe(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	db, err := store.New(cfg.DBPath, log, cfg.StoreOptions()...)
	if err != nil {
		return err
	}

	cache := dashboard.NewCache()
	metrics := dashboard.NewMetrics()
	reloader := dashboard.NewReloader(db, cache, metrics, derive.DefaultPalette, log)

	// Без первой загрузки сервер не стартует
	if err := reloader.Reload(ctx); err != nil {
		return err
	}

	// первая загрузка уже выполнена, планировщик ждет таймера или события
	opts := []scheduler.Option{scheduler.WithoutInitialRun()}
	if cfg.Watch {
		events, err := dashboard.Watch(ctx, db.Path(), log)
		if err != nil {
			log.Warn("File watching disabled, relying on the reload interval", zap.Error(err))
		} else {
			opts = append(opts, scheduler.WithTrigger(events))
		}
	}
	sched := scheduler.New("dashboard-reload", cfg.ReloadInterval, reloader.Reload, log, opts...)

	prof := profiler.New(profiler.Config{
		Enable:      cfg.ProfileEnable,
		HTTPPort:    cfg.ProfileHTTPPort,
		CPUProfile:  cfg.ProfileCPUFile,
		MemProfile:  cfg.ProfileMemFile,
		ProfileTime: time.Duration(cfg.ProfileTime) * time.Second,
	}, log)
	if err := prof.Start(); err != nil {
		return err
	}

	srv := server.New(cfg.Address, cache, metrics, log)
	sched.Start()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("Received shutdown signal")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sched.Stop()
	sched.Wait()

	var errs []error
	if serveErr != nil {
		errs = append(errs, serveErr)
	} else if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}
	if err := prof.Stop(); err != nil {
		errs = append(errs, err)
	}

	log.Info("Dashboard stopped", zap.Any("reloads", sched.GetStats()))
	return errors.Join(errs...)
}
