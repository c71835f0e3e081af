package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sysmet/internal/config"
	"sysmet/internal/logger"
	"sysmet/internal/version"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sysmet",
		Short:         "Host metrics recorder, dashboard and threshold notifier",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.AddGlobalFlags(root)

	root.AddCommand(
		newUpdateCmd(),
		newServeCmd(),
		newNotifyCmd(),
		newExportCmd(),
		newVersionCmd(),
	)
	return root
}

// setup загружает конфигурацию команды и инициализирует глобальный логгер
func setup(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	cfg := config.NewConfig()
	if err := cfg.Load(cmd); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := logger.Initialize(logger.LevelFor(cfg.Verbosity, cfg.LogLevel)); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Logger.Debug("Configuration loaded",
		zap.String("command", cmd.Name()),
		zap.String("db", cfg.DBPath),
		zap.String("lock_mode", cfg.LockMode))
	return cfg, logger.Logger, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Info())
		},
	}
}
