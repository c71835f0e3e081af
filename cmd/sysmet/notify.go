package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sysmet/internal/collector"
	"sysmet/internal/config"
	"sysmet/internal/threshold"
	"sysmet/internal/zabbix"
)

// instantReader снимает мгновенное состояние системы
type instantReader interface {
	Instant(ctx context.Context) (*collector.Instant, error)
}

func newNotifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Check usage thresholds and report crossings",
		Long: `Take a fresh reading of CPU, memory, disk and load, compare it with
the configured thresholds and report every crossed one. Reports are not
repeated until the cooldown has passed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			if cfg.Hostname == "" {
				cfg.Hostname = detectHostname(cmd.Context())
			}
			_, err = runNotify(cmd.Context(), cfg, collector.New(log), notifiers(cfg, log), time.Now().UTC(), log)
			return err
		},
	}
	config.AddNotifyFlags(cmd)
	return cmd
}

// runNotify выполняет одну проверку. Возвращает отчет, если хоть один порог превышен.
// В dry-run ожидание не проверяется, уведомление не отправляется и момент отправки не пишется.
func runNotify(ctx context.Context, cfg *config.Config, r instantReader, n threshold.Notifier, now time.Time, log *zap.Logger) (*threshold.Report, error) {
	log.Info("Check started", zap.String("host", cfg.Hostname))

	cooldown := threshold.Cooldown{Path: cfg.LastSentPath, Period: cfg.Cooldown}
	if !cfg.DryRun && cooldown.Active(now) {
		log.Info("Cooldown is still active, skipping the check",
			zap.Duration("cooldown", cfg.Cooldown))
		return nil, nil
	}

	instant, err := r.Instant(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read system state: %w", err)
	}

	reading := threshold.NewReading(instant)
	log.Debug("System state", zap.Any("reading", reading))

	crossed := threshold.Evaluate(reading, cfg.Thresholds)
	if len(crossed) == 0 {
		log.Info("No threshold crossed")
		return nil, nil
	}

	report := threshold.NewReport(cfg.Hostname, now, reading, crossed)
	log.Debug("Report prepared", zap.String("report_id", report.ID), zap.String("body", report.Body()))

	if cfg.DryRun {
		log.Info("Dry run, notification not sent",
			zap.String("report_id", report.ID),
			zap.Int("crossed", len(crossed)))
		return report, nil
	}

	if err := n.Notify(ctx, report); err != nil {
		return report, fmt.Errorf("failed to send notification: %w", err)
	}
	if err := cooldown.Mark(now); err != nil {
		return report, err
	}

	log.Info("Notification sent", zap.String("report_id", report.ID))
	return report, nil
}

// notifiers: отчет всегда пишется в лог, при заданном сервере еще и уходит в Zabbix
func notifiers(cfg *config.Config, log *zap.Logger) threshold.Notifier {
	ns := threshold.Notifiers{threshold.NewLogNotifier(log)}
	if cfg.ZabbixServer != "" {
		sender := zabbix.NewSender(cfg.ZabbixServer, cfg.ZabbixTimeout, log)
		ns = append(ns, zabbix.NewNotifier(sender, cfg.ZabbixHost, log))
	}
	return ns
}

// detectHostname берет имя хоста из gopsutil, при ошибке - из os.Hostname
func detectHostname(ctx context.Context) string {
	if info, err := host.InfoWithContext(ctx); err == nil && info.Hostname != "" {
		return info.Hostname
	}
	if name, err := os.Hostname(); err == nil {
		return name
	}
	return "unknown"
}
