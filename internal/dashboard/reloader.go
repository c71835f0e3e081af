package dashboard

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sysmet/internal/derive"
	"sysmet/internal/store"
)

// Loader читает базу целиком (store.DB)
type Loader interface {
	Load() (*store.Store, error)
}

// Reloader перечитывает базу и подменяет графики в кэше.
// При ошибке загрузки в кэше остаются предыдущие данные.
type Reloader struct {
	loader  Loader
	cache   *Cache
	metrics *Metrics
	palette derive.Palette
	now     func() time.Time
	logger  *zap.Logger
}

// NewReloader создает перезагрузчик. metrics может быть nil.
func NewReloader(loader Loader, cache *Cache, metrics *Metrics, palette derive.Palette, logger *zap.Logger) *Reloader {
	return &Reloader{
		loader:  loader,
		cache:   cache,
		metrics: metrics,
		palette: palette,
		now:     time.Now,
		logger:  logger,
	}
}

// Reload выполняет одну перезагрузку. Подходит как scheduler.Job.
func (r *Reloader) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s, err := r.loader.Load()
	if err != nil {
		if r.metrics != nil {
			r.metrics.ObserveError()
		}
		r.logger.Warn("Failed to reload database, keeping previous data", zap.Error(err))
		return fmt.Errorf("failed to load database: %w", err)
	}

	charts := BuildCharts(s, r.palette, r.now().UTC())
	r.cache.Swap(charts)
	if r.metrics != nil {
		r.metrics.Observe(charts)
	}

	r.logger.Info("Dashboard data reloaded",
		zap.Int("snapshots", charts.Snapshots),
		zap.String("version", charts.Version))
	return nil
}
