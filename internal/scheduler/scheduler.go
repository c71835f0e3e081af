package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job - одна итерация периодической работы
type Job func(ctx context.Context) error

// Option настраивает планировщик
type Option func(*Scheduler)

// WithTrigger добавляет внешний источник внеочередных запусков
func WithTrigger(trigger <-chan struct{}) Option {
	return func(s *Scheduler) { s.trigger = trigger }
}

// WithTimeout ограничивает время одной итерации
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.timeout = d }
}

// WithoutInitialRun пропускает запуск при старте: первая итерация будет по таймеру
// или по сигналу. Для случая, когда вызывающий уже выполнил работу сам.
func WithoutInitialRun() Option {
	return func(s *Scheduler) { s.skipInitial = true }
}

// Scheduler запускает Job сразу, затем по таймеру и по внешним сигналам
type Scheduler struct {
	name     string
	interval time.Duration
	timeout  time.Duration
	job      Job
	trigger  <-chan struct{}
	logger   *zap.Logger

	skipInitial bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	runs     int
	failures int
	lastErr  error
}

// New создает новый планировщик
func New(name string, interval time.Duration, job Job, logger *zap.Logger, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		name:     name,
		interval: interval,
		timeout:  30 * time.Second,
		job:      job,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start запускает планировщик
func (s *Scheduler) Start() {
	s.logger.Info("Starting scheduler",
		zap.String("name", s.name),
		zap.Duration("interval", s.interval))

	go s.loop()
}

// Stop останавливает планировщик
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler", zap.String("name", s.name))
	s.cancel()
}

// Wait ожидает завершения цикла
func (s *Scheduler) Wait() {
	<-s.done
}

func (s *Scheduler) loop() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if !s.skipInitial {
		s.run("start")
	}

	for {
		select {
		case <-ticker.C:
			s.run("tick")
		case _, ok := <-s.trigger:
			if !ok {
				s.trigger = nil
				continue
			}
			s.run("trigger")
		case <-s.ctx.Done():
			s.logger.Info("Scheduler loop stopped", zap.String("name", s.name))
			return
		}
	}
}

// run выполняет одну итерацию с таймаутом
func (s *Scheduler) run(reason string) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	err := s.job(ctx)

	s.mu.Lock()
	s.runs++
	if err != nil {
		s.failures++
	}
	s.lastErr = err
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("Scheduled job failed",
			zap.String("name", s.name),
			zap.String("reason", reason),
			zap.Error(err))
		return
	}

	s.logger.Debug("Scheduled job finished",
		zap.String("name", s.name),
		zap.String("reason", reason),
		zap.Duration("took", time.Since(start)))
}

// GetStats возвращает статистику работы
func (s *Scheduler) GetStats() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := map[string]interface{}{
		"name":     s.name,
		"interval": s.interval.String(),
		"runs":     s.runs,
		"failures": s.failures,
		"running":  s.ctx.Err() == nil,
	}
	if s.lastErr != nil {
		stats["last_error"] = s.lastErr.Error()
	}
	return stats
}
