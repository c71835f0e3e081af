package profiler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"runtime"
	rpprof "runtime/pprof"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config представляет конфигурацию профилировщика
type Config struct {
	Enable      bool          // включить профилирование
	HTTPPort    int           // порт pprof, 0 - без HTTP
	CPUProfile  string        // путь к файлу CPU профиля
	MemProfile  string        // путь к файлу профиля памяти, пишется при Stop
	ProfileTime time.Duration // длительность записи CPU профиля
}

// Profiler управляет профилированием дашборда
type Profiler struct {
	config Config
	logger *zap.Logger

	httpServer *http.Server
	addr       string

	mu        sync.Mutex
	cpuFile   *os.File
	cpuTimer  *time.Timer
	stopOnce  sync.Once
	stopError error
}

// New создает новый профилировщик
func New(config Config, logger *zap.Logger) *Profiler {
	return &Profiler{
		config: config,
		logger: logger,
	}
}

// Start запускает профилирование
func (p *Profiler) Start() error {
	if !p.config.Enable {
		p.logger.Debug("Profiling disabled")
		return nil
	}

	p.logger.Info("Starting profiler",
		zap.Int("http_port", p.config.HTTPPort),
		zap.String("cpu_profile", p.config.CPUProfile),
		zap.String("mem_profile", p.config.MemProfile))

	if p.config.HTTPPort > 0 {
		if err := p.startHTTPServer(fmt.Sprintf("localhost:%d", p.config.HTTPPort)); err != nil {
			return fmt.Errorf("failed to start pprof HTTP server: %w", err)
		}
	}

	if p.config.CPUProfile != "" {
		if err := p.startCPUProfile(); err != nil {
			return fmt.Errorf("failed to start CPU profiling: %w", err)
		}
	}

	return nil
}

// Addr возвращает адрес pprof сервера или пустую строку
func (p *Profiler) Addr() string {
	return p.addr
}

// Stop останавливает профилирование. Повторные вызовы ничего не делают.
func (p *Profiler) Stop() error {
	p.stopOnce.Do(func() {
		var errs []error

		if err := p.stopCPUProfile(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop CPU profiling: %w", err))
		}

		if p.config.Enable && p.config.MemProfile != "" {
			if err := p.writeMemProfile(); err != nil {
				errs = append(errs, fmt.Errorf("failed to write memory profile: %w", err))
			}
		}

		if p.httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := p.httpServer.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("failed to shutdown HTTP server: %w", err))
			}
		}

		p.stopError = errors.Join(errs...)
		if p.stopError == nil && p.config.Enable {
			p.logger.Info("Profiler stopped")
		}
	})
	return p.stopError
}

// Handler возвращает обработчики pprof на отдельном mux
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

// startHTTPServer поднимает pprof только на localhost
func (p *Profiler) startHTTPServer(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	p.addr = ln.Addr().String()
	p.httpServer = &http.Server{
		Handler:           Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		p.logger.Info("Starting pprof HTTP server", zap.String("addr", p.addr))
		if err := p.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			p.logger.Error("pprof HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// startCPUProfile начинает CPU профилирование в файл
func (p *Profiler) startCPUProfile() error {
	file, err := os.Create(p.config.CPUProfile)
	if err != nil {
		return fmt.Errorf("failed to create CPU profile file: %w", err)
	}

	if err := rpprof.StartCPUProfile(file); err != nil {
		file.Close()
		return err
	}

	p.mu.Lock()
	p.cpuFile = file
	if p.config.ProfileTime > 0 {
		p.cpuTimer = time.AfterFunc(p.config.ProfileTime, func() {
			if err := p.stopCPUProfile(); err != nil {
				p.logger.Error("Failed to stop CPU profiling", zap.Error(err))
			}
		})
	}
	p.mu.Unlock()

	p.logger.Info("Started CPU profiling",
		zap.String("file", p.config.CPUProfile),
		zap.Duration("duration", p.config.ProfileTime))
	return nil
}

// stopCPUProfile останавливает CPU профилирование, если оно идет
func (p *Profiler) stopCPUProfile() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cpuTimer != nil {
		p.cpuTimer.Stop()
		p.cpuTimer = nil
	}
	if p.cpuFile == nil {
		return nil
	}

	rpprof.StopCPUProfile()
	err := p.cpuFile.Close()
	p.cpuFile = nil
	if err != nil {
		return fmt.Errorf("failed to close CPU profile file: %w", err)
	}

	p.logger.Info("Stopped CPU profiling", zap.String("file", p.config.CPUProfile))
	return nil
}

// writeMemProfile записывает профиль памяти в файл
func (p *Profiler) writeMemProfile() error {
	file, err := os.Create(p.config.MemProfile)
	if err != nil {
		return fmt.Errorf("failed to create memory profile file: %w", err)
	}
	defer file.Close()

	// Принудительно запускаем GC для точного профиля памяти
	runtime.GC()

	if err := rpprof.WriteHeapProfile(file); err != nil {
		return err
	}

	p.logger.Info("Written memory profile", zap.String("file", p.config.MemProfile))
	return nil
}

// LogMemStats логирует статистику памяти
func (p *Profiler) LogMemStats() {
	if !p.config.Enable {
		return
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	p.logger.Info("Memory statistics",
		zap.Uint64("alloc_mb", m.Alloc/1024/1024),
		zap.Uint64("sys_mb", m.Sys/1024/1024),
		zap.Uint32("num_gc", m.NumGC),
		zap.Int("goroutines", runtime.NumGoroutine()),
	)
}
