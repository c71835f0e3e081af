package store

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

const (
	// DefaultLockPollInterval - пауза между проверками файла блокировки
	DefaultLockPollInterval = 100 * time.Millisecond
	// DefaultLockTimeout - сколько всего ждать освобождения блокировки
	DefaultLockTimeout = 5 * time.Second

	sentinelSuffix = ".lock"
	flockSuffix    = ".flock"
)

// LockMode выбирает способ блокировки файла базы
type LockMode string

const (
	// LockModeSentinel - файл-признак <path>.lock, существование которого означает "занято"
	LockModeSentinel LockMode = "sentinel"
	// LockModeFlock - advisory-блокировка ядра на <path>.flock
	LockModeFlock LockMode = "flock"
)

// Lock - удерживаемая блокировка
type Lock interface {
	Unlock() error
}

// Locker получает эксклюзивный доступ к файлу базы
type Locker interface {
	Lock(path string) (Lock, error)
}

// SentinelLocker реализует протокол с файлом-признаком.
//
// Ожидание - синхронный опрос с фиксированным шагом, отменить его нельзя.
// Если процесс-владелец убит, файл-признак остается навсегда и каждая
// следующая попытка завершится LockTimeoutError: автоматического снятия
// устаревших блокировок нет, файл нужно удалить вручную.
type SentinelLocker struct {
	PollInterval time.Duration
	Timeout      time.Duration
	logger       *zap.Logger
}

// NewSentinelLocker создает блокировщик на файле-признаке
func NewSentinelLocker(poll, timeout time.Duration, logger *zap.Logger) *SentinelLocker {
	return &SentinelLocker{PollInterval: poll, Timeout: timeout, logger: logger}
}

// Lock ждет исчезновения <path>.lock и создает его.
// Создание атомарно (O_EXCL): если другой процесс успел первым, ожидание продолжается.
func (l *SentinelLocker) Lock(path string) (Lock, error) {
	sentinel := path + sentinelSuffix
	start := time.Now()

	for {
		f, err := os.OpenFile(sentinel, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			if err := f.Close(); err != nil {
				return nil, ioErr("close lock file", sentinel, err)
			}
			l.logger.Debug("Created lock file", zap.String("lock_file", sentinel))
			return &sentinelLock{path: sentinel, logger: l.logger}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, ioErr("create lock file", sentinel, err)
		}

		if time.Since(start) > l.Timeout {
			l.logger.Warn("Lock file still present, giving up",
				zap.String("lock_file", sentinel),
				zap.Duration("timeout", l.Timeout))
			return nil, &LockTimeoutError{Path: path}
		}
		time.Sleep(l.PollInterval)
	}
}

type sentinelLock struct {
	path   string
	logger *zap.Logger
}

// Unlock удаляет файл-признак независимо от того, была ли запись
func (s *sentinelLock) Unlock() error {
	if err := os.Remove(s.path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("Lock file already removed", zap.String("lock_file", s.path))
			return nil
		}
		return ioErr("remove lock file", s.path, err)
	}
	s.logger.Debug("Removed lock file", zap.String("lock_file", s.path))
	return nil
}

// FlockLocker использует flock(2) через gofrs/flock.
// Ядро снимает блокировку при завершении процесса, поэтому осиротевших блокировок нет.
// Файл <path>.flock не удаляется. Процессы с разными LockMode друг друга не исключают.
type FlockLocker struct {
	PollInterval time.Duration
	Timeout      time.Duration
	logger       *zap.Logger
}

// NewFlockLocker создает блокировщик на flock
func NewFlockLocker(poll, timeout time.Duration, logger *zap.Logger) *FlockLocker {
	return &FlockLocker{PollInterval: poll, Timeout: timeout, logger: logger}
}

// Lock пытается взять flock с тем же шагом опроса и таймаутом, что и SentinelLocker
func (l *FlockLocker) Lock(path string) (Lock, error) {
	fl := flock.New(path + flockSuffix)

	ctx, cancel := context.WithTimeout(context.Background(), l.Timeout)
	defer cancel()

	locked, err := fl.TryLockContext(ctx, l.PollInterval)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, ioErr("flock", fl.Path(), err)
	}
	if !locked {
		l.logger.Warn("flock not acquired, giving up",
			zap.String("lock_file", fl.Path()),
			zap.Duration("timeout", l.Timeout))
		return nil, &LockTimeoutError{Path: path}
	}

	l.logger.Debug("Acquired flock", zap.String("lock_file", fl.Path()))
	return fl, nil
}

func newLocker(mode LockMode, poll, timeout time.Duration, logger *zap.Logger) (Locker, error) {
	switch mode {
	case LockModeSentinel, "":
		return NewSentinelLocker(poll, timeout, logger), nil
	case LockModeFlock:
		return NewFlockLocker(poll, timeout, logger), nil
	default:
		return nil, errors.New("unknown lock mode: " + string(mode))
	}
}
