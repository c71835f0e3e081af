package store

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPath возвращается для пустого или некорректного пути к базе
	ErrInvalidPath = errors.New("invalid database path")
	// ErrDeserialization - файл поврежден или имеет чужой формат, восстановление не выполняется
	ErrDeserialization = errors.New("failed to deserialize database")
	// ErrSerialization - содержимое базы не удалось закодировать
	ErrSerialization = errors.New("failed to serialize database")
	// ErrVersionParse - версия в файле или версия программы не является semver
	ErrVersionParse = errors.New("failed to parse version")
	// ErrLockTimeout - блокировка не получена за отведенное время
	ErrLockTimeout = errors.New("timeout while trying to lock")
	// ErrDateOverflow - граница удаления не представима
	ErrDateOverflow = errors.New("retention cutoff overflow")
)

// LockTimeoutError содержит путь к базе, которую не удалось заблокировать
type LockTimeoutError struct {
	Path string
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("timeout while trying to lock %q", e.Path)
}

// Is позволяет сравнивать с ErrLockTimeout
func (e *LockTimeoutError) Is(target error) bool { return target == ErrLockTimeout }

// IOError описывает ошибку работы с файлом базы или файлом блокировки
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func ioErr(op, path string, err error) error {
	return &IOError{Op: op, Path: path, Err: err}
}
