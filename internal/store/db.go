package store

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"sysmet/internal/collector"
	"sysmet/internal/version"
)

// DB привязан к одному файлу базы и реализует загрузку и сохранение под блокировкой.
// Один писатель: каждая запись переписывает файл целиком.
type DB struct {
	path    string
	version string
	mode    LockMode
	poll    time.Duration
	timeout time.Duration
	locker  Locker
	logger  *zap.Logger
}

// Option настраивает DB
type Option func(*DB)

// WithLockTiming задает шаг опроса и общий таймаут блокировки
func WithLockTiming(poll, timeout time.Duration) Option {
	return func(d *DB) {
		d.poll = poll
		d.timeout = timeout
	}
}

// WithLockMode выбирает способ блокировки
func WithLockMode(mode LockMode) Option {
	return func(d *DB) { d.mode = mode }
}

// WithVersion подменяет версию программы (для тестов и миграций)
func WithVersion(v string) Option {
	return func(d *DB) { d.version = v }
}

// WithLocker задает собственную реализацию блокировки
func WithLocker(l Locker) Option {
	return func(d *DB) { d.locker = l }
}

// WriteHandle - открытый и заблокированный файл базы, полученный из LoadForWrite
type WriteHandle struct {
	file   *os.File
	lock   Lock
	closed bool
}

// New создает DB для файла path
func New(path string, logger *zap.Logger, opts ...Option) (*DB, error) {
	if path == "" || strings.ContainsRune(path, 0) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		return nil, fmt.Errorf("%w: %q is a directory", ErrInvalidPath, path)
	}

	d := &DB{
		path:    path,
		version: version.Version,
		mode:    LockModeSentinel,
		poll:    DefaultLockPollInterval,
		timeout: DefaultLockTimeout,
		logger:  logger.With(zap.String("database", path)),
	}
	for _, opt := range opts {
		opt(d)
	}

	if _, err := compareVersions(d.version, d.version); err != nil {
		return nil, err
	}

	if d.locker == nil {
		locker, err := newLocker(d.mode, d.poll, d.timeout, d.logger)
		if err != nil {
			return nil, err
		}
		d.locker = locker
	}

	return d, nil
}

// Path возвращает путь к файлу базы
func (d *DB) Path() string {
	return d.path
}

// Version возвращает версию, которой помечаются записываемые базы
func (d *DB) Version() string {
	return d.version
}

// Load читает базу под блокировкой и сразу освобождает ее.
// Отсутствующий файл, как и пустой, дает пустую базу текущей версии; файл не создается.
func (d *DB) Load() (s *Store, err error) {
	lock, err := d.locker.Lock(d.path)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = errors.Join(err, lock.Unlock())
	}()

	f, err := os.Open(d.path)
	if errors.Is(err, fs.ErrNotExist) {
		d.logger.Debug("Database file does not exist yet, using an empty database",
			zap.String("version", d.version))
		return Empty(d.version), nil
	}
	if err != nil {
		return nil, ioErr("open", d.path, err)
	}
	defer f.Close()

	return d.read(f)
}

// LoadForWrite читает базу и оставляет блокировку и файл открытыми.
// Файл создается, если его нет. Дальше нужен WriteAndClose или Close.
func (d *DB) LoadForWrite() (*Store, *WriteHandle, error) {
	lock, err := d.locker.Lock(d.path)
	if err != nil {
		return nil, nil, err
	}

	f, err := os.OpenFile(d.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, nil, errors.Join(ioErr("open", d.path, err), lock.Unlock())
	}

	s, err := d.read(f)
	if err != nil {
		return nil, nil, errors.Join(err, f.Close(), lock.Unlock())
	}

	d.logger.Debug("Opened database for writing", zap.Int("snapshots", s.Len()))
	return s, &WriteHandle{file: f, lock: lock}, nil
}

// Write берет новую блокировку, переписывает файл целиком и освобождает блокировку
func (d *DB) Write(s *Store) (err error) {
	lock, err := d.locker.Lock(d.path)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, lock.Unlock())
	}()

	// без O_TRUNC: хвост обрезает persist после успешного кодирования
	f, err := os.OpenFile(d.path, os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return ioErr("open", d.path, err)
	}

	if err := d.persist(f, s); err != nil {
		return errors.Join(err, f.Close())
	}
	if err := f.Close(); err != nil {
		return ioErr("close", d.path, err)
	}
	return nil
}

// WriteAndClose переписывает базу через удерживаемый дескриптор, закрывает его и снимает блокировку.
// Блокировка снимается и при ошибке записи.
func (d *DB) WriteAndClose(s *Store, h *WriteHandle) error {
	if err := h.check(); err != nil {
		return err
	}
	h.closed = true

	err := d.persist(h.file, s)
	if cerr := h.file.Close(); cerr != nil {
		err = errors.Join(err, ioErr("close", d.path, cerr))
	}
	return errors.Join(err, h.lock.Unlock())
}

// Close освобождает дескриптор и блокировку без записи (dry-run)
func (d *DB) Close(h *WriteHandle) error {
	if err := h.check(); err != nil {
		return err
	}
	h.closed = true

	d.logger.Debug("Closing database without writing")

	var err error
	if cerr := h.file.Close(); cerr != nil {
		err = ioErr("close", d.path, cerr)
	}
	return errors.Join(err, h.lock.Unlock())
}

func (h *WriteHandle) check() error {
	if h == nil || h.file == nil {
		return errors.New("nil write handle")
	}
	if h.closed {
		return errors.New("write handle already closed")
	}
	return nil
}

// read декодирует базу из уже открытого файла. Пустой файл - пустая база.
func (d *DB) read(f *os.File) (*Store, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, ioErr("stat", d.path, err)
	}

	if fi.Size() == 0 {
		d.logger.Debug("Database file is empty, starting a new database",
			zap.String("version", d.version))
		return Empty(d.version), nil
	}

	doc, err := decode(f)
	if err != nil {
		if errors.Is(err, ErrDeserialization) {
			return nil, err
		}
		return nil, ioErr("read", d.path, err)
	}
	if doc.Snapshots == nil {
		doc.Snapshots = []collector.Snapshot{}
	}

	d.logger.Debug("Deserialized database",
		zap.String("version", doc.Version),
		zap.Int("snapshots", len(doc.Snapshots)),
		zap.Int64("file_size", fi.Size()))

	loaded := Store{Version: doc.Version, Snapshots: doc.Snapshots}
	reconciled, downgraded, err := ReconcileVersion(loaded, d.version)
	if err != nil {
		return nil, err
	}
	if downgraded {
		d.logger.Warn("Database version mismatch, using current version",
			zap.String("current_version", d.version),
			zap.String("database_version", doc.Version))
	}

	return &reconciled, nil
}

// persist сериализует базу целиком с нулевого смещения, обрезает хвост старого
// содержимого и сбрасывает данные на диск
func (d *DB) persist(f *os.File, s *Store) error {
	d.logger.Debug("Number of snapshots that will be written", zap.Int("snapshots", s.Len()))

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return ioErr("seek", d.path, err)
	}

	doc := &document{Version: d.version, Snapshots: s.Snapshots}
	if err := encode(f, doc); err != nil {
		if errors.Is(err, ErrSerialization) {
			return err
		}
		return ioErr("write", d.path, err)
	}

	size, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return ioErr("seek", d.path, err)
	}
	if err := f.Truncate(size); err != nil {
		return ioErr("truncate", d.path, err)
	}
	if err := f.Sync(); err != nil {
		return ioErr("sync", d.path, err)
	}

	s.Version = d.version
	d.logger.Debug("Database written", zap.Int64("file_size", size))
	return nil
}
