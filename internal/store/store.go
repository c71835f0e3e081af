package store

import (
	"context"
	"fmt"
	"math"
	"time"

	"sysmet/internal/collector"
)

// maxRetentionDays - наибольшее число дней, представимое как time.Duration
const maxRetentionDays = math.MaxInt64 / int64(24*time.Hour)

// SnapshotCollector - источник новых снимков
type SnapshotCollector interface {
	Collect(ctx context.Context, ignoredInterfaces []string) (*collector.Snapshot, error)
}

// Store - версионированная упорядоченная последовательность снимков.
// Порядок вставки считается хронологическим и не пересортировывается.
type Store struct {
	Version   string
	Snapshots []collector.Snapshot
}

// Empty возвращает пустую базу текущей версии
func Empty(version string) *Store {
	return &Store{Version: version, Snapshots: []collector.Snapshot{}}
}

// Len возвращает количество снимков
func (s *Store) Len() int {
	return len(s.Snapshots)
}

// Append снимает новый снимок и добавляет его в конец. На диск ничего не пишет.
func (s *Store) Append(ctx context.Context, c SnapshotCollector, ignoredInterfaces []string) error {
	snap, err := c.Collect(ctx, ignoredInterfaces)
	if err != nil {
		return err
	}
	s.Snapshots = append(s.Snapshots, *snap)
	return nil
}

// AppendN снимает n снимков подряд до одного сохранения.
// Нужен только для бенчмарков и наполнения тестовых баз.
func (s *Store) AppendN(ctx context.Context, c SnapshotCollector, ignoredInterfaces []string, n int) error {
	for i := 0; i < n; i++ {
		if err := s.Append(ctx, c, ignoredInterfaces); err != nil {
			return fmt.Errorf("snapshot %d of %d: %w", i+1, n, err)
		}
	}
	return nil
}

// RemoveOlderThan удаляет снимки, снятые строго раньше now - days.
// Снимок точно на границе остается.
func (s *Store) RemoveOlderThan(days int, now time.Time) (removed int, err error) {
	if int64(days) > maxRetentionDays || int64(days) < -maxRetentionDays {
		return 0, fmt.Errorf("%w: %d days", ErrDateOverflow, days)
	}
	return s.RemoveOlder(time.Duration(days)*24*time.Hour, now), nil
}

// RemoveOlder удаляет снимки, снятые строго раньше now - age, сохраняя порядок остальных
func (s *Store) RemoveOlder(age time.Duration, now time.Time) (removed int) {
	cutoff := now.Add(-age)

	kept := s.Snapshots[:0]
	for _, snap := range s.Snapshots {
		if snap.Time.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, snap)
	}
	// хвост обнуляем, чтобы не держать ссылки на удаленные снимки
	clear(s.Snapshots[len(kept):])
	s.Snapshots = kept

	return removed
}
