package export

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"sysmet/internal/derive"
)

// SQLite выгружает производные ряды в файл SQLite для разбора истории запросами
type SQLite struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open открывает (или создает) файл и создает таблицу series
func Open(path string, logger *zap.Logger) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	s := &SQLite{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migration: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	const stmt = `
CREATE TABLE IF NOT EXISTS series (
    id     INTEGER PRIMARY KEY AUTOINCREMENT,
    chart  TEXT NOT NULL,
    label  TEXT NOT NULL,
    unit   TEXT NOT NULL,
    ts     TEXT NOT NULL,
    value  REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_series_chart_label_ts ON series(chart, label, ts);
`
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("create series table: %w", err)
	}
	return nil
}

// Export заменяет содержимое таблицы рядами из groups в одной транзакции.
// Ряд без подписи выгружается под своим ключом.
func (s *SQLite) Export(ctx context.Context, groups []derive.Group) (rows int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM series`); err != nil {
		return 0, fmt.Errorf("clear series: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO series (chart, label, unit, ts, value) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, g := range groups {
		for _, series := range g.Series {
			label := series.Label
			if label == "" {
				label = string(series.Key)
			}
			for _, p := range series.Points {
				ts := p.Time.UTC().Format(time.RFC3339Nano)
				if _, err := stmt.ExecContext(ctx, g.Name, label, g.Unit, ts, p.Value); err != nil {
					return 0, fmt.Errorf("exec insert for %s/%s: %w", g.Name, label, err)
				}
				rows++
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	s.logger.Info("Series exported", zap.Int("rows", rows), zap.Int("charts", len(groups)))
	return rows, nil
}

// Close закрывает соединение
func (s *SQLite) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
