package fevalgrid

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	// SQLite driver using pure Go implementation
	_ "modernc.org/sqlite"
)

// SQLiteSinkConfig configures the SQLite statistics sink.
type SQLiteSinkConfig struct {
	// Path to the SQLite database file.
	Path string `yaml:"path"`

	// Table holds the statistics rows.
	// Default: progress_stats.
	Table string `yaml:"table"`

	// Label identifies the experiment the rows belong to. Writing the same
	// label again replaces its rows.
	Label string `yaml:"label"`

	// BusyTimeout is the timeout for acquiring locks in milliseconds.
	// Default: 5000.
	BusyTimeout int `yaml:"busy_timeout"`
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLiteSink persists statistics tables so several experiments can be
// compared with standard SQLite tools.
type SQLiteSink struct {
	db    *sql.DB
	table string
}

// OpenSQLiteSink opens or creates the database and its table.
func OpenSQLiteSink(ctx context.Context, cfg SQLiteSinkConfig) (*SQLiteSink, error) {
	if cfg.Path == "" {
		return nil, newArgumentError("sqlite.path", "", errors.New("path is required"))
	}
	if cfg.Table == "" {
		cfg.Table = "progress_stats"
	}
	if !identRe.MatchString(cfg.Table) {
		return nil, newArgumentError("sqlite.table", cfg.Table, errors.New("not a valid identifier"))
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5000
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", cfg.Path, cfg.BusyTimeout)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, newStorageError(StorageErrorTypeWrite, "failed to open SQLite database", cfg.Path, err)
	}
	db.SetMaxOpenConns(1)

	sink := &SQLiteSink{db: db, table: cfg.Table}
	if err := sink.initSchema(ctx); err != nil {
		db.Close()
		return nil, newStorageError(StorageErrorTypeWrite, "failed to initialize schema", cfg.Path, err)
	}
	return sink, nil
}

func (s *SQLiteSink) initSchema(ctx context.Context) error {
	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			label TEXT NOT NULL,
			idx INTEGER NOT NULL,
			fevals INTEGER NOT NULL,
			mean REAL NOT NULL,
			stdev REAL NOT NULL,
			n INTEGER NOT NULL,
			min REAL NOT NULL,
			max REAL NOT NULL,
			replicates INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (label, idx)
		);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_fevals ON %[1]s(label, fevals);
	`, s.table)
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// WriteTable replaces the rows stored under label with the rows of t.
func (s *SQLiteSink) WriteTable(ctx context.Context, label string, t *Table) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE label = ?", s.table), label); err != nil {
		return fmt.Errorf("delete rows for %q: %w", label, err)
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (label, idx, fevals, mean, stdev, n, min, max, replicates, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		s.table))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for i, r := range t.Rows() {
		if _, err := stmt.ExecContext(ctx, label, i, r.Position, r.Mean, r.Stdev, r.Count, r.Min, r.Max, t.Replicates, now); err != nil {
			return fmt.Errorf("insert row %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// Rows returns the rows stored under label in grid order.
func (s *SQLiteSink) Rows(ctx context.Context, label string) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT fevals, mean, stdev, n, min, max FROM %s WHERE label = ? ORDER BY idx", s.table), label)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.Position, &r.Mean, &r.Stdev, &r.Count, &r.Min, &r.Max); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Labels returns the stored experiment labels.
func (s *SQLiteSink) Labels(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT DISTINCT label FROM %s ORDER BY label", s.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
