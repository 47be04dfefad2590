package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const (
	createTableSQL = `CREATE TABLE IF NOT EXISTS measurements (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
	value TEXT NOT NULL
)`

	insertSQL = `INSERT INTO measurements (value) VALUES (?) RETURNING id, CAST(timestamp AS TEXT)`

	// ids follow insertion order even when the wall clock steps back
	selectAllSQL = `SELECT id, CAST(timestamp AS TEXT), value FROM measurements ORDER BY id DESC`
)

// SQLite is a [Gateway] backed by a SQLite database file.
//
// SQLite holds exactly one connection, so the ingest loop's inserts and the
// HTTP handlers' reads are serialized by database/sql and a read never sees
// a half-applied write.
type SQLite struct {
	db        *sql.DB
	insert    *sql.Stmt
	logger    *slog.Logger
	closeOnce sync.Once
	closeErr  error
}

// OpenSQLite opens (creating if absent) the database file at path and
// ensures the measurements schema exists.
//
// The caller must call [SQLite.Close] when done.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	// one handle for the whole process
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database %s: %w", path, err)
	}

	s, err := NewSQLite(ctx, db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("database opened", "path", path)
	return s, nil
}

// NewSQLite wraps an already opened database handle, creating the schema and
// preparing the insert statement. Ownership of db passes to the returned
// gateway.
func NewSQLite(ctx context.Context, db *sql.DB, logger *slog.Logger) (*SQLite, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	stmt, err := db.PrepareContext(ctx, insertSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare insert: %w", err)
	}

	return &SQLite{
		db:     db,
		insert: stmt,
		logger: logger,
	}, nil
}

// Insert appends one measurement with the database-assigned id and timestamp.
func (s *SQLite) Insert(ctx context.Context, value string) (Measurement, error) {
	if value == "" {
		return Measurement{}, ErrEmptyValue
	}

	var (
		m  = Measurement{Value: value}
		ts string
	)
	if err := s.insert.QueryRowContext(ctx, value).Scan(&m.ID, &ts); err != nil {
		return Measurement{}, fmt.Errorf("failed to insert measurement: %w", err)
	}

	parsed, err := parseTimestamp(ts)
	if err != nil {
		return Measurement{}, err
	}
	m.Timestamp = parsed

	s.logger.Debug("measurement stored", "id", m.ID, "value", value)
	return m, nil
}

// All returns every stored measurement, newest insert first.
//
// A row whose timestamp is NULL or unreadable is returned with a zero
// Timestamp rather than failing the whole query.
func (s *SQLite) All(ctx context.Context) ([]Measurement, error) {
	rows, err := s.db.QueryContext(ctx, selectAllSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to query measurements: %w", err)
	}
	defer func() { _ = rows.Close() }()

	measurements := []Measurement{}
	for rows.Next() {
		var (
			m  Measurement
			ts sql.NullString
		)
		if err := rows.Scan(&m.ID, &ts, &m.Value); err != nil {
			return nil, fmt.Errorf("failed to scan measurement: %w", err)
		}
		if ts.Valid {
			parsed, err := parseTimestamp(ts.String)
			if err != nil {
				s.logger.Warn("measurement has unreadable timestamp", "id", m.ID, "error", err)
			}
			m.Timestamp = parsed
		}
		measurements = append(measurements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read measurements: %w", err)
	}

	return measurements, nil
}

// Close closes the prepared statement and the database handle.
// Safe to call multiple times; later calls return the first result.
func (s *SQLite) Close() error {
	s.closeOnce.Do(func() {
		stmtErr := s.insert.Close()
		s.closeErr = errors.Join(stmtErr, s.db.Close())
		if s.closeErr == nil {
			s.logger.Info("database closed")
		}
	})
	return s.closeErr
}

// parseTimestamp parses the CURRENT_TIMESTAMP text form as UTC.
func parseTimestamp(ts string) (time.Time, error) {
	t, err := time.ParseInLocation(TimeLayout, ts, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid measurement timestamp %q: %w", ts, err)
	}
	return t, nil
}
