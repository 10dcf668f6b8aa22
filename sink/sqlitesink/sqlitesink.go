// Package sqlitesink records telemetry into a SQLite database so tuning
// sessions can be compared after the fact.
package sqlitesink

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/notnil/canmotion"
)

//go:embed migrations/*.sql
var migrations embed.FS

// migrateUp brings the schema to the latest version. The migrate instance
// is not closed because that would close db.
func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return err
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Session is one run of the adapter.
type Session struct {
	ID        string
	StartedAt time.Time
}

// Store writes samples of one session and reads back any session.
type Store struct {
	db      *sql.DB
	session string
	log     *slog.Logger
}

// Open creates the schema if needed and starts a new session.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitesink: migrate: %w", err)
	}
	id := uuid.NewString()
	if _, err := db.ExecContext(ctx, "INSERT INTO sessions (id, started_at) VALUES (?, ?)", id, time.Now().UnixMilli()); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitesink: start session: %w", err)
	}
	logger.Info("recording telemetry", "path", path, "session", id)
	return &Store{db: db, session: id, log: logger}, nil
}

// RecordOrder notes an order applied during the session. kind is one of
// speed, position, angle or stop.
func (s *Store) RecordOrder(at time.Time, kind string, value float64) error {
	_, err := s.db.Exec("INSERT INTO orders (session, t_ms, kind, value) VALUES (?, ?, ?, ?)",
		s.session, at.UnixMilli(), kind, value)
	return err
}

// OrderRecord is one row of the orders table.
type OrderRecord struct {
	Time  time.Time
	Kind  string
	Value float64
}

// Orders returns the orders recorded in session, oldest first.
func (s *Store) Orders(ctx context.Context, session string) ([]OrderRecord, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT t_ms, kind, value FROM orders WHERE session = ? ORDER BY t_ms, rowid", session)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderRecord
	for rows.Next() {
		var r OrderRecord
		var ms int64
		if err := rows.Scan(&ms, &r.Kind, &r.Value); err != nil {
			return nil, err
		}
		r.Time = time.UnixMilli(ms)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Session returns the id samples are recorded under.
func (s *Store) Session() string { return s.session }

func (s *Store) Close() error { return s.db.Close() }

// Push inserts sample into the current session. Errors are logged.
func (s *Store) Push(sample canmotion.Sample) {
	_, err := s.db.Exec("INSERT INTO samples (session, channel, t_ms, measured, setpoint) VALUES (?, ?, ?, ?, ?)",
		s.session, sample.Channel.String(), sample.Time.UnixMilli(), sample.Measured, sample.Setpoint)
	if err != nil {
		s.log.Warn("sqlite insert failed", "error", err)
	}
}

// Sessions lists recorded sessions, newest first.
func (s *Store) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, started_at FROM sessions ORDER BY started_at DESC, rowid DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var id string
		var ms int64
		if err := rows.Scan(&id, &ms); err != nil {
			return nil, err
		}
		out = append(out, Session{ID: id, StartedAt: time.UnixMilli(ms)})
	}
	return out, rows.Err()
}

// Samples returns up to limit samples of channel c in session, oldest first.
// A limit of zero or less returns all of them.
func (s *Store) Samples(ctx context.Context, session string, c canmotion.Channel, limit int) ([]canmotion.Sample, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT t_ms, measured, setpoint FROM samples WHERE session = ? AND channel = ? ORDER BY t_ms, rowid LIMIT ?",
		session, c.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []canmotion.Sample
	for rows.Next() {
		var ms int64
		var measured, setpoint float64
		if err := rows.Scan(&ms, &measured, &setpoint); err != nil {
			return nil, err
		}
		out = append(out, canmotion.Sample{Channel: c, Time: time.UnixMilli(ms), Measured: measured, Setpoint: setpoint})
	}
	return out, rows.Err()
}
