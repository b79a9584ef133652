// Package recorder persists every decoded flight state to a SQL database
// and exports the history as CSV.
package recorder

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"  // PostgreSQL driver
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/eytandecker/flightgear-telemetry/internal/config"
	"github.com/eytandecker/flightgear-telemetry/internal/telemetry"
	"github.com/eytandecker/flightgear-telemetry/pkg/types"
)

// writeTimeout bounds a single insert issued from a poll sink.
const writeTimeout = 2 * time.Second

var schema = map[string]string{
	"sqlite": `CREATE TABLE IF NOT EXISTS flight_states (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		simulator_id TEXT NOT NULL,
		recorded_at INTEGER NOT NULL,
		altitude REAL NOT NULL,
		speed REAL NOT NULL,
		heading REAL NOT NULL,
		latitude REAL NOT NULL,
		longitude REAL NOT NULL
	)`,
	"postgres": `CREATE TABLE IF NOT EXISTS flight_states (
		id BIGSERIAL PRIMARY KEY,
		simulator_id TEXT NOT NULL,
		recorded_at BIGINT NOT NULL,
		altitude DOUBLE PRECISION NOT NULL,
		speed DOUBLE PRECISION NOT NULL,
		heading DOUBLE PRECISION NOT NULL,
		latitude DOUBLE PRECISION NOT NULL,
		longitude DOUBLE PRECISION NOT NULL
	)`,
}

const indexSQL = `CREATE INDEX IF NOT EXISTS flight_states_sim_time ON flight_states (simulator_id, recorded_at)`

// Recorder writes flight states to the flight_states table.
type Recorder struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// Open connects to the database named by cfg and ensures the schema exists.
func Open(ctx context.Context, cfg config.StorageConfig) (*Recorder, error) {
	ddl, ok := schema[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("recorder: unsupported driver %q", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("recorder: open db: %w", err)
	}
	if cfg.Driver == "sqlite" {
		// SQLite allows one writer; an in-memory database exists per connection.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(5)
		db.SetConnMaxLifetime(time.Hour)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("recorder: ping db: %w", err)
	}
	for _, stmt := range []string{ddl, indexSQL} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("recorder: create schema: %w", err)
		}
	}

	return &Recorder{db: db, driver: cfg.Driver, now: time.Now}, nil
}

// Close closes the database.
func (r *Recorder) Close() error {
	return r.db.Close()
}

// rebind rewrites ? placeholders to $n for postgres.
func (r *Recorder) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

// Record stores one state of simulatorID observed at at.
func (r *Recorder) Record(ctx context.Context, simulatorID string, s types.FlightState, at time.Time) error {
	_, err := r.db.ExecContext(ctx, r.rebind(
		`INSERT INTO flight_states (simulator_id, recorded_at, altitude, speed, heading, latitude, longitude)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		simulatorID, at.UnixMilli(), s.Altitude, s.Speed, s.Heading, s.Latitude, s.Longitude,
	)
	if err != nil {
		return fmt.Errorf("recorder: insert: %w", err)
	}
	return nil
}

// ExportCSV writes the recorded history of simulatorID to w, oldest first.
// An empty simulatorID exports every simulator.
func (r *Recorder) ExportCSV(ctx context.Context, w io.Writer, simulatorID string) error {
	query := `SELECT simulator_id, recorded_at, altitude, speed, heading, latitude, longitude FROM flight_states`
	var args []any
	if simulatorID != "" {
		query += ` WHERE simulator_id = ?`
		args = append(args, simulatorID)
	}
	query += ` ORDER BY recorded_at, id`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return fmt.Errorf("recorder: query: %w", err)
	}
	defer rows.Close()

	cw := csv.NewWriter(w)
	header := append([]string{"simulator_id", "recorded_at"}, types.FieldNames...)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("recorder: write csv: %w", err)
	}

	for rows.Next() {
		var (
			sim string
			ms  int64
			s   types.FlightState
		)
		if err := rows.Scan(&sim, &ms, &s.Altitude, &s.Speed, &s.Heading, &s.Latitude, &s.Longitude); err != nil {
			return fmt.Errorf("recorder: scan row: %w", err)
		}
		rec := []string{sim, time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)}
		for _, name := range types.FieldNames {
			v, _ := s.Field(name)
			rec = append(rec, strconv.FormatFloat(v, 'f', -1, 64))
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("recorder: write csv: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("recorder: iterate rows: %w", err)
	}

	cw.Flush()
	return cw.Error()
}

// Prune deletes rows recorded more than olderThan ago and returns how many
// were removed.
func (r *Recorder) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := r.now().Add(-olderThan).UnixMilli()
	res, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM flight_states WHERE recorded_at < ?`), cutoff)
	if err != nil {
		return 0, fmt.Errorf("recorder: prune: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("recorder: prune: %w", err)
	}
	return n, nil
}

// RunPruner prunes rows older than retention every interval until ctx is
// cancelled.
func (r *Recorder) RunPruner(ctx context.Context, retention, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.Prune(ctx, retention)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					slog.Error("recorder: prune failed", "err", err)
				}
				continue
			}
			if n > 0 {
				slog.Debug("recorder: pruned", "rows", n)
			}
		}
	}
}

// Sink returns a poll sink that records every successful state of
// simulatorID. Write errors are logged and never reach the poller.
func (r *Recorder) Sink(simulatorID string) telemetry.Sink {
	return &sink{r: r, id: simulatorID}
}

type sink struct {
	r  *Recorder
	id string
}

func (s *sink) Update(state types.FlightState) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := s.r.Record(ctx, s.id, state, s.r.now()); err != nil {
		slog.Error("recorder: record failed", "simulator", s.id, "err", err)
	}
}

func (s *sink) RecordFailure(error) {}
