package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"guide-aggregator/models"
)

// SQLiteSnapshotStore keeps every market's snapshot in one SQLite database.
type SQLiteSnapshotStore struct {
	db   *sql.DB
	path string
}

// OpenSQLiteSnapshotStore opens (or creates) dir/snapshots.db.
func OpenSQLiteSnapshotStore(ctx context.Context, dir string) (*SQLiteSnapshotStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: create dir: %w", err)
	}
	dbPath := filepath.Join(dir, "snapshots.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &SQLiteSnapshotStore{db: db, path: dbPath}
	if err := store.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteSnapshotStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS snapshots (
			market   TEXT PRIMARY KEY,
			run_id   TEXT NOT NULL,
			saved_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS baselines (
			market     TEXT NOT NULL,
			guide_name TEXT NOT NULL,
			token      TEXT NOT NULL,
			PRIMARY KEY (market, guide_name)
		);
		CREATE TABLE IF NOT EXISTS aggregates (
			market      TEXT    NOT NULL,
			position    INTEGER NOT NULL,
			record_json TEXT    NOT NULL,
			PRIMARY KEY (market, position)
		);
	`)
	if err != nil {
		return fmt.Errorf("snapshot: migrate: %w", err)
	}
	return nil
}

// Path is the database file location.
func (s *SQLiteSnapshotStore) Path() string { return s.path }

func (s *SQLiteSnapshotStore) Load(ctx context.Context, market string) (*Snapshot, error) {
	snap := EmptySnapshot(market)

	var savedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, saved_at FROM snapshots WHERE market = ?`, market,
	).Scan(&snap.RunID, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: load %s: %w", market, err)
	}
	snap.Found = true
	if t, perr := time.Parse(time.RFC3339Nano, savedAt); perr == nil {
		snap.SavedAt = t
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT guide_name, token FROM baselines WHERE market = ?`, market)
	if err != nil {
		return nil, fmt.Errorf("snapshot: load baseline %s: %w", market, err)
	}
	for rows.Next() {
		var name, token string
		if err := rows.Scan(&name, &token); err != nil {
			rows.Close()
			return nil, fmt.Errorf("snapshot: scan baseline: %w", err)
		}
		snap.Baseline[name] = token
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	recRows, err := s.db.QueryContext(ctx,
		`SELECT record_json FROM aggregates WHERE market = ? ORDER BY position`, market)
	if err != nil {
		return nil, fmt.Errorf("snapshot: load aggregate %s: %w", market, err)
	}
	defer recRows.Close()
	for recRows.Next() {
		var raw string
		if err := recRows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("snapshot: scan aggregate: %w", err)
		}
		var rec models.ListingRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("snapshot: decode record: %w", err)
		}
		snap.Aggregate = append(snap.Aggregate, rec)
	}
	return snap, recRows.Err()
}

// Save replaces everything stored for the market in one transaction.
func (s *SQLiteSnapshotStore) Save(ctx context.Context, snap *Snapshot) error {
	if snap == nil || snap.Market == "" {
		return errors.New("snapshot: market is required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("snapshot: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (market, run_id, saved_at) VALUES (?, ?, ?)
		 ON CONFLICT(market) DO UPDATE SET run_id = excluded.run_id, saved_at = excluded.saved_at`,
		snap.Market, snap.RunID, snap.SavedAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("snapshot: upsert %s: %w", snap.Market, err)
	}

	for _, table := range []string{"baselines", "aggregates"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE market = ?", snap.Market); err != nil {
			return fmt.Errorf("snapshot: clear %s: %w", table, err)
		}
	}

	for _, e := range snap.Baseline.Entries() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO baselines (market, guide_name, token) VALUES (?, ?, ?)`,
			snap.Market, e.GuideName, e.Token,
		); err != nil {
			return fmt.Errorf("snapshot: insert baseline: %w", err)
		}
	}

	for i, rec := range snap.Aggregate {
		raw, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("snapshot: encode record: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO aggregates (market, position, record_json) VALUES (?, ?, ?)`,
			snap.Market, i, string(raw),
		); err != nil {
			return fmt.Errorf("snapshot: insert record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("snapshot: commit: %w", err)
	}
	return nil
}

// Markets lists every market with a stored snapshot.
func (s *SQLiteSnapshotStore) Markets(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT market FROM snapshots ORDER BY market`)
	if err != nil {
		return nil, fmt.Errorf("snapshot: list markets: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteSnapshotStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
