package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"guide-aggregator/models"
)

// PostgresWriter mirrors each market's aggregate into a PostgreSQL table.
type PostgresWriter struct {
	db *sql.DB
}

// NewPostgresWriter opens a connection to PostgreSQL, runs schema migrations,
// and returns a ready-to-use PostgresWriter.
func NewPostgresWriter(ctx context.Context, dsn string) (*PostgresWriter, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 5; i++ {
		if err = db.PingContext(ctx); err == nil {
			break
		}
		select {
		case <-ctx.Done():
			_ = db.Close()
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	pw := &PostgresWriter{db: db}
	if err := pw.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return pw, nil
}

func (pw *PostgresWriter) migrate(ctx context.Context) error {
	_, err := pw.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS guide_listings (
			market        TEXT    NOT NULL,
			position      INTEGER NOT NULL,
			listing_id    TEXT    NOT NULL DEFAULT '',
			display_name  TEXT    NOT NULL,
			location      TEXT    NOT NULL DEFAULT '',
			plain_text    TEXT    NOT NULL DEFAULT '',
			amenities     INTEGER NOT NULL DEFAULT 0,
			lat           TEXT    NOT NULL DEFAULT '',
			lng           TEXT    NOT NULL DEFAULT '',
			guide_name    TEXT    NOT NULL DEFAULT '',
			live_url      TEXT    NOT NULL DEFAULT '',
			row_json      JSONB   NOT NULL,
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (market, position)
		);

		CREATE INDEX IF NOT EXISTS idx_guide_listings_listing ON guide_listings(market, listing_id);
		CREATE INDEX IF NOT EXISTS idx_guide_listings_guide   ON guide_listings(market, guide_name);
	`)
	return err
}

// Write replaces the market's rows with listings inside one transaction.
func (pw *PostgresWriter) Write(ctx context.Context, market string, listings []models.ListingRecord) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "DELETE FROM guide_listings WHERE market = $1", market); err != nil {
		return fmt.Errorf("postgres: clear %s: %w", market, err)
	}

	const batchSize = 50
	for i := 0; i < len(listings); i += batchSize {
		end := i + batchSize
		if end > len(listings) {
			end = len(listings)
		}
		if err := insertBatch(ctx, tx, market, i, listings[i:end]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

const pgColumns = 12

func insertBatch(ctx context.Context, tx *sql.Tx, market string, offset int, batch []models.ListingRecord) error {
	valueStrings := make([]string, 0, len(batch))
	valueArgs := make([]interface{}, 0, len(batch)*pgColumns)

	for idx, l := range batch {
		base := idx * pgColumns
		placeholders := make([]string, pgColumns)
		for j := range placeholders {
			placeholders[j] = fmt.Sprintf("$%d", base+j+1)
		}
		valueStrings = append(valueStrings, "("+strings.Join(placeholders, ",")+")")

		rowJSON, err := json.Marshal(l)
		if err != nil {
			return fmt.Errorf("postgres: encode %s: %w", l.ListingID, err)
		}
		valueArgs = append(valueArgs,
			market, offset+idx, l.ListingID, l.DisplayName, l.Location, l.PlainText,
			l.Amenities.Count(), l.Lat, l.Lng, l.GuideName, l.LiveLink, string(rowJSON))
	}

	query := fmt.Sprintf(`
		INSERT INTO guide_listings (
			market, position, listing_id, display_name, location, plain_text,
			amenities, lat, lng, guide_name, live_url, row_json)
		VALUES %s
	`, strings.Join(valueStrings, ","))

	if _, err := tx.ExecContext(ctx, query, valueArgs...); err != nil {
		return fmt.Errorf("postgres: insert batch: %w", err)
	}
	return nil
}

func (pw *PostgresWriter) Close() error {
	return pw.db.Close()
}
