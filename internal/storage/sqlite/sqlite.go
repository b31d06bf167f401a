package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/FranksOps/lookout/internal/storage"
	_ "modernc.org/sqlite"
)

// ensure sqliteBackend implements storage.Backend
var _ storage.Backend = (*sqliteBackend)(nil)

type sqliteBackend struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS scrape_cache (
	id TEXT PRIMARY KEY,
	profile_url TEXT NOT NULL,
	provider TEXT NOT NULL,
	job_id TEXT NOT NULL,
	result_location TEXT NOT NULL,
	payload BLOB NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS scrape_cache_lookup ON scrape_cache (provider, profile_url, created_at);
`

// New opens (creating if needed) a SQLite scrape cache at dsn.
func New(dsn string) (storage.Backend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	// One writer at a time; concurrent scrapes would otherwise hit SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("context: %w", err)
	}

	return &sqliteBackend{db: db}, nil
}

func (b *sqliteBackend) Save(ctx context.Context, e *storage.Entry) error {
	_, err := b.db.ExecContext(ctx, `
	INSERT INTO scrape_cache (id, profile_url, provider, job_id, result_location, payload, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ProfileURL, e.Provider, e.JobID, e.ResultLocation, e.Payload, e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}
	return nil
}

func (b *sqliteBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Entry, error) {
	query := `SELECT id, profile_url, provider, job_id, result_location, payload, created_at FROM scrape_cache WHERE 1=1`
	args := []any{}

	if filter.ProfileURL != "" {
		query += ` AND profile_url = ?`
		args = append(args, filter.ProfileURL)
	}
	if filter.Provider != "" {
		query += ` AND provider = ?`
		args = append(args, filter.Provider)
	}
	if filter.Since != nil {
		query += ` AND created_at >= ?`
		args = append(args, filter.Since.UTC())
	}

	query += ` ORDER BY created_at DESC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	} else if filter.Offset > 0 {
		query += ` LIMIT -1`
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	defer rows.Close()

	var entries []*storage.Entry
	for rows.Next() {
		var e storage.Entry
		if err := rows.Scan(&e.ID, &e.ProfileURL, &e.Provider, &e.JobID, &e.ResultLocation, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("context: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	return entries, nil
}

func (b *sqliteBackend) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := b.db.ExecContext(ctx, `DELETE FROM scrape_cache WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("context: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("context: %w", err)
	}
	return n, nil
}

func (b *sqliteBackend) Close() error {
	return b.db.Close()
}
