package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/FranksOps/lookout/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ensure postgresBackend implements storage.Backend
var _ storage.Backend = (*postgresBackend)(nil)

type postgresBackend struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS scrape_cache (
	id TEXT PRIMARY KEY,
	profile_url TEXT NOT NULL,
	provider TEXT NOT NULL,
	job_id TEXT NOT NULL,
	result_location TEXT NOT NULL,
	payload BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS scrape_cache_lookup ON scrape_cache (provider, profile_url, created_at DESC);
`

// New connects to dsn and ensures the cache table exists.
func New(ctx context.Context, dsn string) (storage.Backend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("context: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("context: %w", err)
	}

	return &postgresBackend{pool: pool}, nil
}

func (b *postgresBackend) Save(ctx context.Context, e *storage.Entry) error {
	_, err := b.pool.Exec(ctx, `
	INSERT INTO scrape_cache (id, profile_url, provider, job_id, result_location, payload, created_at)
	VALUES (@id, @profile_url, @provider, @job_id, @result_location, @payload, @created_at)`,
		pgx.NamedArgs{
			"id":              e.ID,
			"profile_url":     e.ProfileURL,
			"provider":        e.Provider,
			"job_id":          e.JobID,
			"result_location": e.ResultLocation,
			"payload":         e.Payload,
			"created_at":      e.CreatedAt,
		},
	)
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}
	return nil
}

func (b *postgresBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Entry, error) {
	query := `SELECT id, profile_url, provider, job_id, result_location, payload, created_at FROM scrape_cache WHERE 1=1`
	args := []any{}
	param := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.ProfileURL != "" {
		query += ` AND profile_url = ` + param(filter.ProfileURL)
	}
	if filter.Provider != "" {
		query += ` AND provider = ` + param(filter.Provider)
	}
	if filter.Since != nil {
		query += ` AND created_at >= ` + param(*filter.Since)
	}

	query += ` ORDER BY created_at DESC`

	if filter.Limit > 0 {
		query += ` LIMIT ` + param(filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ` + param(filter.Offset)
	}

	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*storage.Entry, error) {
		var e storage.Entry
		err := row.Scan(&e.ID, &e.ProfileURL, &e.Provider, &e.JobID, &e.ResultLocation, &e.Payload, &e.CreatedAt)
		return &e, err
	})
	if err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	return entries, nil
}

func (b *postgresBackend) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := b.pool.Exec(ctx, `DELETE FROM scrape_cache WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("context: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (b *postgresBackend) Close() error {
	b.pool.Close()
	return nil
}
