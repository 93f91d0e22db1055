package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists summaries in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initPostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initPostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS summaries (
			key TEXT PRIMARY KEY,
			text TEXT NOT NULL,
			origin TEXT NOT NULL,
			is_placeholder BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+summaryColumns+` FROM summaries WHERE key=$1`, key)
	rec, err := scanPostgresRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get summary: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) Put(ctx context.Context, rec Record, policy WritePolicy) (PutResult, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	row := s.pool.QueryRow(ctx, upsertSQL(policy, "$1, $2, $3, $4, $5"),
		rec.Key,
		rec.Text,
		string(rec.Origin),
		rec.Placeholder,
		rec.CreatedAt,
	)
	stored, err := scanPostgresRecord(row)
	if err == nil {
		return PutResult{Record: stored, Written: true}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return PutResult{}, fmt.Errorf("put summary (%s): %w", policy, err)
	}

	// The conflict clause suppressed the write; report the record that won.
	existing, err := s.Get(ctx, rec.Key)
	if err != nil {
		return PutResult{}, fmt.Errorf("read canonical summary: %w", err)
	}
	return PutResult{Record: existing}, nil
}

func (s *PostgresStore) Lookup(ctx context.Context, keys []string) ([]Record, error) {
	keys = dedupKeys(keys)
	var out []Record
	for _, chunk := range chunkKeys(keys, lookupChunkSize) {
		rows, err := s.pool.Query(ctx,
			`SELECT `+summaryColumns+` FROM summaries WHERE key = ANY($1)`, chunk)
		if err != nil {
			return nil, fmt.Errorf("query summaries: %w", err)
		}
		for rows.Next() {
			rec, err := scanPostgresRecord(rows)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan summary row: %w", err)
			}
			out = append(out, rec)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("iterate summary rows: %w", err)
		}
	}
	return out, nil
}

func (s *PostgresStore) Kind() string { return "postgres" }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanPostgresRecord(row pgx.Row) (Record, error) {
	var (
		r      Record
		origin string
	)
	if err := row.Scan(&r.Key, &r.Text, &origin, &r.Placeholder, &r.CreatedAt); err != nil {
		return Record{}, err
	}
	r.Origin = Origin(origin)
	return r, nil
}
