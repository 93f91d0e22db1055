package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists summaries in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path. Use ":memory:"
// for a throwaway database.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Single writer; also keeps a ":memory:" database alive on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := initSQLiteSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func initSQLiteSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS summaries (
			key TEXT PRIMARY KEY,
			text TEXT NOT NULL,
			origin TEXT NOT NULL,
			is_placeholder INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+summaryColumns+` FROM summaries WHERE key=?`, key)
	rec, err := scanSQLiteRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get summary: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) Put(ctx context.Context, rec Record, policy WritePolicy) (PutResult, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	row := s.db.QueryRowContext(ctx, upsertSQL(policy, "?, ?, ?, ?, ?"),
		rec.Key,
		rec.Text,
		string(rec.Origin),
		rec.Placeholder,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	stored, err := scanSQLiteRecord(row)
	if err == nil {
		return PutResult{Record: stored, Written: true}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return PutResult{}, fmt.Errorf("put summary (%s): %w", policy, err)
	}

	existing, err := s.Get(ctx, rec.Key)
	if err != nil {
		return PutResult{}, fmt.Errorf("read canonical summary: %w", err)
	}
	return PutResult{Record: existing}, nil
}

func (s *SQLiteStore) Lookup(ctx context.Context, keys []string) ([]Record, error) {
	keys = dedupKeys(keys)
	var out []Record
	for _, chunk := range chunkKeys(keys, lookupChunkSize) {
		marks := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]any, len(chunk))
		for i, k := range chunk {
			args[i] = k
		}
		rows, err := s.db.QueryContext(ctx,
			`SELECT `+summaryColumns+` FROM summaries WHERE key IN (`+marks+`)`, args...)
		if err != nil {
			return nil, fmt.Errorf("query summaries: %w", err)
		}
		for rows.Next() {
			rec, err := scanSQLiteRecord(rows)
			if err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("scan summary row: %w", err)
			}
			out = append(out, rec)
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, fmt.Errorf("iterate summary rows: %w", err)
		}
	}
	return out, nil
}

func (s *SQLiteStore) Kind() string { return "sqlite" }

func (s *SQLiteStore) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRecord(row rowScanner) (Record, error) {
	var (
		r       Record
		origin  string
		created string
	)
	if err := row.Scan(&r.Key, &r.Text, &origin, &r.Placeholder, &created); err != nil {
		return Record{}, err
	}
	r.Origin = Origin(origin)
	ts, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return Record{}, fmt.Errorf("parse created_at %q: %w", created, err)
	}
	r.CreatedAt = ts
	return r, nil
}
