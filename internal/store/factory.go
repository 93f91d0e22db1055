package store

import (
	"context"
	"fmt"
	"strings"
)

// Config selects and configures a store backend.
type Config struct {
	Kind        string
	DatabaseURL string
	SQLitePath  string
	Firestore   FirestoreConfig
}

// NewStore builds the configured backend. In "auto" mode it picks postgres when
// DATABASE_URL is set, firestore when a project id is set, sqlite when a path is
// set, and in-memory otherwise.
func NewStore(ctx context.Context, cfg Config) (Store, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.Kind))
	if kind == "" || kind == "auto" {
		kind = resolveAutoKind(cfg)
	}

	switch kind {
	case "memory":
		return NewInMemoryStore(), nil
	case "postgres":
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return nil, fmt.Errorf("postgres store requires DATABASE_URL")
		}
		return NewPostgresStore(ctx, cfg.DatabaseURL)
	case "sqlite":
		return NewSQLiteStore(ctx, cfg.SQLitePath)
	case "firestore":
		return NewFirestoreStore(ctx, cfg.Firestore)
	default:
		return nil, fmt.Errorf("unsupported summary store %q", cfg.Kind)
	}
}

func resolveAutoKind(cfg Config) string {
	switch {
	case strings.TrimSpace(cfg.DatabaseURL) != "":
		return "postgres"
	case strings.TrimSpace(cfg.Firestore.ProjectID) != "":
		return "firestore"
	case strings.TrimSpace(cfg.SQLitePath) != "":
		return "sqlite"
	default:
		return "memory"
	}
}
