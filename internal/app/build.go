package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ent0n29/echoverse/internal/config"
	"github.com/ent0n29/echoverse/internal/httpapi"
	"github.com/ent0n29/echoverse/internal/observability"
	"github.com/ent0n29/echoverse/internal/provider"
	"github.com/ent0n29/echoverse/internal/store"
	"github.com/ent0n29/echoverse/internal/summary"
)

type BuildResult struct {
	Config    config.Config
	API       *httpapi.Server
	Generator *summary.Generator
	Store     store.Store
	Providers []string
	Metrics   *observability.Metrics
	Log       zerolog.Logger

	// Cleanup should be called on shutdown to release external resources (DB, Firestore client).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, log zerolog.Logger) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	summaryStore, err := store.NewStore(ctx, store.Config{
		Kind:        cfg.StoreKind,
		DatabaseURL: cfg.DatabaseURL,
		SQLitePath:  cfg.SQLitePath,
		Firestore: store.FirestoreConfig{
			ProjectID:       cfg.FirestoreProjectID,
			Collection:      cfg.FirestoreCollection,
			CredentialsFile: cfg.FirestoreCredentialsFile,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("summary store init failed: %w", err)
	}

	chain, err := provider.NewChain(provider.Config{
		Order:   cfg.Providers,
		Timeout: cfg.ProviderTimeout,
		Anthropic: provider.AnthropicConfig{
			APIKey:  cfg.AnthropicAPIKey,
			BaseURL: cfg.AnthropicBaseURL,
			Model:   cfg.AnthropicModel,
		},
		OpenAI: provider.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
		},
		HTTP: provider.HTTPConfig{
			URL:   cfg.HTTPProviderURL,
			Token: cfg.HTTPProviderToken,
		},
	})
	if err != nil {
		_ = summaryStore.Close()
		return nil, fmt.Errorf("summary provider init failed: %w", err)
	}
	names := make([]string, 0, len(chain))
	for _, p := range chain {
		names = append(names, p.Name())
	}

	generator := summary.NewGenerator(summaryStore, chain, summary.NewPool(nil), metrics, log, summary.Options{
		Instruction:     cfg.Instruction,
		MaxWords:        cfg.MaxWords,
		MaxChars:        cfg.MaxChars,
		MinLines:        cfg.MinLines,
		RedactPII:       cfg.RedactPII,
		ProviderTimeout: cfg.ProviderTimeout,
	})

	api := httpapi.New(generator, metrics, httpapi.Readiness{
		StoreKind: summaryStore.Kind(),
		Providers: names,
	}, log)

	log.Info().
		Str("store", summaryStore.Kind()).
		Strs("providers", names).
		Msg("summary pipeline ready")

	cleanup := func() error {
		var errs []string
		if err := summaryStore.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:    cfg,
		API:       api,
		Generator: generator,
		Store:     summaryStore,
		Providers: names,
		Metrics:   metrics,
		Log:       log,
		Cleanup:   cleanup,
	}, nil
}
