package app

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/echoverse/internal/config"
	"github.com/ent0n29/echoverse/internal/summary"
)

func TestBuildWiresMockPipeline(t *testing.T) {
	cfg := config.Config{
		MetricsNamespace: "test_app_build",
		StoreKind:        "sqlite",
		SQLitePath:       t.TempDir() + "/summaries.db",
		Providers:        []string{"mock"},
		MaxWords:         8,
		MaxChars:         80,
		MinLines:         2,
	}
	built, err := Build(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = built.Cleanup() })

	assert.Equal(t, "sqlite", built.Store.Kind())
	assert.Equal(t, []string{"mock"}, built.Providers)

	res, err := built.Generator.Generate(context.Background(), summary.Request{
		ConversationKey: "c1",
		Transcript:      "Alice: we moved house today\nBob: the new kitchen is lovely",
	})
	require.NoError(t, err)
	assert.Equal(t, summary.SourceProviderA, res.Source)

	rec, err := built.Store.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, res.Text, rec.Text)
}

func TestBuildRejectsUnknownProvider(t *testing.T) {
	_, err := Build(context.Background(), config.Config{
		MetricsNamespace: "test_app_build_bad",
		StoreKind:        "memory",
		Providers:        []string{"nope"},
	}, zerolog.Nop())
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger("warn", "json", &buf)
	require.NoError(t, err)
	log.Info().Msg("hidden")
	log.Warn().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"service":"echoverse"`)

	_, err = NewLogger("loud", "json", &buf)
	assert.Error(t, err)
}
