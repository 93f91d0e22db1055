package summary

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/ent0n29/echoverse/internal/observability"
	"github.com/ent0n29/echoverse/internal/policy"
	"github.com/ent0n29/echoverse/internal/provider"
	"github.com/ent0n29/echoverse/internal/store"
)

// DefaultMinLines is the fewest substantive transcript lines worth summarizing.
const DefaultMinLines = 2

const (
	defaultProviderTimeout = 12 * time.Second
	// storeBudget covers the cache re-check and the conditional write of one flight.
	storeBudget = 5 * time.Second
)

// Options tunes the pipeline.
type Options struct {
	Instruction string
	MaxWords    int
	MaxChars    int
	MinLines    int
	RedactPII   bool

	// ProviderTimeout is the per-provider budget; a flight may spend it once
	// per provider plus storeBudget before it is abandoned.
	ProviderTimeout time.Duration
	// FlightTimeout overrides the derived flight budget when positive.
	FlightTimeout time.Duration
}

// Generator is the cache-aside summary pipeline. At most one provider
// generation sequence runs per conversation key inside this process.
type Generator struct {
	store      store.Store
	providers  []provider.Provider
	normalizer Normalizer
	pool       *Pool
	metrics    *observability.Metrics
	log        zerolog.Logger
	opts       Options

	flights singleflight.Group
	now     func() time.Time
}

func NewGenerator(
	st store.Store,
	providers []provider.Provider,
	pool *Pool,
	metrics *observability.Metrics,
	log zerolog.Logger,
	opts Options,
) *Generator {
	if pool == nil {
		pool = NewPool(nil)
	}
	if opts.MinLines <= 0 {
		opts.MinLines = DefaultMinLines
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = defaultProviderTimeout
	}
	if opts.FlightTimeout <= 0 {
		opts.FlightTimeout = opts.ProviderTimeout*time.Duration(max(len(providers), 1)) + storeBudget
	}
	return &Generator{
		store:      st,
		providers:  providers,
		normalizer: Normalizer{MaxWords: opts.MaxWords, MaxChars: opts.MaxChars},
		pool:       pool,
		metrics:    metrics,
		log:        log.With().Str("component", "summary").Logger(),
		opts:       opts,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

type requestIDKey struct{}

// WithRequestID attaches a request id that Generate includes in its logs.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

// Generate returns a summary for req. The only error returned for a request that
// reaches the pipeline is ErrInvalidRequest (wrapped), or the caller's context
// error if it gives up waiting; generation itself keeps running to completion.
func (g *Generator) Generate(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	p, err := prepare(req)
	if err != nil {
		return Result{}, err
	}
	log := g.log.With().
		Str("request_id", requestID(ctx)).
		Str("conversation_key", p.key).
		Bool("force", p.force).
		Logger()

	res, err := g.generate(ctx, p, log)
	if err != nil {
		return Result{}, err
	}
	g.metrics.ObserveSource(string(res.Source))
	g.metrics.ObserveStage("total", time.Since(start))
	log.Debug().Str("source", string(res.Source)).Dur("elapsed", time.Since(start)).Msg("summary served")
	return res, nil
}

func (g *Generator) generate(ctx context.Context, p prepared, log zerolog.Logger) (Result, error) {
	if p.lines == 0 {
		log.Info().Msg("transcript has no substantive lines, using fallback phrase")
		return Result{Text: g.pool.Pick(), Source: SourceFallback, Placeholder: true}, nil
	}
	if p.lines < g.opts.MinLines {
		return Result{Text: SparsePhrase, Source: SourceDefault, Placeholder: true}, nil
	}

	if !p.force {
		if res, ok := g.cached(ctx, p.key, log); ok {
			return res, nil
		}
	}

	// The flight outlives a departed caller so its result still lands in the store.
	// Its own deadline keeps a hung store call from holding the slot. Forced
	// callers get a separate slot and never receive an unforced cache hit.
	slot := p.key
	if p.force {
		slot = forceSlotPrefix + p.key
	}
	ch := g.flights.DoChan(slot, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.opts.FlightTimeout)
		defer cancel()
		return g.runFlight(flightCtx, p, log), nil
	})
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case out := <-ch:
		if out.Shared {
			g.metrics.ObserveSharedFlight()
		}
		return out.Val.(Result), nil
	}
}

// forceSlotPrefix contains '/', which DeriveKey rejects, so it cannot collide with a key.
const forceSlotPrefix = "force/"

// isPlaceholder also recognizes canned phrases stored without the placeholder flag.
func (g *Generator) isPlaceholder(rec store.Record) bool {
	return rec.Placeholder || rec.Text == SparsePhrase || g.pool.Contains(rec.Text)
}

// cached returns a genuine stored record. Placeholders and read failures are misses.
func (g *Generator) cached(ctx context.Context, key string, log zerolog.Logger) (Result, bool) {
	start := time.Now()
	rec, err := g.store.Get(ctx, key)
	g.metrics.ObserveStage("cache_lookup", time.Since(start))
	switch {
	case errors.Is(err, store.ErrNotFound):
		return Result{}, false
	case err != nil:
		g.metrics.ObserveStoreError("get")
		log.Warn().Err(err).Msg("summary store read failed, treating as miss")
		return Result{}, false
	case g.isPlaceholder(rec):
		log.Debug().Bool("flagged", rec.Placeholder).Msg("stored summary is a placeholder, regenerating")
		return Result{}, false
	}
	log.Debug().Msg("summary cache hit")
	return Result{Text: rec.Text, Source: SourceCache, CreatedAt: rec.CreatedAt}, true
}

func (g *Generator) runFlight(ctx context.Context, p prepared, log zerolog.Logger) Result {
	if !p.force {
		// Another process may have written since the pre-check.
		if res, ok := g.cached(ctx, p.key, log); ok {
			return res
		}
	}

	res := g.produce(ctx, p, log)
	rec := store.Record{
		Key:         p.key,
		Text:        res.Text,
		Origin:      store.Origin(res.Source),
		Placeholder: res.Placeholder,
		CreatedAt:   g.now(),
	}
	res.CreatedAt = rec.CreatedAt
	return g.persist(ctx, rec, p.force, res, log)
}

// produce walks the provider chain once and falls back to the pool.
func (g *Generator) produce(ctx context.Context, p prepared, log zerolog.Logger) Result {
	transcript := p.transcript
	if g.opts.RedactPII {
		var n int
		transcript, n = policy.RedactTranscript(transcript)
		if n > 0 {
			log.Debug().Int("redactions", n).Msg("masked personal data in transcript")
		}
	}

	for i, prov := range g.providers {
		start := time.Now()
		raw, err := prov.Generate(ctx, transcript, g.opts.Instruction)
		elapsed := time.Since(start)
		if err != nil {
			kind := provider.KindOf(err)
			g.metrics.ObserveProvider(prov.Name(), "error", string(kind), elapsed)
			log.Warn().Err(err).
				Str("provider", prov.Name()).
				Str("kind", string(kind)).
				Dur("elapsed", elapsed).
				Msg("provider generation failed")
			continue
		}
		text, ok := g.normalizer.Normalize(raw)
		if !ok {
			g.metrics.ObserveProvider(prov.Name(), "rejected", "validation_rejected", elapsed)
			log.Warn().
				Str("provider", prov.Name()).
				Str("raw", raw).
				Msg("provider output rejected by normalizer")
			continue
		}
		g.metrics.ObserveProvider(prov.Name(), "ok", "", elapsed)
		return Result{Text: text, Source: sourceForPosition(i), Provider: prov.Name()}
	}

	log.Info().Int("providers", len(g.providers)).Msg("all providers failed, using fallback phrase")
	return Result{Text: g.pool.Pick(), Source: SourceFallback, Placeholder: true}
}

// persist writes rec and answers with whatever record is canonical afterwards.
// Placeholders never replace an existing record, even when forced.
func (g *Generator) persist(ctx context.Context, rec store.Record, force bool, res Result, log zerolog.Logger) Result {
	mode := store.WriteReplacePlaceholder
	switch {
	case rec.Placeholder:
		mode = store.WriteIfAbsent
	case force:
		mode = store.WriteForce
	}

	start := time.Now()
	out, err := g.store.Put(ctx, rec, mode)
	g.metrics.ObserveStage("persist", time.Since(start))
	if err != nil {
		g.metrics.ObserveStoreError("put")
		log.Error().Err(err).Str("policy", mode.String()).Msg("summary store write failed, returning unsaved text")
		return res
	}
	if out.Written {
		return res
	}

	canonical := out.Record
	placeholder := g.isPlaceholder(canonical)
	if placeholder && !canonical.Placeholder && !rec.Placeholder && mode == store.WriteReplacePlaceholder {
		// An unflagged canned phrase fails the store's placeholder condition.
		return g.persist(ctx, rec, true, res, log)
	}
	log.Debug().
		Str("policy", mode.String()).
		Bool("canonical_placeholder", placeholder).
		Msg("kept existing summary record")
	if placeholder {
		return Result{Text: canonical.Text, Source: SourceFallback, Placeholder: true, CreatedAt: canonical.CreatedAt}
	}
	return Result{Text: canonical.Text, Source: SourceCache, CreatedAt: canonical.CreatedAt}
}

// Get returns the stored record for a conversation key.
func (g *Generator) Get(ctx context.Context, rawKey string) (store.Record, error) {
	key, err := DeriveKey(rawKey)
	if err != nil {
		return store.Record{}, err
	}
	return g.store.Get(ctx, key)
}

// Lookup returns stored records for the given keys; unknown keys are skipped.
func (g *Generator) Lookup(ctx context.Context, rawKeys []string) ([]store.Record, error) {
	keys := make([]string, 0, len(rawKeys))
	for _, raw := range rawKeys {
		key, err := DeriveKey(raw)
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	return g.store.Lookup(ctx, keys)
}
