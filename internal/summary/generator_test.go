package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/echoverse/internal/provider"
	"github.com/ent0n29/echoverse/internal/reliability"
	"github.com/ent0n29/echoverse/internal/store"
)

const twoLineTranscript = "Alice: I finally finished the marathon.\nBob: That is wonderful, how do you feel?"

type fakeProvider struct {
	name    string
	text    string
	err     error
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	seen    atomic.Value
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Generate(ctx context.Context, transcript, _ string) (string, error) {
	p.calls.Add(1)
	p.seen.Store(transcript)
	if p.started != nil {
		select {
		case p.started <- struct{}{}:
		default:
		}
	}
	if p.release != nil {
		<-p.release
	}
	if p.err != nil {
		return "", p.err
	}
	return p.text, nil
}

func failing(name string, kind reliability.Kind) *fakeProvider {
	return &fakeProvider{name: name, err: &provider.Error{Provider: name, Kind: kind, Err: errors.New("boom")}}
}

type spyStore struct {
	store.Store
	gets   atomic.Int32
	puts   atomic.Int32
	getErr error
	putErr error
	// hangPut blocks writes until the caller's context ends.
	hangPut atomic.Bool
}

func newSpyStore() *spyStore {
	return &spyStore{Store: store.NewInMemoryStore()}
}

func (s *spyStore) Get(ctx context.Context, key string) (store.Record, error) {
	s.gets.Add(1)
	if s.getErr != nil {
		return store.Record{}, s.getErr
	}
	return s.Store.Get(ctx, key)
}

func (s *spyStore) Put(ctx context.Context, rec store.Record, policy store.WritePolicy) (store.PutResult, error) {
	s.puts.Add(1)
	if s.hangPut.Load() {
		<-ctx.Done()
		return store.PutResult{}, ctx.Err()
	}
	if s.putErr != nil {
		return store.PutResult{}, s.putErr
	}
	return s.Store.Put(ctx, rec, policy)
}

func newTestGenerator(st store.Store, providers ...provider.Provider) *Generator {
	pool := NewPool([]string{"Time flows like river's song"})
	return NewGenerator(st, providers, pool, nil, zerolog.Nop(), Options{RedactPII: true})
}

func TestGenerateCacheHitIsIdempotent(t *testing.T) {
	st := newSpyStore()
	a := &fakeProvider{name: "a", text: "Joy blooms after the long run"}
	g := newTestGenerator(st, a)
	ctx := context.Background()
	req := Request{ConversationKey: "c1", Transcript: twoLineTranscript}

	first, err := g.Generate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, SourceProviderA, first.Source)
	assert.Equal(t, "Joy blooms after the long run", first.Text)

	second, err := g.Generate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, second.Source)
	assert.Equal(t, first.Text, second.Text)
	assert.EqualValues(t, 1, a.calls.Load())
}

func TestGenerateFallsThroughProvidersInOrder(t *testing.T) {
	st := newSpyStore()
	a := failing("a", reliability.KindRateLimited)
	b := &fakeProvider{name: "b", text: "  \"Victory tastes of salt and sunrise\"\nextra line"}
	g := newTestGenerator(st, a, b)

	res, err := g.Generate(context.Background(), Request{ConversationKey: "c1", Transcript: twoLineTranscript})
	require.NoError(t, err)
	assert.Equal(t, SourceProviderB, res.Source)
	assert.Equal(t, "Victory tastes of salt and sunrise", res.Text)
	assert.Equal(t, "b", res.Provider)
	assert.EqualValues(t, 1, a.calls.Load())
	assert.EqualValues(t, 1, b.calls.Load())

	rec, err := st.Store.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, store.OriginProviderB, rec.Origin)
	assert.False(t, rec.Placeholder)
}

func TestGenerateRejectsUnusableOutput(t *testing.T) {
	a := &fakeProvider{name: "a", text: "\"  ...  \""}
	b := &fakeProvider{name: "b", text: "Steady steps, quiet pride"}
	g := newTestGenerator(newSpyStore(), a, b)

	res, err := g.Generate(context.Background(), Request{ConversationKey: "c1", Transcript: twoLineTranscript})
	require.NoError(t, err)
	assert.Equal(t, SourceProviderB, res.Source)
	assert.Equal(t, "Steady steps, quiet pride", res.Text)
}

func TestGenerateFallbackThenGenuineReplacesPlaceholder(t *testing.T) {
	st := newSpyStore()
	a := failing("a", reliability.KindTimeout)
	b := failing("b", reliability.KindAuthFailure)
	g := newTestGenerator(st, a, b)
	ctx := context.Background()
	req := Request{ConversationKey: "c1", Transcript: twoLineTranscript}

	res, err := g.Generate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, res.Source)
	assert.True(t, res.Placeholder)
	assert.Equal(t, "Time flows like river's song", res.Text)

	rec, err := st.Store.Get(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, rec.Placeholder)

	// A placeholder is never served from cache, so the next call retries providers.
	a.err = nil
	a.text = "The finish line remembers you"
	res, err = g.Generate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, SourceProviderA, res.Source)
	assert.EqualValues(t, 2, a.calls.Load())

	rec, err = st.Store.Get(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, rec.Placeholder)
	assert.Equal(t, "The finish line remembers you", rec.Text)
}

func TestGenerateFallbackNeverDowngradesGenuineRecord(t *testing.T) {
	st := newSpyStore()
	ctx := context.Background()
	_, err := st.Store.Put(ctx, store.Record{
		Key:       "c1",
		Text:      "Old light on a new road",
		Origin:    store.OriginProviderA,
		CreatedAt: time.Now().UTC(),
	}, store.WriteIfAbsent)
	require.NoError(t, err)

	g := newTestGenerator(st, failing("a", reliability.KindUnknown))
	res, err := g.Generate(ctx, Request{ConversationKey: "c1", Transcript: twoLineTranscript, ForceRegenerate: true})
	require.NoError(t, err)
	assert.Equal(t, SourceCache, res.Source)
	assert.Equal(t, "Old light on a new road", res.Text)
	assert.False(t, res.Placeholder)

	rec, err := st.Store.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Old light on a new road", rec.Text)
}

func TestGenerateReplacesUnflaggedCannedPhrase(t *testing.T) {
	for _, text := range []string{"Time flows like river's song", SparsePhrase} {
		t.Run(text, func(t *testing.T) {
			st := newSpyStore()
			ctx := context.Background()
			_, err := st.Store.Put(ctx, store.Record{
				Key:       "c1",
				Text:      text,
				CreatedAt: time.Now().UTC(),
			}, store.WriteIfAbsent)
			require.NoError(t, err)

			a := &fakeProvider{name: "a", text: "A real line at last"}
			g := newTestGenerator(st, a)
			res, err := g.Generate(ctx, Request{ConversationKey: "c1", Transcript: twoLineTranscript})
			require.NoError(t, err)
			assert.Equal(t, SourceProviderA, res.Source)
			assert.Equal(t, "A real line at last", res.Text)
			assert.EqualValues(t, 1, a.calls.Load())

			rec, err := st.Store.Get(ctx, "c1")
			require.NoError(t, err)
			assert.Equal(t, "A real line at last", rec.Text)
			assert.False(t, rec.Placeholder)

			res, err = g.Generate(ctx, Request{ConversationKey: "c1", Transcript: twoLineTranscript})
			require.NoError(t, err)
			assert.Equal(t, SourceCache, res.Source)
			assert.EqualValues(t, 1, a.calls.Load())
		})
	}
}

func TestGenerateFallbackOverUnflaggedCannedPhraseIsNotACacheHit(t *testing.T) {
	st := newSpyStore()
	ctx := context.Background()
	_, err := st.Store.Put(ctx, store.Record{Key: "c1", Text: "Time flows like river's song"}, store.WriteIfAbsent)
	require.NoError(t, err)

	g := newTestGenerator(st, failing("a", reliability.KindTimeout))
	res, err := g.Generate(ctx, Request{ConversationKey: "c1", Transcript: twoLineTranscript})
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, res.Source)
	assert.True(t, res.Placeholder)
}

func TestGenerateForceOverwrites(t *testing.T) {
	st := newSpyStore()
	a := &fakeProvider{name: "a", text: "First words of the morning"}
	g := newTestGenerator(st, a)
	ctx := context.Background()
	req := Request{ConversationKey: "c1", Transcript: twoLineTranscript}

	_, err := g.Generate(ctx, req)
	require.NoError(t, err)

	a.text = "Second thoughts bloom at dusk"
	req.ForceRegenerate = true
	res, err := g.Generate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, SourceProviderA, res.Source)
	assert.Equal(t, "Second thoughts bloom at dusk", res.Text)

	rec, err := st.Store.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Second thoughts bloom at dusk", rec.Text)
}

func TestGenerateSingleFlightPerKey(t *testing.T) {
	st := newSpyStore()
	a := &fakeProvider{
		name:    "a",
		text:    "Many voices, one quiet answer",
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	g := newTestGenerator(st, a)
	req := Request{ConversationKey: "shared", Transcript: twoLineTranscript}

	const callers = 12
	var wg sync.WaitGroup
	results := make([]Result, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = g.Generate(context.Background(), req)
		}(i)
	}

	<-a.started
	time.Sleep(20 * time.Millisecond)
	close(a.release)
	wg.Wait()

	assert.EqualValues(t, 1, a.calls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "Many voices, one quiet answer", results[i].Text)
	}
	rec, err := st.Store.Get(context.Background(), "shared")
	require.NoError(t, err)
	assert.Equal(t, "Many voices, one quiet answer", rec.Text)
}

func TestGenerateForcedCallerDoesNotJoinUnforcedFlight(t *testing.T) {
	st := newSpyStore()
	a := &fakeProvider{
		name:    "a",
		text:    "Fresh ink on an old page",
		release: make(chan struct{}),
	}
	g := newTestGenerator(st, a)
	req := Request{ConversationKey: "c1", Transcript: twoLineTranscript}

	unforced := make(chan Result, 1)
	go func() {
		res, _ := g.Generate(context.Background(), req)
		unforced <- res
	}()
	require.Eventually(t, func() bool { return a.calls.Load() == 1 }, time.Second, time.Millisecond)

	forced := make(chan Result, 1)
	go func() {
		r := req
		r.ForceRegenerate = true
		res, _ := g.Generate(context.Background(), r)
		forced <- res
	}()
	require.Eventually(t, func() bool { return a.calls.Load() == 2 }, time.Second, time.Millisecond)
	close(a.release)

	res := <-forced
	assert.Equal(t, SourceProviderA, res.Source)
	assert.Equal(t, "Fresh ink on an old page", res.Text)
	assert.Equal(t, "Fresh ink on an old page", (<-unforced).Text)
}

func TestGenerateHungStoreReleasesFlight(t *testing.T) {
	st := newSpyStore()
	st.hangPut.Store(true)
	a := &fakeProvider{name: "a", text: "Still here after the stall"}
	g := NewGenerator(st, []provider.Provider{a}, nil, nil, zerolog.Nop(), Options{FlightTimeout: 50 * time.Millisecond})
	req := Request{ConversationKey: "c1", Transcript: twoLineTranscript}

	done := make(chan Result, 1)
	go func() {
		res, _ := g.Generate(context.Background(), req)
		done <- res
	}()
	select {
	case res := <-done:
		assert.Equal(t, "Still here after the stall", res.Text)
		assert.Equal(t, SourceProviderA, res.Source)
	case <-time.After(2 * time.Second):
		t.Fatal("flight did not give up on the hung store")
	}

	st.hangPut.Store(false)
	_, err := g.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.EqualValues(t, 2, a.calls.Load())
	rec, err := st.Store.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "Still here after the stall", rec.Text)
}

func TestNewGeneratorDerivesFlightBudget(t *testing.T) {
	a := &fakeProvider{name: "a"}
	b := &fakeProvider{name: "b"}
	g := NewGenerator(newSpyStore(), []provider.Provider{a, b}, nil, nil, zerolog.Nop(), Options{ProviderTimeout: 3 * time.Second})
	assert.Equal(t, 6*time.Second+storeBudget, g.opts.FlightTimeout)

	g = NewGenerator(newSpyStore(), nil, nil, nil, zerolog.Nop(), Options{})
	assert.Equal(t, defaultProviderTimeout+storeBudget, g.opts.FlightTimeout)
}

func TestGenerateCallerCancelLeavesFlightRunning(t *testing.T) {
	st := newSpyStore()
	a := &fakeProvider{
		name:    "a",
		text:    "Patience writes the final line",
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	g := newTestGenerator(st, a)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := g.Generate(ctx, Request{ConversationKey: "c1", Transcript: twoLineTranscript})
		done <- err
	}()
	<-a.started
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	close(a.release)
	require.Eventually(t, func() bool {
		rec, err := st.Store.Get(context.Background(), "c1")
		return err == nil && rec.Text == "Patience writes the final line"
	}, time.Second, 5*time.Millisecond)
}

func TestGenerateNormalizesLongOutput(t *testing.T) {
	words := make([]string, 40)
	for i := range words {
		words[i] = fmt.Sprintf("word%d", i)
	}
	a := &fakeProvider{name: "a", text: strings.Join(words, " ")}
	g := newTestGenerator(newSpyStore(), a)

	res, err := g.Generate(context.Background(), Request{ConversationKey: "c1", Transcript: twoLineTranscript})
	require.NoError(t, err)
	assert.Len(t, strings.Fields(res.Text), DefaultMaxWords)
	assert.Equal(t, "word0 word1 word2 word3 word4 word5 word6 word7", res.Text)
}

func TestGenerateSparseTranscriptShortCircuits(t *testing.T) {
	st := newSpyStore()
	a := &fakeProvider{name: "a", text: "never used"}
	g := newTestGenerator(st, a)

	res, err := g.Generate(context.Background(), Request{ConversationKey: "c1", Transcript: "Alice: hi\nBob:\n\n"})
	require.NoError(t, err)
	assert.Equal(t, SparsePhrase, res.Text)
	assert.Equal(t, SourceDefault, res.Source)
	assert.True(t, res.Placeholder)
	assert.Zero(t, a.calls.Load())
	assert.Zero(t, st.gets.Load())
	assert.Zero(t, st.puts.Load())
}

func TestGenerateMinLinesThreshold(t *testing.T) {
	a := &fakeProvider{name: "a", text: "Two voices were enough"}
	g := newTestGenerator(newSpyStore(), a)
	res, err := g.Generate(context.Background(), Request{ConversationKey: "c1", Transcript: twoLineTranscript})
	require.NoError(t, err)
	assert.Equal(t, SourceProviderA, res.Source)

	strict := NewGenerator(newSpyStore(), []provider.Provider{a}, nil, nil, zerolog.Nop(), Options{MinLines: 3})
	res, err = strict.Generate(context.Background(), Request{ConversationKey: "c1", Transcript: twoLineTranscript})
	require.NoError(t, err)
	assert.Equal(t, SourceDefault, res.Source)
	assert.Equal(t, SparsePhrase, res.Text)
	assert.EqualValues(t, 1, a.calls.Load())
}

func TestGenerateLabelOnlyTranscriptUsesPool(t *testing.T) {
	st := newSpyStore()
	a := &fakeProvider{name: "a", text: "never used"}
	g := newTestGenerator(st, a)

	res, err := g.Generate(context.Background(), Request{ConversationKey: "c1", Transcript: "Alice:\nBob:  \n"})
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, res.Source)
	assert.True(t, g.pool.Contains(res.Text))
	assert.Zero(t, a.calls.Load())
	assert.Zero(t, st.puts.Load())
}

func TestGenerateValidation(t *testing.T) {
	st := newSpyStore()
	a := &fakeProvider{name: "a", text: "never used"}
	g := newTestGenerator(st, a)

	cases := []Request{
		{ConversationKey: "", Transcript: twoLineTranscript},
		{ConversationKey: "   ", Transcript: twoLineTranscript},
		{ConversationKey: "a/b", Transcript: twoLineTranscript},
		{ConversationKey: strings.Repeat("k", 300), Transcript: twoLineTranscript},
		{ConversationKey: "c1", Transcript: "  \n "},
	}
	for _, req := range cases {
		_, err := g.Generate(context.Background(), req)
		assert.ErrorIs(t, err, ErrInvalidRequest, "key=%q", req.ConversationKey)
	}
	assert.Zero(t, a.calls.Load())
	assert.Zero(t, st.gets.Load())
	assert.Zero(t, st.puts.Load())
}

func TestGenerateStoreFailuresStillServeText(t *testing.T) {
	st := newSpyStore()
	st.getErr = errors.New("store offline")
	st.putErr = errors.New("store offline")
	a := &fakeProvider{name: "a", text: "Words survive a broken shelf"}
	g := newTestGenerator(st, a)

	res, err := g.Generate(context.Background(), Request{ConversationKey: "c1", Transcript: twoLineTranscript})
	require.NoError(t, err)
	assert.Equal(t, SourceProviderA, res.Source)
	assert.Equal(t, "Words survive a broken shelf", res.Text)
}

func TestGenerateRedactsTranscriptBeforeProviders(t *testing.T) {
	a := &fakeProvider{name: "a", text: "Reaching out across the wire"}
	g := newTestGenerator(newSpyStore(), a)

	_, err := g.Generate(context.Background(), Request{
		ConversationKey: "c1",
		Transcript:      "Alice: write me at alice@example.com\nBob: sure, will do",
	})
	require.NoError(t, err)
	seen, _ := a.seen.Load().(string)
	assert.NotContains(t, seen, "alice@example.com")
	assert.Contains(t, seen, "[email]")
}

func TestLookupSkipsInvalidKeys(t *testing.T) {
	st := newSpyStore()
	a := &fakeProvider{name: "a", text: "Found again in the archive"}
	g := newTestGenerator(st, a)
	ctx := context.Background()

	_, err := g.Generate(ctx, Request{ConversationKey: "c1", Transcript: twoLineTranscript})
	require.NoError(t, err)

	recs, err := g.Lookup(ctx, []string{" c1 ", "", "a/b", "c2"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "c1", recs[0].Key)

	_, err = g.Get(ctx, "c2")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = g.Get(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
