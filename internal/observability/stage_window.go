package observability

import (
	"maps"
	"math"
	"slices"
	"strings"
	"sync"
	"time"
)

// StageStats summarizes recent latencies of one pipeline stage.
type StageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
}

type Indicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type StageSnapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	WindowSize  int          `json:"window_size"`
	Stages      []StageStats `json:"stages"`
	Indicators  []Indicator  `json:"indicators,omitempty"`
}

// Pipeline stages with a p95 budget in milliseconds. Provider stages are
// named "provider:<name>" and share one budget.
const (
	stageCacheLookup = "cache_lookup"
	stagePersist     = "persist"
	stageTotal       = "total"
	stageProvider    = "provider:"

	providerTargetMS = 6000
)

var stageTargets = map[string]float64{
	stageCacheLookup: 50,
	stagePersist:     150,
	stageTotal:       12000,
}

func targetFor(stage string) float64 {
	if strings.HasPrefix(stage, stageProvider) {
		return providerTargetMS
	}
	return stageTargets[stage]
}

// stageSeries is the sliding sample window of one stage, oldest first.
type stageSeries struct {
	target  float64
	samples []float64
}

func (s *stageSeries) push(ms float64, limit int) {
	if len(s.samples) == limit {
		s.samples = append(s.samples[:0], s.samples[1:]...)
	}
	s.samples = append(s.samples, ms)
}

func (s *stageSeries) stats(name string) StageStats {
	n := len(s.samples)
	sorted := slices.Sorted(slices.Values(s.samples))
	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	return StageStats{
		Stage:       name,
		Samples:     n,
		LastMS:      round2(s.samples[n-1]),
		AvgMS:       round2(sum / float64(n)),
		P50MS:       round2(nearestRank(sorted, 0.50)),
		P95MS:       round2(nearestRank(sorted, 0.95)),
		P99MS:       round2(nearestRank(sorted, 0.99)),
		TargetP95MS: s.target,
	}
}

// summaryStages tracks the pipeline's stage latencies and how responses were
// served. The source and shared-flight tallies are reported as indicators.
type summaryStages struct {
	mu      sync.Mutex
	limit   int
	series  map[string]*stageSeries
	sources map[string]int
	shared  int
}

func newSummaryStages(limit int) *summaryStages {
	if limit <= 0 {
		limit = 256
	}
	return &summaryStages{
		limit:   limit,
		series:  make(map[string]*stageSeries),
		sources: make(map[string]int),
	}
}

func (s *summaryStages) observe(stage string, ms float64) {
	if stage == "" || ms < 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	series, ok := s.series[stage]
	if !ok {
		series = &stageSeries{target: targetFor(stage), samples: make([]float64, 0, s.limit)}
		s.series[stage] = series
	}
	series.push(ms, s.limit)
}

func (s *summaryStages) served(source string) {
	if source == "" {
		return
	}
	s.mu.Lock()
	s.sources[source]++
	s.mu.Unlock()
}

func (s *summaryStages) sharedFlight() {
	s.mu.Lock()
	s.shared++
	s.mu.Unlock()
}

func (s *summaryStages) snapshot() StageSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StageSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  s.limit,
		Stages:      make([]StageStats, 0, len(s.series)),
	}
	for _, name := range slices.Sorted(maps.Keys(s.series)) {
		if series := s.series[name]; len(series.samples) > 0 {
			snap.Stages = append(snap.Stages, series.stats(name))
		}
	}
	for _, source := range slices.Sorted(maps.Keys(s.sources)) {
		snap.Indicators = append(snap.Indicators, Indicator{Name: "source:" + source, Count: s.sources[source]})
	}
	if s.shared > 0 {
		snap.Indicators = append(snap.Indicators, Indicator{Name: "shared_flight", Count: s.shared})
	}
	return snap
}

// nearestRank picks the smallest sample with at least q of the window at or below it.
func nearestRank(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(q * float64(len(sorted))))
	return sorted[min(max(rank, 1), len(sorted))-1]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
