package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

type options struct {
	baseURL     string
	requests    int
	concurrency int
	keys        int
	keyPrefix   string
	force       bool
	timeout     time.Duration
	transcript  string
	verbose     bool
}

type generateRequest struct {
	ConversationKey string `json:"conversationKey"`
	Transcript      string `json:"transcript"`
	ForceRegenerate bool   `json:"forceRegenerate,omitempty"`
}

type generateResponse struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

type sample struct {
	latency time.Duration
	source  string
	err     error
}

type stageStats struct {
	Stage   string  `json:"stage"`
	Samples int     `json:"samples"`
	P50MS   float64 `json:"p50_ms"`
	P95MS   float64 `json:"p95_ms"`
}

type perfSnapshot struct {
	Stages []stageStats `json:"stages"`
}

const defaultTranscript = "Alice: I finally finished the marathon this morning.\n" +
	"Bob: That is amazing, how did the last mile feel?\n" +
	"Alice: Like my legs were made of sand, but I kept going."

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "perfsummary: %v\n", err)
		os.Exit(2)
	}
	rep, err := run(context.Background(), &http.Client{Timeout: cfg.timeout}, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "perfsummary: %v\n", err)
		os.Exit(1)
	}
	rep.print(os.Stdout)
}

func parseFlags(args []string) (options, error) {
	var cfg options
	fs := flag.NewFlagSet("perfsummary", flag.ContinueOnError)
	var timeoutMS int

	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "echoverse base URL")
	fs.IntVar(&cfg.requests, "requests", 50, "total generate requests to send")
	fs.IntVar(&cfg.concurrency, "concurrency", 10, "requests in flight at once")
	fs.IntVar(&cfg.keys, "keys", 5, "distinct conversation keys to spread requests over")
	fs.StringVar(&cfg.keyPrefix, "key-prefix", "perf", "conversation key prefix")
	fs.BoolVar(&cfg.force, "force", false, "set forceRegenerate on every request")
	fs.IntVar(&timeoutMS, "timeout-ms", 30000, "per-request timeout in milliseconds")
	fs.StringVar(&cfg.transcript, "transcript", defaultTranscript, "transcript to summarize")
	fs.BoolVar(&cfg.verbose, "verbose", false, "print each response")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.requests <= 0 {
		return options{}, fmt.Errorf("requests must be > 0")
	}
	if cfg.concurrency <= 0 {
		cfg.concurrency = 1
	}
	if cfg.keys <= 0 {
		return options{}, fmt.Errorf("keys must be > 0")
	}
	if timeoutMS < 1000 {
		timeoutMS = 1000
	}
	cfg.timeout = time.Duration(timeoutMS) * time.Millisecond
	if strings.TrimSpace(cfg.transcript) == "" {
		return options{}, fmt.Errorf("transcript must not be empty")
	}
	return cfg, nil
}

type report struct {
	total    int
	failures int
	sources  map[string]int
	p50      time.Duration
	p95      time.Duration
	max      time.Duration
	stages   []stageStats
}

func run(ctx context.Context, client *http.Client, cfg options) (report, error) {
	jobs := make(chan int)
	results := make(chan sample, cfg.requests)

	var wg sync.WaitGroup
	for w := 0; w < cfg.concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				key := fmt.Sprintf("%s-%d", cfg.keyPrefix, i%cfg.keys)
				s := generateOnce(ctx, client, cfg, key)
				if cfg.verbose {
					if s.err != nil {
						fmt.Printf("perfsummary: key=%s err=%v\n", key, s.err)
					} else {
						fmt.Printf("perfsummary: key=%s source=%s latency=%s\n", key, s.source, s.latency)
					}
				}
				results <- s
			}
		}()
	}
	for i := 0; i < cfg.requests; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	close(results)

	rep := report{sources: map[string]int{}}
	var latencies []time.Duration
	for s := range results {
		rep.total++
		if s.err != nil {
			rep.failures++
			continue
		}
		rep.sources[s.source]++
		latencies = append(latencies, s.latency)
	}
	rep.p50 = percentile(latencies, 0.50)
	rep.p95 = percentile(latencies, 0.95)
	if len(latencies) > 0 {
		rep.max = latencies[len(latencies)-1]
	}

	stages, err := fetchStages(ctx, client, cfg.baseURL)
	if err != nil {
		return rep, fmt.Errorf("fetch stage window: %w", err)
	}
	rep.stages = stages
	return rep, nil
}

func generateOnce(ctx context.Context, client *http.Client, cfg options, key string) sample {
	body, err := json.Marshal(generateRequest{
		ConversationKey: key,
		Transcript:      cfg.transcript,
		ForceRegenerate: cfg.force,
	})
	if err != nil {
		return sample{err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/v1/summaries/generate", bytes.NewReader(body))
	if err != nil {
		return sample{err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	res, err := client.Do(req)
	if err != nil {
		return sample{err: err}
	}
	defer res.Body.Close()
	elapsed := time.Since(start)
	if res.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return sample{err: fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(raw)))}
	}
	var out generateResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return sample{err: fmt.Errorf("decode response: %w", err)}
	}
	return sample{latency: elapsed, source: out.Source}
}

func fetchStages(ctx context.Context, client *http.Client, baseURL string) ([]stageStats, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/perf/summary", nil)
	if err != nil {
		return nil, err
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", res.StatusCode)
	}
	var snap perfSnapshot
	if err := json.NewDecoder(res.Body).Decode(&snap); err != nil {
		return nil, err
	}
	return snap.Stages, nil
}

// percentile sorts values in place.
func percentile(values []time.Duration, q float64) time.Duration {
	if len(values) == 0 {
		return 0
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	idx := int(q*float64(len(values)-1) + 0.5)
	if idx >= len(values) {
		idx = len(values) - 1
	}
	return values[idx]
}

func (r report) print(w io.Writer) {
	fmt.Fprintf(w, "requests=%d failures=%d p50=%s p95=%s max=%s\n", r.total, r.failures, r.p50, r.p95, r.max)
	sources := make([]string, 0, len(r.sources))
	for s := range r.sources {
		sources = append(sources, s)
	}
	sort.Strings(sources)
	for _, s := range sources {
		fmt.Fprintf(w, "  source %-10s %d\n", s, r.sources[s])
	}
	for _, st := range r.stages {
		fmt.Fprintf(w, "  stage  %-20s samples=%d p50=%.1fms p95=%.1fms\n", st.Stage, st.Samples, st.P50MS, st.P95MS)
	}
}
