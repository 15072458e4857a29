// Command loadgen drives synthetic job traffic against a running backend.
// It submits action jobs at a fixed rate and reports latency percentiles and
// the rejection mix, which is the quickest way to watch the rate governor and
// dedup layer behave under pressure.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

type options struct {
	baseURL     string
	workers     int
	rate        float64
	duration    time.Duration
	dedupRatio  float64
	listingID   string
	kinds       string
	httpTimeout time.Duration
}

type apiResponse struct {
	Success bool `json:"success"`
	Data    struct {
		JobID string `json:"job_id"`
	} `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type stats struct {
	mu        sync.Mutex
	latencies []time.Duration

	sent     atomic.Int64
	accepted atomic.Int64
	rejected atomic.Int64
	failed   atomic.Int64

	rejectionsByCode sync.Map // code -> *atomic.Int64
}

func (s *stats) record(latency time.Duration) {
	s.mu.Lock()
	s.latencies = append(s.latencies, latency)
	s.mu.Unlock()
}

func (s *stats) countRejection(code string) {
	v, _ := s.rejectionsByCode.LoadOrStore(code, new(atomic.Int64))
	v.(*atomic.Int64).Add(1)
}

func (s *stats) percentile(p float64) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.latencies) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(s.latencies))
	copy(sorted, s.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

func main() {
	opts := parseFlags()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, timeout := context.WithTimeout(ctx, opts.duration)
	defer timeout()

	client := &http.Client{Timeout: opts.httpTimeout}
	st := &stats{}

	kinds := splitKinds(opts.kinds)
	if len(kinds) == 0 {
		fmt.Fprintln(os.Stderr, "no valid job kinds given")
		os.Exit(1)
	}

	interval := time.Duration(float64(time.Second) / opts.rate)
	ticks := make(chan struct{}, opts.workers)

	var wg sync.WaitGroup
	for i := 0; i < opts.workers; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for range ticks {
				submit(ctx, client, opts, kinds, rng, st)
			}
		}(time.Now().UnixNano() + int64(i))
	}

	start := time.Now()
	ticker := time.NewTicker(interval)
feed:
	for {
		select {
		case <-ctx.Done():
			break feed
		case <-ticker.C:
			select {
			case ticks <- struct{}{}:
			default: // all workers busy; drop the tick rather than queue
			}
		}
	}
	ticker.Stop()
	close(ticks)
	wg.Wait()

	report(st, time.Since(start))
}

func parseFlags() options {
	var opts options
	flag.StringVar(&opts.baseURL, "url", "http://localhost:8080", "Base URL of the backend")
	flag.IntVar(&opts.workers, "workers", 8, "Concurrent submitters")
	flag.Float64Var(&opts.rate, "rate", 10, "Target submissions per second")
	flag.DurationVar(&opts.duration, "duration", 30*time.Second, "Run duration")
	flag.Float64Var(&opts.dedupRatio, "dedup-ratio", 0.2, "Fraction of submissions reusing a dedup key")
	flag.StringVar(&opts.listingID, "listing", "", "Target listing ID (required for listing-bound kinds)")
	flag.StringVar(&opts.kinds, "kinds", "BUMP,FOLLOW,MESSAGE", "Comma-separated job kinds to submit")
	flag.DurationVar(&opts.httpTimeout, "timeout", 10*time.Second, "Per-request HTTP timeout")
	flag.Parse()

	if opts.rate <= 0 || opts.workers <= 0 {
		fmt.Fprintln(os.Stderr, "rate and workers must be positive")
		os.Exit(1)
	}
	return opts
}

func splitKinds(s string) []string {
	var kinds []string
	for _, k := range bytes.Split([]byte(s), []byte(",")) {
		kind := string(bytes.TrimSpace(k))
		if kind != "" {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

func submit(ctx context.Context, client *http.Client, opts options, kinds []string, rng *rand.Rand, st *stats) {
	kind := kinds[rng.Intn(len(kinds))]

	body := map[string]any{
		"kind": kind,
	}
	if opts.listingID != "" {
		body["listing_id"] = opts.listingID
	}
	switch kind {
	case "FOLLOW":
		body["payload"] = map[string]string{"target": fmt.Sprintf("user-%d", rng.Intn(1000))}
	case "MESSAGE":
		body["payload"] = map[string]string{
			"recipient": fmt.Sprintf("buyer-%d", rng.Intn(1000)),
			"text":      "loadgen probe",
		}
	}
	if rng.Float64() < opts.dedupRatio {
		// A small key space forces dedup collisions on purpose
		body["dedup_key"] = fmt.Sprintf("loadgen-%s-%d", kind, rng.Intn(16))
	}

	payload, err := json.Marshal(body)
	if err != nil {
		st.failed.Add(1)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, opts.baseURL+"/api/v1/jobs", bytes.NewReader(payload))
	if err != nil {
		st.failed.Add(1)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	st.sent.Add(1)
	begin := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		st.failed.Add(1)
		return
	}
	defer resp.Body.Close()
	st.record(time.Since(begin))

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		st.failed.Add(1)
		return
	}

	if out.Success {
		st.accepted.Add(1)
		return
	}
	st.rejected.Add(1)
	if out.Error != nil {
		st.countRejection(out.Error.Code)
	}
}

func report(st *stats, elapsed time.Duration) {
	sent := st.sent.Load()
	fmt.Printf("\n--- loadgen report ---\n")
	fmt.Printf("elapsed:   %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("sent:      %d (%.1f/s)\n", sent, float64(sent)/elapsed.Seconds())
	fmt.Printf("accepted:  %d\n", st.accepted.Load())
	fmt.Printf("rejected:  %d\n", st.rejected.Load())
	fmt.Printf("failed:    %d\n", st.failed.Load())
	fmt.Printf("latency:   p50=%s p95=%s p99=%s\n",
		st.percentile(0.50).Round(time.Millisecond),
		st.percentile(0.95).Round(time.Millisecond),
		st.percentile(0.99).Round(time.Millisecond),
	)
	st.rejectionsByCode.Range(func(key, value any) bool {
		fmt.Printf("  %s: %d\n", key, value.(*atomic.Int64).Load())
		return true
	})
}
