package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/jwt"
	"github.com/MrEthical07/authgate/metrics/export/prometheus"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// identity is an in-process identity service. Every call to revoke invalidates the current
// access token so the next burst of requests is denied together.
type identity struct {
	issuer *jwt.Issuer
	delay  time.Duration

	mu     sync.RWMutex
	access string

	refreshCalls atomic.Int64
	afCalls      atomic.Int64
}

func (s *identity) revoke() {
	s.mu.Lock()
	s.access = ""
	s.mu.Unlock()
}

func (s *identity) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/anti-forgery-cookie", func(w http.ResponseWriter, r *http.Request) {
		n := s.afCalls.Add(1)
		w.Header().Set("X-CSRF-Token", fmt.Sprintf("af-%d", n))
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/auth/signin", func(w http.ResponseWriter, r *http.Request) {
		s.issue(w, "refresh-load")
	})
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		s.refreshCalls.Add(1)
		time.Sleep(s.delay)
		s.issue(w, "")
	})
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		access := s.access
		s.mu.RUnlock()
		if access == "" || r.Header.Get("Authorization") != "Bearer "+access {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"message":"Token expired"}`)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (s *identity) issue(w http.ResponseWriter, refresh string) {
	token, err := s.issuer.Issue("load-user", "member")
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	s.mu.Lock()
	s.access = token
	s.mu.Unlock()

	out := map[string]any{"token": token, "role": "member", "user": map[string]any{"id": "load-user"}}
	if refresh != "" {
		out["refresh_token"] = refresh
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func main() {
	var (
		rounds       = flag.Int("rounds", 50, "number of denial bursts")
		concurrency  = flag.Int("concurrency", 256, "requests per burst")
		ops          = flag.Int("ops", 100000, "requests in the steady phase")
		refreshDelay = flag.Duration("refresh-delay", 20*time.Millisecond, "simulated refresh endpoint latency")
		redisAddr    = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix       = flag.String("prefix", "authgate-load", "durable key prefix")
		showMetrics  = flag.Bool("metrics", false, "print client metrics in Prometheus text format")
	)
	flag.Parse()

	if *rounds <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "rounds, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		rdb     redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		cleanup = func() {
			_ = rdb.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", mr.Addr())
	} else {
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = rdb.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	issuer, err := jwt.NewIssuer(jwt.IssuerConfig{
		Key:    []byte("authgate-loadtest-signing-key"),
		Issuer: "authgate-loadtest",
		TTL:    time.Hour,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "issuer: %v\n", err)
		os.Exit(1)
	}
	id := &identity{issuer: issuer, delay: *refreshDelay}
	srv := httptest.NewServer(id.handler())
	defer srv.Close()

	cfg := authgate.DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.Storage.RedisPrefix = *prefix
	cfg.Pending.MaxQueued = *concurrency
	cfg.Pending.ReplayConcurrency = 64
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = *concurrency

	client, err := authgate.New().
		WithConfig(cfg).
		WithTransport(transport).
		WithRedis(rdb).
		WithLogger(zap.NewNop()).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build client: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	if _, err := client.SignIn(ctx, map[string]string{"email": "load@example.com", "password": "load"}); err != nil {
		fmt.Fprintf(os.Stderr, "sign-in failed: %v\n", err)
		os.Exit(1)
	}

	url := srv.URL + "/api/resource"
	burst, perRound := runBurstPhase(ctx, client, id, url, *rounds, *concurrency)
	steady := runSteadyPhase(ctx, client, url, *ops, *concurrency)

	fmt.Println("---- results ----")
	printStats("burst", burst)
	fmt.Printf("burst: refreshes=%d rounds=%d max-refreshes-per-round=%d\n", id.refreshCalls.Load(), *rounds, perRound)
	printStats("steady", steady)

	if *showMetrics {
		fmt.Println("---- metrics ----")
		fmt.Print(prometheus.NewPrometheusExporter(client).Render())
	}
}

// runBurstPhase revokes the access token and fires concurrency requests at once, rounds
// times. It returns latency stats and the highest number of refresh calls seen in one round.
func runBurstPhase(ctx context.Context, client *authgate.Client, id *identity, url string, rounds, concurrency int) (phaseStats, int64) {
	var (
		failures  int64
		latencies = make([]time.Duration, 0, rounds*concurrency)
		mu        sync.Mutex
		maxRound  int64
	)

	start := time.Now()
	for round := 0; round < rounds; round++ {
		id.revoke()
		before := id.refreshCalls.Load()

		var wg sync.WaitGroup
		gate := make(chan struct{})
		for w := 0; w < concurrency; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-gate
				d, err := doRequest(ctx, client, url)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}()
		}
		close(gate)
		wg.Wait()

		if n := id.refreshCalls.Load() - before; n > maxRound {
			maxRound = n
		}
	}
	return computeStats(time.Since(start), latencies, failures), maxRound
}

func runSteadyPhase(ctx context.Context, client *authgate.Client, url string, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				d, err := doRequest(ctx, client, url)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

func doRequest(ctx context.Context, client *authgate.Client, url string) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	t0 := time.Now()
	resp, err := client.Do(req)
	d := time.Since(t0)
	if err != nil {
		return d, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return d, fmt.Errorf("status %d", resp.StatusCode)
	}
	return d, nil
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
