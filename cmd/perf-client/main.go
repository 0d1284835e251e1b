package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"connectrpc.com/connect"
	"github.com/sethvargo/go-envconfig"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/kkkkikiki/leadpool/internal/rpc"
)

// perfConfig is read from PERF_* environment variables
type perfConfig struct {
	BaseURL    string        `env:"BASE_URL,default=http://localhost:8080"`
	AdminToken string        `env:"ADMIN_TOKEN"`
	Identities int           `env:"IDENTITIES,default=2000"`
	Batches    int           `env:"BATCHES,default=1000"`
	BatchSize  int           `env:"BATCH_SIZE,default=10"`
	Workers    int           `env:"WORKERS,default=50"`
	RPS        int           `env:"RPS,default=700"`
	Timeout    time.Duration `env:"TIMEOUT,default=30s"`
	Seed       bool          `env:"SEED,default=true"`
}

// PerfResult gathers aggregated counters for the run.
// Set SERVER_PUBLIC_RPS=0 on the server, or its per-address limit shows up here as errors.
type PerfResult struct {
	TotalRequests int64
	SuccessCount  int64
	DeniedCount   int64
	ErrorCount    int64
}

type grantLog struct {
	mu        sync.Mutex
	byBatch   map[int][]string
	denials   map[string]int
	latencies []time.Duration
}

func (g *grantLog) record(identity string, batch int, reason string, latency time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.latencies = append(g.latencies, latency)
	if reason != "" {
		g.denials[reason]++
		return
	}
	g.byBatch[batch] = append(g.byBatch[batch], identity)
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.Workers * 4,
		MaxIdleConnsPerHost: cfg.Workers * 4,
		IdleConnTimeout:     90 * time.Second,
	}
	httpClient := &http.Client{Transport: transport, Timeout: cfg.Timeout}

	if cfg.Seed {
		if err := seed(httpClient, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "failed to seed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("seeded %d identities and %d batches\n", cfg.Identities, cfg.Batches)
	}

	client := rpc.NewLeadServiceClient(httpClient, cfg.BaseURL)

	fmt.Println("==========================================")
	fmt.Println("leadpool redeem load test")
	fmt.Println("==========================================")
	fmt.Printf("target     : %s\n", cfg.BaseURL)
	fmt.Printf("identities : %d\n", cfg.Identities)
	fmt.Printf("workers    : %d\n", cfg.Workers)
	fmt.Printf("RPS        : %d\n", cfg.RPS)
	fmt.Println("==========================================")

	burst := cfg.RPS / cfg.Workers
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(cfg.RPS), burst)

	ids := make(chan string)
	var result PerfResult
	grants := &grantLog{byBatch: make(map[int][]string), denials: make(map[string]int)}

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		defer close(ids)
		for i := 0; i < cfg.Identities; i++ {
			select {
			case ids <- identityName(i):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})
	for w := 0; w < cfg.Workers; w++ {
		g.Go(func() error {
			for id := range ids {
				if err := limiter.Wait(ctx); err != nil {
					return err
				}
				doRedeem(ctx, client, id, cfg.Timeout, &result, grants)
			}
			return nil
		})
	}

	start := time.Now()
	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "load test aborted: %v\n", err)
		os.Exit(1)
	}
	report(time.Since(start), &result, grants)

	fmt.Println("==========================================")
	fmt.Println("consistency check")
	fmt.Println("==========================================")
	if err := verify(cfg, &result, grants); err != nil {
		fmt.Printf("FAILED: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("OK: every batch was handed out at most once")
}

// loadConfig reads PERF_* so the variables do not collide with the server's own
func loadConfig() (perfConfig, error) {
	var cfg perfConfig
	if err := envconfig.ProcessWith(context.Background(), &envconfig.Config{
		Target:   &cfg,
		Lookuper: envconfig.PrefixLookuper("PERF_", envconfig.OsLookuper()),
	}); err != nil {
		return cfg, err
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.RPS < 1 {
		cfg.RPS = 1
	}
	return cfg, nil
}

func identityName(i int) string {
	return fmt.Sprintf("perf-%06d", i)
}

// seed replaces the whitelist and pool through the admin service
func seed(httpClient *http.Client, cfg perfConfig) error {
	admin := rpc.NewAdminServiceClient(httpClient, cfg.BaseURL, cfg.AdminToken)
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	var ids strings.Builder
	for i := 0; i < cfg.Identities; i++ {
		ids.WriteString(identityName(i))
		ids.WriteByte('\n')
	}
	if _, err := admin.ImportWhitelist(ctx, connect.NewRequest(&rpc.ImportWhitelistRequest{Raw: ids.String()})); err != nil {
		return fmt.Errorf("import whitelist: %w", err)
	}

	var phones strings.Builder
	for i := 0; i < cfg.Batches*cfg.BatchSize; i++ {
		fmt.Fprintf(&phones, "139%08d\n", i)
	}
	sum, err := admin.RebuildPool(ctx, connect.NewRequest(&rpc.RebuildPoolRequest{Raw: phones.String()}))
	if err != nil {
		return fmt.Errorf("rebuild pool: %w", err)
	}
	if sum.Msg.Batches != cfg.Batches {
		return fmt.Errorf("server built %d batches, expected %d (REDEEM_BATCH_SIZE differs from PERF_BATCH_SIZE?)", sum.Msg.Batches, cfg.Batches)
	}
	return nil
}

// doRedeem performs a single Redeem RPC and records the outcome
func doRedeem(parent context.Context, client *rpc.LeadServiceClient, identity string, timeout time.Duration, result *PerfResult, grants *grantLog) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	atomic.AddInt64(&result.TotalRequests, 1)
	start := time.Now()
	resp, err := client.Redeem(ctx, connect.NewRequest(&rpc.RedeemRequest{Identity: identity}))
	latency := time.Since(start)

	if err != nil {
		if d, ok := rpc.DenialFromError(err); ok {
			atomic.AddInt64(&result.DeniedCount, 1)
			grants.record(identity, 0, string(d.Reason), latency)
			return
		}
		atomic.AddInt64(&result.ErrorCount, 1)
		return
	}
	atomic.AddInt64(&result.SuccessCount, 1)
	grants.record(identity, resp.Msg.BatchIndex, "", latency)
}

func report(elapsed time.Duration, result *PerfResult, grants *grantLog) {
	grants.mu.Lock()
	defer grants.mu.Unlock()

	fmt.Println("==========================================")
	fmt.Println("results")
	fmt.Println("==========================================")
	fmt.Printf("elapsed      : %.2fs\n", elapsed.Seconds())
	fmt.Printf("requests     : %d\n", result.TotalRequests)
	fmt.Printf("granted      : %d\n", result.SuccessCount)
	fmt.Printf("denied       : %d\n", result.DeniedCount)
	fmt.Printf("errors       : %d\n", result.ErrorCount)
	fmt.Printf("actual RPS   : %.2f\n", float64(result.TotalRequests)/elapsed.Seconds())

	reasons := make([]string, 0, len(grants.denials))
	for r := range grants.denials {
		reasons = append(reasons, r)
	}
	slices.Sort(reasons)
	for _, r := range reasons {
		fmt.Printf("  %-24s %d\n", r, grants.denials[r])
	}

	if len(grants.latencies) > 0 {
		lat := slices.Clone(grants.latencies)
		slices.Sort(lat)
		var sum time.Duration
		for _, l := range lat {
			sum += l
		}
		fmt.Printf("avg latency  : %v\n", sum/time.Duration(len(lat)))
		fmt.Printf("p95 latency  : %v\n", lat[percentileIndex(len(lat), 0.95)])
	}
}

func percentileIndex(n int, p float64) int {
	i := int(float64(n) * p)
	if i >= n {
		i = n - 1
	}
	return i
}

// verify checks that no batch went to two identities and that grants
// never exceed the pool.
func verify(cfg perfConfig, result *PerfResult, grants *grantLog) error {
	grants.mu.Lock()
	defer grants.mu.Unlock()

	for batch, holders := range grants.byBatch {
		if len(holders) > 1 {
			return fmt.Errorf("batch %d handed to %d identities: %v", batch, len(holders), holders)
		}
	}
	if cfg.Seed && result.SuccessCount > int64(cfg.Batches) {
		return fmt.Errorf("over-allocation: granted=%d > batches=%d", result.SuccessCount, cfg.Batches)
	}
	if cfg.Seed && cfg.Identities >= cfg.Batches && result.ErrorCount == 0 && result.SuccessCount != int64(cfg.Batches) {
		return fmt.Errorf("pool not drained: granted=%d, batches=%d", result.SuccessCount, cfg.Batches)
	}
	return nil
}
