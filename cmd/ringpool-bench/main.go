// Command ringpool-bench is a concurrent stress-and-throughput harness for
// the ring and idpool packages. It takes its configuration from stdlib
// flag, no config file, and optionally exposes a live metrics endpoint
// while the run is in progress.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"os"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/orizon-lang/ringpool/idpool"
	"github.com/orizon-lang/ringpool/metrics"
	"github.com/orizon-lang/ringpool/ring"
)

func main() {
	var (
		duration     = flag.Duration("duration", 3*time.Second, "how long to run each workload")
		ringCapacity = flag.Int("ring-capacity", 1024, "ring capacity (rounded up to a power of two, min 4)")
		producers    = flag.Int("producers", 4, "ring producer goroutines")
		consumers    = flag.Int("consumers", 4, "ring consumer goroutines")
		nbUser       = flag.Uint("idpool-users", 8, "number of idpool user caches")
		poolSize     = flag.Uint("idpool-size", 100000, "number of IDs in the pool")
		httpAddr     = flag.String("http", "", "address to serve /metrics and /debug/pprof on (empty disables)")
		jsonOutput   = flag.Bool("json", false, "print the summary as JSON instead of text")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Stress-and-throughput harness for the ring and idpool packages.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if *ringCapacity < 4 {
		*ringCapacity = 4
	}

	capacity := nextPowerOfTwo(*ringCapacity)

	r, err := ring.NewRing(make([]ring.RingSlot, capacity))
	if err != nil {
		logger.Error("failed to construct ring", "error", err)
		os.Exit(1)
	}

	pool, err := idpool.New(uint32(*nbUser), 0, uint32(*poolSize))
	if err != nil {
		logger.Error("failed to construct idpool", "error", err)
		os.Exit(1)
	}

	var shutdownHTTP func(context.Context) error

	if *httpAddr != "" {
		shutdownHTTP = serveMetrics(logger, *httpAddr, r, pool)
	}

	logger.Info("starting ring workload",
		"capacity", capacity, "producers", *producers, "consumers", *consumers, "duration", *duration)

	ringResult := runRingWorkload(r, *producers, *consumers, *duration)

	logger.Info("starting idpool workload",
		"users", *nbUser, "size", *poolSize, "duration", *duration)

	poolResult := runIdPoolWorkload(pool, int(*nbUser), *duration)

	if shutdownHTTP != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := shutdownHTTP(ctx); err != nil {
			logger.Warn("metrics server shutdown error", "error", err)
		}
	}

	printSummary(*jsonOutput, ringResult, poolResult)
}

type ringWorkloadResult struct {
	Produced uint64 `json:"produced"`
	Consumed uint64 `json:"consumed"`
}

func runRingWorkload(r *ring.Ring, producers, consumers int, duration time.Duration) ringWorkloadResult {
	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	var produced, consumed uint64

	for i := 0; i < producers; i++ {
		g.Go(func() error {
			var v uint32
			for ctx.Err() == nil {
				if r.TryEnqueue(v) {
					atomic.AddUint64(&produced, 1)
					v++
				}
			}

			return nil
		})
	}

	for i := 0; i < consumers; i++ {
		g.Go(func() error {
			var out uint32
			for ctx.Err() == nil {
				if r.TryDequeue(&out) {
					atomic.AddUint64(&consumed, 1)
				}
			}

			return nil
		})
	}

	_ = g.Wait() // workers never return non-nil errors; ctx deadline ends the run

	return ringWorkloadResult{Produced: produced, Consumed: consumed}
}

type idPoolWorkloadResult struct {
	Allocated uint64 `json:"allocated"`
	Freed     uint64 `json:"freed"`
	Exhausted uint64 `json:"exhausted"`
}

func runIdPoolWorkload(p *idpool.IdPool, workers int, duration time.Duration) idPoolWorkloadResult {
	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	var allocated, freed, exhausted uint64

	for w := 0; w < workers; w++ {
		uid := uint32(w)

		g.Go(func() error {
			var held []uint32

			for ctx.Err() == nil {
				if len(held) < 8 {
					if id, ok := p.Alloc(uid); ok {
						atomic.AddUint64(&allocated, 1)
						held = append(held, id)
					} else {
						atomic.AddUint64(&exhausted, 1)
					}
				} else {
					id := held[0]
					held = held[1:]
					p.Free(uid, id)
					atomic.AddUint64(&freed, 1)
				}
			}

			for _, id := range held {
				p.Free(uid, id)
				atomic.AddUint64(&freed, 1)
			}

			return nil
		})
	}

	_ = g.Wait()

	return idPoolWorkloadResult{Allocated: allocated, Freed: freed, Exhausted: exhausted}
}

func serveMetrics(logger *slog.Logger, addr string, r *ring.Ring, pool *idpool.IdPool) func(context.Context) error {
	ringCollector := metrics.NewRingCollector("bench", r, 200*time.Millisecond)
	poolCollector := metrics.NewPoolCollector("bench", pool, 200*time.Millisecond)

	mux := chi.NewRouter()
	mux.Handle("/metrics", promhttp.Handler())
	// pprof endpoints for profiling the harness itself. Like the pack's own
	// observability server, this must never be exposed beyond localhost.
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 3 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()

	logger.Info("serving metrics", "addr", addr)

	return func(ctx context.Context) error {
		ringCollector.Stop()
		poolCollector.Stop()

		return srv.Shutdown(ctx)
	}
}

func printSummary(asJSON bool, rr ringWorkloadResult, pr idPoolWorkloadResult) {
	if asJSON {
		fmt.Printf(
			`{"ring":{"produced":%d,"consumed":%d},"idpool":{"allocated":%d,"freed":%d,"exhausted":%d}}`+"\n",
			rr.Produced, rr.Consumed, pr.Allocated, pr.Freed, pr.Exhausted,
		)

		return
	}

	fmt.Printf("ring:   produced=%d consumed=%d\n", rr.Produced, rr.Consumed)
	fmt.Printf("idpool: allocated=%d freed=%d exhausted=%d\n", pr.Allocated, pr.Freed, pr.Exhausted)
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}

	return p
}
