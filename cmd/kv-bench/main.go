package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/loganszeto/phoenixkv/internal/client"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:6969", "server address")
	threads := flag.Int("threads", 10, "connections, one goroutine each")
	ops := flag.Int("ops", 10000, "total operations")
	ratioGet := flag.Float64("ratio_get", 0.8, "lookup ratio")
	batch := flag.Int("batch", 1, "keys per request; >1 uses the bulk commands")
	valueSize := flag.Int("value_size", 128, "value size bytes")
	ttl := flag.Duration("ttl", 0, "ttl for inserted keys (0 = none)")
	flag.Parse()

	if *threads <= 0 || *batch <= 0 {
		fmt.Fprintln(os.Stderr, "threads and batch must be > 0")
		os.Exit(1)
	}

	value := strings.Repeat("x", *valueSize)
	keys := make([]string, 1000)
	for i := range keys {
		keys[i] = fmt.Sprintf("key:%d", i)
	}

	var opsDone atomic.Int64
	latCh := make(chan time.Duration, *ops)

	ctx := context.Background()
	g, ctx := errgroup.WithContext(ctx)
	start := time.Now()
	for i := 0; i < *threads; i++ {
		id := i
		g.Go(func() error {
			c, err := client.Dial(ctx, *addr)
			if err != nil {
				return err
			}
			defer c.Close()
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)))
			for {
				idx := int(opsDone.Add(1)) - 1
				if idx >= *ops {
					return nil
				}
				picked := make([]string, *batch)
				for j := range picked {
					picked[j] = keys[rng.Intn(len(keys))]
				}
				doGet := rng.Float64() < *ratioGet
				startOp := time.Now()
				if err := runOp(ctx, c, picked, value, *ttl, doGet); err != nil {
					return err
				}
				latCh <- time.Since(startOp)
			}
		})
	}

	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "bench: %v\n", err)
	}
	close(latCh)

	elapsed := time.Since(start)
	totalOps := min(opsDone.Load(), int64(*ops))

	var lats []time.Duration
	for d := range latCh {
		lats = append(lats, d)
	}
	printSummary(os.Stdout, message.NewPrinter(language.English), totalOps, elapsed, lats)
}

func runOp(ctx context.Context, c *client.Client, keys []string, value string, ttl time.Duration, doGet bool) error {
	var err error
	switch {
	case doGet && len(keys) == 1:
		_, err = c.Lookup(ctx, keys[0])
	case doGet:
		_, err = c.LookupMany(ctx, keys)
	case len(keys) == 1:
		_, err = c.Insert(ctx, keys[0], value, ttl)
	default:
		values := make([]any, len(keys))
		ttls := make([]time.Duration, len(keys))
		for i := range keys {
			values[i] = value
			ttls[i] = ttl
		}
		_, err = c.InsertMany(ctx, keys, values, ttls)
	}
	return err
}

// printSummary writes counts with the printer's digit grouping.
func printSummary(w io.Writer, p *message.Printer, totalOps int64, elapsed time.Duration, lats []time.Duration) {
	p.Fprintf(w, "Total ops: %d\n", totalOps)
	p.Fprintf(w, "Elapsed: %s\n", elapsed)
	p.Fprintf(w, "Ops/sec: %.2f\n", float64(totalOps)/elapsed.Seconds())
	if len(lats) == 0 {
		p.Fprintln(w, "No latency samples")
		return
	}
	slices.Sort(lats)
	p.Fprintf(w, "p50: %s\n", percentile(lats, 50))
	p.Fprintf(w, "p95: %s\n", percentile(lats, 95))
	p.Fprintf(w, "p99: %s\n", percentile(lats, 99))
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, p int) time.Duration {
	return sorted[len(sorted)*p/100]
}
