package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	rlerrors "github.com/mirkobrombin/go-redlock/v1/errors"
)

var (
	benchWorkers   int
	benchRounds    int
	benchResources int
	benchTTL       time.Duration

	benchCmd = &cobra.Command{
		Use:   "bench",
		Short: "Measure acquire and release throughput against the configured nodes",
		Args:  cobra.NoArgs,
		RunE:  runBench,
	}
)

func init() {
	benchCmd.Flags().IntVarP(&benchWorkers, "concurrency", "c", 16, "number of concurrent clients")
	benchCmd.Flags().IntVarP(&benchRounds, "requests", "n", 10000, "total number of acquire calls")
	benchCmd.Flags().IntVar(&benchResources, "resources", 64, "number of distinct resources")
	benchCmd.Flags().DurationVar(&benchTTL, "ttl", time.Second, "lock time to live")
}

func runBench(cmd *cobra.Command, _ []string) error {
	if benchWorkers < 1 || benchResources < 1 {
		return errors.New("concurrency and resources must be positive")
	}
	ctx, stop := signalContext()
	defer stop()

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	var (
		next      atomic.Int64
		acquired  atomic.Int64
		contended atomic.Int64
		failed    atomic.Int64
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, benchRounds)
		wg        sync.WaitGroup
	)

	start := time.Now()
	for w := 0; w < benchWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]time.Duration, 0, benchRounds/benchWorkers+1)
			for {
				i := next.Add(1) - 1
				if i >= int64(benchRounds) || ctx.Err() != nil {
					break
				}
				resource := fmt.Sprintf("bench:%d", i%int64(benchResources))
				t := time.Now()
				l, err := s.Acquire(ctx, resource, benchTTL)
				local = append(local, time.Since(t))
				switch {
				case err == nil:
					acquired.Add(1)
					s.Release(context.WithoutCancel(ctx), l)
				case errors.Is(err, rlerrors.ErrNotAcquired):
					contended.Add(1)
				default:
					failed.Add(1)
				}
			}
			mu.Lock()
			latencies = append(latencies, local...)
			mu.Unlock()
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	out := cmd.OutOrStdout()
	total := len(latencies)
	fmt.Fprintf(out, "nodes=%d quorum=%d requests=%d elapsed=%s\n", s.Nodes(), s.Quorum(), total, elapsed)
	fmt.Fprintf(out, "acquired=%d contended=%d failed=%d\n", acquired.Load(), contended.Load(), failed.Load())
	if total == 0 {
		return nil
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	fmt.Fprintf(out, "throughput=%.2f req/s p50=%s p99=%s max=%s\n",
		float64(total)/elapsed.Seconds(),
		latencies[total/2],
		latencies[total*99/100],
		latencies[total-1],
	)
	return nil
}
