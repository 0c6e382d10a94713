// Command textlsm-bench is the benchmark/stress harness described by
// the engine's spec as an external collaborator: it drives the engine
// through a mixed write/read workload (no deletes), optionally followed
// by a compaction pass, and reports throughput and latency, without
// touching any of the engine's internals directly.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"time"

	"github.com/arjunvdev/textlsm/engine"
)

// Config describes one benchmark run.
type Config struct {
	Dir          string
	NumKeys      int
	KeySize      int
	ValueSize    int
	FlushBytes   int
	WriteRatio   float64 // fraction of ops that are writes; the rest are reads
	Seed         int64
}

// Result summarizes one run's throughput and latency.
type Result struct {
	Writes, Reads, Hits, Misses int
	Elapsed                     time.Duration
	WriteLatency, ReadLatency   LatencyStats
	EngineStats                 engine.Stats
}

type LatencyStats struct {
	Min, Max, Mean, P50, P95, P99 time.Duration
}

func statsOf(samples []time.Duration) LatencyStats {
	if len(samples) == 0 {
		return LatencyStats{}
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	return LatencyStats{
		Min:  sorted[0],
		Max:  sorted[len(sorted)-1],
		Mean: sum / time.Duration(len(sorted)),
		P50:  sorted[len(sorted)*50/100],
		P95:  sorted[len(sorted)*95/100],
		P99:  sorted[min(len(sorted)*99/100, len(sorted)-1)],
	}
}

func main() {
	cfg := Config{}
	flag.StringVar(&cfg.Dir, "dir", "bench-data", "data directory for the run")
	flag.IntVar(&cfg.NumKeys, "n", 20000, "number of operations to perform")
	flag.IntVar(&cfg.KeySize, "keysize", 16, "key size in bytes")
	flag.IntVar(&cfg.ValueSize, "valuesize", 64, "value size in bytes")
	flag.IntVar(&cfg.FlushBytes, "flush", 1<<20, "memtable flush threshold in bytes")
	flag.Float64Var(&cfg.WriteRatio, "writeratio", 0.8, "fraction of operations that are writes")
	flag.Int64Var(&cfg.Seed, "seed", 1, "PRNG seed for key generation")
	compactAfter := flag.Bool("compact", true, "run a compaction pass after the workload")
	flag.Parse()

	res, err := Run(cfg, *compactAfter)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	report(cfg, res)
}

// Run drives the workload against a fresh Engine at cfg.Dir.
func Run(cfg Config, compactAfter bool) (Result, error) {
	opts := engine.DefaultOptions()
	opts.Dir = cfg.Dir
	opts.FlushThreshold = cfg.FlushBytes
	opts.MaxKeyLength = cfg.KeySize
	opts.MaxValueLength = cfg.ValueSize

	eng, err := engine.Open(opts)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = eng.Close() }()

	rng := rand.New(rand.NewSource(cfg.Seed))
	var res Result
	var writeLatencies, readLatencies []time.Duration

	start := time.Now()
	for i := 0; i < cfg.NumKeys; i++ {
		key := randomKey(rng, cfg.KeySize, cfg.NumKeys)
		if rng.Float64() < cfg.WriteRatio {
			value := randomValue(rng, cfg.ValueSize)
			t0 := time.Now()
			if err := eng.Write(key, value); err != nil {
				return Result{}, err
			}
			writeLatencies = append(writeLatencies, time.Since(t0))
			res.Writes++
			continue
		}

		t0 := time.Now()
		_, err := eng.Read(key)
		readLatencies = append(readLatencies, time.Since(t0))
		res.Reads++
		if err == nil {
			res.Hits++
		} else {
			res.Misses++
		}
	}
	if compactAfter {
		if err := eng.Compact(); err != nil {
			return Result{}, err
		}
	}
	res.Elapsed = time.Since(start)
	res.WriteLatency = statsOf(writeLatencies)
	res.ReadLatency = statsOf(readLatencies)
	res.EngineStats = eng.Stats()
	return res, nil
}

func randomKey(rng *rand.Rand, size, keyspace int) []byte {
	id := rng.Intn(keyspace)
	s := fmt.Sprintf("key-%d", id)
	return padTo([]byte(s), size)
}

func randomValue(rng *rand.Rand, size int) []byte {
	const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	out := make([]byte, size)
	for i := range out {
		out[i] = alphabet[rng.Intn(len(alphabet))]
	}
	return out
}

// padTo pads or truncates b to exactly size bytes using 'x', since the
// engine rejects keys/values above the configured maximum length.
func padTo(b []byte, size int) []byte {
	if len(b) >= size {
		return b[:size]
	}
	out := make([]byte, size)
	copy(out, b)
	for i := len(b); i < size; i++ {
		out[i] = 'x'
	}
	return out
}

func report(cfg Config, res Result) {
	fmt.Printf("textlsm-bench: %d ops in %s (%.0f ops/sec)\n",
		res.Writes+res.Reads, res.Elapsed, float64(res.Writes+res.Reads)/res.Elapsed.Seconds())
	fmt.Printf("  writes=%d reads=%d hits=%d misses=%d\n", res.Writes, res.Reads, res.Hits, res.Misses)
	fmt.Printf("  write latency: p50=%s p95=%s p99=%s max=%s\n",
		res.WriteLatency.P50, res.WriteLatency.P95, res.WriteLatency.P99, res.WriteLatency.Max)
	fmt.Printf("  read  latency: p50=%s p95=%s p99=%s max=%s\n",
		res.ReadLatency.P50, res.ReadLatency.P95, res.ReadLatency.P99, res.ReadLatency.Max)
	fmt.Printf("  engine: flushes=%d compactions=%d tombstones_applied=%d files_packed=%d\n",
		res.EngineStats.FlushCount, res.EngineStats.CompactionRuns,
		res.EngineStats.TombstonesApplied, res.EngineStats.FilesPacked)
}
