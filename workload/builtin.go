package workload

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/weiihann/kvbench/backend"
	"github.com/weiihann/kvbench/harness"
	"github.com/weiihann/kvbench/stream"
)

// Params configures a built-in workload.
type Params struct {
	Records   int
	ValueSize int
	Seed      int64
	BatchSize int
	// Dataset is a JSONL dataset loaded by the load workload. When empty
	// the dataset is generated in memory.
	Dataset string
}

// DefaultParams returns parameters small enough for a quick run.
func DefaultParams() Params {
	return Params{
		Records:   100_000,
		ValueSize: 64,
		Seed:      1,
		BatchSize: 1000,
	}
}

type builder func(p Params) harness.WorkloadFunc

var registry = map[string]builder{
	"write":  Write,
	"read":   Read,
	"sorted": Sorted,
	"load":   Load,
	"query":  Query,
}

// Names returns the names of the built-in workloads, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Lookup returns the built-in workload called name bound to p.
func Lookup(name string, p Params) (harness.WorkloadFunc, error) {
	build, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown workload %q", name)
	}

	if p.Records <= 0 {
		return nil, fmt.Errorf("records must be positive, got %d", p.Records)
	}

	if p.ValueSize < 0 {
		return nil, fmt.Errorf("value size must not be negative, got %d", p.ValueSize)
	}

	if p.BatchSize <= 0 {
		p.BatchSize = DefaultParams().BatchSize
	}

	return build(p), nil
}

func seqKey(i int) []byte {
	return []byte(fmt.Sprintf("k/%010d", i))
}

// Write measures single puts: section "write", disk sample "post_write",
// throughput and put latency quantiles as info.
func Write(p Params) harness.WorkloadFunc {
	return func(ctx context.Context, b backend.Backend, s *harness.Session) error {
		if err := b.Open(ctx); err != nil {
			return err
		}

		value := bytes.Repeat([]byte{'v'}, p.ValueSize)
		lat := newLatencies()

		if err := s.Start("write"); err != nil {
			return err
		}

		for i := 0; i < p.Records; i++ {
			opStart := time.Now()

			if err := b.Put(ctx, seqKey(i), value); err != nil {
				return fmt.Errorf("put %d: %w", i, err)
			}

			if err := lat.record(time.Since(opStart)); err != nil {
				return err
			}
		}

		ms, err := s.End("write")
		if err != nil {
			return err
		}

		if err := s.DiskUsage(ctx, "post_write"); err != nil {
			return err
		}

		if err := s.Info("records_per_second", perSecond(p.Records, ms)); err != nil {
			return err
		}
		if err := s.Info("put_p50_us", lat.quantile(50)); err != nil {
			return err
		}
		if err := s.Info("put_p99_us", lat.quantile(99)); err != nil {
			return err
		}

		return b.Close()
	}
}

// Read writes distinct keys and measures one full sequential scan in
// section "reading".
func Read(p Params) harness.WorkloadFunc {
	return func(ctx context.Context, b backend.Backend, s *harness.Session) error {
		if err := b.Open(ctx); err != nil {
			return err
		}

		if err := s.Start("write"); err != nil {
			return err
		}

		value := bytes.Repeat([]byte{'v'}, p.ValueSize)
		for i := 0; i < p.Records; i++ {
			if err := b.Put(ctx, seqKey(i), value); err != nil {
				return fmt.Errorf("put %d: %w", i, err)
			}
		}

		if _, err := s.End("write"); err != nil {
			return err
		}

		if err := s.DiskUsage(ctx, "post_write"); err != nil {
			return err
		}

		if err := s.Start("reading"); err != nil {
			return err
		}

		count, err := stream.Wait(ctx, b.Scan(ctx, nil), nil, stream.RejectOnError())
		if err != nil {
			return fmt.Errorf("scan: %w", err)
		}

		ms, err := s.End("reading")
		if err != nil {
			return err
		}

		if count != p.Records {
			return fmt.Errorf("count mismatch: got %d, want %d", count, p.Records)
		}

		if err := s.Info("records_per_second", perSecond(count, ms)); err != nil {
			return err
		}

		return b.Close()
	}
}

// Sorted writes decimal keys, whose byte order differs from their numeric
// order, and measures collecting them and re-sorting numerically in memory
// in section "sorting".
func Sorted(p Params) harness.WorkloadFunc {
	prefix := []byte("n/")

	return func(ctx context.Context, b backend.Backend, s *harness.Session) error {
		if err := b.Open(ctx); err != nil {
			return err
		}

		if err := s.Start("write"); err != nil {
			return err
		}

		value := bytes.Repeat([]byte{'v'}, p.ValueSize)
		for i := 0; i < p.Records; i++ {
			key := append(bytes.Clone(prefix), strconv.Itoa(i)...)
			if err := b.Put(ctx, key, value); err != nil {
				return fmt.Errorf("put %d: %w", i, err)
			}
		}

		if _, err := s.End("write"); err != nil {
			return err
		}

		if err := s.Start("sorting"); err != nil {
			return err
		}

		kvs, err := stream.Collect(ctx, b.Scan(ctx, prefix))
		if err != nil {
			return fmt.Errorf("scan: %w", err)
		}

		nums := make([]int, len(kvs))
		for i, kv := range kvs {
			n, err := strconv.Atoi(string(kv.Key[len(prefix):]))
			if err != nil {
				return fmt.Errorf("parse key %q: %w", kv.Key, err)
			}
			nums[i] = n
		}

		sort.Ints(nums)

		ms, err := s.End("sorting")
		if err != nil {
			return err
		}

		if len(nums) != p.Records {
			return fmt.Errorf("count mismatch: got %d, want %d", len(nums), p.Records)
		}

		for i, n := range nums {
			if n != i {
				return fmt.Errorf("order mismatch at %d: got %d", i, n)
			}
		}

		if err := s.Info("records_per_second", perSecond(len(nums), ms)); err != nil {
			return err
		}

		return b.Close()
	}
}

// Load bulk loads a dataset in batches in section "write".
func Load(p Params) harness.WorkloadFunc {
	return func(ctx context.Context, b backend.Backend, s *harness.Session) error {
		var (
			kvs []backend.KV
			err error
		)

		if p.Dataset != "" {
			kvs, err = ReadDataset(p.Dataset)
			if err != nil {
				return err
			}
		} else {
			kvs = recordsToKVs(NewGenerator(Config{
				Records:   p.Records,
				ValueSize: p.ValueSize,
				Seed:      p.Seed,
			}).Records())
		}

		if err := b.Open(ctx); err != nil {
			return err
		}

		if err := s.Start("write"); err != nil {
			return err
		}

		for start := 0; start < len(kvs); start += p.BatchSize {
			end := min(start+p.BatchSize, len(kvs))

			if err := b.PutBatch(ctx, kvs[start:end]); err != nil {
				return fmt.Errorf("batch at %d: %w", start, err)
			}
		}

		ms, err := s.End("write")
		if err != nil {
			return err
		}

		if err := s.Info("records_per_second", perSecond(len(kvs), ms)); err != nil {
			return err
		}

		if err := s.DiskUsage(ctx, "post_write"); err != nil {
			return err
		}

		return b.Close()
	}
}

// Query times an umbrella "setup" section around "open" and "writes", then
// splits a full scan into time-to-first-item ("query - setup") and the rest
// ("query - reads").
func Query(p Params) harness.WorkloadFunc {
	return func(ctx context.Context, b backend.Backend, s *harness.Session) error {
		if err := s.Start("setup"); err != nil {
			return err
		}
		if err := s.Start("open"); err != nil {
			return err
		}
		if err := b.Open(ctx); err != nil {
			return err
		}
		if _, err := s.End("open"); err != nil {
			return err
		}

		if err := s.Start("writes"); err != nil {
			return err
		}

		value := bytes.Repeat([]byte{'v'}, p.ValueSize)
		for i := 0; i < p.Records; i++ {
			if err := b.Put(ctx, seqKey(i), value); err != nil {
				return fmt.Errorf("put %d: %w", i, err)
			}
		}

		if _, err := s.End("writes"); err != nil {
			return err
		}
		if _, err := s.End("setup"); err != nil {
			return err
		}

		if err := s.Start("query - setup"); err != nil {
			return err
		}

		var (
			first   = true
			markErr error
		)

		count, err := stream.Wait(ctx, b.Scan(ctx, nil), func(backend.KV) {
			if !first || markErr != nil {
				return
			}
			first = false

			if _, markErr = s.End("query - setup"); markErr == nil {
				markErr = s.Start("query - reads")
			}
		}, stream.RejectOnError())
		if err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		if markErr != nil {
			return markErr
		}

		if first {
			return fmt.Errorf("count mismatch: got 0, want %d", p.Records)
		}

		ms, err := s.End("query - reads")
		if err != nil {
			return err
		}

		if count != p.Records {
			return fmt.Errorf("count mismatch: got %d, want %d", count, p.Records)
		}

		if err := s.Info("records_per_second", perSecond(count, ms)); err != nil {
			return err
		}

		return b.Close()
	}
}
