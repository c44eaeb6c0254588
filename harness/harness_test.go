package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/weiihann/kvbench/backend"
	"github.com/weiihann/kvbench/stream"
)

// fakeDiskUsage installs a du replacement that always reports kb.
func fakeDiskUsage(t *testing.T, kb int) string {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}

	path := filepath.Join(t.TempDir(), "fake-du")
	script := fmt.Sprintf("#!/bin/sh\nprintf '%d\\t%%s\\n' \"$2\"\n", kb)

	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake du: %v", err)
	}

	return path
}

func assertRemoved(t *testing.T, dir string) {
	t.Helper()

	if dir == "" {
		t.Fatal("run dir was never observed")
	}

	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("run dir %s still exists (stat err: %v)", dir, err)
	}
}

func TestRunMemoryWrites(t *testing.T) {
	ctx := context.Background()

	report, err := Run(ctx, Options{Kind: backend.KindMemory},
		func(ctx context.Context, b backend.Backend, s *Session) error {
			if err := b.Open(ctx); err != nil {
				return err
			}

			if err := s.Start("write"); err != nil {
				return err
			}

			for i := 0; i < 100; i++ {
				key := []byte(fmt.Sprintf("k%03d", i))
				if err := b.Put(ctx, key, []byte("v")); err != nil {
					return err
				}
			}

			if _, err := s.End("write"); err != nil {
				return err
			}

			if err := s.DiskUsage(ctx, "post_write"); err != nil {
				return err
			}

			return b.Close()
		})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	ms, ok := report.Partial("write")
	if !ok {
		t.Fatal("missing partial \"write\"")
	}
	if ms < 0 {
		t.Errorf("write = %d, want >= 0", ms)
	}

	if got := len(report.Disk()); got != 0 {
		t.Errorf("disk samples = %d, want 0 for memory backend", got)
	}
}

func TestRunDiskUsageProbe(t *testing.T) {
	ctx := context.Background()
	du := fakeDiskUsage(t, 42)

	var dir string

	report, err := Run(ctx, Options{
		Kind:         backend.KindPebble,
		TempDir:      t.TempDir(),
		DiskUsageCmd: du,
	}, func(ctx context.Context, b backend.Backend, s *Session) error {
		dir = s.dir

		if err := b.Open(ctx); err != nil {
			return err
		}

		if err := s.DiskUsage(ctx, "after-write"); err != nil {
			return err
		}

		err := s.DiskUsage(ctx, "after-write")
		if !errors.Is(err, ErrDuplicateLabel) {
			return fmt.Errorf("second probe err = %v, want ErrDuplicateLabel", err)
		}

		return nil
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	kb, ok := report.DiskUsage("after-write")
	if !ok {
		t.Fatal("missing disk sample \"after-write\"")
	}
	if kb != 42 {
		t.Errorf("after-write = %d, want 42", kb)
	}

	assertRemoved(t, dir)
}

func TestRunRealDiskUsage(t *testing.T) {
	if _, err := exec.LookPath(DefaultDiskUsageCmd); err != nil {
		t.Skip("du not available")
	}

	ctx := context.Background()

	for _, kind := range []backend.Kind{
		backend.KindPebble, backend.KindBolt, backend.KindSQLite,
	} {
		t.Run(string(kind), func(t *testing.T) {
			report, err := Run(ctx, Options{Kind: kind, TempDir: t.TempDir()},
				func(ctx context.Context, b backend.Backend, s *Session) error {
					if err := b.Open(ctx); err != nil {
						return err
					}
					if err := b.Put(ctx, []byte("k"), []byte("v")); err != nil {
						return err
					}

					return s.DiskUsage(ctx, "after-write")
				})
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}

			kb, ok := report.DiskUsage("after-write")
			if !ok {
				t.Fatal("missing disk sample")
			}
			if kb < 0 {
				t.Errorf("after-write = %d, want >= 0", kb)
			}
		})
	}
}

func TestRunInfoWriteOnce(t *testing.T) {
	report, err := Run(context.Background(), Options{Kind: backend.KindMemory},
		func(_ context.Context, _ backend.Backend, s *Session) error {
			if err := s.Info("throughput", 42.5); err != nil {
				return err
			}

			err := s.Info("throughput", 1.0)
			if !errors.Is(err, ErrDuplicateLabel) {
				return fmt.Errorf("second info err = %v, want ErrDuplicateLabel", err)
			}
			if !IsMisuse(err) {
				return fmt.Errorf("second info err = %v, want misuse", err)
			}

			return nil
		})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	v, ok := report.InfoValue("throughput")
	if !ok {
		t.Fatal("missing info \"throughput\"")
	}
	if v != 42.5 {
		t.Errorf("throughput = %v, want 42.5", v)
	}
}

func TestRunInfoValuesDetached(t *testing.T) {
	counts := map[string]int{"a": 1}
	sizes := []int64{10, 20}

	report, err := Run(context.Background(), Options{Kind: backend.KindMemory},
		func(_ context.Context, _ backend.Backend, s *Session) error {
			if err := s.Info("counts", counts); err != nil {
				return err
			}

			return s.Info("sizes", sizes)
		})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	counts["a"] = 999
	sizes[0] = 999

	v, _ := report.InfoValue("counts")
	if got := v.(map[string]int)["a"]; got != 1 {
		t.Errorf("counts[a] = %d, want 1", got)
	}

	v, _ = report.InfoValue("sizes")
	if got := v.([]int64)[0]; got != 10 {
		t.Errorf("sizes[0] = %d, want 10", got)
	}

	// Mutating a returned value does not reach the report either.
	v.([]int64)[0] = 555
	if got := report.Info()[1].Value.([]int64)[0]; got != 10 {
		t.Errorf("sizes[0] after caller mutation = %d, want 10", got)
	}
}

func TestRunTeardownOnError(t *testing.T) {
	boom := errors.New("workload exploded")

	for _, kind := range []backend.Kind{
		backend.KindPebble, backend.KindBolt, backend.KindSQLite,
	} {
		t.Run(string(kind), func(t *testing.T) {
			var dir string

			report, err := Run(context.Background(),
				Options{Kind: kind, TempDir: t.TempDir()},
				func(ctx context.Context, b backend.Backend, s *Session) error {
					dir = s.dir

					// Leave the engine open: teardown must close it.
					if err := b.Open(ctx); err != nil {
						return err
					}
					if err := b.Put(ctx, []byte("k"), []byte("v")); err != nil {
						return err
					}

					return boom
				})
			if !errors.Is(err, boom) {
				t.Fatalf("err = %v, want %v", err, boom)
			}
			if report != nil {
				t.Error("got a report from a failed run")
			}

			assertRemoved(t, dir)
		})
	}
}

func TestRunTeardownOnPanic(t *testing.T) {
	var dir string

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Error("expected the panic to propagate")
			}
		}()

		_, _ = Run(context.Background(),
			Options{Kind: backend.KindBolt, TempDir: t.TempDir()},
			func(ctx context.Context, b backend.Backend, s *Session) error {
				dir = s.dir
				if err := b.Open(ctx); err != nil {
					return err
				}
				panic("workload panicked")
			})
	}()

	assertRemoved(t, dir)
}

func TestRunTempDirUnusable(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	ran := false

	report, err := Run(context.Background(),
		Options{Kind: backend.KindPebble, TempDir: filepath.Join(file, "sub")},
		func(context.Context, backend.Backend, *Session) error {
			ran = true
			return nil
		})
	if err == nil {
		t.Fatal("expected error for a temp dir under a regular file")
	}
	if got := CategoryOf(err); got != CategoryResource {
		t.Errorf("category = %v, want %v", got, CategoryResource)
	}
	if report != nil {
		t.Error("got a report although provisioning failed")
	}
	if ran {
		t.Error("workload ran although provisioning failed")
	}
}

func failRemoval(t *testing.T) error {
	t.Helper()

	removeErr := errors.New("remove failed")

	orig := removeAll
	removeAll = func(string) error { return removeErr }
	t.Cleanup(func() { removeAll = orig })

	return removeErr
}

func TestRunTeardownFailure(t *testing.T) {
	boom := errors.New("workload exploded")

	tests := []struct {
		name    string
		result  error
		wantErr []error
	}{
		{name: "after success", result: nil, wantErr: []error{ErrTeardown}},
		{name: "after workload error", result: boom, wantErr: []error{boom, ErrTeardown}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			removeErr := failRemoval(t)

			report, err := Run(context.Background(),
				Options{Kind: backend.KindBolt, TempDir: t.TempDir()},
				func(ctx context.Context, b backend.Backend, s *Session) error {
					if err := b.Open(ctx); err != nil {
						return err
					}
					if err := s.Start("write"); err != nil {
						return err
					}
					if _, err := s.End("write"); err != nil {
						return err
					}

					return tt.result
				})
			if report != nil {
				t.Error("got a report although teardown failed")
			}

			for _, want := range append(tt.wantErr, removeErr) {
				if !errors.Is(err, want) {
					t.Errorf("err = %v, want it to match %v", err, want)
				}
			}

			if got := CategoryOf(err); tt.result == nil && got != CategoryResource {
				t.Errorf("category = %v, want %v", got, CategoryResource)
			}
		})
	}
}

func TestRunUnknownBackend(t *testing.T) {
	tmp := t.TempDir()
	called := false

	_, err := Run(context.Background(), Options{Kind: "leveldb", TempDir: tmp},
		func(context.Context, backend.Backend, *Session) error {
			called = true
			return nil
		})
	if !errors.Is(err, ErrUnknownBackend) {
		t.Fatalf("err = %v, want ErrUnknownBackend", err)
	}
	if CategoryOf(err) != CategoryConfig {
		t.Errorf("category = %q, want %q", CategoryOf(err), CategoryConfig)
	}
	if called {
		t.Error("workload ran despite configuration error")
	}

	entries, err := os.ReadDir(tmp)
	if err != nil {
		t.Fatalf("read temp dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("temp dir has %d entries, want 0", len(entries))
	}
}

func TestRunDefaultKind(t *testing.T) {
	var kind backend.Kind

	_, err := Run(context.Background(), Options{TempDir: t.TempDir()},
		func(_ context.Context, b backend.Backend, s *Session) error {
			kind = b.Kind()
			if s.Kind() != kind {
				return fmt.Errorf("session kind %q != backend kind %q", s.Kind(), kind)
			}
			return nil
		})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if kind != backend.KindPebble {
		t.Errorf("kind = %q, want %q", kind, backend.KindPebble)
	}
}

func TestRunDiskUsageFailure(t *testing.T) {
	var dir string

	_, err := Run(context.Background(), Options{
		Kind:         backend.KindPebble,
		TempDir:      t.TempDir(),
		DiskUsageCmd: filepath.Join(t.TempDir(), "missing-du"),
	}, func(ctx context.Context, _ backend.Backend, s *Session) error {
		dir = s.dir
		return s.DiskUsage(ctx, "post_write")
	})
	if !errors.Is(err, ErrDiskUsage) {
		t.Fatalf("err = %v, want ErrDiskUsage", err)
	}
	if CategoryOf(err) != CategoryResource {
		t.Errorf("category = %q, want %q", CategoryOf(err), CategoryResource)
	}

	assertRemoved(t, dir)
}

func TestRunMisuseAborts(t *testing.T) {
	_, err := Run(context.Background(), Options{Kind: backend.KindMemory},
		func(_ context.Context, _ backend.Backend, s *Session) error {
			_, err := s.End("never-started")
			return err
		})
	if !errors.Is(err, ErrUnknownSection) {
		t.Fatalf("err = %v, want ErrUnknownSection", err)
	}
}

func TestSessionAfterRun(t *testing.T) {
	var leaked *Session

	_, err := Run(context.Background(), Options{Kind: backend.KindMemory},
		func(_ context.Context, _ backend.Backend, s *Session) error {
			leaked = s
			return nil
		})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if err := leaked.Start("late"); !errors.Is(err, ErrRunFinished) {
		t.Errorf("Start after run = %v, want ErrRunFinished", err)
	}
	if err := leaked.Info("late", 1); !errors.Is(err, ErrRunFinished) {
		t.Errorf("Info after run = %v, want ErrRunFinished", err)
	}
}

func TestTotalCoversPartials(t *testing.T) {
	report, err := Run(context.Background(), Options{Kind: backend.KindMemory},
		func(ctx context.Context, b backend.Backend, s *Session) error {
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

			for i := 0; i < 200; i++ {
				if err := b.Put(ctx, []byte(fmt.Sprintf("k%d", i)), []byte("v")); err != nil {
					return err
				}
			}

			_, err := s.End("setup")

			return err
		})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	partials := report.Partials()
	if len(partials) != 2 {
		t.Fatalf("partials = %d, want 2", len(partials))
	}

	if partials[0].Name != "setup" || partials[1].Name != "open" {
		t.Errorf("partials order = %v, want [setup open]", partials)
	}

	for _, p := range partials {
		if report.Total() < p.Time {
			t.Errorf("total %d < partial %s %d", report.Total(), p.Name, p.Time)
		}
	}
}

func TestEveryKindSameContract(t *testing.T) {
	ctx := context.Background()

	for _, kind := range backend.Kinds() {
		t.Run(string(kind), func(t *testing.T) {
			_, err := Run(ctx, Options{Kind: kind, TempDir: t.TempDir()},
				func(ctx context.Context, b backend.Backend, s *Session) error {
					if b.Kind() != kind {
						return fmt.Errorf("backend kind = %q, want %q", b.Kind(), kind)
					}
					if err := b.Open(ctx); err != nil {
						return err
					}

					kvs := []backend.KV{
						{Key: []byte("a"), Value: []byte("1")},
						{Key: []byte("b"), Value: []byte("2")},
					}
					if err := b.PutBatch(ctx, kvs); err != nil {
						return err
					}

					n, err := stream.Wait(ctx, b.Scan(ctx, nil), nil, stream.RejectOnError())
					if err != nil {
						return err
					}
					if n != 2 {
						return fmt.Errorf("scan count = %d, want 2", n)
					}

					return b.Close()
				})
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
		})
	}
}
