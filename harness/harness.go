package harness

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/weiihann/kvbench/backend"
)

// WorkloadFunc drives one benchmark against b, recording facts through s.
// It is responsible for opening b; the harness closes it if needed.
type WorkloadFunc func(ctx context.Context, b backend.Backend, s *Session) error

// Options holds parameters for a single run.
type Options struct {
	// Kind selects the engine. Empty means backend.DefaultKind().
	Kind backend.Kind
	// TempDir is where run directories are created. Empty means os.TempDir().
	TempDir string
	// DiskUsageCmd is the du-compatible tool used by Session.DiskUsage.
	DiskUsageCmd string
	Logger       *slog.Logger
}

// Session is the workload's view of a run in progress.
type Session struct {
	id    string
	kind  backend.Kind
	dir   string
	duCmd string

	mu       sync.Mutex
	timer    *Timer
	disk     []Sample
	info     []InfoEntry
	finished bool
}

func newSession(kind backend.Kind, dir, duCmd string) *Session {
	if duCmd == "" {
		duCmd = DefaultDiskUsageCmd
	}

	return &Session{
		id:    uuid.NewString(),
		kind:  kind,
		dir:   dir,
		duCmd: duCmd,
		timer: NewTimer(),
	}
}

// ID identifies the run.
func (s *Session) ID() string {
	return s.id
}

// Kind is the engine the run was provisioned with.
func (s *Session) Kind() backend.Kind {
	return s.kind
}

// Start opens the timing section name.
func (s *Session) Start(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		return misuse(CodeRunFinished, "start %q after run finished", name)
	}

	return s.timer.Start(name)
}

// End closes the timing section name and returns its duration in
// milliseconds.
func (s *Session) End(name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		return 0, misuse(CodeRunFinished, "end %q after run finished", name)
	}

	return s.timer.End(name)
}

// Info records value under label. Labels are write-once. Maps and slices
// are copied one level deep; values nested inside them stay shared.
func (s *Session) Info(label string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		return misuse(CodeRunFinished, "info %q after run finished", label)
	}

	for _, e := range s.info {
		if e.Label == label {
			return misuse(CodeDuplicateLabel,
				"info label %q already recorded", label)
		}
	}

	s.info = append(s.info, InfoEntry{Label: label, Value: shallowCopy(value)})

	return nil
}

// DiskUsage measures the run directory and records the result under label.
// Engines without on-disk state record nothing.
func (s *Session) DiskUsage(ctx context.Context, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		return misuse(CodeRunFinished, "disk usage %q after run finished", label)
	}

	if s.dir == "" {
		return nil
	}

	for _, d := range s.disk {
		if d.Label == label {
			return misuse(CodeDuplicateLabel,
				"disk label %q already recorded", label)
		}
	}

	kb, err := measureDiskUsage(ctx, s.duCmd, s.dir)
	if err != nil {
		return resource(CodeDiskUsage, "measure disk usage "+label, err)
	}

	s.disk = append(s.disk, Sample{Label: label, Value: kb})

	return nil
}

func (s *Session) finish() {
	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()
}

func (s *Session) report(total int64) *Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	return NewReport(total, s.timer.Partials(), s.disk, s.info)
}

// Run provisions the engine selected by opts, runs fn against it and
// returns the aggregated Report. The engine's resources are released on
// every exit path, including a panic in fn. Any error from fn, from the
// session, or from provisioning and teardown aborts the run; no partial
// report is returned.
func Run(ctx context.Context, opts Options, fn WorkloadFunc) (report *Report, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	kind, err := ResolveKind(string(opts.Kind))
	if err != nil {
		return nil, err
	}

	res, err := provision(ctx, logger, kind, opts.TempDir)
	if err != nil {
		return nil, err
	}

	s := newSession(kind, res.dir, opts.DiskUsageCmd)
	logger = logger.With(
		slog.String("backend", string(kind)),
		slog.String("run_id", s.id),
	)

	defer func() {
		s.finish()

		if tErr := res.teardown(ctx, logger); tErr != nil {
			logger.ErrorContext(ctx, "teardown failed",
				slog.String("error", tErr.Error()),
			)

			report = nil
			if err == nil {
				err = tErr
			} else {
				err = errors.Join(err, tErr)
			}
		}
	}()

	logger.InfoContext(ctx, "starting run")

	start := time.Now()

	if err := fn(ctx, res.backend, s); err != nil {
		logger.InfoContext(ctx, "run failed", slog.String("error", err.Error()))

		return nil, err
	}

	elapsed := time.Since(start)

	logger.InfoContext(ctx, "run finished", slog.Duration("wall_time", elapsed))

	return s.report(elapsed.Milliseconds()), nil
}
