package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/weiihann/kvbench/backend"
)

// ResolveKind turns a selector into a backend kind. An empty selector picks
// the default engine; anything unrecognized is a configuration error.
func ResolveKind(selector string) (backend.Kind, error) {
	kind, ok := backend.ParseKind(selector)
	if !ok {
		return "", &Error{
			Category: CategoryConfig,
			Code:     CodeUnknownBackend,
			Message:  fmt.Sprintf("unknown backend %q", selector),
		}
	}

	return kind, nil
}

// removeAll deletes a run directory. Tests replace it to simulate teardown
// failures.
var removeAll = os.RemoveAll

// provisioned is an engine bound to the resources it owns for one run.
type provisioned struct {
	backend backend.Backend
	// dir is empty for engines without on-disk state.
	dir string
}

// provision constructs the engine for kind. Disk engines get a fresh,
// uniquely named directory under tempDir (os.TempDir() when empty).
func provision(
	ctx context.Context,
	logger *slog.Logger,
	kind backend.Kind,
	tempDir string,
) (*provisioned, error) {
	if !kind.OnDisk() {
		b, err := backend.New(kind, "")
		if err != nil {
			return nil, resource(CodeBackend, "construct backend", err)
		}

		return &provisioned{backend: b}, nil
	}

	if tempDir == "" {
		tempDir = os.TempDir()
	}

	dir := filepath.Join(tempDir, "kvbench-"+uuid.NewString())

	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, resource(CodeTempDir, "create run dir "+dir, err)
	}

	b, err := backend.New(kind, dir)
	if err != nil {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			err = errors.Join(err, rmErr)
		}

		return nil, resource(CodeBackend, "construct backend", err)
	}

	logger.DebugContext(ctx, "run dir created", slog.String("dir", dir))

	return &provisioned{backend: b, dir: dir}, nil
}

// teardown closes the engine if the workload left it open and removes the
// run directory.
func (p *provisioned) teardown(ctx context.Context, logger *slog.Logger) error {
	var errs []error

	if err := p.backend.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close backend: %w", err))
	}

	if p.dir != "" {
		if err := removeAll(p.dir); err != nil {
			errs = append(errs, fmt.Errorf("remove run dir %s: %w", p.dir, err))
		} else {
			logger.DebugContext(ctx, "run dir removed",
				slog.String("dir", p.dir))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return resource(CodeTeardown, "teardown", err)
	}

	return nil
}
