package harness

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// DefaultDiskUsageCmd is the external tool used to measure a run directory.
const DefaultDiskUsageCmd = "du"

// measureDiskUsage runs `<command> -sk <dir>` and returns the first field
// of its output: the directory's usage in kilobytes.
func measureDiskUsage(ctx context.Context, command, dir string) (int64, error) {
	cmd := exec.CommandContext(ctx, command, "-sk", dir)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("%s -sk %s: %w\nstderr: %s",
			command, dir, err, stderr.String())
	}

	fields := strings.Fields(stdout.String())
	if len(fields) == 0 {
		return 0, fmt.Errorf("%s -sk %s: empty output", command, dir)
	}

	kb, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s output %q: %w", command, fields[0], err)
	}

	return kb, nil
}
