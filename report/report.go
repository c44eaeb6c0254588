// Package report formats benchmark reports into comparison tables.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/weiihann/kvbench/harness"
)

// Entry is one backend's report in a comparison.
type Entry struct {
	Name   string          `json:"backend"`
	Report *harness.Report `json:"report"`
}

// Generate writes markdown comparison tables for the given entries: one for
// timings, one for disk samples and one for info entries. Columns follow the
// order in which labels were first recorded.
func Generate(w io.Writer, entries []Entry) error {
	if len(entries) == 0 {
		return fmt.Errorf("no results to report")
	}

	for _, e := range entries {
		if e.Report == nil {
			return fmt.Errorf("missing report for %s", e.Name)
		}
	}

	fastestMs := findFastest(entries)

	fmt.Fprintln(w, "## Benchmark Results")
	fmt.Fprintln(w)

	// Timings.
	sections := columns(entries, func(r *harness.Report) []string {
		names := make([]string, 0, len(r.Partials()))
		for _, p := range r.Partials() {
			names = append(names, p.Name)
		}

		return names
	})

	writeHeader(w, append(append([]string{"Backend", "Total"}, sections...), "Slowdown"))

	for _, e := range entries {
		slowdown := 1.0
		if fastestMs > 0 && e.Report.Total() > 0 {
			slowdown = float64(e.Report.Total()) / float64(fastestMs)
		}

		row := []string{e.Name, formatMs(e.Report.Total())}
		for _, name := range sections {
			ms, ok := e.Report.Partial(name)
			row = append(row, cell(ok, func() string { return formatMs(ms) }))
		}

		row = append(row, fmt.Sprintf("%.2fx", slowdown))
		writeRow(w, row)
	}

	// Disk samples.
	labels := columns(entries, func(r *harness.Report) []string {
		out := make([]string, 0, len(r.Disk()))
		for _, s := range r.Disk() {
			out = append(out, s.Label)
		}

		return out
	})

	if len(labels) > 0 {
		fmt.Fprintln(w)
		writeHeader(w, append([]string{"Backend"}, labels...))

		for _, e := range entries {
			row := []string{e.Name}
			for _, label := range labels {
				kb, ok := e.Report.DiskUsage(label)
				row = append(row, cell(ok, func() string { return formatKB(kb) }))
			}

			writeRow(w, row)
		}
	}

	// Info entries.
	infos := columns(entries, func(r *harness.Report) []string {
		out := make([]string, 0, len(r.Info()))
		for _, i := range r.Info() {
			out = append(out, i.Label)
		}

		return out
	})

	if len(infos) > 0 {
		fmt.Fprintln(w)
		writeHeader(w, append([]string{"Backend"}, infos...))

		for _, e := range entries {
			row := []string{e.Name}
			for _, label := range infos {
				v, ok := e.Report.InfoValue(label)
				row = append(row, cell(ok, func() string { return fmt.Sprint(v) }))
			}

			writeRow(w, row)
		}
	}

	return nil
}

// GenerateJSON writes v as indented JSON to w.
func GenerateJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

// columns returns the union of the labels extracted from every report, in
// first-seen order.
func columns(entries []Entry, labels func(*harness.Report) []string) []string {
	var (
		out  []string
		seen = make(map[string]bool)
	)

	for _, e := range entries {
		for _, l := range labels(e.Report) {
			if seen[l] {
				continue
			}

			seen[l] = true
			out = append(out, l)
		}
	}

	return out
}

func cell(ok bool, format func() string) string {
	if !ok {
		return "-"
	}

	return format()
}

func writeHeader(w io.Writer, cols []string) {
	writeRow(w, cols)

	seps := make([]string, len(cols))
	for i, c := range cols {
		seps[i] = strings.Repeat("-", max(len(c), 3))
	}

	writeRow(w, seps)
}

var cellEscaper = strings.NewReplacer("|", `\|`, "\n", " ")

func writeRow(w io.Writer, cells []string) {
	escaped := make([]string, len(cells))
	for i, c := range cells {
		escaped[i] = cellEscaper.Replace(c)
	}

	fmt.Fprintf(w, "| %s |\n", strings.Join(escaped, " | "))
}

func findFastest(entries []Entry) int64 {
	fastest := int64(math.MaxInt64)
	for _, e := range entries {
		if total := e.Report.Total(); total > 0 && total < fastest {
			fastest = total
		}
	}

	if fastest == math.MaxInt64 {
		return 0
	}

	return fastest
}

func formatMs(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}

	return fmt.Sprintf("%.2fs", float64(ms)/1000)
}

// formatKB formats a du -k reading.
func formatKB(kb int64) string {
	if kb <= 0 {
		return fmt.Sprintf("%d KB", kb)
	}

	units := []string{"KB", "MB", "GB", "TB"}
	size := float64(kb)
	unit := 0

	for size >= 1024 && unit < len(units)-1 {
		size /= 1024
		unit++
	}

	formatted := fmt.Sprintf("%.1f", size)
	formatted = strings.TrimRight(formatted, "0")
	formatted = strings.TrimRight(formatted, ".")

	return formatted + " " + units[unit]
}
