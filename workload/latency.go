package workload

import (
	"fmt"
	"math"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// latencies records per-operation latencies in microseconds.
type latencies struct {
	hist *hdrhistogram.Histogram
}

func newLatencies() *latencies {
	// 1us to 10min, 3 significant figures
	return &latencies{
		hist: hdrhistogram.New(1, int64(10*time.Minute/time.Microsecond), 3),
	}
}

// record adds d, clamped into the trackable range.
func (l *latencies) record(d time.Duration) error {
	us := max(d.Microseconds(), 1)
	us = min(us, l.hist.HighestTrackableValue())

	if err := l.hist.RecordValue(us); err != nil {
		return fmt.Errorf("record latency %s: %w", d, err)
	}

	return nil
}

func (l *latencies) quantile(q float64) int64 {
	return l.hist.ValueAtQuantile(q)
}

// Round rounds x to the given number of decimal places.
func Round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))

	return math.Round(x*p) / p
}

// perSecond converts count items over ms milliseconds into a rate rounded
// to two places. Sub-millisecond sections are treated as one millisecond so
// the rate stays finite.
func perSecond(count int, ms int64) float64 {
	return Round(float64(count)/float64(max(ms, 1))*1000, 2)
}
