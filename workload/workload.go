// Package workload generates deterministic key-value datasets and provides
// the built-in benchmark workloads run by the harness.
package workload

import (
	"encoding/json"
	"fmt"
	"io"
	mrand "math/rand"
)

// OpPut is the only operation a dataset currently contains.
const OpPut = "put"

// Record is a single line of a JSONL dataset.
type Record struct {
	Op    string `json:"op"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Summary contains statistics about a generated dataset.
type Summary struct {
	Records    int
	KeyBytes   int
	ValueBytes int
}

// Config controls dataset generation.
type Config struct {
	Records   int
	ValueSize int
	Seed      int64
	KeyPrefix string
}

// Generator produces deterministic datasets from a Config.
type Generator struct {
	cfg Config
	rng *mrand.Rand
}

// NewGenerator creates a Generator from the given Config.
func NewGenerator(cfg Config) *Generator {
	return &Generator{
		cfg: cfg,
		rng: mrand.New(mrand.NewSource(cfg.Seed)),
	}
}

// Generate writes a JSONL dataset to w and returns a Summary.
func (g *Generator) Generate(w io.Writer) (Summary, error) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	var summary Summary

	for i := 0; i < g.cfg.Records; i++ {
		rec := g.next(i)

		if err := enc.Encode(rec); err != nil {
			return summary, fmt.Errorf("encode record %d: %w", i, err)
		}

		summary.Records++
		summary.KeyBytes += len(rec.Key)
		summary.ValueBytes += len(rec.Value)
	}

	return summary, nil
}

// Records returns the dataset as a slice instead of writing it.
func (g *Generator) Records() []Record {
	out := make([]Record, 0, g.cfg.Records)
	for i := 0; i < g.cfg.Records; i++ {
		out = append(out, g.next(i))
	}

	return out
}

func (g *Generator) next(i int) Record {
	return Record{
		Op:    OpPut,
		Key:   fmt.Sprintf("%s%012d-%d", g.cfg.KeyPrefix, g.rng.Int63n(1<<40), i),
		Value: g.randomValue(),
	}
}

const valueAlphabet = "abcdefghijklmnopqrstuvwxyz" +
	"ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func (g *Generator) randomValue() string {
	buf := make([]byte, g.cfg.ValueSize)
	for i := range buf {
		buf[i] = valueAlphabet[g.rng.Intn(len(valueAlphabet))]
	}

	return string(buf)
}
