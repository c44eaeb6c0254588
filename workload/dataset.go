package workload

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/golang/snappy"

	"github.com/weiihann/kvbench/backend"
)

// SnappySuffix marks datasets stored in the snappy framing format.
const SnappySuffix = ".sz"

// WriteDataset generates a dataset into path. Paths ending in SnappySuffix
// are snappy-compressed.
func WriteDataset(path string, cfg Config) (Summary, error) {
	f, err := os.Create(path)
	if err != nil {
		return Summary{}, fmt.Errorf("create dataset: %w", err)
	}

	var w io.Writer = f

	var sw *snappy.Writer
	if strings.HasSuffix(path, SnappySuffix) {
		sw = snappy.NewBufferedWriter(f)
		w = sw
	}

	summary, err := NewGenerator(cfg).Generate(w)
	if err != nil {
		f.Close()
		return summary, err
	}

	if sw != nil {
		if err := sw.Close(); err != nil {
			f.Close()
			return summary, fmt.Errorf("flush snappy stream: %w", err)
		}
	}

	if err := f.Close(); err != nil {
		return summary, fmt.Errorf("close dataset: %w", err)
	}

	return summary, nil
}

// ReadDataset loads every put record of the dataset at path.
func ReadDataset(path string) ([]backend.KV, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, SnappySuffix) {
		r = snappy.NewReader(f)
	}

	return DecodeDataset(r)
}

// DecodeDataset reads JSONL records from r.
func DecodeDataset(r io.Reader) ([]backend.KV, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<24)

	var (
		kvs  []backend.KV
		line int
	)

	for scanner.Scan() {
		line++

		if len(strings.TrimSpace(scanner.Text())) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("decode line %d: %w", line, err)
		}

		if rec.Op != OpPut {
			return nil, fmt.Errorf("line %d: unknown operation %q", line, rec.Op)
		}

		kvs = append(kvs, backend.KV{
			Key:   []byte(rec.Key),
			Value: []byte(rec.Value),
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}

	return kvs, nil
}

func recordsToKVs(recs []Record) []backend.KV {
	kvs := make([]backend.KV, len(recs))
	for i, rec := range recs {
		kvs[i] = backend.KV{Key: []byte(rec.Key), Value: []byte(rec.Value)}
	}

	return kvs
}
