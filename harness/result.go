// Package harness runs benchmark workloads against a freshly provisioned
// storage backend and aggregates what they record into a Report.
package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
)

// Partial is the duration of one ended timing section.
type Partial struct {
	Name string
	Time int64
}

// Sample is one disk-usage measurement in kilobytes.
type Sample struct {
	Label string
	Value int64
}

// InfoEntry is a caller-supplied derived metric.
type InfoEntry struct {
	Label string
	Value any
}

// Report is the immutable outcome of a run. Every collection keeps the
// order in which the workload recorded it.
type Report struct {
	total    int64
	partials []Partial
	disk     []Sample
	info     []InfoEntry
}

// NewReport builds a Report from already-collected facts. The slices are
// copied.
func NewReport(
	total int64,
	partials []Partial,
	disk []Sample,
	info []InfoEntry,
) *Report {
	return &Report{
		total:    total,
		partials: append([]Partial(nil), partials...),
		disk:     append([]Sample(nil), disk...),
		info:     append([]InfoEntry(nil), info...),
	}
}

// Total is the elapsed time of the whole run in milliseconds.
func (r *Report) Total() int64 {
	return r.total
}

// Partials returns the ended sections in start order.
func (r *Report) Partials() []Partial {
	return append([]Partial(nil), r.partials...)
}

// Partial returns the duration of the named section.
func (r *Report) Partial(name string) (int64, bool) {
	for _, p := range r.partials {
		if p.Name == name {
			return p.Time, true
		}
	}

	return 0, false
}

// Disk returns the disk-usage samples in recording order.
func (r *Report) Disk() []Sample {
	return append([]Sample(nil), r.disk...)
}

// DiskUsage returns the sample recorded under label.
func (r *Report) DiskUsage(label string) (int64, bool) {
	for _, s := range r.disk {
		if s.Label == label {
			return s.Value, true
		}
	}

	return 0, false
}

// Info returns the info entries in recording order.
func (r *Report) Info() []InfoEntry {
	out := make([]InfoEntry, len(r.info))
	for i, e := range r.info {
		out[i] = InfoEntry{Label: e.Label, Value: shallowCopy(e.Value)}
	}

	return out
}

// InfoValue returns the value recorded under label. Map and slice values
// are returned as copies.
func (r *Report) InfoValue(label string) (any, bool) {
	for _, e := range r.info {
		if e.Label == label {
			return shallowCopy(e.Value), true
		}
	}

	return nil, false
}

// shallowCopy copies maps and slices one level deep and returns any other
// value unchanged.
func shallowCopy(v any) any {
	rv := reflect.ValueOf(v)

	switch rv.Kind() {
	case reflect.Map:
		if rv.IsNil() {
			return v
		}

		out := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		for iter := rv.MapRange(); iter.Next(); {
			out.SetMapIndex(iter.Key(), iter.Value())
		}

		return out.Interface()
	case reflect.Slice:
		if rv.IsNil() {
			return v
		}

		out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		reflect.Copy(out, rv)

		return out.Interface()
	default:
		return v
	}
}

// MarshalJSON encodes the report as
//
//	{"time":{"total":N,"partials":{"name":{"time":N}}},"disk":{...},"info":{...}}
//
// keeping recording order for object keys.
func (r *Report) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(`{"time":{"total":`)
	fmt.Fprintf(&buf, "%d", r.total)
	buf.WriteString(`,"partials":`)

	err := writeObject(&buf, len(r.partials), func(i int) (string, any) {
		return r.partials[i].Name, struct {
			Time int64 `json:"time"`
		}{r.partials[i].Time}
	})
	if err != nil {
		return nil, err
	}

	buf.WriteString(`},"disk":`)

	err = writeObject(&buf, len(r.disk), func(i int) (string, any) {
		return r.disk[i].Label, r.disk[i].Value
	})
	if err != nil {
		return nil, err
	}

	buf.WriteString(`,"info":`)

	err = writeObject(&buf, len(r.info), func(i int) (string, any) {
		return r.info[i].Label, r.info[i].Value
	})
	if err != nil {
		return nil, err
	}

	buf.WriteByte('}')

	return buf.Bytes(), nil
}

func writeObject(
	buf *bytes.Buffer,
	n int,
	entry func(i int) (string, any),
) error {
	buf.WriteByte('{')

	for i := 0; i < n; i++ {
		if i > 0 {
			buf.WriteByte(',')
		}

		key, value := entry(i)

		k, err := json.Marshal(key)
		if err != nil {
			return fmt.Errorf("encode key %q: %w", key, err)
		}

		v, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encode value for %q: %w", key, err)
		}

		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}

	buf.WriteByte('}')

	return nil
}
