package harness

import "time"

type section struct {
	name   string
	start  time.Time
	ms     int64
	closed bool
}

// Timer measures named, flat sections in whole milliseconds. A name can be
// started once and ended once; distinct names may overlap freely.
// Timer is not safe for concurrent use.
type Timer struct {
	now      func() time.Time
	sections map[string]*section
	order    []*section
}

// NewTimer returns an empty Timer reading the wall clock.
func NewTimer() *Timer {
	return &Timer{
		now:      time.Now,
		sections: make(map[string]*section),
	}
}

// Start opens the section name. Reusing a name fails whether or not the
// earlier section was ended.
func (t *Timer) Start(name string) error {
	if _, ok := t.sections[name]; ok {
		return misuse(CodeDuplicateSection,
			"section %q already started", name)
	}

	s := &section{name: name, start: t.now()}
	t.sections[name] = s
	t.order = append(t.order, s)

	return nil
}

// End closes the section name and returns its duration in milliseconds.
func (t *Timer) End(name string) (int64, error) {
	s, ok := t.sections[name]
	if !ok {
		return 0, misuse(CodeUnknownSection,
			"section %q was never started", name)
	}

	if s.closed {
		return 0, misuse(CodeSectionClosed,
			"section %q already ended", name)
	}

	s.ms = max(t.now().Sub(s.start).Milliseconds(), 0)
	s.closed = true

	return s.ms, nil
}

// Partials returns every ended section in start order.
func (t *Timer) Partials() []Partial {
	out := make([]Partial, 0, len(t.order))

	for _, s := range t.order {
		if s.closed {
			out = append(out, Partial{Name: s.name, Time: s.ms})
		}
	}

	return out
}
