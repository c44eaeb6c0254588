// Package stream drains push-based sequences into single results.
//
// A producer pushes items into a Pipe and finishes it exactly once, either
// by closing it (completion) or failing it (error). Consumers see the
// sequence through the Source interface and resolve it with Collect or Wait.
package stream

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrStopped is returned to a producer once the consumer stopped listening.
	ErrStopped = errors.New("stream: consumer stopped")

	// ErrFinished is returned by Send after the pipe was closed or failed.
	ErrFinished = errors.New("stream: pipe already finished")

	errUnspecified = errors.New("stream: failed")
)

// Source is a push-based sequence of items.
type Source[T any] interface {
	// Items delivers items in emission order. It is closed when the
	// sequence completes or fails.
	Items() <-chan T

	// Err reports why the sequence ended: nil on completion. It is only
	// meaningful once Items has been closed.
	Err() error

	// Stop tells the producer that nothing more will be consumed.
	Stop()
}

// Pipe is a Source fed by a single producer goroutine. Send, Close and Fail
// must be called from that goroutine; Items, Err and Stop may be called
// from anywhere.
type Pipe[T any] struct {
	items   chan T
	stopped chan struct{}

	stopOnce sync.Once

	mu       sync.Mutex
	finished bool
	err      error
}

// NewPipe creates a pipe whose Items channel holds up to buffer items.
func NewPipe[T any](buffer int) *Pipe[T] {
	if buffer < 0 {
		buffer = 0
	}

	return &Pipe[T]{
		items:   make(chan T, buffer),
		stopped: make(chan struct{}),
	}
}

// Items implements Source.
func (p *Pipe[T]) Items() <-chan T {
	return p.items
}

// Err implements Source.
func (p *Pipe[T]) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.err
}

// Stop implements Source. It is safe to call more than once.
func (p *Pipe[T]) Stop() {
	p.stopOnce.Do(func() { close(p.stopped) })
}

// Stopped is closed once the consumer called Stop.
func (p *Pipe[T]) Stopped() <-chan struct{} {
	return p.stopped
}

// Send pushes v to the consumer, blocking while the buffer is full.
func (p *Pipe[T]) Send(ctx context.Context, v T) error {
	p.mu.Lock()
	finished := p.finished
	p.mu.Unlock()

	if finished {
		return ErrFinished
	}

	select {
	case <-p.stopped:
		return ErrStopped
	default:
	}

	select {
	case p.items <- v:
		return nil
	case <-p.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close signals completion. Only the first of Close and Fail has effect.
func (p *Pipe[T]) Close() {
	p.finish(nil)
}

// Fail signals failure with err. Only the first of Close and Fail has effect.
func (p *Pipe[T]) Fail(err error) {
	if err == nil {
		err = errUnspecified
	}

	p.finish(err)
}

func (p *Pipe[T]) finish(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.finished {
		return
	}

	p.finished = true
	p.err = err
	close(p.items)
}

// Run calls produce with a send function bound to the pipe and finishes the
// pipe with its result. A producer that returns ErrStopped because the
// consumer went away completes the pipe normally.
func (p *Pipe[T]) Run(
	ctx context.Context,
	produce func(ctx context.Context, send func(T) error) error,
) {
	err := produce(ctx, func(v T) error { return p.Send(ctx, v) })
	if err != nil && !errors.Is(err, ErrStopped) {
		p.Fail(err)

		return
	}

	p.Close()
}

// Go starts produce on its own goroutine and returns the consumer side.
func Go[T any](
	ctx context.Context,
	buffer int,
	produce func(ctx context.Context, send func(T) error) error,
) Source[T] {
	p := NewPipe[T](buffer)
	go p.Run(ctx, produce)

	return p
}

// Of returns a completed Source holding items.
func Of[T any](items ...T) Source[T] {
	p := NewPipe[T](len(items))
	for _, v := range items {
		p.items <- v
	}
	p.Close()

	return p
}

// Failed returns a Source that yields items and then fails with err.
func Failed[T any](err error, items ...T) Source[T] {
	p := NewPipe[T](len(items))
	for _, v := range items {
		p.items <- v
	}
	p.Fail(err)

	return p
}
