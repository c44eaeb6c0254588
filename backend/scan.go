package backend

import (
	"context"
	"sync"

	"github.com/weiihann/kvbench/stream"
)

const scanBuffer = 256

// scanner tracks in-flight scans so Close can release their producers
// before the engine goes away.
type scanner struct {
	mu     sync.Mutex
	active map[*stream.Pipe[KV]]struct{}
	wg     sync.WaitGroup
}

func (s *scanner) start(
	ctx context.Context,
	produce func(ctx context.Context, send func(KV) error) error,
) stream.Source[KV] {
	pipe := stream.NewPipe[KV](scanBuffer)

	s.mu.Lock()
	if s.active == nil {
		s.active = make(map[*stream.Pipe[KV]]struct{})
	}
	s.active[pipe] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.active, pipe)
			s.mu.Unlock()
			s.wg.Done()
		}()

		pipe.Run(ctx, produce)
	}()

	return pipe
}

// stopAll stops every in-flight scan and waits for the producers to exit.
func (s *scanner) stopAll() {
	s.mu.Lock()
	for pipe := range s.active {
		pipe.Stop()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func failedScan(err error) stream.Source[KV] {
	return stream.Failed[KV](err)
}
