package stream

import "context"

// Collect accumulates every item of src in emission order and returns them
// once src completes. The first failure is returned instead and nothing
// further is read from src.
func Collect[T any](ctx context.Context, src Source[T]) ([]T, error) {
	defer src.Stop()

	var out []T

	items := src.Items()

	for {
		select {
		case v, ok := <-items:
			if !ok {
				if err := src.Err(); err != nil {
					return nil, err
				}

				return out, nil
			}

			out = append(out, v)

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// WaitOption configures Wait.
type WaitOption func(*waitConfig)

type waitConfig struct {
	rejectOnError bool
	onError       func(error)
}

// RejectOnError makes Wait return the source's failure instead of waiting
// for a completion that will never come.
func RejectOnError() WaitOption {
	return func(c *waitConfig) { c.rejectOnError = true }
}

// OnError registers fn to observe a failure of the source.
func OnError(fn func(error)) WaitOption {
	return func(c *waitConfig) { c.onError = fn }
}

// Wait blocks until src completes and returns the number of items it
// emitted. onItem, if not nil, observes every item in order.
//
// A failure of src only ends the wait when RejectOnError is given;
// otherwise it is passed to the OnError hook and Wait keeps blocking until
// ctx is done.
func Wait[T any](
	ctx context.Context,
	src Source[T],
	onItem func(T),
	opts ...WaitOption,
) (int, error) {
	var cfg waitConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	defer src.Stop()

	var n int

	items := src.Items()

	for {
		select {
		case v, ok := <-items:
			if !ok {
				err := src.Err()
				if err == nil {
					return n, nil
				}

				if cfg.onError != nil {
					cfg.onError(err)
				}

				if cfg.rejectOnError {
					return n, err
				}

				<-ctx.Done()

				return n, ctx.Err()
			}

			n++

			if onItem != nil {
				onItem(v)
			}

		case <-ctx.Done():
			return n, ctx.Err()
		}
	}
}
