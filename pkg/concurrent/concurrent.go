package concurrent

import (
	"context"

	"github.com/zeusync/universe/pkg/sequence"
	"golang.org/x/sync/errgroup"
)

// Concurrent runs action for each element of the iterator in its own goroutine, at most
// limit at a time (limit <= 0 means unbounded). The first error cancels ctx for the
// remaining actions and is returned once all goroutines finish.
func Concurrent[T any](ctx context.Context, i *sequence.Iterator[T], limit int, action func(context.Context, T) error) error {
	group, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		group.SetLimit(limit)
	}
	next, stop := i.Pull()
	defer stop()

	for {
		value, valid := next()
		if !valid {
			break
		}

		group.Go(func() error {
			return action(ctx, value)
		})
	}

	return group.Wait()
}
