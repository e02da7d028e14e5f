package loader

import (
	"context"
	"fmt"

	"github.com/zeusync/universe/internal/core/universe"
	"github.com/zeusync/universe/pkg/concurrent"
	"github.com/zeusync/universe/pkg/sequence"
)

// LoadAll runs independent loaders concurrently, at most limit at a time, each
// into a fresh Universe. Results keep the order of loaders. The first aborted run
// cancels the context passed to the others.
func LoadAll(ctx context.Context, limit int, loaders ...*Loader) ([]*universe.Universe, error) {
	out := make([]*universe.Universe, len(loaders))
	indexes := make([]int, len(loaders))
	for i := range indexes {
		indexes[i] = i
	}

	err := concurrent.Concurrent(ctx, sequence.From(indexes), limit, func(ctx context.Context, i int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		u, err := loaders[i].Initialize(ctx, nil)
		out[i] = u
		if err != nil {
			return fmt.Errorf("loader %d: %w", i, err)
		}
		return nil
	})
	return out, err
}
