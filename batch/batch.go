// Package batch walks a slice in strided batches, the way the scrapers
// spread neighbouring pages over several concurrent fetches.
//
// With 10 items and 3 parts the stride is 4 and the batches are
//
//	[0 4 8] [1 5 9] [2 6] [3 7]
//
// Indices past the end of the slice are skipped, so every item lands in
// exactly one batch and the trailing batches may be shorter.
package batch

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidParts is returned when parts is below one.
var ErrInvalidParts = errors.New("batch: parts must be at least 1")

// Partition splits items into strided batches of at most parts items.
// The batches share no backing array with items.
func Partition[T any](items []T, parts int) ([][]T, error) {
	if parts < 1 {
		return nil, ErrInvalidParts
	}
	if len(items) == 0 {
		return nil, nil
	}

	stride := (len(items)-1)/parts + 1
	batches := make([][]T, 0, stride)
	for i := range stride {
		b := make([]T, 0, min(parts, len(items)))
		for j := range parts {
			k := i + j*stride
			if k >= len(items) {
				break
			}
			b = append(b, items[k])
		}
		batches = append(batches, b)
	}
	return batches, nil
}

// Strided calls fn once per batch, in order, waiting for each call to
// return before starting the next. fn typically fans the batch out to
// concurrent work and waits for it.
//
// The first error stops the walk and is returned wrapped with the batch
// index. ctx is checked before every batch.
//
// Example:
//
//	err := batch.Strided(ctx, pages, 4, func(ctx context.Context, b []int) error {
//	    futures := make([]*pool.Future[[]Row], len(b))
//	    for i, page := range b {
//	        futures[i] = pool.Push(p, fetchPage(page))
//	    }
//	    _, err := pool.All(ctx, futures...)
//	    return err
//	})
func Strided[T any](ctx context.Context, items []T, parts int, fn func(ctx context.Context, batch []T) error) error {
	batches, err := Partition(items, parts)
	if err != nil {
		return err
	}

	for i, b := range batches {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(ctx, b); err != nil {
			return fmt.Errorf("batch %d: %w", i, err)
		}
	}
	return nil
}
