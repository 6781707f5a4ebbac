package scrape

import (
	"context"
	"fmt"
)

// PageFunc fetches the rows of one page, numbered from 1. An empty result
// marks the end of the listing.
type PageFunc func(ctx context.Context, page int) ([][]string, error)

// Paginate reads pages 1, 2, ... until fetch returns no rows or maxPages
// pages have been read (maxPages <= 0 means no limit), handing the rows
// of every non-empty page to emit. It returns the number of non-empty
// pages.
func Paginate(ctx context.Context, maxPages int, fetch PageFunc, emit func(page int, rows [][]string) error) (int, error) {
	pages := 0
	for page := 1; maxPages <= 0 || page <= maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return pages, err
		}

		rows, err := fetch(ctx, page)
		if err != nil {
			return pages, fmt.Errorf("page %d: %w", page, err)
		}
		if len(rows) == 0 {
			return pages, nil
		}

		pages++
		if err := emit(page, rows); err != nil {
			return pages, fmt.Errorf("page %d: %w", page, err)
		}
	}
	return pages, nil
}
