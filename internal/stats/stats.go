// Package stats computes per-row aggregate counts. Rows are processed
// concurrently; the queries of one row run one after another. A failing
// query leaves its value at zero and never fails the page.
package stats

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Counter counts the records of a collection matching a filter.
type Counter interface {
	Count(ctx context.Context, collection, filter string) (int, error)
}

// Step is one query run for a row. It writes its result into out only on
// success.
type Step[R, S any] struct {
	Name string
	Run  func(ctx context.Context, row R, out *S) error
}

type Options struct {
	// Limit bounds the number of rows processed at once. Zero means 8.
	Limit  int
	Logger *slog.Logger
}

// Collect runs steps for every row and returns one result per row, in row
// order. init seeds each result from its row. Only cancellation of ctx is
// returned as an error.
func Collect[R, S any](ctx context.Context, rows []R, opts Options, init func(R) S, steps ...Step[R, S]) ([]S, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 8
	}

	out := make([]S, len(rows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, row := range rows {
		out[i] = init(row)
		g.Go(func() error {
			for _, st := range steps {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := st.Run(gctx, row, &out[i]); err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					logger.Warn("stats query failed", "query", st.Name, "row", i, "error", err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// CountStep builds a step that counts records of collection matching the
// filter derived from the row and stores the count with set.
func CountStep[R, S any](c Counter, name, collection string, filter func(R) string, set func(*S, int)) Step[R, S] {
	return Step[R, S]{
		Name: name,
		Run: func(ctx context.Context, row R, out *S) error {
			n, err := c.Count(ctx, collection, filter(row))
			if err != nil {
				return err
			}
			set(out, n)
			return nil
		},
	}
}

// LastActivity returns the latest of the non-zero candidates, or the zero
// time when all are absent.
func LastActivity(candidates ...time.Time) time.Time {
	var latest time.Time
	for _, t := range candidates {
		if !t.IsZero() && t.After(latest) {
			latest = t
		}
	}
	return latest
}
