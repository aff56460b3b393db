package dex

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"poolIndexer/internal/model"
)

// Result pairs a raw log with its decode outcome. Exactly one of Event and Err is set.
type Result struct {
	Log   model.RawLog
	Event model.Event
	Err   error
}

// DecodeBatch decodes logs concurrently with at most workers goroutines and returns the
// results ordered by (block number, log index). Decode failures are reported per result, so the
// returned error is only ever the context error.
func DecodeBatch(ctx context.Context, decoder Decoder, logs []model.RawLog, workers int) ([]Result, error) {
	results := make([]Result, len(logs))
	if len(logs) == 0 {
		return results, nil
	}
	if workers <= 0 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range logs {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			event, err := decoder.Decode(logs[i])
			results[i] = Result{Log: logs[i], Event: event, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(a, b int) bool {
		return model.Less(results[a].Log.BlockNumber, results[a].Log.LogIndex, results[b].Log.BlockNumber, results[b].Log.LogIndex)
	})
	return results, nil
}
