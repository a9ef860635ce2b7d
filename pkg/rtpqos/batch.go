package rtpqos

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// LegResult is the outcome of analysing one Leg.
type LegResult struct {
	ID    string
	Stats *StreamStats
	Err   error
}

// AnalyzeAll analyses independent legs on up to workers goroutines and returns
// one result per leg in input order. A leg's analysis error is reported in its
// LegResult and does not stop the others. If ctx is cancelled, legs not yet
// started carry ctx.Err() and AnalyzeAll returns it.
//
// workers <= 0 uses GOMAXPROCS.
func (a *Analyzer) AnalyzeAll(ctx context.Context, legs []Leg, workers int) ([]LegResult, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	results := make([]LegResult, len(legs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := range legs {
		leg := legs[i]
		results[i].ID = leg.ID
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			results[i].Stats, results[i].Err = a.Analyze(leg.Packets)
			return nil
		})
	}

	_ = g.Wait()
	return results, ctx.Err()
}
