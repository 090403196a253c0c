package extractor

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"autograb/internal/domain"
)

const defaultParseWorkers = 2

// Parsed is the outcome of ParseOffer for one block.
type Parsed struct {
	Offer domain.OfferRecord
	OK    bool
}

// Pool runs ParseOffer on a bounded number of goroutines so large order lists
// do not stall message intake.
type Pool struct {
	sem *semaphore.Weighted
}

// NewPool returns a Pool with the given worker bound; non-positive values use
// the default of two.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = defaultParseWorkers
	}
	return &Pool{sem: semaphore.NewWeighted(int64(workers))}
}

// ParseAll parses every block and returns the results in input order. It only
// fails when ctx is done before all blocks were scheduled.
func (p *Pool) ParseAll(ctx context.Context, blocks []string) ([]Parsed, error) {
	out := make([]Parsed, len(blocks))
	if len(blocks) == 1 {
		rec, ok := ParseOffer(blocks[0])
		out[0] = Parsed{Offer: rec, OK: ok}
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, block := range blocks {
		if err := p.sem.Acquire(gctx, 1); err != nil {
			_ = g.Wait()
			return nil, err
		}
		g.Go(func() error {
			defer p.sem.Release(1)
			rec, ok := ParseOffer(block)
			out[i] = Parsed{Offer: rec, OK: ok}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
