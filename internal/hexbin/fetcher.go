package hexbin

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dsc-hexbins/server/internal/metrics"
)

// SummaryQuerier runs the three per-hexbin summary queries against the data
// service. The predicate is passed through untouched.
type SummaryQuerier interface {
	DepthRange(ctx context.Context, hex HexID, predicate string) (DepthRange, error)
	PhylumCounts(ctx context.Context, hex HexID, predicate string) ([]PhylumCount, error)
	ScientificNameCounts(ctx context.Context, hex HexID, predicate string) ([]ScientificNameCount, error)
}

// Fetcher issues the summary queries for one token and joins them.
type Fetcher struct {
	querier SummaryQuerier
	metrics *metrics.Collector
}

// NewFetcher creates a fetcher. m may be nil.
func NewFetcher(q SummaryQuerier, m *metrics.Collector) *Fetcher {
	return &Fetcher{querier: q, metrics: m}
}

// Fetch runs the depth, phylum and scientific name queries concurrently and
// waits for all three. If any fails the others are cancelled and their data is
// discarded; the result then only carries the error.
func (f *Fetcher) Fetch(ctx context.Context, tok Token) Result {
	start := time.Now()
	f.metrics.IncSummaryFetches()

	var (
		depth DepthRange
		phyla []PhylumCount
		names []ScientificNameCount
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		depth, err = f.querier.DepthRange(gctx, tok.Hex, tok.Predicate)
		if err != nil {
			return fmt.Errorf("depth range: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		phyla, err = f.querier.PhylumCounts(gctx, tok.Hex, tok.Predicate)
		if err != nil {
			return fmt.Errorf("phylum counts: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		names, err = f.querier.ScientificNameCounts(gctx, tok.Hex, tok.Predicate)
		if err != nil {
			return fmt.Errorf("scientific name counts: %w", err)
		}
		return nil
	})

	err := g.Wait()
	f.metrics.ObserveSummaryFetch(time.Since(start))
	if err != nil {
		f.metrics.IncSummaryFetchFailures()
		return Result{Token: tok, Err: fmt.Errorf("summary for %s: %w", tok.Hex, err)}
	}

	if phyla == nil {
		phyla = []PhylumCount{}
	}
	if names == nil {
		names = []ScientificNameCount{}
	}
	return Result{
		Token: tok,
		Summary: &Summary{
			DepthRange:           depth,
			PhylumCounts:         phyla,
			ScientificNameCounts: names,
			SpeciesCount:         SpeciesCount{RawCount: len(names)},
		},
	}
}
