package translate

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// Partitioning
// ---------------------------------------------------------------------------

// SplitBatches partitions sources into ceil(len(sources)/size) contiguous
// batches in document order. The last batch may be shorter. A size below 1
// uses DefaultBatchSize.
func SplitBatches(sources []string, size int, lang, label string) []Batch {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var batches []Batch
	for i := 0; i < len(sources); i += size {
		end := i + size
		if end > len(sources) {
			end = len(sources)
		}
		batches = append(batches, Batch{
			Index:    len(batches),
			Sources:  sources[i:end],
			Language: lang,
			Label:    label,
		})
	}
	return batches
}

// ---------------------------------------------------------------------------
// Aggregation
// ---------------------------------------------------------------------------

// Aggregator merges batch results into one mapping keyed by source text. It
// is safe for concurrent use. When the same source text arrives from several
// batches the last merge wins.
type Aggregator struct {
	mu        sync.Mutex
	results   map[string]TranslationResult
	fallbacks int
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{results: make(map[string]TranslationResult)}
}

// Merge adds results to the mapping.
func (a *Aggregator) Merge(results []TranslationResult) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range results {
		a.results[r.Source] = r
		if r.Fallback {
			a.fallbacks++
		}
	}
}

// MergeFallback resolves every source to itself and marks it as a fallback.
func (a *Aggregator) MergeFallback(sources []string) {
	a.Merge(fallbackResults(sources))
}

// Results returns a copy of the mapping.
func (a *Aggregator) Results() map[string]TranslationResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]TranslationResult, len(a.results))
	for k, v := range a.results {
		out[k] = v
	}
	return out
}

// Fallbacks returns the number of merged units that were resolved by
// identity fallback.
func (a *Aggregator) Fallbacks() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fallbacks
}

// ---------------------------------------------------------------------------
// Worker pool
// ---------------------------------------------------------------------------

// BatchFunc translates one batch. A returned error, a panic, or a result list
// of the wrong length resolves the batch to identity fallback.
type BatchFunc func(ctx context.Context, b Batch) ([]TranslationResult, error)

// RunOptions configures RunBatches.
type RunOptions struct {
	// MaxWorkers caps the number of batches in flight (default 3).
	MaxWorkers int
	// OnBatchDone is called from the collecting goroutine after each batch
	// has been merged.
	OnBatchDone func(done, total int)
	Logger      zerolog.Logger
}

type batchOutcome struct {
	batch   Batch
	results []TranslationResult
	err     error
}

// RunBatches submits batches in order to a pool of at most MaxWorkers
// goroutines and merges every outcome, in completion order, into a new
// Aggregator. It returns after all batches have completed.
func RunBatches(ctx context.Context, batches []Batch, fn BatchFunc, opts RunOptions) *Aggregator {
	agg := NewAggregator()
	if len(batches) == 0 {
		return agg
	}
	workers := opts.MaxWorkers
	if workers <= 0 {
		workers = DefaultMaxWorkers
	}

	outcomes := make(chan batchOutcome, len(batches))
	go func() {
		sem := make(chan struct{}, workers)
		var wg sync.WaitGroup
		for _, b := range batches {
			sem <- struct{}{}
			wg.Add(1)
			go func(b Batch) {
				defer func() {
					<-sem
					wg.Done()
				}()
				outcomes <- runOne(ctx, b, fn)
			}(b)
		}
		wg.Wait()
		close(outcomes)
	}()

	done := 0
	for out := range outcomes {
		done++
		switch {
		case out.err != nil:
			opts.Logger.Error().Err(out.err).Int("batch", out.batch.Index).Msg("batch failed, using source text")
			agg.MergeFallback(out.batch.Sources)
		case len(out.results) != len(out.batch.Sources):
			opts.Logger.Error().Int("batch", out.batch.Index).
				Int("expected", len(out.batch.Sources)).Int("got", len(out.results)).
				Msg("batch returned wrong number of results, using source text")
			agg.MergeFallback(out.batch.Sources)
		default:
			agg.Merge(out.results)
		}
		if opts.OnBatchDone != nil {
			opts.OnBatchDone(done, len(batches))
		}
	}
	return agg
}

func runOne(ctx context.Context, b Batch, fn BatchFunc) (out batchOutcome) {
	out.batch = b
	defer func() {
		if r := recover(); r != nil {
			out.results = nil
			out.err = fmt.Errorf("batch %d panicked: %v", b.Index, r)
		}
	}()
	out.results, out.err = fn(ctx, b)
	return out
}
