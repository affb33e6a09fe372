package batch

import (
	"context"
	"runtime"
	"sync"

	"github.com/seqfold/snpbatch/internal/sequence"
	"github.com/seqfold/snpbatch/internal/snp"
)

// BuildItem is one variant queued for sequence construction.
type BuildItem struct {
	// Seq is the item's position in the input order, used to restore
	// ordering after parallel processing.
	Seq int
	Rec *snp.Record
}

// BuildResult carries the built sequences for one variant and, when
// negative controls are enabled, its control. Main and control have
// independent errors: a control failure never taints the main variant
// and vice versa.
type BuildResult struct {
	Seq int
	Rec *snp.Record

	Main    *sequence.Result
	MainErr error

	Control    *sequence.Result
	ControlErr error
}

// buildFunc constructs the sequences for one record. Seq and Rec on the
// returned result are filled in by the pool.
type buildFunc func(ctx context.Context, rec *snp.Record) BuildResult

// DefaultWorkers returns the worker count used when none is configured.
// Two CPUs are held back for the sequential model stage and the
// collector, with a floor of one.
func DefaultWorkers() int {
	n := runtime.NumCPU() - 2
	if n < 1 {
		n = 1
	}
	return n
}

// ParallelBuild runs sequence construction for items on a pool of
// workers. Results arrive in completion order; use OrderedCollect to
// consume them in input order. The pool only builds sequences and never
// touches the model. If workers is <= 0, DefaultWorkers is used.
func ParallelBuild(ctx context.Context, items <-chan BuildItem, workers int, build buildFunc) <-chan BuildResult {
	if workers <= 0 {
		workers = DefaultWorkers()
	}

	results := make(chan BuildResult, 2*workers)

	var wg sync.WaitGroup
	wg.Add(workers)
	for range workers {
		go func() {
			defer wg.Done()
			for item := range items {
				r := build(ctx, item.Rec)
				r.Seq = item.Seq
				r.Rec = item.Rec
				results <- r
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	return results
}

// OrderedCollect consumes results and calls fn for each one in
// sequence-number order, buffering out-of-order arrivals. If fn returns
// an error, remaining results are drained so the workers can finish,
// then the error is returned.
func OrderedCollect(results <-chan BuildResult, fn func(BuildResult) error) error {
	pending := make(map[int]BuildResult)
	nextSeq := 0

	for r := range results {
		pending[r.Seq] = r

		for {
			next, ok := pending[nextSeq]
			if !ok {
				break
			}
			delete(pending, nextSeq)
			nextSeq++

			if err := fn(next); err != nil {
				for range results {
				}
				return err
			}
		}
	}

	return nil
}
