package dynamo

import (
	"context"
	"runtime"
	"sync"
)

// Ensemble runs the same closed-loop system from many initial conditions in
// parallel. Integrators keep per-instance scratch buffers and Simulator is
// not thread-safe, so each worker builds its own pair from the factory.
type Ensemble struct {
	dyn       System
	newInteg  func() Integrator
	ctrl      Controller
	seedStart int64
}

func NewEnsemble(dyn System, newInteg func() Integrator, ctrl Controller, seedStart int64) *Ensemble {
	return &Ensemble{dyn: dyn, newInteg: newInteg, ctrl: ctrl, seedStart: seedStart}
}

func (e *Ensemble) Run(ctx context.Context, starts []State, cfg Config) ([]*Result, error) {
	results := make([]*Result, len(starts))
	errs := make([]error, len(starts))

	ParallelFor(len(starts), 1, func(start, end int) {
		s := New(e.dyn, e.newInteg(), e.ctrl)
		for i := start; i < end; i++ {
			cfgCopy := cfg
			cfgCopy.Seed = e.seedStart + int64(i)
			results[i], errs[i] = s.Run(ctx, starts[i], cfgCopy)
		}
	})

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	return results, nil
}

// ParallelFor executes a function in parallel over a range [0, n).
// Chunks smaller than minChunk run serially.
func ParallelFor(n, minChunk int, fn func(start, end int)) {
	numWorkers := runtime.NumCPU()
	if n <= minChunk || numWorkers <= 1 {
		fn(0, n)
		return
	}

	workers := numWorkers
	if n/minChunk < workers {
		workers = n / minChunk
	}
	if workers < 1 {
		workers = 1
	}

	chunkSize := (n + workers - 1) / workers

	var wg sync.WaitGroup
	wg.Add(workers)

	for w := 0; w < workers; w++ {
		start := w * chunkSize
		end := start + chunkSize
		if end > n {
			end = n
		}

		go func(s, e int) {
			defer wg.Done()
			fn(s, e)
		}(start, end)
	}

	wg.Wait()
}
