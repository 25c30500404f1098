// Package cpu implements scanner.Backend with goroutines.
package cpu

import (
	"context"
	"runtime"

	"github.com/Amr-9/StormHunter/pkg/derive"
	"github.com/Amr-9/StormHunter/pkg/scanner"
	"github.com/lightningnetwork/lnd/clock"
	"golang.org/x/sync/errgroup"
)

// Backend splits each batch into one chunk per worker. Every worker owns its
// own pipeline scratch space, so candidates share no mutable state.
type Backend struct {
	workers int
	meter   *scanner.Meter
}

// Config holds the backend settings.
type Config struct {
	// Workers is the number of goroutines per batch. Zero means one per
	// CPU core.
	Workers int

	// Clock drives Stats. Nil uses the system clock.
	Clock clock.Clock
}

// New creates a CPU backend.
func New(cfg Config) *Backend {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Backend{
		workers: workers,
		meter:   scanner.NewMeter(cfg.Clock),
	}
}

// Name returns the implementation name.
func (b *Backend) Name() string {
	return "CPU"
}

// Stats returns the current performance statistics.
func (b *Backend) Stats() scanner.Stats {
	return b.meter.Stats()
}

// Close is a no-op.
func (b *Backend) Close() error {
	return nil
}

// Derive implements scanner.Backend. A batch always runs to completion;
// cancellation is observed by the caller between batches.
func (b *Backend) Derive(_ context.Context,
	req *scanner.Request) ([]scanner.KeyResult, error) {

	n := len(req.Candidates)
	k := req.KeysPerSeed
	results := make([]scanner.KeyResult, n)
	keys := make([]derive.PrivateKey, n*k)

	chunk := (n + b.workers - 1) / b.workers
	if chunk == 0 {
		return results, nil
	}

	var g errgroup.Group
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		g.Go(func() error {
			p := derive.NewPipeline(req.Derive)
			for i := lo; i < hi; i++ {
				c := &req.Candidates[i]
				res := &results[i]
				res.Index = c.Index
				res.Keys = keys[i*k : (i+1)*k : (i+1)*k]

				bad, err := p.Keys(c.Material, c.Variant, res.Keys)
				switch {
				case err == nil:
					res.Bad = bad
				case derive.IsInvalidSeed(err):
					res.Keys = nil
					res.Err = scanner.NewCandidateError(c, err)
				default:
					return err
				}
			}
			b.meter.Add(hi - lo)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}
