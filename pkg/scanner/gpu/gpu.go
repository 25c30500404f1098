// Package gpu implements scanner.Backend on top of an accel.Device.
package gpu

import (
	"context"
	"fmt"
	"sync"

	"github.com/Amr-9/StormHunter/pkg/accel"
	"github.com/Amr-9/StormHunter/pkg/derive"
	"github.com/Amr-9/StormHunter/pkg/engine"
	"github.com/Amr-9/StormHunter/pkg/scanner"
	"github.com/lightningnetwork/lnd/clock"
)

// Backend packs candidates into lanes and runs one dispatch per device-sized
// slice of the batch.
type Backend struct {
	dev   accel.Device
	meter *scanner.Meter

	mu    sync.Mutex
	lanes []accel.Lane
	out   []byte
}

// New wraps dev. The backend owns dev and closes it on Close.
func New(dev accel.Device, c clock.Clock) *Backend {
	return &Backend{
		dev:   dev,
		meter: scanner.NewMeter(c),
	}
}

// Name returns the implementation name.
func (b *Backend) Name() string {
	return "GPU " + b.dev.Name()
}

// Stats returns the current performance statistics.
func (b *Backend) Stats() scanner.Stats {
	return b.meter.Stats()
}

// Close releases the device.
func (b *Backend) Close() error {
	return b.dev.Close()
}

// Lane converts a candidate to its device form.
func Lane(c *scanner.Candidate, cfg derive.Config) accel.Lane {
	l := accel.Lane{
		Variant:   uint32(c.Variant),
		Seed:      c.Material.EngineSeed(),
		Timestamp: uint64(c.Material.Timestamp),
	}
	if cfg.Order == derive.Descending {
		l.Flags |= accel.FlagDescending
	}
	if cfg.SinglePass {
		l.Flags |= accel.FlagSinglePass
	}
	if cfg.PointerAdvance {
		l.Flags |= accel.FlagAdvance
	}
	return l
}

// Derive implements scanner.Backend. Errors wrapping
// accel.ErrBackendUnavailable tell the caller to fail over.
func (b *Backend) Derive(_ context.Context,
	req *scanner.Request) ([]scanner.KeyResult, error) {

	k := req.KeysPerSeed
	if k < 1 || k > accel.MaxKeys {
		return nil, fmt.Errorf("%d keys per seed outside [1, %d]", k,
			accel.MaxKeys)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(req.Candidates)
	results := make([]scanner.KeyResult, n)
	keys := make([]derive.PrivateKey, n*k)
	stride := accel.OutputStride(accel.ModeKeys, k)

	for lo := 0; lo < n; lo += b.dev.MaxLanes() {
		hi := min(lo+b.dev.MaxLanes(), n)
		batch := req.Candidates[lo:hi]

		b.lanes = b.lanes[:0]
		for i := range batch {
			b.lanes = append(b.lanes, Lane(&batch[i], req.Derive))
		}
		if need := len(batch) * stride; cap(b.out) < need {
			b.out = make([]byte, need)
		}
		out := b.out[:len(batch)*stride]

		err := b.dev.Dispatch(b.lanes, k, accel.ModeKeys, out)
		if err != nil {
			return nil, err
		}

		for i := range batch {
			c := &batch[i]
			res := &results[lo+i]
			res.Index = c.Index

			if !c.Variant.Valid() || c.Material.EngineSeed() == 0 {
				res.Err = scanner.NewCandidateError(c,
					engine.ErrInvalidSeed)
				continue
			}

			res.Keys = keys[(lo+i)*k : (lo+i+1)*k : (lo+i+1)*k]
			for j := range res.Keys {
				copy(res.Keys[j][:], accel.KeyAt(out, i, j, k))
				if !res.Keys[j].Valid() {
					res.Keys[j] = derive.PrivateKey{}
					res.Bad |= 1 << uint(j)
				}
			}
		}
		b.meter.Add(len(batch))
	}

	return results, nil
}
