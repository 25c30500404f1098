package gpu

import (
	"context"
	"testing"

	"github.com/Amr-9/StormHunter/pkg/accel"
	"github.com/Amr-9/StormHunter/pkg/derive"
	"github.com/Amr-9/StormHunter/pkg/engine"
	"github.com/Amr-9/StormHunter/pkg/fingerprint"
	"github.com/Amr-9/StormHunter/pkg/scanner"
	"github.com/Amr-9/StormHunter/pkg/scanner/cpu"
	"github.com/Amr-9/StormHunter/pkg/seed"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// smallEmulator forces multi-dispatch batches.
type smallEmulator struct {
	*accel.Emulator
	dispatches int
}

func (s *smallEmulator) MaxLanes() int { return 3 }

func (s *smallEmulator) Dispatch(lanes []accel.Lane, keys int,
	mode accel.Mode, out []byte) error {

	s.dispatches++
	return s.Emulator.Dispatch(lanes, keys, mode, out)
}

type failingDevice struct {
	accel.Device
}

func (failingDevice) MaxLanes() int { return 16 }

func (failingDevice) Dispatch([]accel.Lane, int, accel.Mode, []byte) error {
	return accel.ErrBackendUnavailable
}

func TestBackendMatchesCPU(t *testing.T) {
	dev := &smallEmulator{Emulator: accel.NewEmulator(2)}
	g := New(dev, nil)
	c := cpu.New(cpu.Config{Workers: 2})

	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 10).Draw(t, "n")
		cs := make([]scanner.Candidate, n)
		for i := range cs {
			ts := rapid.Int64Range(1, 1<<42).Draw(t, "ts")
			m, err := seed.Build(ts, fingerprint.Synthetic())
			require.NoError(t, err)
			cs[i] = scanner.Candidate{
				Index:    uint64(i),
				Material: m,
				Variant: rapid.SampledFrom(
					engine.Variants()).Draw(t, "v"),
			}
		}

		req := &scanner.Request{
			Candidates:  cs,
			KeysPerSeed: rapid.IntRange(1, 3).Draw(t, "k"),
			Derive: derive.Config{
				Order: rapid.SampledFrom([]derive.Order{
					derive.Ascending, derive.Descending,
				}).Draw(t, "order"),
				SinglePass: rapid.Bool().Draw(t, "single"),
			},
		}

		want, err := c.Derive(context.Background(), req)
		require.NoError(t, err)
		got, err := g.Derive(context.Background(), req)
		require.NoError(t, err)
		require.Equal(t, want, got)
	})

	require.Greater(t, dev.dispatches, 1)
}

func TestBackendInvalidVariant(t *testing.T) {
	g := New(accel.NewEmulator(1), nil)

	m, err := seed.Build(1325376000000, fingerprint.Synthetic())
	require.NoError(t, err)

	res, err := g.Derive(context.Background(), &scanner.Request{
		Candidates: []scanner.Candidate{
			{Index: 0, Material: m, Variant: engine.VariantUnknown},
			{Index: 1, Material: m, Variant: engine.MWC1616},
		},
		KeysPerSeed: 1,
	})
	require.NoError(t, err)
	require.ErrorIs(t, res[0].Err, engine.ErrInvalidSeed)
	require.NoError(t, res[1].Err)
	require.Equal(t, uint64(2), g.Stats().Attempts)
}

func TestBackendPropagatesUnavailable(t *testing.T) {
	g := New(failingDevice{}, nil)

	m, err := seed.Build(1325376000000, fingerprint.Synthetic())
	require.NoError(t, err)

	_, err = g.Derive(context.Background(), &scanner.Request{
		Candidates:  []scanner.Candidate{{Material: m, Variant: engine.LCG48}},
		KeysPerSeed: 1,
	})
	require.ErrorIs(t, err, accel.ErrBackendUnavailable)
}
