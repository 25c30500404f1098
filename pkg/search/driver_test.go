package search

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Amr-9/StormHunter/pkg/accel"
	"github.com/Amr-9/StormHunter/pkg/address"
	"github.com/Amr-9/StormHunter/pkg/checkpoint"
	"github.com/Amr-9/StormHunter/pkg/derive"
	"github.com/Amr-9/StormHunter/pkg/engine"
	"github.com/Amr-9/StormHunter/pkg/fingerprint"
	"github.com/Amr-9/StormHunter/pkg/scanner"
	"github.com/Amr-9/StormHunter/pkg/scanner/cpu"
	"github.com/Amr-9/StormHunter/pkg/scanner/gpu"
	"github.com/Amr-9/StormHunter/pkg/target"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

const scenarioTimestamp = 1325376000000

// testSpace straddles new year 2012 with one fingerprint on each side, the
// 2012 one first.
func testSpace() Space {
	late := fingerprint.Synthetic()
	late.ID = "synthetic-2012"
	late.YearMin = 2012

	early := fingerprint.Synthetic()
	early.ID = "synthetic-2011"
	early.YearMax = 2011

	return Space{
		Start:        scenarioTimestamp - 20,
		End:          scenarioTimestamp + 20,
		Step:         1,
		Fingerprints: []fingerprint.Fingerprint{late, early},
	}
}

// addressOf returns the compressed address of candidate i of s.
func addressOf(t *testing.T, s *Space, i uint64) string {
	c, err := s.At(i)
	require.NoError(t, err)

	key, err := derive.Derive(c.Material, c.Variant, s.Derive)
	require.NoError(t, err)

	set, err := address.Derive(key, s.Address)
	require.NoError(t, err)
	return set.Compressed
}

func newDriver(t *testing.T, cfg Config) *Driver {
	if cfg.Backend == nil {
		cfg.Backend = cpu.New(cpu.Config{Workers: 2})
	}
	d, err := New(cfg)
	require.NoError(t, err)
	return d
}

func TestScanFindsScenarioKey(t *testing.T) {
	space := Space{
		Start:        scenarioTimestamp - 5,
		End:          scenarioTimestamp + 5,
		Step:         1,
		Fingerprints: []fingerprint.Fingerprint{fingerprint.Synthetic()},
		Variants:     []engine.Variant{engine.MWC1616},
	}
	m, err := target.New([]string{"1KYpuDMkzqiC2je88aq9vVhXLJvnYqokZh"},
		target.Options{})
	require.NoError(t, err)

	var last scanner.Progress
	d := newDriver(t, Config{
		BatchSize:  3,
		OnProgress: func(p scanner.Progress) { last = p },
	})

	findings, err := d.Scan(context.Background(), space, m)
	require.NoError(t, err)
	require.Equal(t, []scanner.Finding{{
		Address:       "1KYpuDMkzqiC2je88aq9vVhXLJvnYqokZh",
		Kind:          address.KindCompressed,
		Timestamp:     scenarioTimestamp,
		FingerprintID: "synthetic-chrome-win7",
		Variant:       engine.MWC1616,
	}}, findings)

	require.Equal(t, uint64(10), last.CandidatesCompleted)
	require.Equal(t, uint64(10), last.CandidatesTotal)
	require.Equal(t, 1, last.FindingsSoFar)
}

// countingBackend records which candidates were derived and can cancel
// the scan after a number of batches.
type countingBackend struct {
	scanner.Backend

	mu      sync.Mutex
	indexes map[uint64]int
	batches int

	cancelAfter int
	cancel      context.CancelFunc
}

func (b *countingBackend) Derive(ctx context.Context,
	req *scanner.Request) ([]scanner.KeyResult, error) {

	b.mu.Lock()
	for _, c := range req.Candidates {
		b.indexes[c.Index]++
	}
	b.batches++
	if b.cancel != nil && b.batches == b.cancelAfter {
		b.cancel()
	}
	b.mu.Unlock()

	return b.Backend.Derive(ctx, req)
}

func TestResumeMatchesUninterruptedScan(t *testing.T) {
	space := testSpace()
	total := space.Total()
	require.Equal(t, uint64(2*4*20), total)

	// Targets spread over the whole enumeration, under both fingerprints.
	var targets []string
	for _, i := range []uint64{3, 39, 77, 80, 119, 121, 159} {
		targets = append(targets, addressOf(t, &space, i))
	}
	m, err := target.New(targets, target.Options{})
	require.NoError(t, err)

	want, err := newDriver(t, Config{BatchSize: 16}).Scan(
		context.Background(), space, m)
	require.NoError(t, err)
	require.NotEmpty(t, want)

	path := filepath.Join(t.TempDir(), "scan.ckpt")
	ctx, cancel := context.WithCancel(context.Background())
	counter := &countingBackend{
		Backend:     cpu.New(cpu.Config{Workers: 2}),
		indexes:     make(map[uint64]int),
		cancelAfter: 9,
		cancel:      cancel,
	}

	mgr, err := checkpoint.Open(path, checkpoint.Config{})
	require.NoError(t, err)
	partial, err := newDriver(t, Config{
		Backend:    counter,
		BatchSize:  16,
		Checkpoint: mgr,
	}).Scan(ctx, space, m)
	require.ErrorIs(t, err, context.Canceled)
	require.NoError(t, mgr.Close())
	require.Less(t, len(partial), len(want))

	counter.cancel = nil
	mgr, err = checkpoint.Open(path, checkpoint.Config{})
	require.NoError(t, err)
	defer mgr.Close()

	got, err := newDriver(t, Config{
		Backend:    counter,
		BatchSize:  16,
		Checkpoint: mgr,
	}).Scan(context.Background(), space, m)
	require.NoError(t, err)
	require.Equal(t, want, got)

	// Every candidate was derived exactly once across both runs.
	require.Len(t, counter.indexes, int(total))
	for i, n := range counter.indexes {
		require.Equal(t, 1, n, "candidate %d", i)
	}

	cp, err := mgr.Load()
	require.NoError(t, err)
	require.Equal(t, total, cp.UnwrapOrFail(t).Cursor)
}

// fingerprintBackend records the fingerprint of every derived candidate.
type fingerprintBackend struct {
	scanner.Backend

	mu  sync.Mutex
	ids map[string]int
}

func (b *fingerprintBackend) Derive(ctx context.Context,
	req *scanner.Request) ([]scanner.KeyResult, error) {

	b.mu.Lock()
	for _, c := range req.Candidates {
		b.ids[c.Material.Fingerprint.Key()]++
	}
	b.mu.Unlock()

	return b.Backend.Derive(ctx, req)
}

func TestScanSkipsInactiveFingerprints(t *testing.T) {
	late := fingerprint.Synthetic()
	late.ID = "synthetic-2016"
	late.YearMin, late.YearMax = 2016, 2018

	dup := fingerprint.Synthetic()
	dup.ID = "synthetic-copy"

	space := Space{
		Start: scenarioTimestamp - 5,
		End:   scenarioTimestamp + 5,
		Step:  1,
		Fingerprints: []fingerprint.Fingerprint{
			fingerprint.Synthetic(), late, dup,
		},
	}
	m, err := target.New([]string{"1KYpuDMkzqiC2je88aq9vVhXLJvnYqokZh"},
		target.Options{})
	require.NoError(t, err)

	b := &fingerprintBackend{
		Backend: cpu.New(cpu.Config{Workers: 2}),
		ids:     make(map[string]int),
	}
	findings, err := newDriver(t, Config{Backend: b, BatchSize: 8}).Scan(
		context.Background(), space, m)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	require.Equal(t, "synthetic-chrome-win7", findings[0].FingerprintID)

	// Neither the out-of-window nor the duplicate fingerprint derives
	// anything.
	require.Equal(t, map[string]int{"synthetic-chrome-win7": 4 * 10}, b.ids)
}

func TestResumeRefusesOtherSpace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.ckpt")
	mgr, err := checkpoint.Open(path, checkpoint.Config{})
	require.NoError(t, err)
	defer mgr.Close()

	space := testSpace()
	m, err := target.New([]string{addressOf(t, &space, 0)},
		target.Options{})
	require.NoError(t, err)

	d := newDriver(t, Config{Checkpoint: mgr})
	_, err = d.Scan(context.Background(), space, m)
	require.NoError(t, err)

	space.End++
	_, err = d.Scan(context.Background(), space, m)
	require.ErrorIs(t, err, ErrSpaceMismatch)
}

// lyingBackend replaces one candidate's key with a different valid key.
type lyingBackend struct {
	scanner.Backend
	index uint64
	key   derive.PrivateKey
}

func (b *lyingBackend) Derive(ctx context.Context,
	req *scanner.Request) ([]scanner.KeyResult, error) {

	res, err := b.Backend.Derive(ctx, req)
	for i := range res {
		if res[i].Index == b.index {
			res[i].Keys[0] = b.key
		}
	}
	return res, err
}

func TestParityMismatchIsFatal(t *testing.T) {
	space := testSpace()

	forged := derive.PrivateKey{31: 1}
	set, err := address.Derive(forged, address.Options{})
	require.NoError(t, err)

	m, err := target.New([]string{set.Compressed}, target.Options{})
	require.NoError(t, err)

	d := newDriver(t, Config{
		Backend: &lyingBackend{
			Backend: cpu.New(cpu.Config{Workers: 1}),
			index:   42,
			key:     forged,
		},
		BatchSize: 32,
	})
	_, err = d.Scan(context.Background(), space, m)
	require.ErrorIs(t, err, scanner.ErrParityMismatch)

	var cerr *scanner.CandidateError
	require.ErrorAs(t, err, &cerr)
	require.NotContains(t, err.Error(), "0000000000000001")
}

// flakyDevice gives out after its first dispatch.
type flakyDevice struct {
	*accel.Emulator
	calls int
}

func (f *flakyDevice) Dispatch(lanes []accel.Lane, keys int,
	mode accel.Mode, out []byte) error {

	f.calls++
	if f.calls > 1 {
		return accel.ErrBackendUnavailable
	}
	return f.Emulator.Dispatch(lanes, keys, mode, out)
}

func TestFailoverToCPUMidScan(t *testing.T) {
	space := testSpace()
	m, err := target.New([]string{
		addressOf(t, &space, 5), addressOf(t, &space, 150),
	}, target.Options{})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	require.NoError(t, err)

	d := newDriver(t, Config{
		Backend:   gpu.New(&flakyDevice{Emulator: accel.NewEmulator(1)}, nil),
		BatchSize: 64,
		Metrics:   metrics,
	})
	findings, err := d.Scan(context.Background(), space, m)
	require.NoError(t, err)
	require.Len(t, findings, 2)
	require.Equal(t, "CPU", d.Backend().Name())

	require.Equal(t, 1.0, testutil.ToFloat64(metrics.fallbacks))
	require.Equal(t, float64(space.Total()),
		testutil.ToFloat64(metrics.candidates))
	require.Equal(t, 2.0, testutil.ToFloat64(metrics.findings))
}

func TestNewBackendSelection(t *testing.T) {
	ctx := context.Background()
	unavailable := func() (accel.Device, error) {
		return nil, accel.ErrBackendUnavailable
	}

	b, err := NewBackend(ctx, BackendConfig{
		Kind: scanner.KindAuto, openDevice: unavailable,
	})
	require.NoError(t, err)
	require.Equal(t, "CPU", b.Name())

	_, err = NewBackend(ctx, BackendConfig{
		Kind: scanner.KindOpenCL, openDevice: unavailable,
	})
	require.ErrorIs(t, err, accel.ErrBackendUnavailable)

	broken := errors.New("driver crashed")
	_, err = NewBackend(ctx, BackendConfig{
		Kind: scanner.KindAuto,
		openDevice: func() (accel.Device, error) {
			return nil, broken
		},
	})
	require.ErrorIs(t, err, broken)

	b, err = NewBackend(ctx, BackendConfig{Kind: scanner.KindEmulator})
	require.NoError(t, err)
	require.Equal(t, "GPU emulator", b.Name())
	require.NoError(t, b.Close())
}
