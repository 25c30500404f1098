// Package search enumerates a candidate space and drives the derivation
// pipeline over it in batches on a scanner.Backend.
package search

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/Amr-9/StormHunter/pkg/accel"
	"github.com/Amr-9/StormHunter/pkg/address"
	"github.com/Amr-9/StormHunter/pkg/checkpoint"
	"github.com/Amr-9/StormHunter/pkg/derive"
	"github.com/Amr-9/StormHunter/pkg/scanner"
	"github.com/Amr-9/StormHunter/pkg/scanner/cpu"
	"github.com/Amr-9/StormHunter/pkg/target"
	"github.com/btcsuite/btclog/v2"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultBatchSize          = 4096
	DefaultProgressInterval   = 5 * time.Second
	DefaultCheckpointInterval = time.Minute
)

// ErrSpaceMismatch is returned when a checkpoint belongs to a different
// search space.
var ErrSpaceMismatch = errors.New("checkpoint belongs to a different " +
	"search space")

// Config holds the driver settings. Only Backend is required.
type Config struct {
	Backend scanner.Backend

	// BatchSize is the number of candidates per backend call.
	BatchSize int

	// Workers bounds the address evaluation fan-out.
	Workers int

	// Checkpoint persists progress when set.
	Checkpoint *checkpoint.Manager

	// OnProgress receives periodic and final progress.
	OnProgress func(scanner.Progress)

	// OnFinding receives each new finding as soon as it is confirmed.
	OnFinding func(scanner.Finding)

	ProgressInterval   time.Duration
	CheckpointInterval time.Duration

	// ProgressTicker and CheckpointTicker override the interval tickers.
	ProgressTicker   ticker.Ticker
	CheckpointTicker ticker.Ticker

	Clock   clock.Clock
	Metrics *Metrics
}

// Driver runs scans. A Driver runs one scan at a time.
type Driver struct {
	cfg     Config
	backend scanner.Backend
}

// New returns a driver for cfg.
func New(cfg Config) (*Driver, error) {
	if cfg.Backend == nil {
		return nil, errors.New("search: no backend")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = DefaultProgressInterval
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = DefaultCheckpointInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}

	return &Driver{cfg: cfg, backend: cfg.Backend}, nil
}

// Backend returns the backend currently in use. It changes after a
// failover.
func (d *Driver) Backend() scanner.Backend {
	return d.backend
}

// hit is one confirmed match inside a batch.
type hit struct {
	cand  int
	key   int
	priv  derive.PrivateKey
	match target.Match
}

// scan carries the per-scan state.
type scan struct {
	space    *Space
	plan     *Plan
	id       [32]byte
	total    uint64
	cursor   uint64
	started  uint64
	begin    time.Time
	findings []scanner.Finding
	seen     map[string]struct{}
}

// Scan enumerates space from the last checkpoint, or from the start, and
// returns every confirmed finding in enumeration order. Cancellation is
// observed between batches; the returned findings and the checkpoint then
// cover exactly the completed batches.
func (d *Driver) Scan(ctx context.Context, space Space,
	matcher target.Matcher) ([]scanner.Finding, error) {

	plan, err := space.Plan()
	if err != nil {
		return nil, err
	}

	s := &scan{
		space: &space,
		plan:  plan,
		id:    space.ID(),
		total: plan.Total(),
		begin: d.cfg.Clock.Now(),
		seen:  make(map[string]struct{}),
	}
	if err := d.resume(ctx, s); err != nil {
		return nil, err
	}

	log.InfoS(ctx, "Scan starting",
		"backend", d.backend.Name(),
		"total", s.total,
		"cursor", s.cursor,
		btclog.Hex6("space", s.id[:]))

	progress := d.cfg.ProgressTicker
	if progress == nil {
		progress = ticker.New(d.cfg.ProgressInterval)
	}
	save := d.cfg.CheckpointTicker
	if save == nil {
		save = ticker.New(d.cfg.CheckpointInterval)
	}
	progress.Resume()
	save.Resume()
	defer progress.Stop()
	defer save.Stop()

	for s.cursor < s.total {
		if err := ctx.Err(); err != nil {
			return s.findings, d.finish(ctx, s, err)
		}

		if err := d.runBatch(ctx, s, matcher); err != nil {
			// A failed batch leaves the cursor at its start, so the
			// checkpoint stays resumable.
			return s.findings, d.finish(ctx, s, err)
		}

		select {
		case <-progress.Ticks():
			d.emit(s)
		default:
		}

		select {
		case <-save.Ticks():
			if err := d.save(s); err != nil {
				return s.findings, err
			}
		default:
		}
	}

	return s.findings, d.finish(ctx, s, nil)
}

func (d *Driver) resume(ctx context.Context, s *scan) error {
	if d.cfg.Checkpoint == nil {
		return nil
	}

	opt, err := d.cfg.Checkpoint.Load()
	if err != nil {
		return err
	}
	if opt.IsNone() {
		return nil
	}

	cp := opt.UnsafeFromSome()
	if cp.SpaceID != s.id || cp.Total != s.total {
		return fmt.Errorf("%w: %s", ErrSpaceMismatch,
			d.cfg.Checkpoint.Path())
	}

	s.cursor = cp.Cursor
	s.started = cp.Cursor
	for _, f := range cp.Findings {
		s.add(f)
	}

	log.InfoS(ctx, "Resuming scan from checkpoint",
		"cursor", cp.Cursor,
		"findings", len(cp.Findings),
		"created", cp.Created)

	return nil
}

func (s *scan) add(f scanner.Finding) bool {
	if _, ok := s.seen[f.Address]; ok {
		return false
	}
	s.seen[f.Address] = struct{}{}
	s.findings = append(s.findings, f)
	return true
}

// finish emits final progress and persists the cursor. err is the scan's
// own outcome and takes precedence over a save failure.
func (d *Driver) finish(ctx context.Context, s *scan, err error) error {
	d.emit(s)

	if d.cfg.Checkpoint != nil {
		if serr := d.save(s); serr != nil && err == nil {
			err = serr
		}
	}

	switch {
	case err == nil:
		log.InfoS(ctx, "Scan complete",
			"candidates", s.cursor,
			"findings", len(s.findings))
	case errors.Is(err, context.Canceled):
		log.InfoS(ctx, "Scan interrupted",
			"cursor", s.cursor,
			"findings", len(s.findings))
	default:
		log.ErrorS(ctx, "Scan failed", err, "cursor", s.cursor)
	}

	return err
}

func (d *Driver) save(s *scan) error {
	if d.cfg.Checkpoint == nil {
		return nil
	}
	return d.cfg.Checkpoint.Save(s.cursor, s.total, s.id, s.findings)
}

func (d *Driver) emit(s *scan) {
	if d.cfg.OnProgress == nil {
		return
	}

	var rate float64
	elapsed := d.cfg.Clock.Now().Sub(s.begin).Seconds()
	if elapsed > 0 {
		rate = float64(s.cursor-s.started) / elapsed
	}

	d.cfg.OnProgress(scanner.Progress{
		CandidatesCompleted: s.cursor,
		CandidatesTotal:     s.total,
		FindingsSoFar:       len(s.findings),
		Rate:                rate,
	})
}

func (d *Driver) runBatch(ctx context.Context, s *scan,
	matcher target.Matcher) error {

	start := d.cfg.Clock.Now()
	n := min(uint64(d.cfg.BatchSize), s.total-s.cursor)

	req := &scanner.Request{
		Candidates:  make([]scanner.Candidate, 0, n),
		KeysPerSeed: s.space.KeysPer(),
		Derive:      s.space.Derive,
	}

	var invalid int
	for i := s.cursor; i < s.cursor+n; i++ {
		c, err := s.plan.At(i)
		if err != nil {
			if !derive.IsInvalidSeed(err) {
				return err
			}
			invalid++
			continue
		}
		req.Candidates = append(req.Candidates, c)
	}

	results, err := d.derive(ctx, req)
	if err != nil {
		return err
	}

	hits, bad, err := d.evaluate(s.space, results, matcher)
	if err != nil {
		return err
	}

	var added int
	for _, h := range hits {
		f, err := d.confirm(s.space, &req.Candidates[h.cand], h)
		if err != nil {
			return err
		}
		if !s.add(f) {
			continue
		}
		added++

		log.InfoS(ctx, "Target found",
			"address", f.Address,
			"kind", f.Kind,
			"timestamp", f.Timestamp,
			"fingerprint", f.FingerprintID,
			"variant", f.Variant,
			"key_index", f.KeyIndex)

		if d.cfg.OnFinding != nil {
			d.cfg.OnFinding(f)
		}
	}

	s.cursor += n
	if d.cfg.Checkpoint != nil {
		d.cfg.Checkpoint.Update(s.cursor, s.total, s.id, s.findings)
	}

	d.cfg.Metrics.addCandidates(int(n))
	d.cfg.Metrics.addInvalid(invalid + bad)
	d.cfg.Metrics.addFindings(added)
	d.cfg.Metrics.observeBatch(d.cfg.Clock.Now().Sub(start).Seconds())

	return nil
}

// derive runs the batch on the current backend and fails over to the CPU
// once if the accelerator gives out mid-scan.
func (d *Driver) derive(ctx context.Context,
	req *scanner.Request) ([]scanner.KeyResult, error) {

	results, err := d.backend.Derive(ctx, req)
	if err == nil || !errors.Is(err, accel.ErrBackendUnavailable) {
		return results, err
	}

	log.WarnS(ctx, "Accelerator failed mid-scan, switching to CPU", err,
		"backend", d.backend.Name())
	d.cfg.Metrics.addFallback()

	if cerr := d.backend.Close(); cerr != nil {
		log.WarnS(ctx, "Unable to release accelerator", cerr)
	}
	d.backend = cpu.New(cpu.Config{
		Workers: d.cfg.Workers,
		Clock:   d.cfg.Clock,
	})

	return d.backend.Derive(ctx, req)
}

// evaluate derives addresses and checks them against the matcher. Each
// goroutine writes only its own result slots; hits come back in candidate
// then key order.
func (d *Driver) evaluate(space *Space, results []scanner.KeyResult,
	matcher target.Matcher) ([]hit, int, error) {

	perCand := make([][]hit, len(results))
	badPer := make([]int, len(results))

	chunk := (len(results) + d.cfg.Workers - 1) / d.cfg.Workers
	var g errgroup.Group
	for lo := 0; lo < len(results); lo += chunk {
		hi := min(lo+chunk, len(results))
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				hits, bad, err := evaluateOne(space, &results[i],
					i, matcher)
				if err != nil {
					return err
				}
				perCand[i], badPer[i] = hits, bad
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	var (
		hits []hit
		bad  int
	)
	for i := range perCand {
		hits = append(hits, perCand[i]...)
		bad += badPer[i]
	}
	return hits, bad, nil
}

func evaluateOne(space *Space, r *scanner.KeyResult, i int,
	matcher target.Matcher) ([]hit, int, error) {

	if r.Err != nil {
		return nil, 1, nil
	}

	var (
		hits []hit
		bad  int
	)
	for k := range r.Keys {
		if r.Bad&(1<<uint(k)) != 0 {
			bad++
			continue
		}

		set, err := address.Derive(r.Keys[k], space.Address)
		if err != nil {
			return nil, 0, fmt.Errorf("candidate %d key %d: %w",
				r.Index, k, err)
		}

		matcher.Match(&set).WhenSome(func(m target.Match) {
			hits = append(hits, hit{
				cand:  i,
				key:   k,
				priv:  r.Keys[k],
				match: m,
			})
		})
	}
	return hits, bad, nil
}

// confirm reproduces a hit on the CPU pipeline from its coordinates alone.
// Whatever backend found it, a finding is only reported once the
// independent derivation yields the same key and the same address.
func (d *Driver) confirm(space *Space, c *scanner.Candidate,
	h hit) (scanner.Finding, error) {

	f := scanner.Finding{
		Address:       h.match.Address,
		Kind:          h.match.Kind,
		Timestamp:     c.Material.Timestamp,
		FingerprintID: c.Material.Fingerprint.Key(),
		Variant:       c.Variant,
		KeyIndex:      uint8(h.key),
	}

	mismatch := func(stage string) (scanner.Finding, error) {
		return scanner.Finding{}, scanner.NewCandidateError(c,
			fmt.Errorf("%w: %s differs on key %d", scanner.ErrParityMismatch,
				stage, h.key))
	}

	dv, err := derive.NewDeriver(c.Material, c.Variant, space.Derive)
	if err != nil {
		return mismatch("seed")
	}
	var key derive.PrivateKey
	for k := 0; k <= h.key; k++ {
		key, err = dv.Next()
	}
	if err != nil {
		return mismatch("key range")
	}
	if key != h.priv {
		return mismatch("key")
	}

	set, err := address.Derive(key, space.Address)
	if err != nil {
		return mismatch("public key")
	}

	for _, e := range set.All() {
		if e.Kind == h.match.Kind && e.Address == h.match.Address {
			return f, nil
		}
	}
	return mismatch("address")
}
