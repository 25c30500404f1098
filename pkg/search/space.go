package search

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"math/bits"
	"sort"
	"time"

	"github.com/Amr-9/StormHunter/pkg/address"
	"github.com/Amr-9/StormHunter/pkg/derive"
	"github.com/Amr-9/StormHunter/pkg/engine"
	"github.com/Amr-9/StormHunter/pkg/fingerprint"
	"github.com/Amr-9/StormHunter/pkg/scanner"
	"github.com/Amr-9/StormHunter/pkg/seed"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// ErrInvalidSpace is returned for a search space that cannot be enumerated.
var ErrInvalidSpace = errors.New("invalid search space")

// Space is an ordered enumeration of (fingerprint, variant, timestamp)
// candidates. Timestamps cover the half-open window [Start, End) in Step
// millisecond increments, narrowed per fingerprint to its active years.
type Space struct {
	Start int64
	End   int64
	Step  int64

	// Fingerprints are scanned in the order given. Use
	// fingerprint.Prioritize to order them by market share.
	Fingerprints []fingerprint.Fingerprint

	// Variants defaults to every engine variant.
	Variants []engine.Variant

	// Aux seeds every engine from a fixed value instead of the timestamp.
	Aux fn.Option[uint64]

	Derive  derive.Config
	Address address.Options

	// KeysPerSeed is how many successive keys each cipher yields. It
	// defaults to one.
	KeysPerSeed int
}

// Validate checks that s can be enumerated.
func (s *Space) Validate() error {
	_, err := s.Plan()
	return err
}

func (s *Space) check() error {
	switch {
	case s.Start <= 0 || s.End > seed.MaxTimestamp+1:
		return fmt.Errorf("%w: window [%d, %d) outside the JS date range",
			ErrInvalidSpace, s.Start, s.End)
	case s.End <= s.Start:
		return fmt.Errorf("%w: empty window [%d, %d)", ErrInvalidSpace,
			s.Start, s.End)
	case s.Step <= 0:
		return fmt.Errorf("%w: step %d", ErrInvalidSpace, s.Step)
	case len(s.Fingerprints) == 0:
		return fmt.Errorf("%w: no fingerprints", ErrInvalidSpace)
	case s.KeysPerSeed < 0 || s.KeysPerSeed > derive.MaxKeysPerSeed:
		return fmt.Errorf("%w: %d keys per seed outside [1, %d]",
			ErrInvalidSpace, s.KeysPerSeed, derive.MaxKeysPerSeed)
	}
	if err := s.Derive.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSpace, err)
	}

	for _, fp := range s.Fingerprints {
		if err := fp.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSpace, err)
		}
	}

	seen := make(map[engine.Variant]bool, len(s.Variants))
	for _, v := range s.Variants {
		switch {
		case !v.Valid():
			return fmt.Errorf("%w: %v", ErrInvalidSpace, v)
		case seen[v]:
			return fmt.Errorf("%w: variant %v listed twice",
				ErrInvalidSpace, v)
		}
		seen[v] = true
	}

	return nil
}

func (s *Space) variants() []engine.Variant {
	if len(s.Variants) == 0 {
		return engine.Variants()
	}
	return s.Variants
}

// KeysPer returns the effective keys per seed.
func (s *Space) KeysPer() int {
	if s.KeysPerSeed == 0 {
		return 1
	}
	return s.KeysPerSeed
}

// timestamps is the number of grid points in [Start, End). The window is
// positive and bounded by the JS date range, so its width fits a uint64.
func (s *Space) timestamps() uint64 {
	return (uint64(s.End-s.Start)-1)/uint64(s.Step) + 1
}

// gridIndex returns the first grid index whose timestamp is at or after ms,
// clamped to [0, n].
func (s *Space) gridIndex(ms int64, n uint64) uint64 {
	if ms <= s.Start {
		return 0
	}
	if ms >= s.End {
		return n
	}
	return (uint64(ms-s.Start)-1)/uint64(s.Step) + 1
}

// Total returns the number of candidates, or zero for an invalid space.
func (s *Space) Total() uint64 {
	p, err := s.Plan()
	if err != nil {
		return 0
	}
	return p.Total()
}

// At maps cursor i to its candidate. Prefer Plan when enumerating.
func (s *Space) At(i uint64) (scanner.Candidate, error) {
	p, err := s.Plan()
	if err != nil {
		return scanner.Candidate{Index: i}, err
	}
	return p.At(i)
}

// span is a half-open range of grid indexes.
type span struct {
	lo, hi uint64
}

// segment is the part of the grid one fingerprint owns.
type segment struct {
	fp    int
	spans []span

	// count is the number of grid points in spans and base the cursor of
	// the segment's first candidate.
	count uint64
	base  uint64
}

// Plan is the resolved enumeration of a Space.
//
// Each fingerprint covers the part of the window inside its year range
// (UTC). Fingerprints never change derivation, so a timestamp already
// covered by an earlier fingerprint is not enumerated again: every
// (variant, timestamp) pair is derived at most once, under the first
// fingerprint in scan order that covers it. Within a fingerprint the order
// is variant-major, then timestamp.
type Plan struct {
	space    Space
	variants []engine.Variant
	segments []segment
	total    uint64
	opts     []seed.Option
}

// Plan validates s and resolves its enumeration.
func (s *Space) Plan() (*Plan, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	p := &Plan{space: *s, variants: s.variants()}
	s.Aux.WhenSome(func(a uint64) {
		p.opts = append(p.opts, seed.WithAux(a))
	})

	n := s.timestamps()
	nv := uint64(len(p.variants))

	var covered []span
	for i, fp := range s.Fingerprints {
		lo, hi := s.yearSpan(fp, n)
		if lo >= hi {
			log.Debugf("Fingerprint %s inactive in window", fp.Key())
			continue
		}

		spans := subtract(covered, span{lo, hi})
		covered = merge(covered, span{lo, hi})

		var count uint64
		for _, sp := range spans {
			count += sp.hi - sp.lo
		}
		if count == 0 {
			log.Debugf("Fingerprint %s fully covered by earlier "+
				"fingerprints", fp.Key())
			continue
		}

		hi64, size := bits.Mul64(nv, count)
		sum, carry := bits.Add64(p.total, size, 0)
		if hi64 != 0 || carry != 0 {
			return nil, fmt.Errorf("%w: candidate count overflows",
				ErrInvalidSpace)
		}

		p.segments = append(p.segments, segment{
			fp: i, spans: spans, count: count, base: p.total,
		})
		p.total = sum
	}

	if p.total == 0 {
		return nil, fmt.Errorf("%w: no fingerprint is active in [%d, %d)",
			ErrInvalidSpace, s.Start, s.End)
	}

	return p, nil
}

// yearSpan clips the grid to the fingerprint's years. An unset bound is
// open.
func (s *Space) yearSpan(fp fingerprint.Fingerprint, n uint64) (uint64,
	uint64) {

	lo, hi := uint64(0), n
	if fp.YearMin != 0 {
		lo = s.gridIndex(yearStart(int(fp.YearMin)), n)
	}
	if fp.YearMax != 0 {
		hi = s.gridIndex(yearStart(int(fp.YearMax)+1), n)
	}
	return lo, hi
}

func yearStart(year int) int64 {
	return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC).
		UnixMilli()
}

// subtract returns the parts of r not in covered. covered is sorted and
// disjoint.
func subtract(covered []span, r span) []span {
	var out []span
	at := r.lo
	for _, c := range covered {
		if c.hi <= at {
			continue
		}
		if c.lo >= r.hi {
			break
		}
		if c.lo > at {
			out = append(out, span{at, c.lo})
		}
		at = max(at, c.hi)
		if at >= r.hi {
			return out
		}
	}
	if at < r.hi {
		out = append(out, span{at, r.hi})
	}
	return out
}

// merge adds r to the sorted disjoint set covered.
func merge(covered []span, r span) []span {
	out := make([]span, 0, len(covered)+1)
	placed := false
	for _, c := range covered {
		switch {
		case c.hi < r.lo:
			out = append(out, c)
		case r.hi < c.lo:
			if !placed {
				out = append(out, r)
				placed = true
			}
			out = append(out, c)
		default:
			r = span{min(r.lo, c.lo), max(r.hi, c.hi)}
		}
	}
	if !placed {
		out = append(out, r)
	}
	return out
}

// Total returns the number of candidates.
func (p *Plan) Total() uint64 {
	return p.total
}

// Count returns the number of candidates owned by fingerprint i of the
// space.
func (p *Plan) Count(i int) uint64 {
	for _, seg := range p.segments {
		if seg.fp == i {
			return seg.count * uint64(len(p.variants))
		}
	}
	return 0
}

// At maps cursor i to its candidate.
func (p *Plan) At(i uint64) (scanner.Candidate, error) {
	c := scanner.Candidate{Index: i}
	if i >= p.total {
		return c, fmt.Errorf("%w: cursor %d beyond %d", ErrInvalidSpace,
			i, p.total)
	}

	j := sort.Search(len(p.segments), func(j int) bool {
		return p.segments[j].base > i
	}) - 1
	seg := &p.segments[j]

	rem := i - seg.base
	c.Variant = p.variants[rem/seg.count]

	k := rem % seg.count
	var grid uint64
	for _, sp := range seg.spans {
		if width := sp.hi - sp.lo; k >= width {
			k -= width
			continue
		}
		grid = sp.lo + k
		break
	}
	t := p.space.Start + int64(grid)*p.space.Step

	m, err := seed.Build(t, p.space.Fingerprints[seg.fp], p.opts...)
	if err != nil {
		return c, err
	}
	c.Material = m

	return c, nil
}

// ID is a digest of everything that affects enumeration order or results. A
// checkpoint taken on one space is never resumed on another.
func (s *Space) ID() [32]byte {
	h := sha256.New()
	h.Write([]byte("stormhunter/space/v1"))

	putInt(h, uint64(s.Start))
	putInt(h, uint64(s.End))
	putInt(h, uint64(s.Step))

	putInt(h, uint64(len(s.Fingerprints)))
	for _, fp := range s.Fingerprints {
		putString(h, fp.Key())
		putInt(h, uint64(fp.YearMin)<<16|uint64(fp.YearMax))
	}

	vs := s.variants()
	putInt(h, uint64(len(vs)))
	for _, v := range vs {
		putInt(h, uint64(v))
	}

	putInt(h, s.Aux.UnwrapOr(0))
	putInt(h, uint64(s.Derive.Order))
	putBool(h, s.Derive.SinglePass)
	putBool(h, s.Derive.PointerAdvance)
	putInt(h, uint64(s.KeysPer()))
	putBool(h, s.Address.Witness)
	putBool(h, s.Address.Taproot)

	net := "mainnet"
	if s.Address.Params != nil {
		net = s.Address.Params.Name
	}
	putString(h, net)

	var id [32]byte
	copy(id[:], h.Sum(nil))
	return id
}

func putInt(h hash.Hash, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	h.Write(b[:])
}

func putBool(h hash.Hash, v bool) {
	if v {
		h.Write([]byte{1})
		return
	}
	h.Write([]byte{0})
}

func putString(h hash.Hash, s string) {
	putInt(h, uint64(len(s)))
	h.Write([]byte(s))
}
