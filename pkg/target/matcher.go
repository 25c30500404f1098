// Package target answers whether a derived address set contains any address
// of interest. Matchers are built once and are read-only afterwards, so any
// number of workers may query them without locking.
package target

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/Amr-9/StormHunter/pkg/address"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/willf/bloom"
)

const (
	// DefaultFilterThreshold is the collection size above which a bloom
	// filter fronts the exact set.
	DefaultFilterThreshold = 100_000

	// DefaultFalsePositiveRate is the filter's design rate.
	DefaultFalsePositiveRate = 0.001

	// MaxFalsePositiveRate is the loosest rate accepted.
	MaxFalsePositiveRate = 0.01
)

// ErrTargetLoad is returned for any malformed target collection. A scan must
// not start with a partial target set.
var ErrTargetLoad = errors.New("target load error")

// Match is a confirmed hit.
type Match struct {
	Address string
	Kind    address.Kind
}

// Matcher tests address sets for membership.
type Matcher interface {
	// Match returns the first address of set found in the collection.
	Match(set *address.Set) fn.Option[Match]

	// Contains reports exact membership of one address.
	Contains(addr string) bool

	// Len returns the collection size.
	Len() int
}

// Options controls matcher construction.
type Options struct {
	// FilterThreshold switches to a filtered matcher above this size.
	// Zero means DefaultFilterThreshold.
	FilterThreshold int

	// FalsePositiveRate is the filter design rate. Zero means
	// DefaultFalsePositiveRate.
	FalsePositiveRate float64

	// Params is the network addresses must belong to. Nil means
	// mainnet.
	Params *chaincfg.Params
}

func (o *Options) normalize() error {
	if o.FilterThreshold == 0 {
		o.FilterThreshold = DefaultFilterThreshold
	}
	if o.FalsePositiveRate == 0 {
		o.FalsePositiveRate = DefaultFalsePositiveRate
	}
	if o.FalsePositiveRate < 0 || o.FalsePositiveRate > MaxFalsePositiveRate {
		return fmt.Errorf("%w: false positive rate %v outside (0, %v]",
			ErrTargetLoad, o.FalsePositiveRate, MaxFalsePositiveRate)
	}
	if o.Params == nil {
		o.Params = &chaincfg.MainNetParams
	}
	return nil
}

// New builds the matcher appropriate for the collection size.
func New(addrs []string, opts Options) (Matcher, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: empty collection", ErrTargetLoad)
	}

	// Size the choice, and the filter, on distinct addresses.
	exact := NewExact(addrs)
	if exact.Len() <= opts.FilterThreshold {
		return exact, nil
	}
	unique := make([]string, 0, exact.Len())
	for a := range exact.set {
		unique = append(unique, a)
	}
	return NewFiltered(unique, opts.FalsePositiveRate), nil
}

// IsFiltered reports whether m fronts its set with a bloom filter.
func IsFiltered(m Matcher) bool {
	_, ok := m.(*Filtered)
	return ok
}

// Exact is a plain hash set.
type Exact struct {
	set map[string]struct{}
}

// NewExact builds an exact matcher.
func NewExact(addrs []string) *Exact {
	set := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		set[a] = struct{}{}
	}
	return &Exact{set: set}
}

// Contains implements Matcher.
func (e *Exact) Contains(addr string) bool {
	_, ok := e.set[addr]
	return ok
}

// Len implements Matcher.
func (e *Exact) Len() int {
	return len(e.set)
}

// Match implements Matcher.
func (e *Exact) Match(set *address.Set) fn.Option[Match] {
	for _, entry := range set.All() {
		if e.Contains(entry.Address) {
			return fn.Some(Match{Address: entry.Address, Kind: entry.Kind})
		}
	}
	return fn.None[Match]()
}

// Filtered fronts an exact set with a bloom filter. A filter hit is only a
// hint; every reported match is confirmed against the backing set.
type Filtered struct {
	filter *bloom.BloomFilter
	exact  *Exact

	filterHits     atomic.Uint64
	falsePositives atomic.Uint64
}

// NewFiltered builds a filtered matcher sized for addrs at rate fpRate.
func NewFiltered(addrs []string, fpRate float64) *Filtered {
	filter := bloom.NewWithEstimates(uint(len(addrs)), fpRate)
	for _, a := range addrs {
		filter.Add([]byte(a))
	}

	return &Filtered{
		filter: filter,
		exact:  NewExact(addrs),
	}
}

// MayContain is the filter pre-check alone. It never returns false for a
// member.
func (f *Filtered) MayContain(addr string) bool {
	return f.filter.Test([]byte(addr))
}

// Contains implements Matcher.
func (f *Filtered) Contains(addr string) bool {
	if !f.MayContain(addr) {
		return false
	}
	f.filterHits.Add(1)

	if !f.exact.Contains(addr) {
		f.falsePositives.Add(1)
		return false
	}
	return true
}

// Len implements Matcher.
func (f *Filtered) Len() int {
	return f.exact.Len()
}

// Match implements Matcher.
func (f *Filtered) Match(set *address.Set) fn.Option[Match] {
	for _, entry := range set.All() {
		if f.Contains(entry.Address) {
			return fn.Some(Match{Address: entry.Address, Kind: entry.Kind})
		}
	}
	return fn.None[Match]()
}

// FilterStats returns how often the filter passed an address and how many of
// those the exact set rejected.
func (f *Filtered) FilterStats() (hits, falsePositives uint64) {
	return f.filterHits.Load(), f.falsePositives.Load()
}
