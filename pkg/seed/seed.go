// Package seed binds a timestamp and a browser fingerprint into the material
// an engine is seeded from.
package seed

import (
	"fmt"

	"github.com/Amr-9/StormHunter/pkg/engine"
	"github.com/Amr-9/StormHunter/pkg/fingerprint"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// MaxTimestamp is the largest millisecond value a JavaScript Date can hold.
const MaxTimestamp = 8_640_000_000_000_000

// Material is everything a candidate needs to reproduce one wallet's key.
type Material struct {
	// Timestamp is new Date().getTime() at wallet creation, in ms.
	Timestamp int64

	// Fingerprint is search context only.
	Fingerprint fingerprint.Fingerprint

	// Aux replaces the timestamp as the engine seed when set. The pool
	// XOR still uses Timestamp.
	Aux fn.Option[uint64]
}

// Option adjusts a Material under construction.
type Option func(*Material)

// WithAux seeds the engine from an auxiliary entropy estimate instead of the
// timestamp.
func WithAux(v uint64) Option {
	return func(m *Material) {
		m.Aux = fn.Some(v)
	}
}

// Build validates its inputs and returns the seed material for one
// candidate. It is deterministic and performs no mixing of the fingerprint.
func Build(timestamp int64, fp fingerprint.Fingerprint,
	opts ...Option) (Material, error) {

	m := Material{
		Timestamp:   timestamp,
		Fingerprint: fp,
		Aux:         fn.None[uint64](),
	}
	for _, opt := range opts {
		opt(&m)
	}

	if timestamp <= 0 || timestamp > MaxTimestamp {
		return Material{}, fmt.Errorf("%w: timestamp %d out of range",
			engine.ErrInvalidSeed, timestamp)
	}
	if err := fp.Validate(); err != nil {
		return Material{}, fmt.Errorf("%w: %v", engine.ErrInvalidSeed,
			err)
	}
	if m.Aux.UnwrapOr(1) == 0 {
		return Material{}, fmt.Errorf("%w: zero auxiliary entropy",
			engine.ErrInvalidSeed)
	}

	return m, nil
}

// EngineSeed returns the value the engine is seeded with.
func (m Material) EngineSeed() uint64 {
	return m.Aux.UnwrapOr(uint64(m.Timestamp))
}

// Seed returns an engine state of variant v seeded from m.
func (m Material) Seed(v engine.Variant) (*engine.State, error) {
	return engine.Seed(v, m.EngineSeed())
}

// XorTimestamp mixes the low 32 bits of the timestamp into the first four
// pool bytes, least significant byte first, as jsbn's rng_seed_time does.
func (m Material) XorTimestamp(pool *[256]byte) {
	m.XorTimestampAt(pool, 0)
}

// XorTimestampAt XORs the low 32 timestamp bits into pool[at:at+4],
// wrapping at the end of the pool.
func (m Material) XorTimestampAt(pool *[256]byte, at int) {
	t := uint32(m.Timestamp)
	for i := range 4 {
		pool[(at+i)&0xff] ^= byte(t >> (8 * i))
	}
}
