package derive

import (
	"github.com/Amr-9/StormHunter/pkg/engine"
	"github.com/Amr-9/StormHunter/pkg/seed"
)

// TraceUnits is the number of raw engine units captured in a Trace.
const TraceUnits = 4

// Trace records every observable stage of one derivation. It exists for the
// validation harness and must never be logged or persisted by a live scan.
type Trace struct {
	// Raw holds the first raw units of a freshly seeded engine.
	Raw [TraceUnits]uint64

	// Filled is the pool straight after FillPool.
	Filled Pool

	// Seeded is the pool after the first timestamp XOR.
	Seeded Pool

	// Final is the pool the cipher is keyed with.
	Final Pool

	// Cipher is the state right after the key schedule.
	Cipher Cipher

	// Keys are successive keystream blocks, unvalidated.
	Keys []PrivateKey
}

// TraceOf runs the pipeline stage by stage and records each intermediate.
func TraceOf(m seed.Material, v engine.Variant, cfg Config,
	keys int) (*Trace, error) {

	var tr Trace

	s, err := m.Seed(v)
	if err != nil {
		return nil, err
	}
	for i := range tr.Raw {
		tr.Raw[i] = s.Next()
	}

	if err := s.Reset(v, m.EngineSeed()); err != nil {
		return nil, err
	}
	FillPool(s, &tr.Filled, cfg.Order)

	tr.Seeded = tr.Filled
	m.XorTimestamp((*[256]byte)(&tr.Seeded))

	tr.Final = tr.Seeded
	if !cfg.SinglePass {
		m.XorTimestampAt((*[256]byte)(&tr.Final), cfg.SecondXorOffset())
	}

	tr.Cipher = NewCipher(&tr.Final)

	c := tr.Cipher
	tr.Keys = make([]PrivateKey, keys)
	for i := range tr.Keys {
		c.Read(tr.Keys[i][:])
	}

	return &tr, nil
}
