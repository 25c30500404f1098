// Package derive turns seeded engine output into private key candidates: fill
// the entropy pool, mix in the timestamp twice, key an ARC4 cipher from the
// pool and read 32 keystream bytes per key.
//
// The pool is filled in Ascending order unless Config.Order says otherwise.
// jsbn's fill loop writes rng_pool[rng_pptr++], and the published legacy key
// 8459259a...44b7 (MWC1616, 1389781850000 ms, one XOR) only reproduces in
// that order. Descending covers write-ups that describe the fill from index
// 255 down.
package derive

import (
	"errors"
	"fmt"

	"github.com/Amr-9/StormHunter/pkg/engine"
	"github.com/Amr-9/StormHunter/pkg/seed"
	"github.com/btcsuite/btcd/btcec/v2"
)

const (
	// KeySize is the length of a secp256k1 private key.
	KeySize = 32

	// MaxKeysPerSeed bounds how many keys are read from one cipher.
	MaxKeysPerSeed = 64
)

// ErrKeyOutOfRange marks a keystream block that is not a valid secp256k1
// scalar. It is a per-candidate InvalidSeed condition.
var ErrKeyOutOfRange = fmt.Errorf("%w: key outside [1, n-1]",
	engine.ErrInvalidSeed)

// PrivateKey is one derived key candidate. Formatting it never reveals the
// bytes.
type PrivateKey [KeySize]byte

// String implements fmt.Stringer.
func (PrivateKey) String() string {
	return "<redacted>"
}

// GoString implements fmt.GoStringer.
func (PrivateKey) GoString() string {
	return "derive.PrivateKey{<redacted>}"
}

// Valid reports whether k is a usable secp256k1 scalar.
func (k *PrivateKey) Valid() bool {
	var s btcec.ModNScalar
	overflow := s.SetBytes((*[32]byte)(k))
	return overflow == 0 && !s.IsZero()
}

// Config selects the historical pipeline details.
type Config struct {
	// Order is the pool fill direction.
	Order Order

	// SinglePass skips the second timestamp XOR before the cipher is
	// keyed. Only legacy tools that omitted it need this.
	SinglePass bool

	// PointerAdvance applies the second XOR at bytes 4..7 instead of 0..3.
	// jsbn's rng_seed_int advances the pool pointer after each XOR, so a
	// build that did not reset the pointer between the two seedings lands
	// there. Without it the two XORs cancel.
	PointerAdvance bool
}

// SecondXorOffset returns where the second timestamp XOR lands.
func (c Config) SecondXorOffset() int {
	if c.PointerAdvance {
		return 4
	}
	return 0
}

// Validate rejects contradictory settings.
func (c Config) Validate() error {
	if c.SinglePass && c.PointerAdvance {
		return errors.New("single pass and pointer advance are exclusive")
	}
	return nil
}

// Pipeline holds reusable scratch space for one worker. It is not safe for
// concurrent use.
type Pipeline struct {
	cfg   Config
	state engine.State
	pool  Pool
}

// NewPipeline returns a pipeline for cfg.
func NewPipeline(cfg Config) *Pipeline {
	return &Pipeline{cfg: cfg}
}

// Cipher runs every stage up to and including the key schedule.
func (p *Pipeline) Cipher(m seed.Material, v engine.Variant) (Cipher, error) {
	if err := p.state.Reset(v, m.EngineSeed()); err != nil {
		return Cipher{}, err
	}
	if !p.state.Seeded() {
		return Cipher{}, engine.ErrInvalidSeed
	}

	FillPool(&p.state, &p.pool, p.cfg.Order)
	m.XorTimestamp((*[256]byte)(&p.pool))
	if !p.cfg.SinglePass {
		m.XorTimestampAt((*[256]byte)(&p.pool), p.cfg.SecondXorOffset())
	}

	return NewCipher(&p.pool), nil
}

// Keys derives len(out) successive keys from one cipher. A key that is out
// of range leaves its slot zeroed and is reported in the returned bitmap of
// bad indexes; later keys are still derived since the keystream advanced.
func (p *Pipeline) Keys(m seed.Material, v engine.Variant,
	out []PrivateKey) (uint64, error) {

	if len(out) > MaxKeysPerSeed {
		return 0, fmt.Errorf("%d keys per seed exceeds %d", len(out),
			MaxKeysPerSeed)
	}

	c, err := p.Cipher(m, v)
	if err != nil {
		return 0, err
	}

	var bad uint64
	for i := range out {
		c.Read(out[i][:])
		if !out[i].Valid() {
			out[i] = PrivateKey{}
			bad |= 1 << uint(i)
		}
	}
	return bad, nil
}

// Deriver hands out successive keys from one cipher.
type Deriver struct {
	cipher Cipher
	n      int
}

// NewDeriver seeds a variant from m and keys the cipher.
func NewDeriver(m seed.Material, v engine.Variant, cfg Config) (*Deriver,
	error) {

	c, err := NewPipeline(cfg).Cipher(m, v)
	if err != nil {
		return nil, err
	}
	return &Deriver{cipher: c}, nil
}

// Next consumes 32 keystream bytes. The cipher advances even when the
// result is rejected with ErrKeyOutOfRange.
func (d *Deriver) Next() (PrivateKey, error) {
	var k PrivateKey
	d.cipher.Read(k[:])
	d.n++

	if !k.Valid() {
		return PrivateKey{}, fmt.Errorf("key %d: %w", d.n-1,
			ErrKeyOutOfRange)
	}
	return k, nil
}

// Derive returns the first key for m under variant v.
func Derive(m seed.Material, v engine.Variant, cfg Config) (PrivateKey,
	error) {

	d, err := NewDeriver(m, v, cfg)
	if err != nil {
		return PrivateKey{}, err
	}
	return d.Next()
}

// IsInvalidSeed reports whether err should skip a candidate rather than stop
// a scan.
func IsInvalidSeed(err error) bool {
	return errors.Is(err, engine.ErrInvalidSeed)
}
