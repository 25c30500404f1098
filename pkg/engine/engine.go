// Package engine reproduces the Math.random implementations shipped by
// browsers between 2011 and 2015. Every variant is an integer-only state
// machine so that the CPU and accelerator backends agree bit for bit.
package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidSeed is returned for an unknown variant, a zero seed value, or a
// state that was never seeded.
var ErrInvalidSeed = errors.New("invalid seed")

// Variant identifies one historical PRNG algorithm.
type Variant uint8

const (
	VariantUnknown  Variant = iota
	MWC1616                 // V8 (Chrome < 49, Node < 5): two 16-bit multiply-with-carry
	LCG48                   // SpiderMonkey / Chakra: 48-bit java.util.Random LCG
	XorShift128Plus         // V8 >= 4.9: xorshift128+
	MT19937                 // Mersenne Twister (genrand_res53)
)

var variantNames = map[Variant]string{
	MWC1616:         "mwc1616",
	LCG48:           "lcg48",
	XorShift128Plus: "xorshift128plus",
	MT19937:         "mt19937",
}

// Variants returns every supported variant in search order.
func Variants() []Variant {
	return []Variant{MWC1616, LCG48, XorShift128Plus, MT19937}
}

// String returns the variant name.
func (v Variant) String() string {
	if name, ok := variantNames[v]; ok {
		return name
	}
	return fmt.Sprintf("variant(%d)", uint8(v))
}

// Valid reports whether v is a supported variant.
func (v Variant) Valid() bool {
	_, ok := variantNames[v]
	return ok
}

// Bits returns the width of the raw unit produced by Next.
func (v Variant) Bits() uint {
	switch v {
	case MWC1616:
		return 32
	case XorShift128Plus:
		return 64
	default:
		return 53
	}
}

// ParseVariant resolves a variant by name. Browser engine names are accepted
// as aliases.
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mwc1616", "mwc", "v8":
		return MWC1616, nil
	case "lcg48", "lcg", "spidermonkey", "chakra", "java":
		return LCG48, nil
	case "xorshift128plus", "xorshift128+", "xorshift":
		return XorShift128Plus, nil
	case "mt19937", "mt":
		return MT19937, nil
	}
	return VariantUnknown, fmt.Errorf("%w: unknown variant %q", ErrInvalidSeed, s)
}

// State is the live register set of one engine instance. The variant tag
// selects which registers are in use; State is never shared between
// goroutines.
type State struct {
	variant Variant

	mwc mwc1616
	lcg lcg48
	xs  xorshift128
	mt  mt19937
}

// Seed returns a freshly seeded state.
func Seed(v Variant, value uint64) (*State, error) {
	s := new(State)
	if err := s.Reset(v, value); err != nil {
		return nil, err
	}
	return s, nil
}

// Reset reseeds s in place so workers can reuse one allocation per
// candidate.
func (s *State) Reset(v Variant, value uint64) error {
	if value == 0 {
		return fmt.Errorf("%w: zero seed for %v", ErrInvalidSeed, v)
	}

	switch v {
	case MWC1616:
		s.mwc.seed(value)
	case LCG48:
		s.lcg.seed(value)
	case XorShift128Plus:
		s.xs.seed(value)
	case MT19937:
		s.mt.seed(uint32(value))
	default:
		s.variant = VariantUnknown
		return fmt.Errorf("%w: %v", ErrInvalidSeed, v)
	}
	s.variant = v

	return nil
}

// Variant returns the variant s was seeded with.
func (s *State) Variant() Variant {
	return s.variant
}

// Seeded reports whether s holds a usable register set.
func (s *State) Seeded() bool {
	return s != nil && s.variant.Valid()
}

// Next advances the engine and returns the raw integer unit behind one
// Math.random() call. The unit is Variant().Bits() wide. Next on an unseeded
// state returns 0; callers check Seeded first.
func (s *State) Next() uint64 {
	switch s.variant {
	case MWC1616:
		return uint64(s.mwc.next())
	case LCG48:
		return s.lcg.next()
	case XorShift128Plus:
		return s.xs.next()
	case MT19937:
		return s.mt.next()
	}
	return 0
}

// Unit16 returns floor(65536 * Math.random()) computed on the raw integer
// unit, exactly as the fractional path would truncate it.
func (s *State) Unit16() uint16 {
	return uint16(s.Next() >> (s.variant.Bits() - 16))
}

// Fraction scales a raw unit to the [0, 1) double the browser returned. It is
// a pure final step and never feeds back into key derivation.
func Fraction(v Variant, raw uint64) float64 {
	bits := v.Bits()
	if bits > 53 {
		raw >>= bits - 53
		bits = 53
	}
	return float64(raw) / float64(uint64(1)<<bits)
}
