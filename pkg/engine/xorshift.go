package engine

const goldenGamma = 0x9E3779B97F4A7C15

// splitmix64 expands one 64-bit seed into well mixed state words.
func splitmix64(x uint64) uint64 {
	z := x + goldenGamma
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}

// xorshift128 is xorshift128+ with V8's shift triple (23, 17, 26).
type xorshift128 struct {
	s0, s1 uint64
}

func (x *xorshift128) seed(value uint64) {
	x.s0 = splitmix64(value)
	x.s1 = splitmix64(value + goldenGamma)
}

func (x *xorshift128) next() uint64 {
	s1 := x.s0
	s0 := x.s1
	x.s0 = s0
	s1 ^= s1 << 23
	x.s1 = s1 ^ s0 ^ (s1 >> 17) ^ (s0 >> 26)
	return x.s1 + s0
}
