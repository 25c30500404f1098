package engine

// mwc1616 is the V8 generator used until Chrome 49: two independent 16-bit
// multiply-with-carry halves combined into one 32-bit output.
type mwc1616 struct {
	s1, s2 uint32
}

func (m *mwc1616) seed(value uint64) {
	m.s1 = uint32(value)
	m.s2 = uint32(value >> 32)
}

func (m *mwc1616) next() uint32 {
	m.s1 = 18000*(m.s1&0xFFFF) + (m.s1 >> 16)
	m.s2 = 30903*(m.s2&0xFFFF) + (m.s2 >> 16)
	return (m.s1 << 16) + m.s2
}
