package engine

const (
	lcgMultiplier = 0x5DEECE66D
	lcgAddend     = 0xB
	lcgMask       = (uint64(1) << 48) - 1
)

// lcg48 is the java.util.Random recurrence used by SpiderMonkey and Chakra.
// One Math.random() call consumes two steps, like Random.nextDouble.
type lcg48 struct {
	x uint64
}

func (l *lcg48) seed(value uint64) {
	l.x = (value ^ lcgMultiplier) & lcgMask
}

func (l *lcg48) step(bits uint) uint64 {
	l.x = (l.x*lcgMultiplier + lcgAddend) & lcgMask
	return l.x >> (48 - bits)
}

// next returns the 53-bit numerator of nextDouble.
func (l *lcg48) next() uint64 {
	hi := l.step(26)
	lo := l.step(27)
	return hi<<27 | lo
}
