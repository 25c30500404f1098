package accel

import (
	"encoding/binary"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Lane variant numbering, shared with the kernel.
const (
	laneMWC1616  = 1
	laneLCG48    = 2
	laneXorShift = 3
	laneMT19937  = 4
)

// DefaultEmulatorLanes is the emulator's batch limit.
const DefaultEmulatorLanes = 1 << 16

// Emulator executes kernel lanes in Go, one goroutine per slice of the
// batch. It follows derive.cl line for line and shares no code with the CPU
// pipeline, so the two can check each other.
type Emulator struct {
	workers  int
	maxLanes int
}

// NewEmulator returns an emulator using the given number of goroutines, or
// GOMAXPROCS when workers is not positive.
func NewEmulator(workers int) *Emulator {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Emulator{workers: workers, maxLanes: DefaultEmulatorLanes}
}

// Name implements Device.
func (e *Emulator) Name() string {
	return "emulator"
}

// MaxLanes implements Device.
func (e *Emulator) MaxLanes() int {
	return e.maxLanes
}

// Close implements Device.
func (e *Emulator) Close() error {
	return nil
}

// Dispatch implements Device.
func (e *Emulator) Dispatch(lanes []Lane, keys int, mode Mode,
	out []byte) error {

	if err := checkDispatch(e, lanes, keys, mode, out); err != nil {
		return err
	}

	// Round-trip through the packed form so the emulator sees exactly
	// what a device would.
	packed := EncodeLanes(lanes, nil)
	stride := OutputStride(mode, keys)

	chunk := (len(lanes) + e.workers - 1) / e.workers
	if chunk == 0 {
		return nil
	}

	var g errgroup.Group
	for lo := 0; lo < len(lanes); lo += chunk {
		hi := min(lo+chunk, len(lanes))
		g.Go(func() error {
			r := new(laneRNG)
			for gid := lo; gid < hi; gid++ {
				runLane(r, packed[gid*LaneSize:], keys, mode,
					out[gid*stride:(gid+1)*stride])
			}
			return nil
		})
	}
	return g.Wait()
}

type laneRNG struct {
	variant uint32
	s1, s2  uint32
	x       uint64
	x0, x1  uint64
	mti     int
	mt      [624]uint32
}

func laneSplitmix(x uint64) uint64 {
	z := x + 0x9E3779B97F4A7C15
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}

func (r *laneRNG) seed(variant uint32, v uint64) bool {
	if v == 0 {
		return false
	}
	r.variant = variant

	switch variant {
	case laneMWC1616:
		r.s1 = uint32(v)
		r.s2 = uint32(v >> 32)
	case laneLCG48:
		r.x = (v ^ 0x5DEECE66D) & 0xFFFFFFFFFFFF
	case laneXorShift:
		r.x0 = laneSplitmix(v)
		r.x1 = laneSplitmix(v + 0x9E3779B97F4A7C15)
	case laneMT19937:
		r.mt[0] = uint32(v)
		for i := 1; i < 624; i++ {
			p := r.mt[i-1]
			r.mt[i] = 1812433253*(p^(p>>30)) + uint32(i)
		}
		r.mti = 624
	default:
		return false
	}
	return true
}

func (r *laneRNG) mtWord() uint32 {
	if r.mti >= 624 {
		for i := 0; i < 624; i++ {
			y := (r.mt[i] & 0x80000000) | (r.mt[(i+1)%624] & 0x7FFFFFFF)
			v := r.mt[(i+397)%624] ^ (y >> 1)
			if y&1 != 0 {
				v ^= 0x9908B0DF
			}
			r.mt[i] = v
		}
		r.mti = 0
	}
	y := r.mt[r.mti]
	r.mti++
	y ^= y >> 11
	y ^= (y << 7) & 0x9D2C5680
	y ^= (y << 15) & 0xEFC60000
	y ^= y >> 18
	return y
}

func (r *laneRNG) lcgStep(bits uint) uint64 {
	r.x = (r.x*0x5DEECE66D + 0xB) & 0xFFFFFFFFFFFF
	return r.x >> (48 - bits)
}

func (r *laneRNG) next() uint64 {
	switch r.variant {
	case laneMWC1616:
		r.s1 = 18000*(r.s1&0xFFFF) + (r.s1 >> 16)
		r.s2 = 30903*(r.s2&0xFFFF) + (r.s2 >> 16)
		return uint64((r.s1 << 16) + r.s2)
	case laneLCG48:
		hi := r.lcgStep(26)
		lo := r.lcgStep(27)
		return hi<<27 | lo
	case laneXorShift:
		s1 := r.x0
		s0 := r.x1
		r.x0 = s0
		s1 ^= s1 << 23
		r.x1 = s1 ^ s0 ^ (s1 >> 17) ^ (s0 >> 26)
		return r.x1 + s0
	case laneMT19937:
		a := uint64(r.mtWord() >> 5)
		b := uint64(r.mtWord() >> 6)
		return a<<26 | b
	}
	return 0
}

func (r *laneRNG) unit16() uint16 {
	shift := uint(53 - 16)
	switch r.variant {
	case laneMWC1616:
		shift = 32 - 16
	case laneXorShift:
		shift = 64 - 16
	}
	return uint16(r.next() >> shift)
}

// runLane is the Go rendition of the derive_keys kernel body for one gid.
func runLane(r *laneRNG, lane []byte, keys int, mode Mode, dst []byte) {
	l := decodeLane(lane)

	if !r.seed(l.Variant, l.Seed) {
		clear(dst)
		return
	}

	header := 0
	if mode == ModeTrace {
		header = traceKeys
		for u := 0; u < RawUnits; u++ {
			binary.LittleEndian.PutUint64(dst[8*u:], r.next())
		}
		r.seed(l.Variant, l.Seed)
	}

	var pool [poolSize]byte
	if l.Flags&FlagDescending != 0 {
		for p := poolSize - 1; p > 0; p -= 2 {
			t := r.unit16()
			pool[p] = byte(t >> 8)
			pool[p-1] = byte(t)
		}
	} else {
		for p := 0; p < poolSize; p += 2 {
			t := r.unit16()
			pool[p] = byte(t >> 8)
			pool[p+1] = byte(t)
		}
	}
	if mode == ModeTrace {
		copy(dst[traceFilled:], pool[:])
	}

	t := uint32(l.Timestamp)
	xor := func(at int) {
		pool[at] ^= byte(t)
		pool[at+1] ^= byte(t >> 8)
		pool[at+2] ^= byte(t >> 16)
		pool[at+3] ^= byte(t >> 24)
	}

	xor(0)
	if mode == ModeTrace {
		copy(dst[traceSeeded:], pool[:])
	}
	if l.Flags&FlagSinglePass == 0 {
		at := 0
		if l.Flags&FlagAdvance != 0 {
			at = 4
		}
		xor(at)
	}
	if mode == ModeTrace {
		copy(dst[traceFinal:], pool[:])
	}

	var s [256]byte
	for i := range s {
		s[i] = byte(i)
	}
	var j byte
	for i := 0; i < 256; i++ {
		j += s[i] + pool[i]
		s[i], s[j] = s[j], s[i]
	}
	if mode == ModeTrace {
		copy(dst[traceSBox:], s[:])
	}

	var i byte
	j = 0
	kd := dst[header : header+32*keys]
	for k := range kd {
		i++
		j += s[i]
		s[i], s[j] = s[j], s[i]
		kd[k] = s[s[i]+s[j]]
	}
}
