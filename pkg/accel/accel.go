// Package accel runs the key derivation pipeline on a data-parallel device.
// Each lane is one candidate; the host packs lanes, dispatches once per
// batch and reads the whole output buffer back after the device finishes.
package accel

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrBackendUnavailable is returned when no accelerator can be opened or a
// dispatch runs out of device resources.
var ErrBackendUnavailable = errors.New("accelerator backend unavailable")

const (
	// LaneSize is the packed size of one lane: variant u32, flags u32,
	// engine seed u64, timestamp u64, all little-endian.
	LaneSize = 24

	// MaxKeys bounds the keys produced per lane.
	MaxKeys = 64

	// RawUnits is how many raw engine units a trace lane records.
	RawUnits = 4

	poolSize = 256
)

// Lane flags.
const (
	FlagDescending uint32 = 1 << 0
	FlagSinglePass uint32 = 1 << 1
	FlagAdvance    uint32 = 1 << 2
)

// Mode selects what a dispatch writes per lane.
type Mode uint32

const (
	// ModeKeys writes only the keystream blocks.
	ModeKeys Mode = iota

	// ModeTrace writes every intermediate stage followed by the keys.
	ModeTrace
)

// Trace lane offsets.
const (
	traceRaw    = 0
	traceFilled = traceRaw + 8*RawUnits
	traceSeeded = traceFilled + poolSize
	traceFinal  = traceSeeded + poolSize
	traceSBox   = traceFinal + poolSize
	traceKeys   = traceSBox + poolSize
)

// OutputStride is the number of output bytes one lane occupies.
func OutputStride(mode Mode, keys int) int {
	if mode == ModeTrace {
		return traceKeys + 32*keys
	}
	return 32 * keys
}

// Lane is the device-side description of one candidate.
type Lane struct {
	// Variant uses the engine package numbering.
	Variant uint32
	Flags   uint32

	// Seed is the engine seed value.
	Seed uint64

	// Timestamp feeds the pool XOR.
	Timestamp uint64
}

// EncodeLanes packs lanes into buf, growing it when needed.
func EncodeLanes(lanes []Lane, buf []byte) []byte {
	n := len(lanes) * LaneSize
	if cap(buf) < n {
		buf = make([]byte, n)
	}
	buf = buf[:n]

	for i, l := range lanes {
		b := buf[i*LaneSize:]
		binary.LittleEndian.PutUint32(b[0:], l.Variant)
		binary.LittleEndian.PutUint32(b[4:], l.Flags)
		binary.LittleEndian.PutUint64(b[8:], l.Seed)
		binary.LittleEndian.PutUint64(b[16:], l.Timestamp)
	}
	return buf
}

func decodeLane(b []byte) Lane {
	return Lane{
		Variant:   binary.LittleEndian.Uint32(b[0:]),
		Flags:     binary.LittleEndian.Uint32(b[4:]),
		Seed:      binary.LittleEndian.Uint64(b[8:]),
		Timestamp: binary.LittleEndian.Uint64(b[16:]),
	}
}

// Device is an accelerator that runs whole batches of lanes.
type Device interface {
	// Name describes the device.
	Name() string

	// MaxLanes is the largest batch a single Dispatch accepts.
	MaxLanes() int

	// Dispatch runs every lane and fills out, which must hold
	// len(lanes)*OutputStride(mode, keys) bytes. A lane whose variant is
	// unknown or whose seed is zero writes all zero output.
	Dispatch(lanes []Lane, keys int, mode Mode, out []byte) error

	// Close releases device resources.
	Close() error
}

func checkDispatch(d Device, lanes []Lane, keys int, mode Mode,
	out []byte) error {

	switch {
	case len(lanes) > d.MaxLanes():
		return fmt.Errorf("%d lanes exceeds device limit %d", len(lanes),
			d.MaxLanes())
	case keys < 1 || keys > MaxKeys:
		return fmt.Errorf("keys per lane %d outside [1, %d]", keys,
			MaxKeys)
	case mode != ModeKeys && mode != ModeTrace:
		return fmt.Errorf("unknown dispatch mode %d", mode)
	case len(out) < len(lanes)*OutputStride(mode, keys):
		return fmt.Errorf("output buffer holds %d bytes, need %d",
			len(out), len(lanes)*OutputStride(mode, keys))
	}
	return nil
}

// TraceRecord is one decoded ModeTrace lane.
type TraceRecord struct {
	Raw    [RawUnits]uint64
	Filled [poolSize]byte
	Seeded [poolSize]byte
	Final  [poolSize]byte
	SBox   [poolSize]byte
	Keys   [][32]byte
}

// DecodeTrace parses lane i of a ModeTrace output buffer.
func DecodeTrace(out []byte, i, keys int) TraceRecord {
	b := out[i*OutputStride(ModeTrace, keys):]

	var r TraceRecord
	for u := range r.Raw {
		r.Raw[u] = binary.LittleEndian.Uint64(b[traceRaw+8*u:])
	}
	copy(r.Filled[:], b[traceFilled:])
	copy(r.Seeded[:], b[traceSeeded:])
	copy(r.Final[:], b[traceFinal:])
	copy(r.SBox[:], b[traceSBox:])

	r.Keys = make([][32]byte, keys)
	for k := range r.Keys {
		copy(r.Keys[k][:], b[traceKeys+32*k:])
	}
	return r
}

// KeyAt returns key k of lane i from a ModeKeys output buffer.
func KeyAt(out []byte, i, k, keys int) []byte {
	off := i*OutputStride(ModeKeys, keys) + 32*k
	return out[off : off+32]
}
