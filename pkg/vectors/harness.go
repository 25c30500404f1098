package vectors

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"github.com/Amr-9/StormHunter/pkg/accel"
	"github.com/Amr-9/StormHunter/pkg/address"
	"github.com/Amr-9/StormHunter/pkg/derive"
	"github.com/Amr-9/StormHunter/pkg/scanner"
	"github.com/Amr-9/StormHunter/pkg/scanner/gpu"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Stage names in pipeline order.
const (
	StageRaw       = "raw"
	StageFilled    = "filled"
	StageSeeded    = "seeded"
	StageFinal     = "final"
	StageSBox      = "sbox"
	StageKeys      = "keys"
	StagePubKeys   = "pubkeys"
	StageAddresses = "addresses"
)

// CPUBackend is the name the reference pipeline reports under.
const CPUBackend = "cpu"

// errCrossCheck marks a public key that two independent curve
// implementations disagree on.
var errCrossCheck = errors.New("public key cross-check failed")

// Result is the outcome of one vector on one backend.
type Result struct {
	Vector  string
	Backend string

	// Stage is the first stage that differs from the expected value. It
	// is empty when the vector passed.
	Stage string

	Err error
}

// Passed reports whether every stage matched.
func (r Result) Passed() bool {
	return r.Stage == "" && r.Err == nil
}

// String implements fmt.Stringer.
func (r Result) String() string {
	switch {
	case r.Err != nil:
		return fmt.Sprintf("%s on %s: %v", r.Vector, r.Backend, r.Err)
	case r.Stage != "":
		return fmt.Sprintf("%s on %s: mismatch at stage %s", r.Vector,
			r.Backend, r.Stage)
	default:
		return fmt.Sprintf("%s on %s: ok", r.Vector, r.Backend)
	}
}

// Report summarizes a harness run.
type Report struct {
	Results []Result
	Gate    fn.Option[GateResult]

	// ReleaseEligible is set only when every vector passed on every
	// backend and a non-synthetic disclosure gate was reproduced.
	ReleaseEligible bool
}

// Failures returns the results that did not pass.
func (r *Report) Failures() []Result {
	var failed []Result
	for _, res := range r.Results {
		if !res.Passed() {
			failed = append(failed, res)
		}
	}
	return failed
}

// Passed reports whether every vector passed and the gate, if run, was
// reproduced.
func (r *Report) Passed() bool {
	gate := r.Gate.UnwrapOr(GateResult{Reproduced: true})
	return len(r.Failures()) == 0 && gate.Reproduced
}

// Config configures a Harness.
type Config struct {
	// Devices are checked against the CPU pipeline in trace mode.
	Devices []accel.Device

	// GateBackend scans the disclosure window. Nil means the CPU backend.
	GateBackend scanner.Backend

	// SkipGate disables the gate scan.
	SkipGate bool
}

// Harness checks every backend against the vectors and against each other.
type Harness struct {
	cfg Config
}

// NewHarness returns a harness for cfg.
func NewHarness(cfg Config) *Harness {
	return &Harness{cfg: cfg}
}

// stages is one backend's view of one vector.
type stages struct {
	raw    [accel.RawUnits]uint64
	filled [256]byte
	seeded [256]byte
	final  [256]byte
	sbox   [256]byte
	keys   [][32]byte
}

// diff returns the first stage where a and b differ.
func (a *stages) diff(b *stages) string {
	switch {
	case a.raw != b.raw:
		return StageRaw
	case a.filled != b.filled:
		return StageFilled
	case a.seeded != b.seeded:
		return StageSeeded
	case a.final != b.final:
		return StageFinal
	case a.sbox != b.sbox:
		return StageSBox
	case len(a.keys) != len(b.keys):
		return StageKeys
	}
	for i := range a.keys {
		if a.keys[i] != b.keys[i] {
			return StageKeys
		}
	}
	return ""
}

// Run checks every vector of f on the CPU pipeline and each configured
// device, then runs the disclosure gate. Two backends that disagree on any
// stage abort the run with scanner.ErrParityMismatch.
func (h *Harness) Run(ctx context.Context, f *File) (*Report, error) {
	report := &Report{Gate: fn.None[GateResult]()}

	cpuStages := make([]*stages, len(f.Vectors))
	for i := range f.Vectors {
		v := &f.Vectors[i]
		st, err := cpuTrace(v)
		if err != nil {
			report.Results = append(report.Results, Result{
				Vector: v.ID, Backend: CPUBackend, Err: err,
			})
			continue
		}
		cpuStages[i] = st
		report.Results = append(report.Results,
			check(v, CPUBackend, st))
	}

	for _, dev := range h.cfg.Devices {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		devStages, err := deviceTrace(dev, f.Vectors)
		if err != nil {
			return report, fmt.Errorf("%s: %w", dev.Name(), err)
		}

		for i := range f.Vectors {
			v := &f.Vectors[i]
			if cpuStages[i] == nil || devStages[i] == nil {
				continue
			}
			if stage := cpuStages[i].diff(devStages[i]); stage != "" {
				log.Errorf("Vector %s: %s disagrees with the CPU "+
					"pipeline at stage %s", v.ID, dev.Name(), stage)

				return report, fmt.Errorf("%w: vector %s backend %s "+
					"stage %s", scanner.ErrParityMismatch, v.ID,
					dev.Name(), stage)
			}
			report.Results = append(report.Results,
				check(v, dev.Name(), devStages[i]))
		}
	}

	for _, res := range report.Results {
		if res.Passed() {
			log.Debugf("Vector %s", res)
			continue
		}
		log.Warnf("Vector %s", res)
	}

	if f.Gate != nil && !h.cfg.SkipGate {
		gate, err := h.RunGate(ctx, f.Gate)
		if err != nil {
			return report, err
		}
		report.Gate = fn.Some(gate)
		report.ReleaseEligible = len(report.Failures()) == 0 &&
			gate.Reproduced && !f.Gate.Synthetic
	}

	return report, nil
}

// RunGate scans g on the configured gate backend.
func (h *Harness) RunGate(ctx context.Context, g *Gate) (GateResult, error) {
	return RunGate(ctx, g, h.cfg.GateBackend)
}

// check compares one backend's stages with the expected values, then
// derives public keys and addresses from its keys.
func check(v *Vector, backend string, got *stages) Result {
	res := Result{Vector: v.ID, Backend: backend}

	want, err := expectedStages(&v.Expected)
	if err != nil {
		res.Err = err
		return res
	}
	if len(got.keys) > len(want.keys) {
		got = &stages{
			raw: got.raw, filled: got.filled, seeded: got.seeded,
			final: got.final, sbox: got.sbox,
			keys: got.keys[:len(want.keys)],
		}
	}
	if res.Stage = want.diff(got); res.Stage != "" {
		return res
	}

	for i, key := range got.keys {
		kv, err := keyVector(key)
		switch {
		case errors.Is(err, errCrossCheck):
			res.Stage = StagePubKeys
			res.Err = fmt.Errorf("key %d: %w", i, err)
			return res
		case err != nil:
			res.Err = fmt.Errorf("key %d: %w", i, err)
			return res
		}

		exp := &v.Expected.Keys[i]
		if kv.PubKeyCompressed != exp.PubKeyCompressed ||
			kv.PubKeyUncompressed != exp.PubKeyUncompressed {

			res.Stage = StagePubKeys
			return res
		}
		kv.Private = exp.Private
		if kv != *exp {
			res.Stage = StageAddresses
			return res
		}
	}

	return res
}

// keyVector derives the public keys and every address form of key. The
// public keys are computed twice, by btcec and by go-ethereum, and must
// agree.
func keyVector(key [32]byte) (KeyVector, error) {
	set, err := address.Derive(key, address.Options{
		Witness: true,
		Taproot: true,
	})
	if err != nil {
		return KeyVector{}, err
	}

	ecdsaKey, err := crypto.ToECDSA(key[:])
	if err != nil {
		return KeyVector{}, err
	}
	ethUncompressed := crypto.FromECDSAPub(&ecdsaKey.PublicKey)
	ethCompressed := crypto.CompressPubkey(&ecdsaKey.PublicKey)
	if !bytes.Equal(ethUncompressed, set.PubKeyUncompressed) ||
		!bytes.Equal(ethCompressed, set.PubKeyCompressed) {

		return KeyVector{}, errCrossCheck
	}

	return KeyVector{
		Private:            hex.EncodeToString(key[:]),
		PubKeyCompressed:   hex.EncodeToString(set.PubKeyCompressed),
		PubKeyUncompressed: hex.EncodeToString(set.PubKeyUncompressed),
		Compressed:         set.Compressed,
		Uncompressed:       set.Uncompressed,
		Witness:            set.Witness,
		Wrapped:            set.Wrapped,
		Taproot:            set.Taproot,
	}, nil
}

func cpuTrace(v *Vector) (*stages, error) {
	m, cfg, variant, err := v.Input.Material()
	if err != nil {
		return nil, err
	}
	if v.Input.Keys < 1 || v.Input.Keys > accel.MaxKeys {
		return nil, fmt.Errorf("vector %s: %d keys outside [1, %d]", v.ID,
			v.Input.Keys, accel.MaxKeys)
	}

	tr, err := derive.TraceOf(m, variant, cfg, v.Input.Keys)
	if err != nil {
		return nil, err
	}

	st := &stages{
		raw:    tr.Raw,
		filled: tr.Filled,
		seeded: tr.Seeded,
		final:  tr.Final,
		sbox:   tr.Cipher.S,
		keys:   make([][32]byte, len(tr.Keys)),
	}
	for i := range tr.Keys {
		st.keys[i] = tr.Keys[i]
	}
	return st, nil
}

// deviceTrace runs every resolvable vector through dev in trace mode. The
// slot of a vector that cannot be resolved stays nil.
func deviceTrace(dev accel.Device, vs []Vector) ([]*stages, error) {
	type slot struct {
		idx  int
		lane accel.Lane
	}

	keys := 1
	var slots []slot
	for i := range vs {
		in := &vs[i].Input
		m, cfg, variant, err := in.Material()
		if err != nil || in.Keys < 1 || in.Keys > accel.MaxKeys {
			continue
		}
		keys = max(keys, in.Keys)

		c := scanner.Candidate{Material: m, Variant: variant}
		slots = append(slots, slot{idx: i, lane: gpu.Lane(&c, cfg)})
	}

	result := make([]*stages, len(vs))
	stride := accel.OutputStride(accel.ModeTrace, keys)

	for lo := 0; lo < len(slots); lo += dev.MaxLanes() {
		hi := min(lo+dev.MaxLanes(), len(slots))

		lanes := make([]accel.Lane, 0, hi-lo)
		for _, s := range slots[lo:hi] {
			lanes = append(lanes, s.lane)
		}

		out := make([]byte, len(lanes)*stride)
		if err := dev.Dispatch(lanes, keys, accel.ModeTrace, out); err != nil {
			return nil, err
		}

		for i, s := range slots[lo:hi] {
			rec := accel.DecodeTrace(out, i, keys)
			result[s.idx] = &stages{
				raw:    rec.Raw,
				filled: rec.Filled,
				seeded: rec.Seeded,
				final:  rec.Final,
				sbox:   rec.SBox,
				keys:   rec.Keys[:vs[s.idx].Input.Keys],
			}
		}
	}

	return result, nil
}

func expectedStages(ex *Expected) (*stages, error) {
	var st stages

	if len(ex.Raw) != len(st.raw) {
		return nil, fmt.Errorf("want %d raw units, have %d", len(st.raw),
			len(ex.Raw))
	}
	for i, s := range ex.Raw {
		v, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("raw unit %d: %w", i, err)
		}
		st.raw[i] = v
	}

	pools := []struct {
		name string
		hex  string
		dst  *[256]byte
	}{
		{StageFilled, ex.Filled, &st.filled},
		{StageSeeded, ex.Seeded, &st.seeded},
		{StageFinal, ex.Final, &st.final},
		{StageSBox, ex.SBox, &st.sbox},
	}
	for _, p := range pools {
		if err := decodeFixed(p.hex, p.dst[:]); err != nil {
			return nil, fmt.Errorf("%s: %w", p.name, err)
		}
	}

	st.keys = make([][32]byte, len(ex.Keys))
	for i := range ex.Keys {
		if err := decodeFixed(ex.Keys[i].Private, st.keys[i][:]); err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}
	}

	return &st, nil
}

func decodeFixed(s string, dst []byte) error {
	b, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(b) != len(dst) {
		return fmt.Errorf("want %d bytes, have %d", len(dst), len(b))
	}
	copy(dst, b)
	return nil
}

// Compute derives a complete vector for in with the CPU pipeline.
func Compute(id, description string, in Input) (Vector, error) {
	v := Vector{ID: id, Description: description, Input: in}

	st, err := cpuTrace(&v)
	if err != nil {
		return Vector{}, err
	}

	ex := Expected{
		Filled: hex.EncodeToString(st.filled[:]),
		Seeded: hex.EncodeToString(st.seeded[:]),
		Final:  hex.EncodeToString(st.final[:]),
		SBox:   hex.EncodeToString(st.sbox[:]),
	}
	for _, r := range st.raw {
		ex.Raw = append(ex.Raw, fmt.Sprintf("%#x", r))
	}
	for i, key := range st.keys {
		kv, err := keyVector(key)
		if err != nil {
			return Vector{}, fmt.Errorf("vector %s key %d: %w", id, i,
				err)
		}
		ex.Keys = append(ex.Keys, kv)
	}

	v.Expected = ex
	v.Checksum = v.Digest()
	return v, nil
}
