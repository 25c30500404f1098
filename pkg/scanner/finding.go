package scanner

import (
	"fmt"

	"github.com/Amr-9/StormHunter/pkg/address"
	"github.com/Amr-9/StormHunter/pkg/engine"
)

// Finding is a confirmed target hit. It holds coordinates only; the private
// key is recomputed from them by the separately gated export path.
type Finding struct {
	Address       string
	Kind          address.Kind
	Timestamp     int64
	FingerprintID string
	Variant       engine.Variant

	// KeyIndex is the position of the key in the cipher's output.
	KeyIndex uint8
}

// String implements fmt.Stringer.
func (f Finding) String() string {
	return fmt.Sprintf("%s (%v) ts=%d fingerprint=%s variant=%v key=%d",
		f.Address, f.Kind, f.Timestamp, f.FingerprintID, f.Variant,
		f.KeyIndex)
}

// Progress is emitted periodically during a scan.
type Progress struct {
	CandidatesCompleted uint64
	CandidatesTotal     uint64
	FindingsSoFar       int

	// Rate is candidates per second over the scan so far.
	Rate float64
}

// Fraction returns completion in [0, 1].
func (p Progress) Fraction() float64 {
	if p.CandidatesTotal == 0 {
		return 1
	}
	return float64(p.CandidatesCompleted) / float64(p.CandidatesTotal)
}
