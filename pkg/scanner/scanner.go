// Package scanner defines the contract shared by the key derivation
// backends. The CPU and accelerator implementations run the same pipeline
// and are interchangeable behind Backend.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Amr-9/StormHunter/pkg/derive"
	"github.com/Amr-9/StormHunter/pkg/engine"
	"github.com/Amr-9/StormHunter/pkg/seed"
)

var (
	// ErrParityMismatch is returned when two backends disagree on the
	// same candidate. It is always fatal.
	ErrParityMismatch = errors.New("parity mismatch between backends")

	// ErrChecksumFailure is returned for a corrupted checkpoint or test
	// vector file.
	ErrChecksumFailure = errors.New("checksum failure")
)

// Kind identifies a backend implementation.
type Kind uint8

const (
	KindAuto Kind = iota
	KindCPU
	KindOpenCL
	KindEmulator
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindCPU:
		return "cpu"
	case KindOpenCL:
		return "opencl"
	case KindEmulator:
		return "emulator"
	default:
		return "auto"
	}
}

// ParseKind resolves a backend preference.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return KindAuto, nil
	case "cpu":
		return KindCPU, nil
	case "opencl", "gpu":
		return KindOpenCL, nil
	case "emulator":
		return KindEmulator, nil
	}
	return KindAuto, fmt.Errorf("unknown backend %q", s)
}

// Candidate is one point of the search space.
type Candidate struct {
	// Index is the candidate's position in the search enumeration.
	Index uint64

	Material seed.Material
	Variant  engine.Variant
}

// Request is one batch of work.
type Request struct {
	Candidates []Candidate

	// KeysPerSeed is how many successive keys to draw per cipher.
	KeysPerSeed int

	Derive derive.Config
}

// KeyResult holds the keys of one candidate. Bad is a bitmap of key slots
// that were outside the curve order and are zeroed in Keys.
type KeyResult struct {
	Index uint64
	Keys  []derive.PrivateKey
	Bad   uint64

	// Err is set when the candidate itself was rejected. The scan
	// continues past it.
	Err error
}

// Stats holds real-time performance statistics.
type Stats struct {
	Attempts    uint64  // candidates derived
	HashRate    float64 // candidates per second
	ElapsedSecs float64 // time since the backend was created
}

// Backend derives keys for batches of candidates.
type Backend interface {
	// Derive returns one KeyResult per candidate, in request order. It
	// returns an error only when the backend itself failed; rejected
	// candidates are reported per result.
	Derive(ctx context.Context, req *Request) ([]KeyResult, error)

	// Stats returns the current performance statistics. It is safe to
	// call concurrently.
	Stats() Stats

	// Name returns the implementation name.
	Name() string

	// Close releases backend resources.
	Close() error
}

// CandidateError ties a failure to search coordinates. It never carries key
// material.
type CandidateError struct {
	Timestamp     int64
	FingerprintID string
	Variant       engine.Variant
	Err           error
}

// NewCandidateError wraps err with c's coordinates.
func NewCandidateError(c *Candidate, err error) *CandidateError {
	return &CandidateError{
		Timestamp:     c.Material.Timestamp,
		FingerprintID: c.Material.Fingerprint.Key(),
		Variant:       c.Variant,
		Err:           err,
	}
}

// Error implements error.
func (e *CandidateError) Error() string {
	return fmt.Sprintf("candidate ts=%d fingerprint=%s variant=%v: %v",
		e.Timestamp, e.FingerprintID, e.Variant, e.Err)
}

// Unwrap returns the underlying error.
func (e *CandidateError) Unwrap() error {
	return e.Err
}
