package scanner

import (
	"errors"
	"testing"

	"github.com/Amr-9/StormHunter/pkg/engine"
	"github.com/Amr-9/StormHunter/pkg/fingerprint"
	"github.com/Amr-9/StormHunter/pkg/seed"
	"github.com/stretchr/testify/require"
)

func TestCandidateErrorCarriesCoordinatesOnly(t *testing.T) {
	m, err := seed.Build(1325376000000, fingerprint.Synthetic())
	require.NoError(t, err)

	c := &Candidate{Index: 9, Material: m, Variant: engine.LCG48}
	cerr := NewCandidateError(c, engine.ErrInvalidSeed)

	require.ErrorIs(t, cerr, engine.ErrInvalidSeed)
	require.Equal(t, "candidate ts=1325376000000 "+
		"fingerprint=synthetic-chrome-win7 variant=lcg48: invalid seed",
		cerr.Error())

	var target *CandidateError
	require.True(t, errors.As(error(cerr), &target))
	require.Equal(t, engine.LCG48, target.Variant)
}

func TestParseKind(t *testing.T) {
	for _, k := range []Kind{KindAuto, KindCPU, KindOpenCL, KindEmulator} {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		require.Equal(t, k, got)
	}

	_, err := ParseKind("cuda")
	require.Error(t, err)
}

func TestProgressFraction(t *testing.T) {
	require.Equal(t, 1.0, Progress{}.Fraction())
	require.Equal(t, 0.25, Progress{
		CandidatesCompleted: 1, CandidatesTotal: 4,
	}.Fraction())
}
