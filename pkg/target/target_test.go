package target

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/Amr-9/StormHunter/pkg/address"
	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

const (
	genAddr    = "1BgGZ9tcN4rm9KBzDn7KprQz87SZ26SAMH"
	genAddrU   = "1EHNa6Q4Jz2uvNExL497mE43ikXhwF6kZm"
	genWitness = "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4"
)

// syntheticAddrs returns n distinct valid P2PKH addresses starting at seed.
func syntheticAddrs(seed uint64, n int) []string {
	addrs := make([]string, n)
	for i := range addrs {
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], seed+uint64(i))
		h := sha256.Sum256(buf[:])

		data := append([]byte{0x00}, h[:20]...)
		addrs[i] = address.Base58CheckEncode(data)
	}
	return addrs
}

func generatorSet(t *testing.T) *address.Set {
	set, err := address.Derive([32]byte{31: 1}, address.Options{Witness: true})
	require.NoError(t, err)
	return &set
}

func TestExactMatch(t *testing.T) {
	m, err := New([]string{genAddrU}, Options{})
	require.NoError(t, err)
	require.IsType(t, &Exact{}, m)

	hit := m.Match(generatorSet(t))
	require.True(t, hit.IsSome())
	hit.WhenSome(func(h Match) {
		require.Equal(t, genAddrU, h.Address)
		require.Equal(t, address.KindUncompressed, h.Kind)
	})

	other, err := New(syntheticAddrs(1, 10), Options{})
	require.NoError(t, err)
	require.True(t, other.Match(generatorSet(t)).IsNone())
}

func TestWitnessFormsAreMatched(t *testing.T) {
	m, err := New([]string{genWitness}, Options{})
	require.NoError(t, err)
	require.True(t, m.Match(generatorSet(t)).IsSome())
}

func TestNewSelectsFilterAboveThreshold(t *testing.T) {
	addrs := append(syntheticAddrs(1, 50), genAddr)

	m, err := New(addrs, Options{FilterThreshold: 10})
	require.NoError(t, err)
	require.IsType(t, &Filtered{}, m)
	require.Equal(t, 51, m.Len())
	require.True(t, m.Match(generatorSet(t)).IsSome())

	_, err = New(addrs, Options{FalsePositiveRate: 0.5})
	require.ErrorIs(t, err, ErrTargetLoad)

	_, err = New(nil, Options{})
	require.ErrorIs(t, err, ErrTargetLoad)
}

func TestNewCountsDistinctAddresses(t *testing.T) {
	var addrs []string
	for range 20 {
		addrs = append(addrs, genAddr, genWitness)
	}

	m, err := New(addrs, Options{FilterThreshold: 10})
	require.NoError(t, err)
	require.False(t, IsFiltered(m))
	require.Equal(t, 2, m.Len())

	m, err = Load(context.Background(),
		strings.NewReader(strings.Join(syntheticAddrs(7, 11), "\n")),
		"targets.txt", Options{FilterThreshold: 10})
	require.NoError(t, err)
	require.True(t, IsFiltered(m))
}

// TestFilterNeverMissesMembers checks the zero false negative guarantee.
func TestFilterNeverMissesMembers(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 2000).Draw(t, "n")
		seed := rapid.Uint64().Draw(t, "seed")
		addrs := syntheticAddrs(seed, n)

		f := NewFiltered(addrs, MaxFalsePositiveRate)
		for _, a := range addrs {
			require.True(t, f.MayContain(a))
			require.True(t, f.Contains(a))
		}
	})
}

// TestFilterFalsePositiveRate samples absent addresses and checks the
// observed rate against the design bound.
func TestFilterFalsePositiveRate(t *testing.T) {
	const (
		members = 20_000
		samples = 50_000
	)

	f := NewFiltered(syntheticAddrs(0, members), MaxFalsePositiveRate)
	absent := syntheticAddrs(1<<40, samples)

	var hits int
	for _, a := range absent {
		if f.MayContain(a) {
			hits++
		}
		// A filter hit alone is never a match.
		require.False(t, f.Contains(a))
	}

	rate := float64(hits) / samples
	require.LessOrEqual(t, rate, MaxFalsePositiveRate*1.5)

	filterHits, falsePositives := f.FilterStats()
	require.Equal(t, uint64(hits), filterHits)
	require.Equal(t, uint64(hits), falsePositives)
}

func TestLoadPlain(t *testing.T) {
	input := strings.Join([]string{
		"# vulnerable candidates",
		"",
		genAddr + ",0.5",
		"  " + genWitness + "  ",
	}, "\n")

	m, err := Load(context.Background(), strings.NewReader(input),
		"targets.txt", Options{})
	require.NoError(t, err)
	require.Equal(t, 2, m.Len())
	require.True(t, m.Contains(genAddr))
	require.True(t, m.Contains(genWitness))
}

func TestLoadCompressed(t *testing.T) {
	addrs := syntheticAddrs(7, 100)
	plain := strings.Join(addrs, "\n")

	var gz bytes.Buffer
	w := gzip.NewWriter(&gz)
	_, err := w.Write([]byte(plain))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	m, err := Load(context.Background(), &gz, "targets.gz", Options{})
	require.NoError(t, err)
	require.Equal(t, 100, m.Len())

	var br bytes.Buffer
	bw := brotli.NewWriter(&br)
	_, err = bw.Write([]byte(plain))
	require.NoError(t, err)
	require.NoError(t, bw.Close())

	m, err = Load(context.Background(), &br, "targets.txt.br", Options{})
	require.NoError(t, err)
	require.True(t, m.Contains(addrs[42]))
}

func TestLoadRejectsMalformed(t *testing.T) {
	input := genAddr + "\nnot-an-address\n"

	_, err := Load(context.Background(), strings.NewReader(input),
		"targets.txt", Options{})
	require.ErrorIs(t, err, ErrTargetLoad)
	require.ErrorContains(t, err, "line 2")

	_, err = Load(context.Background(), strings.NewReader("# nothing\n"),
		"targets.txt", Options{})
	require.ErrorIs(t, err, ErrTargetLoad)
}
