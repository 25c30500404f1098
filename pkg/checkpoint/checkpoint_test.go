package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Amr-9/StormHunter/pkg/address"
	"github.com/Amr-9/StormHunter/pkg/engine"
	"github.com/Amr-9/StormHunter/pkg/scanner"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var testStart = time.Unix(1_700_000_000, 123)

func genFinding(t *rapid.T) scanner.Finding {
	return scanner.Finding{
		Address:       rapid.StringMatching(`[13][a-km-zA-HJ-NP-Z1-9]{25,33}`).Draw(t, "addr"),
		Kind:          address.Kind(rapid.IntRange(0, 4).Draw(t, "kind")),
		Timestamp:     rapid.Int64Range(1, 1<<42).Draw(t, "ts"),
		FingerprintID: rapid.StringMatching(`[a-z0-9-]{0,24}`).Draw(t, "fp"),
		Variant:       rapid.SampledFrom(engine.Variants()).Draw(t, "v"),
		KeyIndex:      uint8(rapid.IntRange(0, 63).Draw(t, "k")),
	}
}

func genCheckpoint(t *rapid.T) *Checkpoint {
	total := rapid.Uint64().Draw(t, "total")
	cp := &Checkpoint{
		Cursor:   rapid.Uint64Range(0, total).Draw(t, "cursor"),
		Total:    total,
		Findings: rapid.SliceOfN(rapid.Custom(genFinding), 0, 8).Draw(t, "findings"),
		Created: time.Unix(0, rapid.Int64Range(0, 1<<62).Draw(t,
			"created")),
	}
	copy(cp.SpaceID[:], rapid.SliceOfN(rapid.Byte(), 32, 32).Draw(t, "id"))
	return cp
}

func requireSame(t require.TestingT, want, got *Checkpoint) {
	require.Equal(t, want.Cursor, got.Cursor)
	require.Equal(t, want.Total, got.Total)
	require.Equal(t, want.SpaceID, got.SpaceID)
	require.Equal(t, want.Created.UnixNano(), got.Created.UnixNano())
	require.Len(t, got.Findings, len(want.Findings))
	for i := range want.Findings {
		require.Equal(t, want.Findings[i], got.Findings[i])
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cp := genCheckpoint(t)

		data, err := Encode(cp)
		require.NoError(t, err)

		got, corrupt, err := Decode(data, false)
		require.NoError(t, err)
		require.False(t, corrupt)
		requireSame(t, cp, got)
	})
}

func TestDecodeRejectsDamage(t *testing.T) {
	cp := &Checkpoint{Cursor: 5, Total: 10, Created: testStart}
	data, err := Encode(cp)
	require.NoError(t, err)

	flipped := append([]byte(nil), data...)
	flipped[8] ^= 0x01
	_, _, err = Decode(flipped, false)
	require.ErrorIs(t, err, scanner.ErrChecksumFailure)

	major := append([]byte(nil), data...)
	major[4] = MajorVersion + 1
	_, _, err = Decode(major, false)
	require.ErrorIs(t, err, ErrUnsupportedVersion)

	_, _, err = Decode(data[:10], false)
	require.ErrorIs(t, err, scanner.ErrChecksumFailure)

	// Damage only the digest: the override decodes the intact body.
	digest := append([]byte(nil), data...)
	digest[len(digest)-1] ^= 0xff
	got, corrupt, err := Decode(digest, true)
	require.NoError(t, err)
	require.True(t, corrupt)
	requireSame(t, cp, got)
}

func TestManagerSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.ckpt")
	c := clock.NewTestClock(testStart)

	m, err := Open(path, Config{Clock: c})
	require.NoError(t, err)

	none, err := m.Load()
	require.NoError(t, err)
	require.True(t, none.IsNone())

	findings := []scanner.Finding{{
		Address:       "1KYpuDMkzqiC2je88aq9vVhXLJvnYqokZh",
		Kind:          address.KindCompressed,
		Timestamp:     1325376000000,
		FingerprintID: "synthetic-chrome-win7",
		Variant:       engine.MWC1616,
	}}
	id := [32]byte{1, 2, 3}

	require.NoError(t, m.Save(10, 100, id, findings))

	// The creation time survives later saves.
	c.SetTime(testStart.Add(time.Hour))
	require.NoError(t, m.Save(20, 100, id, findings))

	for range 2 {
		opt, err := m.Load()
		require.NoError(t, err)
		cp := opt.UnwrapOrFail(t)
		require.Equal(t, uint64(20), cp.Cursor)
		require.Equal(t, testStart.UnixNano(), cp.Created.UnixNano())
		require.Equal(t, findings, cp.Findings)
	}

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	require.NoFileExists(t, path+".tmp")
}

func TestManagerLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.ckpt")

	m, err := Open(path, Config{})
	require.NoError(t, err)

	_, err = Open(path, Config{})
	require.ErrorIs(t, err, ErrLocked)
	require.ErrorContains(t, err, fmt.Sprintf("pid %d", os.Getpid()))

	require.NoError(t, m.Close())

	m2, err := Open(path, Config{})
	require.NoError(t, err)
	require.NoError(t, m2.Close())

	require.ErrorIs(t, m.Save(1, 2, [32]byte{}, nil), ErrClosed)
}

func TestOpenReusesStaleLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.ckpt")

	// A scan killed before Close leaves its lock file behind.
	require.NoError(t, os.WriteFile(path+".lock", []byte("999999\n"), 0600))

	m, err := Open(path, Config{})
	require.NoError(t, err)
	require.NoError(t, m.Save(3, 4, [32]byte{1}, nil))
	require.NoError(t, m.Close())

	m, err = Open(path, Config{})
	require.NoError(t, err)
	defer m.Close()
	require.Equal(t, uint64(3), fnMust(t, m).Cursor)
}

func TestCloseFlushesPending(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.ckpt")

	m, err := Open(path, Config{Clock: clock.NewTestClock(testStart)})
	require.NoError(t, err)

	m.Update(7, 9, [32]byte{9}, nil)
	require.NoFileExists(t, path)
	require.NoError(t, m.Close())

	m, err = Open(path, Config{})
	require.NoError(t, err)
	defer m.Close()

	cp := fnMust(t, m)
	require.Equal(t, uint64(7), cp.Cursor)
	require.Equal(t, [32]byte{9}, cp.SpaceID)
	require.Empty(t, cp.Findings)
}

func TestLoadCorruptNeedsOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.ckpt")

	m, err := Open(path, Config{})
	require.NoError(t, err)
	require.NoError(t, m.Save(3, 4, [32]byte{}, nil))
	require.NoError(t, m.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0x80
	require.NoError(t, os.WriteFile(path, data, 0600))

	m, err = Open(path, Config{})
	require.NoError(t, err)
	_, err = m.Load()
	require.ErrorIs(t, err, scanner.ErrChecksumFailure)
	require.NoError(t, m.Close())

	m, err = Open(path, Config{AllowCorrupt: true})
	require.NoError(t, err)
	defer m.Close()
	require.Equal(t, uint64(3), fnMust(t, m).Cursor)
}

func fnMust(t *testing.T, m *Manager) Checkpoint {
	opt, err := m.Load()
	require.NoError(t, err)
	return opt.UnwrapOrFail(t)
}
