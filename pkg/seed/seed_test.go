package seed

import (
	"testing"

	"github.com/Amr-9/StormHunter/pkg/engine"
	"github.com/Amr-9/StormHunter/pkg/fingerprint"
	"github.com/stretchr/testify/require"
)

func TestBuildValidates(t *testing.T) {
	fp := fingerprint.Synthetic()

	_, err := Build(0, fp)
	require.ErrorIs(t, err, engine.ErrInvalidSeed)

	_, err = Build(-5, fp)
	require.ErrorIs(t, err, engine.ErrInvalidSeed)

	_, err = Build(MaxTimestamp+1, fp)
	require.ErrorIs(t, err, engine.ErrInvalidSeed)

	_, err = Build(1325376000000, fingerprint.Fingerprint{})
	require.ErrorIs(t, err, engine.ErrInvalidSeed)

	_, err = Build(1325376000000, fp, WithAux(0))
	require.ErrorIs(t, err, engine.ErrInvalidSeed)
}

func TestEngineSeedPrefersAux(t *testing.T) {
	fp := fingerprint.Synthetic()

	m, err := Build(1325376000000, fp)
	require.NoError(t, err)
	require.Equal(t, uint64(1325376000000), m.EngineSeed())
	require.True(t, m.Aux.IsNone())

	m, err = Build(1325376000000, fp, WithAux(0xdeadbeefcafe))
	require.NoError(t, err)
	require.Equal(t, uint64(0xdeadbeefcafe), m.EngineSeed())
}

func TestXorTimestampLittleEndian(t *testing.T) {
	m, err := Build(0x0102030405, fingerprint.Synthetic())
	require.NoError(t, err)

	var pool [256]byte
	pool[4] = 0xAA
	m.XorTimestamp(&pool)
	require.Equal(t, []byte{0x05, 0x04, 0x03, 0x02, 0xAA}, pool[:5])

	// Applying it again restores the original bytes.
	m.XorTimestamp(&pool)
	require.Equal(t, []byte{0, 0, 0, 0, 0xAA}, pool[:5])
}

func TestXorTimestampAtWraps(t *testing.T) {
	m, err := Build(0x0102030405, fingerprint.Synthetic())
	require.NoError(t, err)

	var pool [256]byte
	m.XorTimestampAt(&pool, 4)
	require.Equal(t, []byte{0, 0, 0, 0, 0x05, 0x04, 0x03, 0x02}, pool[:8])

	pool = [256]byte{}
	m.XorTimestampAt(&pool, 254)
	require.Equal(t, []byte{0x05, 0x04}, pool[254:])
	require.Equal(t, []byte{0x03, 0x02}, pool[:2])
}

func TestFingerprintDoesNotAffectSeed(t *testing.T) {
	a, err := Build(1389781850000, fingerprint.Synthetic())
	require.NoError(t, err)

	other := fingerprint.Builtin()[0]
	b, err := Build(1389781850000, other)
	require.NoError(t, err)

	sa, err := a.Seed(engine.MWC1616)
	require.NoError(t, err)
	sb, err := b.Seed(engine.MWC1616)
	require.NoError(t, err)
	require.Equal(t, sa.Next(), sb.Next())
}
