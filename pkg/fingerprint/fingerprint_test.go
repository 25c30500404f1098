package fingerprint

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuiltinCatalogIsPrioritized(t *testing.T) {
	fps := Builtin()
	require.NotEmpty(t, fps)

	for i := 1; i < len(fps); i++ {
		require.GreaterOrEqual(t, fps[i-1].MarketShare, fps[i].MarketShare)
	}
	for _, fp := range fps {
		require.NoError(t, fp.Validate())
	}
}

func TestPrioritizeIsStable(t *testing.T) {
	fps := []Fingerprint{
		{ID: "a", MarketShare: 0.1},
		{ID: "b", MarketShare: 0.3},
		{ID: "c", MarketShare: 0.1},
	}
	got := Prioritize(fps)
	require.Equal(t, []string{"b", "a", "c"},
		[]string{got[0].ID, got[1].ID, got[2].ID})

	// The input is left untouched.
	require.Equal(t, "a", fps[0].ID)
}

func TestKeyIsStable(t *testing.T) {
	fp := Synthetic()
	require.Equal(t, "synthetic-chrome-win7", fp.Key())

	fp.ID = ""
	key := fp.Key()
	require.True(t, strings.HasPrefix(key, "fp-"))
	require.Equal(t, key, fp.Key())

	fp.ScreenWidth++
	require.NotEqual(t, key, fp.Key())
}

func TestLoadCSVRejectsBadRows(t *testing.T) {
	header := strings.Join(csvColumns, ",") + "\n"

	_, err := LoadCSV(strings.NewReader(header +
		"1,UA,abc,768,24,0,en,Win32,0.1,2011,2012\n"))
	require.ErrorIs(t, err, ErrInvalid)

	_, err = LoadCSV(strings.NewReader(header +
		"1,UA,1024,768,24,0,en,Win32,0.1,2014,2012\n"))
	require.ErrorIs(t, err, ErrInvalid)

	_, err = LoadCSV(strings.NewReader("a,b,c\n"))
	require.ErrorIs(t, err, ErrInvalid)
}

func TestLoadJSON(t *testing.T) {
	fps, err := LoadJSON(strings.NewReader(`[
		{"user_agent": "UA1", "screen_width": 800, "screen_height": 600, "market_share": 0.01},
		{"id": "top", "user_agent": "UA2", "screen_width": 1024, "screen_height": 768, "market_share": 0.5}
	]`))
	require.NoError(t, err)
	require.Len(t, fps, 2)
	require.Equal(t, "top", fps[0].Key())
}

func TestYearFilterAndPhases(t *testing.T) {
	fps := Builtin()

	only2011 := FilterYears(fps, 2011, 2011)
	require.NotEmpty(t, only2011)
	for _, fp := range only2011 {
		require.LessOrEqual(t, int(fp.YearMin), 2011)
	}

	require.Len(t, ForPhase(fps, PhaseOne), len(fps))
	require.InDelta(t, fps[0].MarketShare+fps[1].MarketShare,
		CumulativeShare(fps, 2), 1e-9)
}
