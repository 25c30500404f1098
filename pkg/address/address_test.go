package address

import (
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
)

func mustKey(t *testing.T, s string) [32]byte {
	t.Helper()

	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	require.Len(t, b, 32)

	var k [32]byte
	copy(k[:], b)
	return k
}

var allForms = Options{Witness: true, Taproot: true}

func TestGeneratorPointAddresses(t *testing.T) {
	key := [32]byte{31: 1}

	set, err := Derive(key, allForms)
	require.NoError(t, err)

	require.Equal(t, "1BgGZ9tcN4rm9KBzDn7KprQz87SZ26SAMH", set.Compressed)
	require.Equal(t, "1EHNa6Q4Jz2uvNExL497mE43ikXhwF6kZm", set.Uncompressed)
	require.Equal(t, "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4", set.Witness)
	require.Equal(t, "3JvL6Ymt8MVWiCNHC7oWU6nLeHNJKLZGLN", set.Wrapped)
	require.Equal(t,
		"bc1pmfr3p9j00pfxjh0zmgp99y8zftmd3s5pmedqhyptwy6lm87hf5sspknck9",
		set.Taproot)
	require.Equal(t,
		"0279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798",
		hex.EncodeToString(set.PubKeyCompressed))
}

// TestScenarioAddresses pins the address set of the 2012-01-01 MWC1616 key.
func TestScenarioAddresses(t *testing.T) {
	key := mustKey(t,
		"d10bda66154c7b58048d75106969ee70847ed20cf9eace73ad259c3e342e0f6c")

	set, err := Derive(key, allForms)
	require.NoError(t, err)

	require.Equal(t, "1KYpuDMkzqiC2je88aq9vVhXLJvnYqokZh", set.Compressed)
	require.Equal(t, "1JWaowMkFRoi71Aa7LGLqw3gGJCz1e7RwL", set.Uncompressed)
	require.Equal(t, "bc1qedmjfhjmjylsu46esnej6g4e8qhgdhxz6ghzun", set.Witness)
	require.Equal(t, "3Q7bfgdUVjvamze5AYKjaH51UVanxqwGRJ", set.Wrapped)
	require.Equal(t,
		"bc1pc68lm9vnwlcln444c4u0qsn5j6qnzkctnq6auvvzal32lu3tychsqszdlu",
		set.Taproot)
}

func TestOptionalFormsOmitted(t *testing.T) {
	set, err := Derive([32]byte{31: 1}, Options{})
	require.NoError(t, err)
	require.Empty(t, set.Witness)
	require.Empty(t, set.Wrapped)
	require.Empty(t, set.Taproot)

	entries := set.All()
	require.Len(t, entries, 2)
	require.Equal(t, KindCompressed, entries[0].Kind)
	require.Equal(t, KindUncompressed, entries[1].Kind)
}

func TestDeriveRejectsInvalidKeys(t *testing.T) {
	_, err := Derive([32]byte{}, Options{})
	require.ErrorIs(t, err, ErrInvalidKey)

	var over [32]byte
	for i := range over {
		over[i] = 0xFF
	}
	_, err = Derive(over, Options{})
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestTestnetParams(t *testing.T) {
	set, err := Derive([32]byte{31: 1}, Options{
		Params:  &chaincfg.TestNet3Params,
		Witness: true,
	})
	require.NoError(t, err)
	require.Contains(t, "mn", set.Compressed[:1])
	require.Equal(t, "tb1q", set.Witness[:4])

	_, err = Validate(set.Compressed, &chaincfg.TestNet3Params)
	require.NoError(t, err)
	_, err = Validate(set.Compressed, &chaincfg.MainNetParams)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	got, err := Validate("1BgGZ9tcN4rm9KBzDn7KprQz87SZ26SAMH", nil)
	require.NoError(t, err)
	require.Equal(t, "1BgGZ9tcN4rm9KBzDn7KprQz87SZ26SAMH", got)

	_, err = Validate("1BgGZ9tcN4rm9KBzDn7KprQz87SZ26SAMh", nil)
	require.Error(t, err)

	_, err = Validate("1BgGZ9tcN4rm9KBzDn7KprQz87SZ26SAM0", nil)
	require.ErrorContains(t, err, "invalid characters")

	_, err = Validate("bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4", nil)
	require.NoError(t, err)
}

func TestWIF(t *testing.T) {
	key := [32]byte{31: 1}
	require.Equal(t, "KwDiBf89QgGbjEhKnhXJuH7LrciVrZi3qYjgd9M7rFU73sVHnoWn",
		EncodeWIF(key, true, nil))
	require.Equal(t, "5HpHagT65TZzG1PH3CSu63k8DbpvD8s5ip4nEB3kEsreAnchuDf",
		EncodeWIF(key, false, nil))
}
