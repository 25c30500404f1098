package address

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

// Bech32 charset (excludes 1, b, i, o).
const bech32Charset = "023456789acdefghjklmnpqrstuvwxyz"

// Base58 charset (excludes 0, O, I, l).
const base58Charset = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// InvalidChars returns characters that cannot appear in addr for the
// encoding its prefix implies.
func InvalidChars(addr string, params *chaincfg.Params) []rune {
	if params == nil {
		params = &chaincfg.MainNetParams
	}

	var invalid []rune
	hrp := params.Bech32HRPSegwit + "1"
	if strings.HasPrefix(strings.ToLower(addr), hrp) {
		for _, c := range strings.ToLower(addr[len(hrp):]) {
			if !strings.ContainsRune(bech32Charset, c) {
				invalid = append(invalid, c)
			}
		}
		return invalid
	}

	for _, c := range addr {
		if !strings.ContainsRune(base58Charset, c) {
			invalid = append(invalid, c)
		}
	}
	return invalid
}

// Validate checks that addr decodes, carries a valid checksum, and belongs
// to params' network. It returns the canonical encoding.
func Validate(addr string, params *chaincfg.Params) (string, error) {
	if params == nil {
		params = &chaincfg.MainNetParams
	}

	if bad := InvalidChars(addr, params); len(bad) > 0 {
		return "", fmt.Errorf("address %q: invalid characters %q", addr,
			string(bad))
	}

	decoded, err := btcutil.DecodeAddress(addr, params)
	if err != nil {
		return "", fmt.Errorf("address %q: %w", addr, err)
	}
	if !decoded.IsForNet(params) {
		return "", fmt.Errorf("address %q: not a %s address", addr,
			params.Name)
	}

	return decoded.EncodeAddress(), nil
}
