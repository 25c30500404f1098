package address

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/ripemd160"
)

// Hash160 computes RIPEMD160(SHA256(data)).
func Hash160(data []byte) []byte {
	sha := sha256.Sum256(data)
	ripemd := ripemd160.New()
	ripemd.Write(sha[:])
	return ripemd.Sum(nil)
}

// Base58CheckEncode encodes data with a 4-byte double-SHA256 checksum.
func Base58CheckEncode(data []byte) string {
	first := sha256.Sum256(data)
	second := sha256.Sum256(first[:])

	full := make([]byte, 0, len(data)+4)
	full = append(full, data...)
	full = append(full, second[:4]...)

	return base58.Encode(full)
}

// EncodeWIF converts a key to Wallet Import Format. Nothing in the scan path
// calls it; it serves the separately gated key export.
func EncodeWIF(key [32]byte, compressed bool, params *chaincfg.Params) string {
	if params == nil {
		params = &chaincfg.MainNetParams
	}

	data := make([]byte, 0, 34)
	data = append(data, params.PrivateKeyID)
	data = append(data, key[:]...)
	if compressed {
		data = append(data, 0x01)
	}

	return Base58CheckEncode(data)
}
