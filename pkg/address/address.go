// Package address derives every Bitcoin address a private key could have
// been published under. Compressed and uncompressed P2PKH are always
// produced; SegWit and Taproot forms are opt-in.
package address

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/btcsuite/btcd/chaincfg"
)

// ErrInvalidKey is returned for a scalar outside [1, n-1].
var ErrInvalidKey = errors.New("invalid private key")

// Kind is an address encoding.
type Kind uint8

const (
	KindCompressed   Kind = iota // P2PKH over the 33-byte key
	KindUncompressed             // P2PKH over the 65-byte key
	KindWitness                  // P2WPKH (bc1q...)
	KindWrapped                  // P2SH-P2WPKH (3...)
	KindTaproot                  // P2TR key path (bc1p...)
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindCompressed:
		return "p2pkh-compressed"
	case KindUncompressed:
		return "p2pkh-uncompressed"
	case KindWitness:
		return "p2wpkh"
	case KindWrapped:
		return "p2sh-p2wpkh"
	case KindTaproot:
		return "p2tr"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Options selects the network and optional encodings.
type Options struct {
	// Params defaults to mainnet.
	Params *chaincfg.Params

	// Witness adds P2WPKH and P2SH-P2WPKH.
	Witness bool

	// Taproot adds P2TR.
	Taproot bool
}

func (o Options) params() *chaincfg.Params {
	if o.Params == nil {
		return &chaincfg.MainNetParams
	}
	return o.Params
}

// Entry is one encoded address.
type Entry struct {
	Kind    Kind
	Address string
}

// Set is the address set of one key.
type Set struct {
	PubKeyCompressed   []byte
	PubKeyUncompressed []byte

	Compressed   string
	Uncompressed string
	Witness      string
	Wrapped      string
	Taproot      string
}

// All lists the populated addresses, legacy forms first.
func (s *Set) All() []Entry {
	entries := []Entry{
		{KindCompressed, s.Compressed},
		{KindUncompressed, s.Uncompressed},
	}
	if s.Witness != "" {
		entries = append(entries, Entry{KindWitness, s.Witness})
	}
	if s.Wrapped != "" {
		entries = append(entries, Entry{KindWrapped, s.Wrapped})
	}
	if s.Taproot != "" {
		entries = append(entries, Entry{KindTaproot, s.Taproot})
	}
	return entries
}

// Derive computes the address set of key. It is pure and performs no I/O.
func Derive(key [32]byte, opts Options) (Set, error) {
	var scalar btcec.ModNScalar
	if overflow := scalar.SetBytes(&key); overflow != 0 || scalar.IsZero() {
		return Set{}, ErrInvalidKey
	}

	_, pub := btcec.PrivKeyFromBytes(key[:])
	params := opts.params()

	set := Set{
		PubKeyCompressed:   pub.SerializeCompressed(),
		PubKeyUncompressed: pub.SerializeUncompressed(),
	}

	compressedHash := Hash160(set.PubKeyCompressed)
	set.Compressed = legacyAddress(params.PubKeyHashAddrID, compressedHash)
	set.Uncompressed = legacyAddress(
		params.PubKeyHashAddrID, Hash160(set.PubKeyUncompressed),
	)

	if opts.Witness {
		witness, err := btcutil.NewAddressWitnessPubKeyHash(
			compressedHash, params,
		)
		if err != nil {
			return Set{}, err
		}
		set.Witness = witness.EncodeAddress()
		set.Wrapped = wrappedAddress(params.ScriptHashAddrID,
			compressedHash)
	}

	if opts.Taproot {
		addr, err := taprootAddress(params.Bech32HRPSegwit, pub)
		if err != nil {
			return Set{}, err
		}
		set.Taproot = addr
	}

	return set, nil
}

// legacyAddress is Base58Check(version || HASH160(pubkey)).
func legacyAddress(version byte, hash []byte) string {
	data := make([]byte, 21)
	data[0] = version
	copy(data[1:], hash)

	return Base58CheckEncode(data)
}

// wrappedAddress wraps the P2WPKH program OP_0 <20 bytes> in P2SH:
// Base58Check(version || HASH160(0x00 0x14 || hash)).
func wrappedAddress(version byte, pubKeyHash []byte) string {
	witnessProgram := make([]byte, 22)
	witnessProgram[0] = 0x00
	witnessProgram[1] = 0x14
	copy(witnessProgram[2:], pubKeyHash)

	return legacyAddress(version, Hash160(witnessProgram))
}

// taprootAddress creates the BIP-86 key-path P2TR address:
// Bech32m(hrp, 1, x(P + TaggedHash("TapTweak", x(P))*G)).
func taprootAddress(hrp string, pubKey *btcec.PublicKey) (string, error) {
	xOnly := schnorr.SerializePubKey(pubKey)

	// Lift x(P) to the even-y point before tweaking.
	internal, err := schnorr.ParsePubKey(xOnly)
	if err != nil {
		return "", err
	}

	tweak := taprootTweak(xOnly, nil)
	var tweakScalar btcec.ModNScalar
	tweakScalar.SetBytes((*[32]byte)(tweak))

	var result, internalJacobian btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(&tweakScalar, &result)
	internal.AsJacobian(&internalJacobian)
	btcec.AddNonConst(&internalJacobian, &result, &result)
	result.ToAffine()

	tweaked := btcec.NewPublicKey(&result.X, &result.Y)
	data, err := bech32.ConvertBits(schnorr.SerializePubKey(tweaked), 8, 5,
		true)
	if err != nil {
		return "", err
	}

	return bech32.EncodeM(hrp, append([]byte{0x01}, data...))
}

// taprootTweak is TaggedHash("TapTweak", pubkey_x || merkle_root). The
// merkle root is empty for key-path only outputs.
func taprootTweak(pubKeyX []byte, merkleRoot []byte) []byte {
	tagHash := sha256.Sum256([]byte("TapTweak"))

	h := sha256.New()
	h.Write(tagHash[:])
	h.Write(tagHash[:])
	h.Write(pubKeyX)
	if len(merkleRoot) > 0 {
		h.Write(merkleRoot)
	}

	return h.Sum(nil)
}
