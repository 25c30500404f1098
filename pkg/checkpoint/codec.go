package checkpoint

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Amr-9/StormHunter/pkg/address"
	"github.com/Amr-9/StormHunter/pkg/engine"
	"github.com/Amr-9/StormHunter/pkg/scanner"
	"github.com/lightningnetwork/lnd/tlv"
)

const (
	// MajorVersion changes when a reader of the previous major version
	// could not make sense of the file.
	MajorVersion = 1

	// MinorVersion changes when records are added. Added records use odd
	// types so older readers skip them.
	MinorVersion = 0
)

var magic = [4]byte{'S', 'H', 'C', 'P'}

// ErrUnsupportedVersion is returned for a checkpoint written by an
// incompatible major version.
var ErrUnsupportedVersion = errors.New("unsupported checkpoint version")

// Header stream types.
const (
	typeCursor  tlv.Type = 0
	typeTotal   tlv.Type = 2
	typeSpaceID tlv.Type = 4
	typeCreated tlv.Type = 6
)

// Finding stream types.
const (
	typeAddress     tlv.Type = 0
	typeKind        tlv.Type = 2
	typeTimestamp   tlv.Type = 4
	typeFingerprint tlv.Type = 6
	typeVariant     tlv.Type = 8
	typeKeyIndex    tlv.Type = 10
)

// Checkpoint is the persisted progress of one scan.
type Checkpoint struct {
	// Cursor is the index of the next candidate to scan.
	Cursor uint64

	// Total is the size of the search space.
	Total uint64

	// SpaceID identifies the search space the cursor belongs to.
	SpaceID [32]byte

	Findings []scanner.Finding

	// Created is when the scan first started.
	Created time.Time
}

type headerRecord struct {
	cursor  uint64
	total   uint64
	spaceID [32]byte
	created uint64
}

func (h *headerRecord) stream() (*tlv.Stream, error) {
	return tlv.NewStream(
		tlv.MakePrimitiveRecord(typeCursor, &h.cursor),
		tlv.MakePrimitiveRecord(typeTotal, &h.total),
		tlv.MakePrimitiveRecord(typeSpaceID, &h.spaceID),
		tlv.MakePrimitiveRecord(typeCreated, &h.created),
	)
}

type findingRecord struct {
	address     []byte
	kind        uint8
	timestamp   uint64
	fingerprint []byte
	variant     uint8
	keyIndex    uint8
}

func (f *findingRecord) stream() (*tlv.Stream, error) {
	return tlv.NewStream(
		tlv.MakePrimitiveRecord(typeAddress, &f.address),
		tlv.MakePrimitiveRecord(typeKind, &f.kind),
		tlv.MakePrimitiveRecord(typeTimestamp, &f.timestamp),
		tlv.MakePrimitiveRecord(typeFingerprint, &f.fingerprint),
		tlv.MakePrimitiveRecord(typeVariant, &f.variant),
		tlv.MakePrimitiveRecord(typeKeyIndex, &f.keyIndex),
	)
}

// writeSized encodes s to w prefixed by its varint length.
func writeSized(w io.Writer, s *tlv.Stream, buf *[8]byte) error {
	var b bytes.Buffer
	if err := s.Encode(&b); err != nil {
		return err
	}
	if err := tlv.WriteVarInt(w, uint64(b.Len()), buf); err != nil {
		return err
	}
	_, err := w.Write(b.Bytes())
	return err
}

func readSized(r *bytes.Reader, buf *[8]byte) ([]byte, error) {
	n, err := tlv.ReadVarInt(r, buf)
	if err != nil {
		return nil, err
	}
	if n > uint64(r.Len()) {
		return nil, io.ErrUnexpectedEOF
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Encode serializes cp, including the trailing checksum.
func Encode(cp *Checkpoint) ([]byte, error) {
	var (
		w   bytes.Buffer
		buf [8]byte
	)
	w.Write(magic[:])
	w.WriteByte(MajorVersion)
	w.WriteByte(MinorVersion)

	h := headerRecord{
		cursor:  cp.Cursor,
		total:   cp.Total,
		spaceID: cp.SpaceID,
		created: uint64(cp.Created.UnixNano()),
	}
	hs, err := h.stream()
	if err != nil {
		return nil, err
	}
	if err := writeSized(&w, hs, &buf); err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}

	err = tlv.WriteVarInt(&w, uint64(len(cp.Findings)), &buf)
	if err != nil {
		return nil, err
	}
	for i, f := range cp.Findings {
		rec := findingRecord{
			address:     []byte(f.Address),
			kind:        uint8(f.Kind),
			timestamp:   uint64(f.Timestamp),
			fingerprint: []byte(f.FingerprintID),
			variant:     uint8(f.Variant),
			keyIndex:    f.KeyIndex,
		}
		fs, err := rec.stream()
		if err != nil {
			return nil, err
		}
		if err := writeSized(&w, fs, &buf); err != nil {
			return nil, fmt.Errorf("encode finding %d: %w", i, err)
		}
	}

	sum := sha256.Sum256(w.Bytes())
	w.Write(sum[:])

	return w.Bytes(), nil
}

// Decode parses a checkpoint. A checksum mismatch fails with
// scanner.ErrChecksumFailure unless allowCorrupt is set, in which case the
// body is decoded anyway and the mismatch is reported through corrupt.
func Decode(data []byte, allowCorrupt bool) (cp *Checkpoint, corrupt bool,
	err error) {

	if len(data) < len(magic)+2+sha256.Size {
		return nil, false, fmt.Errorf("%w: checkpoint truncated",
			scanner.ErrChecksumFailure)
	}
	if !bytes.Equal(data[:len(magic)], magic[:]) {
		return nil, false, fmt.Errorf("%w: bad checkpoint magic",
			scanner.ErrChecksumFailure)
	}
	if major := data[len(magic)]; major != MajorVersion {
		return nil, false, fmt.Errorf("%w: major %d, want %d",
			ErrUnsupportedVersion, major, MajorVersion)
	}

	body := data[:len(data)-sha256.Size]
	sum := sha256.Sum256(body)
	if !bytes.Equal(sum[:], data[len(body):]) {
		if !allowCorrupt {
			return nil, true, fmt.Errorf("%w: checkpoint digest "+
				"mismatch", scanner.ErrChecksumFailure)
		}
		corrupt = true
	}

	cp, err = decodeBody(bytes.NewReader(body[len(magic)+2:]))
	if err != nil {
		return nil, corrupt, fmt.Errorf("%w: %v",
			scanner.ErrChecksumFailure, err)
	}
	return cp, corrupt, nil
}

func decodeBody(r *bytes.Reader) (*Checkpoint, error) {
	var (
		buf [8]byte
		h   headerRecord
	)

	raw, err := readSized(r, &buf)
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	hs, err := h.stream()
	if err != nil {
		return nil, err
	}
	if err := hs.Decode(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}

	cp := &Checkpoint{
		Cursor:  h.cursor,
		Total:   h.total,
		SpaceID: h.spaceID,
		Created: time.Unix(0, int64(h.created)),
	}
	if cp.Cursor > cp.Total {
		return nil, fmt.Errorf("cursor %d beyond total %d", cp.Cursor,
			cp.Total)
	}

	n, err := tlv.ReadVarInt(r, &buf)
	if err != nil {
		return nil, fmt.Errorf("finding count: %w", err)
	}
	// Every finding takes at least one length byte.
	if n > uint64(r.Len()) {
		return nil, fmt.Errorf("finding count %d exceeds payload", n)
	}

	cp.Findings = make([]scanner.Finding, 0, n)
	for i := uint64(0); i < n; i++ {
		raw, err := readSized(r, &buf)
		if err != nil {
			return nil, fmt.Errorf("finding %d: %w", i, err)
		}

		var rec findingRecord
		fs, err := rec.stream()
		if err != nil {
			return nil, err
		}
		if err := fs.Decode(bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("finding %d: %w", i, err)
		}

		cp.Findings = append(cp.Findings, scanner.Finding{
			Address:       string(rec.address),
			Kind:          address.Kind(rec.kind),
			Timestamp:     int64(rec.timestamp),
			FingerprintID: string(rec.fingerprint),
			Variant:       engine.Variant(rec.variant),
			KeyIndex:      rec.keyIndex,
		})
	}

	if r.Len() != 0 {
		return nil, fmt.Errorf("%d trailing bytes", r.Len())
	}
	return cp, nil
}
