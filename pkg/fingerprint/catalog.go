package fingerprint

import (
	_ "embed"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

//go:embed data/catalog.csv
var builtinCatalog string

// csvColumns is the catalog header. The leading priority column is kept for
// compatibility with existing catalogs; ordering always comes from market
// share.
var csvColumns = []string{
	"priority", "user_agent", "screen_width", "screen_height",
	"color_depth", "timezone_offset", "language", "platform",
	"market_share_estimate", "year_min", "year_max",
}

// Builtin returns the embedded catalog, prioritized.
func Builtin() []Fingerprint {
	fps, err := LoadCSV(strings.NewReader(builtinCatalog))
	if err != nil {
		panic(fmt.Sprintf("embedded fingerprint catalog: %v", err))
	}
	return fps
}

// LoadFile reads a catalog, choosing the format by extension.
func LoadFile(path string) ([]Fingerprint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".json") {
		return LoadJSON(f)
	}
	return LoadCSV(f)
}

// LoadCSV parses a catalog in CSV form and returns it prioritized.
func LoadCSV(r io.Reader) ([]Fingerprint, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = len(csvColumns)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", ErrInvalid, err)
	}
	for i, col := range csvColumns {
		if strings.TrimSpace(header[i]) != col {
			return nil, fmt.Errorf("%w: column %d is %q, want %q",
				ErrInvalid, i, header[i], col)
		}
	}

	var fps []Fingerprint
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}

		fp, err := parseRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrInvalid, line,
				err)
		}
		if err := fp.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		fps = append(fps, fp)
	}

	return Prioritize(fps), nil
}

func parseRecord(rec []string) (Fingerprint, error) {
	var (
		fp  Fingerprint
		err error
		u   uint64
		i   int64
	)

	fp.UserAgent = rec[1]
	if u, err = strconv.ParseUint(rec[2], 10, 32); err != nil {
		return fp, err
	}
	fp.ScreenWidth = uint32(u)
	if u, err = strconv.ParseUint(rec[3], 10, 32); err != nil {
		return fp, err
	}
	fp.ScreenHeight = uint32(u)
	if u, err = strconv.ParseUint(rec[4], 10, 8); err != nil {
		return fp, err
	}
	fp.ColorDepth = uint8(u)
	if i, err = strconv.ParseInt(rec[5], 10, 16); err != nil {
		return fp, err
	}
	fp.TimezoneOffset = int16(i)
	fp.Language = rec[6]
	fp.Platform = rec[7]
	if fp.MarketShare, err = strconv.ParseFloat(rec[8], 64); err != nil {
		return fp, err
	}
	if u, err = strconv.ParseUint(rec[9], 10, 16); err != nil {
		return fp, err
	}
	fp.YearMin = uint16(u)
	if u, err = strconv.ParseUint(rec[10], 10, 16); err != nil {
		return fp, err
	}
	fp.YearMax = uint16(u)

	return fp, nil
}

// LoadJSON parses a JSON array of fingerprints and returns it prioritized.
func LoadJSON(r io.Reader) ([]Fingerprint, error) {
	var fps []Fingerprint
	if err := json.NewDecoder(r).Decode(&fps); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	for i, fp := range fps {
		if err := fp.Validate(); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
	}
	return Prioritize(fps), nil
}
