// Package fingerprint describes the browser configurations a scan iterates
// over. A fingerprint narrows and orders the search; it never feeds into key
// derivation.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalid is returned for fingerprints that cannot be scanned.
var ErrInvalid = errors.New("invalid fingerprint")

// Fingerprint is one immutable browser/OS/display configuration.
type Fingerprint struct {
	ID             string  `json:"id,omitempty"`
	UserAgent      string  `json:"user_agent"`
	ScreenWidth    uint32  `json:"screen_width"`
	ScreenHeight   uint32  `json:"screen_height"`
	ColorDepth     uint8   `json:"color_depth"`
	TimezoneOffset int16   `json:"timezone_offset"`
	Language       string  `json:"language"`
	Platform       string  `json:"platform"`
	MarketShare    float64 `json:"market_share"`
	YearMin        uint16  `json:"year_min"`
	YearMax        uint16  `json:"year_max"`
}

// Key returns the fingerprint's identifier, deriving a stable one from the
// configuration when ID is empty.
func (f Fingerprint) Key() string {
	if f.ID != "" {
		return f.ID
	}

	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%d|%d|%d|%s|%s", f.UserAgent, f.ScreenWidth,
		f.ScreenHeight, f.ColorDepth, f.TimezoneOffset, f.Language,
		f.Platform)
	return "fp-" + hex.EncodeToString(h.Sum(nil)[:6])
}

// Validate checks the fields a scan relies on.
func (f Fingerprint) Validate() error {
	switch {
	case strings.TrimSpace(f.UserAgent) == "":
		return fmt.Errorf("%w: empty user agent", ErrInvalid)
	case f.ScreenWidth == 0 || f.ScreenHeight == 0:
		return fmt.Errorf("%w: %s: zero screen size", ErrInvalid, f.Key())
	case f.MarketShare < 0 || f.MarketShare > 1:
		return fmt.Errorf("%w: %s: market share %v out of range",
			ErrInvalid, f.Key(), f.MarketShare)
	case f.YearMin != 0 && f.YearMax != 0 && f.YearMin > f.YearMax:
		return fmt.Errorf("%w: %s: year range %d-%d", ErrInvalid,
			f.Key(), f.YearMin, f.YearMax)
	}
	return nil
}

// ActiveIn reports whether the fingerprint's year range overlaps [from, to].
// An unset bound is open.
func (f Fingerprint) ActiveIn(from, to int) bool {
	if f.YearMax != 0 && int(f.YearMax) < from {
		return false
	}
	if f.YearMin != 0 && int(f.YearMin) > to {
		return false
	}
	return true
}

// Prioritize returns a copy of fps ordered by market share, highest first.
// Equal shares keep their catalog order.
func Prioritize(fps []Fingerprint) []Fingerprint {
	out := make([]Fingerprint, len(fps))
	copy(out, fps)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].MarketShare > out[j].MarketShare
	})
	return out
}

// FilterYears keeps the fingerprints active somewhere in [from, to].
func FilterYears(fps []Fingerprint, from, to int) []Fingerprint {
	var out []Fingerprint
	for _, f := range fps {
		if f.ActiveIn(from, to) {
			out = append(out, f)
		}
	}
	return out
}

// Phase selects how much of a prioritized catalog to scan.
type Phase uint8

const (
	PhaseOne   Phase = iota + 1 // top 100 configurations
	PhaseTwo                    // top 500 configurations
	PhaseThree                  // the whole catalog
)

// Limit returns the number of leading catalog entries the phase covers, or
// 0 for all.
func (p Phase) Limit() int {
	switch p {
	case PhaseOne:
		return 100
	case PhaseTwo:
		return 500
	}
	return 0
}

// ForPhase truncates an already prioritized catalog to the phase limit.
func ForPhase(fps []Fingerprint, p Phase) []Fingerprint {
	limit := p.Limit()
	if limit == 0 || len(fps) <= limit {
		return fps
	}
	return fps[:limit]
}

// CumulativeShare sums the market share of the first n entries.
func CumulativeShare(fps []Fingerprint, n int) float64 {
	var total float64
	for i := 0; i < n && i < len(fps); i++ {
		total += fps[i].MarketShare
	}
	return total
}

// Synthetic returns the fixed fingerprint used by test vectors and the
// reference scenario.
func Synthetic() Fingerprint {
	return Fingerprint{
		ID:             "synthetic-chrome-win7",
		UserAgent:      "Mozilla/5.0 (Windows NT 6.1; WOW64) AppleWebKit/535.7 (KHTML, like Gecko) Chrome/16.0.912.63 Safari/535.7",
		ScreenWidth:    1366,
		ScreenHeight:   768,
		ColorDepth:     24,
		TimezoneOffset: 0,
		Language:       "en-US",
		Platform:       "Win32",
		MarketShare:    0.1,
		YearMin:        2011,
		YearMax:        2013,
	}
}
