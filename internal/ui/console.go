package ui

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/Amr-9/StormHunter/pkg/scanner"
	"github.com/Amr-9/StormHunter/pkg/search"
	"github.com/Amr-9/StormHunter/pkg/vectors"
)

// Terminal escape sequences.
const (
	ColorReset  = "\033[0m"
	ColorCyan   = "\033[36m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorRed    = "\033[31m"
	ColorBold   = "\033[1m"
	ColorDim    = "\033[2m"
)

var spinner = []string{"◐", "◓", "◑", "◒"}

// Console renders scan status on a terminal.
type Console struct {
	w     io.Writer
	frame int
}

// NewConsole writes to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

// PrintWelcomeBanner shows the tool name and version.
func (c *Console) PrintWelcomeBanner(version string) {
	fmt.Fprintln(c.w)
	fmt.Fprintf(c.w, "%s%s", ColorCyan, ColorBold)
	fmt.Fprintln(c.w, "  ╔══════════════════════════════════════════════════════╗")
	fmt.Fprintf(c.w, "  ║  StormHunter %s• weak wallet key scanner • v%-8s%s%s ║\n",
		ColorDim, version, ColorReset, ColorCyan+ColorBold)
	fmt.Fprintln(c.w, "  ╚══════════════════════════════════════════════════════╝")
	fmt.Fprint(c.w, ColorReset)
	fmt.Fprintln(c.w)
}

// PrintSearchInfo displays the scan configuration.
func (c *Console) PrintSearchInfo(space *search.Space, targets int,
	backend string) {

	start := time.UnixMilli(space.Start).UTC().Format(time.RFC3339)
	end := time.UnixMilli(space.End).UTC().Format(time.RFC3339)

	fmt.Fprintf(c.w, "\n    %sSCANNING%s %s → %s %s(step %dms)%s\n",
		ColorGreen+ColorBold, ColorReset, start, end, ColorDim,
		space.Step, ColorReset)
	fmt.Fprintf(c.w, "    %s%s candidates │ %d fingerprints │ %s targets "+
		"│ %s%s\n\n", ColorDim, FormatNumber(space.Total()),
		len(space.Fingerprints), FormatNumber(uint64(targets)), backend,
		ColorReset)
}

// PrintProgress redraws the progress line.
func (c *Console) PrintProgress(p scanner.Progress) {
	const width = 40
	spin := spinner[c.frame%len(spinner)]
	c.frame++

	done := min(int(p.Fraction()*width), width)
	bar := strings.Repeat("▓", done) + strings.Repeat("░", width-done)

	fmt.Fprintf(c.w, "\r    %s%s%s %s%s%s %s%5.1f%%%s │ %s%s%s │ %s%s%s │ %d found",
		ColorCyan, spin, ColorReset, ColorDim, bar, ColorReset,
		ColorBold, 100*p.Fraction(), ColorReset,
		ColorGreen+ColorBold, FormatRate(p.Rate), ColorReset,
		ColorYellow, FormatNumber(p.CandidatesCompleted), ColorReset,
		p.FindingsSoFar)
}

// PrintFinding announces a confirmed finding. Findings carry coordinates
// only.
func (c *Console) PrintFinding(f scanner.Finding) {
	c.ClearLine()
	fmt.Fprintf(c.w, "    %s%s✓ FOUND%s %s%s%s %s(%v)%s\n",
		ColorGreen, ColorBold, ColorReset,
		ColorBold, f.Address, ColorReset,
		ColorDim, f.Kind, ColorReset)
	fmt.Fprintf(c.w, "      ts=%d (%s) fingerprint=%s variant=%v key=%d\n",
		f.Timestamp, time.UnixMilli(f.Timestamp).UTC().Format(time.RFC3339),
		f.FingerprintID, f.Variant, f.KeyIndex)
}

// PrintSummary closes a scan.
func (c *Console) PrintSummary(findings []scanner.Finding,
	p scanner.Progress, elapsed time.Duration, err error) {

	c.ClearLine()
	fmt.Fprintln(c.w)

	switch {
	case err != nil:
		fmt.Fprintf(c.w, "    %s⚠ Stopped%s │ %v\n", ColorYellow+ColorBold,
			ColorReset, err)
	default:
		fmt.Fprintf(c.w, "    %s✓ Complete%s\n", ColorGreen+ColorBold,
			ColorReset)
	}

	fmt.Fprintf(c.w, "    %s of %s candidates │ %s │ %d findings\n\n",
		FormatNumber(p.CandidatesCompleted),
		FormatNumber(p.CandidatesTotal), FormatDuration(elapsed),
		len(findings))
}

// PrintResult prints one vector result line.
func (c *Console) PrintResult(r vectors.Result) {
	mark := ColorGreen + "✅"
	if !r.Passed() {
		mark = ColorRed + "❌"
	}
	fmt.Fprintf(c.w, "  %s%s %s\n", mark, ColorReset, r)
}

// PrintGate prints the disclosure gate outcome.
func (c *Console) PrintGate(g vectors.GateResult, synthetic bool) {
	label := "disclosure gate"
	if synthetic {
		label = "synthetic gate"
	}
	if g.Reproduced {
		fmt.Fprintf(c.w, "  %s✅%s %s %s reproduced: %v\n", ColorGreen,
			ColorReset, label, g.ID, g.Finding)
		return
	}
	fmt.Fprintf(c.w, "  %s❌%s %s %s not reproduced over %s candidates\n",
		ColorRed, ColorReset, label, g.ID, FormatNumber(g.Candidates))
}

// ClearLine blanks the progress line.
func (c *Console) ClearLine() {
	fmt.Fprint(c.w, "\r"+strings.Repeat(" ", 100)+"\r")
}

// FormatRate renders candidates per second with a K or M suffix.
func FormatRate(rate float64) string {
	switch {
	case rate >= 1e6:
		return fmt.Sprintf("%.1fM/s", rate/1e6)
	case rate >= 1e3:
		return fmt.Sprintf("%.1fK/s", rate/1e3)
	}
	return fmt.Sprintf("%.0f/s", rate)
}

// FormatNumber groups digits in threes.
func FormatNumber(n uint64) string {
	digits := strconv.FormatUint(n, 10)

	var b strings.Builder
	lead := len(digits) % 3
	if lead == 0 {
		lead = 3
	}
	b.WriteString(digits[:lead])
	for rest := digits[lead:]; rest != ""; rest = rest[3:] {
		b.WriteByte(',')
		b.WriteString(rest[:3])
	}
	return b.String()
}

// FormatDuration renders d at a precision suited to its size.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", int(d/time.Minute),
			int(d%time.Minute/time.Second))
	}
	return fmt.Sprintf("%dh %dm", int(d/time.Hour),
		int(d%time.Hour/time.Minute))
}
