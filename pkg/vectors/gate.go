package vectors

import (
	"context"
	"fmt"

	"github.com/Amr-9/StormHunter/pkg/address"
	"github.com/Amr-9/StormHunter/pkg/derive"
	"github.com/Amr-9/StormHunter/pkg/engine"
	"github.com/Amr-9/StormHunter/pkg/fingerprint"
	"github.com/Amr-9/StormHunter/pkg/scanner"
	"github.com/Amr-9/StormHunter/pkg/scanner/cpu"
	"github.com/Amr-9/StormHunter/pkg/search"
	"github.com/Amr-9/StormHunter/pkg/target"
)

// GateResult is the outcome of a disclosure gate scan.
type GateResult struct {
	ID         string
	Reproduced bool

	// Finding locates the reproduced address. It is the zero value when
	// the gate failed.
	Finding scanner.Finding

	Candidates uint64
}

// Space returns the search space the gate scans.
func (g *Gate) Space() (search.Space, error) {
	fp, err := ResolveFingerprint(g.Fingerprint)
	if err != nil {
		return search.Space{}, err
	}
	order, err := derive.ParseOrder(g.Order)
	if err != nil {
		return search.Space{}, err
	}

	variants := make([]engine.Variant, 0, len(g.Variants))
	for _, name := range g.Variants {
		v, err := engine.ParseVariant(name)
		if err != nil {
			return search.Space{}, err
		}
		variants = append(variants, v)
	}

	space := search.Space{
		Start:        g.Start,
		End:          g.End,
		Step:         g.Step,
		Fingerprints: []fingerprint.Fingerprint{fp},
		Variants:     variants,
		Derive:       derive.Config{Order: order, SinglePass: g.SinglePass},
		Address:      address.Options{Witness: true, Taproot: true},
	}
	return space, space.Validate()
}

// RunGate scans the gate window and reports whether the disclosed address
// was reproduced. A nil backend scans on the CPU.
func RunGate(ctx context.Context, g *Gate,
	backend scanner.Backend) (GateResult, error) {

	res := GateResult{ID: g.ID}

	space, err := g.Space()
	if err != nil {
		return res, fmt.Errorf("gate %s: %w", g.ID, err)
	}
	res.Candidates = space.Total()

	if backend == nil {
		b := cpu.New(cpu.Config{})
		defer b.Close()
		backend = b
	}

	driver, err := search.New(search.Config{Backend: backend})
	if err != nil {
		return res, err
	}

	findings, err := driver.Scan(ctx, space, target.NewExact(
		[]string{g.Address},
	))
	if err != nil {
		return res, fmt.Errorf("gate %s: %w", g.ID, err)
	}

	for _, f := range findings {
		if f.Address == g.Address {
			res.Reproduced = true
			res.Finding = f
			break
		}
	}

	if res.Reproduced {
		log.Infof("Gate %s reproduced: %v", g.ID, res.Finding)
	} else {
		log.Warnf("Gate %s not reproduced over %d candidates", g.ID,
			res.Candidates)
	}

	return res, nil
}
