// Command genvectors computes a test vector on the CPU pipeline and appends
// it to a vector file. Existing vectors are never modified.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/Amr-9/StormHunter/internal/build"
	"github.com/Amr-9/StormHunter/pkg/fingerprint"
	"github.com/Amr-9/StormHunter/pkg/vectors"
	flags "github.com/jessevdk/go-flags"
)

type config struct {
	Out         string `short:"o" long:"out" description:"Vector file to append to"`
	ID          string `long:"id" description:"Unique vector id" required:"true"`
	Description string `long:"description" description:"Free text description"`
	Timestamp   int64  `long:"timestamp" description:"Timestamp in unix milliseconds" required:"true"`
	Fingerprint string `long:"fingerprint" description:"Fingerprint id from the built-in catalog"`
	Variant     string `long:"variant" description:"Engine variant" default:"mwc1616"`
	Aux         string `long:"aux" description:"Auxiliary engine seed (decimal or 0x hex)"`
	Order       string `long:"order" description:"Pool fill order" choice:"ascending" choice:"descending" default:"ascending"`
	SinglePass  bool   `long:"single-pass" description:"Apply the timestamp XOR once"`
	Advance     bool   `long:"pointer-advance" description:"Apply the second timestamp XOR at pool bytes 4..7"`
	Keys        int    `long:"keys" description:"Keys to record" default:"2"`
	Print       bool   `long:"print" description:"Print the vector instead of appending it"`
	DebugLevel  string `short:"d" long:"debuglevel" description:"Logging level" default:"info"`
}

func main() {
	var cfg config
	if _, err := flags.Parse(&cfg); err != nil {
		var e *flags.Error
		if errors.As(err, &e) && e.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if err := run(&cfg); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg *config) error {
	loggers, err := build.NewLoggers(build.LogConfig{
		DebugLevel: cfg.DebugLevel,
	})
	if err != nil {
		return err
	}
	defer loggers.Close()

	in := vectors.Input{
		Timestamp:   cfg.Timestamp,
		Fingerprint: cfg.Fingerprint,
		Variant:     cfg.Variant,
		Order:       cfg.Order,
		SinglePass:  cfg.SinglePass,
		Keys:        cfg.Keys,

		PointerAdvance: cfg.Advance,
	}
	if in.Fingerprint == "" {
		in.Fingerprint = fingerprint.Synthetic().Key()
	}
	if cfg.Aux != "" {
		aux, err := strconv.ParseUint(cfg.Aux, 0, 64)
		if err != nil {
			return fmt.Errorf("--aux: %w", err)
		}
		in.Aux = &aux
	}

	v, err := vectors.Compute(cfg.ID, cfg.Description, in)
	if err != nil {
		return err
	}

	if cfg.Print {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	if cfg.Out == "" {
		return errors.New("--out is required unless --print is set")
	}
	if err := vectors.Append(cfg.Out, v); err != nil {
		return err
	}
	fmt.Printf("Appended vector %s (checksum %s) to %s\n", v.ID,
		v.Checksum[:16], cfg.Out)
	return nil
}
