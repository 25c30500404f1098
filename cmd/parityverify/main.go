// Command parityverify checks every derivation backend against the test
// vectors and against each other, then runs the disclosure gate.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/Amr-9/StormHunter/internal/build"
	"github.com/Amr-9/StormHunter/internal/ui"
	"github.com/Amr-9/StormHunter/pkg/accel"
	"github.com/Amr-9/StormHunter/pkg/vectors"
	flags "github.com/jessevdk/go-flags"
)

type config struct {
	Vectors      string `long:"vectors" description:"Vector file; the built-in vectors are used when empty"`
	AllowCorrupt bool   `long:"allow-corrupt" description:"Run vectors whose checksum does not verify"`
	OpenCL       bool   `long:"opencl" description:"Require the OpenCL device; by default it is checked only when present"`
	NoEmulator   bool   `long:"no-emulator" description:"Skip the kernel emulator"`
	SkipGate     bool   `long:"skip-gate" description:"Do not scan the disclosure gate window"`
	Workers      int    `long:"workers" description:"Emulator goroutines; 0 uses every core"`
	DebugLevel   string `short:"d" long:"debuglevel" description:"Logging level" default:"info"`
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

	passed, err := run(&cfg)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if !passed {
		os.Exit(1)
	}
}

func run(cfg *config) (bool, error) {
	loggers, err := build.NewLoggers(build.LogConfig{
		DebugLevel: cfg.DebugLevel,
	})
	if err != nil {
		return false, err
	}
	defer loggers.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	file, err := loadVectors(cfg)
	if err != nil {
		return false, err
	}

	var devices []accel.Device
	if !cfg.NoEmulator {
		devices = append(devices, accel.NewEmulator(cfg.Workers))
	}
	dev, err := accel.NewOpenCL()
	switch {
	case err == nil:
		devices = append(devices, dev)
	case cfg.OpenCL:
		return false, err
	default:
		fmt.Printf("  OpenCL skipped: %v\n", err)
	}
	defer func() {
		for _, d := range devices {
			_ = d.Close()
		}
	}()

	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════════════════╗")
	fmt.Println("  ║              Derivation Parity Verification           ║")
	fmt.Println("  ╚═══════════════════════════════════════════════════════╝")
	fmt.Printf("\n  %d vectors, CPU plus %d device(s)\n\n", len(file.Vectors),
		len(devices))

	h := vectors.NewHarness(vectors.Config{
		Devices:  devices,
		SkipGate: cfg.SkipGate,
	})
	report, err := h.Run(ctx, file)
	if report != nil {
		console := ui.NewConsole(os.Stdout)
		for _, r := range report.Results {
			console.PrintResult(r)
		}
		report.Gate.WhenSome(func(g vectors.GateResult) {
			console.PrintGate(g, file.Gate.Synthetic)
		})
	}
	if err != nil {
		return false, err
	}

	fmt.Println("  ─────────────────────────────────────────────────────────")
	if report.Passed() {
		fmt.Println("  ✅ All backends agree with every vector.")
	} else {
		fmt.Printf("  ❌ %d result(s) failed.\n", len(report.Failures()))
	}
	fmt.Printf("  Release eligible: %v\n\n", report.ReleaseEligible)

	return report.Passed(), nil
}

func loadVectors(cfg *config) (*vectors.File, error) {
	if cfg.Vectors == "" {
		return vectors.Builtin()
	}
	return vectors.LoadFile(cfg.Vectors, cfg.AllowCorrupt)
}
