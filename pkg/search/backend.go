package search

import (
	"context"
	"errors"

	"github.com/Amr-9/StormHunter/pkg/accel"
	"github.com/Amr-9/StormHunter/pkg/scanner"
	"github.com/Amr-9/StormHunter/pkg/scanner/cpu"
	"github.com/Amr-9/StormHunter/pkg/scanner/gpu"
	"github.com/lightningnetwork/lnd/clock"
)

// BackendConfig selects and configures a backend.
type BackendConfig struct {
	Kind    scanner.Kind
	Workers int
	Clock   clock.Clock

	// Metrics counts automatic failovers. May be nil.
	Metrics *Metrics

	// openDevice overrides accel.NewOpenCL in tests.
	openDevice func() (accel.Device, error)
}

// NewBackend opens the preferred backend. KindAuto tries OpenCL and falls
// back to the CPU when no accelerator is usable; an explicit KindOpenCL
// request fails instead.
func NewBackend(ctx context.Context, cfg BackendConfig) (scanner.Backend,
	error) {

	open := cfg.openDevice
	if open == nil {
		open = accel.NewOpenCL
	}

	switch cfg.Kind {
	case scanner.KindCPU:
		return cpu.New(cpu.Config{Workers: cfg.Workers, Clock: cfg.Clock}),
			nil

	case scanner.KindEmulator:
		return gpu.New(accel.NewEmulator(cfg.Workers), cfg.Clock), nil

	case scanner.KindOpenCL:
		dev, err := open()
		if err != nil {
			return nil, err
		}
		return gpu.New(dev, cfg.Clock), nil
	}

	dev, err := open()
	if err == nil {
		return gpu.New(dev, cfg.Clock), nil
	}
	if !errors.Is(err, accel.ErrBackendUnavailable) {
		return nil, err
	}

	log.WarnS(ctx, "Accelerator unavailable, using CPU backend", err)
	cfg.Metrics.addFallback()

	return cpu.New(cpu.Config{Workers: cfg.Workers, Clock: cfg.Clock}), nil
}
