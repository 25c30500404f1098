// Command stormhunter scans a timestamp window for wallet keys produced by a
// weak browser random number generator and reports any that match a target
// address list.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Amr-9/StormHunter/internal/build"
	"github.com/Amr-9/StormHunter/internal/ui"
	"github.com/Amr-9/StormHunter/pkg/address"
	"github.com/Amr-9/StormHunter/pkg/checkpoint"
	"github.com/Amr-9/StormHunter/pkg/derive"
	"github.com/Amr-9/StormHunter/pkg/fingerprint"
	"github.com/Amr-9/StormHunter/pkg/scanner"
	"github.com/Amr-9/StormHunter/pkg/search"
	"github.com/Amr-9/StormHunter/pkg/target"
	"github.com/btcsuite/btclog/v2"
	flags "github.com/jessevdk/go-flags"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const version = "0.4.0"

var log = btclog.Disabled

func main() {
	cfg, err := loadConfig()
	if err != nil {
		var e *flags.Error
		if errors.As(err, &e) && e.Type == flags.ErrHelp {
			os.Exit(0)
		}
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg *config) error {
	if cfg.ShowVersion {
		fmt.Println("stormhunter version", version)
		return nil
	}

	loggers, err := build.NewLoggers(cfg.logSettings)
	if err != nil {
		return err
	}
	defer loggers.Close()
	log = loggers.Logger("STRM")

	ctx, cancel := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer cancel()

	console := ui.NewConsole(os.Stdout)
	console.PrintWelcomeBanner(version)

	matcher, err := target.LoadFile(ctx, cfg.Targets, cfg.targetOpts)
	if err != nil {
		return err
	}

	space := search.Space{
		Start:        cfg.start,
		End:          cfg.end,
		Step:         cfg.Step,
		Fingerprints: cfg.catalog,
		Variants:     cfg.variants,
		Aux:          fn.None[uint64](),
		Derive: derive.Config{
			Order:          cfg.order,
			SinglePass:     cfg.SinglePass,
			PointerAdvance: cfg.Advance,
		},
		Address: address.Options{
			Params:  cfg.targetOpts.Params,
			Witness: cfg.Witness,
			Taproot: cfg.Taproot,
		},
		KeysPerSeed: cfg.KeysPerSeed,
	}
	if cfg.aux != nil {
		space.Aux = fn.Some(*cfg.aux)
	}
	plan, err := space.Plan()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	metrics, err := search.NewMetrics(reg)
	if err != nil {
		return err
	}
	if cfg.Metrics.Listen != "" {
		stop := serveMetrics(cfg.Metrics.Listen, reg)
		defer stop()
	}

	backend, err := search.NewBackend(ctx, search.BackendConfig{
		Kind:    cfg.kind,
		Workers: cfg.Workers,
		Metrics: metrics,
	})
	if err != nil {
		return err
	}
	defer backend.Close()

	var ckpt *checkpoint.Manager
	if cfg.Checkpoint != "" {
		ckpt, err = checkpoint.Open(cleanAndExpandPath(cfg.Checkpoint),
			checkpoint.Config{AllowCorrupt: cfg.AllowCorruptCheckpoint})
		if err != nil {
			return err
		}
		defer ckpt.Close()
	}

	var last scanner.Progress
	driver, err := search.New(search.Config{
		Backend:            backend,
		BatchSize:          cfg.Batch,
		Workers:            cfg.Workers,
		Checkpoint:         ckpt,
		CheckpointInterval: cfg.CheckpointInterval,
		Metrics:            metrics,
		OnProgress: func(p scanner.Progress) {
			last = p
			console.PrintProgress(p)
		},
		OnFinding: console.PrintFinding,
	})
	if err != nil {
		return err
	}

	console.PrintSearchInfo(&space, matcher.Len(), backend.Name())
	log.InfoS(ctx, "Scan starting",
		"start", space.Start, "end", space.End, "step", space.Step,
		"fingerprints", len(space.Fingerprints),
		"market_share", fingerprint.CumulativeShare(space.Fingerprints,
			len(space.Fingerprints)),
		"candidates", plan.Total(), "backend", backend.Name())

	begin := time.Now()
	findings, err := driver.Scan(ctx, space, matcher)
	console.PrintSummary(findings, last, time.Since(begin), err)

	for _, f := range findings {
		log.InfoS(ctx, "Finding", "address", f.Address,
			"kind", f.Kind.String(), "timestamp", f.Timestamp,
			"fingerprint", f.FingerprintID,
			"variant", f.Variant.String(), "key_index", f.KeyIndex)
	}

	switch {
	case errors.Is(err, context.Canceled):
		log.Infof("Scan interrupted, progress saved")
		return nil
	case err != nil:
		return err
	}

	log.Infof("Scan complete: %d findings, final backend %s",
		len(findings), driver.Backend().Name())
	return nil
}

// serveMetrics exposes reg on addr until the returned stop function runs.
func serveMetrics(addr string, reg *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		reg, promhttp.HandlerOpts{Registry: reg},
	))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Infof("Serving metrics on %s/metrics", addr)
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Metrics server: %v", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(),
			5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
