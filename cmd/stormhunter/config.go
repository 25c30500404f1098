package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Amr-9/StormHunter/internal/build"
	"github.com/Amr-9/StormHunter/pkg/derive"
	"github.com/Amr-9/StormHunter/pkg/engine"
	"github.com/Amr-9/StormHunter/pkg/fingerprint"
	"github.com/Amr-9/StormHunter/pkg/scanner"
	"github.com/Amr-9/StormHunter/pkg/target"
	"github.com/btcsuite/btcd/chaincfg"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultLogFilename = "stormhunter.log"
	defaultDebugLevel  = "info"
)

// config defines the command line options.
type config struct {
	ShowVersion bool `short:"V" long:"version" description:"Display version information and exit"`

	Start string `long:"start" description:"Window start, RFC3339 or unix milliseconds" required:"true"`
	End   string `long:"end" description:"Window end (exclusive), RFC3339 or unix milliseconds" required:"true"`
	Step  int64  `long:"step" description:"Timestamp increment in milliseconds" default:"1"`

	Fingerprints string `long:"fingerprints" description:"Fingerprint catalog (.csv or .json); the built-in catalog is used when empty"`
	Phase        uint8  `long:"phase" description:"Catalog phase: 1 = top 100, 2 = top 500, 3 = all" default:"3"`
	Aux          string `long:"aux" description:"Seed every engine from this auxiliary value (decimal or 0x hex) instead of the timestamp"`

	Targets         string  `long:"targets" description:"Target address list, optionally gzip or brotli compressed" required:"true"`
	FPRate          float64 `long:"fprate" description:"Bloom filter false positive rate" default:"0.001"`
	FilterThreshold int     `long:"filter-threshold" description:"Target count above which a bloom filter is used" default:"100000"`

	Backend     string `long:"backend" description:"Derivation backend" choice:"auto" choice:"cpu" choice:"opencl" choice:"emulator" default:"auto"`
	Workers     int    `long:"workers" description:"Worker goroutines; 0 uses every core"`
	Batch       int    `long:"batch" description:"Candidates per backend call" default:"4096"`
	Variants    string `long:"variants" description:"Comma separated engine variants; all when empty"`
	Order       string `long:"order" description:"Pool fill order" choice:"ascending" choice:"descending" default:"ascending"`
	SinglePass  bool   `long:"single-pass" description:"Apply the timestamp XOR once, as older tools did"`
	Advance     bool   `long:"pointer-advance" description:"Apply the second timestamp XOR at pool bytes 4..7, as jsbn does when its pool pointer is not reset"`
	KeysPerSeed int    `long:"keys-per-seed" description:"Keys drawn from each cipher" default:"1"`

	Witness bool `long:"witness" description:"Also match P2WPKH and P2SH-P2WPKH addresses"`
	Taproot bool `long:"taproot" description:"Also match P2TR addresses"`
	Testnet bool `long:"testnet" description:"Use testnet address encodings"`

	Checkpoint             string        `long:"checkpoint" description:"Checkpoint file; the scan resumes from it when present"`
	CheckpointInterval     time.Duration `long:"checkpoint-interval" description:"Time between checkpoint saves" default:"1m"`
	AllowCorruptCheckpoint bool          `long:"allow-corrupt-checkpoint" description:"Load a checkpoint whose checksum does not verify"`

	DebugLevel     string `short:"d" long:"debuglevel" description:"Logging level: trace, debug, info, warn, error, critical, off" default:"info"`
	LogDir         string `long:"logdir" description:"Directory for rotated log files; console only when empty"`
	MaxLogFiles    int    `long:"maxlogfiles" description:"Maximum rolled log files to keep" default:"3"`
	MaxLogFileSize int    `long:"maxlogfilesize" description:"Maximum log file size in MB" default:"10"`

	Metrics metricsConfig `group:"Metrics" namespace:"metrics"`

	// Resolved by validateConfig.
	start, end  int64
	aux         *uint64
	kind        scanner.Kind
	variants    []engine.Variant
	order       derive.Order
	catalog     []fingerprint.Fingerprint
	targetOpts  target.Options
	logSettings build.LogConfig
}

type metricsConfig struct {
	Listen string `long:"listen" description:"Serve Prometheus metrics on this address, e.g. localhost:9090"`
}

// loadConfig parses the command line and validates the result.
func loadConfig() (*config, error) {
	cfg := config{
		DebugLevel: defaultDebugLevel,
	}

	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		return nil, err
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validateConfig checks option combinations and resolves derived values.
func validateConfig(cfg *config) error {
	var err error

	if cfg.start, err = parseTime(cfg.Start); err != nil {
		return fmt.Errorf("--start: %w", err)
	}
	if cfg.end, err = parseTime(cfg.End); err != nil {
		return fmt.Errorf("--end: %w", err)
	}
	if cfg.end <= cfg.start {
		return fmt.Errorf("--end must be after --start")
	}
	if cfg.Step <= 0 {
		return fmt.Errorf("--step must be positive")
	}
	if cfg.KeysPerSeed < 1 || cfg.KeysPerSeed > derive.MaxKeysPerSeed {
		return fmt.Errorf("--keys-per-seed must be in [1, %d]",
			derive.MaxKeysPerSeed)
	}
	if cfg.SinglePass && cfg.Advance {
		return fmt.Errorf("--single-pass and --pointer-advance are " +
			"exclusive")
	}
	if cfg.Batch <= 0 {
		return fmt.Errorf("--batch must be positive")
	}

	if cfg.Aux != "" {
		v, err := strconv.ParseUint(cfg.Aux, 0, 64)
		if err != nil {
			return fmt.Errorf("--aux: %w", err)
		}
		cfg.aux = &v
	}

	if cfg.kind, err = scanner.ParseKind(cfg.Backend); err != nil {
		return err
	}
	if cfg.order, err = derive.ParseOrder(cfg.Order); err != nil {
		return err
	}

	if cfg.Variants != "" {
		for _, name := range strings.Split(cfg.Variants, ",") {
			v, err := engine.ParseVariant(name)
			if err != nil {
				return fmt.Errorf("--variants: %w", err)
			}
			cfg.variants = append(cfg.variants, v)
		}
	}

	catalog := fingerprint.Builtin()
	if cfg.Fingerprints != "" {
		catalog, err = fingerprint.LoadFile(cfg.Fingerprints)
		if err != nil {
			return err
		}
	}
	if cfg.Phase < 1 || cfg.Phase > 3 {
		return fmt.Errorf("--phase must be 1, 2 or 3")
	}
	from := time.UnixMilli(cfg.start).UTC().Year()
	to := time.UnixMilli(cfg.end - 1).UTC().Year()
	catalog = fingerprint.FilterYears(catalog, from, to)
	if len(catalog) == 0 {
		return fmt.Errorf("no fingerprint in the catalog is active "+
			"between %d and %d", from, to)
	}
	cfg.catalog = fingerprint.ForPhase(
		fingerprint.Prioritize(catalog), fingerprint.Phase(cfg.Phase),
	)

	cfg.targetOpts = target.Options{
		FilterThreshold:   cfg.FilterThreshold,
		FalsePositiveRate: cfg.FPRate,
	}
	if cfg.Testnet {
		cfg.targetOpts.Params = &chaincfg.TestNet3Params
	}

	cfg.logSettings = build.LogConfig{
		DebugLevel:     cfg.DebugLevel,
		LogFile:        defaultLogFilename,
		MaxLogFiles:    cfg.MaxLogFiles,
		MaxLogFileSize: cfg.MaxLogFileSize,
	}
	if cfg.LogDir != "" {
		cfg.logSettings.LogDir = cleanAndExpandPath(cfg.LogDir)
	}

	return nil
}

// parseTime accepts RFC3339 or a unix millisecond count.
func parseTime(s string) (int64, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("%q is neither RFC3339 nor unix "+
			"milliseconds", s)
	}
	return t.UnixMilli(), nil
}

// cleanAndExpandPath expands a leading ~ and environment variables.
func cleanAndExpandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			path = strings.Replace(path, "~", home, 1)
		}
	}
	return filepath.Clean(os.ExpandEnv(path))
}
