// Package build wires the process-wide logging backend shared by the
// command line tools.
package build

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/Amr-9/StormHunter/pkg/accel"
	"github.com/Amr-9/StormHunter/pkg/checkpoint"
	"github.com/Amr-9/StormHunter/pkg/search"
	"github.com/Amr-9/StormHunter/pkg/target"
	"github.com/Amr-9/StormHunter/pkg/vectors"
	btclogv1 "github.com/btcsuite/btclog"
	"github.com/btcsuite/btclog/v2"
)

// subsystems maps every package logger to its setter.
var subsystems = map[string]func(btclog.Logger){
	accel.Subsystem:      accel.UseLogger,
	checkpoint.Subsystem: checkpoint.UseLogger,
	search.Subsystem:     search.UseLogger,
	target.Subsystem:     target.UseLogger,
	vectors.Subsystem:    vectors.UseLogger,
}

// LogConfig selects where logs go and how much is written.
type LogConfig struct {
	// DebugLevel is a btclog level name applied to every subsystem.
	DebugLevel string

	// LogDir enables file logging when non-empty.
	LogDir string

	// LogFile is the file name inside LogDir.
	LogFile string

	MaxLogFiles    int
	MaxLogFileSize int
}

// Loggers is the process logging backend.
type Loggers struct {
	handler btclog.Handler
	level   btclogv1.Level
	rotator *RotatingLogWriter
}

// NewLoggers builds the console and file backend for cfg and hands a
// subsystem logger to every package.
func NewLoggers(cfg LogConfig) (*Loggers, error) {
	level, ok := btclog.LevelFromString(cfg.DebugLevel)
	if !ok {
		return nil, fmt.Errorf("invalid debug level %q, want one of "+
			"trace, debug, info, warn, error, critical, off",
			cfg.DebugLevel)
	}

	l := &Loggers{level: level}

	var w io.Writer = os.Stdout
	if cfg.LogDir != "" {
		maxFiles := cfg.MaxLogFiles
		if maxFiles <= 0 {
			maxFiles = DefaultMaxLogFiles
		}
		maxSize := cfg.MaxLogFileSize
		if maxSize <= 0 {
			maxSize = DefaultMaxLogFileSize
		}

		r, err := NewRotatingLogWriter(
			filepath.Join(cfg.LogDir, cfg.LogFile), maxSize, maxFiles,
		)
		if err != nil {
			return nil, err
		}
		l.rotator = r
		w = io.MultiWriter(os.Stdout, r)
	}

	l.handler = btclog.NewDefaultHandler(w)
	for tag, use := range subsystems {
		use(l.Logger(tag))
	}

	return l, nil
}

// Logger returns a logger for the given subsystem tag at the configured
// level.
func (l *Loggers) Logger(tag string) btclog.Logger {
	logger := btclog.NewSLogger(l.handler.SubSystem(tag))
	logger.SetLevel(l.level)
	return logger
}

// Subsystems lists the registered subsystem tags.
func Subsystems() []string {
	tags := make([]string, 0, len(subsystems))
	for tag := range subsystems {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Close flushes the log file, if any.
func (l *Loggers) Close() error {
	return l.rotator.Close()
}
