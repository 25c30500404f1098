package build

import (
	"compress/gzip"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jrick/logrotate/rotator"
)

const (
	// DefaultMaxLogFiles is the number of rolled files kept.
	DefaultMaxLogFiles = 3

	// DefaultMaxLogFileSize is the roll threshold in MB.
	DefaultMaxLogFileSize = 10
)

// RotatingLogWriter writes to a log file that is rolled and gzipped once it
// grows past the size limit.
type RotatingLogWriter struct {
	mu      sync.Mutex
	rotator *rotator.Rotator
}

// NewRotatingLogWriter creates logFile's directory and starts the rotator.
// Close must be called on shutdown.
func NewRotatingLogWriter(logFile string, maxSizeMB,
	maxFiles int) (*RotatingLogWriter, error) {

	logDir, _ := filepath.Split(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	r, err := rotator.New(logFile, int64(maxSizeMB*1024), false, maxFiles)
	if err != nil {
		return nil, fmt.Errorf("failed to create file rotator: %w", err)
	}
	r.SetCompressor(gzip.NewWriter(nil), ".gz")

	return &RotatingLogWriter{rotator: r}, nil
}

// Write implements io.Writer. The rotator itself is not safe for concurrent
// writers.
func (r *RotatingLogWriter) Write(b []byte) (int, error) {
	if r == nil {
		return len(b), nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rotator.Write(b)
}

// Close closes the log file.
func (r *RotatingLogWriter) Close() error {
	if r == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rotator.Close()
}
