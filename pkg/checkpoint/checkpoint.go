// Package checkpoint persists scan progress so an interrupted scan resumes
// at exactly the candidate it stopped at.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/Amr-9/StormHunter/pkg/scanner"
	"github.com/btcsuite/btclog/v2"
	"github.com/gofrs/flock"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// ErrLocked is returned when another scan owns the checkpoint.
	ErrLocked = errors.New("checkpoint is locked by another scan")

	// ErrClosed is returned when the manager was already closed.
	ErrClosed = errors.New("checkpoint manager closed")
)

// Config holds the manager settings.
type Config struct {
	// Clock stamps the creation time. Nil uses the system clock.
	Clock clock.Clock

	// AllowCorrupt loads a checkpoint whose digest does not match. It
	// is an explicit operator override.
	AllowCorrupt bool
}

// Manager owns one checkpoint file for the lifetime of a scan. All methods
// are safe for concurrent use, including from a signal handler goroutine.
type Manager struct {
	mu sync.Mutex

	path string
	lock *flock.Flock
	cfg  Config

	created fn.Option[Checkpoint]
	pending fn.Option[Checkpoint]
	closed  bool
}

// Open acquires the checkpoint at path. The lock is an OS file lock on a
// sibling file; a second Open on the same path fails with ErrLocked until the
// first manager is closed or its process exits. A lock file left behind by a
// crashed scan holds no lock and is reused.
func Open(path string, cfg Config) (*Manager, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}

	lockPath := path + ".lock"
	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	switch {
	case err != nil:
		return nil, fmt.Errorf("lock %s: %w", lockPath, err)
	case !ok:
		return nil, fmt.Errorf("%w: %s%s", ErrLocked, lockPath,
			lockOwner(lockPath))
	}

	// The pid is informational; the OS lock is what excludes other scans.
	pid := []byte(strconv.Itoa(os.Getpid()) + "\n")
	if err := os.WriteFile(lockPath, pid, 0600); err != nil {
		log.Debugf("Unable to record pid in %s: %v", lockPath, err)
	}

	return &Manager{
		path:    path,
		lock:    lock,
		cfg:     cfg,
		created: fn.None[Checkpoint](),
		pending: fn.None[Checkpoint](),
	}, nil
}

// lockOwner describes the process recorded in a held lock file.
func lockOwner(lockPath string) string {
	raw, err := os.ReadFile(lockPath)
	if err != nil {
		return ""
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return ""
	}
	return fmt.Sprintf(" (pid %d)", pid)
}

// Path returns the checkpoint file path.
func (m *Manager) Path() string {
	return m.path
}

// Load reads the checkpoint from disk. It returns None when no checkpoint
// exists yet. Loading does not change anything on disk, so it can be
// repeated freely.
func (m *Manager) Load() (fn.Option[Checkpoint], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fn.None[Checkpoint](), ErrClosed
	}

	data, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return fn.None[Checkpoint](), nil
	}
	if err != nil {
		return fn.None[Checkpoint](), err
	}

	cp, corrupt, err := Decode(data, m.cfg.AllowCorrupt)
	if err != nil {
		return fn.None[Checkpoint](), fmt.Errorf("%s: %w", m.path, err)
	}
	if corrupt {
		log.ErrorS(context.Background(), "Loading checkpoint with bad "+
			"digest on operator override", scanner.ErrChecksumFailure,
			"path", m.path)
	}

	m.created = fn.Some(*cp)

	return fn.Some(*cp), nil
}

// Update records the latest progress without writing it. Close flushes it.
func (m *Manager) Update(cursor, total uint64, spaceID [32]byte,
	findings []scanner.Finding) {

	m.mu.Lock()
	defer m.mu.Unlock()

	m.pending = fn.Some(m.snapshot(cursor, total, spaceID, findings))
}

// Save writes the checkpoint atomically: encode to a temporary sibling,
// sync it, rename over the target and sync the directory.
func (m *Manager) Save(cursor, total uint64, spaceID [32]byte,
	findings []scanner.Finding) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	cp := m.snapshot(cursor, total, spaceID, findings)
	if err := m.write(&cp); err != nil {
		return err
	}
	m.pending = fn.None[Checkpoint]()

	return nil
}

// snapshot copies findings so later appends by the caller do not race the
// encoder. The creation time is fixed by the first snapshot or load.
func (m *Manager) snapshot(cursor, total uint64, spaceID [32]byte,
	findings []scanner.Finding) Checkpoint {

	created := m.created.UnwrapOr(Checkpoint{
		Created: m.cfg.Clock.Now(),
	}).Created

	cp := Checkpoint{
		Cursor:   cursor,
		Total:    total,
		SpaceID:  spaceID,
		Findings: append([]scanner.Finding(nil), findings...),
		Created:  created,
	}
	m.created = fn.Some(cp)

	return cp
}

func (m *Manager) write(cp *Checkpoint) error {
	data, err := Encode(cp)
	if err != nil {
		return err
	}

	tmp := m.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("unable to create temp checkpoint: %w", err)
	}
	defer os.Remove(tmp)

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("unable to write temp checkpoint: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("unable to sync temp checkpoint: %w", err)
	}
	// Windows refuses to rename an open file.
	if err := f.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmp, m.path); err != nil {
		return err
	}

	if dir, err := os.Open(filepath.Dir(m.path)); err == nil {
		dir.Sync()
		dir.Close()
	}

	log.DebugS(context.Background(), "Checkpoint saved",
		"cursor", cp.Cursor,
		"total", cp.Total,
		"findings", len(cp.Findings),
		btclog.Hex6("space", cp.SpaceID[:]))

	return nil
}

// Close flushes progress recorded by Update and releases the lock. It is
// safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	var err error
	m.pending.WhenSome(func(cp Checkpoint) {
		err = m.write(&cp)
	})
	m.pending = fn.None[Checkpoint]()

	if uerr := m.lock.Unlock(); err == nil {
		err = uerr
	}

	return err
}
