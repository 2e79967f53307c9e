// Package lockfile provides the scoped advisory lock required
// around mutations of the on-disk mods directory, so a developer tool and
// the agent can't race each other. Grounded on
// original_source/mbf-agent/src/mod_man/lock.rs's ModInstallLock, which
// wraps the fs2 crate's flock bindings; golang.org/x/sys/unix.Flock is this
// module's equivalent syscall-level binding (no dedicated flock library
// exists anywhere in the example pack).
package lockfile

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Lock is a held advisory lock over a single file, released by Unlock.
type Lock struct {
	f         *os.File
	exclusive bool
}

// Shared acquires a shared (read-only-traversal) lock over path, creating
// the file and its parent directory if necessary.
func Shared(path string) (*Lock, error) {
	return lock(path, false)
}

// Exclusive acquires an exclusive (mutation) lock over path, creating the
// file and its parent directory if necessary.
func Exclusive(path string) (*Lock, error) {
	return lock(path, true)
}

func lock(path string, exclusive bool) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("lockfile: creating lock directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("lockfile: opening %s: %w", path, err)
	}

	how := unix.LOCK_SH
	if exclusive {
		how = unix.LOCK_EX
	}
	if err := unix.Flock(int(f.Fd()), how); err != nil {
		f.Close()
		return nil, fmt.Errorf("lockfile: flock %s: %w", path, err)
	}

	return &Lock{f: f, exclusive: exclusive}, nil
}

// Unlock releases the lock and closes the underlying file handle. Safe to
// call once; subsequent calls are no-ops.
func (l *Lock) Unlock() error {
	if l.f == nil {
		return nil
	}
	err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	closeErr := l.f.Close()
	l.f = nil
	if err != nil {
		return fmt.Errorf("lockfile: unlock: %w", err)
	}
	return closeErr
}
