// Package pidfile keeps a single daemon instance per state directory. The
// guarantee comes from an flock on <path>.lock; the PID file beside it only
// tells other processes who holds it.
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
)

// ErrAlreadyRunning is returned by New while another process holds the lock.
var ErrAlreadyRunning = errors.New("another instance is already running")

// PIDFile manages a PID file for preventing duplicate instances
type PIDFile struct {
	path string
	pid  int
	lock *flock.Flock
}

func lockPath(path string) string {
	return path + ".lock"
}

// New takes the instance lock and writes the current PID to path.
func New(path string) (*PIDFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create PID directory: %w", err)
	}

	lock := flock.New(lockPath(path))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		if pid, err := Read(path); err == nil {
			return nil, fmt.Errorf("%w (PID %d)", ErrAlreadyRunning, pid)
		}
		return nil, ErrAlreadyRunning
	}

	// Whatever PID is in the file belongs to a process that no longer holds
	// the lock.
	currentPID := os.Getpid()
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", currentPID)), 0644); err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("failed to write PID file: %w", err)
	}

	return &PIDFile{
		path: path,
		pid:  currentPID,
		lock: lock,
	}, nil
}

// Remove deletes the PID file if it still holds our PID and releases the
// lock.
func (p *PIDFile) Remove() error {
	if p == nil {
		return nil
	}

	var err error
	if pid, readErr := Read(p.path); readErr == nil && pid == p.pid {
		err = os.Remove(p.path)
	}
	if unlockErr := p.lock.Unlock(); unlockErr != nil && err == nil {
		err = unlockErr
	}
	return err
}

// Read returns the PID stored at path.
func Read(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, fmt.Errorf("invalid PID %q in %s", pidStr, path)
	}
	return pid, nil
}

// Running reports whether some process holds the lock for path, and its PID
// when the PID file is readable.
func Running(path string) (int, bool, error) {
	if _, err := os.Stat(lockPath(path)); os.IsNotExist(err) {
		return 0, false, nil
	}
	probe := flock.New(lockPath(path))
	ok, err := probe.TryLock()
	if err != nil {
		return 0, false, fmt.Errorf("probe lock: %w", err)
	}
	if ok {
		_ = probe.Unlock()
		return 0, false, nil
	}
	pid, _ := Read(path)
	return pid, true, nil
}

// Path returns the PID file path for appName inside stateDir.
func Path(stateDir, appName string) string {
	return filepath.Join(stateDir, appName+".pid")
}
