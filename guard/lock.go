package guard

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// Lock is a PID-file based single-instance guard. Two live processes driving
// the same account would double-submit orders and fight over protective
// levels, so acquisition fails while another holder is alive.
type Lock struct {
	path string
}

// AcquireLock takes the instance lock, replacing a stale file left by a dead
// process.
func AcquireLock() (*Lock, error) {
	path := filepath.Join(os.TempDir(), "perp-guard.lock")

	if data, err := os.ReadFile(path); err == nil {
		pid, perr := strconv.Atoi(strings.TrimSpace(string(data)))
		if perr == nil && pidAlive(pid) {
			return nil, fmt.Errorf("another instance is running (pid %d, lock %s)", pid, path)
		}
		// Stale lock from a crashed run.
		os.Remove(path)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create lock file %s: %w", path, err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to write lock file %s: %w", path, err)
	}
	return &Lock{path: path}, nil
}

// Release removes the lock file.
func (l *Lock) Release() {
	if l != nil {
		os.Remove(l.path)
	}
}

// pidAlive probes the process with signal 0.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
