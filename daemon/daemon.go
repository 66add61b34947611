// Package daemon relaunches the guard as a background process and manages it
// through a PID file.
package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

const pidFile = "perp-guard.pid"

// IsDaemon reports whether this process was started through StartDaemon.
func IsDaemon() bool {
	return os.Getenv("PERP_GUARD_DAEMON") == "true"
}

// StartDaemon relaunches the current executable detached with the given
// arguments and records its PID.
func StartDaemon(args []string) error {
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	cmd := exec.Command(execPath, args...)
	cmd.Env = append(os.Environ(), "PERP_GUARD_DAEMON=true")
	cmd.Stdin = nil

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", cmd.Process.Pid)), 0644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	fmt.Printf("Daemon started with PID: %d. PID file saved as %s\n", cmd.Process.Pid, pidFile)
	return nil
}

// StopDaemon terminates the recorded daemon process. SIGTERM first so the
// guard gets its graceful shutdown path.
func StopDaemon() error {
	pidData, err := os.ReadFile(pidFile)
	if err != nil {
		return fmt.Errorf("failed to read PID file: %w", err)
	}

	var pid int
	if _, err := fmt.Sscanf(string(pidData), "%d", &pid); err != nil {
		return fmt.Errorf("failed to parse PID: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process: %w", err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to stop process: %w", err)
	}

	if err := os.Remove(pidFile); err != nil {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}

	fmt.Printf("Daemon with PID %d has been stopped.\n", pid)
	return nil
}

// RestartDaemon stops any recorded daemon and starts a fresh one.
func RestartDaemon(args []string) error {
	if err := StopDaemon(); err != nil {
		fmt.Printf("Warning: Could not stop daemon: %v\n", err)
	}
	return StartDaemon(args)
}
