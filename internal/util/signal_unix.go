//go:build !windows

package util

import (
	"os"
	"syscall"
)

// ShutdownSignals returns the signals that terminate the daemon.
func ShutdownSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}

// ReloadSignals returns the signals that trigger a config reload and
// loop restart.
func ReloadSignals() []os.Signal {
	return []os.Signal{syscall.SIGHUP}
}

// StopSignals returns the signals that hibernate the loop without
// terminating the daemon.
func StopSignals() []os.Signal {
	return []os.Signal{syscall.SIGUSR1}
}

// GracefulSignal attempts graceful process termination.
func GracefulSignal(p *os.Process) error {
	return p.Signal(syscall.SIGINT)
}
