//go:build windows

package util

import "os"

// ShutdownSignals returns the signals that terminate the daemon.
func ShutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// ReloadSignals returns the signals that trigger a config reload.
// Windows has no SIGHUP equivalent; reloads come over the API instead.
func ReloadSignals() []os.Signal {
	return nil
}

// StopSignals returns the signals that hibernate the loop.
// Windows has no SIGUSR1 equivalent; stops come over the API instead.
func StopSignals() []os.Signal {
	return nil
}

// GracefulSignal attempts graceful process termination.
// On Windows there is no SIGINT delivery to children, so kill is the
// only option.
func GracefulSignal(p *os.Process) error {
	return p.Kill()
}
