package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"syscall"

	"github.com/oszuidwest/zwfm-loopback/internal/pcm"
	"github.com/oszuidwest/zwfm-loopback/internal/util"
)

// stderrBuffer collects subprocess diagnostics. exec's copier
// goroutine writes while Read or Write may inspect the contents after
// a process death, so access is serialized.
type stderrBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *stderrBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *stderrBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// alsaCapture reads raw PCM periods from an arecord subprocess.
type alsaCapture struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *stderrBuffer
	format pcm.StreamFormat
}

// openALSACapture starts arecord in raw mode and hands back its stdout
// as the capture port.
func openALSACapture(p Params) (Capture, error) {
	cmd := exec.Command("arecord", alsaArgs(p)...)
	stderr := &stderrBuffer{}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, util.WrapError("open capture pipe", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start arecord on %q: %w", p.Device, err)
	}

	slog.Debug("capture device opened", "device", p.Device, "format", p.Format.Name, "pid", cmd.Process.Pid)

	return &alsaCapture{cmd: cmd, stdout: stdout, stderr: stderr, format: p.Format}, nil
}

// Read blocks until one full period has been captured. A dead arecord
// process surfaces as ErrDeviceClosed.
func (c *alsaCapture) Read() ([]byte, error) {
	buf := make([]byte, c.format.PeriodBytes())
	if _, err := io.ReadFull(c.stdout, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			if reason := util.ExtractLastError(c.stderr.String()); reason != "" {
				return nil, fmt.Errorf("capture stream ended (%s): %w", reason, ErrDeviceClosed)
			}
			return nil, fmt.Errorf("capture stream ended: %w", ErrDeviceClosed)
		}
		return nil, util.WrapError("read capture period", err)
	}
	return buf, nil
}

func (c *alsaCapture) Close() error {
	return stopProcess(c.cmd, c.stdout)
}

// alsaPlayback writes raw PCM periods to an aplay subprocess.
type alsaPlayback struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *stderrBuffer
}

// openALSAPlayback starts aplay in raw mode reading from stdin.
func openALSAPlayback(p Params) (Playback, error) {
	cmd := exec.Command("aplay", alsaArgs(p)...)
	stderr := &stderrBuffer{}
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, util.WrapError("open playback pipe", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start aplay on %q: %w", p.Device, err)
	}

	slog.Debug("playback device opened", "device", p.Device, "format", p.Format.Name, "pid", cmd.Process.Pid)

	return &alsaPlayback{cmd: cmd, stdin: stdin, stderr: stderr}, nil
}

// Write hands one period to aplay. The pipe provides backpressure: a
// full playback buffer blocks the write rather than dropping data. A
// dead aplay process surfaces as ErrDeviceClosed.
func (pb *alsaPlayback) Write(p []byte) (int, error) {
	n, err := pb.stdin.Write(p)
	if err != nil {
		if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, syscall.EPIPE) {
			if reason := util.ExtractLastError(pb.stderr.String()); reason != "" {
				return n, fmt.Errorf("playback stream ended (%s): %w", reason, ErrDeviceClosed)
			}
			return n, fmt.Errorf("playback stream ended: %w", ErrDeviceClosed)
		}
		return n, util.WrapError("write playback period", err)
	}
	return n, nil
}

func (pb *alsaPlayback) Close() error {
	return stopProcess(pb.cmd, pb.stdin)
}

// alsaArgs builds the shared arecord/aplay argument list for raw
// single-period I/O.
func alsaArgs(p Params) []string {
	return []string{
		"-q",
		"-D", p.Device,
		"-f", p.Format.Name,
		"-c", strconv.Itoa(p.Format.Channels),
		"-r", strconv.Itoa(p.Format.Rate),
		"-t", "raw",
		"--period-size=" + strconv.Itoa(p.Format.Period),
	}
}

// stopProcess closes the pipe, asks the process to exit gracefully,
// and reaps it. Kill is the fallback when the graceful signal fails.
func stopProcess(cmd *exec.Cmd, pipe io.Closer) error {
	if pipe != nil {
		_ = pipe.Close()
	}
	if cmd.Process == nil {
		return nil
	}
	if err := util.GracefulSignal(cmd.Process); err != nil {
		_ = cmd.Process.Kill()
	}
	// Wait reaps the child; exit status is irrelevant after a signal.
	_ = cmd.Wait()
	return nil
}
