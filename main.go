// Package main provides an autonomous audio loopback daemon that
// probes a capture device for signal activity and redirects it to a
// playback device while the signal lasts.
//
// Usage:
//
//	loopback [-config path/to/config.json] [-capture dev] [-playback dev]
//
// If -config is not specified, the daemon looks for config.json in the
// same directory as the binary.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/oszuidwest/zwfm-loopback/internal/config"
	"github.com/oszuidwest/zwfm-loopback/internal/eventlog"
	"github.com/oszuidwest/zwfm-loopback/internal/loop"
	"github.com/oszuidwest/zwfm-loopback/internal/mpris"
	"github.com/oszuidwest/zwfm-loopback/internal/notify"
	"github.com/oszuidwest/zwfm-loopback/internal/pcm"
	"github.com/oszuidwest/zwfm-loopback/internal/transport"
	"github.com/oszuidwest/zwfm-loopback/internal/util"
)

// Build metadata, injected via -ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// captureOpenRetries bounds the startup wait for the capture device.
const captureOpenRetries = 10

func main() {
	configPath := flag.String("config", "", "Path to config file (default: config.json next to binary)")
	captureDev := flag.String("capture", "", "Capture device override")
	playbackDev := flag.String("playback", "", "Playback device override")
	formatName := flag.String("format", "", "Sample format override, e.g. S16_LE")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Print version information and exit")
	flag.Parse()

	if *showVersion {
		slog.Info("version info", "version", Version, "commit", Commit, "build_time", BuildTime)
		return
	}

	if *verbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	if *configPath == "" {
		execPath, err := os.Executable()
		if err != nil {
			slog.Error("failed to get executable path", "error", err)
			os.Exit(1)
		}
		*configPath = filepath.Join(filepath.Dir(execPath), "config.json")
	}

	slog.Info("using config file", "path", *configPath)

	cfg := config.New(*configPath)
	if err := cfg.Load(); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	audio := cfg.AudioSettings()
	if *captureDev != "" {
		audio.CaptureDevice = *captureDev
	}
	if *playbackDev != "" {
		audio.PlaybackDevice = *playbackDev
	}
	if *formatName != "" {
		audio.Format = *formatName
	}

	format, err := pcm.ParseFormat(audio.Format, audio.Channels, audio.Rate, audio.PeriodFrames)
	if err != nil {
		// ParseFormat falls back to a usable default on bad names; only
		// broken geometry is fatal.
		if format.Width == 0 {
			slog.Error("invalid stream geometry", "error", err)
			os.Exit(1)
		}
		slog.Warn("sample format fallback", "error", err)
	}
	slog.Info("stream format",
		"format", format.Name,
		"channels", format.Channels,
		"rate", format.Rate,
		"period_frames", format.Period)

	capture := openCaptureWithRetry(audio, format)

	// Event log is optional; an empty path disables it.
	var eventLog *eventlog.Logger
	logPath := cfg.SystemSettings().Log
	if logPath != "" {
		eventLog, err = eventlog.NewLogger(logPath)
		if err != nil {
			slog.Warn("event log disabled", "path", logPath, "error", err)
			logPath = ""
		}
	}

	notifier := notify.NewNotifier(cfg)

	var sinks []loop.StatusSink
	if eventLog != nil {
		sinks = append(sinks, newEventSink(eventLog, cfg, audio.CaptureDevice, audio.PlaybackDevice))
	}
	sinks = append(sinks, newNotifySink(notifier))

	var mprisConn *mpris.Connector
	machineRef := &machineHandle{}
	if mc := cfg.MPRISSettings(); mc.Enabled {
		mprisConn, err = mpris.Open(mc.Bus, machineRef.enqueue)
		if err != nil {
			// The daemon is useful without the D-Bus plane.
			slog.Warn("MPRIS unavailable", "bus", mc.Bus, "error", err)
		} else {
			sinks = append(sinks, mprisConn)
			slog.Info("MPRIS connected", "bus", mc.Bus)
		}
	}

	machine := loop.New(loop.Options{
		Format:       format,
		Settings:     settingsFromProbe(cfg.ProbeSettings()),
		Capture:      capture,
		CaptureName:  audio.CaptureDevice,
		PlaybackName: audio.PlaybackDevice,
		OpenPlayback: func() (transport.Playback, error) {
			return transport.OpenPlayback(audio.Backend, transport.Params{
				Device: audio.PlaybackDevice,
				Format: format,
			})
		},
		Reload: func() loop.Settings {
			return settingsFromProbe(cfg.ProbeSettings())
		},
		Sinks: sinks,
	})
	machineRef.set(machine)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startSignalHandlers(ctx, cancel, cfg, machine, eventLog)

	// Re-apply settings when the config file changes on disk.
	go func() {
		err := cfg.Watch(ctx, func() {
			if err := cfg.Load(); err != nil {
				slog.Warn("config reload failed", "error", err)
				return
			}
			machine.Enqueue(loop.CommandReload)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("config watch unavailable", "error", err)
		}
	}()

	srv := NewServer(cfg, machine, notifier, logPath)
	httpServer := srv.Start()

	if err := machine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("loop terminated", "error", err)
	}

	slog.Info("shutting down")

	srv.version.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	if mprisConn != nil {
		if err := mprisConn.Close(); err != nil {
			slog.Warn("MPRIS close error", "error", err)
		}
	}
	if eventLog != nil {
		if err := eventLog.Close(); err != nil {
			slog.Warn("event log close error", "error", err)
		}
	}

	slog.Info("shutdown complete")
}

// openCaptureWithRetry opens the capture port, backing off between
// attempts so the daemon survives starting before the sound card is up.
func openCaptureWithRetry(audio config.AudioConfig, format pcm.StreamFormat) transport.Capture {
	backoff := util.NewBackoff(time.Second, 30*time.Second)
	params := transport.Params{Device: audio.CaptureDevice, Format: format}

	for {
		capture, err := transport.OpenCapture(audio.Backend, params)
		if err == nil {
			slog.Info("capture open", "backend", audio.Backend, "device", audio.CaptureDevice)
			return capture
		}
		if backoff.Attempts() >= captureOpenRetries {
			slog.Error("cannot open capture device", "device", audio.CaptureDevice, "error", err)
			os.Exit(1)
		}
		delay := backoff.Next()
		slog.Warn("capture open failed, retrying",
			"device", audio.CaptureDevice,
			"error", err,
			"retry_in", delay)
		time.Sleep(delay)
	}
}

// startSignalHandlers wires the OS signal surface: shutdown signals
// cancel the run context, reload signals re-read the config, and stop
// signals hibernate the loop.
func startSignalHandlers(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, machine *loop.Machine, eventLog *eventlog.Logger) {
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, util.ShutdownSignals()...)
	go func() {
		select {
		case sig := <-shutdownCh:
			slog.Info("shutdown signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if sigs := util.ReloadSignals(); len(sigs) > 0 {
		reloadCh := make(chan os.Signal, 1)
		signal.Notify(reloadCh, sigs...)
		go func() {
			for {
				select {
				case <-reloadCh:
					slog.Info("reload signal")
					if err := cfg.Load(); err != nil {
						slog.Warn("config reload failed", "error", err)
					}
					if eventLog != nil {
						_ = eventLog.Log(&eventlog.Event{Type: eventlog.ConfigReloaded, Message: "signal"})
					}
					machine.Enqueue(loop.CommandReload)
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	if sigs := util.StopSignals(); len(sigs) > 0 {
		stopCh := make(chan os.Signal, 1)
		signal.Notify(stopCh, sigs...)
		go func() {
			for {
				select {
				case <-stopCh:
					slog.Info("stop signal")
					machine.Enqueue(loop.CommandStop)
				case <-ctx.Done():
					return
				}
			}
		}()
	}
}

// settingsFromProbe converts the persisted probe section into loop
// settings.
func settingsFromProbe(p config.ProbeConfig) loop.Settings {
	return loop.Settings{
		SensitivityDB:     p.SensitivityDB,
		IdleInterval:      time.Duration(p.IdleIntervalMs) * time.Millisecond,
		FollowInterval:    time.Duration(p.FollowIntervalMs) * time.Millisecond,
		StreamInterval:    time.Duration(p.StreamIntervalMs) * time.Millisecond,
		HibernateInterval: time.Duration(p.HibernateIntervalMs) * time.Millisecond,
		StartCount:        p.StartCount,
		StopCount:         p.StopCount,
		SampleSize:        p.SampleSize,
	}
}

// machineHandle breaks the construction cycle between the MPRIS
// connector (built as a sink) and the machine it enqueues into.
type machineHandle struct {
	machine *loop.Machine
}

func (h *machineHandle) set(m *loop.Machine) { h.machine = m }

func (h *machineHandle) enqueue(cmd loop.Command) {
	if h.machine != nil {
		h.machine.Enqueue(cmd)
	}
}
