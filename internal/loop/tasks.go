package loop

import (
	"context"
	"errors"
	"log/slog"

	"github.com/oszuidwest/zwfm-loopback/internal/detect"
	"github.com/oszuidwest/zwfm-loopback/internal/transport"
)

// probeIdle polls the capture port and counts consecutive active
// classifications. Reaching the start count self-enqueues the
// streaming transition, which cancels this task.
func (m *Machine) probeIdle(ctx context.Context) {
	for ctx.Err() == nil {
		buf, ok := m.readPeriod(ctx)
		if !ok {
			return
		}

		cls, err := detect.Classify(buf, m.format, m.settings.SampleSize, m.thresholds)
		if err != nil {
			// An undecodable window fails this cycle; the next interval
			// gets a fresh buffer.
			slog.Warn("idle probe classification failed", "error", err)
			sleepCtx(ctx, m.settings.IdleInterval)
			continue
		}

		if cls.AboveStart {
			m.counter++
		} else {
			m.counter = 0
		}
		slog.Debug("idle probe", "level", cls.Level, "threshold", m.thresholds.Start, "counter", m.counter)

		switch {
		case m.counter >= m.settings.StartCount:
			m.counter = 0
			m.notifyActivity(true, cls.Level)
			m.Enqueue(commandStream)
			return
		case m.counter > 0:
			sleepCtx(ctx, m.settings.FollowInterval)
		default:
			sleepCtx(ctx, m.settings.IdleInterval)
		}
	}
}

// monitorStream watches the periods the copy task publishes and counts
// consecutive quiet classifications against the looser stop threshold.
// Reaching the stop count self-enqueues the return to idle.
func (m *Machine) monitorStream(ctx context.Context) {
	for ctx.Err() == nil {
		buf := m.loadPeriod()
		cls, err := detect.Classify(buf, m.format, m.settings.SampleSize, m.thresholds)
		if err != nil {
			slog.Warn("stream monitor classification failed", "error", err)
			sleepCtx(ctx, m.settings.StreamInterval)
			continue
		}

		if !cls.AboveStop {
			m.counter++
		} else {
			m.counter = 0
		}
		slog.Debug("stream monitor", "level", cls.Level, "threshold", m.thresholds.Stop, "counter", m.counter)

		switch {
		case m.counter >= m.settings.StopCount:
			m.counter = 0
			m.notifyActivity(false, cls.Level)
			m.Enqueue(commandQuiet)
			return
		case m.counter > 0:
			sleepCtx(ctx, m.settings.FollowInterval)
		default:
			sleepCtx(ctx, m.settings.StreamInterval)
		}
	}
}

// streamCopy opens the playback port, primes it with the period that
// triggered the transition, and then copies capture periods across
// until cancelled. The playback port lives exactly as long as this
// task.
func (m *Machine) streamCopy(ctx context.Context) {
	playback, err := m.openPlayback()
	if err != nil {
		// Degrade to hibernation instead of crashing; the wake probe
		// will try again.
		slog.Error("cannot open playback, hibernating", "device", m.playbackName, "error", err)
		m.notifyDevice(m.playbackName, err)
		m.Enqueue(CommandStop)
		return
	}
	defer func() {
		if err := playback.Close(); err != nil {
			slog.Warn("playback close failed", "error", err)
		}
		slog.Info("close playback")
	}()

	slog.Info("start redirecting", "capture", m.captureName, "playback", m.playbackName)

	if buf := m.loadPeriod(); buf != nil {
		if !m.writePeriod(ctx, playback, buf) {
			return
		}
	}

	for ctx.Err() == nil {
		buf, ok := m.readPeriod(ctx)
		if !ok {
			return
		}
		m.storePeriod(buf)

		if !m.writePeriod(ctx, playback, buf) {
			return
		}
		sleepCtx(ctx, copyYield)
	}
}

// readPeriod reads one period from capture, retrying transient errors
// in place. It reports false when the task should terminate: the
// context died or the capture port failed fatally (which escalates to
// a kill).
func (m *Machine) readPeriod(ctx context.Context) ([]byte, bool) {
	for ctx.Err() == nil {
		buf, err := m.capture.Read()
		if err == nil {
			// The read may have blocked across a cancellation; a period
			// captured for a state that no longer exists must not be
			// classified on its behalf.
			if ctx.Err() != nil {
				return nil, false
			}
			m.storePeriod(buf)
			return buf, true
		}
		if transport.IsTransient(err) {
			sleepCtx(ctx, transientRetryDelay)
			continue
		}
		if transport.IsFatal(err) {
			slog.Error("capture failed", "device", m.captureName, "error", err)
			m.notifyDevice(m.captureName, err)
			m.Enqueue(CommandKill)
			return nil, false
		}
		// Unrecognized transport condition: surface it and keep going.
		slog.Warn("capture read error", "device", m.captureName, "error", err)
		sleepCtx(ctx, transientRetryDelay)
	}
	return nil, false
}

// writePeriod pushes one full period to the playback port, retrying
// the buffer-full condition and short writes. It reports false when
// the task should terminate.
func (m *Machine) writePeriod(ctx context.Context, playback transport.Playback, buf []byte) bool {
	for len(buf) > 0 && ctx.Err() == nil {
		n, err := playback.Write(buf)
		buf = buf[n:]
		if err == nil {
			continue
		}
		if transport.IsTransient(err) {
			slog.Debug("playback buffer full, retrying")
			sleepCtx(ctx, transientRetryDelay)
			continue
		}
		if transport.IsFatal(err) || errors.Is(err, context.Canceled) {
			slog.Error("playback failed, hibernating", "device", m.playbackName, "error", err)
			m.notifyDevice(m.playbackName, err)
			m.Enqueue(CommandStop)
			return false
		}
		slog.Warn("playback write error", "device", m.playbackName, "error", err)
		sleepCtx(ctx, transientRetryDelay)
	}
	return ctx.Err() == nil
}
