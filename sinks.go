package main

import (
	"log/slog"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-loopback/internal/config"
	"github.com/oszuidwest/zwfm-loopback/internal/eventlog"
	"github.com/oszuidwest/zwfm-loopback/internal/loop"
	"github.com/oszuidwest/zwfm-loopback/internal/notify"
)

// eventSink records machine transitions in the JSONL event log. It
// derives redirection durations from the streaming state edges.
type eventSink struct {
	log      *eventlog.Logger
	cfg      *config.Config
	capture  string
	playback string

	mu            sync.Mutex
	lastState     loop.State
	streamStart   time.Time
	activityStart time.Time
}

func newEventSink(log *eventlog.Logger, cfg *config.Config, capture, playback string) *eventSink {
	return &eventSink{
		log:       log,
		cfg:       cfg,
		capture:   capture,
		playback:  playback,
		lastState: loop.StateUnknown,
	}
}

func (s *eventSink) StateChanged(state loop.State) {
	s.mu.Lock()
	from := s.lastState
	s.lastState = state

	var streamDuration int64 = -1
	switch {
	case state == loop.StateStreaming && from != loop.StateStreaming:
		s.streamStart = time.Now()
		streamDuration = 0
	case state != loop.StateStreaming && from == loop.StateStreaming:
		if !s.streamStart.IsZero() {
			streamDuration = time.Since(s.streamStart).Milliseconds()
		}
		s.streamStart = time.Time{}
	}
	s.mu.Unlock()

	if err := s.log.LogState(string(from), string(state)); err != nil {
		slog.Warn("event log write failed", "error", err)
	}

	switch {
	case streamDuration == 0:
		s.logStream(eventlog.StreamStarted, 0)
	case streamDuration > 0:
		s.logStream(eventlog.StreamStopped, streamDuration)
	}
}

func (s *eventSink) ActivityChanged(active bool, level float64) {
	threshold := s.cfg.ProbeSettings().SensitivityDB

	s.mu.Lock()
	eventType := eventlog.ActivityEnd
	var durationMs int64
	if active {
		eventType = eventlog.ActivityStart
		s.activityStart = time.Now()
	} else if !s.activityStart.IsZero() {
		durationMs = time.Since(s.activityStart).Milliseconds()
		s.activityStart = time.Time{}
	}
	s.mu.Unlock()

	if err := s.log.LogActivity(eventType, level, threshold, durationMs); err != nil {
		slog.Warn("event log write failed", "error", err)
	}
}

func (s *eventSink) DeviceFailed(device string, err error) {
	if logErr := s.log.LogDeviceError(device, err.Error()); logErr != nil {
		slog.Warn("event log write failed", "error", logErr)
	}
}

func (s *eventSink) logStream(eventType eventlog.EventType, durationMs int64) {
	if err := s.log.LogStream(eventType, s.capture, s.playback, durationMs, ""); err != nil {
		slog.Warn("event log write failed", "error", err)
	}
}

// notifySink drives the external notification channels off the
// streaming state edges, so manual stops notify just like detected
// silence does. The level reported is the last classified edge level.
type notifySink struct {
	notifier *notify.Notifier

	mu        sync.Mutex
	lastLevel float64
	streaming bool
}

func newNotifySink(notifier *notify.Notifier) *notifySink {
	return &notifySink{notifier: notifier}
}

func (s *notifySink) StateChanged(state loop.State) {
	s.mu.Lock()
	level := s.lastLevel
	wasStreaming := s.streaming
	s.streaming = state == loop.StateStreaming
	s.mu.Unlock()

	switch {
	case !wasStreaming && state == loop.StateStreaming:
		s.notifier.StreamStarted(level)
	case wasStreaming && state != loop.StateStreaming:
		s.notifier.StreamStopped(level)
	}
}

func (s *notifySink) ActivityChanged(active bool, level float64) {
	s.mu.Lock()
	s.lastLevel = level
	s.mu.Unlock()
}

func (s *notifySink) DeviceFailed(device string, err error) {
	s.notifier.DeviceFailure(device, err)
}
