package loop

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/oszuidwest/zwfm-loopback/internal/pcm"
	"github.com/oszuidwest/zwfm-loopback/internal/transport"
)

// fakeCapture serves a fixed period whose loudness is switchable at
// runtime, simulating signal appearing and disappearing on the input.
type fakeCapture struct {
	format pcm.StreamFormat

	mu     sync.Mutex
	amp    int16
	closed bool
	reads  int
}

func (c *fakeCapture) setActive(active bool) {
	var amp int16
	if active {
		amp = 10000
	}
	c.setAmplitude(amp)
}

func (c *fakeCapture) setAmplitude(amp int16) {
	c.mu.Lock()
	c.amp = amp
	c.mu.Unlock()
}

func (c *fakeCapture) Read() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, transport.ErrDeviceClosed
	}
	c.reads++

	buf := make([]byte, c.format.PeriodBytes())
	for i := 0; i+1 < len(buf); i += 2 {
		binary.LittleEndian.PutUint16(buf[i:], uint16(c.amp))
	}
	return buf, nil
}

func (c *fakeCapture) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeCapture) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakePlayback accepts everything.
type fakePlayback struct {
	mu     sync.Mutex
	bytes  int
	closed bool
}

func (p *fakePlayback) Write(b []byte) (int, error) {
	p.mu.Lock()
	p.bytes += len(b)
	p.mu.Unlock()
	return len(b), nil
}

func (p *fakePlayback) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

// recordingSink collects every state and activity mirror update.
type recordingSink struct {
	mu       sync.Mutex
	states   []State
	activity []bool
}

func (s *recordingSink) StateChanged(state State) {
	s.mu.Lock()
	s.states = append(s.states, state)
	s.mu.Unlock()
}

func (s *recordingSink) ActivityChanged(active bool, level float64) {
	s.mu.Lock()
	s.activity = append(s.activity, active)
	s.mu.Unlock()
}

func (s *recordingSink) waitFor(t *testing.T, state State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		for _, got := range s.states {
			if got == state {
				s.mu.Unlock()
				return
			}
		}
		s.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t.Fatalf("state %q never reached, saw %v", state, s.states)
}

func testMachine(t *testing.T, settings Settings) (*Machine, *fakeCapture, *fakePlayback, *recordingSink) {
	t.Helper()
	format, err := pcm.ParseFormat("S16_LE", 1, 48000, 64)
	if err != nil {
		t.Fatalf("ParseFormat: %v", err)
	}

	capture := &fakeCapture{format: format}
	playback := &fakePlayback{}
	sink := &recordingSink{}

	m := New(Options{
		Format:       format,
		Settings:     settings,
		Capture:      capture,
		CaptureName:  "fake-capture",
		PlaybackName: "fake-playback",
		OpenPlayback: func() (transport.Playback, error) { return playback, nil },
		Sinks:        []StatusSink{sink},
	})
	return m, capture, playback, sink
}

func fastSettings() Settings {
	return Settings{
		SensitivityDB:     -60,
		IdleInterval:      time.Millisecond,
		FollowInterval:    time.Millisecond,
		StreamInterval:    time.Millisecond,
		HibernateInterval: 10 * time.Millisecond,
		StartCount:        2,
		StopCount:         2,
		SampleSize:        8,
	}
}

func TestMachineStartsIdle(t *testing.T) {
	m, _, _, sink := testMachine(t, fastSettings())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	sink.waitFor(t, StateIdle, time.Second)
	cancel()
	<-done
}

func TestMachineStreamsOnActivity(t *testing.T) {
	m, capture, playback, sink := testMachine(t, fastSettings())
	capture.setActive(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	sink.waitFor(t, StateStreaming, time.Second)

	// Silence returns the machine to idle after the stop count.
	capture.setActive(false)
	deadline := time.Now().Add(time.Second)
	for m.State() != StateIdle && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := m.State(); got != StateIdle {
		t.Fatalf("state after silence = %q, want %q", got, StateIdle)
	}

	playback.mu.Lock()
	copied := playback.bytes
	playbackClosed := playback.closed
	playback.mu.Unlock()
	if copied == 0 {
		t.Error("no audio copied to playback during streaming")
	}
	if !playbackClosed {
		t.Error("playback not closed when streaming ended")
	}

	sink.mu.Lock()
	activity := append([]bool(nil), sink.activity...)
	sink.mu.Unlock()
	if len(activity) < 2 || !activity[0] || activity[len(activity)-1] {
		t.Errorf("activity edges = %v, want rising then falling", activity)
	}

	cancel()
	<-done
}

func TestMachineStopHibernates(t *testing.T) {
	settings := fastSettings()
	settings.HibernateInterval = time.Hour // keep it hibernating for the whole test
	m, _, _, sink := testMachine(t, settings)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	sink.waitFor(t, StateIdle, time.Second)
	m.Enqueue(CommandStop)
	sink.waitFor(t, StateHibernating, time.Second)

	cancel()
	<-done
}

func TestMachineHibernateWakes(t *testing.T) {
	m, _, _, sink := testMachine(t, fastSettings())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	sink.waitFor(t, StateIdle, time.Second)
	m.Enqueue(CommandStop)
	sink.waitFor(t, StateHibernating, time.Second)

	// The 10ms hibernate interval self-enqueues a play command.
	deadline := time.Now().Add(time.Second)
	for m.State() != StateIdle && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := m.State(); got != StateIdle {
		t.Fatalf("state after hibernation = %q, want %q", got, StateIdle)
	}

	cancel()
	<-done
}

func TestMachineKillClosesCapture(t *testing.T) {
	m, capture, _, sink := testMachine(t, fastSettings())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	sink.waitFor(t, StateIdle, time.Second)
	m.Enqueue(CommandKill)

	if err := <-done; err != nil {
		t.Errorf("Run returned %v after kill, want nil", err)
	}
	if !capture.isClosed() {
		t.Error("capture not closed on kill")
	}
	if got := m.State(); got != StateKilled {
		t.Errorf("state = %q, want %q", got, StateKilled)
	}
}

func TestMachineReloadAppliesSettings(t *testing.T) {
	settings := fastSettings()
	fresh := settings
	fresh.SensitivityDB = -30
	fresh.StopCount = 7

	format, err := pcm.ParseFormat("S16_LE", 1, 48000, 64)
	if err != nil {
		t.Fatalf("ParseFormat: %v", err)
	}
	capture := &fakeCapture{format: format}
	sink := &recordingSink{}
	m := New(Options{
		Format:       format,
		Settings:     settings,
		Capture:      capture,
		OpenPlayback: func() (transport.Playback, error) { return &fakePlayback{}, nil },
		Reload:       func() Settings { return fresh },
		Sinks:        []StatusSink{sink},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	sink.waitFor(t, StateIdle, time.Second)
	before := m.Status()
	m.Enqueue(CommandReload)

	deadline := time.Now().Add(time.Second)
	for m.Status().Settings.StopCount != 7 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	after := m.Status()
	if after.Settings.SensitivityDB != -30 || after.Settings.StopCount != 7 {
		t.Errorf("settings after reload = %+v, want sensitivity -30 stop count 7", after.Settings)
	}
	if after.Thresholds.Start <= before.Thresholds.Start {
		t.Errorf("start threshold %v not raised by the less sensitive reload (was %v)",
			after.Thresholds.Start, before.Thresholds.Start)
	}

	cancel()
	<-done
}

func TestMachineContextCancelKills(t *testing.T) {
	m, capture, _, sink := testMachine(t, fastSettings())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	sink.waitFor(t, StateIdle, time.Second)
	cancel()

	if err := <-done; err != context.Canceled {
		t.Errorf("Run returned %v, want context.Canceled", err)
	}
	if !capture.isClosed() {
		t.Error("capture not closed on context cancellation")
	}
}

func TestEnqueueNeverBlocks(t *testing.T) {
	m, _, _, _ := testMachine(t, fastSettings())

	// Nothing consumes the queue; overflow must drop, not block.
	for i := 0; i < commandQueueSize*2; i++ {
		m.Enqueue(CommandPlay)
	}
}

// gatedCapture blocks every Read until the test releases it, so a
// command can be dispatched while a read is in flight.
type gatedCapture struct {
	format pcm.StreamFormat
	gate   chan struct{}
}

func (c *gatedCapture) Read() ([]byte, error) {
	<-c.gate
	buf := make([]byte, c.format.PeriodBytes())
	for i := 0; i+1 < len(buf); i += 2 {
		binary.LittleEndian.PutUint16(buf[i:], 10000)
	}
	return buf, nil
}

func (c *gatedCapture) Close() error { return nil }

func TestStopOverridesInFlightRead(t *testing.T) {
	format, err := pcm.ParseFormat("S16_LE", 1, 48000, 64)
	if err != nil {
		t.Fatalf("ParseFormat: %v", err)
	}
	capture := &gatedCapture{format: format, gate: make(chan struct{}, 1)}
	sink := &recordingSink{}

	settings := fastSettings()
	settings.StartCount = 1 // one loud period is enough to transition
	settings.HibernateInterval = time.Hour

	m := New(Options{
		Format:       format,
		Settings:     settings,
		Capture:      capture,
		OpenPlayback: func() (transport.Playback, error) { return &fakePlayback{}, nil },
		Sinks:        []StatusSink{sink},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	sink.waitFor(t, StateIdle, time.Second)
	time.Sleep(20 * time.Millisecond) // let the probe enter Read

	// Stop while the read is in flight, then hand the probe a loud
	// period. Its captured audio belongs to a state that is gone and
	// must not pull the machine out of hibernation.
	m.Enqueue(CommandStop)
	time.Sleep(20 * time.Millisecond)
	capture.gate <- struct{}{}

	sink.waitFor(t, StateHibernating, time.Second)
	time.Sleep(100 * time.Millisecond)

	if got := m.State(); got != StateHibernating {
		t.Fatalf("state after stop = %q, want %q", got, StateHibernating)
	}
	sink.mu.Lock()
	for _, got := range sink.states {
		if got == StateStreaming {
			t.Errorf("machine entered %q after an explicit stop, states: %v", StateStreaming, sink.states)
			break
		}
	}
	sink.mu.Unlock()

	cancel()
	<-done
}

func TestStaleTransitionCommandsDropped(t *testing.T) {
	settings := fastSettings()
	settings.HibernateInterval = time.Hour
	m, _, _, sink := testMachine(t, settings)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	sink.waitFor(t, StateIdle, time.Second)
	m.Enqueue(CommandStop)
	sink.waitFor(t, StateHibernating, time.Second)

	// A stream transition is only valid from idle and a quiet
	// transition only from streaming; both are stale here.
	m.Enqueue(commandStream)
	m.Enqueue(commandQuiet)
	time.Sleep(100 * time.Millisecond)

	if got := m.State(); got != StateHibernating {
		t.Errorf("state after stale transitions = %q, want %q", got, StateHibernating)
	}

	cancel()
	<-done
}

func TestMachineHoldsStreamInDeadBand(t *testing.T) {
	m, capture, _, sink := testMachine(t, fastSettings())
	capture.setActive(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	sink.waitFor(t, StateStreaming, time.Second)

	// At -60 dB sensitivity on S16 the start threshold is ~32.8 and the
	// stop threshold ~23.2; an amplitude of 28 sits between them and
	// must hold the stream open indefinitely.
	capture.setAmplitude(28)
	time.Sleep(150 * time.Millisecond) // dozens of stop-count cycles

	if got := m.State(); got != StateStreaming {
		t.Fatalf("state with dead-band signal = %q, want %q", got, StateStreaming)
	}

	// Below the stop threshold the machine still idles.
	capture.setAmplitude(0)
	deadline := time.Now().Add(time.Second)
	for m.State() != StateIdle && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := m.State(); got != StateIdle {
		t.Fatalf("state after silence = %q, want %q", got, StateIdle)
	}

	cancel()
	<-done
}

func TestFatalCaptureErrorKills(t *testing.T) {
	m, capture, _, _ := testMachine(t, fastSettings())
	_ = capture.Close() // next Read returns ErrDeviceClosed

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("machine did not terminate on fatal capture error")
	}
	if got := m.State(); got != StateKilled {
		t.Errorf("state = %q, want %q", got, StateKilled)
	}
}
