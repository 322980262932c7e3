// Package loop implements the command-driven controller at the heart
// of the loopback daemon. A single run goroutine owns the operational
// state and consumes an ordered command queue; all probing, copying,
// and monitoring happens in background tasks that the controller
// spawns on state entry and cancels-then-awaits before the next
// transition. That discipline is the only mutual exclusion the
// transports need.
package loop

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-loopback/internal/detect"
	"github.com/oszuidwest/zwfm-loopback/internal/pcm"
	"github.com/oszuidwest/zwfm-loopback/internal/transport"
)

// State is the machine's operational state. It is owned by the run
// goroutine and mirrored best-effort to registered status sinks.
type State string

// Operational states.
const (
	StateUnknown     State = "unknown"
	StateIdle        State = "idle"
	StateStreaming   State = "streaming"
	StateHibernating State = "hibernating"
	StateKilled      State = "killed"
)

// Command is an instruction delivered through the machine's queue.
// Producers are OS signal handlers, the control planes, and the
// machine's own transition logic.
type Command string

// Externally deliverable commands.
const (
	CommandPlay   Command = "play"   // resume idle probing
	CommandStop   Command = "stop"   // hibernate, then wake into idle
	CommandKill   Command = "kill"   // terminal shutdown
	CommandReload Command = "reload" // reload settings, restart into idle
)

// Internal self-enqueued transitions. commandStream moves idle probing
// into streaming; commandQuiet moves a quiet stream back to idle. Each
// is only valid from the state whose task enqueued it, so a transition
// racing an external command gets dropped instead of dispatched.
const (
	commandStream Command = "stream"
	commandQuiet  Command = "quiet"
)

const (
	// commandQueueSize bounds the command queue. Producers never block;
	// a full queue drops the command with a warning, which only happens
	// when the run goroutine has wedged.
	commandQueueSize = 32

	// copyYield is the pause between copy iterations. It bounds CPU use
	// and guarantees the copy task observes cancellation promptly.
	copyYield = time.Millisecond

	// cancelWait bounds how long a dispatch waits for the previous
	// state's tasks to acknowledge cancellation.
	cancelWait = 3 * time.Second

	// transientRetryDelay spaces out retries of busy transport calls.
	transientRetryDelay = 10 * time.Millisecond
)

// Settings holds the runtime-reloadable probe parameters.
type Settings struct {
	SensitivityDB     float64       // activity threshold in dB below full scale
	IdleInterval      time.Duration // poll spacing while fully idle
	FollowInterval    time.Duration // poll spacing while a counter is pending
	StreamInterval    time.Duration // monitor poll spacing while streaming
	HibernateInterval time.Duration // how long a stop command sleeps
	StartCount        int           // consecutive active probes before streaming
	StopCount         int           // consecutive quiet probes before idling
	SampleSize        int           // frames inspected per classification
}

// StatusSink receives state mirror updates. Sink failures are logged
// and never propagate into the machine.
type StatusSink interface {
	StateChanged(state State)
}

// ActivitySink is an optional extension of StatusSink. Sinks that
// implement it additionally receive the signal edges that drive the
// idle/streaming transitions, with the classified level.
type ActivitySink interface {
	ActivityChanged(active bool, level float64)
}

// DeviceSink is an optional extension of StatusSink. Sinks that
// implement it additionally receive fatal transport failures.
type DeviceSink interface {
	DeviceFailed(device string, err error)
}

// Options configures a Machine.
type Options struct {
	Format       pcm.StreamFormat
	Settings     Settings
	Capture      transport.Capture
	CaptureName  string
	PlaybackName string
	// OpenPlayback opens the playback port lazily on streaming entry.
	OpenPlayback func() (transport.Playback, error)
	// Reload returns fresh settings when a reload command arrives.
	// Nil keeps the current settings.
	Reload func() Settings
	Sinks  []StatusSink
}

// Machine is the loop controller. Create it with New and drive it with
// Run; Enqueue is safe from any goroutine.
type Machine struct {
	format       pcm.StreamFormat
	settings     Settings
	thresholds   detect.Thresholds
	capture      transport.Capture
	captureName  string
	playbackName string
	openPlayback func() (transport.Playback, error)
	reload       func() Settings
	sinks        []StatusSink

	cmds chan Command

	// Run-goroutine owned.
	state   State
	counter int

	// lastPeriod is the most recent captured period, written by the
	// probe or copy task and read by the stream monitor.
	periodMu   sync.Mutex
	lastPeriod []byte
}

// New creates a Machine in the Unknown state.
func New(opts Options) *Machine {
	return &Machine{
		format:       opts.Format,
		settings:     opts.Settings,
		thresholds:   detect.NewThresholds(opts.Settings.SensitivityDB, opts.Format),
		capture:      opts.Capture,
		captureName:  opts.CaptureName,
		playbackName: opts.PlaybackName,
		openPlayback: opts.OpenPlayback,
		reload:       opts.Reload,
		sinks:        opts.Sinks,
		cmds:         make(chan Command, commandQueueSize),
		state:        StateUnknown,
	}
}

// State returns the state as of the last mirror update. Intended for
// status reporting; transitions are only observable through sinks.
func (m *Machine) State() State {
	m.periodMu.Lock()
	defer m.periodMu.Unlock()
	return m.state
}

// Status is a point-in-time snapshot for status reporting.
type Status struct {
	State      State
	Settings   Settings
	Thresholds detect.Thresholds
}

// Status returns a consistent snapshot of state, settings, and the
// derived thresholds.
func (m *Machine) Status() Status {
	m.periodMu.Lock()
	defer m.periodMu.Unlock()
	return Status{State: m.state, Settings: m.settings, Thresholds: m.thresholds}
}

// Enqueue delivers a command to the run goroutine without blocking.
func (m *Machine) Enqueue(cmd Command) {
	select {
	case m.cmds <- cmd:
	default:
		slog.Warn("command queue full, dropping command", "command", cmd)
	}
}

// Run consumes the command queue until a kill command lands or ctx is
// cancelled. It immediately self-enqueues entry into idle.
func (m *Machine) Run(ctx context.Context) error {
	tasks := newTaskSet()
	m.Enqueue(CommandPlay)

	for {
		select {
		case <-ctx.Done():
			m.dispatch(ctx, &tasks, CommandKill)
			return ctx.Err()
		case cmd := <-m.cmds:
			m.dispatch(ctx, &tasks, cmd)
			if m.state == StateKilled {
				return nil
			}
		}
	}
}

// dispatch performs one transition: cancel and await every task of the
// previous state, then run the new state's entry action.
func (m *Machine) dispatch(ctx context.Context, tasks *taskSet, cmd Command) {
	// A cancelled task can still win the race between its last context
	// check and its Enqueue. Its transition is stale once the state it
	// was probing is gone; dispatching it would override whichever
	// command cancelled it.
	if (cmd == commandStream && m.state != StateIdle) ||
		(cmd == commandQuiet && m.state != StateStreaming) {
		slog.Debug("dropping stale transition", "command", cmd, "state", m.state)
		return
	}

	slog.Info("dispatching command", "command", cmd, "state", m.state)
	tasks.cancelAndWait()
	m.counter = 0

	switch cmd {
	case CommandPlay, commandQuiet:
		m.setState(StateIdle)
		tasks.spawnAfter(ctx, m.settings.IdleInterval, m.probeIdle)

	case commandStream:
		m.setState(StateStreaming)
		tasks.spawn(ctx, m.streamCopy)
		tasks.spawnAfter(ctx, m.settings.StreamInterval, m.monitorStream)

	case CommandStop:
		m.setState(StateHibernating)
		tasks.spawnAfter(ctx, m.settings.HibernateInterval, func(context.Context) {
			m.Enqueue(CommandPlay)
		})

	case CommandReload:
		if m.reload != nil {
			fresh := m.reload()
			m.periodMu.Lock()
			m.settings = fresh
			m.thresholds = detect.NewThresholds(fresh.SensitivityDB, m.format)
			m.periodMu.Unlock()
			slog.Info("settings reloaded",
				"sensitivity_db", m.settings.SensitivityDB,
				"start_count", m.settings.StartCount,
				"stop_count", m.settings.StopCount)
		}
		m.setState(StateIdle)
		tasks.spawnAfter(ctx, m.settings.IdleInterval, m.probeIdle)

	case CommandKill:
		m.setState(StateKilled)
		if err := m.capture.Close(); err != nil {
			slog.Warn("capture close failed", "error", err)
		}

	default:
		slog.Warn("unknown command", "command", cmd)
	}
}

// setState records the new state and mirrors it to every sink.
func (m *Machine) setState(state State) {
	m.periodMu.Lock()
	m.state = state
	m.periodMu.Unlock()

	for _, sink := range m.sinks {
		sink.StateChanged(state)
	}
}

// notifyActivity mirrors a signal edge to every sink that cares.
func (m *Machine) notifyActivity(active bool, level float64) {
	for _, sink := range m.sinks {
		if as, ok := sink.(ActivitySink); ok {
			as.ActivityChanged(active, level)
		}
	}
}

// notifyDevice mirrors a fatal transport failure to every sink that
// cares.
func (m *Machine) notifyDevice(device string, err error) {
	for _, sink := range m.sinks {
		if ds, ok := sink.(DeviceSink); ok {
			ds.DeviceFailed(device, err)
		}
	}
}

// storePeriod publishes the most recently captured period.
func (m *Machine) storePeriod(buf []byte) {
	m.periodMu.Lock()
	m.lastPeriod = buf
	m.periodMu.Unlock()
}

// loadPeriod returns the most recently captured period, or nil before
// the first read.
func (m *Machine) loadPeriod() []byte {
	m.periodMu.Lock()
	defer m.periodMu.Unlock()
	return m.lastPeriod
}

// taskSet tracks the background tasks belonging to the current state
// by identity so a dispatch can cancel exactly those and no others.
type taskSet struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     *sync.WaitGroup
}

func newTaskSet() taskSet {
	return taskSet{wg: &sync.WaitGroup{}}
}

// spawn starts fn under the set's cancellation context, creating a
// fresh context on first use after a cancelAndWait.
func (ts *taskSet) spawn(parent context.Context, fn func(ctx context.Context)) {
	if ts.ctx == nil {
		ts.ctx, ts.cancel = context.WithCancel(parent)
	}
	ts.wg.Add(1)
	ctx := ts.ctx
	go func() {
		defer ts.wg.Done()
		fn(ctx)
	}()
}

// spawnAfter starts fn after a cancellable delay.
func (ts *taskSet) spawnAfter(parent context.Context, delay time.Duration, fn func(ctx context.Context)) {
	ts.spawn(parent, func(ctx context.Context) {
		if !sleepCtx(ctx, delay) {
			return
		}
		fn(ctx)
	})
}

// cancelAndWait cancels all tasks in the set and waits for them to
// acknowledge, bounded by cancelWait so a stuck transport cannot wedge
// the dispatch loop forever.
func (ts *taskSet) cancelAndWait() {
	if ts.cancel == nil {
		return
	}
	ts.cancel()

	done := make(chan struct{})
	wg := ts.wg
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(cancelWait):
		slog.Warn("tasks did not acknowledge cancellation in time", "timeout", cancelWait)
		// Orphaned tasks keep the old WaitGroup; new tasks get a fresh one.
		ts.wg = &sync.WaitGroup{}
	}

	ts.ctx, ts.cancel = nil, nil
}

// sleepCtx pauses for d and reports whether the context survived.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
