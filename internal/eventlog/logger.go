// Package eventlog provides unified event logging for the loopback.
// It captures state transitions, redirection sessions (stream_started,
// stream_stopped), signal activity (activity_start, activity_end), and
// device faults in a single JSON lines file.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-loopback/internal/util"
)

// EventType represents the type of event.
type EventType string

// State event types.
const (
	StateChanged   EventType = "state_changed"
	ConfigReloaded EventType = "config_reloaded"
)

// Redirection event types.
const (
	StreamStarted EventType = "stream_started"
	StreamStopped EventType = "stream_stopped"
)

// Activity event types.
const (
	ActivityStart EventType = "activity_start"
	ActivityEnd   EventType = "activity_end"
)

// Device event types.
const (
	DeviceError EventType = "device_error"
)

// Event represents a single log entry with type-specific details.
type Event struct {
	Timestamp time.Time `json:"ts"`
	Type      EventType `json:"type"`
	Message   string    `json:"msg,omitempty"`
	Details   any       `json:"details,omitempty"`
}

// StateDetails contains state-transition details.
type StateDetails struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// StreamDetails contains redirection-session details.
type StreamDetails struct {
	Capture    string `json:"capture,omitempty"`
	Playback   string `json:"playback,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ActivityDetails contains signal-activity details.
type ActivityDetails struct {
	Level       float64 `json:"level"`
	ThresholdDB float64 `json:"threshold_db"`
	DurationMs  int64   `json:"duration_ms,omitempty"`
}

// DeviceDetails contains device-fault details.
type DeviceDetails struct {
	Device string `json:"device,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Logger writes events to a JSON lines file.
type Logger struct {
	mu       sync.Mutex
	filePath string
	file     *os.File
	encoder  *json.Encoder
}

// DefaultLogPath returns the platform-specific log file path.
func DefaultLogPath() string {
	switch runtime.GOOS {
	case "windows":
		programData := os.Getenv("PROGRAMDATA")
		if programData == "" {
			programData = `C:\ProgramData`
		}
		return filepath.Join(programData, "zwfm-loopback", "logs", "loopback.jsonl")
	default: // linux, darwin
		return filepath.Join("/var/log/zwfm-loopback", "loopback.jsonl")
	}
}

// NewLogger creates a new event logger at the specified path. The path
// is validated and its directory probed for writability before the
// first event, so a misconfigured log fails at startup rather than on
// the first state change.
func NewLogger(filePath string) (*Logger, error) {
	if err := util.ValidatePath("log path", filePath); err != nil {
		return nil, err
	}
	if err := util.CheckPathWritable(filepath.Dir(filePath)); err != nil {
		return nil, fmt.Errorf("log directory %s: %w", filepath.Dir(filePath), err)
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return &Logger{
		filePath: filePath,
		file:     file,
		encoder:  json.NewEncoder(file),
	}, nil
}

// Log writes an event to the log file.
func (l *Logger) Log(event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	return l.encoder.Encode(event)
}

// LogState logs a state transition.
func (l *Logger) LogState(from, to string) error {
	return l.Log(&Event{
		Type:    StateChanged,
		Details: &StateDetails{From: from, To: to},
	})
}

// LogStream logs the start or end of a redirection session.
func (l *Logger) LogStream(eventType EventType, capture, playback string, durationMs int64, errMsg string) error {
	return l.Log(&Event{
		Type: eventType,
		Details: &StreamDetails{
			Capture:    capture,
			Playback:   playback,
			DurationMs: durationMs,
			Error:      errMsg,
		},
	})
}

// LogActivity logs signal activity crossing a threshold.
func (l *Logger) LogActivity(eventType EventType, level, thresholdDB float64, durationMs int64) error {
	return l.Log(&Event{
		Type: eventType,
		Details: &ActivityDetails{
			Level:       level,
			ThresholdDB: thresholdDB,
			DurationMs:  durationMs,
		},
	})
}

// LogDeviceError logs a device fault.
func (l *Logger) LogDeviceError(device, errMsg string) error {
	return l.Log(&Event{
		Type:    DeviceError,
		Details: &DeviceDetails{Device: device, Error: errMsg},
	})
}

// Close closes the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Path returns the path to the log file.
func (l *Logger) Path() string {
	return l.filePath
}

// TypeFilter specifies which event types to include when reading.
type TypeFilter string

// Filter constants for ReadLast.
const (
	FilterAll      TypeFilter = ""
	FilterState    TypeFilter = "state"
	FilterStream   TypeFilter = "stream"
	FilterActivity TypeFilter = "activity"
	FilterDevice   TypeFilter = "device"
)

// MaxReadLimit is the maximum number of events that can be read at once.
// This prevents denial-of-service via excessive memory allocation.
const MaxReadLimit = 500

// ReadLast reads events from the log file with pagination support.
// Returns up to n events starting from offset, filtered by type.
// Events are returned in reverse chronological order (newest first).
func ReadLast(filePath string, n, offset int, filter TypeFilter) ([]Event, bool, error) {
	if n > MaxReadLimit {
		n = MaxReadLimit
	}
	if n <= 0 {
		return []Event{}, false, nil
	}

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []Event{}, false, nil
		}
		return nil, false, err
	}
	defer file.Close() //nolint:errcheck // Read-only operation, close error not critical

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, false, err
	}

	// Parse events in reverse order (newest first), applying filter.
	events := make([]Event, 0, n)
	skipped := 0
	hasMore := false
	for i := len(lines) - 1; i >= 0; i-- {
		var event Event
		if err := json.Unmarshal([]byte(lines[i]), &event); err != nil {
			continue // Skip malformed lines
		}

		if !matchesFilter(event.Type, filter) {
			continue
		}

		if skipped < offset {
			skipped++
			continue
		}

		if len(events) >= n {
			hasMore = true
			break
		}
		events = append(events, event)
	}

	return events, hasMore, nil
}

func matchesFilter(t EventType, filter TypeFilter) bool {
	switch filter {
	case FilterAll:
		return true
	case FilterState:
		return t == StateChanged || t == ConfigReloaded
	case FilterStream:
		return t == StreamStarted || t == StreamStopped
	case FilterActivity:
		return t == ActivityStart || t == ActivityEnd
	case FilterDevice:
		return t == DeviceError
	default:
		return false
	}
}
