package eventlog

import (
	"path/filepath"
	"testing"
)

func tempLogger(t *testing.T) *Logger {
	t.Helper()
	l, err := NewLogger(filepath.Join(t.TempDir(), "events", "loopback.jsonl"))
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestNewLoggerRejectsBadPaths(t *testing.T) {
	if _, err := NewLogger(""); err == nil {
		t.Error("empty path accepted")
	}
	if _, err := NewLogger(filepath.Join(t.TempDir(), "..", "escape", "loopback.jsonl")); err == nil {
		t.Error("traversal path accepted")
	}
}

func TestNewLoggerCreatesMissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "loopback.jsonl")
	l, err := NewLogger(path)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer func() { _ = l.Close() }()
	if err := l.LogState("unknown", "idle"); err != nil {
		t.Errorf("LogState into created directory: %v", err)
	}
}

func TestLogAndReadBack(t *testing.T) {
	l := tempLogger(t)

	if err := l.LogState("unknown", "idle"); err != nil {
		t.Fatalf("LogState: %v", err)
	}
	if err := l.LogStream(StreamStarted, "hw:0", "default", 0, ""); err != nil {
		t.Fatalf("LogStream: %v", err)
	}
	if err := l.LogActivity(ActivityStart, 1200, -60, 0); err != nil {
		t.Fatalf("LogActivity: %v", err)
	}
	if err := l.LogDeviceError("hw:0", "device unplugged"); err != nil {
		t.Fatalf("LogDeviceError: %v", err)
	}

	events, hasMore, err := ReadLast(l.Path(), 10, 0, FilterAll)
	if err != nil {
		t.Fatalf("ReadLast: %v", err)
	}
	if hasMore {
		t.Error("hasMore = true, want false")
	}
	if len(events) != 4 {
		t.Fatalf("read %d events, want 4", len(events))
	}

	// ReadLast returns newest first.
	wantTypes := []EventType{DeviceError, ActivityStart, StreamStarted, StateChanged}
	for i, want := range wantTypes {
		if events[i].Type != want {
			t.Errorf("events[%d].Type = %q, want %q", i, events[i].Type, want)
		}
		if events[i].Timestamp.IsZero() {
			t.Errorf("events[%d] has no timestamp", i)
		}
	}
}

func TestReadLastFilter(t *testing.T) {
	l := tempLogger(t)

	_ = l.LogState("idle", "streaming")
	_ = l.LogStream(StreamStarted, "hw:0", "default", 0, "")
	_ = l.LogActivity(ActivityStart, 500, -60, 0)
	_ = l.LogActivity(ActivityEnd, 10, -60, 4200)
	_ = l.LogStream(StreamStopped, "hw:0", "default", 4200, "")
	_ = l.LogState("streaming", "idle")
	_ = l.LogDeviceError("hw:0", "gone")

	tests := []struct {
		filter TypeFilter
		want   int
	}{
		{FilterAll, 7},
		{FilterState, 2},
		{FilterStream, 2},
		{FilterActivity, 2},
		{FilterDevice, 1},
	}

	for _, tt := range tests {
		events, _, err := ReadLast(l.Path(), 100, 0, tt.filter)
		if err != nil {
			t.Fatalf("ReadLast(%q): %v", tt.filter, err)
		}
		if len(events) != tt.want {
			t.Errorf("filter %q returned %d events, want %d", tt.filter, len(events), tt.want)
		}
	}
}

func TestReadLastPagination(t *testing.T) {
	l := tempLogger(t)
	for i := 0; i < 10; i++ {
		if err := l.LogState("idle", "streaming"); err != nil {
			t.Fatal(err)
		}
	}

	page1, hasMore, err := ReadLast(l.Path(), 4, 0, FilterAll)
	if err != nil {
		t.Fatal(err)
	}
	if len(page1) != 4 || !hasMore {
		t.Errorf("page 1: %d events hasMore=%v, want 4 true", len(page1), hasMore)
	}

	page3, hasMore, err := ReadLast(l.Path(), 4, 8, FilterAll)
	if err != nil {
		t.Fatal(err)
	}
	if len(page3) != 2 || hasMore {
		t.Errorf("page 3: %d events hasMore=%v, want 2 false", len(page3), hasMore)
	}
}

func TestReadLastClampsLimit(t *testing.T) {
	l := tempLogger(t)
	_ = l.LogState("idle", "streaming")

	if _, _, err := ReadLast(l.Path(), MaxReadLimit*10, 0, FilterAll); err != nil {
		t.Fatalf("ReadLast with oversized limit: %v", err)
	}
}

func TestReadLastMissingFile(t *testing.T) {
	events, hasMore, err := ReadLast(filepath.Join(t.TempDir(), "missing.jsonl"), 10, 0, FilterAll)
	if err != nil {
		t.Fatalf("ReadLast on missing file: %v", err)
	}
	if len(events) != 0 || hasMore {
		t.Errorf("got %d events hasMore=%v, want empty", len(events), hasMore)
	}
}
