package report

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func readEvents(t *testing.T, path string) []Event {
	t.Helper()

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open log file: %v", err)
	}
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var decoded Event
		if err := json.Unmarshal(scanner.Bytes(), &decoded); err != nil {
			t.Fatalf("Failed to decode line %d: %v", len(events)+1, err)
		}
		events = append(events, decoded)
	}
	return events
}

func TestNewEventLogger(t *testing.T) {
	tmpDir := t.TempDir()

	logger, err := NewEventLogger(tmpDir, LevelDebug)
	if err != nil {
		t.Fatalf("NewEventLogger failed: %v", err)
	}
	defer logger.Close()

	if _, err := os.Stat(logger.Path()); os.IsNotExist(err) {
		t.Errorf("Event log file was not created at %s", logger.Path())
	}

	filename := filepath.Base(logger.Path())
	if len(filename) < len("events-20060102-150405.jsonl") {
		t.Errorf("Event log filename format incorrect: %s", filename)
	}
}

func TestEventLogger_MultipleEvents(t *testing.T) {
	tmpDir := t.TempDir()
	logger, err := NewEventLogger(tmpDir, LevelDebug)
	if err != nil {
		t.Fatalf("NewEventLogger failed: %v", err)
	}
	logger.SetRunID("run-123")

	events := []*Event{
		{Level: LevelInfo, Event: EventPlace, ContentHash: "h1", SrcPath: "/in/a.mp3", DestPath: "/lib/A/Singles/a.mp3"},
		{Level: LevelInfo, Event: EventDuplicate, ContentHash: "h1", SrcPath: "/in/b.mp3"},
		{Level: LevelWarning, Event: EventConflict, SrcPath: "/in/c.mp3", Reason: "renamed"},
		{Level: LevelError, Event: EventError, SrcPath: "/in/d.mp3", Error: "test error"},
	}

	for _, event := range events {
		if err := logger.Log(event); err != nil {
			t.Fatalf("Log failed: %v", err)
		}
	}
	logger.Close()

	decoded := readEvents(t, logger.Path())
	if len(decoded) != len(events) {
		t.Fatalf("Expected %d events, got %d", len(events), len(decoded))
	}
	for i, e := range decoded {
		if e.Timestamp.IsZero() {
			t.Errorf("Line %d: timestamp not set", i+1)
		}
		if e.RunID != "run-123" {
			t.Errorf("Line %d: run_id = %q", i+1, e.RunID)
		}
	}
	if decoded[0].DestPath != "/lib/A/Singles/a.mp3" {
		t.Errorf("dest_path = %q", decoded[0].DestPath)
	}
}

func TestEventLogger_ConcurrentWrites(t *testing.T) {
	tmpDir := t.TempDir()
	logger, err := NewEventLogger(tmpDir, LevelDebug)
	if err != nil {
		t.Fatalf("NewEventLogger failed: %v", err)
	}

	const numGoroutines = 10
	const eventsPerGoroutine = 20

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < eventsPerGoroutine; j++ {
				if err := logger.LogPlace("hash", "/in/x.mp3", "/lib/x.mp3", "copy", int64(j), time.Millisecond); err != nil {
					t.Errorf("Concurrent log failed: %v", err)
				}
			}
		}(i)
	}
	wg.Wait()
	logger.Close()

	if got := len(readEvents(t, logger.Path())); got != numGoroutines*eventsPerGoroutine {
		t.Errorf("Expected %d events, got %d", numGoroutines*eventsPerGoroutine, got)
	}
}

func TestEventLogger_Helpers(t *testing.T) {
	tmpDir := t.TempDir()
	logger, err := NewEventLogger(tmpDir, LevelDebug)
	if err != nil {
		t.Fatalf("NewEventLogger failed: %v", err)
	}

	logger.LogRun("start", map[string]string{"mode": "execute"})
	logger.LogPlan("h1", "/in/a.mp3", "/lib/a.mp3")
	logger.LogRecover("h2", "/in/b.mp3", "/lib/b.mp3")
	logger.LogSkip("/in/readme.txt", SkipNonAudio)
	logger.LogCommit(3, time.Second, nil)
	logger.LogCommit(0, time.Second, errors.New("disk I/O error"))
	logger.LogCache("evict", "/cache/a.mp3", "over budget", 100)
	logger.LogCueSheet("/in/album.cue", 12, nil)
	logger.LogError(EventPlace, "/in/c.mp3", errors.New("permission denied"))
	logger.Close()

	events := readEvents(t, logger.Path())
	if len(events) != 9 {
		t.Fatalf("Expected 9 events, got %d", len(events))
	}

	want := []EventType{EventRun, EventPlan, EventRecover, EventSkip, EventCommit, EventCommit, EventCache, EventCueSheet, EventPlace}
	for i, e := range events {
		if e.Event != want[i] {
			t.Errorf("event %d = %s, want %s", i, e.Event, want[i])
		}
	}
	if events[4].Extra["inserted"] != "3" {
		t.Errorf("commit extra = %v", events[4].Extra)
	}
	if events[5].Level != LevelError || events[5].Error == "" {
		t.Errorf("failed commit = %+v", events[5])
	}
	if events[7].Extra["segments"] != "12" {
		t.Errorf("cuesheet extra = %v", events[7].Extra)
	}
}

func TestEventLogger_NullLogger(t *testing.T) {
	logger := NullLogger()

	if err := logger.Log(&Event{Level: LevelInfo, Event: EventScan}); err != nil {
		t.Errorf("NullLogger.Log should not return error, got: %v", err)
	}
	if err := logger.LogPlace("h", "/a", "/b", "copy", 1, 0); err != nil {
		t.Errorf("NullLogger.LogPlace should not return error, got: %v", err)
	}
	logger.SetRunID("ignored")
	if err := logger.Close(); err != nil {
		t.Errorf("NullLogger.Close should not return error, got: %v", err)
	}
	if path := logger.Path(); path != "" {
		t.Errorf("NullLogger.Path should return empty string, got: %s", path)
	}
}

func TestEventLogger_LogLevelFiltering(t *testing.T) {
	tmpDir := t.TempDir()
	logger, err := NewEventLogger(tmpDir, LevelWarning)
	if err != nil {
		t.Fatalf("NewEventLogger failed: %v", err)
	}

	logger.LogSkip("/in/a.txt", SkipNonAudio)             // debug
	logger.LogPlace("h", "/in/a", "/lib/a", "copy", 1, 0) // info
	logger.LogConflict("/in/b", "/lib/b (1)", "renamed")  // warning
	logger.LogError(EventError, "/in/c", errors.New("x")) // error
	logger.Close()

	events := readEvents(t, logger.Path())
	if len(events) != 2 {
		t.Fatalf("Expected 2 events at warning and above, got %d", len(events))
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]EventLevel{
		"debug":   LevelDebug,
		"info":    LevelInfo,
		"warn":    LevelWarning,
		"warning": LevelWarning,
		"error":   LevelError,
		"bogus":   LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
