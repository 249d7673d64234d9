package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	EventRun       EventType = "run"
	EventScan      EventType = "scan"
	EventPlace     EventType = "place"
	EventPlan      EventType = "plan"
	EventRecover   EventType = "recover"
	EventSkip      EventType = "skip"
	EventDuplicate EventType = "duplicate"
	EventConflict  EventType = "conflict"
	EventCommit    EventType = "commit"
	EventCache     EventType = "cache"
	EventCueSheet  EventType = "cuesheet"
	EventError     EventType = "error"
)

// EventLevel represents the severity level
type EventLevel string

const (
	LevelDebug   EventLevel = "debug"
	LevelInfo    EventLevel = "info"
	LevelWarning EventLevel = "warning"
	LevelError   EventLevel = "error"
)

// levelPriority maps event levels to numeric priorities for comparison
var levelPriority = map[EventLevel]int{
	LevelDebug:   0,
	LevelInfo:    1,
	LevelWarning: 2,
	LevelError:   3,
}

// ParseLevel maps a level name to an EventLevel, defaulting to info
func ParseLevel(s string) EventLevel {
	switch EventLevel(s) {
	case LevelDebug, LevelInfo, LevelWarning, LevelError:
		return EventLevel(s)
	case "warn":
		return LevelWarning
	}
	return LevelInfo
}

// Event represents a single event in a run
type Event struct {
	Timestamp    time.Time         `json:"ts"`
	Level        EventLevel        `json:"level"`
	Event        EventType         `json:"event"`
	RunID        string            `json:"run_id,omitempty"`
	ContentHash  string            `json:"content_hash,omitempty"`
	SrcPath      string            `json:"src_path,omitempty"`
	DestPath     string            `json:"dest_path,omitempty"`
	Action       string            `json:"action,omitempty"`
	Reason       string            `json:"reason,omitempty"`
	BytesWritten int64             `json:"bytes_written,omitempty"`
	Duration     int64             `json:"duration_ms,omitempty"` // in milliseconds
	Error        string            `json:"error,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// EventLogger writes events to a JSONL file
type EventLogger struct {
	file     *os.File
	encoder  *json.Encoder
	mu       sync.Mutex
	path     string
	minLevel EventLevel
	runID    string
}

// NewEventLogger creates a new event logger with a minimum log level
// minLevel determines which events are written (e.g., LevelInfo skips LevelDebug)
func NewEventLogger(outputDir string, minLevel EventLevel) (*EventLogger, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	timestamp := time.Now().Format("20060102-150405")
	filename := fmt.Sprintf("events-%s.jsonl", timestamp)
	path := filepath.Join(outputDir, filename)

	// Append so two runs within the same second share one log
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create event log: %w", err)
	}

	return &EventLogger{
		file:     file,
		encoder:  json.NewEncoder(file),
		path:     path,
		minLevel: minLevel,
	}, nil
}

// SetRunID stamps every subsequent event with runID
func (l *EventLogger) SetRunID(runID string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runID = runID
}

// Log writes an event to the JSONL file
func (l *EventLogger) Log(event *Event) error {
	if l == nil || l.file == nil {
		return nil // Silently ignore if logger not initialized
	}

	if levelPriority[event.Level] < levelPriority[l.minLevel] {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.RunID == "" {
		event.RunID = l.runID
	}

	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	return nil
}

// LogRun logs a run lifecycle event (start, commit, finish)
func (l *EventLogger) LogRun(action string, extra map[string]string) error {
	return l.Log(&Event{
		Level:  LevelInfo,
		Event:  EventRun,
		Action: action,
		Extra:  extra,
	})
}

// LogPlace logs a file placed into the library
func (l *EventLogger) LogPlace(hash, srcPath, destPath, mode string, bytesWritten int64, duration time.Duration) error {
	return l.Log(&Event{
		Level:        LevelInfo,
		Event:        EventPlace,
		ContentHash:  hash,
		SrcPath:      srcPath,
		DestPath:     destPath,
		Action:       mode,
		BytesWritten: bytesWritten,
		Duration:     duration.Milliseconds(),
	})
}

// LogPlan logs an intended placement during a dry run
func (l *EventLogger) LogPlan(hash, srcPath, destPath string) error {
	return l.Log(&Event{
		Level:       LevelInfo,
		Event:       EventPlan,
		ContentHash: hash,
		SrcPath:     srcPath,
		DestPath:    destPath,
	})
}

// LogRecover logs a ledger entry carried into this run's commit
func (l *EventLogger) LogRecover(hash, srcPath, destPath string) error {
	return l.Log(&Event{
		Level:       LevelInfo,
		Event:       EventRecover,
		ContentHash: hash,
		SrcPath:     srcPath,
		DestPath:    destPath,
	})
}

// LogSkip logs a file that was seen but not placed
func (l *EventLogger) LogSkip(srcPath, reason string) error {
	return l.Log(&Event{
		Level:   LevelDebug,
		Event:   EventSkip,
		SrcPath: srcPath,
		Reason:  reason,
	})
}

// LogDuplicate logs a file whose content is already in the library
func (l *EventLogger) LogDuplicate(hash, srcPath, existingPath string) error {
	return l.Log(&Event{
		Level:       LevelInfo,
		Event:       EventDuplicate,
		ContentHash: hash,
		SrcPath:     srcPath,
		DestPath:    existingPath,
	})
}

// LogConflict logs a name collision resolved by renaming
func (l *EventLogger) LogConflict(srcPath, destPath, reason string) error {
	return l.Log(&Event{
		Level:    LevelWarning,
		Event:    EventConflict,
		SrcPath:  srcPath,
		DestPath: destPath,
		Reason:   reason,
	})
}

// LogCommit logs the catalog batch commit
func (l *EventLogger) LogCommit(inserted int, duration time.Duration, err error) error {
	level := LevelInfo
	errMsg := ""
	if err != nil {
		level = LevelError
		errMsg = err.Error()
	}
	return l.Log(&Event{
		Level:    level,
		Event:    EventCommit,
		Duration: duration.Milliseconds(),
		Error:    errMsg,
		Extra: map[string]string{
			"inserted": fmt.Sprintf("%d", inserted),
		},
	})
}

// LogCache logs a cache tier change
func (l *EventLogger) LogCache(action, cachedPath, reason string, sizeBytes int64) error {
	return l.Log(&Event{
		Level:        LevelDebug,
		Event:        EventCache,
		Action:       action,
		DestPath:     cachedPath,
		Reason:       reason,
		BytesWritten: sizeBytes,
	})
}

// LogCueSheet logs a cue sheet seen in the source tree
func (l *EventLogger) LogCueSheet(srcPath string, segments int, err error) error {
	level := LevelInfo
	errMsg := ""
	if err != nil {
		level = LevelWarning
		errMsg = err.Error()
	}
	return l.Log(&Event{
		Level:   level,
		Event:   EventCueSheet,
		SrcPath: srcPath,
		Error:   errMsg,
		Extra: map[string]string{
			"segments": fmt.Sprintf("%d", segments),
		},
	})
}

// LogError logs an error event
func (l *EventLogger) LogError(event EventType, srcPath string, err error) error {
	return l.Log(&Event{
		Level:   LevelError,
		Event:   event,
		SrcPath: srcPath,
		Error:   err.Error(),
	})
}

// Close closes the event log file
func (l *EventLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.file.Close()
}

// Path returns the path to the event log file
func (l *EventLogger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// NullLogger returns a no-op event logger
func NullLogger() *EventLogger {
	return nil
}
