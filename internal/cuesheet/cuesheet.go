// Package cuesheet parses CUE cue sheets that describe how one long audio
// file divides into tracks. Splitting is left to an external tool; this
// package only reads the sheet and computes segment offsets.
package cuesheet

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// FramesPerSecond is the CD frame rate used by INDEX timestamps
const FramesPerSecond = 75

// Sheet is a parsed cue sheet
type Sheet struct {
	Performer string
	Title     string
	File      string
	FileType  string
	Tracks    []Track
}

// Track is one TRACK block
type Track struct {
	Number    int
	Type      string
	Title     string
	Performer string
	File      string        // FILE in effect for this track
	Start     time.Duration // INDEX 01 offset
	HasStart  bool
}

// Segment is the playable span of one track
type Segment struct {
	Number    int
	Title     string
	Performer string
	File      string
	Start     time.Duration
	End       time.Duration // zero when open-ended (last track of a file)
}

// Duration returns End-Start, or zero when the segment is open-ended
func (s Segment) Duration() time.Duration {
	if s.End <= s.Start {
		return 0
	}
	return s.End - s.Start
}

// ParseFile parses the sheet at path
func ParseFile(path string) (*Sheet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cue sheet: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a cue sheet. Unknown commands (REM, CATALOG, FLAGS, ...) are
// ignored. A TRACK without INDEX 01 is an error.
func Parse(r io.Reader) (*Sheet, error) {
	sheet := &Sheet{}
	var current *Track
	currentFile := ""

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\ufeff"))
		if line == "" {
			continue
		}

		cmd, rest := splitCommand(line)
		switch cmd {
		case "FILE":
			name, typ := splitQuoted(rest)
			currentFile = name
			if sheet.File == "" {
				sheet.File = name
				sheet.FileType = typ
			}
		case "TITLE":
			title, _ := splitQuoted(rest)
			if current != nil {
				current.Title = title
			} else {
				sheet.Title = title
			}
		case "PERFORMER":
			performer, _ := splitQuoted(rest)
			if current != nil {
				current.Performer = performer
			} else {
				sheet.Performer = performer
			}
		case "TRACK":
			fields := strings.Fields(rest)
			if len(fields) < 1 {
				return nil, fmt.Errorf("line %d: TRACK without number", lineNo)
			}
			n, err := strconv.Atoi(fields[0])
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid track number %q", lineNo, fields[0])
			}
			typ := ""
			if len(fields) > 1 {
				typ = fields[1]
			}
			sheet.Tracks = append(sheet.Tracks, Track{Number: n, Type: typ, File: currentFile})
			current = &sheet.Tracks[len(sheet.Tracks)-1]
		case "INDEX":
			if current == nil {
				return nil, fmt.Errorf("line %d: INDEX outside TRACK", lineNo)
			}
			fields := strings.Fields(rest)
			if len(fields) != 2 {
				return nil, fmt.Errorf("line %d: malformed INDEX", lineNo)
			}
			if fields[0] != "01" && fields[0] != "1" {
				continue
			}
			d, err := ParseTimestamp(fields[1])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			current.Start = d
			current.HasStart = true
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read cue sheet: %w", err)
	}

	for _, t := range sheet.Tracks {
		if !t.HasStart {
			return nil, fmt.Errorf("track %02d has no INDEX 01", t.Number)
		}
	}

	return sheet, nil
}

// Segments returns one segment per track. A track ends where the next
// track on the same file starts; the last track on each file is
// open-ended. Performer falls back to the sheet performer.
func (s *Sheet) Segments() []Segment {
	segments := make([]Segment, 0, len(s.Tracks))
	for i, t := range s.Tracks {
		seg := Segment{
			Number:    t.Number,
			Title:     t.Title,
			Performer: t.Performer,
			File:      t.File,
			Start:     t.Start,
		}
		if seg.Performer == "" {
			seg.Performer = s.Performer
		}
		if i+1 < len(s.Tracks) && s.Tracks[i+1].File == t.File {
			seg.End = s.Tracks[i+1].Start
		}
		segments = append(segments, seg)
	}
	return segments
}

// ParseTimestamp converts mm:ss:ff (75 frames per second) to a duration
func ParseTimestamp(ts string) (time.Duration, error) {
	parts := strings.Split(ts, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid timestamp %q (want mm:ss:ff)", ts)
	}

	var vals [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("invalid timestamp %q", ts)
		}
		vals[i] = v
	}
	if vals[1] >= 60 || vals[2] >= FramesPerSecond {
		return 0, fmt.Errorf("invalid timestamp %q", ts)
	}

	frames := (vals[0]*60+vals[1])*FramesPerSecond + vals[2]
	return time.Duration(frames) * time.Second / FramesPerSecond, nil
}

// FormatTimestamp renders d as mm:ss:ff
func FormatTimestamp(d time.Duration) string {
	frames := int64((d*FramesPerSecond + time.Second/2) / time.Second)
	ff := frames % FramesPerSecond
	secs := frames / FramesPerSecond
	return fmt.Sprintf("%02d:%02d:%02d", secs/60, secs%60, ff)
}

func splitCommand(line string) (string, string) {
	cmd, rest, _ := strings.Cut(line, " ")
	return strings.ToUpper(cmd), strings.TrimSpace(rest)
}

// splitQuoted returns a possibly-quoted first argument and whatever follows
func splitQuoted(s string) (string, string) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, `"`) {
		if end := strings.Index(s[1:], `"`); end >= 0 {
			return s[1 : end+1], strings.TrimSpace(s[end+2:])
		}
		return strings.Trim(s, `"`), ""
	}
	first, rest, _ := strings.Cut(s, " ")
	return first, strings.TrimSpace(rest)
}
