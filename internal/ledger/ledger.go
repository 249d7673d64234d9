// Package ledger is the append-only record of placed files that makes an
// interrupted run recoverable.
//
// Each line is one JSON object. A line is written and fsynced after its file
// has been placed, so on restart every entry whose canonical file exists can
// be committed without re-reading the source. A torn final line from a crash
// is ignored.
package ledger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry is one placed file
type Entry struct {
	SourcePath    string    `json:"source_path"`
	CanonicalPath string    `json:"canonical_path"`
	ContentHash   string    `json:"content_hash"`
	Timestamp     time.Time `json:"timestamp"`
	Artist        string    `json:"artist"`
	AlbumBucket   string    `json:"album_bucket"`
	Title         string    `json:"title"`
	Extension     string    `json:"extension"`
	SizeBytes     int64     `json:"size_bytes"`
	Format        string    `json:"format,omitempty"`
	RunID         string    `json:"run_id"`
}

// Ledger appends entries to a JSONL file. Append is safe for concurrent use.
type Ledger struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// Open opens (creating if needed) the ledger at path for appending
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	l := &Ledger{file: f, path: path}
	if err := l.terminateTornLine(); err != nil {
		f.Close()
		return nil, err
	}
	return l, nil
}

// terminateTornLine appends a newline when the file does not end with one,
// so a partial line left by a crash cannot merge with the next entry.
func (l *Ledger) terminateTornLine() error {
	info, err := l.file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat ledger: %w", err)
	}
	if info.Size() == 0 {
		return nil
	}

	r, err := os.Open(l.path)
	if err != nil {
		return fmt.Errorf("failed to read ledger: %w", err)
	}
	defer r.Close()

	last := make([]byte, 1)
	if _, err := r.ReadAt(last, info.Size()-1); err != nil {
		return fmt.Errorf("failed to read ledger: %w", err)
	}
	if last[0] == '\n' {
		return nil
	}
	_, err = l.file.Write([]byte{'\n'})
	return err
}

// Path returns the ledger file path
func (l *Ledger) Path() string {
	return l.path
}

// Append writes one entry and syncs it to disk before returning
func (l *Ledger) Append(e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode ledger entry: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return os.ErrClosed
	}
	if _, err := l.file.Write(data); err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync ledger: %w", err)
	}
	return nil
}

// Close closes the ledger file. Closing twice is a no-op.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// ReadAll returns every decodable entry in the ledger at path, in file
// order, plus the number of malformed lines that were skipped. A missing
// ledger is an empty ledger.
func ReadAll(path string) ([]Entry, int, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open ledger: %w", err)
	}
	defer f.Close()

	var entries []Entry
	skipped := 0

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil || e.ContentHash == "" || e.CanonicalPath == "" {
			skipped++
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return entries, skipped, fmt.Errorf("failed to read ledger: %w", err)
	}
	return entries, skipped, nil
}

// Prune rewrites the ledger at path keeping only entries for which keep
// returns true. The rewrite goes through a temp file and rename so a crash
// leaves either the old or the new ledger. Prune must not run while a
// Ledger holds the file open for appending.
func Prune(path string, keep func(Entry) bool) (removed int, err error) {
	entries, _, err := ReadAll(path)
	if err != nil {
		return 0, err
	}

	var buf bytes.Buffer
	for _, e := range entries {
		if keep != nil && keep(e) {
			data, err := json.Marshal(e)
			if err != nil {
				return 0, fmt.Errorf("failed to encode ledger entry: %w", err)
			}
			buf.Write(data)
			buf.WriteByte('\n')
			continue
		}
		removed++
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, fmt.Errorf("failed to create ledger directory: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to create ledger temp file: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		os.Remove(tmp)
		return 0, fmt.Errorf("failed to write ledger: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return 0, fmt.Errorf("failed to sync ledger: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return 0, err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("failed to replace ledger: %w", err)
	}
	return removed, nil
}
