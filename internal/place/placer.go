// Package place puts classified files into the library tree at
// <root>/<Artist>/<AlbumBucket>/<Title>.<ext>.
package place

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/franz/music-librarian/internal/classify"
	"github.com/franz/music-librarian/internal/dedup"
	"github.com/franz/music-librarian/internal/util"
)

// Mode selects how a file lands in the library
type Mode string

const (
	ModeCopy Mode = "copy"
	ModeLink Mode = "link"
)

// maxCollisions bounds the "Title (n)" search
const maxCollisions = 10000

// ParseMode validates a transfer mode name
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeCopy, "":
		return ModeCopy, nil
	case ModeLink:
		return ModeLink, nil
	}
	return "", fmt.Errorf("unknown transfer mode %q (want copy or link): %w", s, util.ErrInvalidConfig)
}

// Config holds placer configuration
type Config struct {
	Root          string
	Mode          Mode
	BufferSize    int               // Copy buffer size (0 = default)
	RetryConfig   *util.RetryConfig // nil = no retries
	CaseSensitive bool              // Target filesystem treats names case-sensitively
}

// Outcome describes where a file was (or would be) placed
type Outcome struct {
	CanonicalPath    string
	Duplicate        bool // identical content already sits at the target
	Renamed          bool // placed as "Title (n)" because the plain name was taken
	ArtistDirCreated bool
	AlbumDirCreated  bool
	BytesWritten     int64
}

// Placer places files under the library root. It is safe for concurrent
// use: target names are reserved in-process so two workers never pick the
// same free name.
type Placer struct {
	root          string
	mode          Mode
	bufferSize    int
	retryConfig   *util.RetryConfig
	caseSensitive bool

	mu       sync.Mutex
	reserved map[string]string // normalised path -> hash occupying it
	planned  map[string]bool   // directories a dry run would create
}

// New creates a Placer
func New(cfg Config) *Placer {
	if cfg.Mode == "" {
		cfg.Mode = ModeCopy
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 128 * 1024
	}
	if cfg.RetryConfig == nil {
		cfg.RetryConfig = &util.RetryConfig{MaxAttempts: 1}
	}
	return &Placer{
		root:          cfg.Root,
		mode:          cfg.Mode,
		bufferSize:    cfg.BufferSize,
		retryConfig:   cfg.RetryConfig,
		caseSensitive: cfg.CaseSensitive,
		reserved:      make(map[string]string),
		planned:       make(map[string]bool),
	}
}

// Mode returns the transfer mode
func (p *Placer) Mode() Mode {
	return p.mode
}

// Occupy marks path as held by hash before any disk check. Catalog entries
// are occupied this way so a deleted library file does not free its name
// for different content.
func (p *Placer) Occupy(path, hash string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reserved[util.NormalizePath(path, p.caseSensitive)] = hash
}

// Place transfers src into the library. On error nothing is left at the
// target and its name is released for reuse.
func (p *Placer) Place(ctx context.Context, src string, c classify.Result, hash string) (*Outcome, error) {
	artistDir := filepath.Join(p.root, c.Artist)
	albumDir := filepath.Join(artistDir, c.AlbumBucket)

	if err := util.Retry(ctx, p.retryConfig, "mkdir("+p.root+")", func() error {
		return os.MkdirAll(p.root, 0755)
	}); err != nil {
		return nil, fmt.Errorf("failed to create library root: %w", err)
	}

	out := &Outcome{}
	var err error
	if out.ArtistDirCreated, err = p.mkdirTracked(ctx, artistDir); err != nil {
		return nil, err
	}
	if out.AlbumDirCreated, err = p.mkdirTracked(ctx, albumDir); err != nil {
		return nil, err
	}

	target, duplicate, err := p.resolve(ctx, albumDir, c, hash, true)
	if err != nil {
		return nil, err
	}
	out.CanonicalPath = target
	out.Renamed = renamed(target, c)
	if duplicate {
		out.Duplicate = true
		return out, nil
	}

	switch p.mode {
	case ModeLink:
		err = p.linkFile(ctx, src, target)
	default:
		out.BytesWritten, err = p.copyFile(ctx, src, target)
	}
	if err != nil {
		p.release(target)
		return nil, err
	}

	return out, nil
}

// Plan computes the target Place would use without writing anything.
// Names chosen by earlier Plan calls count as taken.
func (p *Placer) Plan(ctx context.Context, c classify.Result, hash string) (*Outcome, error) {
	artistDir := filepath.Join(p.root, c.Artist)
	albumDir := filepath.Join(artistDir, c.AlbumBucket)

	out := &Outcome{
		ArtistDirCreated: p.planDir(artistDir),
		AlbumDirCreated:  p.planDir(albumDir),
	}

	target, duplicate, err := p.resolve(ctx, albumDir, c, hash, false)
	if err != nil {
		return nil, err
	}
	out.CanonicalPath = target
	out.Renamed = renamed(target, c)
	out.Duplicate = duplicate
	return out, nil
}

// resolve finds the first name in dir that is free or already holds hash.
// An existing file with other content pushes the search to "Title (n)".
func (p *Placer) resolve(ctx context.Context, dir string, c classify.Result, hash string, checkDisk bool) (string, bool, error) {
	for n := 0; n < maxCollisions; n++ {
		candidate := filepath.Join(dir, fileName(c.Title, c.Extension, n))
		key := util.NormalizePath(candidate, p.caseSensitive)

		p.mu.Lock()
		if owner, taken := p.reserved[key]; taken {
			p.mu.Unlock()
			if owner == hash {
				return candidate, true, nil
			}
			continue
		}
		// Hold the name while the disk is checked
		p.reserved[key] = hash
		p.mu.Unlock()

		existingHash, exists, err := p.existing(ctx, candidate)
		if err != nil {
			p.release(candidate)
			return "", false, err
		}
		if !exists {
			return candidate, false, nil
		}
		if existingHash == hash {
			return candidate, true, nil
		}

		p.mu.Lock()
		p.reserved[key] = existingHash
		p.mu.Unlock()
	}
	return "", false, fmt.Errorf("no free name for %q in %s: %w", c.Title, dir, util.ErrConflict)
}

// existing hashes whatever is at path. A dangling symlink counts as
// occupied with unknown content.
func (p *Placer) existing(ctx context.Context, path string) (string, bool, error) {
	if _, err := os.Lstat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to stat target: %w", err)
	}

	hash, err := dedup.HashFile(ctx, path, p.bufferSize)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", true, nil
		}
		return "", false, fmt.Errorf("failed to hash existing target: %w", err)
	}
	return hash, true, nil
}

func (p *Placer) release(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.reserved, util.NormalizePath(path, p.caseSensitive))
}

// mkdirTracked creates dir and reports whether this call created it.
// os.Mkdir is atomic, so exactly one concurrent caller sees true.
func (p *Placer) mkdirTracked(ctx context.Context, dir string) (bool, error) {
	created := false
	err := util.Retry(ctx, p.retryConfig, "mkdir("+dir+")", func() error {
		err := os.Mkdir(dir, 0755)
		switch {
		case err == nil:
			created = true
			return nil
		case errors.Is(err, os.ErrExist):
			return nil
		}
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to create directory: %w", err)
	}

	info, err := os.Stat(dir)
	if err != nil {
		return false, fmt.Errorf("failed to stat directory: %w", err)
	}
	if !info.IsDir() {
		return false, fmt.Errorf("%s exists and is not a directory: %w", dir, util.ErrConflict)
	}
	return created, nil
}

// planDir reports whether a dry run would create dir, remembering the answer
// so only the first file under a new directory counts it
func (p *Placer) planDir(dir string) bool {
	key := util.NormalizePath(dir, p.caseSensitive)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.planned[key] {
		return false
	}
	p.planned[key] = true

	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return false
	}
	return true
}

func renamed(target string, c classify.Result) bool {
	return filepath.Base(target) != fileName(c.Title, c.Extension, 0)
}

func fileName(title, ext string, n int) string {
	name := title
	if n > 0 {
		name = fmt.Sprintf("%s (%d)", title, n)
	}
	if ext != "" {
		name += "." + ext
	}
	return name
}
