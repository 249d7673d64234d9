// Package scan enumerates candidate audio files under a source root.
package scan

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/franz/music-librarian/internal/util"
)

// AudioExtensions are the default supported audio file extensions
var AudioExtensions = []string{
	".mp3",
	".flac",
	".m4a",
	".aac",
	".ogg",
	".opus",
	".wav",
	".aiff",
	".aif",
	".wma",
	".ape",
	".wv",  // WavPack
	".mpc", // Musepack
}

// CueExtension marks cue sheets, which are seen but never placed
const CueExtension = ".cue"

// Skip reasons
const (
	SkipNonAudio   = "non-audio"
	SkipTooSmall   = "below-min-size"
	SkipCueSheet   = "cue-sheet"
	SkipNotRegular = "not-regular"
)

// Candidate is an audio file eligible for placement
type Candidate struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// Skipped is a file that was seen but will not be placed
type Skipped struct {
	Path   string
	Reason string
}

// Result is the outcome of one enumeration
type Result struct {
	Candidates []Candidate
	Skipped    []Skipped
	CueSheets  []string
	Errors     []error
	TotalBytes int64 // Sum of candidate sizes
}

// FilesSeen counts every regular file the walk visited
func (r *Result) FilesSeen() int {
	return len(r.Candidates) + len(r.Skipped)
}

// Scanner discovers audio files in a directory tree
type Scanner struct {
	extensions   map[string]bool
	minSize      int64
	exclude      []string
	showProgress bool
}

// Config holds scanner configuration
type Config struct {
	AdditionalExts []string
	MinSize        int64    // Files smaller than this are skipped
	Exclude        []string // Directory trees never descended into (e.g. the library root)
	ShowProgress   bool
}

// New creates a new Scanner
func New(cfg *Config) *Scanner {
	extMap := make(map[string]bool)
	for _, ext := range AudioExtensions {
		extMap[strings.ToLower(ext)] = true
	}
	for _, ext := range cfg.AdditionalExts {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		extMap[strings.ToLower(ext)] = true
	}

	exclude := make([]string, 0, len(cfg.Exclude))
	for _, dir := range cfg.Exclude {
		if dir == "" {
			continue
		}
		if abs, err := filepath.Abs(dir); err == nil {
			exclude = append(exclude, abs)
		}
	}

	return &Scanner{
		extensions:   extMap,
		minSize:      cfg.MinSize,
		exclude:      exclude,
		showProgress: cfg.ShowProgress,
	}
}

// Scan walks sourcePath and classifies every regular file as a candidate
// or a skip. Candidates are returned in lexical path order so runs are
// reproducible. Unreadable entries are recorded and the walk continues.
func (s *Scanner) Scan(ctx context.Context, sourcePath string) (*Result, error) {
	util.InfoLog("Starting scan of: %s", sourcePath)

	result := &Result{}

	var bar *progressbar.ProgressBar
	if s.showProgress && util.IsTerminal(os.Stdout.Fd()) && !util.IsQuiet() {
		bar = progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("Scanning"),
			progressbar.OptionSetWidth(util.ProgressBarWidth()),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("files"),
			progressbar.OptionThrottle(200*time.Millisecond),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetRenderBlankState(true),
		)
	}

	walkErr := filepath.WalkDir(sourcePath, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			util.WarnLog("Error accessing path %s: %v", path, err)
			result.Errors = append(result.Errors, fmt.Errorf("access error: %s: %w", path, err))
			return nil
		}

		if d.IsDir() {
			if path != sourcePath && s.excluded(path) {
				util.DebugLog("Skipping excluded directory: %s", path)
				return filepath.SkipDir
			}
			return nil
		}

		if bar != nil {
			bar.Add(1)
		}

		s.visit(path, d, result)
		return nil
	})

	if bar != nil {
		bar.Finish()
	}

	sort.Slice(result.Candidates, func(i, j int) bool {
		return result.Candidates[i].Path < result.Candidates[j].Path
	})

	if walkErr != nil {
		return result, fmt.Errorf("walk error: %w", walkErr)
	}

	util.SuccessLog("Scan complete: %d candidates (%s), %d skipped, %d cue sheets, %d errors",
		len(result.Candidates), util.FormatBytes(result.TotalBytes), len(result.Skipped),
		len(result.CueSheets), len(result.Errors))

	return result, nil
}

func (s *Scanner) visit(path string, d fs.DirEntry, result *Result) {
	ext := strings.ToLower(filepath.Ext(path))

	if ext == CueExtension {
		result.CueSheets = append(result.CueSheets, path)
		result.Skipped = append(result.Skipped, Skipped{Path: path, Reason: SkipCueSheet})
		return
	}

	if !s.isAudioFile(path) {
		result.Skipped = append(result.Skipped, Skipped{Path: path, Reason: SkipNonAudio})
		return
	}

	// Stat follows symlinks so linked audio files are still candidates
	info, err := os.Stat(path)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Errorf("stat error: %s: %w", path, err))
		return
	}
	if !info.Mode().IsRegular() {
		result.Skipped = append(result.Skipped, Skipped{Path: path, Reason: SkipNotRegular})
		return
	}

	if info.Size() < s.minSize {
		util.DebugLog("Below minimum size (%s): %s", util.FormatBytes(info.Size()), path)
		result.Skipped = append(result.Skipped, Skipped{Path: path, Reason: SkipTooSmall})
		return
	}

	result.Candidates = append(result.Candidates, Candidate{
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	})
	result.TotalBytes += info.Size()
}

func (s *Scanner) excluded(dir string) bool {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	for _, ex := range s.exclude {
		if abs == ex {
			return true
		}
	}
	return false
}

// isAudioFile checks if a file has a supported audio extension. AppleDouble
// sidecars ("._name.mp3") carry an audio extension but no audio.
func (s *Scanner) isAudioFile(path string) bool {
	if strings.HasPrefix(filepath.Base(path), "._") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(path))
	return s.extensions[ext]
}

// SupportedExtensions returns the sorted list of supported extensions
func (s *Scanner) SupportedExtensions() []string {
	exts := make([]string, 0, len(s.extensions))
	for ext := range s.extensions {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}
