// Package classify derives (artist, title, album bucket) from a filename.
//
// Classification is purely filename-driven: embedded tags are never read.
// It never fails; unrecognised names fall back to "Unknown Artist" and the
// whole basename as title, flagged Ambiguous so callers can warn.
package classify

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Version identifies the heuristic rule set. It is stored on every catalog
// row so rows classified by older rules can be selected later.
const Version = 1

const (
	UnknownArtist = "Unknown Artist"

	BucketRemixes      = "Remixes & Edits"
	BucketLive         = "Live & Acoustic"
	BucketCompilations = "Compilations"
	BucketSinglesEdits = "Singles & Edits"
	BucketSingles      = "Singles"
)

// Result holds the classified triple for one file
type Result struct {
	Artist      string
	Title       string
	AlbumBucket string
	Extension   string // lower-case, without the dot
	Ambiguous   bool   // no "Artist - Title" separator was found
}

var (
	// "05 - ", "5. ", "05_", "05) " leading track numbers. A bare number
	// followed by a space only counts when zero-padded ("01 "), so names
	// like "50 Cent" and "2 Chainz" keep their digits.
	trackPrefix = regexp.MustCompile(`^\s*\d{1,3}\s*[-._)]\s*|^\s*0\d{1,2}\s+`)

	// Secondary artist delimiters: "A, B", "A feat. B", "A ft. B", "A featuring B"
	featDelimiter = regexp.MustCompile(`(?i)\s*(,|\(?\bfeat(\.|uring\b|\b)|\(?\bft\.)\s*\S`)
)

// bucketRule maps a keyword pattern to an album bucket. Rules are tried in
// order and the first match wins.
type bucketRule struct {
	bucket     string
	pattern    *regexp.Regexp
	onFilename bool // match against the original filename instead of the title
}

var bucketRules = []bucketRule{
	// "Extended Mix" / "Radio Edit" are release versions, not remixes
	{bucket: BucketSinglesEdits, pattern: regexp.MustCompile(`(?i)\bextended\s+(mix|edit|version)\b|\bradio[\s_-]+edit\b`)},
	{bucket: BucketRemixes, pattern: regexp.MustCompile(`(?i)remix|rework|\bmix(es)?\b|\bedits?\b`)},
	{bucket: BucketLive, pattern: regexp.MustCompile(`(?i)\b(live|acoustic|unplugged)\b`)},
	{bucket: BucketCompilations, pattern: regexp.MustCompile(`(?i)compilation|collection|best[\s_-]*of\b`), onFilename: true},
	{bucket: BucketSinglesEdits, pattern: regexp.MustCompile(`(?i)\bextended\b|\bradio[\s_-]*edit\b`)},
}

// Classify derives the artist, title and album bucket from a file name or
// path. Only the basename is parsed; the extension is excluded.
func Classify(name string) Result {
	base := filepath.Base(name)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	res := Result{Extension: strings.ToLower(strings.TrimPrefix(ext, "."))}

	rest := stripTrackPrefix(stem)

	left, right, found := strings.Cut(rest, " - ")
	if found {
		res.Artist = primaryArtist(left)
		res.Title = strings.TrimSpace(right)
	} else {
		res.Artist = UnknownArtist
		res.Title = strings.TrimSpace(rest)
		res.Ambiguous = true
	}

	res.AlbumBucket = Bucket(res.Title, base)

	res.Artist = Sanitize(res.Artist)
	if res.Artist == "" {
		res.Artist = UnknownArtist
	}
	res.Title = Sanitize(res.Title)
	if res.Title == "" {
		res.Title = Sanitize(stem)
	}
	if res.Title == "" {
		res.Title = "Untitled"
	}
	res.AlbumBucket = Sanitize(res.AlbumBucket)

	return res
}

// Bucket applies the ordered bucket rules to a title and the original filename
func Bucket(title, filename string) string {
	for _, rule := range bucketRules {
		subject := title
		if rule.onFilename {
			subject = filename
		}
		if rule.pattern.MatchString(subject) {
			return rule.bucket
		}
	}
	return BucketSingles
}

// stripTrackPrefix removes a leading track number. A name that is nothing
// but digits is left alone so it can still serve as a title.
func stripTrackPrefix(stem string) string {
	loc := trackPrefix.FindStringIndex(stem)
	if loc == nil || loc[1] >= len(stem) {
		return stem
	}
	return stem[loc[1]:]
}

// primaryArtist keeps only the portion before a secondary-artist delimiter.
// The featured artist is discarded on purpose.
func primaryArtist(s string) string {
	s = strings.TrimSpace(s)
	if loc := featDelimiter.FindStringIndex(s); loc != nil && loc[0] > 0 {
		s = s[:loc[0]]
	}
	return strings.TrimSpace(s)
}
