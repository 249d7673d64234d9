package util

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// FormatBytes formats bytes in human-readable IEC units
func FormatBytes(bytes int64) string {
	if bytes < 0 {
		return "-" + humanize.IBytes(uint64(-bytes))
	}
	return humanize.IBytes(uint64(bytes))
}

// ParseBytes parses sizes such as "512MiB", "20GB" or a plain byte count
func ParseBytes(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("%w: size %q: %v", ErrInvalidConfig, s, err)
	}
	return int64(n), nil
}
