package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// IsSameFilesystem checks if two paths are on the same filesystem
// by comparing their device IDs (st_dev).
func IsSameFilesystem(path1, path2 string) (bool, error) {
	stat1, err := os.Stat(path1)
	if err != nil {
		return false, err
	}

	stat2, err := os.Stat(path2)
	if err != nil {
		return false, err
	}

	sysStat1, ok1 := stat1.Sys().(*syscall.Stat_t)
	sysStat2, ok2 := stat2.Sys().(*syscall.Stat_t)

	if !ok1 || !ok2 {
		// Unknown: report different so callers warn
		return false, nil
	}

	return sysStat1.Dev == sysStat2.Dev, nil
}

// DetectFilesystemCaseSensitivity probes dir by creating a mixed-case file
// and checking whether its lower-cased name resolves to the same file.
func DetectFilesystemCaseSensitivity(dir string) (bool, error) {
	probe, err := os.CreateTemp(dir, ".CaseProbe-*")
	if err != nil {
		return true, fmt.Errorf("failed to create probe file: %w", err)
	}
	name := probe.Name()
	probe.Close()
	defer os.Remove(name)

	lower := filepath.Join(filepath.Dir(name), strings.ToLower(filepath.Base(name)))
	if lower == name {
		return true, nil
	}

	_, err = os.Stat(lower)
	if err == nil {
		return false, nil
	}
	if os.IsNotExist(err) {
		return true, nil
	}
	return true, err
}

// NormalizePath cleans a path and lower-cases it on case-insensitive filesystems
// so it can be used as a collision key.
func NormalizePath(path string, caseSensitive bool) string {
	cleaned := filepath.Clean(path)
	if caseSensitive {
		return cleaned
	}
	return strings.ToLower(cleaned)
}

// IsWithin reports whether path is root itself or lies below it
func IsWithin(root, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
