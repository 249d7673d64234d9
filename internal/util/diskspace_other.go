//go:build !unix

package util

import "fmt"

// FreeBytes is not implemented on this platform
func FreeBytes(path string) (uint64, error) {
	return 0, fmt.Errorf("%w: free space check on %s", ErrUnsupported, path)
}
