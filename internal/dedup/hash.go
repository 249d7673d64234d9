// Package dedup detects exact-content duplicates by SHA-256 digest.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// DefaultBufferSize is used when HashReader is given a non-positive buffer size
const DefaultBufferSize = 128 * 1024

// HashFile computes the SHA-256 hex digest of the file at path
func HashFile(ctx context.Context, path string, bufferSize int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	sum, err := HashReader(ctx, f, bufferSize)
	if err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return sum, nil
}

// HashReader streams r through SHA-256 in bufferSize chunks, checking ctx
// between chunks so large files can be abandoned mid-read.
func HashReader(ctx context.Context, r io.Reader, bufferSize int) (string, error) {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	h := sha256.New()
	buf := make([]byte, bufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Available reports whether the SHA-256 implementation produces the
// expected digest. It is a startup capability check.
func Available() bool {
	const emptyDigest = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	sum := sha256.Sum256(nil)
	return hex.EncodeToString(sum[:]) == emptyDigest
}
