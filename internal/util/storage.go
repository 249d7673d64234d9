package util

import (
	"fmt"
	"path/filepath"
)

// StorageInfo describes the filesystem backing a path
type StorageInfo struct {
	IsNetwork bool   // Whether the filesystem is network-mounted
	Protocol  string // nfs, cifs, smb... or empty if local
	MountPath string // Mount point of the filesystem
}

// Tuning holds I/O settings derived from the storage under source and target
type Tuning struct {
	Concurrency int
	BufferSize  int
	Retry       *RetryConfig
	Network     *StorageInfo
}

const (
	defaultBufferSize = 128 * 1024
	networkBufferSize = 256 * 1024
	networkMaxWorkers = 2
)

// DetectStorage checks whether path is on a network-mounted filesystem
func DetectStorage(path string) (*StorageInfo, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	return detectPlatformStorage(absPath)
}

// TuneForPaths picks worker count, copy buffer and retry policy for a run.
// Network storage gets fewer workers, larger buffers and retries; spinning or
// remote disks degrade under oversubscription.
func TuneForPaths(concurrency int, paths ...string) *Tuning {
	if concurrency <= 0 {
		concurrency = 4
	}
	t := &Tuning{
		Concurrency: concurrency,
		BufferSize:  defaultBufferSize,
		Retry:       &RetryConfig{MaxAttempts: 1},
	}

	for _, p := range paths {
		if p == "" {
			continue
		}
		info, err := DetectStorage(p)
		if err != nil {
			DebugLog("Storage detection failed for %s: %v", p, err)
			continue
		}
		if info.IsNetwork {
			t.Network = info
			break
		}
	}

	if t.Network != nil {
		if t.Concurrency > networkMaxWorkers {
			t.Concurrency = networkMaxWorkers
		}
		t.BufferSize = networkBufferSize
		t.Retry = NetworkRetryConfig()
		InfoLog("Network filesystem detected (%s at %s): %d workers, %s buffer, %d retries",
			t.Network.Protocol, t.Network.MountPath, t.Concurrency,
			FormatBytes(int64(t.BufferSize)), t.Retry.MaxAttempts)
	}

	return t
}
