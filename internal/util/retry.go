package util

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"syscall"
	"time"
)

// RetryConfig holds retry configuration
type RetryConfig struct {
	MaxAttempts int           // Maximum number of attempts (1 = no retries)
	InitialWait time.Duration // Initial wait duration, doubled each retry
	MaxWait     time.Duration // Maximum wait duration between retries
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts: 3,
		InitialWait: 100 * time.Millisecond,
		MaxWait:     5 * time.Second,
	}
}

// NetworkRetryConfig returns retry config for network-mounted storage
func NetworkRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts: 3,
		InitialWait: 200 * time.Millisecond,
		MaxWait:     10 * time.Second,
	}
}

var retryableErrnos = []syscall.Errno{
	syscall.EAGAIN,
	syscall.ETIMEDOUT,
	syscall.ECONNRESET,
	syscall.ECONNABORTED,
	syscall.ECONNREFUSED,
	syscall.ENETDOWN,
	syscall.ENETUNREACH,
	syscall.EHOSTDOWN,
	syscall.EHOSTUNREACH,
	syscall.EIO,
}

var transientPatterns = []string{
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"connection aborted",
	"broken pipe",
	"no route to host",
	"network is unreachable",
	"network is down",
	"host is down",
	"temporary failure",
	"resource temporarily unavailable",
	"i/o error",
	"too many open files",
}

// IsRetryableError reports whether err looks like a transient filesystem or network failure
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		for _, e := range retryableErrnos {
			if errno == e {
				return true
			}
		}
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// RetryWithBackoff runs operation until it succeeds, fails with a
// non-retryable error, exhausts cfg.MaxAttempts or ctx is cancelled.
func RetryWithBackoff[T any](ctx context.Context, cfg *RetryConfig, operationName string, operation func() (T, error)) (T, error) {
	var result T
	var err error

	if cfg == nil {
		cfg = DefaultRetryConfig()
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	wait := cfg.InitialWait
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err = operation()
		if err == nil {
			if attempt > 1 {
				DebugLog("Retry: %s succeeded on attempt %d/%d", operationName, attempt, attempts)
			}
			return result, nil
		}

		if !IsRetryableError(err) {
			return result, err
		}

		if attempt == attempts {
			if attempts > 1 {
				WarnLog("Retry: %s failed after %d attempts: %v", operationName, attempts, err)
				return result, fmt.Errorf("max retries exceeded (%d attempts): %w", attempts, err)
			}
			return result, err
		}

		DebugLog("Retry: %s failed (attempt %d/%d), retrying in %v: %v",
			operationName, attempt, attempts, wait, err)

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(wait):
		}

		wait *= 2
		if cfg.MaxWait > 0 && wait > cfg.MaxWait {
			wait = cfg.MaxWait
		}
	}

	return result, err
}

// Retry is RetryWithBackoff for operations without a result
func Retry(ctx context.Context, cfg *RetryConfig, operationName string, operation func() error) error {
	_, err := RetryWithBackoff(ctx, cfg, operationName, func() (struct{}, error) {
		return struct{}{}, operation()
	})
	return err
}

// RetryableOpen opens a file with retry logic
func RetryableOpen(ctx context.Context, path string, cfg *RetryConfig) (*os.File, error) {
	return RetryWithBackoff(ctx, cfg, "open("+path+")", func() (*os.File, error) {
		return os.Open(path)
	})
}

// RetryableCreate creates or truncates a file with retry logic
func RetryableCreate(ctx context.Context, path string, perm os.FileMode, cfg *RetryConfig) (*os.File, error) {
	return RetryWithBackoff(ctx, cfg, "create("+path+")", func() (*os.File, error) {
		return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	})
}

// RetryableStat stats a file with retry logic
func RetryableStat(ctx context.Context, path string, cfg *RetryConfig) (fs.FileInfo, error) {
	return RetryWithBackoff(ctx, cfg, "stat("+path+")", func() (fs.FileInfo, error) {
		return os.Stat(path)
	})
}

// RetryableRemove removes a file with retry logic; a missing file is not an error
func RetryableRemove(ctx context.Context, path string, cfg *RetryConfig) error {
	return Retry(ctx, cfg, "remove("+path+")", func() error {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	})
}

// RetryableRename renames a file with retry logic
func RetryableRename(ctx context.Context, oldpath, newpath string, cfg *RetryConfig) error {
	return Retry(ctx, cfg, "rename("+oldpath+" -> "+newpath+")", func() error {
		return os.Rename(oldpath, newpath)
	})
}
