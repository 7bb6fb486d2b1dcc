package store

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// FileLock guards a data directory so only one warden process serves it.
type FileLock struct {
	fileLock   *flock.Flock
	lockPath   string
	acquiredAt time.Time
	mu         sync.Mutex
}

type FileLockConfig struct {
	Timeout time.Duration
	Retry   time.Duration
}

func NewFileLock(dataDir string, cfg FileLockConfig) (*FileLock, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry <= 0 {
		cfg.Retry = 100 * time.Millisecond
	}

	path := lockPath(dataDir)
	fl := &FileLock{
		fileLock: flock.New(path),
		lockPath: path,
	}

	deadline := time.Now().Add(cfg.Timeout)
	for {
		locked, err := fl.fileLock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("failed to attempt lock: %w", err)
		}
		if locked {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("data dir %s is locked by another instance (timeout after %v)",
				filepath.Dir(path), cfg.Timeout)
		}
		time.Sleep(cfg.Retry)
	}

	fl.acquiredAt = time.Now()
	slog.Info("File lock acquired", "path", path)
	return fl, nil
}

func (fl *FileLock) Unlock() {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.fileLock == nil {
		slog.Warn("File lock already released", "path", fl.lockPath)
		return
	}

	held := time.Since(fl.acquiredAt)
	if err := fl.fileLock.Unlock(); err != nil {
		slog.Error("Failed to release file lock", "path", fl.lockPath, "error", err)
	} else {
		slog.Info("File lock released", "path", fl.lockPath, "held_ms", held.Milliseconds())
	}

	fl.fileLock = nil
}

func (fl *FileLock) IsLocked() bool {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return fl.fileLock != nil
}
