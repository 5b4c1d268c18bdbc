package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileSystemBackend stores snapshots as JSON files in a directory. It holds
// an exclusive lock on its thread while open, so two processes cannot run
// the same thread at once.
type FileSystemBackend struct {
	dir      string
	threadID string
	lockFile *os.File
}

var _ Backend = (*FileSystemBackend)(nil)

// NewFileSystemBackend opens the thread's snapshot in dir, acquiring the
// thread lock. It fails with [ErrWouldBlock] if the lock is held elsewhere.
func NewFileSystemBackend(dir, threadID string) (*FileSystemBackend, error) {
	if err := ValidateThreadID(threadID); err != nil {
		return nil, err
	}
	if dir == "" {
		return nil, fmt.Errorf("storage: directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	lockFile, err := acquireFileLock(LockFilePath(dir, threadID))
	if err != nil {
		return nil, fmt.Errorf("failed to acquire thread lock: %w", err)
	}
	return &FileSystemBackend{dir: dir, threadID: threadID, lockFile: lockFile}, nil
}

// SnapshotFilePath returns the snapshot file of threadID within dir.
func SnapshotFilePath(dir, threadID string) string {
	return filepath.Join(dir, threadID+".snapshot.json")
}

// LockFilePath returns the lock file of threadID within dir.
func LockFilePath(dir, threadID string) string {
	return filepath.Join(dir, threadID+".lock")
}

func (b *FileSystemBackend) Load() (*Snapshot, error) {
	data, err := os.ReadFile(SnapshotFilePath(b.dir, b.threadID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	if s.ThreadID != b.threadID {
		return nil, fmt.Errorf("%w: file for %q holds %q", ErrThreadMismatch, b.threadID, s.ThreadID)
	}
	return &s, nil
}

func (b *FileSystemBackend) Save(s *Snapshot) error {
	if err := stamp(s, b.threadID); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := AtomicWriteFile(SnapshotFilePath(b.dir, b.threadID), data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot file: %w", err)
	}
	return nil
}

func (b *FileSystemBackend) Delete() error {
	err := os.Remove(SnapshotFilePath(b.dir, b.threadID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

// Close releases the thread lock.
func (b *FileSystemBackend) Close() error {
	if b.lockFile == nil {
		return nil
	}
	if err := releaseFileLock(b.lockFile); err != nil {
		return fmt.Errorf("failed to release thread lock: %w", err)
	}
	b.lockFile = nil
	return nil
}
