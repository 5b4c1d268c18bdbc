// Package storage persists blackboard snapshots, one per conversation thread.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/joeycumines/behavioral/internal/blackboard"
)

// CurrentSchemaVersion is written to every saved snapshot.
const CurrentSchemaVersion = "1"

// ErrThreadMismatch is returned when a backend is used for a thread other
// than the one it was opened for.
var ErrThreadMismatch = errors.New("storage: thread mismatch")

// Snapshot is the persisted state of one conversation thread.
type Snapshot struct {
	Version    string           `json:"version"`
	ThreadID   string           `json:"thread_id"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
	Blackboard blackboard.State `json:"blackboard"`
	// Conversation is opaque to this package.
	Conversation json.RawMessage `json:"conversation,omitempty"`
}

// Backend loads and saves the snapshot of the thread it was opened for.
type Backend interface {
	// Load returns (nil, nil) if the thread has no snapshot.
	Load() (*Snapshot, error)
	// Save atomically replaces the thread's snapshot.
	Save(s *Snapshot) error
	// Delete removes the thread's snapshot, if any.
	Delete() error
	// Close releases any resources held for the thread, such as locks.
	Close() error
}

var validThreadID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidateThreadID rejects IDs that are empty or unsafe as file names.
func ValidateThreadID(id string) error {
	if !validThreadID.MatchString(id) {
		return fmt.Errorf("storage: invalid thread ID %q", id)
	}
	return nil
}

// stamp prepares s for saving under threadID.
func stamp(s *Snapshot, threadID string) error {
	if s.ThreadID == "" {
		s.ThreadID = threadID
	}
	if s.ThreadID != threadID {
		return fmt.Errorf("%w: backend is for %q, snapshot has %q", ErrThreadMismatch, threadID, s.ThreadID)
	}
	now := time.Now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	s.Version = CurrentSchemaVersion
	return nil
}

// Capture exports bb into a new snapshot.
func Capture(bb *blackboard.Blackboard) (*Snapshot, error) {
	state, err := bb.Export()
	if err != nil {
		return nil, fmt.Errorf("failed to export blackboard: %w", err)
	}
	return &Snapshot{Blackboard: state}, nil
}

// Restore merges the snapshot's blackboard state into bb.
func (s *Snapshot) Restore(bb *blackboard.Blackboard) error {
	if err := bb.Import(s.Blackboard); err != nil {
		return fmt.Errorf("failed to import blackboard: %w", err)
	}
	return nil
}
