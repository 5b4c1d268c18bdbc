package storage

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/joeycumines/behavioral/internal/blackboard"
)

type profile struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
}

func newBoard(t *testing.T) (*blackboard.Blackboard, *blackboard.TypeRegistry) {
	t.Helper()
	reg := blackboard.NewTypeRegistry()
	blackboard.MustRegister[profile](reg, "profile")
	return blackboard.New(blackboard.WithTypes(reg)), reg
}

func TestFileSystemBackend_SaveLoad(t *testing.T) {
	dir := t.TempDir()
	bb, reg := newBoard(t)
	if err := bb.Set("user", profile{Name: "ada", Age: 36}, "/agent"); err != nil {
		t.Fatal(err)
	}
	if err := bb.Set("turns", 3, ""); err != nil {
		t.Fatal(err)
	}

	backend, err := NewFileSystemBackend(dir, "thread-1")
	if err != nil {
		t.Fatalf("NewFileSystemBackend() error = %v", err)
	}

	s, err := backend.Load()
	if err != nil || s != nil {
		t.Fatalf("expected no snapshot, got %v, %v", s, err)
	}

	snap, err := Capture(bb)
	if err != nil {
		t.Fatal(err)
	}
	snap.Conversation = json.RawMessage(`{"messages":[]}`)
	if err := backend.Save(snap); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if snap.ThreadID != "thread-1" || snap.Version != CurrentSchemaVersion || snap.CreatedAt.IsZero() {
		t.Fatalf("snapshot was not stamped: %+v", snap)
	}
	if err := backend.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := os.Stat(LockFilePath(dir, "thread-1")); !os.IsNotExist(err) {
		t.Fatalf("expected the lock file to be removed, got %v", err)
	}

	// reopen, as a later process would
	backend, err = NewFileSystemBackend(dir, "thread-1")
	if err != nil {
		t.Fatal(err)
	}
	defer backend.Close()
	loaded, err := backend.Load()
	if err != nil || loaded == nil {
		t.Fatalf("Load() = %v, %v", loaded, err)
	}
	if string(loaded.Conversation) != `{"messages":[]}` {
		t.Errorf("unexpected conversation state %s", loaded.Conversation)
	}

	restored := blackboard.New(blackboard.WithTypes(reg))
	if err := loaded.Restore(restored); err != nil {
		t.Fatal(err)
	}
	v, ok := restored.Get("/agent/user", "")
	if !ok || v != (profile{Name: "ada", Age: 36}) {
		t.Errorf("restored user = %#v, %v", v, ok)
	}
	v, _ = restored.Get("turns", "")
	if v != 3 {
		t.Errorf("restored turns = %#v", v)
	}

	if err := backend.Delete(); err != nil {
		t.Fatal(err)
	}
	if err := backend.Delete(); err != nil {
		t.Fatalf("deleting a missing snapshot should succeed, got %v", err)
	}
	if s, _ := backend.Load(); s != nil {
		t.Fatal("expected the snapshot to be deleted")
	}
}

func TestFileSystemBackend_LockHeld(t *testing.T) {
	dir := t.TempDir()

	backend1, err := NewFileSystemBackend(dir, "locked")
	if err != nil {
		t.Fatalf("failed to create first backend: %v", err)
	}
	defer backend1.Close()

	_, err = NewFileSystemBackend(dir, "locked")
	if !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("expected ErrWouldBlock for a locked thread, got %v", err)
	}

	other, err := NewFileSystemBackend(dir, "other")
	if err != nil {
		t.Fatalf("other threads are not affected: %v", err)
	}
	_ = other.Close()
}

func TestFileSystemBackend_ThreadMismatch(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewFileSystemBackend(dir, "a")
	if err != nil {
		t.Fatal(err)
	}
	defer backend.Close()

	if err := backend.Save(&Snapshot{ThreadID: "b"}); !errors.Is(err, ErrThreadMismatch) {
		t.Fatalf("expected ErrThreadMismatch, got %v", err)
	}

	if err := os.WriteFile(SnapshotFilePath(dir, "a"), []byte(`{"thread_id":"b"}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := backend.Load(); !errors.Is(err, ErrThreadMismatch) {
		t.Fatalf("expected ErrThreadMismatch, got %v", err)
	}

	if err := os.WriteFile(SnapshotFilePath(dir, "a"), []byte(`{`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := backend.Load(); err == nil {
		t.Fatal("expected an error for a corrupt snapshot")
	}
}

func TestValidateThreadID(t *testing.T) {
	for _, id := range []string{"a", "thread-1", "2024.01_x"} {
		if err := ValidateThreadID(id); err != nil {
			t.Errorf("ValidateThreadID(%q) = %v", id, err)
		}
	}
	for _, id := range []string{"", "../x", "a/b", ".hidden", strings.Repeat("x", 200)} {
		if err := ValidateThreadID(id); err == nil {
			t.Errorf("ValidateThreadID(%q) should fail", id)
		}
	}
	if _, err := NewFileSystemBackend(t.TempDir(), "../escape"); err == nil {
		t.Fatal("expected an invalid thread ID to be rejected")
	}
}

func TestAtomicWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "file.json")

	if err := AtomicWriteFile(path, []byte("one"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := AtomicWriteFile(path, []byte("two"), 0600); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "two" {
		t.Fatalf("ReadFile = %q, %v", data, err)
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected no temp files to remain, got %v", entries)
	}
}

func TestMemoryBackend(t *testing.T) {
	store := NewMemoryStore()
	backend, err := NewMemoryBackend(store, "mem")
	if err != nil {
		t.Fatal(err)
	}

	snap := &Snapshot{Conversation: json.RawMessage(`[1]`)}
	if err := backend.Save(snap); err != nil {
		t.Fatal(err)
	}
	snap.Conversation[0] = '{'

	loaded, err := backend.Load()
	if err != nil || loaded == nil {
		t.Fatalf("Load() = %v, %v", loaded, err)
	}
	if string(loaded.Conversation) != `[1]` {
		t.Fatalf("the store must not share state with callers, got %s", loaded.Conversation)
	}
	if store.Threads() != 1 {
		t.Fatalf("expected one thread, got %d", store.Threads())
	}

	// another backend on the same store sees the snapshot
	again, _ := NewMemoryBackend(store, "mem")
	if s, _ := again.Load(); s == nil {
		t.Fatal("expected the snapshot to be shared through the store")
	}
	if err := again.Delete(); err != nil {
		t.Fatal(err)
	}
	if s, _ := backend.Load(); s != nil {
		t.Fatal("expected the snapshot to be deleted")
	}
	_ = backend.Close()
}

func TestOpen(t *testing.T) {
	t.Run("unknown backend returns error", func(t *testing.T) {
		if _, err := Open("nonexistent", Options{}, "t"); err == nil {
			t.Fatal("expected error for unknown backend")
		}
	})

	t.Run("memory backend succeeds", func(t *testing.T) {
		b, err := Open("memory", Options{}, "t")
		if err != nil {
			t.Fatalf("Open(memory) failed: %v", err)
		}
		_ = b.Close()
	})

	t.Run("fs backend succeeds", func(t *testing.T) {
		b, err := Open("fs", Options{Dir: t.TempDir()}, "t")
		if err != nil {
			t.Fatalf("Open(fs) failed: %v", err)
		}
		_ = b.Close()
	})

	t.Run("fs backend requires a directory", func(t *testing.T) {
		if _, err := Open("fs", Options{}, "t"); err == nil {
			t.Fatal("expected error without a directory")
		}
	})
}
