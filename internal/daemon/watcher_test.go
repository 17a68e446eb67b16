package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestInboxWatcher_Lifecycle(t *testing.T) {
	dir := t.TempDir()

	w, err := NewInboxWatcher()
	if err != nil {
		t.Fatalf("NewInboxWatcher() failed: %v", err)
	}
	if w.Watching() {
		t.Error("new watcher should not be watching")
	}

	if err := w.Watch(dir); err != nil {
		t.Fatalf("Watch() failed: %v", err)
	}
	if !w.Watching() {
		t.Error("watcher should be watching after Watch()")
	}
	if err := w.Watch(dir); err == nil {
		t.Error("second Watch() should fail")
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if w.Watching() {
		t.Error("watcher should not be watching after Close()")
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close() failed: %v", err)
	}
	if err := w.Watch(dir); err == nil {
		t.Error("Watch() after Close() should fail")
	}
	if _, ok := <-w.Drops(); ok {
		t.Error("Drops() should be closed")
	}
}

func TestInboxWatcher_CloseWithoutWatch(t *testing.T) {
	w, err := NewInboxWatcher()
	if err != nil {
		t.Fatalf("NewInboxWatcher() failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
}

func TestInboxWatcher_ReportsJSONOnly(t *testing.T) {
	dir := t.TempDir()

	w, err := NewInboxWatcher()
	if err != nil {
		t.Fatalf("NewInboxWatcher() failed: %v", err)
	}
	defer w.Close()

	if err := w.Watch(dir); err != nil {
		t.Fatalf("Watch() failed: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	want, _ := filepath.Abs(filepath.Join(dir, "delta.json"))
	if err := os.WriteFile(want, []byte("[]"), 0644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	select {
	case d := <-w.Drops():
		if d.Path != want {
			t.Errorf("drop path = %s, want %s", d.Path, want)
		}
		if d.Kind != DropArrived && d.Kind != DropUpdated {
			t.Errorf("drop kind = %s, want arrived or updated", d.Kind)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for drop")
	}
}

func TestDropKind_String(t *testing.T) {
	tests := []struct {
		kind DropKind
		want string
	}{
		{DropArrived, "arrived"},
		{DropUpdated, "updated"},
		{DropWithdrawn, "withdrawn"},
		{DropKind(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("DropKind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}
