package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSubscribe_RejectsNilCallback(t *testing.T) {
	w, err := NewWatcher(50*time.Millisecond, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	cancel, err := w.Subscribe(filepath.Join(t.TempDir(), "x.sql"), nil)
	if !errors.Is(err, os.ErrInvalid) {
		t.Fatalf("expected os.ErrInvalid, got %v", err)
	}
	if cancel != nil {
		t.Fatal("expected nil cancel when callback is invalid")
	}
}

func TestNewWatcher_RejectsBadGlob(t *testing.T) {
	if _, err := NewWatcher(time.Millisecond, "[*.sql", nil); err == nil {
		t.Fatal("expected invalid include glob to fail")
	}
}

func TestWatcher_NotifiesSubscriber(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "100.sql")
	other := filepath.Join(dir, "200.sql")
	for _, p := range []string{target, other} {
		if err := os.WriteFile(p, []byte("SELECT 1;"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	w, err := NewWatcher(50*time.Millisecond, "*.sql", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	changed := make(chan string, 10)
	cancel, err := w.Subscribe(target, func(path string) { changed <- path })
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	// An unsubscribed sibling in the same directory must not trigger the callback.
	if err := os.WriteFile(other, []byte("SELECT 2;"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case p := <-changed:
		t.Fatalf("unexpected notification for %s", p)
	case <-time.After(300 * time.Millisecond):
	}

	if err := os.WriteFile(target, []byte("SELECT 3;"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case p := <-changed:
		abs, _ := filepath.Abs(target)
		if p != abs {
			t.Fatalf("expected %s, got %s", abs, p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change notification")
	}
}

func TestWatcher_CancelStopsNotifications(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "100.sql")
	if err := os.WriteFile(target, []byte("SELECT 1;"), 0o644); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(20*time.Millisecond, "*.sql", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	changed := make(chan string, 10)
	cancel, err := w.Subscribe(target, func(path string) { changed <- path })
	if err != nil {
		t.Fatal(err)
	}
	if w.Subscriptions() != 1 {
		t.Fatalf("expected 1 subscription, got %d", w.Subscriptions())
	}

	cancel()
	cancel()
	if w.Subscriptions() != 0 {
		t.Fatalf("expected 0 subscriptions after cancel, got %d", w.Subscriptions())
	}

	if err := os.WriteFile(target, []byte("SELECT 2;"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case p := <-changed:
		t.Fatalf("unexpected notification after cancel: %s", p)
	case <-time.After(300 * time.Millisecond):
	}
}
