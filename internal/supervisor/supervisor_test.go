//go:build !windows

package supervisor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"canopy/internal/watcher"
)

func TestSupervisorRequiresCommand(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("expected empty command to be rejected")
	}
}

func TestSupervisorStartAndClose(t *testing.T) {
	s, err := New(Options{Command: []string{"/bin/sh", "-c", "sleep 30"}})
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !s.Running() {
		t.Fatal("expected a running child after start")
	}

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if s.Running() {
		t.Fatal("expected no child after close")
	}

	if err := s.Start(); err == nil {
		t.Fatal("expected start after close to fail")
	}
}

func TestSupervisorCoalescesTriggers(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "starts.log")
	script := "echo started >> " + marker + "; sleep 30"

	s, err := New(Options{
		Command:      []string{"/bin/sh", "-c", script},
		RestartDelay: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForStartCount(t, marker, 1)

	event := watcher.Event{Type: watcher.EventChange, Path: "/data/a.txt"}
	s.Trigger(event)
	s.Trigger(event)
	s.Trigger(event)

	waitForStartCount(t, marker, 2)

	// A settled burst produces exactly one restart.
	time.Sleep(300 * time.Millisecond)
	if count := startCount(t, marker); count != 2 {
		t.Fatalf("expected 2 starts, got %d", count)
	}
}

func TestSupervisorTriggerAfterCloseIsIgnored(t *testing.T) {
	s, err := New(Options{
		Command:      []string{"/bin/sh", "-c", "sleep 30"},
		RestartDelay: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s.Trigger(watcher.Event{Type: watcher.EventChange, Path: "/data/a.txt"})
	time.Sleep(150 * time.Millisecond)
	if s.Running() {
		t.Fatal("expected no restart after close")
	}
}

func startCount(t *testing.T, marker string) int {
	t.Helper()
	data, err := os.ReadFile(marker)
	if err != nil {
		if os.IsNotExist(err) {
			return 0
		}
		t.Fatalf("read marker: %v", err)
	}
	return strings.Count(string(data), "started")
}

func waitForStartCount(t *testing.T, marker string, expected int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if startCount(t, marker) >= expected {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d starts, have %d", expected, startCount(t, marker))
}
