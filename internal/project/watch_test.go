package project

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return false
}

func TestWatch_ReloadsRegistry(t *testing.T) {
	path := writeConfig(t, "jobs:\n  backend:\n    secret: "+validSecret+"\n")

	_, jobs, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	reg := NewRegistry(jobs)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, reg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)

	// An invalid config keeps the previous jobs.
	if err := os.WriteFile(path, []byte("jobs:\n  backend:\n    secret: short\n"), 0640); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	if _, err := reg.Get("backend"); err != nil {
		t.Fatalf("Invalid reload should keep backend: %v", err)
	}

	updated := "jobs:\n  backend:\n    secret: " + validSecret + "\n  frontend:\n    secret: " + otherValidSecret + "\n"
	if err := os.WriteFile(path, []byte(updated), 0640); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	if !waitFor(t, func() bool { return reg.Count() == 2 }) {
		t.Fatalf("Registry was not reloaded, jobs: %v", reg.List())
	}
}

func TestWatch_StopsOnCancel(t *testing.T) {
	path := writeConfig(t, "")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, NewRegistry(nil), slog.New(slog.NewTextHandler(io.Discard, nil)))
	}()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
