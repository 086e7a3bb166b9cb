package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestWatcherReloadsOnSeedChange(t *testing.T) {
	dir := t.TempDir()
	seedPath := filepath.Join(dir, "seed.yaml")
	if err := os.WriteFile(seedPath, []byte("policies: []\n"), 0644); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	reloaded := make(chan struct{}, 1)
	w := NewWatcher(seedPath, func() {
		select {
		case reloaded <- struct{}{}:
		default:
		}
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(seedPath, []byte("policies: []\n# updated\n"), 0644); err != nil {
		t.Fatalf("rewrite seed: %v", err)
	}

	select {
	case <-reloaded:
	case <-time.After(5 * time.Second):
		t.Fatal("reload callback not invoked after seed change")
	}
}

func TestWatcherIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	seedPath := filepath.Join(dir, "seed.yaml")
	if err := os.WriteFile(seedPath, []byte("policies: []\n"), 0644); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	reloaded := make(chan struct{}, 1)
	w := NewWatcher(seedPath, func() { reloaded <- struct{}{} }, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0644); err != nil {
		t.Fatalf("write sibling: %v", err)
	}

	select {
	case <-reloaded:
		t.Fatal("reload triggered by an unrelated file")
	case <-time.After(time.Second):
	}
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	seedPath := filepath.Join(dir, "seed.yaml")
	if err := os.WriteFile(seedPath, []byte("policies: []\n"), 0644); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	w := NewWatcher(seedPath, func() {}, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	w.Stop()
	w.Stop()
}
