package watch

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sentra-hq/sentra/pkg/capture"
	"github.com/sentra-hq/sentra/pkg/engine"
	"github.com/sentra-hq/sentra/pkg/engine/swap"
)

const goodRule = `
rules:
  - rule: Netcat remote shell
    condition: proc.name = netcat
    output: "reverse shell"
    priority: CRITICAL
`

const brokenRule = `
rules:
  - rule: Broken
    condition: proc.name = and or
    output: "nope"
`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSwap(t *testing.T) *swap.Swappable {
	t.Helper()
	b := engine.NewBuilder(engine.NewConfig(), capture.New("test"), nil, quietLogger())
	sw := swap.New(b, quietLogger())
	if err := sw.Initialize(); err != nil {
		t.Fatal(err)
	}
	return sw
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestReloadLoadsDirectoryTree(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "base.yaml"), goodRule)
	writeFile(t, filepath.Join(dir, "extra", "more.yml"), goodRule)
	writeFile(t, filepath.Join(dir, "README.md"), "not a rule file")

	sw := testSwap(t)
	w := New(dir, sw, quietLogger())
	if err := w.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}

	eng, err := sw.Current()
	if err != nil {
		t.Fatal(err)
	}
	if eng.RuleCount() != 2 {
		t.Errorf("rules = %d, want 2", eng.RuleCount())
	}
}

func TestReloadFailureKeepsActiveGeneration(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "base.yaml"), goodRule)

	sw := testSwap(t)
	w := New(dir, sw, quietLogger())
	if err := w.Reload(); err != nil {
		t.Fatal(err)
	}
	active, _ := sw.Current()

	writeFile(t, filepath.Join(dir, "bad.yaml"), brokenRule)
	if err := w.Reload(); err == nil {
		t.Fatal("expected reload of a broken file to fail")
	}

	got, err := sw.Current()
	if err != nil {
		t.Fatal(err)
	}
	if got != active {
		t.Error("failed reload must not change the active generation")
	}
}

func TestRelevant(t *testing.T) {
	cases := []struct {
		ev   fsnotify.Event
		want bool
	}{
		{fsnotify.Event{Name: "/r/a.yaml", Op: fsnotify.Write}, true},
		{fsnotify.Event{Name: "/r/a.YML", Op: fsnotify.Create}, true},
		{fsnotify.Event{Name: "/r/a.yaml", Op: fsnotify.Chmod}, false},
		{fsnotify.Event{Name: "/r/notes.txt", Op: fsnotify.Write}, false},
		{fsnotify.Event{Name: "/r/subdir", Op: fsnotify.Create}, true},
		{fsnotify.Event{Name: "/r/subdir", Op: fsnotify.Remove}, true},
	}
	for _, tc := range cases {
		if got := relevant(tc.ev); got != tc.want {
			t.Errorf("relevant(%v %v) = %v, want %v", tc.ev.Op, tc.ev.Name, got, tc.want)
		}
	}
}

func TestRunReloadsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	sw := testSwap(t)
	w := New(dir, sw, quietLogger(), WithDebounce(20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher a moment to register the directory.
	time.Sleep(50 * time.Millisecond)
	promotedBefore, _, _ := sw.Stats()

	writeFile(t, filepath.Join(dir, "live.yaml"), goodRule)

	deadline := time.After(3 * time.Second)
	for {
		promoted, _, _ := sw.Stats()
		if promoted > promotedBefore {
			break
		}
		select {
		case <-deadline:
			t.Fatal("watcher never reloaded after a file write")
		case <-time.After(20 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}
