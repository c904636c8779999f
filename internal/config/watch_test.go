package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchUntil rewrites path with body until the watcher reports back, since
// the watch may not be armed when the first write lands.
func watchUntil(t *testing.T, path, body string, done <-chan struct{}) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(300 * time.Millisecond)
	defer tick.Stop()
	for {
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
		select {
		case <-done:
			return
		case <-deadline:
			t.Fatal("watcher did not report a reload")
		case <-tick.C:
		}
	}
}

func TestWatch_Reload(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "http:\n  port: 8080\n")

	ctx, cancel := context.WithCancel(context.Background())
	changes := make(chan Config, 8)
	stopped := make(chan error, 1)
	go func() {
		stopped <- Watch(ctx, path, func(c Config) { changes <- c }, func(err error) { t.Errorf("unexpected error: %v", err) })
	}()

	got := make(chan struct{})
	var cfg Config
	go func() {
		cfg = <-changes
		close(got)
	}()
	watchUntil(t, path, "http:\n  port: 9000\nlogging:\n  level: warn\n", got)

	if cfg.HTTP.Port != 9000 || cfg.Logging.Level != "warn" {
		t.Errorf("unexpected reloaded config %+v", cfg)
	}

	cancel()
	select {
	case err := <-stopped:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("watch did not stop on cancel")
	}
}

func TestWatch_InvalidFileReportsError(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "http:\n  port: 8080\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errs := make(chan error, 8)
	go func() {
		_ = Watch(ctx, path, func(c Config) { t.Errorf("invalid config applied: %+v", c) }, func(err error) { errs <- err })
	}()

	got := make(chan struct{})
	go func() {
		<-errs
		close(got)
	}()
	watchUntil(t, path, "http:\n  port: -1\n", got)
}

func TestWatch_MissingDirectory(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "nope", "x.yaml"), func(Config) {}, func(error) {})
	if err == nil {
		t.Fatal("expected error for a missing directory")
	}
}

func TestRelevant(t *testing.T) {
	path := filepath.Join("etc", "addrscore", "prod.yaml")
	tests := []struct {
		name  string
		event fsnotify.Event
		want  bool
	}{
		{"write", fsnotify.Event{Name: path, Op: fsnotify.Write}, true},
		{"create", fsnotify.Event{Name: path, Op: fsnotify.Create}, true},
		{"rename", fsnotify.Event{Name: path, Op: fsnotify.Rename}, true},
		{"chmod", fsnotify.Event{Name: path, Op: fsnotify.Chmod}, false},
		{"remove", fsnotify.Event{Name: path, Op: fsnotify.Remove}, false},
		{"sibling", fsnotify.Event{Name: filepath.Join("etc", "addrscore", "local.yaml"), Op: fsnotify.Write}, false},
		{"configmap swap", fsnotify.Event{Name: filepath.Join("etc", "addrscore", "..data"), Op: fsnotify.Create}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := relevant(tt.event, path); got != tt.want {
				t.Errorf("relevant(%v) = %v, want %v", tt.event, got, tt.want)
			}
		})
	}
}
