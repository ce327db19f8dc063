package config

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "notify:\n  url: \"ws://127.0.0.1:8090/ws\"\n")
	initial, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	type change struct {
		url     string
		changed []string
	}
	changes := make(chan change, 4)
	w, err := NewWatcher(path, initial, func(_, cur *Config, changed []string) {
		changes <- change{url: cur.Notify.URL, changed: changed}
	}, nil)
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}
	w.SetDebounce(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher a moment to start receiving before writing.
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte("notify:\n  url: \"ws://10.0.0.2:8090/ws\"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-changes:
		if c.url != "ws://10.0.0.2:8090/ws" {
			t.Errorf("reloaded url = %q", c.url)
		}
		if len(c.changed) == 0 || c.changed[0] != "notify.url" {
			t.Errorf("changed = %v, want notify.url first", c.changed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no reload within 2s")
	}
	if got := w.Current().Notify.URL; got != "ws://10.0.0.2:8090/ws" {
		t.Errorf("Current().Notify.URL = %q", got)
	}
}

func TestWatcherKeepsPreviousOnInvalid(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "notify:\n  url: \"ws://127.0.0.1:8090/ws\"\n")
	initial, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	called := make(chan struct{}, 1)
	w, err := NewWatcher(path, initial, func(_, _ *Config, _ []string) { called <- struct{}{} }, nil)
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}
	w.SetDebounce(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte(":::not valid yaml"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-called:
		t.Fatal("onChange called for invalid config")
	case <-time.After(200 * time.Millisecond):
	}
	if w.Current() != initial {
		t.Error("Current() changed after invalid reload")
	}
}

func TestWatcherIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "notify:\n  url: \"ws://127.0.0.1:8090/ws\"\n")
	initial, _ := Load(path)
	called := make(chan struct{}, 1)
	w, err := NewWatcher(path, initial, func(_, _ *Config, _ []string) { called <- struct{}{} }, nil)
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}
	w.SetDebounce(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(dir+"/other.yaml", []byte("notify:\n  url: \"\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	select {
	case <-called:
		t.Fatal("onChange called for a sibling file")
	case <-time.After(200 * time.Millisecond):
	}
}
