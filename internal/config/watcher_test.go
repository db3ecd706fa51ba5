package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, path, wakePhrase string) {
	t.Helper()
	data := `
assistant:
  wake_phrase: "` + wakePhrase + `"
providers:
  stt_offline:
    name: whisper
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestWatcherInitialLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "lala.yaml")
	writeConfigFile(t, path, "lala")

	w, err := NewWatcher(path, nil, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)

	if got := w.Current().Assistant.WakePhrase; got != "lala" {
		t.Errorf("WakePhrase = %q", got)
	}
}

func TestWatcherInitialLoadInvalid(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "lala.yaml")
	if err := os.WriteFile(path, []byte("assistant: {}\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := NewWatcher(path, nil); err == nil {
		t.Fatal("invalid initial config accepted")
	}
}

func TestWatcherDetectsChange(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "lala.yaml")
	writeConfigFile(t, path, "lala")

	var mu sync.Mutex
	var gotOld, gotNew string
	w, err := NewWatcher(path, func(old, new *Config) {
		mu.Lock()
		defer mu.Unlock()
		gotOld = old.Assistant.WakePhrase
		gotNew = new.Assistant.WakePhrase
	}, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)

	// Backdate the mtime marker so the rewrite is seen even on coarse
	// filesystem clocks.
	time.Sleep(20 * time.Millisecond)
	writeConfigFile(t, path, "oye lala")
	future := time.Now().Add(time.Second)
	os.Chtimes(path, future, future)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := gotNew == "oye lala"
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotOld != "lala" || gotNew != "oye lala" {
		t.Fatalf("onChange got %q -> %q", gotOld, gotNew)
	}
	if w.Current().Assistant.WakePhrase != "oye lala" {
		t.Errorf("Current() not updated")
	}
}

func TestWatcherKeepsPreviousOnInvalidEdit(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "lala.yaml")
	writeConfigFile(t, path, "lala")

	called := make(chan struct{}, 1)
	w, err := NewWatcher(path, func(old, new *Config) {
		select {
		case called <- struct{}{}:
		default:
		}
	}, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)

	if err := os.WriteFile(path, []byte("assistant: {}\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	future := time.Now().Add(time.Second)
	os.Chtimes(path, future, future)

	select {
	case <-called:
		t.Fatal("onChange fired for an invalid config")
	case <-time.After(200 * time.Millisecond):
	}
	if got := w.Current().Assistant.WakePhrase; got != "lala" {
		t.Errorf("Current() = %q, want previous config retained", got)
	}
}
