package browser

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestShouldBlock(t *testing.T) {
	set := map[string]bool{"images": true, "fonts": true, "xhr": true}
	cases := map[string]bool{
		"Image":      true,
		"font":       true,
		"Stylesheet": false,
		"Media":      false,
		"XHR":        true,
		"Document":   false,
	}
	for typ, want := range cases {
		if got := shouldBlock(set, typ); got != want {
			t.Errorf("shouldBlock(%q) = %v, want %v", typ, got, want)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.defaults()
	if c.XvfbDisplay != ":99" || c.ViewportWidth != 1280 || c.ViewportHeight != 800 {
		t.Errorf("defaults: %+v", c)
	}
	if c.LoadTimeout != 30*time.Second || c.Logger == nil {
		t.Errorf("defaults: timeout=%v logger=%v", c.LoadTimeout, c.Logger)
	}

	c = Config{ViewportWidth: 390, ViewportHeight: 844, LoadTimeout: time.Second}
	c.defaults()
	if c.ViewportWidth != 390 || c.ViewportHeight != 844 || c.LoadTimeout != time.Second {
		t.Errorf("explicit values overwritten: %+v", c)
	}
}

func TestRenderer_NotStarted(t *testing.T) {
	r := NewRenderer(Config{})
	ctx := context.Background()
	if err := r.Load(ctx, "<p>x</p>"); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("Load before Start: %v", err)
	}
	if err := r.CaptureScreenshot(ctx, filepath.Join(t.TempDir(), "a.png")); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("CaptureScreenshot before Start: %v", err)
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("Stop without Start: %v", err)
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestManager_ClosedRefusesStart(t *testing.T) {
	m := NewManager(Config{})
	if m.Browser() != nil || m.Uptime() != 0 {
		t.Fatal("fresh manager has no browser")
	}
	m.Close()
	if _, err := m.Start(context.Background()); err == nil {
		t.Fatal("Start after Close must fail")
	}
}

func TestWriteFile_CreatesParents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run_1", "shots", "iter_01.png")
	if err := writeFile(path, []byte("png")); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "png" {
		t.Fatalf("read back: %q, %v", data, err)
	}
}

func TestRenderer_SharedManagerStaysOpen(t *testing.T) {
	m := NewManager(Config{})
	r := NewRendererWithManager(m)
	if err := r.Stop(); err != nil {
		t.Fatal(err)
	}
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		t.Fatal("Stop closed a shared manager")
	}
	m.Close()
}

func TestRenderer_FailedStartClosesOwnedManager(t *testing.T) {
	r := NewRenderer(Config{RemoteURL: "ws://127.0.0.1:1/devtools/browser/none"})
	if err := r.Start(context.Background()); err == nil {
		t.Fatal("expected connect error")
	}
	r.mgr.mu.RLock()
	closed, active := r.mgr.closed, r.mgr.active
	r.mgr.mu.RUnlock()
	if !closed || active != 0 {
		t.Fatalf("after failed Start: closed=%v active=%d", closed, active)
	}
}

func TestRenderer_AbortReleases(t *testing.T) {
	owned := NewRenderer(Config{})
	owned.mgr.active = 1
	owned.mu.Lock()
	owned.abort(nil)
	owned.mu.Unlock()
	if !owned.mgr.closed || owned.mgr.active != 0 {
		t.Fatalf("owned: closed=%v active=%d", owned.mgr.closed, owned.mgr.active)
	}

	m := NewManager(Config{})
	shared := NewRendererWithManager(m)
	m.active = 1
	shared.mu.Lock()
	shared.abort(nil)
	shared.mu.Unlock()
	if m.closed || m.active != 0 {
		t.Fatalf("shared: closed=%v active=%d", m.closed, m.active)
	}
	m.Close()
}

func TestManager_RecycleDue(t *testing.T) {
	m := NewManager(Config{RecycleAfter: 2})
	m.active = 2
	m.release()
	if m.recycleDue() {
		t.Fatal("due after one page")
	}
	m.release()
	if !m.recycleDue() {
		t.Fatalf("not due: served=%d active=%d", m.served, m.active)
	}
	m.active = 1
	if m.recycleDue() {
		t.Fatal("due while a page is open")
	}

	never := NewManager(Config{})
	never.served = 1000
	if never.recycleDue() {
		t.Fatal("RecycleAfter 0 must never recycle")
	}
}
