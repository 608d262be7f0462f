// Package browser renders markup in Chrome through go-rod.
//
// Manager owns the Chrome process (a local launch, optionally headful under
// Xvfb, or a remote DevTools endpoint). Renderer drives one page of it and
// satisfies refine.Renderer.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// ErrNotStarted is returned by operations that need a running browser.
var ErrNotStarted = errors.New("browser: not started")

var errClosed = errors.New("browser: manager is closed")

// Config configures the browser manager and its renderer.
type Config struct {
	// RemoteURL is the DevTools WebSocket URL of an external Chrome.
	// Empty launches a local Chrome.
	RemoteURL string `yaml:"remote_url"`

	// Headful runs a visible Chrome on an Xvfb display instead of headless.
	Headful bool `yaml:"headful"`

	// XvfbDisplay for headful mode. Default: ":99".
	XvfbDisplay string `yaml:"xvfb_display"`

	// Stealth creates pages through go-rod/stealth.
	Stealth bool `yaml:"stealth"`

	// ResourceBlocking lists resource types to block (images, fonts, media,
	// stylesheets).
	ResourceBlocking []string `yaml:"resource_blocking"`

	// ViewportWidth and ViewportHeight size the page. Default: 1280x800.
	ViewportWidth  int `yaml:"viewport_width"`
	ViewportHeight int `yaml:"viewport_height"`

	// LoadTimeout bounds one Load. Default: 30s.
	LoadTimeout time.Duration `yaml:"load_timeout"`

	// RecycleAfter relaunches Chrome once this many renderer pages have
	// been released and none is open. Zero keeps one browser for the
	// manager's lifetime.
	RecycleAfter int `yaml:"recycle_after"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) defaults() {
	if c.XvfbDisplay == "" {
		c.XvfbDisplay = ":99"
	}
	if c.ViewportWidth <= 0 {
		c.ViewportWidth = 1280
	}
	if c.ViewportHeight <= 0 {
		c.ViewportHeight = 800
	}
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager manages the Chrome lifecycle.
type Manager struct {
	cfg     Config
	mu      sync.RWMutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	xvfb    *exec.Cmd
	startAt time.Time
	closed  bool

	active int // renderer pages open
	served int // renderer pages released since launch
}

// NewManager creates a Manager. Call Start to launch Chrome.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// Start launches Chrome (or connects to the remote instance). Calling Start
// on a running manager returns the existing browser.
func (m *Manager) Start(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errClosed
	}
	return m.startLocked(ctx)
}

func (m *Manager) startLocked(ctx context.Context) (*rod.Browser, error) {
	if m.browser != nil {
		return m.browser, nil
	}
	b, err := m.launch(ctx)
	if err != nil {
		m.cleanup()
		return nil, err
	}
	m.browser = b
	m.startAt = time.Now()
	m.served = 0
	return b, nil
}

// acquire returns a browser for one renderer page, relaunching Chrome first
// when a recycle is due. Each successful acquire must be paired with
// release.
func (m *Manager) acquire(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errClosed
	}
	launch := m.startLocked
	if m.browser != nil && m.recycleDue() {
		launch = m.recycle
	}
	b, err := launch(ctx)
	if err != nil {
		return nil, err
	}
	m.active++
	return b, nil
}

// release marks one renderer page closed.
func (m *Manager) release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active > 0 {
		m.active--
	}
	m.served++
}

func (m *Manager) recycleDue() bool {
	return m.cfg.RecycleAfter > 0 && m.active == 0 && m.served >= m.cfg.RecycleAfter
}

// Browser returns the current browser handle, or nil.
func (m *Manager) Browser() *rod.Browser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser
}

// Uptime reports how long the current browser has been running.
func (m *Manager) Uptime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.browser == nil {
		return 0
	}
	return time.Since(m.startAt)
}

// recycle kills Chrome and launches a fresh one. m.mu must be held.
func (m *Manager) recycle(ctx context.Context) (*rod.Browser, error) {
	m.cfg.Logger.Info("browser: recycling", "uptime", time.Since(m.startAt), "pages", m.served)
	m.cleanup()

	b, err := m.launch(ctx)
	if err != nil {
		m.cleanup()
		return nil, fmt.Errorf("browser: relaunch: %w", err)
	}
	m.browser = b
	m.startAt = time.Now()
	m.served = 0
	return b, nil
}

// Close shuts down Chrome and Xvfb. It is safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cleanup()
	return nil
}

func (m *Manager) launch(ctx context.Context) (*rod.Browser, error) {
	log := m.cfg.Logger

	var wsURL string
	if m.cfg.RemoteURL != "" {
		wsURL = m.cfg.RemoteURL
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		if m.cfg.Headful {
			if err := m.startXvfb(); err != nil {
				return nil, fmt.Errorf("browser: xvfb: %w", err)
			}
		}
		l := launcher.New().Context(ctx)
		if m.cfg.Headful {
			l = l.Headless(false).Env("DISPLAY="+m.cfg.XvfbDisplay)
		} else {
			l = l.Headless(true)
		}
		l = l.Set("disable-blink-features", "AutomationControlled")

		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("browser: launched local chrome", "url", wsURL, "headful", m.cfg.Headful)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	return b, nil
}

func (m *Manager) cleanup() {
	if m.browser != nil {
		if err := m.browser.Close(); err != nil {
			m.cfg.Logger.Debug("browser: close", "error", err)
		}
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	m.stopXvfb()
}
