package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/uirefine/refine"
)

var _ refine.Renderer = (*Renderer)(nil)

// Renderer loads markup into a single Chrome page. Start acquires the
// browser and the page, Stop releases both. Load and CaptureScreenshot
// return ErrNotStarted outside that window.
type Renderer struct {
	mgr   *Manager
	owned bool

	mu     sync.Mutex
	page   *rod.Page
	router *rod.HijackRouter
	loads  int
}

// NewRenderer creates a Renderer with its own Manager.
func NewRenderer(cfg Config) *Renderer {
	return &Renderer{mgr: NewManager(cfg), owned: true}
}

// NewRendererWithManager creates a Renderer on a shared Manager. Stop then
// closes the page only; the caller closes the Manager.
func NewRendererWithManager(mgr *Manager) *Renderer {
	return &Renderer{mgr: mgr}
}

// Start launches the browser if needed and opens the page. A failed Start
// leaves nothing acquired; an owned Manager is closed again.
func (r *Renderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.page != nil {
		return nil
	}

	b, err := r.mgr.acquire(ctx)
	if err != nil {
		if r.owned {
			r.mgr.Close()
		}
		return err
	}
	page, err := r.openPage(b)
	if err != nil {
		r.abort(nil)
		return err
	}
	cfg := r.mgr.cfg
	err = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             cfg.ViewportWidth,
		Height:            cfg.ViewportHeight,
		DeviceScaleFactor: 1,
	})
	if err != nil {
		r.abort(page)
		return fmt.Errorf("browser: viewport: %w", err)
	}
	if len(cfg.ResourceBlocking) > 0 {
		router, err := blockResources(page, cfg.ResourceBlocking)
		if err != nil {
			cfg.Logger.Warn("browser: resource blocking failed", "error", err)
		}
		r.router = router
	}
	r.page = page
	r.loads = 0
	cfg.Logger.Debug("browser: renderer started", "stealth", cfg.Stealth,
		"viewport", fmt.Sprintf("%dx%d", cfg.ViewportWidth, cfg.ViewportHeight))
	return nil
}

func (r *Renderer) openPage(b *rod.Browser) (*rod.Page, error) {
	var (
		page *rod.Page
		err  error
	)
	if r.mgr.cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create page: %w", err)
	}
	return page, nil
}

// abort undoes an acquire whose page never became usable. r.mu must be
// held.
func (r *Renderer) abort(page *rod.Page) {
	if page != nil {
		page.Close()
	}
	r.mgr.release()
	if r.owned {
		r.mgr.Close()
	}
}

// Stop closes the page and, for an owned Manager, the browser.
func (r *Renderer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.router != nil {
		r.router.Stop()
		r.router = nil
	}
	if r.page != nil {
		r.page.Close()
		r.page = nil
		r.mgr.release()
	}
	if !r.owned {
		return nil
	}
	return r.mgr.Close()
}

// Load replaces the page document with markup and waits for it to load.
func (r *Renderer) Load(ctx context.Context, markup string) error {
	page, err := r.current()
	if err != nil {
		return err
	}
	loadCtx, cancel := context.WithTimeout(ctx, r.mgr.cfg.LoadTimeout)
	defer cancel()

	p := page.Context(loadCtx)
	if err := p.SetDocumentContent(markup); err != nil {
		return fmt.Errorf("browser: set content: %w", err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("browser: wait load: %w", err)
	}
	r.mu.Lock()
	r.loads++
	r.mu.Unlock()
	return nil
}

// CaptureScreenshot writes a PNG of the viewport to path, creating parent
// directories.
func (r *Renderer) CaptureScreenshot(ctx context.Context, path string) error {
	page, err := r.current()
	if err != nil {
		return err
	}
	data, err := page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return fmt.Errorf("browser: screenshot: %w", err)
	}
	return writeFile(path, data)
}

// Loads reports how many documents were loaded since Start.
func (r *Renderer) Loads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loads
}

func (r *Renderer) current() (*rod.Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.page == nil {
		return nil, ErrNotStarted
	}
	return r.page, nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("browser: mkdir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("browser: write screenshot: %w", err)
	}
	return nil
}
