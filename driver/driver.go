// Package driver implements the Browser Driver Adapter (component A): a
// small query/eval/navigate surface over go-rod/rod, deliberately narrow
// per spec §6's external interface so the rest of the system depends on
// an abstract page, not on rod's full API surface.
package driver

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/use-agent/resolveguard/config"
	"github.com/use-agent/resolveguard/resolveerr"
	"github.com/use-agent/resolveguard/selector"
)

// Browser owns the rod.Browser process and a pool of pages, mirroring the
// lifecycle management in purify's scraper.Scraper. The browser/pagePool
// pair is guarded by mu so Restart (invoked by the Browser Recovery
// manager, component R) can swap in a freshly launched process while
// in-flight callers still hold a consistent *rod.Browser reference.
type Browser struct {
	mu          sync.RWMutex
	browser     *rod.Browser
	pagePool    rod.Pool[rod.Page]
	cfg         config.BrowserConfig
	activePages atomic.Int32
	startTime   time.Time
}

// New launches a headless Chrome process with the same anti-automation
// flag set purify uses, and returns a Browser ready to hand out pages.
func New(cfg config.BrowserConfig) (*Browser, error) {
	rb, err := launch(cfg)
	if err != nil {
		return nil, err
	}
	return &Browser{
		browser:   rb,
		pagePool:  rod.NewPagePool(cfg.MaxPages),
		cfg:       cfg,
		startTime: time.Now(),
	}, nil
}

// launch starts a new Chrome process with purify's anti-automation flag
// set and connects rod to it, returning the connected *rod.Browser.
func launch(cfg config.BrowserConfig) (*rod.Browser, error) {
	l := launcher.New().
		Headless(cfg.Headless).
		NoSandbox(cfg.NoSandbox)

	if cfg.BrowserBin != "" {
		l = l.Bin(cfg.BrowserBin)
	}

	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("disable-ipc-flooding-protection"))
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-prompt-on-repost"))
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("disable-default-apps"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, resolveerr.New(resolveerr.CodeBrowserManager, "failed to launch browser", nil, err)
	}
	slog.Info("driver: browser launched", "control_url", controlURL)

	rb := rod.New().ControlURL(controlURL)
	if err := rb.Connect(); err != nil {
		return nil, resolveerr.New(resolveerr.CodeBrowserManager, "failed to connect to browser", nil, err)
	}
	return rb, nil
}

// Restart replaces the underlying browser process, used by the Browser
// Recovery manager (component R) after a crash is detected. Pages opened
// against the old process are left to fail their next call; callers are
// expected to open a fresh page afterward.
func (b *Browser) Restart() error {
	rb, err := launch(b.cfg)
	if err != nil {
		return err
	}

	b.mu.Lock()
	old := b.browser
	b.browser = rb
	b.pagePool = rod.NewPagePool(b.cfg.MaxPages)
	b.activePages.Store(0)
	b.mu.Unlock()

	if old != nil {
		old.MustClose()
	}
	return nil
}

func (b *Browser) rodBrowser() *rod.Browser {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.browser
}

// NewPage creates a standalone page, applying go-rod/stealth's baseline
// navigator patches when stealthMode is true. Anti-detection masker
// (component H) layers additional patches on top via AddInitScript.
func (b *Browser) NewPage(stealthMode bool) (*Page, error) {
	rb := b.rodBrowser()
	var p *rod.Page
	var err error
	if stealthMode {
		p, err = stealth.Page(rb)
	} else {
		p, err = rb.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		return nil, resolveerr.New(resolveerr.CodeBrowserSession, "failed to open page", nil, err)
	}
	b.activePages.Add(1)
	return &Page{rodPage: p, browser: b}, nil
}

// ActivePages returns the current number of open pages, for health
// reporting.
func (b *Browser) ActivePages() int { return int(b.activePages.Load()) }

// MaxPages returns the configured page pool capacity.
func (b *Browser) MaxPages() int { return b.cfg.MaxPages }

// PID returns the underlying Chrome process id when available.
func (b *Browser) PID() int {
	return 0 // rod does not expose the OS pid directly through this surface
}

// Close drains the pool and terminates the browser process.
func (b *Browser) Close() {
	b.mu.RLock()
	pool, rb := b.pagePool, b.browser
	b.mu.RUnlock()
	pool.Cleanup(func(p *rod.Page) { _ = p.Close() })
	rb.MustClose()
}

// Page adapts a *rod.Page to the narrow surface described in spec §6 and
// to selector.PageHandle so the resolver can consume it directly.
type Page struct {
	rodPage *rod.Page
	browser *Browser
	url     string
	ua      string
	tabs    map[string]selector.TabState
}

// Navigate loads url and waits for the page to stabilize.
func (p *Page) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	rp := p.rodPage.Context(ctx)
	if timeout > 0 {
		rp = rp.Timeout(timeout)
	}
	if err := rp.Navigate(url); err != nil {
		return resolveerr.New(resolveerr.CodeBrowser, "navigation failed", map[string]any{"url": url}, err)
	}
	if err := rp.WaitLoad(); err != nil {
		return resolveerr.New(resolveerr.CodeBrowser, "wait for load failed", map[string]any{"url": url}, err)
	}
	p.url = url
	return nil
}

// Content returns the full rendered HTML, satisfying selector.PageHandle.
func (p *Page) Content(ctx context.Context) (string, error) {
	html, err := p.rodPage.Context(ctx).HTML()
	if err != nil {
		return "", resolveerr.New(resolveerr.CodeBrowser, "failed to read page content", nil, err)
	}
	return html, nil
}

// URL satisfies selector.PageHandle.
func (p *Page) URL() string { return p.url }

// UserAgent satisfies selector.PageHandle; populated by the stealth
// fingerprint normalizer when a fingerprint has been applied to this page.
func (p *Page) UserAgent() string { return p.ua }

// SetUserAgent records the user agent applied to this page (called by the
// stealth orchestrator after applying a fingerprint).
func (p *Page) SetUserAgent(ua string) { p.ua = ua }

// TabStates satisfies selector.PageHandle.
func (p *Page) TabStates() map[string]selector.TabState {
	if p.tabs == nil {
		return map[string]selector.TabState{}
	}
	return p.tabs
}

// SetTabState records the lifecycle state of a named tab region (e.g. an
// SPA view switched in without navigation), used by callers that track
// tab context outside the driver itself.
func (p *Page) SetTabState(tabID string, state selector.TabState) {
	if p.tabs == nil {
		p.tabs = make(map[string]selector.TabState)
	}
	p.tabs[tabID] = state
}

// Evaluate runs js in the page context and returns its JSON-decoded result.
func (p *Page) Evaluate(js string) (any, error) {
	res, err := p.rodPage.Eval(js)
	if err != nil {
		return nil, resolveerr.New(resolveerr.CodeBrowser, "evaluate failed", nil, err)
	}
	return res.Value.Val(), nil
}

// AddInitScript installs js to run before any page script on every future
// navigation, used by the anti-detection masker and the stealth baseline.
func (p *Page) AddInitScript(js string) error {
	_, err := p.rodPage.EvalOnNewDocument(js)
	if err != nil {
		return resolveerr.New(resolveerr.CodeBrowser, "add_init_script failed", nil, err)
	}
	return nil
}

// Click clicks the first element matching selector.
func (p *Page) Click(cssSelector string) error {
	el, err := p.rodPage.Element(cssSelector)
	if err != nil {
		return resolveerr.New(resolveerr.CodeBrowser, "element not found for click", map[string]any{"selector": cssSelector}, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return resolveerr.New(resolveerr.CodeBrowser, "click failed", map[string]any{"selector": cssSelector}, err)
	}
	return nil
}

// MouseMove moves the mouse to absolute coordinates (x, y).
func (p *Page) MouseMove(x, y float64) error {
	if err := p.rodPage.Mouse.MoveTo(proto.Point{X: x, Y: y}); err != nil {
		return resolveerr.New(resolveerr.CodeBrowser, "mouse move failed", nil, err)
	}
	return nil
}

// MouseClick clicks at absolute coordinates (x, y).
func (p *Page) MouseClick(x, y float64) error {
	if err := p.MouseMove(x, y); err != nil {
		return err
	}
	if err := p.rodPage.Mouse.Down(proto.InputMouseButtonLeft, 1); err != nil {
		return err
	}
	return p.rodPage.Mouse.Up(proto.InputMouseButtonLeft, 1)
}

// ScrollBy scrolls the viewport by the given pixel delta.
func (p *Page) ScrollBy(dx, dy float64) error {
	_, err := p.rodPage.Eval(`(dx, dy) => window.scrollBy(dx, dy)`, dx, dy)
	return err
}

// WaitForSelector waits for cssSelector to reach the requested state
// ("visible" or "hidden") within timeout.
func (p *Page) WaitForSelector(cssSelector, state string, timeout time.Duration) error {
	rp := p.rodPage.Timeout(timeout)
	switch state {
	case "hidden":
		el, err := rp.Element(cssSelector)
		if err != nil {
			return nil // already gone
		}
		return el.WaitInvisible()
	default:
		el, err := rp.Element(cssSelector)
		if err != nil {
			return resolveerr.New(resolveerr.CodeBrowser, "wait_for_selector timed out", map[string]any{"selector": cssSelector}, err)
		}
		return el.WaitVisible()
	}
}

// QuerySelector returns true plus the matched element's text content if
// cssSelector matches, mirroring the consumed interface's query_selector.
func (p *Page) QuerySelector(cssSelector string) (found bool, text string, err error) {
	el, err := p.rodPage.Element(cssSelector)
	if err != nil {
		return false, "", nil
	}
	t, err := el.Text()
	if err != nil {
		return true, "", resolveerr.New(resolveerr.CodeBrowser, "failed to read element text", nil, err)
	}
	return true, t, nil
}

// SetProxy starts answering proxy basic-auth challenges on this page with
// user/pass via rod's HandleAuth. It does not route the page through
// proxyURL: the browser keeps whatever proxy it was launched with, and
// proxyURL only decides whether auth handling is installed (empty is a
// no-op).
func (p *Page) SetProxy(proxyURL, user, pass string) error {
	if proxyURL == "" {
		return nil
	}
	go p.rodPage.HandleAuth(user, pass)()
	return nil
}

// Close releases the page back to rod.
func (p *Page) Close() error {
	p.browser.activePages.Add(-1)
	return p.rodPage.Close()
}
