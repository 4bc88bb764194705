package driver

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	tls2 "github.com/refraction-networking/utls"
	"golang.org/x/net/html"

	"github.com/use-agent/resolveguard/resolveerr"
	"github.com/use-agent/resolveguard/selector"
)

// HTTPFetcher is the fast-path HTTP engine: a plain GET with a Chrome TLS
// ClientHello (via utls), used instead of a full browser render when the
// caller's fingerprint/stealth requirements don't demand JS execution.
// Grounded on purify's scraper.httpFetcher; kept here because it shares the
// driver package's role of producing rendered-HTML input for the resolver
// without exposing rod's API surface to callers.
type HTTPFetcher struct {
	proxy string
}

// NewHTTPFetcher constructs a fetcher that routes through proxy (empty
// for direct connections).
func NewHTTPFetcher(proxy string) *HTTPFetcher {
	return &HTTPFetcher{proxy: proxy}
}

// Fetch retrieves url with the given user agent over a TLS connection
// whose ClientHello matches Chrome's, keeping the HTTP fallback path as
// coherent with the declared fingerprint as the browser path.
func (f *HTTPFetcher) Fetch(ctx context.Context, targetURL, userAgent string) (rawHTML string, statusCode int, err error) {
	transport := &http.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialTLSChrome(ctx, network, addr, f.proxy)
		},
	}
	if f.proxy != "" {
		if proxyURL, perr := url.Parse(f.proxy); perr == nil && (proxyURL.Scheme == "http" || proxyURL.Scheme == "https") {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	client := &http.Client{Transport: transport}
	defer client.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return "", 0, resolveerr.New(resolveerr.CodeBrowser, "httpfetch: build request failed", map[string]any{"url": targetURL}, err)
	}
	if userAgent == "" {
		userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := client.Do(req)
	if err != nil {
		return "", 0, resolveerr.New(resolveerr.CodeBrowser, "httpfetch: request failed", map[string]any{"url": targetURL}, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return "", resp.StatusCode, resolveerr.New(resolveerr.CodeBrowser, "httpfetch: read body failed", map[string]any{"url": targetURL}, err)
	}

	return string(body), resp.StatusCode, nil
}

// HTTPPage adapts a single fast-path fetch to selector.PageHandle, letting
// the resolver try a selector's strategy chain against plain HTTP-fetched
// markup before paying for a full browser render. Built by FetchPage;
// callers use NeedsRender to rule out a JS-dependent page before using it.
type HTTPPage struct {
	rawHTML string
	url     string
	ua      string
}

// FetchPage retrieves targetURL via the Chrome-TLS-fingerprinted fetcher and
// wraps the result as a PageHandle. Callers should check NeedsBrowserRendering
// on the returned page's content and fall back to a real browser Page when it
// reports true; FetchPage itself does not make that decision.
func (f *HTTPFetcher) FetchPage(ctx context.Context, targetURL, userAgent string) (*HTTPPage, error) {
	rawHTML, status, err := f.Fetch(ctx, targetURL, userAgent)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, resolveerr.New(resolveerr.CodeBrowser, "httpfetch: non-success status", map[string]any{"url": targetURL, "status": status}, nil)
	}
	return &HTTPPage{rawHTML: rawHTML, url: targetURL, ua: userAgent}, nil
}

// Content satisfies selector.PageHandle.
func (p *HTTPPage) Content(ctx context.Context) (string, error) { return p.rawHTML, nil }

// URL satisfies selector.PageHandle.
func (p *HTTPPage) URL() string { return p.url }

// UserAgent satisfies selector.PageHandle.
func (p *HTTPPage) UserAgent() string { return p.ua }

// TabStates satisfies selector.PageHandle; a plain HTTP fetch has no tab
// lifecycle to report, so every strategy sees an empty tab set.
func (p *HTTPPage) TabStates() map[string]selector.TabState {
	return map[string]selector.TabState{}
}

// NeedsRender reports whether this fetch's markup looks JS-dependent, per
// NeedsBrowserRendering's heuristic.
func (p *HTTPPage) NeedsRender() bool { return NeedsBrowserRendering(p.rawHTML) }

// dialTLSChrome establishes a TLS connection using a Chrome fingerprint via utls.
func dialTLSChrome(ctx context.Context, network, addr, proxy string) (net.Conn, error) {
	var rawConn net.Conn
	var err error
	dialer := &net.Dialer{}

	if proxy != "" {
		if proxyURL, perr := url.Parse(proxy); perr == nil && (proxyURL.Scheme == "socks5" || proxyURL.Scheme == "socks5h") {
			rawConn, err = dialer.DialContext(ctx, "tcp", proxyURL.Host)
			if err != nil {
				return nil, err
			}
		}
	}

	if rawConn == nil {
		rawConn, err = dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
	}

	host, _, _ := net.SplitHostPort(addr)
	tlsConn := tls2.UClient(rawConn, &tls2.Config{ServerName: host}, tls2.HelloChrome_Auto)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		return nil, err
	}
	return tlsConn, nil
}

var reNoscript = regexp.MustCompile(`<noscript[^>]*>[^<]*(enable|activate|turn on|requires?)\s+javascript`)

// NeedsBrowserRendering heuristically decides whether HTTP-fetched HTML
// likely needs a full browser render (SPA shell, heavy JS dependency,
// noscript warnings), so callers can fall back from the fast HTTP path to
// the browser path per selector.
func NeedsBrowserRendering(rawHTML string) bool {
	bodyText := extractVisibleText([]byte(rawHTML))
	if len(bodyText) < 200 {
		return true
	}

	lower := strings.ToLower(rawHTML)
	if strings.Contains(lower, `<div id="root"></div>`) ||
		strings.Contains(lower, `<div id="app"></div>`) ||
		strings.Contains(lower, `<div id="__next"></div>`) {
		return true
	}
	if reNoscript.MatchString(lower) {
		return true
	}
	if strings.Count(lower, "<script") > 10 && len(bodyText) < 500 {
		return true
	}
	return false
}

// extractVisibleText extracts the visible text from within <body>,
// stripping tags and script/style content, for the heuristic above.
func extractVisibleText(body []byte) string {
	tokenizer := html.NewTokenizer(bytes.NewReader(body))
	var buf strings.Builder
	inBody := false
	skipDepth := 0

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return buf.String()
		case html.StartTagToken:
			tn, _ := tokenizer.TagName()
			tag := string(tn)
			if tag == "body" {
				inBody = true
			}
			if tag == "script" || tag == "style" || tag == "noscript" {
				skipDepth++
			}
		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			tag := string(tn)
			if tag == "script" || tag == "style" || tag == "noscript" {
				if skipDepth > 0 {
					skipDepth--
				}
			}
		case html.TextToken:
			if inBody && skipDepth == 0 {
				text := strings.TrimSpace(string(tokenizer.Text()))
				if text != "" {
					buf.WriteString(text)
					buf.WriteByte(' ')
				}
			}
		}
	}
}
