package browser

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/use-agent/glimpse/models"
	"github.com/use-agent/glimpse/retry"
	"github.com/ysmood/gson"
)

// Page is an open tab handed from Resolve to Capture. Whoever receives it
// from Resolve must Close it.
type Page interface {
	Close() error
}

// tab is the Session's Page implementation.
type tab struct {
	page    *rod.Page
	router  *rod.HijackRouter
	once    sync.Once
	onClose func()
}

// Close stops request interception and closes the tab. Safe to call twice.
func (t *tab) Close() error {
	var err error
	t.once.Do(func() {
		if t.router != nil {
			_ = t.router.Stop()
		}
		err = t.page.Close()
		if t.onClose != nil {
			t.onClose()
		}
	})
	return err
}

const pageSizeJS = `() => ({
	width: Math.max(
		document.body ? document.body.scrollWidth : 0, document.documentElement.scrollWidth,
		document.body ? document.body.offsetWidth : 0, document.documentElement.offsetWidth,
		document.body ? document.body.clientWidth : 0, document.documentElement.clientWidth
	),
	height: Math.max(
		document.body ? document.body.scrollHeight : 0, document.documentElement.scrollHeight,
		document.body ? document.body.offsetHeight : 0, document.documentElement.offsetHeight,
		document.body ? document.body.clientHeight : 0, document.documentElement.clientHeight
	)
})`

// Resolve opens a tab and navigates it to rawURL, returning as soon as the
// navigation commits rather than waiting for load. The returned URL is where
// the tab ended up after redirects. Each attempt gets a fresh tab; failed
// tabs are closed before the next try, so on error nothing is left open.
func (s *Session) Resolve(ctx context.Context, rawURL string) (string, Page, error) {
	if err := validateURL(rawURL); err != nil {
		return "", nil, err
	}
	if err := s.EnsureStarted(ctx); err != nil {
		return "", nil, err
	}

	type result struct {
		url string
		tab *tab
	}

	res, err := retry.DoVal(ctx, s.policy("resolve", rawURL), func(ctx context.Context) (result, error) {
		t, err := s.openTab(rawURL)
		if err != nil {
			return result{}, err
		}

		navCtx, cancel := context.WithTimeout(ctx, s.scraperCfg.NavigationTimeout)
		defer cancel()
		p := t.page.Context(navCtx)

		if err := p.Navigate(rawURL); err != nil {
			_ = t.Close()
			return result{}, categorizeError(err, "navigation to target URL failed")
		}

		final := currentURL(p)
		if final == "" {
			final = rawURL
		}
		return result{url: final, tab: t}, nil
	})
	if err != nil {
		slog.Warn("resolve failed", "url", rawURL, "error", err)
		return "", nil, err
	}

	if res.url != rawURL {
		slog.Debug("url resolved", "original", rawURL, "resolved", res.url)
	}
	return res.url, res.tab, nil
}

// Capture loads the resolved URL fully in page, waits for it to settle
// visually, extracts its content and optionally screenshots the whole
// scrollable area. The sequence is retried on engine errors; the last
// error is returned when every attempt fails.
func (s *Session) Capture(ctx context.Context, page Page, u models.ResolvedURL, wantScreenshot bool) (*models.ScrapedContent, error) {
	t, ok := page.(*tab)
	if !ok || t == nil {
		return nil, models.NewScrapeError(models.ErrCodeInternal, "page was not opened by this session", nil)
	}

	content, err := retry.DoVal(ctx, s.policy("capture", u.Resolved), func(ctx context.Context) (*models.ScrapedContent, error) {
		return s.captureOnce(ctx, t, u, wantScreenshot)
	})
	if err != nil {
		slog.Error("all capture attempts failed", "url", u.Resolved, "error", err)
		return nil, err
	}
	return content, nil
}

// captureOnce is a single capture attempt.
//
// Lifecycle:
//
//  1. Timeout guard   – bounds the attempt, stability wait included
//  2. Navigate + load – full load of the resolved URL
//  3. Stability wait  – best effort; a timeout here is not a failure
//  4. Extract         – rendered HTML → title, text, markdown, media
//  5. Screenshot      – viewport grown to the scroll size first
func (s *Session) captureOnce(ctx context.Context, t *tab, u models.ResolvedURL, wantScreenshot bool) (*models.ScrapedContent, error) {
	// ── 1. Timeout guard ──────────────────────────────────────────────
	ctx, cancel := context.WithTimeout(ctx, s.scraperCfg.CaptureTimeout)
	defer cancel()
	p := t.page.Context(ctx)

	// ── 2. Navigate + load ────────────────────────────────────────────
	if err := p.Navigate(u.Resolved); err != nil {
		return nil, categorizeError(err, "navigation to resolved URL failed")
	}
	if err := p.WaitLoad(); err != nil {
		return nil, categorizeError(err, "page load did not complete")
	}

	// ── 3. Stability wait ─────────────────────────────────────────────
	if _, err := s.detector.Wait(ctx, func(ctx context.Context) ([]byte, error) {
		return t.page.Context(ctx).Screenshot(true, &proto.PageCaptureScreenshot{
			Format: proto.PageCaptureScreenshotFormatPng,
		})
	}); err != nil {
		return nil, categorizeError(err, "stability check failed")
	}

	// ── 4. Extract ────────────────────────────────────────────────────
	rawHTML, err := p.HTML()
	if err != nil {
		return nil, categorizeError(err, "failed to extract page HTML")
	}
	ex, err := s.cleaner.Extract(rawHTML, u.Resolved)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	if ex.Title == "" {
		ex.Title = evalStringOrEmpty(p, `() => document.title`)
	}

	// ── 5. Screenshot ─────────────────────────────────────────────────
	var shot []byte
	if wantScreenshot {
		shot, err = s.fullScreenshot(p)
		if err != nil {
			return nil, categorizeError(err, "screenshot failed")
		}
	}

	return &models.ScrapedContent{
		URL:         u,
		Title:       ex.Title,
		TextContent: ex.Text,
		Markdown:    ex.Markdown,
		Screenshot:  shot,
		Timestamp:   models.UnixSeconds(time.Now()),
		Media:       ex.Media,
		Metadata:    ex.Metadata,
	}, nil
}

// fullScreenshot resizes the viewport to the document's scroll size and
// captures it.
func (s *Session) fullScreenshot(p *rod.Page) ([]byte, error) {
	res, err := p.Eval(pageSizeJS)
	if err != nil {
		return nil, err
	}
	width := res.Value.Get("width").Int()
	height := res.Value.Get("height").Int()
	if width <= 0 {
		width = 1280
	}
	if height <= 0 {
		height = 800
	}
	if limit := s.scraperCfg.MaxScreenshotHeight; limit > 0 && height > limit {
		height = limit
	}

	if err := p.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1,
	}); err != nil {
		return nil, err
	}

	return p.Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

// openTab creates a tab with stealth, headers and request blocking in place
// before any navigation happens.
func (s *Session) openTab(rawURL string) (*tab, error) {
	browser, err := s.current()
	if err != nil {
		return nil, err
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeBrowserCrash, "failed to open tab", err)
	}

	if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
		slog.Warn("stealth injection failed, proceeding without stealth", "error", err)
	}

	if u, err := url.Parse(rawURL); err == nil {
		_ = proto.NetworkSetExtraHTTPHeaders{
			Headers: toHeadersMap(map[string]string{
				"Referer": "https://www.google.com/search?q=" + url.QueryEscape(u.Hostname()),
			}),
		}.Call(page)
	}

	s.activePages.Add(1)
	return &tab{
		page:    page,
		router:  setupHijack(page, s.scraperCfg.BlockedResourceTypes, s.scraperCfg.BlockAds),
		onClose: func() { s.activePages.Add(-1) },
	}, nil
}

// currentURL reads the tab's committed URL.
func currentURL(p *rod.Page) string {
	if info, err := p.Info(); err == nil && info.URL != "" && info.URL != "about:blank" {
		return info.URL
	}
	return evalStringOrEmpty(p, `() => window.location.href`)
}

// evalStringOrEmpty evaluates a JS expression and returns the string result,
// swallowing any errors.
func evalStringOrEmpty(page *rod.Page, js string) string {
	res, err := page.Eval(js)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

// toHeadersMap converts a plain string map to proto.NetworkHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}

// validateURL rejects URLs a browser cannot navigate to. Such errors are
// permanent and never retried.
func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return retry.Permanent(models.NewScrapeError(
			models.ErrCodeInvalidInput,
			"url must be an absolute http(s) URL",
			err,
		))
	}
	return nil
}

// categorizeError wraps raw errors into typed ScrapeErrors so the API layer
// can map them to appropriate HTTP status codes.
func categorizeError(err error, msg string) *models.ScrapeError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewScrapeError(models.ErrCodeTimeout, msg, err)
	case errors.Is(err, context.Canceled):
		return models.NewScrapeError(models.ErrCodeTimeout, "request canceled", err)
	default:
		return models.NewScrapeError(models.ErrCodeNavigation, msg, err)
	}
}
