// Package orchestrator turns a list of URLs into scraped content.
//
// Per URL it resolves redirects in the shared browser, consults the cache,
// and on a miss runs the page capture and the video extraction side by side
// before merging and writing the result through to the cache.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/use-agent/glimpse/browser"
	"github.com/use-agent/glimpse/models"
	"golang.org/x/sync/errgroup"
)

// PageScraper is the browser side of the pipeline. *browser.Session
// implements it.
type PageScraper interface {
	Resolve(ctx context.Context, rawURL string) (string, browser.Page, error)
	Capture(ctx context.Context, page browser.Page, u models.ResolvedURL, wantScreenshot bool) (*models.ScrapedContent, error)
}

// VideoProcessor is the video side of the pipeline. *video.Extractor
// implements it.
type VideoProcessor interface {
	Process(ctx context.Context, resolvedURL string) models.VideoDetails
}

// ContentCache is the write-through store. *cache.Store implements it.
type ContentCache interface {
	Get(resolvedURL string) (*models.ScrapedContent, bool)
	Put(content *models.ScrapedContent, ttl time.Duration) error
}

const (
	defaultTTL           = time.Hour
	defaultMaxConcurrent = 8
)

// Orchestrator runs the per-URL pipeline.
type Orchestrator struct {
	scraper PageScraper
	video   VideoProcessor
	cache   ContentCache

	ttl           time.Duration
	screenshots   bool
	maxConcurrent int
	now           func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTTL sets how long written entries stay fresh.
func WithTTL(ttl time.Duration) Option {
	return func(o *Orchestrator) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithScreenshots toggles full-page screenshots on captures.
func WithScreenshots(enabled bool) Option {
	return func(o *Orchestrator) { o.screenshots = enabled }
}

// WithMaxConcurrent bounds how many URLs are processed at once. It should
// match the browser's page budget.
func WithMaxConcurrent(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxConcurrent = n
		}
	}
}

// WithClock overrides the clock used to timestamp video-only results.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New wires an orchestrator from its three collaborators.
func New(sc PageScraper, vp VideoProcessor, cc ContentCache, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		scraper:       sc,
		video:         vp,
		cache:         cc,
		ttl:           defaultTTL,
		screenshots:   true,
		maxConcurrent: defaultMaxConcurrent,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ProcessURLs processes every URL concurrently, at most maxConcurrent at a
// time, and returns the successful results in input order. Failed URLs are
// left out.
func (o *Orchestrator) ProcessURLs(ctx context.Context, urls []string) []*models.ScrapedContent {
	results := o.processAll(ctx, urls)

	out := make([]*models.ScrapedContent, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

// ProcessAll is ProcessURLs without the filtering: the returned slice is
// index-aligned with urls and holds nil for every URL that failed.
func (o *Orchestrator) ProcessAll(ctx context.Context, urls []string) []*models.ScrapedContent {
	return o.processAll(ctx, urls)
}

// ProcessGroundingURLs processes the URL list attached to a search-grounded
// answer. It behaves exactly like ProcessURLs.
func (o *Orchestrator) ProcessGroundingURLs(ctx context.Context, urls []string) []*models.ScrapedContent {
	return o.ProcessURLs(ctx, urls)
}

func (o *Orchestrator) processAll(ctx context.Context, urls []string) []*models.ScrapedContent {
	start := time.Now()
	results := make([]*models.ScrapedContent, len(urls))

	var g errgroup.Group
	g.SetLimit(o.maxConcurrent)
	for i, u := range urls {
		g.Go(func() error {
			content, _ := o.ProcessURL(ctx, u)
			results[i] = content
			return nil
		})
	}
	_ = g.Wait()

	ok := 0
	for _, r := range results {
		if r != nil {
			ok++
		}
	}
	slog.Info("url batch processed",
		"total", len(urls),
		"succeeded", ok,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return results
}

// ProcessURL runs the full pipeline for one URL. It never panics and never
// returns an error: any failure yields a nil result and OutcomeFailure.
func (o *Orchestrator) ProcessURL(ctx context.Context, rawURL string) (content *models.ScrapedContent, outcome models.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic while processing url",
				"url", rawURL,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			content, outcome = nil, models.OutcomeFailure
		}
	}()

	resolved, page, err := o.scraper.Resolve(ctx, rawURL)
	if err != nil {
		slog.Warn("url resolution failed", "url", rawURL, "error", err)
		return nil, models.OutcomeFailure
	}
	defer func() {
		if page == nil {
			return
		}
		if err := page.Close(); err != nil {
			slog.Debug("tab close failed", "url", resolved, "error", err)
		}
	}()

	u := models.ResolvedURL{Original: rawURL, Resolved: resolved}

	if cached, ok := o.cache.Get(resolved); ok {
		slog.Info("cache hit", "url", resolved)
		return cached, models.OutcomeCacheHit
	}

	var (
		wg      sync.WaitGroup
		scraped *models.ScrapedContent
		capErr  error
		video   models.VideoDetails
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer recoverBranch("capture", resolved)
		scraped, capErr = o.scraper.Capture(ctx, page, u, o.screenshots)
	}()
	go func() {
		defer wg.Done()
		defer recoverBranch("video", resolved)
		video = o.video.Process(ctx, resolved)
	}()
	wg.Wait()

	// Branches cut short by cancellation report partial results; none of
	// them may reach the cache.
	if err := ctx.Err(); err != nil {
		slog.Warn("url processing cancelled", "url", resolved, "error", err)
		return nil, models.OutcomeFailure
	}

	if capErr != nil {
		slog.Warn("page capture failed", "url", resolved, "error", capErr)
		scraped = nil
	}

	content, outcome = o.merge(u, scraped, video)
	if content == nil {
		slog.Warn("no content for url", "url", resolved)
		return nil, outcome
	}

	if err := o.cache.Put(content, o.ttl); err != nil {
		slog.Error("cache write failed", "url", resolved, "error", err)
	}
	return content, outcome
}

// merge combines the two branch results.
func (o *Orchestrator) merge(u models.ResolvedURL, scraped *models.ScrapedContent, video models.VideoDetails) (*models.ScrapedContent, models.Outcome) {
	switch {
	case scraped != nil:
		if video.IsVideo {
			vd := video
			scraped.VideoDetails = &vd
		}
		return scraped, models.OutcomeMergedSuccess

	case video.IsVideo:
		vd := video
		return &models.ScrapedContent{
			URL:          u,
			Title:        videoTitle(video.Metadata),
			TextContent:  "",
			Timestamp:    models.UnixSeconds(o.now()),
			Media:        []models.ScrapedMedia{},
			VideoDetails: &vd,
		}, models.OutcomeVideoOnlySuccess
	}
	return nil, models.OutcomeFailure
}

func videoTitle(meta map[string]any) string {
	if t, ok := meta["title"].(string); ok && t != "" {
		return t
	}
	return models.UntitledVideo
}

// recoverBranch keeps a panicking branch from taking the whole URL down. The
// branch's result stays at its zero value, which merge treats as a failure.
func recoverBranch(branch, url string) {
	if r := recover(); r != nil {
		slog.Error("panic in branch",
			"branch", branch,
			"url", url,
			"panic", fmt.Sprint(r),
		)
	}
}
