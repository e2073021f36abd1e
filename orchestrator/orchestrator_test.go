package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/glimpse/browser"
	"github.com/use-agent/glimpse/models"
)

type fakePage struct {
	closed atomic.Int32
}

func (p *fakePage) Close() error {
	p.closed.Add(1)
	return nil
}

type fakeScraper struct {
	mu    sync.Mutex
	pages []*fakePage

	resolveErr map[string]error
	redirect   map[string]string
	captureErr error
	panicOn    string
	captures   atomic.Int32
}

func (f *fakeScraper) Resolve(_ context.Context, rawURL string) (string, browser.Page, error) {
	if err := f.resolveErr[rawURL]; err != nil {
		return "", nil, err
	}
	p := &fakePage{}
	f.mu.Lock()
	f.pages = append(f.pages, p)
	f.mu.Unlock()
	if to, ok := f.redirect[rawURL]; ok {
		return to, p, nil
	}
	return rawURL, p, nil
}

func (f *fakeScraper) Capture(_ context.Context, _ browser.Page, u models.ResolvedURL, wantScreenshot bool) (*models.ScrapedContent, error) {
	f.captures.Add(1)
	if u.Resolved == f.panicOn {
		panic("renderer exploded")
	}
	if f.captureErr != nil {
		return nil, f.captureErr
	}
	c := &models.ScrapedContent{
		URL:         u,
		Title:       "Page " + u.Resolved,
		TextContent: "body text",
		Timestamp:   1000,
		Media:       []models.ScrapedMedia{},
	}
	if wantScreenshot {
		c.Screenshot = []byte("png")
	}
	return c, nil
}

func (f *fakeScraper) allClosed(t *testing.T) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, p := range f.pages {
		assert.Equal(t, int32(1), p.closed.Load(), "page %d closed", i)
	}
}

type fakeVideo struct {
	details models.VideoDetails
	calls   atomic.Int32
}

func (f *fakeVideo) Process(context.Context, string) models.VideoDetails {
	f.calls.Add(1)
	return f.details
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]*models.ScrapedContent
	puts    []time.Duration
	putErr  error
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]*models.ScrapedContent)}
}

func (c *fakeCache) Get(resolvedURL string) (*models.ScrapedContent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[resolvedURL]
	return e, ok
}

func (c *fakeCache) Put(content *models.ScrapedContent, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.puts = append(c.puts, ttl)
	if c.putErr != nil {
		return c.putErr
	}
	c.entries[content.URL.Resolved] = content
	return nil
}

func TestProcessURL_CacheHitSkipsBranches(t *testing.T) {
	sc := &fakeScraper{redirect: map[string]string{"http://a.test": "https://a.test/"}}
	vp := &fakeVideo{}
	cc := newFakeCache()
	cached := &models.ScrapedContent{
		URL:   models.ResolvedURL{Original: "http://a.test", Resolved: "https://a.test/"},
		Title: "cached",
	}
	cc.entries["https://a.test/"] = cached

	o := New(sc, vp, cc)
	got, outcome := o.ProcessURL(context.Background(), "http://a.test")

	assert.Same(t, cached, got)
	assert.Equal(t, models.OutcomeCacheHit, outcome)
	assert.Zero(t, sc.captures.Load())
	assert.Zero(t, vp.calls.Load())
	assert.Empty(t, cc.puts)
	sc.allClosed(t)
}

func TestProcessURL_MergedSuccess(t *testing.T) {
	sc := &fakeScraper{}
	vp := &fakeVideo{details: models.VideoDetails{
		IsVideo:   true,
		IsYouTube: true,
		VideoPath: "/cache/youtube.com/k.mp4",
	}}
	cc := newFakeCache()

	o := New(sc, vp, cc, WithTTL(2*time.Hour))
	got, outcome := o.ProcessURL(context.Background(), "https://youtube.com/watch?v=1")

	require.NotNil(t, got)
	assert.Equal(t, models.OutcomeMergedSuccess, outcome)
	assert.Equal(t, "Page https://youtube.com/watch?v=1", got.Title)
	assert.Equal(t, []byte("png"), got.Screenshot)
	require.NotNil(t, got.VideoDetails)
	assert.Equal(t, "/cache/youtube.com/k.mp4", got.VideoDetails.VideoPath)
	assert.Equal(t, []time.Duration{2 * time.Hour}, cc.puts)
	sc.allClosed(t)
}

func TestProcessURL_PageWithoutVideo(t *testing.T) {
	o := New(&fakeScraper{}, &fakeVideo{}, newFakeCache(), WithScreenshots(false))
	got, outcome := o.ProcessURL(context.Background(), "https://example.com")

	require.NotNil(t, got)
	assert.Equal(t, models.OutcomeMergedSuccess, outcome)
	assert.Nil(t, got.VideoDetails)
	assert.Nil(t, got.Screenshot)
}

func TestProcessURL_VideoOnly(t *testing.T) {
	sc := &fakeScraper{captureErr: errors.New("capture failed after 3 attempts")}
	vp := &fakeVideo{details: models.VideoDetails{
		IsVideo:  true,
		Metadata: map[string]any{"title": "Cat video"},
	}}
	cc := newFakeCache()
	now := time.Unix(5000, 0)

	o := New(sc, vp, cc, WithClock(func() time.Time { return now }))
	got, outcome := o.ProcessURL(context.Background(), "https://vimeo.com/1")

	require.NotNil(t, got)
	assert.Equal(t, models.OutcomeVideoOnlySuccess, outcome)
	assert.Equal(t, "Cat video", got.Title)
	assert.Empty(t, got.TextContent)
	assert.Nil(t, got.Screenshot)
	assert.Equal(t, float64(5000), got.Timestamp)
	require.NotNil(t, got.VideoDetails)
	assert.True(t, got.VideoDetails.IsVideo)
	assert.Len(t, cc.puts, 1)
	sc.allClosed(t)
}

func TestProcessURL_VideoOnlyUntitled(t *testing.T) {
	sc := &fakeScraper{captureErr: errors.New("boom")}
	vp := &fakeVideo{details: models.VideoDetails{IsVideo: true}}

	got, _ := New(sc, vp, newFakeCache()).ProcessURL(context.Background(), "https://x.test/v")
	require.NotNil(t, got)
	assert.Equal(t, models.UntitledVideo, got.Title)
}

func TestProcessURL_TotalFailureWritesNothing(t *testing.T) {
	sc := &fakeScraper{captureErr: errors.New("boom")}
	cc := newFakeCache()

	got, outcome := New(sc, &fakeVideo{}, cc).ProcessURL(context.Background(), "https://x.test")

	assert.Nil(t, got)
	assert.Equal(t, models.OutcomeFailure, outcome)
	assert.Empty(t, cc.puts)
	sc.allClosed(t)
}

func TestProcessURL_ResolveFailure(t *testing.T) {
	sc := &fakeScraper{resolveErr: map[string]error{"https://down.test": errors.New("net::ERR_NAME_NOT_RESOLVED")}}
	vp := &fakeVideo{}
	cc := newFakeCache()

	got, outcome := New(sc, vp, cc).ProcessURL(context.Background(), "https://down.test")

	assert.Nil(t, got)
	assert.Equal(t, models.OutcomeFailure, outcome)
	assert.Zero(t, sc.captures.Load())
	assert.Zero(t, vp.calls.Load())
}

func TestProcessURL_CacheWriteErrorStillReturns(t *testing.T) {
	cc := newFakeCache()
	cc.putErr = errors.New("disk full")

	got, outcome := New(&fakeScraper{}, &fakeVideo{}, cc).ProcessURL(context.Background(), "https://x.test")
	assert.NotNil(t, got)
	assert.Equal(t, models.OutcomeMergedSuccess, outcome)
}

func TestProcessURL_CapturePanicIsContained(t *testing.T) {
	sc := &fakeScraper{panicOn: "https://bad.test"}

	got, outcome := New(sc, &fakeVideo{}, newFakeCache()).ProcessURL(context.Background(), "https://bad.test")

	assert.Nil(t, got)
	assert.Equal(t, models.OutcomeFailure, outcome)
	sc.allClosed(t)
}

type panicCache struct{ fakeCache }

func (*panicCache) Get(string) (*models.ScrapedContent, bool) { panic("index corrupted") }

func TestProcessURL_PanicIsContained(t *testing.T) {
	sc := &fakeScraper{}
	got, outcome := New(sc, &fakeVideo{}, &panicCache{}).ProcessURL(context.Background(), "https://x.test")

	assert.Nil(t, got)
	assert.Equal(t, models.OutcomeFailure, outcome)
	sc.allClosed(t)
}

func TestProcessURLs_SkipsFailuresKeepsOrder(t *testing.T) {
	sc := &fakeScraper{resolveErr: map[string]error{
		"https://b.test": errors.New("navigation failed after 3 attempts"),
	}}
	cc := newFakeCache()
	o := New(sc, &fakeVideo{}, cc, WithMaxConcurrent(2))

	got := o.ProcessURLs(context.Background(), []string{"https://a.test", "https://b.test", "https://c.test"})

	require.Len(t, got, 2)
	assert.Equal(t, "https://a.test", got[0].URL.Original)
	assert.Equal(t, "https://c.test", got[1].URL.Original)
	assert.Len(t, cc.puts, 2)
	sc.allClosed(t)
}

func TestProcessAll_IndexAligned(t *testing.T) {
	sc := &fakeScraper{resolveErr: map[string]error{"https://b.test": errors.New("x")}}
	got := New(sc, &fakeVideo{}, newFakeCache()).ProcessAll(context.Background(), []string{"https://a.test", "https://b.test"})

	require.Len(t, got, 2)
	assert.NotNil(t, got[0])
	assert.Nil(t, got[1])
}

type slowScraper struct {
	fakeScraper
	running atomic.Int32
	peak    atomic.Int32
}

func (s *slowScraper) Capture(ctx context.Context, page browser.Page, u models.ResolvedURL, shot bool) (*models.ScrapedContent, error) {
	n := s.running.Add(1)
	defer s.running.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	return s.fakeScraper.Capture(ctx, page, u, shot)
}

func TestProcessURLs_ConcurrencyBounded(t *testing.T) {
	sc := &slowScraper{}
	o := New(sc, &fakeVideo{}, newFakeCache(), WithMaxConcurrent(3))

	urls := make([]string, 10)
	for i := range urls {
		urls[i] = "https://x.test/" + string(rune('a'+i))
	}
	got := o.ProcessURLs(context.Background(), urls)

	assert.Len(t, got, 10)
	assert.LessOrEqual(t, sc.peak.Load(), int32(3))
}

func TestProcessGroundingURLs(t *testing.T) {
	got := New(&fakeScraper{}, &fakeVideo{}, newFakeCache()).ProcessGroundingURLs(context.Background(), []string{"https://a.test"})
	assert.Len(t, got, 1)
}

func TestProcessURLs_Empty(t *testing.T) {
	assert.Empty(t, New(&fakeScraper{}, &fakeVideo{}, newFakeCache()).ProcessURLs(context.Background(), nil))
}
