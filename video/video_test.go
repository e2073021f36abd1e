package video

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/glimpse/config"
)

type fakeTool struct {
	mu    sync.Mutex
	calls []ExtractOptions
	info  map[string]any
	err   error
	delay time.Duration

	running atomic.Int32
	peak    atomic.Int32
}

func (f *fakeTool) ExtractInfo(ctx context.Context, _ string, opts ExtractOptions) (map[string]any, error) {
	n := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, opts)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.info, f.err
}

type fakeStore struct {
	video string
}

func (s *fakeStore) VideoPathFor(string) string { return s.video }
func (s *fakeStore) BasePathFor(string) string  { return "/cache/example.com/abc" }

func enabledConfig() config.VideoConfig {
	return config.VideoConfig{Enabled: true, Workers: 2, Timeout: time.Second}
}

func TestProcess_Download(t *testing.T) {
	tool := &fakeTool{info: map[string]any{
		"title":    "A clip",
		"duration": 42.0,
		"formats":  []any{map[string]any{"format_id": "18"}},
		"requested_downloads": []any{
			map[string]any{"filepath": "/cache/example.com/abc.mp4"},
		},
	}}
	e := NewExtractor(tool, &fakeStore{}, enabledConfig())

	vd := e.Process(context.Background(), "https://www.youtube.com/watch?v=abc")

	assert.True(t, vd.IsVideo)
	assert.True(t, vd.IsYouTube)
	assert.Equal(t, "/cache/example.com/abc.mp4", vd.VideoPath)
	assert.Equal(t, "A clip", vd.Metadata["title"])
	assert.NotContains(t, vd.Metadata, "formats")

	require.Len(t, tool.calls, 1)
	opts := tool.calls[0]
	assert.True(t, opts.Download)
	assert.Equal(t, "/cache/example.com/abc.%(ext)s", opts.OutputTemplate)
	assert.Equal(t, "bestvideo+bestaudio/best", opts.Format)
}

func TestProcess_CachedVideoSkipsDownload(t *testing.T) {
	tool := &fakeTool{info: map[string]any{"title": "cached"}}
	e := NewExtractor(tool, &fakeStore{video: "/cache/example.com/abc.webm"}, enabledConfig())

	vd := e.Process(context.Background(), "https://vimeo.com/123")

	assert.True(t, vd.IsVideo)
	assert.False(t, vd.IsYouTube)
	assert.Equal(t, "/cache/example.com/abc.webm", vd.VideoPath)
	assert.Equal(t, "cached", vd.Metadata["title"])
	require.Len(t, tool.calls, 1)
	assert.False(t, tool.calls[0].Download)
}

func TestProcess_CachedVideoMetadataFailureStillVideo(t *testing.T) {
	tool := &fakeTool{err: errors.New("blocked")}
	e := NewExtractor(tool, &fakeStore{video: "/v.mp4"}, enabledConfig())

	vd := e.Process(context.Background(), "https://example.com/v")
	assert.True(t, vd.IsVideo)
	assert.Nil(t, vd.Metadata)
}

func TestProcess_NotAVideo(t *testing.T) {
	e := NewExtractor(&fakeTool{}, &fakeStore{}, enabledConfig())
	vd := e.Process(context.Background(), "https://example.com/article")
	assert.False(t, vd.IsVideo)
	assert.Empty(t, vd.VideoPath)
}

func TestProcess_ToolErrorIsNotVideo(t *testing.T) {
	e := NewExtractor(&fakeTool{err: errors.New("exec: yt-dlp not found")}, &fakeStore{}, enabledConfig())
	vd := e.Process(context.Background(), "https://example.com/article")
	assert.False(t, vd.IsVideo)
}

func TestProcess_Disabled(t *testing.T) {
	tool := &fakeTool{info: map[string]any{"title": "x"}}
	e := NewExtractor(tool, &fakeStore{}, config.VideoConfig{Enabled: false})
	assert.False(t, e.Process(context.Background(), "https://youtu.be/x").IsVideo)
	assert.Empty(t, tool.calls)
}

func TestProcess_ForceGenericOnlyOffYouTube(t *testing.T) {
	tool := &fakeTool{}
	cfg := enabledConfig()
	cfg.ForceGeneric = true
	e := NewExtractor(tool, &fakeStore{}, cfg)

	e.Process(context.Background(), "https://example.com/page")
	e.Process(context.Background(), "https://youtu.be/abc")

	require.Len(t, tool.calls, 2)
	assert.True(t, tool.calls[0].ForceGeneric)
	assert.False(t, tool.calls[1].ForceGeneric)
}

func TestProcess_WorkerPoolBounded(t *testing.T) {
	tool := &fakeTool{delay: 20 * time.Millisecond}
	e := NewExtractor(tool, &fakeStore{}, enabledConfig())

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Process(context.Background(), "https://example.com/x")
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, tool.peak.Load(), int32(2))
}

func TestProcess_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := NewExtractor(&fakeTool{info: map[string]any{"title": "x"}}, &fakeStore{}, enabledConfig())
	assert.False(t, e.Process(ctx, "https://example.com/x").IsVideo)
}

func TestIsYouTube(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://www.youtube.com/watch?v=1", true},
		{"https://m.youtube.com/watch?v=1", true},
		{"https://youtu.be/1", true},
		{"https://www.youtube-nocookie.com/embed/1", true},
		{"https://example.com/?ref=youtube.com", false},
		{"https://notyoutube.com/x", false},
		{"::", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsYouTube(tt.url), tt.url)
	}
}

func TestBuildArgs(t *testing.T) {
	args := buildArgs("https://example.com/v", ExtractOptions{
		Download:       true,
		OutputTemplate: "/c/x.%(ext)s",
		Format:         "best",
		ForceGeneric:   true,
	})
	assert.Contains(t, args, "--no-simulate")
	assert.Contains(t, args, "--force-generic-extractor")
	assert.Subset(t, args, []string{"--match-filter", "!is_live", "-o", "/c/x.%(ext)s", "-f", "best"})
	assert.Equal(t, []string{"--", "https://example.com/v"}, args[len(args)-2:])

	meta := buildArgs("https://example.com/v", ExtractOptions{})
	assert.Contains(t, meta, "--skip-download")
	assert.NotContains(t, meta, "-o")
}

func TestParseInfo(t *testing.T) {
	info, err := parseInfo(nil)
	assert.NoError(t, err)
	assert.Nil(t, info)

	info, err = parseInfo([]byte("null\n"))
	assert.NoError(t, err)
	assert.Nil(t, info)

	info, err = parseInfo([]byte("some log line\n{\"title\":\"x\",\"duration\":3}\n"))
	require.NoError(t, err)
	assert.Equal(t, "x", info["title"])

	_, err = parseInfo([]byte("{broken"))
	assert.Error(t, err)
}

func TestDownloadedPath(t *testing.T) {
	assert.Equal(t, "/a.mp4", downloadedPath(map[string]any{"filepath": "/a.mp4"}))
	assert.Equal(t, "/b.mkv", downloadedPath(map[string]any{
		"requested_downloads": []any{map[string]any{"filepath": "/b.mkv"}},
	}))
	assert.Equal(t, "/c.webm", downloadedPath(map[string]any{"_filename": "/c.webm"}))
	assert.Empty(t, downloadedPath(map[string]any{"title": "x"}))
}
