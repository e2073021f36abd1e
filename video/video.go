// Package video runs the video branch of a capture: detecting whether a URL
// carries a video, downloading it next to the page's cache entry, and
// returning its metadata.
package video

import (
	"context"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/use-agent/glimpse/config"
	"github.com/use-agent/glimpse/models"
	"golang.org/x/sync/semaphore"
)

// PathStore locates video artifacts for a URL. *cache.Store implements it.
type PathStore interface {
	VideoPathFor(resolvedURL string) string
	BasePathFor(resolvedURL string) string
}

// Extractor runs the external tool on a bounded worker pool.
type Extractor struct {
	tool    Tool
	store   PathStore
	cfg     config.VideoConfig
	workers *semaphore.Weighted
}

// NewExtractor creates an extractor. cfg.Workers bounds concurrent tool runs.
func NewExtractor(tool Tool, store PathStore, cfg config.VideoConfig) *Extractor {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	if cfg.Format == "" {
		cfg.Format = "bestvideo+bestaudio/best"
	}
	return &Extractor{
		tool:    tool,
		store:   store,
		cfg:     cfg,
		workers: semaphore.NewWeighted(int64(workers)),
	}
}

// Process reports what video, if any, lives at resolvedURL. It never fails:
// tool errors, unsupported URLs and cancellation all yield IsVideo=false.
func (e *Extractor) Process(ctx context.Context, resolvedURL string) models.VideoDetails {
	if !e.cfg.Enabled {
		return models.VideoDetails{}
	}

	if err := e.workers.Acquire(ctx, 1); err != nil {
		return models.VideoDetails{}
	}
	defer e.workers.Release(1)

	if existing := e.store.VideoPathFor(resolvedURL); existing != "" {
		slog.Info("video found in cache", "url", resolvedURL, "path", existing)
		info, err := e.run(ctx, resolvedURL, false)
		if err != nil {
			slog.Debug("metadata refresh failed for cached video", "url", resolvedURL, "error", err)
		}
		return models.VideoDetails{
			IsVideo:   true,
			IsYouTube: IsYouTube(resolvedURL),
			Metadata:  Metadata(info),
			VideoPath: existing,
		}
	}

	info, err := e.run(ctx, resolvedURL, true)
	if err != nil {
		slog.Debug("video extraction failed", "url", resolvedURL, "error", err)
		return models.VideoDetails{}
	}
	if info == nil {
		slog.Debug("no video at url", "url", resolvedURL)
		return models.VideoDetails{}
	}

	path := downloadedPath(info)
	if path == "" {
		path = e.store.VideoPathFor(resolvedURL)
	}
	slog.Info("video processed", "url", resolvedURL, "path", path)

	return models.VideoDetails{
		IsVideo:   true,
		IsYouTube: IsYouTube(resolvedURL),
		Metadata:  Metadata(info),
		VideoPath: path,
	}
}

func (e *Extractor) run(ctx context.Context, resolvedURL string, download bool) (map[string]any, error) {
	timeout := e.cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts := ExtractOptions{
		Download:     download,
		Format:       e.cfg.Format,
		ForceGeneric: e.cfg.ForceGeneric && !IsYouTube(resolvedURL),
	}
	if download {
		opts.OutputTemplate = e.store.BasePathFor(resolvedURL) + ".%(ext)s"
	}
	return e.tool.ExtractInfo(ctx, resolvedURL, opts)
}

// downloadedPath reads the final file location from a download's info map.
func downloadedPath(info map[string]any) string {
	if p, ok := info["filepath"].(string); ok && p != "" {
		return p
	}
	if reqs, ok := info["requested_downloads"].([]any); ok && len(reqs) > 0 {
		if first, ok := reqs[0].(map[string]any); ok {
			if p, ok := first["filepath"].(string); ok && p != "" {
				return p
			}
		}
	}
	if p, ok := info["_filename"].(string); ok && p != "" {
		return filepath.Clean(p)
	}
	return ""
}

// IsYouTube reports whether rawURL points at a YouTube host.
func IsYouTube(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range []string{"youtube.com", "youtu.be", "youtube-nocookie.com"} {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}
