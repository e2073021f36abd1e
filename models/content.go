package models

import "time"

// ResolvedURL pairs the URL a caller asked for with the URL the browser
// actually landed on after redirects. Cache keys always derive from Resolved.
type ResolvedURL struct {
	Original string `json:"original"`
	Resolved string `json:"resolved"`
}

// VideoDetails describes what the video branch found for a URL.
type VideoDetails struct {
	IsVideo   bool           `json:"is_video"`
	IsYouTube bool           `json:"is_youtube"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	VideoPath string         `json:"video_path,omitempty"`
}

// ScrapedMedia is an embedded media reference found on a page.
type ScrapedMedia struct {
	MediaType string         `json:"media_type"` // "image", "video", "audio", "embed"
	URL       string         `json:"url"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ScrapedContent is the unit returned to callers and persisted in the cache.
type ScrapedContent struct {
	URL         ResolvedURL `json:"url"`
	Title       string      `json:"title,omitempty"`
	TextContent string      `json:"text_content"`

	// Markdown is the main content of the page rendered as Markdown.
	Markdown string `json:"markdown,omitempty"`

	// Screenshot holds PNG bytes in memory only. On disk it lives in a
	// sibling blob referenced by ScreenshotPath.
	Screenshot     []byte `json:"-"`
	ScreenshotPath string `json:"screenshot_path,omitempty"`

	Timestamp    float64        `json:"timestamp"`
	Media        []ScrapedMedia `json:"media"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	VideoDetails *VideoDetails  `json:"video_details,omitempty"`
}

// CacheEntry is the on-disk record for one resolved URL.
type CacheEntry struct {
	Data      *ScrapedContent `json:"data"`
	ExpiresAt float64         `json:"expires"`
}

// Outcome is the terminal state of processing one URL.
type Outcome string

const (
	OutcomeCacheHit         Outcome = "cache_hit"
	OutcomeMergedSuccess    Outcome = "merged_success"
	OutcomeVideoOnlySuccess Outcome = "video_only_success"
	OutcomeFailure          Outcome = "failure"
)

// UntitledVideo is the title given to video-only results whose metadata
// carries no usable title.
const UntitledVideo = "Untitled Video"

// UnixSeconds converts t to fractional unix seconds.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
