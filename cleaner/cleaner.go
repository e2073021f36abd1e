// Package cleaner turns rendered page HTML into the text, markdown, media
// and metadata stored with a scraped page.
package cleaner

import (
	"log/slog"
	"net/url"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/use-agent/glimpse/models"
)

// Extraction is everything pulled out of one rendered page.
type Extraction struct {
	Title    string
	Text     string
	Markdown string
	Media    []models.ScrapedMedia
	Metadata map[string]any
}

// Cleaner runs the extraction pipeline. The markdown converter is created
// once and is goroutine-safe, so one Cleaner serves every capture.
type Cleaner struct {
	mdConverter *converter.Converter
}

// NewCleaner initialises the Cleaner with a pre-configured Markdown converter.
func NewCleaner() *Cleaner {
	return &Cleaner{
		mdConverter: newMarkdownConverter(),
	}
}

// Extract parses rawHTML rendered from sourceURL.
//
// Flow:
//  1. Title and visible text from the whole document (script/style dropped).
//  2. Main content via readability, rendered to markdown.
//  3. Media references and page metadata.
//
// Only step 1 can fail the extraction; the rest degrade to empty values.
func (c *Cleaner) Extract(rawHTML, sourceURL string) (*Extraction, error) {
	// ── 1. Title + visible text ─────────────────────────────────────
	title, text, err := PageText(rawHTML)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeCapture, "failed to parse page HTML", err)
	}

	// ── 2. Main content → markdown ──────────────────────────────────
	article, ok := ExtractContent(rawHTML, sourceURL)
	mainHTML := article.Content
	if !ok {
		mainHTML = MainContentFallback(rawHTML)
	}
	var markdown string
	if mainHTML != "" {
		domain := ""
		if u, err := url.Parse(sourceURL); err == nil {
			domain = u.Scheme + "://" + u.Host
		}
		md, err := ToMarkdown(c.mdConverter, mainHTML, domain)
		if err != nil {
			slog.Warn("markdown conversion failed", "url", sourceURL, "error", err)
		} else {
			markdown = md
		}
	}

	// ── 3. Media + metadata ─────────────────────────────────────────
	media := ExtractMedia(rawHTML, sourceURL)
	meta := ExtractMetadata(rawHTML)
	if ok {
		putIfSet(meta, "byline", article.Byline)
		putIfSet(meta, "excerpt", article.Excerpt)
		putIfSet(meta, "site_name", article.SiteName)
		putIfSet(meta, "language", article.Language)
		if title == "" {
			title = article.Title
		}
	}
	meta["token_estimate"] = EstimateTokens(text)

	return &Extraction{
		Title:    title,
		Text:     text,
		Markdown: markdown,
		Media:    media,
		Metadata: meta,
	}, nil
}

func putIfSet(m map[string]any, key, value string) {
	if value == "" {
		return
	}
	if _, exists := m[key]; !exists {
		m[key] = value
	}
}
