package cleaner

import (
	"log/slog"
	nurl "net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"
)

// minContentLength is the minimum TextContent length (in characters) for a
// readability result to count as main content.
const minContentLength = 50

// ExtractContent runs the Mozilla Readability algorithm on rawHTML and
// reports whether it found a usable main-content block. Pages where it does
// not (landing pages, video pages, app shells) still get text from
// PageText and markdown from MainContentFallback.
func ExtractContent(rawHTML string, sourceURL string) (readability.Article, bool) {
	parsedURL, err := nurl.Parse(sourceURL)
	if err != nil {
		slog.Debug("readability: invalid source URL", "url", sourceURL, "error", err)
		return readability.Article{}, false
	}

	article, err := readability.FromReader(strings.NewReader(rawHTML), parsedURL)
	if err != nil {
		slog.Debug("readability: extraction failed", "url", sourceURL, "error", err)
		return readability.Article{}, false
	}

	if len(strings.TrimSpace(article.TextContent)) < minContentLength {
		slog.Debug("readability: main content too short",
			"url", sourceURL, "length", len(article.TextContent),
		)
		return article, false
	}

	return article, true
}
