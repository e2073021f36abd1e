package cleaner

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractMetadata reads the page-level <meta> tags worth keeping: the
// description, author, keywords, canonical link and the Open Graph and
// Twitter card properties. The result is never nil.
func ExtractMetadata(rawHTML string) map[string]any {
	meta := make(map[string]any)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return meta
	}

	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		content := strings.TrimSpace(s.AttrOr("content", ""))
		if content == "" {
			return
		}
		name := strings.ToLower(s.AttrOr("name", ""))
		prop := strings.ToLower(s.AttrOr("property", ""))

		switch {
		case name == "description", name == "author", name == "keywords":
			meta[name] = content
		case strings.HasPrefix(prop, "og:"):
			meta[strings.ReplaceAll(prop, ":", "_")] = content
		case strings.HasPrefix(name, "twitter:"):
			meta[strings.ReplaceAll(name, ":", "_")] = content
		}
	})

	if href, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href"); ok && href != "" {
		meta["canonical"] = href
	}
	if lang, ok := doc.Find("html").First().Attr("lang"); ok && lang != "" {
		meta["language"] = lang
	}

	return meta
}
