package cleaner

import (
	"net/url"
	"strings"

	"github.com/andybalholm/cascadia"
	"github.com/use-agent/glimpse/models"
	"golang.org/x/net/html"
)

var mediaSelector = cascadia.MustCompile("img, video, audio, source[src], iframe[src]")

// embedHosts are iframe hosts that carry playable media.
var embedHosts = []string{
	"youtube.com",
	"youtube-nocookie.com",
	"player.vimeo.com",
	"dailymotion.com",
	"player.twitch.tv",
	"open.spotify.com",
	"w.soundcloud.com",
}

// ExtractMedia lists the images, video, audio and media embeds on the page
// with absolute URLs, deduplicated, in document order. Data URIs are skipped.
func ExtractMedia(rawHTML string, sourceURL string) []models.ScrapedMedia {
	media := []models.ScrapedMedia{}

	base, err := url.Parse(sourceURL)
	if err != nil {
		return media
	}
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return media
	}

	seen := make(map[string]struct{})
	add := func(kind, raw string, meta map[string]any) {
		abs, ok := absoluteURL(base, raw)
		if !ok {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		media = append(media, models.ScrapedMedia{MediaType: kind, URL: abs, Metadata: meta})
	}

	for _, n := range cascadia.QueryAll(doc, mediaSelector) {
		switch n.Data {
		case "img":
			src := attr(n, "src")
			if src == "" {
				src = attr(n, "data-src")
			}
			add("image", src, attrMeta(n, "alt", "width", "height"))

		case "video":
			if src := attr(n, "src"); src != "" {
				add("video", src, attrMeta(n, "poster", "width", "height"))
			}

		case "audio":
			if src := attr(n, "src"); src != "" {
				add("audio", src, nil)
			}

		case "source":
			if n.Parent == nil {
				continue
			}
			switch n.Parent.Data {
			case "video", "audio":
				add(n.Parent.Data, attr(n, "src"), attrMeta(n, "type"))
			}

		case "iframe":
			src := attr(n, "src")
			if isEmbed(base, src) {
				add("embed", src, attrMeta(n, "title"))
			}
		}
	}
	return media
}

func absoluteURL(base *url.URL, raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	resolved, err := base.Parse(raw)
	if err != nil {
		return "", false
	}
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", false
	}
	return resolved.String(), true
}

func isEmbed(base *url.URL, raw string) bool {
	abs, ok := absoluteURL(base, raw)
	if !ok {
		return false
	}
	u, err := url.Parse(abs)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range embedHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// attrMeta copies the listed non-empty attributes into a metadata map, or
// returns nil when none are set.
func attrMeta(n *html.Node, keys ...string) map[string]any {
	var m map[string]any
	for _, k := range keys {
		v := strings.TrimSpace(attr(n, k))
		if v == "" {
			continue
		}
		if m == nil {
			m = make(map[string]any, len(keys))
		}
		m[k] = v
	}
	return m
}
