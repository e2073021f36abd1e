package cleaner

import (
	"math"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Block scoring weights. A body child is kept when its weighted score is
// positive.
const (
	wTextDensity   = 3.0
	wLinkDensity   = -2.0
	wTagWeight     = 1.5
	wClassIDWeight = 1.0
	wTextLength    = 0.5
)

var (
	contentHints = []string{
		"content", "article", "post", "entry", "body", "main", "text",
	}
	boilerplateHints = []string{
		"sidebar", "ad", "widget", "nav", "menu", "comment", "footer",
		"header", "banner", "popup", "modal", "cookie", "social", "share",
		"related", "recommend", "promo",
	}
)

// blockSignals are the per-block measurements the scorer combines.
type blockSignals struct {
	textDensity float64 // visible text / serialized size
	linkDensity float64 // anchor text / visible text
	tag         float64
	classID     float64
	textLength  float64 // log10 of visible text length
}

func (s blockSignals) score() float64 {
	return s.textDensity*wTextDensity +
		s.linkDensity*wLinkDensity +
		s.tag*wTagWeight +
		s.classID*wClassIDWeight +
		s.textLength*wTextLength
}

// MainContentFallback picks the main content of pages readability rejects
// (short pages, app shells, video landing pages). Each direct child of
// <body> is scored and the ones that look like content are kept. It returns
// "" when the page has no body or nothing scores as content.
func MainContentFallback(rawHTML string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return ""
	}
	body := doc.Find("body")
	if body.Length() == 0 {
		return ""
	}
	body.Find("script, style, noscript, template").Remove()

	var kept []string
	body.Children().Each(func(_ int, el *goquery.Selection) {
		sig, ok := measure(el)
		if !ok || sig.score() <= 0 {
			return
		}
		if h, err := goquery.OuterHtml(el); err == nil {
			kept = append(kept, h)
		}
	})
	return strings.Join(kept, "\n")
}

func measure(el *goquery.Selection) (blockSignals, bool) {
	outer, err := goquery.OuterHtml(el)
	if err != nil || outer == "" {
		return blockSignals{}, false
	}
	text := strings.TrimSpace(el.Text())
	if text == "" {
		return blockSignals{}, false
	}

	linkText := 0
	el.Find("a").Each(func(_ int, a *goquery.Selection) {
		linkText += len(strings.TrimSpace(a.Text()))
	})

	return blockSignals{
		textDensity: float64(len(text)) / float64(len(outer)),
		linkDensity: float64(linkText) / float64(len(text)),
		tag:         tagWeight(goquery.NodeName(el)),
		classID:     classIDWeight(el),
		textLength:  math.Log10(float64(len(text)) + 1),
	}, true
}

func tagWeight(tag string) float64 {
	switch tag {
	case "article", "main", "section":
		return 5.0
	case "nav", "footer", "aside", "header":
		return -5.0
	}
	return 0
}

// classIDWeight counts at most one hint in each direction.
func classIDWeight(el *goquery.Selection) float64 {
	class, _ := el.Attr("class")
	id, _ := el.Attr("id")
	attrs := strings.ToLower(class + " " + id)

	score := 0.0
	if containsAny(attrs, contentHints) {
		score += 3.0
	}
	if containsAny(attrs, boilerplateHints) {
		score -= 3.0
	}
	return score
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
