package cleaner

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// PageText returns the document title and its visible text: every text node
// outside script and style, trimmed, joined by single spaces.
func PageText(rawHTML string) (title, text string, err error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return "", "", err
	}

	title = strings.TrimSpace(doc.Find("title").First().Text())

	doc.Find("script, style").Remove()

	var parts []string
	for _, root := range doc.Nodes {
		collectText(root, &parts)
	}
	return title, strings.Join(parts, " "), nil
}

func collectText(n *html.Node, parts *[]string) {
	if n.Type == html.TextNode {
		if s := collapseSpace(n.Data); s != "" {
			*parts = append(*parts, s)
		}
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, parts)
	}
}

// collapseSpace trims s and folds interior whitespace runs to one space.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
