package places

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var blockElements = map[string]bool{"div": true, "p": true, "br": true, "li": true, "ul": true, "ol": true}

// CleanInstruction turns an HTML step instruction into plain text. Block
// elements are separated by a space so "Turn left<div>Destination</div>"
// does not run together.
func CleanInstruction(html string) string {
	if !strings.ContainsAny(html, "<&") {
		return strings.Join(strings.Fields(html), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.Join(strings.Fields(html), " ")
	}

	var sb strings.Builder
	var walk func(*goquery.Selection)
	walk = func(sel *goquery.Selection) {
		sel.Contents().Each(func(_ int, s *goquery.Selection) {
			name := goquery.NodeName(s)
			switch {
			case name == "#text":
				sb.WriteString(s.Text())
			case blockElements[name]:
				sb.WriteByte(' ')
				walk(s)
				sb.WriteByte(' ')
			default:
				walk(s)
			}
		})
	}
	walk(doc.Find("body"))
	return strings.Join(strings.Fields(sb.String()), " ")
}
