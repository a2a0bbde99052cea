package submission

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// successKeywords signal a completed submission when they appear after
// submit and were absent before.
var successKeywords = []string{
	"thank you",
	"thanks for",
	"success",
	"received",
	"submitted",
	"message sent",
	"message has been sent",
	"we'll be in touch",
	"we will be in touch",
	"get back to you",
}

// PageText extracts the visible text of a document, lowercased with
// collapsed whitespace. Script and style bodies are dropped.
func PageText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	doc.Find("script, style, noscript, template").Remove()
	sel := doc.Find("body")
	if sel.Length() == 0 {
		sel = doc.Selection
	}
	return strings.ToLower(strings.Join(strings.Fields(sel.Text()), " "))
}

// NewSuccessKeywords returns the success keywords present in after but not
// in before.
func NewSuccessKeywords(before, after string) []string {
	var found []string
	for _, kw := range successKeywords {
		if strings.Contains(after, kw) && !strings.Contains(before, kw) {
			found = append(found, kw)
		}
	}
	return found
}
