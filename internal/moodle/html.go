package moodle

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	breakTag     = regexp.MustCompile(`(?i)<br\s*/?>`)
	paragraphEnd = regexp.MustCompile(`(?i)</p\s*>`)
	blankRuns    = regexp.MustCompile(`\n{3,}`)
)

// StripHTML converts a Moodle HTML fragment into plain text. Line breaks and
// paragraph ends are kept as newlines; scripts and styles are dropped.
func StripHTML(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}

	s = breakTag.ReplaceAllString(s, "\n")
	s = paragraphEnd.ReplaceAllString(s, "\n\n")

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	doc.Find("script, style").Remove()

	text := doc.Text()
	text = blankRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
