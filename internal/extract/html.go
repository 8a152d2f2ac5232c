// Package extract converts HTML or plain text into typed entities. It is
// stateless; one Extractor serves every goroutine.
package extract

import (
	"strings"

	"golang.org/x/net/html"
)

// maxInputBytes caps what a single page may feed the extractor. WARC
// payloads can be arbitrarily large; entity signal saturates long before
// this.
const maxInputBytes = 256 << 10

// skipElements never contribute text.
var skipElements = map[string]bool{
	"script": true, "style": true, "noscript": true, "iframe": true,
	"svg": true, "nav": true, "footer": true, "header": true,
}

// StripHTML removes markup and collapses whitespace. Non-HTML input passes
// through collapsed; the parser is tolerant, so this also accepts fragments.
func StripHTML(input string) string {
	if len(input) > maxInputBytes {
		input = input[:maxInputBytes]
	}
	if !strings.Contains(input, "<") {
		return collapseWhitespace(input)
	}

	doc, err := html.Parse(strings.NewReader(input))
	if err != nil {
		return collapseWhitespace(stripTagsCrude(input))
	}

	var sb strings.Builder
	walkText(doc, &sb, 0)
	return collapseWhitespace(sb.String())
}

func walkText(n *html.Node, sb *strings.Builder, depth int) {
	if depth > 50 {
		return
	}

	switch n.Type {
	case html.TextNode:
		text := strings.TrimSpace(n.Data)
		if text != "" {
			sb.WriteString(text)
			sb.WriteString(" ")
		}
	case html.ElementNode:
		if skipElements[n.Data] {
			return
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkText(c, sb, depth+1)
	}
}

// stripTagsCrude drops everything between angle brackets. Only reached when
// the tolerant parser fails outright.
func stripTagsCrude(input string) string {
	var sb strings.Builder
	inTag := false
	for _, r := range input {
		switch {
		case r == '<':
			inTag = true
			sb.WriteRune(' ')
		case r == '>':
			inTag = false
		case !inTag:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
