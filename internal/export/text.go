package export

import (
	"html"
	"regexp"
	"strings"
)

var listItemPattern = regexp.MustCompile(`^\s*(\d+)[.)]\s+(.*)$`)

// TextToHTML renders the plain-text document. Blank lines separate blocks; a
// block made only of "N. item" lines becomes an ordered list, anything else a
// paragraph with line breaks preserved.
func TextToHTML(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	var b strings.Builder
	for _, block := range splitBlocks(content) {
		if items, start, ok := listItems(block); ok {
			if start != "1" {
				b.WriteString(`<ol start="` + start + `">`)
			} else {
				b.WriteString("<ol>")
			}
			for _, item := range items {
				b.WriteString("<li>" + html.EscapeString(item) + "</li>")
			}
			b.WriteString("</ol>\n")
			continue
		}
		escaped := make([]string, len(block))
		for i, line := range block {
			escaped[i] = html.EscapeString(line)
		}
		b.WriteString("<p>" + strings.Join(escaped, "<br>") + "</p>\n")
	}
	return b.String()
}

func splitBlocks(content string) [][]string {
	blocks := make([][]string, 0)
	current := make([]string, 0)
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) == "" {
			if len(current) > 0 {
				blocks = append(blocks, current)
				current = make([]string, 0)
			}
			continue
		}
		current = append(current, strings.TrimRight(line, " \t"))
	}
	if len(current) > 0 {
		blocks = append(blocks, current)
	}
	return blocks
}

func listItems(block []string) ([]string, string, bool) {
	items := make([]string, 0, len(block))
	start := ""
	for _, line := range block {
		match := listItemPattern.FindStringSubmatch(line)
		if match == nil {
			return nil, "", false
		}
		if start == "" {
			start = match[1]
		}
		items = append(items, match[2])
	}
	return items, start, true
}

// documentTitle is the first non-blank line of content.
func documentTitle(content string) string {
	for _, line := range strings.Split(content, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return "document"
}
