package tasks

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	htmlTagOnly   = regexp.MustCompile(`(?i)^</?[a-z][^>]*>$`)
	imageLine     = regexp.MustCompile(`(?i)^<img\s|^!\[.*\]\(.*\)$`)
	svgLine       = regexp.MustCompile(`(?i)<svg|</svg|<path|<circle|<rect|<polygon`)
	linkOnly      = regexp.MustCompile(`(?i)^\[.*\]\(.*\)$|^<a\s.*</a>$`)
	tableDivider  = regexp.MustCompile(`^\|?\s*:?-{3,}:?\s*(\|\s*:?-{3,}:?\s*)*\|?$`)
	anyTag        = regexp.MustCompile(`<[^>]+>`)
	wrappedInTag  = regexp.MustCompile(`(?i)^(<[^>]+>)(.*)(</[^>]+>)$`)
	headingPrefix = regexp.MustCompile(`^#{1,6}\s+`)
	listPrefix    = regexp.MustCompile(`^([-*+]|\d+\.)\s+`)
	quotePrefix   = regexp.MustCompile(`^>\s*`)
	whitespace    = regexp.MustCompile(`\s+`)
)

// segment is one translatable line. The line is rebuilt as
// indent + prefix + translation + suffix.
type segment struct {
	index  int
	indent string
	prefix string
	text   string
	suffix string
}

func (s segment) rebuild(translated string) string {
	return s.indent + s.prefix + translated + s.suffix
}

// extractSegments picks the lines of a markdown document worth
// translating. Code blocks, bare HTML, images and link-only lines are left
// alone.
func extractSegments(lines []string) []segment {
	var out []segment
	inFence := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			continue
		}
		if inFence || trimmed == "" {
			continue
		}
		if htmlTagOnly.MatchString(trimmed) || imageLine.MatchString(trimmed) ||
			svgLine.MatchString(trimmed) || linkOnly.MatchString(trimmed) ||
			tableDivider.MatchString(trimmed) {
			continue
		}

		seg := segment{index: i, indent: line[:len(line)-len(strings.TrimLeft(line, " \t"))]}
		text := trimmed
		for _, re := range []*regexp.Regexp{headingPrefix, listPrefix, quotePrefix} {
			if m := re.FindString(text); m != "" {
				seg.prefix += m
				text = text[len(m):]
			}
		}
		if anyTag.MatchString(text) {
			if m := wrappedInTag.FindStringSubmatch(text); m != nil && !anyTag.MatchString(m[2]) {
				seg.prefix += m[1]
				seg.suffix = m[3]
				text = m[2]
			} else {
				text = strings.TrimSpace(whitespace.ReplaceAllString(anyTag.ReplaceAllString(text, " "), " "))
			}
		}
		if utf8.RuneCountInString(text) < 2 {
			continue
		}
		seg.text = text
		out = append(out, seg)
	}
	return out
}

var batchSeparator = regexp.MustCompile(`\n?%%\n?`)

func joinBatch(batch []segment) string {
	texts := make([]string, len(batch))
	for i, s := range batch {
		texts[i] = s.text
	}
	return strings.Join(texts, "\n%%\n")
}

func splitBatch(response string) []string {
	return batchSeparator.Split(strings.TrimSpace(response), -1)
}
