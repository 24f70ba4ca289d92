// Package rcp parses and chunks RCP pharmaceutical leaflets.
package rcp

import (
	"regexp"
	"strings"

	"github.com/alexban14/ai.dok/internal/domain"
)

// headerRe recognizes RCP section headers: a section number ("4", "4.1",
// "4.2.1") followed by a title in uppercase (including the accented
// uppercase letters of the corpus language) or in title-cased words,
// alone on its line.
var headerRe = regexp.MustCompile(
	`^(\d+(?:\.\d+)*)\s+(` +
		`\p{Lu}[\p{Lu}\s,\-/]*\p{Lu}(?:\s*\([^)]*\))?` + // uppercase run
		`|\p{Lu}\p{Ll}+(?:\s+\p{L}+)*` + // title-cased words
		`)\s*$`)

const (
	preambleTitle = "PREAMBLE"
	fullTextTitle = "FULL_TEXT"
)

// Parser splits raw extracted RCP text into ordered sections.
// The header recognizer is tuned to a single-language corpus; swap the
// regexp to retarget it.
type Parser struct {
	header *regexp.Regexp
}

// NewParser creates a parser with the default corpus header recognizer.
func NewParser() *Parser {
	return &Parser{header: headerRe}
}

// Parse converts text into an ordered list of sections. It never fails:
// with fewer than two recognized headers the whole text is returned as a
// single fallback section and the caller should chunk with the fallback
// method.
func (p *Parser) Parse(text string) ([]domain.Section, domain.ChunkingMethod) {
	lines := strings.Split(text, "\n")

	type rawSection struct {
		number string
		title  string
		lines  []string
	}

	var headers []rawSection
	var preamble []string
	var current *rawSection

	for _, line := range lines {
		if m := p.header.FindStringSubmatch(strings.TrimRight(line, " \t\r")); m != nil {
			headers = append(headers, rawSection{number: m[1], title: strings.TrimSpace(m[2])})
			current = &headers[len(headers)-1]
			continue
		}
		if current == nil {
			preamble = append(preamble, line)
		} else {
			current.lines = append(current.lines, line)
		}
	}

	if len(headers) < 2 {
		return []domain.Section{{
			Number:  "0",
			Title:   fullTextTitle,
			Text:    strings.TrimSpace(text),
			Ordinal: 0,
		}}, domain.ChunkingFallback
	}

	var sections []domain.Section
	if pre := joinLines(preamble); pre != "" {
		sections = append(sections, domain.Section{Number: "0", Title: preambleTitle, Text: pre})
	}
	for _, h := range headers {
		sections = append(sections, domain.Section{
			Number: h.number,
			Title:  h.title,
			Text:   joinLines(h.lines),
		})
	}
	for i := range sections {
		sections[i].Ordinal = i
	}
	return sections, domain.ChunkingSectionAware
}

// SectionByNumber returns the section with the exact number, if present.
func SectionByNumber(sections []domain.Section, number string) (domain.Section, bool) {
	for _, s := range sections {
		if s.Number == number {
			return s, true
		}
	}
	return domain.Section{}, false
}

// SectionsByPrefix returns all sections whose number starts with prefix,
// so "4" selects 4, 4.1, 4.2 and so on.
func SectionsByPrefix(sections []domain.Section, prefix string) []domain.Section {
	var out []domain.Section
	for _, s := range sections {
		if strings.HasPrefix(s.Number, prefix) {
			out = append(out, s)
		}
	}
	return out
}

// joinLines normalizes a section body: lines are trimmed, empty lines are
// dropped, and a trailing hyphen joins a word split across lines.
func joinLines(lines []string) string {
	var b strings.Builder
	pendingHyphen := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		switch {
		case pendingHyphen:
			b.WriteString(line)
		case b.Len() > 0:
			b.WriteByte('\n')
			b.WriteString(line)
		default:
			b.WriteString(line)
		}
		pendingHyphen = false
		if strings.HasSuffix(line, "-") {
			// drop the hyphen and glue the next line directly
			s := b.String()
			b.Reset()
			b.WriteString(s[:len(s)-1])
			pendingHyphen = true
		}
	}
	return b.String()
}
