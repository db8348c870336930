package citation

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	// numberedPattern matches bracketed numeric citations: [1], [23].
	numberedPattern = regexp.MustCompile(`\[(\d+)\]`)
	// authorYearPattern matches parenthetical author-year citations:
	// (Smith, 2021), (Smith, Jones, 2019).
	authorYearPattern = regexp.MustCompile(`\(([A-Za-z][A-Za-z\s.,&-]*),\s*(\d{4})\)`)
)

// Extract finds all citations in the text, in both numbered and author-year
// form. Results are unique by span and ordered by position.
func Extract(text string) []Extracted {
	var out []Extracted
	seen := make(map[[2]int]bool)

	for _, m := range numberedPattern.FindAllStringSubmatchIndex(text, -1) {
		span := [2]int{m[0], m[1]}
		if seen[span] {
			continue
		}
		seen[span] = true
		num, _ := strconv.Atoi(text[m[2]:m[3]])
		out = append(out, Extracted{
			Kind:   KindNumbered,
			Span:   span,
			Text:   text[m[0]:m[1]],
			Number: num,
		})
	}

	for _, m := range authorYearPattern.FindAllStringSubmatchIndex(text, -1) {
		span := [2]int{m[0], m[1]}
		if seen[span] {
			continue
		}
		seen[span] = true
		year, _ := strconv.Atoi(text[m[4]:m[5]])
		out = append(out, Extracted{
			Kind:    KindAuthorYear,
			Span:    span,
			Text:    text[m[0]:m[1]],
			Authors: strings.TrimSpace(text[m[2]:m[3]]),
			Year:    year,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Span[0] < out[j].Span[0] })
	return out
}
