// Package citation extracts citations from document text, resolves DOIs
// against a CrossRef-compatible bibliographic service, formats records per
// style, and computes the validation ratio the citation gate is judged on.
package citation

import (
	"strings"
	"time"
)

// Kind distinguishes the two citation forms the extractor recognizes.
type Kind string

const (
	// KindNumbered is a bracketed numeric citation such as [3].
	KindNumbered Kind = "numbered"
	// KindAuthorYear is a parenthetical citation such as (Smith, 2021).
	KindAuthorYear Kind = "author_year"
)

// Record is a validated bibliographic record, keyed by canonical DOI and
// cached globally.
type Record struct {
	DOI            string         `json:"doi"`
	PMID           string         `json:"pmid,omitempty"`
	Title          string         `json:"title"`
	Authors        []string       `json:"authors"`
	Year           int            `json:"year,omitempty"`
	Journal        string         `json:"journal,omitempty"`
	Volume         string         `json:"volume,omitempty"`
	Pages          string         `json:"pages,omitempty"`
	URL            string         `json:"url,omitempty"`
	Abstract       string         `json:"abstract,omitempty"`
	Score          float64        `json:"score,omitempty"`
	IsValid        bool           `json:"is_valid"`
	ValidationDate time.Time      `json:"validation_date"`
	Extra          map[string]any `json:"extra_metadata,omitempty"`
}

// Extracted is one citation occurrence found in text, unique by span.
type Extracted struct {
	Kind Kind   `json:"kind"`
	Span [2]int `json:"span"`
	Text string `json:"text"`
	// Number is set for numbered citations.
	Number int `json:"number,omitempty"`
	// Authors and Year are set for author-year citations.
	Authors string `json:"authors,omitempty"`
	Year    int    `json:"year,omitempty"`
}

// NormalizeDOI strips URL scheme prefixes, trims whitespace, and lowercases.
// It is idempotent: normalizing a canonical DOI is a no-op.
func NormalizeDOI(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "https://doi.org/")
	s = strings.TrimPrefix(s, "http://dx.doi.org/")
	s = strings.TrimPrefix(s, "doi:")
	return strings.ToLower(strings.TrimSpace(s))
}
