package citation

import (
	"fmt"
	"strings"
)

// Style selects a bibliographic citation format.
type Style string

const (
	StyleAPA     Style = "apa"
	StyleMLA     Style = "mla"
	StyleChicago Style = "chicago"
)

// ParseStyle maps a string to a Style, defaulting to APA.
func ParseStyle(s string) Style {
	switch Style(strings.ToLower(s)) {
	case StyleMLA:
		return StyleMLA
	case StyleChicago:
		return StyleChicago
	default:
		return StyleAPA
	}
}

// Format renders a record in the given style. Output is deterministic for a
// given record and style.
func Format(rec *Record, style Style) string {
	switch style {
	case StyleMLA:
		return formatMLA(rec)
	case StyleChicago:
		return formatChicago(rec)
	default:
		return formatAPA(rec)
	}
}

// formatAPA renders APA style: ampersand before the last author, ellipsis
// after the sixth when more than six.
func formatAPA(rec *Record) string {
	var author string
	switch n := len(rec.Authors); {
	case n == 0:
		author = "Unknown Author"
	case n == 1:
		author = rec.Authors[0]
	case n <= 6:
		author = strings.Join(rec.Authors[:n-1], ", ") + ", & " + rec.Authors[n-1]
	default:
		author = strings.Join(rec.Authors[:6], ", ") + ", ... " + rec.Authors[n-1]
	}

	year := "n.d."
	if rec.Year > 0 {
		year = fmt.Sprintf("%d", rec.Year)
	}

	title := rec.Title
	if title == "" {
		title = "Unknown Title"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (%s). %s.", author, year, title)
	if rec.Journal != "" {
		sb.WriteString(" " + rec.Journal)
		if rec.Volume != "" {
			sb.WriteString(", " + rec.Volume)
		}
		if rec.Pages != "" {
			sb.WriteString(", " + rec.Pages)
		}
		sb.WriteString(".")
	}
	if rec.DOI != "" {
		sb.WriteString(" https://doi.org/" + rec.DOI)
	}
	return sb.String()
}

// formatMLA renders MLA style: first author inverted, "and" joining the
// rest.
func formatMLA(rec *Record) string {
	var author string
	switch n := len(rec.Authors); {
	case n == 0:
		author = "Unknown Author"
	case n == 1:
		author = rec.Authors[0]
	default:
		author = rec.Authors[0]
		for _, a := range rec.Authors[1:] {
			author += ", and " + uninvert(a)
		}
	}

	title := rec.Title
	if title == "" {
		title = "Unknown Title"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s. \"%s.\"", author, title)
	if rec.Journal != "" {
		sb.WriteString(" " + rec.Journal)
		if rec.Volume != "" {
			sb.WriteString(", vol. " + rec.Volume)
		}
		if rec.Year > 0 {
			fmt.Fprintf(&sb, ", %d", rec.Year)
		}
		if rec.Pages != "" {
			sb.WriteString(", pp. " + rec.Pages)
		}
		sb.WriteString(".")
	}
	return sb.String()
}

// formatChicago renders Chicago author-date style.
func formatChicago(rec *Record) string {
	var author string
	switch n := len(rec.Authors); {
	case n == 0:
		author = "Unknown Author"
	case n == 1:
		author = rec.Authors[0]
	default:
		author = rec.Authors[0]
		for i, a := range rec.Authors[1:] {
			if i == n-2 {
				author += ", and " + uninvert(a)
			} else {
				author += ", " + uninvert(a)
			}
		}
	}

	title := rec.Title
	if title == "" {
		title = "Unknown Title"
	}

	var sb strings.Builder
	sb.WriteString(author + ".")
	if rec.Year > 0 {
		fmt.Fprintf(&sb, " %d.", rec.Year)
	}
	fmt.Fprintf(&sb, " \"%s.\"", title)
	if rec.Journal != "" {
		sb.WriteString(" " + rec.Journal)
		if rec.Volume != "" {
			sb.WriteString(" " + rec.Volume)
		}
		if rec.Pages != "" {
			sb.WriteString(": " + rec.Pages)
		}
		sb.WriteString(".")
	}
	if rec.DOI != "" {
		sb.WriteString(" https://doi.org/" + rec.DOI + ".")
	}
	return sb.String()
}

// uninvert turns "Family, Given" into "Given Family" for non-leading
// authors in MLA and Chicago lists.
func uninvert(name string) string {
	parts := strings.SplitN(name, ", ", 2)
	if len(parts) == 2 {
		return parts[1] + " " + parts[0]
	}
	return name
}
