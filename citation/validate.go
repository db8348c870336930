package citation

import (
	"context"
	"fmt"
	"log/slog"
)

// minSearchScore is the relevance floor for accepting a search match as
// verification of an author-year citation.
const minSearchScore = 80

// ResultStatus classifies one citation's validation outcome.
type ResultStatus string

const (
	// StatusValid means the citation was verified against the
	// bibliographic service.
	StatusValid ResultStatus = "valid"
	// StatusFormatOnly means the citation passed the format check but its
	// content was not verified against a bibliography. Numbered citations
	// land here.
	StatusFormatOnly ResultStatus = "format_only"
	// StatusUnverified means the service had no sufficiently relevant
	// match for the citation.
	StatusUnverified ResultStatus = "unverified"
)

// CitationResult pairs an extracted citation with its validation outcome.
type CitationResult struct {
	Citation Extracted    `json:"citation"`
	Status   ResultStatus `json:"status"`
	Message  string       `json:"message,omitempty"`
	Match    *Record      `json:"match,omitempty"`
}

// Report summarizes a bibliography validation run. Valid counts both
// verified and format-only citations; FormatOnly is reported separately so
// callers can see how much of the count is content-unverified.
type Report struct {
	Total          int              `json:"total_citations"`
	Valid          int              `json:"valid_citations"`
	Invalid        int              `json:"invalid_citations"`
	FormatOnly     int              `json:"format_only_citations"`
	Citations      []CitationResult `json:"citations"`
	Errors         []string         `json:"errors,omitempty"`
	ValidationRate float64          `json:"validation_rate"`
}

// Validator checks a document's citations against the bibliographic
// service.
type Validator struct {
	client *Client
	logger *slog.Logger
}

// NewValidator creates a validator over the lookup client.
func NewValidator(client *Client, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{client: client, logger: logger}
}

// ValidateBibliography extracts every citation in the text and validates
// each one. Numbered citations pass on format alone; author-year citations
// are verified by a relevance search. Lookup failures mark the citation
// invalid rather than failing the run, so a flaky service degrades the rate
// instead of the stage. The validation rate of an empty citation set is
// 1.0: a document with no citations has nothing to get wrong.
func (v *Validator) ValidateBibliography(ctx context.Context, text string) (*Report, error) {
	citations := Extract(text)

	report := &Report{
		Total:     len(citations),
		Citations: make([]CitationResult, 0, len(citations)),
	}

	for _, c := range citations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		switch c.Kind {
		case KindNumbered:
			report.Valid++
			report.FormatOnly++
			report.Citations = append(report.Citations, CitationResult{
				Citation: c,
				Status:   StatusFormatOnly,
				Message:  "numbered citation format detected, content unverified",
			})

		case KindAuthorYear:
			result := v.verifyAuthorYear(ctx, c)
			if result.Status == StatusValid {
				report.Valid++
			} else {
				report.Invalid++
			}
			if result.Status == StatusUnverified && result.Message != "" {
				report.Errors = append(report.Errors, result.Message)
			}
			report.Citations = append(report.Citations, result)
		}
	}

	if report.Total > 0 {
		report.ValidationRate = float64(report.Valid) / float64(report.Total)
	} else {
		report.ValidationRate = 1.0
	}
	return report, nil
}

// verifyAuthorYear searches the bibliographic service for the citation and
// accepts the top match when its relevance score clears the floor.
func (v *Validator) verifyAuthorYear(ctx context.Context, c Extracted) CitationResult {
	query := fmt.Sprintf("%s %d", c.Authors, c.Year)
	matches, err := v.client.Search(ctx, query, 1)
	if err != nil {
		v.logger.Warn("citation lookup failed, counting as invalid",
			"citation", c.Text,
			"error", err)
		return CitationResult{
			Citation: c,
			Status:   StatusUnverified,
			Message:  fmt.Sprintf("lookup failed for %s: %v", c.Text, err),
		}
	}

	if len(matches) > 0 && matches[0].Score >= minSearchScore {
		match := matches[0]
		return CitationResult{
			Citation: c,
			Status:   StatusValid,
			Message:  "citation verified via bibliographic search",
			Match:    &match,
		}
	}

	return CitationResult{
		Citation: c,
		Status:   StatusUnverified,
	}
}
