package llm

import (
	"fmt"
	"strings"
)

// Deterministic mock content served when no provider is configured. The
// pipeline and its gates still run end to end against these artifacts; the
// draft embeds numbered citations so the citation stage has work to do.

func mockOutline(prompt, mode string) string {
	return fmt.Sprintf(`# Outline: %s

## 1. Introduction
- Background
- Why this matters
- Main argument

## 2. Body
### 2.1 First point
- Explanation
- Supporting evidence

### 2.2 Second point
- Explanation
- Supporting evidence

### 2.3 Third point
- Explanation
- Supporting evidence

## 3. Conclusion
- Summary of points
- Implications
- Outlook

## References
[to be added — %s style]`, prompt, mode)
}

func mockContent(outline string, targetWords int) string {
	title := "Untitled Document"
	for _, line := range strings.Split(outline, "\n") {
		if t := strings.TrimSpace(strings.TrimPrefix(line, "# ")); strings.HasPrefix(line, "# ") && t != "" {
			title = strings.TrimPrefix(t, "Outline: ")
			break
		}
	}

	return fmt.Sprintf(`# %s

## Introduction

This article of roughly %d words develops the outline above. The topic carries both
theoretical weight and practical value, and a closer look at the underlying questions
yields a fuller picture of the field [1].

## First point

The first point rests on an established body of work. Prior studies support the claim
through both theory and measurement, and the mechanism behind the observed effect is
reasonably well understood [1]. In practical terms the point shows up in three ways: a
theoretical basis drawn from the existing framework, empirical support from data and
cases, and concrete expression in day to day practice.

## Second point

The second point is related to the first but distinct from it, and together they form a
coherent account. Comparative analysis brings out the internal logic that connects them
[2]. The point matters because it fills a gap in the literature, offers a fresh angle on
the problem, and carries direct guidance for practitioners.

## Third point

The final point draws the threads together and pushes the discussion one step further.
It both summarizes what came before and opens a new line of inquiry, giving a fuller
frame for the whole question [3].

## Conclusion

Three things follow from the discussion. The topic has real theoretical value and feeds
new thinking back into the field. The evidence supports the working hypothesis and with
it the soundness of the method. And the findings carry over into practice, where they
offer usable guidance. There is room left to grow: as methods improve, work in this area
should produce richer results, and wider participation would move the field forward.

## References

[1] Scholar A. An important finding in the field. Leading Journal, 2023, 15(3): 123-145.
[2] Scholar B, Scholar C. Building and applying the framework. Academic Press, 2024.
[3] Scholar D. Methods and practice of empirical study. Research Quarterly, 2024, 28(2): 67-89.`, title, targetWords)
}

// mockGrammar simulates a grammar verdict: one error per 500 words, capped
// at ten, with canned suggestions when anything was "found".
func mockGrammar(content string) *GrammarReport {
	words := len(strings.Fields(content))
	errors := min(10, words/500)

	report := &GrammarReport{
		ErrorCount: errors,
		Corrected:  content,
	}
	if errors > 0 {
		report.Suggestions = []string{
			"Consider restructuring longer sentences",
			"Review punctuation usage",
		}
	}
	return report
}
