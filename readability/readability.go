// Package readability scores text with the Flesch Reading Ease formula and
// derives a grade level, statistics, and revision suggestions. Detection
// picks a CJK or Latin branch per text: CJK substitutes characters per word
// for syllables per word and uses a word segmenter instead of boundary
// matching.
package readability

import (
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/go-ego/gse"
	"golang.org/x/net/html"
)

// cjkRatioThreshold selects the CJK branch when CJK runes exceed this share
// of the non-whitespace runes.
const cjkRatioThreshold = 0.3

var (
	wordRE         = regexp.MustCompile(`[\p{L}\p{N}_]+`)
	vowelGroupRE   = regexp.MustCompile(`[aeiouy]+`)
	whitespaceRE   = regexp.MustCompile(`\s+`)
	latinSplitRE   = regexp.MustCompile(`[.!?]+`)
	cjkSplitRE     = regexp.MustCompile("[。！？；\n]+")
	cjkRuneRanges  = []*unicode.RangeTable{unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul}
	suggestionGood = "Text readability is good, meets target standards"
)

// Metrics is the full analysis result for one text.
type Metrics struct {
	// Score is the Flesch Reading Ease value clamped to [0,100].
	Score float64 `json:"score"`
	// Grade is the Flesch-Kincaid grade level for Latin text and a bucketed
	// grade for CJK text.
	Grade     float64 `json:"grade"`
	Sentences int     `json:"sentences"`
	Words     int     `json:"words"`
	// Syllables holds the character count for CJK text.
	Syllables           int      `json:"syllables"`
	AvgSentenceLength   float64  `json:"avg_sentence_length"`
	AvgSyllablesPerWord float64  `json:"avg_syllables_per_word"`
	Level               string   `json:"level"`
	Suggestions         []string `json:"suggestions"`
	CJK                 bool     `json:"cjk"`
}

// Analyzer computes readability metrics. The CJK segmenter dictionary is
// loaded on first use since Latin-only deployments never need it.
type Analyzer struct {
	logger *slog.Logger

	segOnce sync.Once
	seg     gse.Segmenter
	segErr  error
}

// New creates an analyzer.
func New(logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{logger: logger}
}

// Analyze scores a text. Empty or whitespace-only input yields zeroed
// metrics and a single explanatory suggestion.
func (a *Analyzer) Analyze(text string) Metrics {
	if strings.TrimSpace(text) == "" {
		return Metrics{
			Level:       "not analyzable",
			Suggestions: []string{"Text is empty, nothing to analyze"},
		}
	}
	if isCJK(text) {
		return a.analyzeCJK(text)
	}
	return a.analyzeLatin(text)
}

// MeetsThreshold reports whether the text's score reaches the threshold.
func (a *Analyzer) MeetsThreshold(text string, threshold float64) bool {
	return a.Analyze(text).Score >= threshold
}

func (a *Analyzer) analyzeLatin(text string) Metrics {
	cleaned := cleanText(text)

	sentences := splitSentences(cleaned, latinSplitRE)
	words := wordRE.FindAllString(strings.ToLower(cleaned), -1)

	syllables := 0
	for _, w := range words {
		syllables += countSyllables(w)
	}

	asl := float64(len(words)) / float64(max(len(sentences), 1))
	asw := float64(syllables) / float64(max(len(words), 1))

	score := clampScore(206.835 - 1.015*asl - 84.6*asw)
	grade := 0.39*asl + 11.8*asw - 15.59
	if grade < 0 {
		grade = 0
	}

	return Metrics{
		Score:               score,
		Grade:               grade,
		Sentences:           len(sentences),
		Words:               len(words),
		Syllables:           syllables,
		AvgSentenceLength:   asl,
		AvgSyllablesPerWord: asw,
		Level:               levelFor(score),
		Suggestions:         suggestions(score, asl, asw, 1.5),
	}
}

func (a *Analyzer) analyzeCJK(text string) Metrics {
	cleaned := cleanText(text)

	sentences := splitSentences(cleaned, cjkSplitRE)
	words := a.cutCJK(cleaned)

	chars := 0
	for _, w := range words {
		chars += utf8.RuneCountInString(w)
	}

	asl := float64(len(words)) / float64(max(len(sentences), 1))
	acw := float64(chars) / float64(max(len(words), 1))

	score := clampScore(206.835 - 1.015*asl - 84.6*acw)

	return Metrics{
		Score:               score,
		Grade:               gradeCJK(score),
		Sentences:           len(sentences),
		Words:               len(words),
		Syllables:           chars,
		AvgSentenceLength:   asl,
		AvgSyllablesPerWord: acw,
		Level:               levelFor(score),
		Suggestions:         suggestions(score, asl, acw, 2.5),
		CJK:                 true,
	}
}

// cutCJK segments text into words, falling back to single-rune tokens when
// the dictionary cannot be loaded.
func (a *Analyzer) cutCJK(text string) []string {
	a.segOnce.Do(func() {
		a.segErr = a.seg.LoadDict()
		if a.segErr != nil {
			a.logger.Warn("readability: segmenter dictionary unavailable, using per-rune tokens",
				"error", a.segErr)
		}
	})

	var raw []string
	if a.segErr == nil {
		raw = a.seg.Cut(text, true)
	} else {
		raw = runeTokens(text)
	}

	words := raw[:0]
	for _, w := range raw {
		if strings.TrimSpace(w) != "" {
			words = append(words, w)
		}
	}
	return words
}

// runeTokens treats each CJK rune as a word and keeps other runs intact.
func runeTokens(text string) []string {
	var tokens []string
	var run []rune
	flush := func() {
		if len(run) > 0 {
			tokens = append(tokens, string(run))
			run = run[:0]
		}
	}
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.In(r, cjkRuneRanges...):
			flush()
			tokens = append(tokens, string(r))
		default:
			run = append(run, r)
		}
	}
	flush()
	return tokens
}

// isCJK reports whether CJK runes dominate the non-whitespace content.
func isCJK(text string) bool {
	cjk, total := 0, 0
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.In(r, cjkRuneRanges...) {
			cjk++
		}
	}
	if total == 0 {
		return false
	}
	return float64(cjk)/float64(total) > cjkRatioThreshold
}

// cleanText strips markup and collapses whitespace.
func cleanText(text string) string {
	if strings.Contains(text, "<") {
		tok := html.NewTokenizer(strings.NewReader(text))
		var sb strings.Builder
		for {
			tt := tok.Next()
			if tt == html.ErrorToken {
				break
			}
			if tt == html.TextToken {
				sb.Write(tok.Text())
			}
		}
		text = sb.String()
	}
	return strings.TrimSpace(whitespaceRE.ReplaceAllString(text, " "))
}

func splitSentences(text string, re *regexp.Regexp) []string {
	parts := re.Split(text, -1)
	sentences := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			sentences = append(sentences, p)
		}
	}
	return sentences
}

// countSyllables counts vowel groups, subtracting one for a trailing e, with
// a floor of one per word.
func countSyllables(word string) int {
	if word == "" {
		return 0
	}
	word = strings.ToLower(word)
	n := len(vowelGroupRE.FindAllString(word, -1))
	if strings.HasSuffix(word, "e") {
		n--
	}
	return max(1, n)
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// gradeCJK buckets the score into school grade levels.
func gradeCJK(score float64) float64 {
	switch {
	case score >= 90:
		return 5.0
	case score >= 80:
		return 6.0
	case score >= 70:
		return 7.0
	case score >= 60:
		return 8.0
	case score >= 50:
		return 9.0
	case score >= 40:
		return 10.0
	case score >= 30:
		return 11.0
	default:
		return 12.0
	}
}

func levelFor(score float64) string {
	switch {
	case score >= 90:
		return "very easy"
	case score >= 80:
		return "easy"
	case score >= 70:
		return "moderate"
	case score >= 60:
		return "standard"
	case score >= 50:
		return "harder"
	case score >= 30:
		return "difficult"
	default:
		return "very difficult"
	}
}

// suggestions builds revision advice. complexityLimit is the per-branch
// bound on average syllables (or characters) per word.
func suggestions(score, asl, complexity, complexityLimit float64) []string {
	if score >= 70 {
		return []string{suggestionGood}
	}
	out := []string{"Text readability is below target, consider these improvements:"}
	if asl > 20 {
		out = append(out, "• Sentences are too long, break them into shorter ones")
	}
	if complexity > complexityLimit {
		out = append(out, "• Words are too complex, use simpler vocabulary")
	}
	out = append(out,
		"• Add transition words for better flow",
		"• Use more concrete examples and explanations",
	)
	return out
}
