package readability

import (
	"strings"
	"testing"
)

func TestAnalyzeEmpty(t *testing.T) {
	a := New(nil)
	for _, text := range []string{"", "   ", "\n\t"} {
		m := a.Analyze(text)
		if m.Level != "not analyzable" {
			t.Errorf("Analyze(%q).Level = %q", text, m.Level)
		}
		if m.Score != 0 || m.Words != 0 || m.Sentences != 0 {
			t.Errorf("Analyze(%q) = %+v, want zeroed metrics", text, m)
		}
		if len(m.Suggestions) != 1 {
			t.Errorf("suggestions = %v", m.Suggestions)
		}
	}
}

func TestAnalyzeSimpleText(t *testing.T) {
	a := New(nil)
	m := a.Analyze("The cat sat on the mat. The dog ran to the park. We like short words.")

	if m.CJK {
		t.Error("Latin text took the CJK branch")
	}
	if m.Sentences != 3 {
		t.Errorf("sentences = %d, want 3", m.Sentences)
	}
	if m.Words != 16 {
		t.Errorf("words = %d, want 16", m.Words)
	}
	// Short monosyllabic sentences land at the top of the scale.
	if m.Score < 90 {
		t.Errorf("score = %v, want easy reading", m.Score)
	}
	if m.Level != "very easy" {
		t.Errorf("level = %q", m.Level)
	}
	if m.Grade != 0 {
		t.Errorf("grade = %v, want floor of 0 for trivial text", m.Grade)
	}
	if len(m.Suggestions) != 1 || !strings.Contains(m.Suggestions[0], "good") {
		t.Errorf("suggestions = %v", m.Suggestions)
	}
}

func TestAnalyzeComplexText(t *testing.T) {
	a := New(nil)
	sentence := "Notwithstanding considerable methodological heterogeneity, " +
		"interdisciplinary investigations demonstrating statistically significant " +
		"correlations necessitate comprehensive epistemological reconsideration " +
		"of contemporary theoretical paradigms underlying institutional frameworks"
	m := a.Analyze(sentence + " and " + sentence + ".")

	if m.Score != 0 {
		t.Errorf("score = %v, want clamp to 0 for dense text", m.Score)
	}
	if m.Level != "very difficult" {
		t.Errorf("level = %q", m.Level)
	}
	if m.Grade <= 12 {
		t.Errorf("grade = %v, want postgraduate territory", m.Grade)
	}
	if len(m.Suggestions) < 3 {
		t.Errorf("suggestions = %v, want concrete advice", m.Suggestions)
	}
	if !strings.Contains(strings.Join(m.Suggestions, "\n"), "too long") {
		t.Errorf("long sentences not flagged: %v", m.Suggestions)
	}
}

func TestAnalyzeScoreBounds(t *testing.T) {
	a := New(nil)
	texts := []string{
		"Go. Run. Hide.",
		"A reasonably typical sentence with a mixture of longer and shorter words.",
		strings.Repeat("incomprehensibility ", 40) + ".",
	}
	for _, text := range texts {
		m := a.Analyze(text)
		if m.Score < 0 || m.Score > 100 {
			t.Errorf("score %v out of [0,100] for %q", m.Score, text)
		}
		if m.Grade < 0 {
			t.Errorf("grade %v below 0 for %q", m.Grade, text)
		}
	}
}

func TestAnalyzeStripsHTML(t *testing.T) {
	a := New(nil)
	plain := a.Analyze("The cat sat on the mat.")
	tagged := a.Analyze("<p>The <b>cat</b> sat on the mat.</p>")

	if plain.Words != tagged.Words {
		t.Errorf("words = %d with markup, %d without", tagged.Words, plain.Words)
	}
	if plain.Score != tagged.Score {
		t.Errorf("score = %v with markup, %v without", tagged.Score, plain.Score)
	}
}

func TestAnalyzeCJKBranch(t *testing.T) {
	a := New(nil)
	m := a.Analyze("今天天气很好。我们去公园散步。")

	if !m.CJK {
		t.Fatal("CJK text did not take the CJK branch")
	}
	if m.Sentences != 2 {
		t.Errorf("sentences = %d, want 2", m.Sentences)
	}
	if m.Words == 0 || m.Syllables == 0 {
		t.Errorf("metrics = %+v, want segmented words and characters", m)
	}
	if m.Grade < 5 || m.Grade > 12 {
		t.Errorf("grade = %v, want bucketed school grade", m.Grade)
	}
}

func TestIsCJK(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"english", "Hello world", false},
		{"chinese", "你好世界", true},
		{"mostly english with a term", "The word 你好 means hello in a long English sentence about greetings.", false},
		{"mixed majority cjk", "今天天气 nice 我们出去玩吧", true},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isCJK(tt.text); got != tt.want {
				t.Errorf("isCJK(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestCountSyllables(t *testing.T) {
	tests := []struct {
		word string
		want int
	}{
		{"cat", 1},
		{"hello", 2},
		{"readability", 5},
		{"the", 1},
		{"strengths", 1},
		{"idea", 2},
		{"", 0},
	}
	for _, tt := range tests {
		if got := countSyllables(tt.word); got != tt.want {
			t.Errorf("countSyllables(%q) = %d, want %d", tt.word, got, tt.want)
		}
	}
}

func TestMeetsThreshold(t *testing.T) {
	a := New(nil)
	easy := "The cat sat on the mat. The dog ran to the park."
	if !a.MeetsThreshold(easy, 70) {
		t.Error("easy text should meet a threshold of 70")
	}
	if a.MeetsThreshold(easy, 101) {
		t.Error("no text can meet a threshold above the scale")
	}
}

func TestLevelFor(t *testing.T) {
	tests := []struct {
		score float64
		want  string
	}{
		{95, "very easy"},
		{85, "easy"},
		{75, "moderate"},
		{65, "standard"},
		{55, "harder"},
		{40, "difficult"},
		{10, "very difficult"},
	}
	for _, tt := range tests {
		if got := levelFor(tt.score); got != tt.want {
			t.Errorf("levelFor(%v) = %q, want %q", tt.score, got, tt.want)
		}
	}
}
