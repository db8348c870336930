package llm

import "fmt"

// System prompts per writing mode and task. The writing-mode variants are
// configuration, not separate agent types: every mode flows through the same
// gateway operations.
var systemPrompts = map[string]map[string]string{
	"academic": {
		"outline": "You are a professional academic writing assistant. Produce a clearly structured, " +
			"logically rigorous outline for an academic paper, with an introduction, a body of several " +
			"subsections, a conclusion, and a references section.",
		"content": "You are a professional academic writing assistant. Expand the outline into a rigorous " +
			"academic article in formal register, with appropriate citations, clear logic, and well-supported argument.",
	},
	"blog": {
		"outline": "You are a professional blog writing assistant. Produce an engaging, clearly structured " +
			"blog post outline with an attention-grabbing title and sections suited to online reading.",
		"content": "You are a professional blog writing assistant. Expand the outline into an engaging, " +
			"readable blog post with lively language and clear structure.",
	},
	"social": {
		"outline": "You are a social media content assistant. Produce a concise content outline with a " +
			"sharp hook and points that are easy to understand and share.",
		"content": "You are a social media content assistant. Expand the outline into concise, punchy " +
			"content in plain language with a clear point of view.",
	},
}

// grammarSystemPrompt asks for a strict JSON verdict so the gateway can
// parse the result without scraping prose.
const grammarSystemPrompt = `You are a professional grammar checker. Examine the text for grammar,
spelling, and punctuation errors and correct them.

Respond with ONLY a JSON object in this exact shape:
{"error_count": <number of errors found>, "corrected_content": "<the full corrected text>", "suggestions": ["<specific improvement>", ...]}`

// systemPrompt returns the system prompt for a writing mode and task,
// defaulting to academic for unknown modes.
func systemPrompt(mode, task string) string {
	prompts, ok := systemPrompts[mode]
	if !ok {
		prompts = systemPrompts["academic"]
	}
	return prompts[task]
}

// contentPrompt builds the user prompt for draft generation.
func contentPrompt(outline, mode string, targetWords int) string {
	return fmt.Sprintf(`Write an article of roughly %d words in %s style based on this outline:

%s

Requirements:
1. Substantive content with clear logic
2. Follow %s writing conventions
3. Include appropriate citations in [1][2] numbered format
4. Keep the length close to %d words`, targetWords, mode, outline, mode, targetWords)
}
