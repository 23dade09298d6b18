package agent

import (
	"log/slog"
	"regexp"
	"strings"
)

// Sanitize cleans engine output before it is shown and spoken:
// reasoning blocks, <final> wrappers, repeated paragraphs and leading
// blank lines are removed.
func Sanitize(content string) string {
	if content == "" {
		return content
	}
	original := content

	content = stripReasoning(content)
	content = finalTagPattern.ReplaceAllString(content, "")
	content = collapseRepeatedParagraphs(content)
	content = leadingBlankLines.ReplaceAllString(content, "")
	content = strings.TrimSpace(content)

	if content != original {
		slog.Debug("agent: sanitized answer", "original_len", len(original), "cleaned_len", len(content))
	}
	return content
}

// Go regexp has no backreferences, hence one pattern per tag.
var reasoningPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<think>.*?</think>`),
	regexp.MustCompile(`(?is)<thinking>.*?</thinking>`),
	regexp.MustCompile(`(?is)<thought>.*?</thought>`),
}

// An unterminated block means the model was cut off mid-thought.
var openReasoning = regexp.MustCompile(`(?is)<(?:think|thinking|thought)>.*$`)

func stripReasoning(content string) string {
	lower := strings.ToLower(content)
	if !strings.Contains(lower, "<think") && !strings.Contains(lower, "<thought") {
		return content
	}
	for _, pat := range reasoningPatterns {
		content = pat.ReplaceAllString(content, "")
	}
	return openReasoning.ReplaceAllString(content, "")
}

var finalTagPattern = regexp.MustCompile(`(?i)<\s*/?\s*final\s*>`)

var leadingBlankLines = regexp.MustCompile(`^(?:[ \t]*\r?\n)+`)

func collapseRepeatedParagraphs(content string) string {
	blocks := strings.Split(content, "\n\n")
	if len(blocks) <= 1 {
		return content
	}
	out := make([]string, 0, len(blocks))
	for _, b := range blocks {
		trimmed := strings.TrimSpace(b)
		if trimmed == "" {
			continue
		}
		if n := len(out); n > 0 && strings.TrimSpace(out[n-1]) == trimmed {
			continue
		}
		out = append(out, b)
	}
	return strings.Join(out, "\n\n")
}
