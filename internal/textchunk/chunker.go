// Package textchunk splits long replies into transport-safe fragments.
//
// Splitting prefers paragraph boundaries, falls back to sentence boundaries
// for oversized paragraphs, and only hard-slices a sentence when it has no
// punctuation to split on. Lengths are counted in runes.
package textchunk

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultLimit is the body chunk size used for Telegram messages
// (hard platform limit is 4096).
const DefaultLimit = 3800

const (
	paragraphSep = "\n\n"
	sentenceSep  = " "
)

// sentenceEnd matches the whitespace run that follows terminal punctuation.
var sentenceEnd = regexp.MustCompile(`[.?!]\s+`)

// Split breaks text into ordered chunks of at most limit runes.
// It returns nil for empty or whitespace-only input.
func Split(text string, limit int) []string {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var (
		chunks []string
		buf    string
	)
	flush := func() {
		if buf != "" {
			chunks = append(chunks, buf)
			buf = ""
		}
	}

	for _, para := range strings.Split(text, paragraphSep) {
		if runeLen(buf)+runeLen(para)+len(paragraphSep) <= limit {
			buf = strings.TrimSpace(buf + paragraphSep + para)
			continue
		}
		flush()
		if runeLen(para) <= limit {
			buf = strings.TrimSpace(para)
			continue
		}
		for _, sent := range Sentences(para) {
			if runeLen(buf)+runeLen(sent)+len(sentenceSep) <= limit {
				buf = strings.TrimSpace(buf + sentenceSep + sent)
				continue
			}
			flush()
			if runeLen(sent) <= limit {
				buf = sent
				continue
			}
			chunks = append(chunks, hardSlice(sent, limit)...)
		}
	}
	flush()
	return chunks
}

// Sentences splits a paragraph after '.', '?' or '!' when followed by
// whitespace. The punctuation stays with its sentence; the whitespace is
// dropped. Empty pieces are skipped.
func Sentences(para string) []string {
	var out []string
	start := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(para, -1) {
		// loc[0] is the punctuation byte, keep it.
		if s := strings.TrimSpace(para[start : loc[0]+1]); s != "" {
			out = append(out, s)
		}
		start = loc[1]
	}
	if s := strings.TrimSpace(para[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

// hardSlice cuts s into windows of exactly limit runes (the last may be shorter).
func hardSlice(s string, limit int) []string {
	var out []string
	runes := []rune(s)
	for i := 0; i < len(runes); i += limit {
		end := i + limit
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
	}
	return out
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
