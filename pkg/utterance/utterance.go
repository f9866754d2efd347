// Package utterance cleans settled sentences for display and speech.
package utterance

import (
	"regexp"
	"strings"

	"github.com/teslashibe/go-parley/pkg/segment"
)

// DefaultDisplayName replaces the addressee placeholder when no name is known.
const DefaultDisplayName = "friend"

// Placeholders are the addressee tokens models echo back from prompt templates.
var Placeholders = []string{"{{user}}", "{{User}}", "{{USER}}", "{user}", "<USER>"}

var (
	parenRE   = regexp.MustCompile(`\([^()]*\)`)
	bracketRE = regexp.MustCompile(`\[[^\[\]]*\]`)
	starRE    = regexp.MustCompile(`\*[^*]*\*`)
	spacesRE  = regexp.MustCompile(`\s+`)
)

// PostProcess substitutes the addressee placeholder, drops newlines and
// (...), [...], *...* annotations, strips hidden reasoning, and trims.
// It never fails; text with nothing to clean passes through trimmed.
func PostProcess(sentence, displayName string) string {
	if displayName == "" {
		displayName = DefaultDisplayName
	}

	text := stripThinking(sentence)
	for _, p := range Placeholders {
		text = strings.ReplaceAll(text, p, displayName)
	}
	text = strings.ReplaceAll(text, "\n", " ")

	text = parenRE.ReplaceAllString(text, " ")
	text = bracketRE.ReplaceAllString(text, " ")
	text = starRE.ReplaceAllString(text, " ")

	text = spacesRE.ReplaceAllString(text, " ")
	return strings.TrimSpace(fixPunctuationSpacing(text))
}

// stripThinking is total: an unterminated block is cut rather than
// suppressing the whole sentence.
func stripThinking(text string) string {
	out, ready := segment.StripThinking(text)
	if ready {
		return out
	}
	idx := strings.Index(text, segment.ThinkOpen)
	return text[:idx]
}

// fixPunctuationSpacing closes the gap left where an annotation sat
// directly before punctuation ("Sure (laughs)." -> "Sure.").
func fixPunctuationSpacing(s string) string {
	for _, p := range []string{".", ",", "!", "?", ";", ":"} {
		s = strings.ReplaceAll(s, " "+p, p)
	}
	return s
}
