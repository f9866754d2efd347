package segment

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Hidden-reasoning markers emitted by reasoning models.
const (
	ThinkOpen  = "<think>"
	ThinkClose = "</think>"
)

// StripThinking removes a leading hidden-reasoning block.
//
// ready is false while an opened block has not been closed yet: nothing in
// the buffer is speakable until more text arrives. Once the close marker is
// present everything up to it is dropped and stray control characters are
// scrubbed from the rest.
func StripThinking(text string) (out string, ready bool) {
	if idx := strings.Index(text, ThinkClose); idx >= 0 {
		rest := text[idx+len(ThinkClose):]
		return strings.TrimLeft(scrubControl(rest), " \t\n"), true
	}
	if strings.Contains(text, ThinkOpen) {
		return "", false
	}
	return text, true
}

func scrubControl(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		if r == utf8.RuneError && size <= 1 {
			continue
		}
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if unicode.IsControl(r) || r == '\uFEFF' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
