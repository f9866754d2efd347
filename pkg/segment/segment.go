// Package segment splits a growing model-output buffer into speakable
// sentences.
//
// Segment is a pure function of the buffer and its flags. Callers re-run it
// on every new delta and use the number of sentences already emitted to find
// the new ones (see package emitter). The final fragment is held back until
// it is provably complete, so a sentence is never emitted half-written.
package segment

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MinSentenceLength is the rune count below which unterminated fragments
// are merged with their neighbours.
const MinSentenceLength = 15

// Sentence is a settled, speakable unit of text.
type Sentence struct {
	// Text carries its separator: a leading space for space-joined
	// sentences, a leading newline for newline-anchored ones.
	Text string

	// NewlineAnchored marks a sentence that must start on its own line.
	NewlineAnchored bool
}

// Content returns the sentence text without its separator.
func (s Sentence) Content() string {
	return strings.TrimSpace(s.Text)
}

var (
	decimalRE = regexp.MustCompile(`([0-9])\.`)

	// runs of terminal punctuation; trailing spaces are consumed so the
	// next fragment starts on a word
	punctRE          = regexp.MustCompile(`([.?!？。！…]+)[ \t]*`)
	punctNewlineRE   = regexp.MustCompile(`([.?!？。！…\n]+)[ \t]*`)
	paragraphBreakRE = regexp.MustCompile(`[ \t]*\n+[ \t]*`)

	stageDirectionRE = regexp.MustCompile(`\*[^*\n]*\*`)
)

// Segmenter splits buffers into sentences. The zero value is usable and
// splits on punctuation and newlines only.
type Segmenter struct {
	stopMarkers []string
}

// New returns a Segmenter that also forces a sentence break after each of
// the given stop markers.
func New(stopMarkers ...string) *Segmenter {
	markers := make([]string, 0, len(stopMarkers))
	for _, m := range stopMarkers {
		if m != "" {
			markers = append(markers, m)
		}
	}
	return &Segmenter{stopMarkers: markers}
}

// Segment splits buffer into settled sentences.
//
// With preserveNewlines set, paragraph breaks start a new newline-anchored
// sentence and a buffer ending in a newline counts as complete. Otherwise a
// bare newline ends a sentence like a full stop.
//
// Unless allowIncompleteLast is set, a trailing sentence that is not yet
// provably complete is dropped; it reappears once more text has arrived.
// A sentence whose punctuation run touches the end of the buffer is not
// complete: "." may still grow into "..." and "?" into "?!".
func (s *Segmenter) Segment(buffer string, preserveNewlines, allowIncompleteLast bool) []Sentence {
	text := normalizeNewlines(buffer)
	endsWithNewline := strings.HasSuffix(text, "\n")

	text, ready := StripThinking(text)
	if !ready {
		return nil
	}

	text = stripSpeakerPrefix(text)
	text = stripEmphasis(text)
	openRun := endsInOpenRun(text, preserveNewlines)

	tok := newTokens(text)
	text = decimalRE.ReplaceAllString(text, "${1}"+tok.dot)
	text = s.insertSplits(text, tok, preserveNewlines)
	text = strings.ReplaceAll(text, tok.dot, ".")

	sentences := merge(strings.Split(text, tok.split), preserveNewlines)
	if len(sentences) == 0 {
		return nil
	}

	last := sentences[len(sentences)-1]
	complete := isComplete(last, len(sentences) == 1)
	if preserveNewlines && endsWithNewline {
		complete = true
	}
	if openRun {
		complete = false
	}
	if !complete && !allowIncompleteLast {
		sentences = sentences[:len(sentences)-1]
	}
	return sentences
}

// Segment runs the zero-value Segmenter.
func Segment(buffer string, preserveNewlines, allowIncompleteLast bool) []Sentence {
	var s Segmenter
	return s.Segment(buffer, preserveNewlines, allowIncompleteLast)
}

func (s *Segmenter) insertSplits(text string, tok tokens, preserveNewlines bool) string {
	for _, m := range s.stopMarkers {
		text = strings.ReplaceAll(text, m, m+tok.split)
	}
	if !preserveNewlines {
		return punctNewlineRE.ReplaceAllString(text, "${1}"+tok.split)
	}
	text = punctRE.ReplaceAllString(text, "${1}"+tok.split)
	text = paragraphBreakRE.ReplaceAllString(text, tok.para)
	return strings.ReplaceAll(text, tok.para, tok.split+"\n")
}

// merge walks fragments with a single-slot accumulator for short,
// unterminated pieces.
func merge(fragments []string, preserveNewlines bool) []Sentence {
	var (
		out []Sentence
		acc string
	)
	flush := func() {
		if acc != "" {
			out = append(out, Sentence{Text: acc})
			acc = ""
		}
	}

	for _, frag := range fragments {
		if strings.TrimSpace(frag) == "" {
			continue
		}

		if preserveNewlines && strings.HasPrefix(frag, "\n") {
			flush()
			out = append(out, Sentence{
				Text:            strings.TrimRight(frag, " \t"),
				NewlineAnchored: true,
			})
			continue
		}

		frag = strings.Trim(frag, " \t")
		switch {
		case endsTerminal(frag):
			flush()
			out = append(out, Sentence{Text: " " + frag})
		case runeLen(acc)+runeLen(frag) < MinSentenceLength:
			acc += " " + frag
		default:
			out = append(out, Sentence{Text: acc + " " + frag})
			acc = ""
		}
	}
	flush()
	return out
}

// isComplete reports whether the last sentence may be emitted while the
// stream is still open.
func isComplete(last Sentence, only bool) bool {
	if runeLen(last.Text) < MinSentenceLength && !only {
		return false
	}
	trimmed := strings.TrimSpace(last.Text)
	return endsTerminal(trimmed) && !endsDecimalDot(trimmed)
}

// IsTerminal reports whether r ends a sentence.
func IsTerminal(r rune) bool {
	switch r {
	case '.', '?', '!', '？', '。', '！', '…', '\n':
		return true
	}
	return false
}

func endsTerminal(s string) bool {
	if s == "" {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(s)
	return IsTerminal(r)
}

// endsInOpenRun reports whether text ends on terminal punctuation that the
// next delta could extend. A preserved newline is not part of a run.
func endsInOpenRun(text string, preserveNewlines bool) bool {
	r, _ := utf8.DecodeLastRuneInString(text)
	if preserveNewlines && r == '\n' {
		return false
	}
	return text != "" && IsTerminal(r)
}

// endsDecimalDot catches "3." which may still grow into "3.5".
func endsDecimalDot(s string) bool {
	if !strings.HasSuffix(s, ".") {
		return false
	}
	prev, _ := utf8.DecodeLastRuneInString(s[:len(s)-1])
	return prev >= '0' && prev <= '9'
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// stripSpeakerPrefix drops a leading "[Name]: " label.
func stripSpeakerPrefix(s string) string {
	if !strings.HasPrefix(strings.TrimLeft(s, " \t\n"), "[") {
		return s
	}
	idx := strings.Index(s, "]:")
	if idx < 0 {
		return s
	}
	return strings.TrimLeft(s[idx+2:], " \t")
}

func stripEmphasis(s string) string {
	s = strings.ReplaceAll(s, "**", "")
	return stageDirectionRE.ReplaceAllString(s, " ")
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// tokens are placeholders guaranteed absent from the text being segmented.
type tokens struct {
	dot   string
	split string
	para  string
}

func newTokens(text string) tokens {
	return tokens{
		dot:   uniqueToken(text, "\ue000"),
		split: uniqueToken(text, "\ue001"),
		para:  uniqueToken(text, "\ue002"),
	}
}

func uniqueToken(text, seed string) string {
	tok := seed
	for strings.Contains(text, tok) {
		tok += seed
	}
	return tok
}
