package utterance

import "testing"

func TestPostProcess(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		display string
		want    string
	}{
		{"plain passes through", " Hello there!", "Sam", "Hello there!"},
		{"placeholder substituted", " Nice to meet you, {{user}}.", "Sam", "Nice to meet you, Sam."},
		{"placeholder fallback", " Hi {{user}}!", "", "Hi friend!"},
		{"newlines removed", "\nFirst part\nsecond part.", "Sam", "First part second part."},
		{"parenthetical stripped", " Sure (laughs).", "Sam", "Sure."},
		{"bracket stripped", " [whispers] Over here.", "Sam", "Over here."},
		{"stage direction stripped", " *waves* Hello!", "Sam", "Hello!"},
		{"closed thinking stripped", "<think>hmm</think> Right.", "Sam", "Right."},
		{"open thinking cut", " Right. <think>hmm", "Sam", "Right."},
		{"only annotation becomes blank", " (sighs)", "Sam", ""},
		{"collapses spaces", " a   b \t c.", "Sam", "a b c."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PostProcess(tt.in, tt.display); got != tt.want {
				t.Errorf("PostProcess(%q, %q) = %q, want %q", tt.in, tt.display, got, tt.want)
			}
		})
	}
}
