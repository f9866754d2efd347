// Package transcript renders a conversation history as plain text and
// exports it to Google Docs.
package transcript

import (
	"fmt"
	"strings"
	"time"

	"github.com/teslashibe/go-parley/pkg/history"
	"github.com/teslashibe/go-parley/pkg/turn"
)

// Format renders entries as a titled transcript, one "[hh:mm:ss] Name: text"
// line per entry. A nil roster prints speaker IDs.
func Format(title string, entries []history.Entry, r *turn.Roster) string {
	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n")
	if len(entries) > 0 {
		fmt.Fprintf(&b, "%s\n", entries[0].Timestamp.Local().Format("Monday, January 2, 2006"))
	}
	b.WriteString("\n")

	for _, e := range entries {
		name := e.Speaker
		if r != nil {
			name = r.Name(turn.ParticipantID(e.Speaker))
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", e.Timestamp.Local().Format(time.TimeOnly), name, e.Text)
	}
	return b.String()
}

// Title returns a default document title for a conversation started at t.
func Title(t time.Time) string {
	return "Parley conversation " + t.Local().Format("2006-01-02 15:04")
}
