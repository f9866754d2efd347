package dialogue

import (
	"fmt"

	"github.com/teslashibe/go-parley/pkg/stopseq"
	"github.com/teslashibe/go-parley/pkg/turn"
)

// SpeakerMarkers returns the markers that signal a participant taking
// the floor: "\n[Name]:" and "[Name]:".
func SpeakerMarkers(name string) []string {
	tag := fmt.Sprintf("[%s]:", name)
	return []string{"\n" + tag, tag}
}

// SessionCatalog builds the stop catalog for a session: the default
// role-switch markers, any extra markers, then the speaker markers of every
// participant.
func SessionCatalog(r *turn.Roster, extra ...string) (*stopseq.Catalog, error) {
	return buildCatalog(r, "", extra)
}

// replyCatalog is the session catalog minus the speaker's own bare tag, so
// a reply that opens with its own name is not cut to nothing.
func replyCatalog(r *turn.Roster, speaker turn.ParticipantID, extra []string) (*stopseq.Catalog, error) {
	return buildCatalog(r, speaker, extra)
}

func buildCatalog(r *turn.Roster, self turn.ParticipantID, extra []string) (*stopseq.Catalog, error) {
	markers := append([]string{}, stopseq.DefaultMarkers...)
	markers = append(markers, extra...)
	for _, id := range r.IDs() {
		m := SpeakerMarkers(r.Name(id))
		if id == self {
			m = m[:1]
		}
		markers = append(markers, m...)
	}
	return stopseq.NewCatalog(markers...)
}
