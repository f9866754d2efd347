package classifier

import (
	"fmt"
	"strings"

	"github.com/teslashibe/go-parley/pkg/history"
	"github.com/teslashibe/go-parley/pkg/inference"
	"github.com/teslashibe/go-parley/pkg/turn"
)

const systemPrompt = `You moderate a group conversation between one human and several AI characters.
You answer a single question about who is being spoken to or who should speak next.
Reply with a JSON object: {"label": "<one of the allowed labels>", "reason": "<a few words>"}.
Use only the allowed labels, exactly as written.`

// BuildPrompt renders a classification request as chat messages.
func BuildPrompt(req turn.Request) []inference.Message {
	var b strings.Builder

	if req.Roster != nil {
		b.WriteString("Participants:\n")
		for _, id := range req.Roster.IDs() {
			name := req.Roster.Name(id)
			if id == turn.Human {
				fmt.Fprintf(&b, "- %s: %s (the human)\n", id, name)
			} else {
				fmt.Fprintf(&b, "- %s: %s\n", id, name)
			}
		}
		b.WriteString("\n")
	}

	if len(req.RecentHistory) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, e := range req.RecentHistory {
			fmt.Fprintf(&b, "[%s]: %s\n", speakerName(req.Roster, e), e.Text)
		}
		b.WriteString("\n")
	}

	speaker := string(req.CurrentSpeaker)
	if req.Roster != nil {
		speaker = req.Roster.Name(req.CurrentSpeaker)
	}
	fmt.Fprintf(&b, "New message from %s:\n%q\n\n", speaker, req.NewText)

	switch req.Question {
	case turn.AskAddressee:
		b.WriteString("Question: who is the new message addressed to? Use \"all\" if it is for everyone or unclear.\n")
	default:
		b.WriteString("Question: who should speak next?\n")
	}

	labels := make([]string, len(req.Labels))
	for i, id := range req.Labels {
		labels[i] = string(id)
	}
	fmt.Fprintf(&b, "Allowed labels: %s\n", strings.Join(labels, ", "))

	return []inference.Message{
		inference.NewSystemMessage(systemPrompt),
		inference.NewUserMessage(b.String()),
	}
}

func speakerName(r *turn.Roster, e history.Entry) string {
	if r == nil {
		return e.Speaker
	}
	return r.Name(turn.ParticipantID(e.Speaker))
}
