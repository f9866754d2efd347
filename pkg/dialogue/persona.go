package dialogue

import (
	"fmt"
	"strings"

	"github.com/teslashibe/go-parley/pkg/history"
	"github.com/teslashibe/go-parley/pkg/inference"
	"github.com/teslashibe/go-parley/pkg/turn"
)

// Persona describes how an AI participant speaks.
type Persona struct {
	ID     turn.ParticipantID
	Prompt string
	Voice  string
}

const replyRules = `You are %s, one of several participants in a spoken group conversation.
Reply with only what %s says next: a few short sentences meant to be heard, not read.
Do not prefix your reply with your name and never write lines for anyone else.`

// BuildReplyPrompt assembles the chat messages for one AI reply: the
// persona, the participant list, and the recent conversation.
func BuildReplyPrompt(r *turn.Roster, p Persona, recent []history.Entry) []inference.Message {
	name := r.Name(p.ID)

	var sys strings.Builder
	fmt.Fprintf(&sys, replyRules, name, name)
	if p.Prompt != "" {
		sys.WriteString("\n\n")
		sys.WriteString(strings.TrimSpace(p.Prompt))
	}
	sys.WriteString("\n\nParticipants:")
	for _, id := range r.IDs() {
		fmt.Fprintf(&sys, "\n- %s", r.Name(id))
		if id == turn.Human {
			sys.WriteString(" (the human)")
		}
		if id == p.ID {
			sys.WriteString(" (you)")
		}
	}

	var convo strings.Builder
	for _, e := range recent {
		fmt.Fprintf(&convo, "[%s]: %s\n", r.Name(turn.ParticipantID(e.Speaker)), e.Text)
	}
	fmt.Fprintf(&convo, "\nIt is your turn, %s.", name)

	return []inference.Message{
		inference.NewSystemMessage(sys.String()),
		inference.NewUserMessage(convo.String()),
	}
}
