package dialogue

import (
	"fmt"
	"io"
	"sync"

	"github.com/teslashibe/go-parley/pkg/emitter"
	"github.com/teslashibe/go-parley/pkg/turn"
)

// SentenceEvent is one emitted sentence of an AI reply.
type SentenceEvent struct {
	Generation  uint64
	Speaker     turn.ParticipantID
	SpeakerName string
	Voice       string
	Sentence    emitter.Sentence
}

// TurnEvent is a finished utterance and the decision that followed it.
type TurnEvent struct {
	Generation  uint64
	Speaker     turn.ParticipantID
	SpeakerName string
	Utterance   string
	Decision    turn.Decision
}

// Sink consumes loop output. Implementations must not block: slow work
// (speech, network) belongs behind a buffered queue.
type Sink interface {
	OnSentence(SentenceEvent)
	OnTurn(TurnEvent)
}

// SinkFuncs adapts a pair of functions to Sink. Nil fields are skipped.
type SinkFuncs struct {
	Sentence func(SentenceEvent)
	Turn     func(TurnEvent)
}

// OnSentence calls Sentence.
func (f SinkFuncs) OnSentence(e SentenceEvent) {
	if f.Sentence != nil {
		f.Sentence(e)
	}
}

// OnTurn calls Turn.
func (f SinkFuncs) OnTurn(e TurnEvent) {
	if f.Turn != nil {
		f.Turn(e)
	}
}

// Console prints sentences as they arrive and, optionally, each decision.
type Console struct {
	mu        sync.Mutex
	w         io.Writer
	decisions bool
}

// NewConsole returns a console sink. With showDecisions set, every turn
// decision is printed after its utterance.
func NewConsole(w io.Writer, showDecisions bool) *Console {
	return &Console{w: w, decisions: showDecisions}
}

// OnSentence prints "[Name] sentence".
func (c *Console) OnSentence(e SentenceEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, "[%s] %s\n", e.SpeakerName, e.Sentence.Text)
}

// OnTurn prints the decision when enabled.
func (c *Console) OnTurn(e TurnEvent) {
	if !c.decisions {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	d := e.Decision
	fmt.Fprintf(c.w, "  -> to %s, next %s", d.Addressee, d.NextSpeaker)
	if d.Filter != turn.FilterNone {
		fmt.Fprintf(c.w, " (%s)", d.Filter)
	}
	fmt.Fprintln(c.w)
}

var (
	_ Sink = SinkFuncs{}
	_ Sink = (*Console)(nil)
)
