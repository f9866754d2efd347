// Package emitter turns a stream of model text deltas into settled
// sentences, emitting each exactly once and in order.
//
// An Emitter owns the buffer and segmentation state of one utterance. It is
// not safe for concurrent use; a new utterance gets a new Emitter.
//
//	em := emitter.New(emitter.Config{
//	    Catalog:   catalog,
//	    Segmenter: segment.New(catalog.Markers()...),
//	    Sink:      func(s emitter.Sentence) { display(s.Text) },
//	})
//	for delta := range deltas {
//	    if em.Write(delta) == emitter.Finished {
//	        break
//	    }
//	}
//	em.Close()
package emitter

import (
	"log/slog"
	"strings"

	"github.com/teslashibe/go-parley/pkg/segment"
	"github.com/teslashibe/go-parley/pkg/stopseq"
	"github.com/teslashibe/go-parley/pkg/utterance"
)

// State is the emitter lifecycle state.
type State int

const (
	// Streaming accepts deltas.
	Streaming State = iota
	// Finished ignores further deltas.
	Finished
)

// String returns a human-readable state.
func (s State) String() string {
	switch s {
	case Streaming:
		return "streaming"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

// SegmentationState tracks progress through the current buffer.
type SegmentationState struct {
	// EmittedCount is the number of settled sentences already handed out.
	EmittedCount int

	// PendingTailLength is the rune length of the held-back trailing
	// fragment, zero when nothing is pending.
	PendingTailLength int
}

// Sentence is an emitted, post-processed sentence.
type Sentence struct {
	// Index is the sentence's position in the utterance.
	Index int

	// Text is the cleaned, speakable text.
	Text string

	// NewlineAnchored marks a sentence that starts on its own line.
	NewlineAnchored bool
}

// Sink receives emitted sentences. It must not block.
type Sink func(Sentence)

// Config configures an Emitter.
type Config struct {
	// Catalog holds the stop markers. Nil disables trimming.
	Catalog *stopseq.Catalog

	// Segmenter splits the buffer. Nil uses a plain segmenter.
	Segmenter *segment.Segmenter

	// PreserveNewlines keeps paragraph breaks as newline-anchored sentences.
	PreserveNewlines bool

	// DisplayName fills the addressee placeholder in post-processing.
	DisplayName string

	// Sink receives each sentence. Nil discards.
	Sink Sink

	// Logger for diagnostics.
	Logger *slog.Logger
}

// Emitter is the incremental segmentation control loop for one utterance.
type Emitter struct {
	cfg    Config
	buffer strings.Builder
	state  SegmentationState
	phase  State
	text   string
	stop   bool
	out    []Sentence
	logger *slog.Logger
}

// New creates an Emitter in the Streaming state.
func New(cfg Config) *Emitter {
	if cfg.Segmenter == nil {
		cfg.Segmenter = &segment.Segmenter{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		cfg:    cfg,
		phase:  Streaming,
		logger: logger.With("component", "emitter"),
	}
}

// Write appends a delta and emits newly settled sentences.
// A full stop-marker match finishes the utterance immediately.
func (e *Emitter) Write(delta string) State {
	if e.phase == Finished {
		return e.phase
	}

	e.buffer.WriteString(delta)
	trimmed, matched := e.cfg.Catalog.Trim(e.buffer.String())
	e.text = trimmed

	if matched {
		e.stop = true
		e.logger.Debug("stop marker matched", "emitted", e.state.EmittedCount)
		e.finish()
		return e.phase
	}

	e.emit(e.cfg.Segmenter.Segment(trimmed, e.cfg.PreserveNewlines, false))
	return e.phase
}

// Close signals end of stream: the trailing fragment is emitted even if
// it is not provably complete.
func (e *Emitter) Close() {
	if e.phase == Finished {
		return
	}
	e.text, _ = e.cfg.Catalog.Trim(e.buffer.String())
	e.finish()
}

// Discard drops all buffered state without emitting anything further.
// Used when the enclosing turn is cancelled.
func (e *Emitter) Discard() {
	e.buffer.Reset()
	e.text = ""
	e.state.PendingTailLength = 0
	e.phase = Finished
}

func (e *Emitter) finish() {
	e.emit(e.cfg.Segmenter.Segment(e.text, e.cfg.PreserveNewlines, true))
	e.state.PendingTailLength = 0
	e.phase = Finished
}

// emit hands out every sentence beyond EmittedCount. Blank sentences
// still advance the count so indexes stay aligned with the segmentation.
func (e *Emitter) emit(sentences []segment.Sentence) {
	for i := e.state.EmittedCount; i < len(sentences); i++ {
		s := sentences[i]
		text := utterance.PostProcess(s.Text, e.cfg.DisplayName)
		e.state.EmittedCount++
		if text == "" {
			continue
		}
		out := Sentence{Index: i, Text: text, NewlineAnchored: s.NewlineAnchored}
		e.out = append(e.out, out)
		if e.cfg.Sink != nil {
			e.cfg.Sink(out)
		}
	}
	e.state.PendingTailLength = e.pendingTail(sentences)
}

func (e *Emitter) pendingTail(settled []segment.Sentence) int {
	all := e.cfg.Segmenter.Segment(e.text, e.cfg.PreserveNewlines, true)
	if len(all) <= len(settled) {
		return 0
	}
	return len([]rune(all[len(all)-1].Text))
}

// State returns the current lifecycle state.
func (e *Emitter) State() State {
	return e.phase
}

// Progress returns a copy of the segmentation state.
func (e *Emitter) Progress() SegmentationState {
	return e.state
}

// Stopped reports whether a stop marker ended the utterance.
func (e *Emitter) Stopped() bool {
	return e.stop
}

// Sentences returns the sentences emitted so far.
func (e *Emitter) Sentences() []Sentence {
	out := make([]Sentence, len(e.out))
	copy(out, e.out)
	return out
}

// Utterance joins the emitted sentences into the full cleaned reply.
func (e *Emitter) Utterance() string {
	var b strings.Builder
	for i, s := range e.out {
		if i > 0 {
			if s.NewlineAnchored {
				b.WriteByte('\n')
			} else {
				b.WriteByte(' ')
			}
		}
		b.WriteString(s.Text)
	}
	return b.String()
}
