// Package dialogue runs the conversation: a human speaks, the director
// picks who answers, and AI replies stream sentence by sentence to the
// sinks until the floor returns to the human.
//
//	loop, _ := dialogue.New(director, client, store, personas,
//	    dialogue.WithSink(dialogue.NewConsole(os.Stdout, true)),
//	)
//	turns, err := loop.HumanSays(ctx, "Ava, what do you think?")
//
// Only one human utterance is processed at a time. Interrupt abandons the
// one in flight: its unfinished reply is discarded, and any sentence or
// decision that resolves afterwards is dropped rather than applied.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-parley/pkg/emitter"
	"github.com/teslashibe/go-parley/pkg/history"
	"github.com/teslashibe/go-parley/pkg/inference"
	"github.com/teslashibe/go-parley/pkg/metrics"
	"github.com/teslashibe/go-parley/pkg/segment"
	"github.com/teslashibe/go-parley/pkg/stopseq"
	"github.com/teslashibe/go-parley/pkg/turn"
)

var (
	// ErrEmptyUtterance is returned for blank human input.
	ErrEmptyUtterance = errors.New("dialogue: empty utterance")

	// ErrInterrupted is returned when Interrupt abandoned the turn.
	ErrInterrupted = errors.New("dialogue: interrupted")

	// ErrUnknownPersona is returned for a persona that is not an AI in the roster.
	ErrUnknownPersona = errors.New("dialogue: persona is not an AI participant")
)

// State is the loop state.
type State int32

const (
	// WaitingForHuman means the floor is with the human.
	WaitingForHuman State = iota
	// ProcessingUtterance means an utterance is being decided or an AI is replying.
	ProcessingUtterance
)

// String returns a human-readable state.
func (s State) String() string {
	switch s {
	case WaitingForHuman:
		return "waiting_for_human"
	case ProcessingUtterance:
		return "processing_utterance"
	default:
		return "unknown"
	}
}

// Loop is the dialogue state machine for one session.
type Loop struct {
	id        uuid.UUID
	director  *turn.Director
	roster    *turn.Roster
	provider  inference.Provider
	history   *history.Store
	personas  map[turn.ParticipantID]Persona
	catalog   *stopseq.Catalog
	catalogs  map[turn.ParticipantID]*stopseq.Catalog
	segmenter *segment.Segmenter
	cfg       *Config
	logger    *slog.Logger

	mu    sync.Mutex
	gen   atomic.Uint64
	state atomic.Int32
}

// New creates a dialogue loop. AIs without a persona speak with an empty
// persona prompt and the provider's default voice.
func New(director *turn.Director, provider inference.Provider, store *history.Store, personas []Persona, opts ...Option) (*Loop, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		store = history.New()
	}

	roster := director.Roster()
	byID := make(map[turn.ParticipantID]Persona, len(personas))
	for _, p := range personas {
		if !roster.IsAI(p.ID) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownPersona, p.ID)
		}
		byID[p.ID] = p
	}

	catalog, err := SessionCatalog(roster, cfg.StopMarkers...)
	if err != nil {
		return nil, err
	}
	catalogs := make(map[turn.ParticipantID]*stopseq.Catalog)
	for _, ai := range roster.AIs() {
		if _, ok := byID[ai.ID]; !ok {
			byID[ai.ID] = Persona{ID: ai.ID}
		}
		c, err := replyCatalog(roster, ai.ID, cfg.StopMarkers)
		if err != nil {
			return nil, err
		}
		catalogs[ai.ID] = c
	}

	id := uuid.New()
	return &Loop{
		id:        id,
		director:  director,
		roster:    roster,
		provider:  provider,
		history:   store,
		personas:  byID,
		catalog:   catalog,
		catalogs:  catalogs,
		segmenter: segment.New(catalog.Markers()...),
		cfg:       cfg,
		logger:    cfg.Logger.With("component", "dialogue.loop", "session", id.String()),
	}, nil
}

// SessionID identifies this loop.
func (l *Loop) SessionID() uuid.UUID {
	return l.id
}

// Roster returns the session roster.
func (l *Loop) Roster() *turn.Roster {
	return l.roster
}

// History returns the conversation store.
func (l *Loop) History() *history.Store {
	return l.history
}

// Catalog returns the session stop catalog.
func (l *Loop) Catalog() *stopseq.Catalog {
	return l.catalog
}

// Persona returns the persona of an AI participant.
func (l *Loop) Persona(id turn.ParticipantID) (Persona, bool) {
	p, ok := l.personas[id]
	return p, ok
}

// State returns the current loop state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Generation returns the session generation. It advances with every human
// utterance and every Interrupt.
func (l *Loop) Generation() uint64 {
	return l.gen.Load()
}

// Interrupt abandons the utterance in flight, if any.
func (l *Loop) Interrupt() {
	g := l.gen.Add(1)
	l.logger.Debug("interrupted", "generation", g)
}

// Stale reports whether results captured at gen should be dropped.
func (l *Loop) Stale(gen uint64) bool {
	return l.gen.Load() != gen
}

// HumanSays processes a human utterance and runs AI replies until the
// human has the floor again. It returns the turns that completed, the
// human's first.
func (l *Loop) HumanSays(ctx context.Context, text string) ([]TurnEvent, error) {
	return l.HumanSaysTo(ctx, text, "")
}

// HumanSaysTo is HumanSays with an explicit addressee.
func (l *Loop) HumanSaysTo(ctx context.Context, text string, addressee turn.ParticipantID) ([]TurnEvent, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyUtterance
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.Store(int32(ProcessingUtterance))
	defer l.state.Store(int32(WaitingForHuman))

	gen := l.gen.Add(1)

	past := l.history.All()
	if _, err := l.history.Add(string(turn.Human), history.RoleHuman, text); err != nil {
		return nil, err
	}

	dec, err := l.decide(ctx, gen, turn.Input{
		Utterance: text,
		Speaker:   turn.Human,
		History:   past,
		Addressee: addressee,
	})
	if err != nil {
		return nil, err
	}
	turns := []TurnEvent{l.publishTurn(gen, turn.Human, text, dec)}

	prev := turn.Human
	for l.roster.IsAI(dec.NextSpeaker) {
		speaker := dec.NextSpeaker

		utterance, err := l.reply(ctx, gen, speaker, prev)
		if err != nil {
			return turns, err
		}
		if utterance == "" {
			l.logger.Info("empty reply, returning floor to human", "speaker", speaker)
			return turns, nil
		}

		past = l.history.All()
		if _, err := l.history.Add(string(speaker), history.RoleAssistant, utterance); err != nil {
			return turns, err
		}

		dec, err = l.decide(ctx, gen, turn.Input{
			Utterance: utterance,
			Speaker:   speaker,
			History:   past,
		})
		if err != nil {
			return turns, err
		}
		turns = append(turns, l.publishTurn(gen, speaker, utterance, dec))
		prev = speaker
	}

	return turns, nil
}

// decide runs the director unless the turn was cancelled or interrupted,
// and drops a decision that resolves after an interrupt.
func (l *Loop) decide(ctx context.Context, gen uint64, in turn.Input) (turn.Decision, error) {
	if err := l.live(ctx, gen); err != nil {
		return turn.Decision{}, err
	}

	start := time.Now()
	dec, err := l.director.Decide(ctx, in)
	metrics.RecordDecision(time.Since(start).Seconds())
	if err != nil {
		return turn.Decision{}, err
	}

	if l.Stale(gen) {
		metrics.RecordStale("decision")
		l.logger.Debug("dropping stale decision", "speaker", in.Speaker, "generation", gen)
		return turn.Decision{}, ErrInterrupted
	}
	if err := ctx.Err(); err != nil {
		return turn.Decision{}, err
	}

	metrics.RecordFairnessOverride(string(dec.Filter))
	if dec.AddresseeFallback {
		metrics.RecordFallback(string(turn.AskAddressee))
	}
	if dec.NextSpeakerFallback {
		metrics.RecordFallback(string(turn.AskNextSpeaker))
	}
	return dec, nil
}

func (l *Loop) live(ctx context.Context, gen uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.Stale(gen) {
		return ErrInterrupted
	}
	return nil
}

// reply streams one AI utterance through a fresh emitter. A cancelled or
// interrupted reply is discarded and returns an error; a transport error
// after the stream opened ends the utterance with what has arrived.
func (l *Loop) reply(ctx context.Context, gen uint64, speaker, addressee turn.ParticipantID) (string, error) {
	start := time.Now()
	persona := l.personas[speaker]
	name := l.roster.Name(speaker)
	catalog := l.catalogs[speaker]

	stream, err := l.provider.Stream(ctx, &inference.ChatRequest{
		Messages:    BuildReplyPrompt(l.roster, persona, l.history.Recent(l.cfg.ContextWindow)),
		Model:       l.cfg.Model,
		MaxTokens:   l.cfg.MaxTokens,
		Temperature: l.cfg.Temperature,
		Stop:        catalog.Markers(),
	})
	if err != nil {
		metrics.RecordUtterance(string(speaker), "error", time.Since(start).Seconds())
		l.logger.Warn("reply stream failed", "speaker", speaker, "error", err)
		return "", fmt.Errorf("dialogue: %s reply: %w", speaker, err)
	}
	defer stream.Close()

	em := emitter.New(emitter.Config{
		Catalog:          catalog,
		Segmenter:        l.segmenter,
		PreserveNewlines: l.cfg.PreserveNewlines,
		DisplayName:      l.roster.Name(addressee),
		Logger:           l.cfg.Logger,
		Sink: func(s emitter.Sentence) {
			if l.Stale(gen) {
				metrics.RecordStale("sentence")
				return
			}
			metrics.RecordSentence(string(speaker))
			l.publishSentence(SentenceEvent{
				Generation:  gen,
				Speaker:     speaker,
				SpeakerName: name,
				Voice:       persona.Voice,
				Sentence:    s,
			})
		},
	})

	outcome := "complete"
	for em.State() == emitter.Streaming {
		if err := l.live(ctx, gen); err != nil {
			em.Discard()
			if errors.Is(err, ErrInterrupted) {
				metrics.RecordStale("stream")
			}
			metrics.RecordUtterance(string(speaker), "cancelled", 0)
			l.logger.Debug("reply abandoned", "speaker", speaker, "error", err)
			return "", err
		}

		chunk, err := stream.Recv()
		if err != nil {
			if err := l.live(ctx, gen); err != nil {
				continue
			}
			if !errors.Is(err, io.EOF) {
				outcome = "truncated"
				l.logger.Warn("reply stream ended early", "speaker", speaker, "error", err)
			}
			em.Close()
			break
		}
		if em.Write(chunk.Delta) == emitter.Finished {
			outcome = "stopped"
			break
		}
		if chunk.Done {
			em.Close()
		}
	}

	metrics.RecordUtterance(string(speaker), outcome, time.Since(start).Seconds())
	return em.Utterance(), nil
}

func (l *Loop) publishSentence(e SentenceEvent) {
	for _, s := range l.cfg.Sinks {
		s.OnSentence(e)
	}
}

func (l *Loop) publishTurn(gen uint64, speaker turn.ParticipantID, text string, dec turn.Decision) TurnEvent {
	e := TurnEvent{
		Generation:  gen,
		Speaker:     speaker,
		SpeakerName: l.roster.Name(speaker),
		Utterance:   text,
		Decision:    dec,
	}
	for _, s := range l.cfg.Sinks {
		s.OnTurn(e)
	}
	return e
}
