// Package turn decides, for each finished utterance, who it was addressed
// to and who speaks next.
//
// The director asks a Gateway for advice and then applies two hard rules
// the advice can never override: nobody speaks twice in a row, and the AI
// participants cannot keep the floor indefinitely without the human. The
// rules live in ApplyFairness so they can be exercised without a gateway.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/teslashibe/go-parley/pkg/history"
)

// ErrLabelOutOfSet is reported when the gateway answers with a label that
// is not one of the allowed choices.
var ErrLabelOutOfSet = errors.New("turn: label out of set")

// Question selects what the gateway is asked to classify.
type Question string

const (
	AskAddressee   Question = "addressee"
	AskNextSpeaker Question = "next_speaker"
)

// Request is a single classification question.
type Request struct {
	Question       Question
	RecentHistory  []history.Entry
	NewText        string
	CurrentSpeaker ParticipantID

	// Labels is the closed set of acceptable answers.
	Labels []ParticipantID

	// Roster supplies display names for prompting.
	Roster *Roster
}

// Response is the gateway's answer.
type Response struct {
	Label  string
	Reason string
}

// Gateway answers classification questions. Its answers are advisory.
type Gateway interface {
	Classify(ctx context.Context, req Request) (Response, error)
}

// GatewayFunc adapts a function to the Gateway interface.
type GatewayFunc func(ctx context.Context, req Request) (Response, error)

// Classify calls f.
func (f GatewayFunc) Classify(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// Filter names the hard rule that overrode the advisory next speaker.
type Filter string

const (
	FilterNone         Filter = ""
	FilterNoRepeat     Filter = "no_repeat"
	FilterAntiMonopoly Filter = "anti_monopoly"
)

// Decision is the outcome for one utterance. It is not mutated after
// Decide returns.
type Decision struct {
	Addressee   ParticipantID
	Listener    ParticipantID
	NextSpeaker ParticipantID
	Reason      string

	// Filter is set when a hard rule replaced the advisory next speaker.
	Filter Filter

	// AddresseeFallback and NextSpeakerFallback are set when the gateway
	// failed and the fixed default was used.
	AddresseeFallback   bool
	NextSpeakerFallback bool
}

// Input describes the utterance to decide on.
type Input struct {
	Utterance string
	Speaker   ParticipantID

	// History is the conversation before this utterance.
	History []history.Entry

	// Addressee, when set, overrides addressee resolution.
	Addressee ParticipantID
}

// Director resolves addressee, listener and next speaker. It holds no
// state between calls and is safe for concurrent use.
type Director struct {
	roster  *Roster
	gateway Gateway
	cfg     *Config
	logger  *slog.Logger
}

// NewDirector creates a director. A nil gateway makes every advisory
// question fall back to its default.
func NewDirector(roster *Roster, gateway Gateway, opts ...Option) (*Director, error) {
	if roster == nil {
		return nil, ErrEmptyRoster
	}
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(roster); err != nil {
		return nil, err
	}
	return &Director{
		roster:  roster,
		gateway: gateway,
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "turn.director"),
	}, nil
}

// Roster returns the director's roster.
func (d *Director) Roster() *Roster {
	return d.roster
}

// Decide produces the turn decision for a finished utterance. Gateway
// failures never surface here; only an unknown speaker is an error.
func (d *Director) Decide(ctx context.Context, in Input) (Decision, error) {
	if !d.roster.Contains(in.Speaker) {
		return Decision{}, fmt.Errorf("%w: speaker %q", ErrUnknownParticipant, in.Speaker)
	}

	recent := tail(in.History, d.cfg.PromptWindow)

	var dec Decision
	dec.Addressee, dec.AddresseeFallback = d.resolveAddressee(ctx, in, recent)
	dec.Listener = Listener(d.roster, in.Speaker, dec.Addressee)

	advisory, reason, fallback := d.adviseNextSpeaker(ctx, in, recent, dec.Addressee)
	dec.NextSpeakerFallback = fallback
	dec.NextSpeaker, dec.Filter = ApplyFairness(advisory, in.Speaker, in.History, d.cfg.MonopolyWindow)

	switch dec.Filter {
	case FilterNoRepeat:
		reason = fmt.Sprintf("%s would speak twice in a row", advisory)
	case FilterAntiMonopoly:
		reason = fmt.Sprintf("no human turn in the last %d entries", d.cfg.MonopolyWindow)
	}
	dec.Reason = reason

	d.logger.Debug("turn decided",
		"speaker", in.Speaker,
		"addressee", dec.Addressee,
		"listener", dec.Listener,
		"next", dec.NextSpeaker,
		"filter", dec.Filter,
	)
	return dec, nil
}

func (d *Director) resolveAddressee(ctx context.Context, in Input, recent []history.Entry) (ParticipantID, bool) {
	if in.Addressee != "" {
		if in.Addressee == All || d.roster.Contains(in.Addressee) {
			return in.Addressee, false
		}
		d.logger.Warn("ignoring unknown addressee override", "addressee", in.Addressee)
	}

	if in.Speaker != Human {
		if id, ok := FirstMention(d.roster, in.Utterance, in.Speaker); ok {
			return id, false
		}
		return All, false
	}

	if id, ok := FirstMention(d.roster, in.Utterance, Human); ok {
		return id, false
	}

	labels := append(d.aiIDs(), All)
	id, _, err := d.classify(ctx, AskAddressee, in, recent, labels)
	if err != nil {
		d.logger.Warn("addressee classifier fallback", "error", err, "fallback", d.cfg.FallbackAddressee)
		return d.cfg.FallbackAddressee, true
	}
	return id, false
}

// adviseNextSpeaker returns the advisory next speaker before the hard
// rules. A human utterance is always answered by an AI: the addressee when
// one was named, otherwise the classifier's pick or the fallback addressee.
func (d *Director) adviseNextSpeaker(ctx context.Context, in Input, recent []history.Entry, addressee ParticipantID) (ParticipantID, string, bool) {
	if in.Speaker == Human {
		if d.roster.IsAI(addressee) {
			return addressee, "addressed directly", false
		}
		id, reason, err := d.classify(ctx, AskNextSpeaker, in, recent, d.aiIDs())
		if err != nil {
			// the human is never handed the turn back after speaking; see DESIGN.md decision 2
			d.logger.Warn("next speaker classifier fallback", "error", err, "fallback", d.cfg.FallbackAddressee)
			return d.cfg.FallbackAddressee, "fallback addressee", true
		}
		return id, reason, false
	}

	id, reason, err := d.classify(ctx, AskNextSpeaker, in, recent, d.roster.IDs())
	if err != nil {
		d.logger.Warn("next speaker classifier fallback", "error", err, "fallback", Human)
		return Human, "classifier unavailable", true
	}
	return id, reason, false
}

func (d *Director) classify(ctx context.Context, q Question, in Input, recent []history.Entry, labels []ParticipantID) (ParticipantID, string, error) {
	if d.gateway == nil {
		return "", "", errors.New("turn: no gateway")
	}

	resp, err := d.gateway.Classify(ctx, Request{
		Question:       q,
		RecentHistory:  recent,
		NewText:        in.Utterance,
		CurrentSpeaker: in.Speaker,
		Labels:         labels,
		Roster:         d.roster,
	})
	if err != nil {
		return "", "", err
	}

	id, ok := d.matchLabel(resp.Label, labels)
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrLabelOutOfSet, resp.Label)
	}
	return id, resp.Reason, nil
}

func (d *Director) matchLabel(label string, allowed []ParticipantID) (ParticipantID, bool) {
	id := All
	if !strings.EqualFold(strings.TrimSpace(label), string(All)) {
		resolved, ok := d.roster.Resolve(label)
		if !ok {
			return "", false
		}
		id = resolved
	}
	for _, a := range allowed {
		if a == id {
			return id, true
		}
	}
	return "", false
}

func (d *Director) aiIDs() []ParticipantID {
	ids := make([]ParticipantID, 0, len(d.roster.ais))
	for _, p := range d.roster.ais {
		ids = append(ids, p.ID)
	}
	return ids
}

// Listener applies the listener table: a specific addressee other than
// the speaker is the listener, anything else is everyone.
func Listener(r *Roster, speaker, addressee ParticipantID) ParticipantID {
	if addressee == speaker || addressee == All || !r.Contains(addressee) {
		return All
	}
	return addressee
}

// ApplyFairness enforces the hard turn-taking rules on an advisory next
// speaker:
//
//   - the participant who just spoke never speaks again immediately;
//   - once the last window entries contain no human turn, an AI speaker is
//     never followed by another AI.
//
// The anti-monopoly rule only applies when history holds at least window
// entries.
func ApplyFairness(advisory, speaker ParticipantID, past []history.Entry, window int) (ParticipantID, Filter) {
	if advisory == speaker {
		return Human, FilterNoRepeat
	}
	if advisory != Human && speaker != Human && monopolized(past, window) {
		return Human, FilterAntiMonopoly
	}
	return advisory, FilterNone
}

// monopolized reports whether the last window entries hold no human turn.
// A history shorter than window never counts: a session may open with up
// to window-1 AI turns in a row before the rule engages.
func monopolized(past []history.Entry, window int) bool {
	if window <= 0 || len(past) < window {
		return false
	}
	for _, e := range past[len(past)-window:] {
		if e.IsHuman() || e.Speaker == string(Human) {
			return false
		}
	}
	return true
}

// FirstMention returns the participant other than exclude whose name
// appears earliest in text. Names match whole words, ignoring case.
func FirstMention(r *Roster, text string, exclude ParticipantID) (ParticipantID, bool) {
	lower := strings.ToLower(text)
	best, bestAt := ParticipantID(""), -1

	consider := func(id ParticipantID, name string) {
		if name == "" {
			return
		}
		if at := wordIndex(lower, strings.ToLower(name)); at >= 0 && (bestAt < 0 || at < bestAt) {
			best, bestAt = id, at
		}
	}

	for _, id := range r.IDs() {
		if id == exclude {
			continue
		}
		p := r.index[id]
		consider(id, p.DisplayName)
		if id != Human {
			consider(id, string(id))
		}
	}
	return best, bestAt >= 0
}

// wordIndex finds the first occurrence of word in s that is not part of a
// longer word.
func wordIndex(s, word string) int {
	for from := 0; from <= len(s)-len(word); {
		i := strings.Index(s[from:], word)
		if i < 0 {
			return -1
		}
		at := from + i
		end := at + len(word)

		before, _ := utf8.DecodeLastRuneInString(s[:at])
		after, _ := utf8.DecodeRuneInString(s[end:])
		if (at == 0 || !isWordRune(before)) && (end == len(s) || !isWordRune(after)) {
			return at
		}
		_, size := utf8.DecodeRuneInString(s[at:])
		from = at + size
	}
	return -1
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

func tail(entries []history.Entry, n int) []history.Entry {
	if n <= 0 {
		return nil
	}
	if len(entries) <= n {
		return entries
	}
	return entries[len(entries)-n:]
}
