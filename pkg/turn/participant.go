package turn

import (
	"errors"
	"fmt"
	"strings"
)

// ParticipantID identifies a speaker for the duration of a session.
type ParticipantID string

const (
	// Human is the single human participant.
	Human ParticipantID = "human"

	// All is the addressee and listener label for "everyone" or "unclear".
	All ParticipantID = "all"
)

var (
	// ErrEmptyRoster is returned when a roster has no AI participants.
	ErrEmptyRoster = errors.New("turn: roster has no AI participants")

	// ErrDuplicateParticipant is returned when two participants share an ID.
	ErrDuplicateParticipant = errors.New("turn: duplicate participant")

	// ErrReservedID is returned when an AI participant uses a reserved ID.
	ErrReservedID = errors.New("turn: reserved participant id")

	// ErrUnknownParticipant is returned for an ID outside the roster.
	ErrUnknownParticipant = errors.New("turn: unknown participant")
)

// Participant is one member of the conversation.
type Participant struct {
	ID          ParticipantID
	DisplayName string
}

// Name returns the display name, falling back to the ID.
func (p Participant) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return string(p.ID)
}

// Roster is the fixed participant set of a session: one human and one or
// more AI personas.
type Roster struct {
	human Participant
	ais   []Participant
	index map[ParticipantID]Participant
}

// NewRoster validates and builds a roster. The human always has ID Human.
func NewRoster(humanName string, ais ...Participant) (*Roster, error) {
	if len(ais) == 0 {
		return nil, ErrEmptyRoster
	}

	r := &Roster{
		human: Participant{ID: Human, DisplayName: humanName},
		index: make(map[ParticipantID]Participant, len(ais)+1),
	}
	r.index[Human] = r.human

	for _, p := range ais {
		if p.ID == "" || p.ID == Human || p.ID == All {
			return nil, fmt.Errorf("%w: %q", ErrReservedID, p.ID)
		}
		if _, ok := r.index[p.ID]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateParticipant, p.ID)
		}
		r.index[p.ID] = p
		r.ais = append(r.ais, p)
	}
	return r, nil
}

// MustRoster is like NewRoster but panics on error.
func MustRoster(humanName string, ais ...Participant) *Roster {
	r, err := NewRoster(humanName, ais...)
	if err != nil {
		panic(err)
	}
	return r
}

// Human returns the human participant.
func (r *Roster) Human() Participant {
	return r.human
}

// AIs returns the AI participants in roster order.
func (r *Roster) AIs() []Participant {
	out := make([]Participant, len(r.ais))
	copy(out, r.ais)
	return out
}

// IDs returns every participant ID, human first.
func (r *Roster) IDs() []ParticipantID {
	ids := []ParticipantID{Human}
	for _, p := range r.ais {
		ids = append(ids, p.ID)
	}
	return ids
}

// Get looks up a participant.
func (r *Roster) Get(id ParticipantID) (Participant, bool) {
	p, ok := r.index[id]
	return p, ok
}

// Contains reports whether id is in the roster.
func (r *Roster) Contains(id ParticipantID) bool {
	_, ok := r.index[id]
	return ok
}

// IsAI reports whether id names an AI participant.
func (r *Roster) IsAI(id ParticipantID) bool {
	return id != Human && r.Contains(id)
}

// Name returns the display name for id, or the ID itself if unknown.
func (r *Roster) Name(id ParticipantID) string {
	if p, ok := r.index[id]; ok {
		return p.Name()
	}
	return string(id)
}

// Resolve maps a free-form label (an ID or a display name, any case) to a
// participant ID.
func (r *Roster) Resolve(label string) (ParticipantID, bool) {
	label = strings.TrimSpace(label)
	if label == "" {
		return "", false
	}
	if id := ParticipantID(label); r.Contains(id) {
		return id, true
	}
	for _, id := range r.IDs() {
		p := r.index[id]
		if strings.EqualFold(label, string(p.ID)) || strings.EqualFold(label, p.DisplayName) {
			return p.ID, true
		}
	}
	return "", false
}
