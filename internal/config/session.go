package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-parley/pkg/dialogue"
	"github.com/teslashibe/go-parley/pkg/turn"
)

// ErrNoPersonas is returned for a session without AI personas.
var ErrNoPersonas = errors.New("config: session has no personas")

// Session describes who is in the conversation and how turns are taken.
type Session struct {
	Human             string          `yaml:"human"`
	Personas          []PersonaConfig `yaml:"personas"`
	StopMarkers       []string        `yaml:"stop_markers"`
	MonopolyWindow    int             `yaml:"monopoly_window"`
	PromptWindow      int             `yaml:"prompt_window"`
	FallbackAddressee string          `yaml:"fallback_addressee"`
	PreserveNewlines  bool            `yaml:"preserve_newlines"`
}

// PersonaConfig is one AI participant.
type PersonaConfig struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Prompt string `yaml:"prompt"`
	Voice  string `yaml:"voice"`
}

// DefaultSession is a two-persona session used when no file is given.
func DefaultSession() Session {
	return Session{
		Human: "You",
		Personas: []PersonaConfig{
			{ID: "ava", Name: "Ava", Prompt: "You are warm, curious and quick to ask follow-up questions.", Voice: "nova"},
			{ID: "bo", Name: "Bo", Prompt: "You are dry, skeptical and brief.", Voice: "onyx"},
		},
		MonopolyWindow: turn.DefaultMonopolyWindow,
		PromptWindow:   turn.DefaultPromptWindow,
	}
}

// LoadSession reads a YAML session file. An empty path returns the default
// session. Unset numeric fields keep their defaults.
func LoadSession(path string) (Session, error) {
	if path == "" {
		return DefaultSession(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Session{}, fmt.Errorf("read session: %w", err)
	}
	return ParseSession(data)
}

// ParseSession decodes a YAML session.
func ParseSession(data []byte) (Session, error) {
	s := DefaultSession()
	s.Personas = nil
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Session{}, fmt.Errorf("parse session: %w", err)
	}
	if len(s.Personas) == 0 {
		return Session{}, ErrNoPersonas
	}
	return s, nil
}

// Roster builds the participant roster.
func (s Session) Roster() (*turn.Roster, error) {
	ais := make([]turn.Participant, 0, len(s.Personas))
	for _, p := range s.Personas {
		ais = append(ais, turn.Participant{ID: turn.ParticipantID(p.ID), DisplayName: p.Name})
	}
	return turn.NewRoster(s.Human, ais...)
}

// DialoguePersonas returns the personas for the dialogue loop.
func (s Session) DialoguePersonas() []dialogue.Persona {
	out := make([]dialogue.Persona, 0, len(s.Personas))
	for _, p := range s.Personas {
		out = append(out, dialogue.Persona{
			ID:     turn.ParticipantID(p.ID),
			Prompt: p.Prompt,
			Voice:  p.Voice,
		})
	}
	return out
}

// DirectorOptions returns the turn-taking options the session sets.
func (s Session) DirectorOptions() []turn.Option {
	opts := []turn.Option{
		turn.WithMonopolyWindow(s.MonopolyWindow),
		turn.WithPromptWindow(s.PromptWindow),
	}
	if s.FallbackAddressee != "" {
		opts = append(opts, turn.WithFallbackAddressee(turn.ParticipantID(s.FallbackAddressee)))
	}
	return opts
}
