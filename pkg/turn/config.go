package turn

import (
	"errors"
	"fmt"
	"log/slog"
)

// Default window sizes.
const (
	DefaultMonopolyWindow = 10
	DefaultPromptWindow   = 5
)

// ErrInvalidWindow is returned for a non-positive monopoly window or a
// negative prompt window.
var ErrInvalidWindow = errors.New("turn: invalid window")

// Config holds director configuration.
type Config struct {
	// MonopolyWindow is N in the anti-monopoly rule: an AI may not be
	// followed by another AI once the last N entries hold no human turn.
	MonopolyWindow int

	// PromptWindow is how many recent entries the classifier sees.
	PromptWindow int

	// FallbackAddressee is used when the classifier cannot say who a human
	// utterance is for. Empty selects the first AI in the roster.
	FallbackAddressee ParticipantID

	// Logger for diagnostics.
	Logger *slog.Logger
}

// Option is a functional option for configuring the director.
type Option func(*Config)

// WithMonopolyWindow sets N for the anti-monopoly rule.
func WithMonopolyWindow(n int) Option {
	return func(c *Config) { c.MonopolyWindow = n }
}

// WithPromptWindow sets how many recent entries the classifier sees.
func WithPromptWindow(n int) Option {
	return func(c *Config) { c.PromptWindow = n }
}

// WithFallbackAddressee sets the default AI for unclear human utterances.
func WithFallbackAddressee(id ParticipantID) Option {
	return func(c *Config) { c.FallbackAddressee = id }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns the default director configuration.
func DefaultConfig() *Config {
	return &Config{
		MonopolyWindow: DefaultMonopolyWindow,
		PromptWindow:   DefaultPromptWindow,
		Logger:         slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks the config against a roster and fills in the fallback
// addressee when unset.
func (c *Config) Validate(r *Roster) error {
	if c.MonopolyWindow < 1 || c.PromptWindow < 0 {
		return ErrInvalidWindow
	}
	if c.FallbackAddressee == "" {
		c.FallbackAddressee = r.ais[0].ID
	}
	if !r.IsAI(c.FallbackAddressee) {
		return fmt.Errorf("%w: fallback addressee %q", ErrUnknownParticipant, c.FallbackAddressee)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}
