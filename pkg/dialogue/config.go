package dialogue

import (
	"errors"
	"log/slog"
)

// Defaults for AI reply generation.
const (
	DefaultMaxTokens     = 300
	DefaultTemperature   = 0.9
	DefaultContextWindow = 20
)

// ErrInvalidContextWindow is returned for a non-positive context window.
var ErrInvalidContextWindow = errors.New("dialogue: context window must be positive")

// Config holds dialogue loop configuration.
// Use functional options (WithXxx) to set these values.
type Config struct {
	// Reply generation
	Model       string
	MaxTokens   int
	Temperature float64

	// ContextWindow is how many history entries each AI reply sees.
	ContextWindow int

	// PreserveNewlines keeps paragraph breaks in emitted sentences.
	PreserveNewlines bool

	// StopMarkers are added to the default catalog and the per-participant
	// markers.
	StopMarkers []string

	// Sinks receive sentences and turn decisions.
	Sinks []Sink

	// Observability
	Logger *slog.Logger
}

// Option is a functional option for configuring the loop.
type Option func(*Config)

// WithModel overrides the provider's default model for AI replies.
func WithModel(model string) Option {
	return func(c *Config) {
		c.Model = model
	}
}

// WithMaxTokens limits reply length.
func WithMaxTokens(n int) Option {
	return func(c *Config) {
		c.MaxTokens = n
	}
}

// WithTemperature sets reply sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *Config) {
		c.Temperature = t
	}
}

// WithContextWindow sets how many history entries each reply prompt carries.
func WithContextWindow(n int) Option {
	return func(c *Config) {
		c.ContextWindow = n
	}
}

// WithPreserveNewlines keeps paragraph breaks as newline-anchored sentences.
func WithPreserveNewlines(on bool) Option {
	return func(c *Config) {
		c.PreserveNewlines = on
	}
}

// WithStopMarkers adds extra stop markers.
func WithStopMarkers(markers ...string) Option {
	return func(c *Config) {
		c.StopMarkers = append(c.StopMarkers, markers...)
	}
}

// WithSink adds a sink.
func WithSink(s Sink) Option {
	return func(c *Config) {
		c.Sinks = append(c.Sinks, s)
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxTokens:     DefaultMaxTokens,
		Temperature:   DefaultTemperature,
		ContextWindow: DefaultContextWindow,
		Logger:        slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.ContextWindow <= 0 {
		return ErrInvalidContextWindow
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}
