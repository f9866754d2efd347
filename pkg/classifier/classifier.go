// Package classifier implements the turn-taking gateway on top of a chat
// model. Each question is a single JSON-mode completion constrained to a
// closed label set, retried a bounded number of times with credential
// rotation between attempts.
package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/teslashibe/go-parley/pkg/inference"
	"github.com/teslashibe/go-parley/pkg/turn"
)

// ErrUnparseable is returned when a completion holds no label.
var ErrUnparseable = errors.New("classifier: unparseable answer")

// LabelError reports an answer outside the allowed label set.
type LabelError struct {
	Label   string
	Allowed []turn.ParticipantID
}

// Error implements the error interface.
func (e *LabelError) Error() string {
	allowed := make([]string, len(e.Allowed))
	for i, id := range e.Allowed {
		allowed[i] = string(id)
	}
	return fmt.Sprintf("classifier: label %q not in [%s]", e.Label, strings.Join(allowed, ", "))
}

// Is makes LabelError match turn.ErrLabelOutOfSet.
func (e *LabelError) Is(target error) bool {
	return target == turn.ErrLabelOutOfSet
}

// Config holds gateway configuration.
type Config struct {
	// Model overrides the provider's default model.
	Model string

	// Attempts is the total number of tries per question.
	Attempts int

	// Backoff is the fixed wait between attempts.
	Backoff time.Duration

	// Timeout bounds a single attempt.
	Timeout time.Duration

	// OnAttempt, when set, is called after every attempt.
	OnAttempt func(q turn.Question, attempt int, err error)

	Logger *slog.Logger
}

// Option is a functional option for configuring the gateway.
type Option func(*Config)

// WithModel sets the classification model.
func WithModel(model string) Option {
	return func(c *Config) { c.Model = model }
}

// WithAttempts sets the retry budget.
func WithAttempts(n int) Option {
	return func(c *Config) { c.Attempts = n }
}

// WithBackoff sets the wait between attempts.
func WithBackoff(d time.Duration) Option {
	return func(c *Config) { c.Backoff = d }
}

// WithTimeout bounds each attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithAttemptHook registers a callback run after every attempt.
func WithAttemptHook(fn func(q turn.Question, attempt int, err error)) Option {
	return func(c *Config) { c.OnAttempt = fn }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns the default gateway configuration.
func DefaultConfig() *Config {
	return &Config{
		Attempts: 3,
		Backoff:  300 * time.Millisecond,
		Timeout:  10 * time.Second,
		Logger:   slog.Default(),
	}
}

// Gateway asks a chat model turn-taking questions.
type Gateway struct {
	provider inference.Provider
	cfg      *Config
	logger   *slog.Logger
}

// New creates a gateway over provider.
func New(provider inference.Provider, opts ...Option) *Gateway {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Gateway{
		provider: provider,
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "classifier.gateway"),
	}
}

// Classify answers one question, retrying failed or out-of-set answers.
func (g *Gateway) Classify(ctx context.Context, req turn.Request) (turn.Response, error) {
	messages := BuildPrompt(req)

	var lastErr error
	for attempt := 1; attempt <= g.cfg.Attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return turn.Response{}, ctx.Err()
			case <-time.After(g.cfg.Backoff):
			}
			if r, ok := g.provider.(inference.Rotator); ok {
				r.Rotate()
			}
		}

		resp, err := g.attempt(ctx, req, messages)
		if g.cfg.OnAttempt != nil {
			g.cfg.OnAttempt(req.Question, attempt, err)
		}
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return turn.Response{}, ctx.Err()
		}

		g.logger.Debug("classifier attempt failed",
			"question", req.Question,
			"attempt", attempt,
			"error", err,
		)
	}

	return turn.Response{}, fmt.Errorf("classifier: %d attempts: %w", g.cfg.Attempts, lastErr)
}

func (g *Gateway) attempt(ctx context.Context, req turn.Request, messages []inference.Message) (turn.Response, error) {
	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	// Classify owns the retry budget, so the transport must not retry too.
	resp, err := g.provider.Chat(ctx, &inference.ChatRequest{
		Messages:      messages,
		Model:         g.cfg.Model,
		MaxTokens:     120,
		Temperature:   0.1,
		JSON:          true,
		SingleAttempt: true,
	})
	if err != nil {
		return turn.Response{}, err
	}

	label, reason, err := ParseAnswer(resp.Message.Content)
	if err != nil {
		return turn.Response{}, err
	}

	id, ok := matchLabel(req, label)
	if !ok {
		return turn.Response{}, &LabelError{Label: label, Allowed: req.Labels}
	}
	return turn.Response{Label: string(id), Reason: reason}, nil
}

// ParseAnswer extracts a label and reason from a completion. JSON objects
// (optionally fenced) are preferred; otherwise the first line is the label.
func ParseAnswer(content string) (label, reason string, err error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	if start, end := strings.Index(content, "{"), strings.LastIndex(content, "}"); start >= 0 && end > start {
		var answer struct {
			Label   string `json:"label"`
			Speaker string `json:"speaker"`
			Reason  string `json:"reason"`
		}
		if json.Unmarshal([]byte(content[start:end+1]), &answer) == nil {
			label = answer.Label
			if label == "" {
				label = answer.Speaker
			}
			if label = strings.TrimSpace(label); label != "" {
				return label, strings.TrimSpace(answer.Reason), nil
			}
		}
		return "", "", ErrUnparseable
	}
	if strings.HasPrefix(content, "{") {
		return "", "", ErrUnparseable
	}

	line, _, _ := strings.Cut(content, "\n")
	label = strings.Trim(line, " \t\"'.`*:")
	if label == "" {
		return "", "", ErrUnparseable
	}
	return label, "", nil
}

func matchLabel(req turn.Request, label string) (turn.ParticipantID, bool) {
	candidate := turn.ParticipantID(strings.ToLower(strings.TrimSpace(label)))
	if candidate != turn.All && req.Roster != nil {
		if id, ok := req.Roster.Resolve(label); ok {
			candidate = id
		}
	}
	for _, allowed := range req.Labels {
		if allowed == candidate {
			return allowed, true
		}
	}
	return "", false
}

var _ turn.Gateway = (*Gateway)(nil)
