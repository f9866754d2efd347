package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// Chain is a Provider that synthesizes on its primary backend and falls
// back to the next one when synthesis fails. Lines are short, so a failed
// line is re-synthesized on the fallback in full. A 400 response rejects
// the line itself and is returned without failing over.
type Chain struct {
	backends   []Provider
	onFailover func(from string, err error)
	logger     *slog.Logger
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithChainLogger sets the chain logger.
func WithChainLogger(l *slog.Logger) ChainOption {
	return func(c *Chain) { c.logger = l.With("component", "tts.chain") }
}

// WithFailoverHook is called with the failed backend's name ("primary",
// "fallback", "fallback-2", ...) each time a line moves past it.
func WithFailoverHook(fn func(from string, err error)) ChainOption {
	return func(c *Chain) { c.onFailover = fn }
}

// NewChain wraps backends, primary first.
func NewChain(backends []Provider, opts ...ChainOption) (*Chain, error) {
	if len(backends) == 0 {
		return nil, ErrProviderUnavailable
	}
	c := &Chain{
		backends: backends,
		logger:   slog.Default().With("component", "tts.chain"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Synthesize voices text on the first backend that succeeds.
func (c *Chain) Synthesize(ctx context.Context, text, voice string) (*AudioResult, error) {
	var errs []error
	for i, p := range c.backends {
		result, err := p.Synthesize(ctx, text, voice)
		if err == nil {
			if i > 0 {
				c.logger.Info("line voiced by fallback backend",
					"backend", backendName(i),
					"voice", voice,
				)
			}
			return result, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var ae *APIError
		if errors.As(err, &ae) && ae.StatusCode == http.StatusBadRequest {
			return nil, err
		}
		if i < len(c.backends)-1 {
			c.logger.Warn("synthesis failed, failing over", "backend", backendName(i), "error", err)
			if c.onFailover != nil {
				c.onFailover(backendName(i), err)
			}
		}
	}
	return nil, &ChainError{Errors: errs}
}

// Health passes while any backend is reachable.
func (c *Chain) Health(ctx context.Context) error {
	var lastErr error
	for _, p := range c.backends {
		if lastErr = p.Health(ctx); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("tts chain: %d backends unreachable: %w", len(c.backends), lastErr)
}

// Close closes every backend and returns the first error.
func (c *Chain) Close() error {
	var first error
	for _, p := range c.backends {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Backends returns the wrapped providers, primary first.
func (c *Chain) Backends() []Provider {
	return c.backends
}

func backendName(i int) string {
	switch i {
	case 0:
		return "primary"
	case 1:
		return "fallback"
	default:
		return fmt.Sprintf("fallback-%d", i)
	}
}

// ChainError collects one error per backend a Chain tried.
type ChainError struct {
	Errors []error
}

// Error implements the error interface.
func (e *ChainError) Error() string {
	switch len(e.Errors) {
	case 0:
		return "tts chain: no backends tried"
	case 1:
		return fmt.Sprintf("tts chain: %v", e.Errors[0])
	}
	return fmt.Sprintf("tts chain: all %d backends failed, last error: %v", len(e.Errors), e.Errors[len(e.Errors)-1])
}

// Unwrap returns every backend error.
func (e *ChainError) Unwrap() []error {
	return e.Errors
}

var _ Provider = (*Chain)(nil)
