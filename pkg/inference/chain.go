package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// Chain is a Provider that sends every request to its primary backend and
// moves to the next backend only when the failure is one a different
// endpoint could avoid. Cancellation and malformed requests never fail over.
type Chain struct {
	backends   []Provider
	names      []string
	onFailover func(from string, err error)
	logger     *slog.Logger
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithChainLogger sets the chain logger.
func WithChainLogger(l *slog.Logger) ChainOption {
	return func(c *Chain) { c.logger = l.With("component", "inference.chain") }
}

// WithFailoverHook is called with the backend name each time a request
// leaves it for the next one.
func WithFailoverHook(fn func(from string, err error)) ChainOption {
	return func(c *Chain) { c.onFailover = fn }
}

// NewChain wraps backends, primary first. The first backend is named
// "primary" and the rest "fallback", "fallback-2" and so on.
func NewChain(backends []Provider, opts ...ChainOption) (*Chain, error) {
	if len(backends) == 0 {
		return nil, ErrProviderUnavailable
	}
	c := &Chain{
		backends: backends,
		names:    make([]string, len(backends)),
		logger:   slog.Default().With("component", "inference.chain"),
	}
	for i := range backends {
		c.names[i] = BackendName(i)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BackendName names the backend at position i of a chain.
func BackendName(i int) string {
	switch i {
	case 0:
		return "primary"
	case 1:
		return "fallback"
	default:
		return fmt.Sprintf("fallback-%d", i)
	}
}

// Chat answers from the first backend that succeeds.
func (c *Chain) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	return try(ctx, c, func(p Provider) (*ChatResponse, error) { return p.Chat(ctx, req) })
}

// Stream opens a stream on the first backend that accepts the request.
// A stream that fails after opening is not replayed elsewhere: the
// caller has already consumed part of it.
func (c *Chain) Stream(ctx context.Context, req *ChatRequest) (Stream, error) {
	return try(ctx, c, func(p Provider) (Stream, error) { return p.Stream(ctx, req) })
}

func try[T any](ctx context.Context, c *Chain, call func(Provider) (T, error)) (T, error) {
	var zero T
	var errs []error
	for i, p := range c.backends {
		v, err := call(p)
		if err == nil {
			if i > 0 {
				c.logger.Info("served by fallback backend", "backend", c.names[i])
			}
			return v, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if !FailoverWorthy(err) {
			return zero, err
		}
		if i < len(c.backends)-1 {
			c.logger.Warn("backend failed, failing over",
				"backend", c.names[i],
				"next", c.names[i+1],
				"error", err,
			)
			if c.onFailover != nil {
				c.onFailover(c.names[i], err)
			}
		}
	}
	return zero, &ChainError{Errors: errs}
}

// FailoverWorthy reports whether err might not recur on another backend.
// Context errors and 400 responses describe the request, not the endpoint.
func FailoverWorthy(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var ae *APIError
	if errors.As(err, &ae) && ae.StatusCode == http.StatusBadRequest {
		return false
	}
	return true
}

// Health passes while any backend is reachable.
func (c *Chain) Health(ctx context.Context) error {
	var errs []error
	for i, p := range c.backends {
		err := p.Health(ctx)
		if err == nil {
			if i > 0 {
				c.logger.Warn("primary backend unhealthy, fallback reachable", "backend", c.names[i])
			}
			return nil
		}
		errs = append(errs, err)
	}
	return WrapError("chain", &ChainError{Errors: errs})
}

// Rotate advances the key ring of every backend that has one.
func (c *Chain) Rotate() bool {
	rotated := false
	for _, p := range c.backends {
		if r, ok := p.(Rotator); ok && r.Rotate() {
			rotated = true
		}
	}
	return rotated
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

var (
	_ Provider = (*Chain)(nil)
	_ Rotator  = (*Chain)(nil)
	_ Rotator  = (*Client)(nil)
)
