package inference

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultOpenTimeout bounds how long the chain waits for one provider to
// start streaming before moving to the next. A caller on the phone hears
// this as dead air.
const DefaultOpenTimeout = 4 * time.Second

// Chain tries providers in order. For streams, fallback only happens while
// opening; once chunks flow, a failure is reported to the caller.
type Chain struct {
	providers   []Provider
	openTimeout time.Duration
	logger      *slog.Logger
}

// NewChain creates a provider chain. At least one provider is required.
func NewChain(providers ...Provider) (*Chain, error) {
	if len(providers) == 0 {
		return nil, ErrProviderUnavailable
	}
	return &Chain{
		providers:   providers,
		openTimeout: DefaultOpenTimeout,
		logger:      slog.Default().With("component", "inference.chain"),
	}, nil
}

// NewChainWithLogger creates a provider chain with a custom logger.
func NewChainWithLogger(logger *slog.Logger, providers ...Provider) (*Chain, error) {
	chain, err := NewChain(providers...)
	if err != nil {
		return nil, err
	}
	chain.logger = logger.With("component", "inference.chain")
	return chain, nil
}

// SetOpenTimeout changes the per-provider open deadline. Zero waits for
// as long as ctx allows.
func (c *Chain) SetOpenTimeout(d time.Duration) {
	c.openTimeout = d
}

// Stream tries each streaming provider until one opens within the open
// timeout.
func (c *Chain) Stream(ctx context.Context, req *ChatRequest) (Stream, error) {
	return tryEach(ctx, c, "stream",
		func(p Provider) bool { return p.Capabilities().Streaming },
		func(p Provider) (Stream, error) { return c.open(ctx, p, req) },
	)
}

// open starts one stream. The stream keeps a context of its own that
// outlives the open deadline and is released by Close.
func (c *Chain) open(ctx context.Context, p Provider, req *ChatRequest) (Stream, error) {
	if c.openTimeout <= 0 {
		return p.Stream(ctx, req)
	}

	sctx, cancel := context.WithCancel(ctx)
	timer := time.AfterFunc(c.openTimeout, cancel)
	s, err := p.Stream(sctx, req)
	if !timer.Stop() {
		if s != nil {
			s.Close()
		}
		cancel()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w after %s", ErrOpenTimeout, c.openTimeout)
	}
	if err != nil {
		cancel()
		return nil, err
	}
	return &chainStream{Stream: s, cancel: cancel}, nil
}

type chainStream struct {
	Stream
	cancel context.CancelFunc
}

func (s *chainStream) Close() error {
	err := s.Stream.Close()
	s.cancel()
	return err
}

// tryEach runs call against every eligible provider in order.
func tryEach[T any](ctx context.Context, c *Chain, op string, eligible func(Provider) bool, call func(Provider) (T, error)) (T, error) {
	var zero T
	var errs []error

	for i, p := range c.providers {
		if !eligible(p) {
			continue
		}

		result, err := call(p)
		if err == nil {
			if i > 0 {
				c.logger.Info("fallback provider answered", "op", op, "provider_index", i)
			}
			return result, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		errs = append(errs, err)
		c.logger.Warn("provider failed, trying next", "op", op, "provider_index", i, "error", err)
	}

	if len(errs) == 0 {
		return zero, ErrProviderUnavailable
	}
	return zero, &ChainError{Errors: errs}
}

// Capabilities is the union of the providers' capabilities.
func (c *Chain) Capabilities() Capabilities {
	var caps Capabilities
	for _, p := range c.providers {
		pc := p.Capabilities()
		caps.Streaming = caps.Streaming || pc.Streaming
		caps.Tools = caps.Tools || pc.Tools
	}
	return caps
}

// Health fails only when every provider is unhealthy.
func (c *Chain) Health(ctx context.Context) error {
	var lastErr error
	for _, p := range c.providers {
		err := p.Health(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return WrapError("chain", lastErr)
}

// Close closes all providers.
func (c *Chain) Close() error {
	var lastErr error
	for _, p := range c.providers {
		if err := p.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

var _ Provider = (*Chain)(nil)
