package tts

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultCooldown is how long a voice that failed is passed over.
const DefaultCooldown = 30 * time.Second

// Chain falls back between voices. A voice that fails is benched for the
// cooldown so the remaining fragments of a reply go straight to the next
// one. When every voice is benched they are all tried again in order.
type Chain struct {
	providers []Provider
	cooldown  time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	benched []time.Time
}

// NewChain creates a chain. At least one provider is required.
func NewChain(providers ...Provider) (*Chain, error) {
	if len(providers) == 0 {
		return nil, ErrProviderUnavailable
	}
	return &Chain{
		providers: providers,
		cooldown:  DefaultCooldown,
		logger:    slog.Default().With("component", "tts.chain"),
		now:       time.Now,
		benched:   make([]time.Time, len(providers)),
	}, nil
}

// NewChainWithLogger creates a chain with a custom logger.
func NewChainWithLogger(logger *slog.Logger, providers ...Provider) (*Chain, error) {
	chain, err := NewChain(providers...)
	if err != nil {
		return nil, err
	}
	chain.logger = logger.With("component", "tts.chain")
	return chain, nil
}

// SetCooldown changes how long failed voices are skipped. Zero disables
// benching.
func (c *Chain) SetCooldown(d time.Duration) {
	c.mu.Lock()
	c.cooldown = d
	c.mu.Unlock()
}

// Synthesize walks the voices in order, skipping benched ones. Empty audio
// counts as a failure. A cancelled context stops the walk.
func (c *Chain) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	var errs []error

	for _, i := range c.order() {
		result, err := c.providers[i].Synthesize(ctx, text)
		if err == nil && (result == nil || len(result.Audio) == 0) {
			err = ErrEmptyAudio
		}
		if err == nil {
			c.restore(i)
			if i > 0 {
				c.logger.Debug("fallback voice used", "provider_index", i, "chars", len(text))
			}
			return result, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		errs = append(errs, err)
		c.bench(i)
		c.logger.Warn("voice failed, trying next", "provider_index", i, "error", err)
	}

	return nil, &ChainError{Errors: errs}
}

// order lists provider indexes to try: available voices first, then the
// benched ones if nothing else is left.
func (c *Chain) order() []int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	ready := make([]int, 0, len(c.providers))
	for i, until := range c.benched {
		if until.IsZero() || !now.Before(until) {
			ready = append(ready, i)
		}
	}
	if len(ready) > 0 {
		return ready
	}
	for i := range c.providers {
		ready = append(ready, i)
	}
	return ready
}

func (c *Chain) bench(i int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cooldown > 0 {
		c.benched[i] = c.now().Add(c.cooldown)
	}
}

func (c *Chain) restore(i int) {
	c.mu.Lock()
	c.benched[i] = time.Time{}
	c.mu.Unlock()
}

// Benched reports which voices are currently being skipped.
func (c *Chain) Benched() []bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	out := make([]bool, len(c.benched))
	for i, until := range c.benched {
		out[i] = !until.IsZero() && now.Before(until)
	}
	return out
}

// Health fails only when every voice is unhealthy.
func (c *Chain) Health(ctx context.Context) error {
	var lastErr error
	for _, p := range c.providers {
		err := p.Health(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("all %d voices unhealthy: %w", len(c.providers), lastErr)
}

// Close closes every voice and returns the last error.
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
