package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-callbridge/pkg/tts"
)

// Pool synthesizes fragments concurrently. Each fragment gets its own
// goroutine; results are written to the results channel in completion
// order, not index order.
type Pool struct {
	tts     tts.Provider
	out     chan<- Result
	timeout time.Duration
	logger  *slog.Logger

	wg sync.WaitGroup
}

// NewPool creates a pool writing to out.
func NewPool(provider tts.Provider, out chan<- Result, timeout time.Duration, logger *slog.Logger) *Pool {
	if timeout <= 0 {
		timeout = DefaultConfig().SynthesisTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		tts:     provider,
		out:     out,
		timeout: timeout,
		logger:  logger.With("component", "conversation.pool"),
	}
}

// Synthesize starts synthesis for f and returns immediately. Empty text is
// a no-op. Nothing is delivered once ctx is done.
func (p *Pool) Synthesize(ctx context.Context, f Fragment) {
	if strings.TrimSpace(f.Text) == "" {
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		rctx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()

		start := time.Now()
		res, err := p.tts.Synthesize(rctx, f.Text)

		r := Result{Index: f.Index, Text: f.Text, Interaction: f.Interaction}
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			if errors.Is(rctx.Err(), context.DeadlineExceeded) {
				err = fmt.Errorf("%w after %s: %w", errTimeout, p.timeout, err)
			}
			r.Err = &ProviderTransportError{Stage: StageSynthesis, Index: f.Index, Err: err}
		case res == nil || len(res.Audio) == 0:
			r.Err = &ProviderTransportError{Stage: StageSynthesis, Index: f.Index, Err: tts.ErrEmptyAudio}
		default:
			r.Audio = res.Audio
			p.logger.Debug("synthesized", "index", f.Index, "bytes", len(res.Audio), "latency", time.Since(start))
		}

		select {
		case p.out <- r:
		case <-ctx.Done():
		}
	}()
}

// Wait blocks until every in-flight request has finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}
