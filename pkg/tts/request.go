package tts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// requester posts synthesis requests with retry on 429 and 5xx.
type requester struct {
	provider   string
	client     *http.Client
	cfg        *Config
	logger     *slog.Logger
	parseError func(*http.Response) error
}

// post sends body to url and returns the full response body on 200.
func (r *requester) post(ctx context.Context, url string, header http.Header, body []byte) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, WrapError(r.provider, ctx.Err())
			case <-time.After(r.cfg.RetryDelay * time.Duration(attempt)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, WrapError(r.provider, fmt.Errorf("create request: %w", err))
		}
		req.Header = header.Clone()

		resp, err := r.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, WrapError(r.provider, ctx.Err())
			}
			lastErr = WrapError(r.provider, err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = r.parseError(resp)
			resp.Body.Close()
			r.logger.Warn("retrying request",
				"attempt", attempt+1,
				"status", resp.StatusCode,
			)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			err := r.parseError(resp)
			resp.Body.Close()
			return nil, err
		}

		audio, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, WrapError(r.provider, fmt.Errorf("read response: %w", err))
		}
		if len(audio) == 0 {
			return nil, WrapError(r.provider, ErrEmptyAudio)
		}
		return audio, nil
	}

	return nil, lastErr
}

// get performs a credential check request.
func (r *requester) get(ctx context.Context, url string, header http.Header) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return WrapError(r.provider, err)
	}
	req.Header = header.Clone()

	resp, err := r.client.Do(req)
	if err != nil {
		return WrapError(r.provider, fmt.Errorf("health check: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return r.parseError(resp)
	}
	return nil
}
