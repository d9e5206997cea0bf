package transcribe

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

type RetryOption func(*Retrying)

// WithMaxRetries sets how many additional attempts follow the first.
func WithMaxRetries(n uint64) RetryOption {
	return func(r *Retrying) { r.maxRetries = n }
}

// WithBaseDelay sets the first backoff interval; later intervals double.
func WithBaseDelay(d time.Duration) RetryOption {
	return func(r *Retrying) { r.baseDelay = d }
}

// Retrying wraps a Transcriber with exponential backoff. Only retryable error
// kinds are retried; an empty result is returned as is.
type Retrying struct {
	next       Transcriber
	maxRetries uint64
	baseDelay  time.Duration
	logger     *slog.Logger
}

func WithRetry(next Transcriber, logger *slog.Logger, opts ...RetryOption) *Retrying {
	r := &Retrying{
		next:       next,
		maxRetries: 3,
		baseDelay:  time.Second,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Retrying) Transcribe(ctx context.Context, audioURI string) (string, error) {
	var text string
	attempt := 0
	backoff := retry.WithMaxRetries(r.maxRetries, retry.NewExponential(r.baseDelay))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		t, err := r.next.Transcribe(ctx, audioURI)
		if err == nil {
			text = t
			return nil
		}
		if errors.Is(err, context.Canceled) {
			return err
		}
		kind := KindOf(err)
		if !kind.Retryable() {
			return err
		}
		r.logger.Warn("transcription attempt failed", "attempt", attempt, "kind", kind, "error", err)
		return retry.RetryableError(err)
	})
	return text, err
}
