package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Default backoff parameters.
const (
	defaultInitialBackoff = 1 * time.Second
	defaultMaxBackoff     = 30 * time.Second
)

// Backoff configures [Retry].
type Backoff struct {
	// Name is a human-readable label used in log messages.
	Name string

	// Initial is the wait after the first failure. Doubles each attempt up to
	// Max. Default: 1s.
	Initial time.Duration

	// Max is the upper limit on the wait between attempts. Default: 30s.
	Max time.Duration

	// MaxRetries is the number of attempts before giving up. Zero retries
	// until ctx ends.
	MaxRetries int
}

// Retry calls fn until it succeeds, waiting with exponential backoff between
// attempts. It returns nil on success, ctx.Err() when ctx ends first, and the
// last error once MaxRetries attempts have failed.
func Retry(ctx context.Context, b Backoff, fn func(context.Context) error) error {
	if b.Initial <= 0 {
		b.Initial = defaultInitialBackoff
	}
	if b.Max <= 0 {
		b.Max = defaultMaxBackoff
	}

	wait := b.Initial
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				slog.Info("resilience: retry succeeded", "name", b.Name, "attempt", attempt)
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if b.MaxRetries > 0 && attempt >= b.MaxRetries {
			return fmt.Errorf("resilience: %s failed after %d attempts: %w", b.Name, attempt, err)
		}

		slog.Warn("resilience: attempt failed",
			"name", b.Name,
			"attempt", attempt,
			"backoff", wait,
			"err", err,
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		wait *= 2
		if wait > b.Max {
			wait = b.Max
		}
	}
}
