package logger

import (
	"context"
	"log/slog"
	"time"
)

// LogAndContinue logs err at Warn with component/context fields and
// swallows it — the caller's loop keeps going. Use where a failure is
// expected and recoverable (e.g. one plugin artifact failing
// discovery never stops the scan).
func LogAndContinue(ctx context.Context, logger *slog.Logger, component, context_ string, err error) {
	if err == nil {
		return
	}
	if logger == nil {
		logger = GetLogger()
	}
	logger.WarnContext(ctx, "recovered from error, continuing", "component", component, "context", context_, "error", err)
}

// LogAndSurface logs err at Error with component/context fields and
// returns it unchanged, so the caller still gets an error return value
// to propagate. Use where the caller cannot meaningfully continue.
func LogAndSurface(ctx context.Context, logger *slog.Logger, component, context_ string, err error) error {
	if err == nil {
		return nil
	}
	if logger == nil {
		logger = GetLogger()
	}
	logger.ErrorContext(ctx, "error", "component", component, "context", context_, "error", err)
	return err
}

// RetryWithBackoff retries fn up to attempts times with a linear
// backoff of base*attempt between tries, logging each failed attempt.
// It returns the last error if every attempt fails.
func RetryWithBackoff(ctx context.Context, logger *slog.Logger, component string, attempts int, base time.Duration, fn func() error) error {
	if logger == nil {
		logger = GetLogger()
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := fn(); err != nil {
			lastErr = err
			logger.WarnContext(ctx, "attempt failed", "component", component, "attempt", attempt, "of", attempts, "error", err)
			if attempt == attempts {
				break
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * base):
			}
			continue
		}
		return nil
	}
	return lastErr
}
