package logger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLogAndContinueSwallowsError(t *testing.T) {
	LogAndContinue(context.Background(), discardLogger(), "Test", "ctx", errors.New("boom"))
}

func TestLogAndContinueNilErrorIsNoop(t *testing.T) {
	LogAndContinue(context.Background(), discardLogger(), "Test", "ctx", nil)
}

func TestLogAndSurfaceReturnsTheSameError(t *testing.T) {
	want := errors.New("boom")
	got := LogAndSurface(context.Background(), discardLogger(), "Test", "ctx", want)
	assert.Same(t, want, got)
}

func TestLogAndSurfaceNilErrorReturnsNil(t *testing.T) {
	err := LogAndSurface(context.Background(), discardLogger(), "Test", "ctx", nil)
	assert.NoError(t, err)
}

func TestRetryWithBackoffSucceedsEventually(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), discardLogger(), "Test", 3, time.Millisecond, func() error {
		calls++
		if calls < 2 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryWithBackoffExhaustsAttempts(t *testing.T) {
	calls := 0
	wantErr := errors.New("always fails")
	err := RetryWithBackoff(context.Background(), discardLogger(), "Test", 3, time.Millisecond, func() error {
		calls++
		return wantErr
	})
	assert.Same(t, wantErr, err)
	assert.Equal(t, 3, calls)
}

func TestRetryWithBackoffRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := RetryWithBackoff(ctx, discardLogger(), "Test", 5, 10*time.Millisecond, func() error {
		calls++
		if calls == 1 {
			cancel()
		}
		return errors.New("fails")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
