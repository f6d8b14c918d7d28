package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"autocapture/browser"
	"autocapture/screenshot"
)

// Decision is what a Policy does with a failed attempt.
type Decision int

const (
	// Retry tries again while attempts remain.
	Retry Decision = iota
	// Fail gives up on the current unit of work.
	Fail
	// Abort gives up on the whole run.
	Abort
)

func (d Decision) String() string {
	switch d {
	case Retry:
		return "retry"
	case Fail:
		return "fail"
	case Abort:
		return "abort"
	}
	return fmt.Sprintf("decision(%d)", int(d))
}

// ErrAborted marks an error that a Policy classified as Abort.
var ErrAborted = errors.New("run aborted")

// Policy bounds an operation's attempts.
type Policy struct {
	Attempts int
	Backoff  time.Duration
	// Classify decides what to do with a failed attempt. Nil retries
	// everything.
	Classify func(error) Decision
	Sleeper  screenshot.Sleeper
	Logger   *zap.Logger
}

// DefaultPolicy gives each item two retries two seconds apart.
func DefaultPolicy() Policy {
	return Policy{Attempts: 3, Backoff: 2 * time.Second, Classify: ClassifyCapture}
}

// Do runs fn until it succeeds, the attempts run out, or Classify says
// otherwise. fn learns whether it is on its last attempt. Errors classified
// as Abort come back wrapped with ErrAborted. Context cancellation stops the
// loop immediately.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int, last bool) error) error {
	attempts := max(p.Attempts, 1)
	sleeper := p.Sleeper
	if sleeper == nil {
		sleeper = screenshot.ContextSleeper{}
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		last := attempt == attempts
		lastErr = fn(ctx, attempt, last)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}

		decision := Retry
		if p.Classify != nil {
			decision = p.Classify(lastErr)
		}
		switch decision {
		case Abort:
			return fmt.Errorf("%w: %w", ErrAborted, lastErr)
		case Fail:
			return lastErr
		}
		if last {
			break
		}

		logger.Debug("Retrying after backoff",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", p.Backoff),
			zap.Error(lastErr))
		if err := sleeper.Sleep(ctx, p.Backoff); err != nil {
			return lastErr
		}
	}
	return lastErr
}

// ClassifyCapture is the per-item policy: timeouts and generic page errors
// are retried; login walls, refused connections and lost sessions fail the
// item straight away. The circuit breaker decides separately whether a
// refusal aborts the run.
func ClassifyCapture(err error) Decision {
	switch {
	case errors.Is(err, screenshot.ErrLoginWall),
		errors.Is(err, context.Canceled):
		return Fail
	}
	switch browser.KindOf(err) {
	case browser.KindConnectionRefused, browser.KindSessionLost:
		return Fail
	}
	return Retry
}

// ClassifyRecreate is the session recreation policy: a browser that died
// mid-run is worth one more launch unless the run is being cancelled.
func ClassifyRecreate(err error) Decision {
	if errors.Is(err, context.Canceled) {
		return Fail
	}
	return Retry
}
