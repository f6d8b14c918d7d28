package screenshot

import (
	"context"
	"fmt"
	"time"

	"autocapture/browser"
)

const (
	// MaxCaptureHeight caps the resized viewport so infinite-scroll pages
	// cannot exhaust memory.
	MaxCaptureHeight = 16000
	// heightPadding is added below the measured document height.
	heightPadding = 200
	scrollStep    = 800

	resizeSettle = 300 * time.Millisecond
	scrollSettle = 150 * time.Millisecond
	topSettle    = 200 * time.Millisecond
)

// Sleeper pauses between browser steps. Sleep returns early with the
// context's error when ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// ContextSleeper sleeps on a timer.
type ContextSleeper struct{}

func (ContextSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// CaptureFullPage grows the viewport to the document height, scrolls through
// the page so lazy content renders, returns to the top and takes one
// beyond-viewport PNG screenshot.
func CaptureFullPage(ctx context.Context, sess browser.Session, width int, sleeper Sleeper) ([]byte, error) {
	if sleeper == nil {
		sleeper = ContextSleeper{}
	}

	height, err := sess.ScrollHeight(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to measure page: %w", err)
	}

	if err := sess.Resize(ctx, width, min(height+heightPadding, MaxCaptureHeight)); err != nil {
		return nil, fmt.Errorf("failed to resize viewport: %w", err)
	}
	if err := sleeper.Sleep(ctx, resizeSettle); err != nil {
		return nil, err
	}

	for y := 0; y < height; y += scrollStep {
		if err := sess.ScrollTo(ctx, y); err != nil {
			return nil, fmt.Errorf("failed to scroll to %d: %w", y, err)
		}
		if err := sleeper.Sleep(ctx, scrollSettle); err != nil {
			return nil, err
		}
	}

	if err := sess.ScrollTo(ctx, 0); err != nil {
		return nil, fmt.Errorf("failed to scroll to top: %w", err)
	}
	if err := sleeper.Sleep(ctx, topSettle); err != nil {
		return nil, err
	}

	buf, err := sess.CaptureBeyondViewport(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return buf, nil
}
