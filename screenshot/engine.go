// Package screenshot turns one URL into one full-page image: navigation,
// load waiting, login-wall detection with an optional manual login pause,
// the scroll-and-capture algorithm, and output encoding.
package screenshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"autocapture/browser"
)

// FailureReason says why an item did not produce a good capture.
type FailureReason string

const (
	ReasonNone              FailureReason = "none"
	ReasonLoadTimeout       FailureReason = "load_timeout"
	ReasonNavigation        FailureReason = "navigation"
	ReasonConnectionRefused FailureReason = "connection_refused"
	ReasonLoginWall         FailureReason = "login_wall"
	ReasonSessionLost       FailureReason = "session_lost"
	ReasonCapture           FailureReason = "capture"
	ReasonWrite             FailureReason = "write"
	ReasonCancelled         FailureReason = "cancelled"
	ReasonCircuitOpen       FailureReason = "circuit_open"
	ReasonSessionStart      FailureReason = "session_start"
)

// ErrLoginWall is returned when a page was classified as a login wall.
// The Result may still carry the image of the login page.
var ErrLoginWall = errors.New("login wall detected")

// Result is the outcome of one capture attempt.
type Result struct {
	Success  bool
	Image    []byte
	Reason   FailureReason
	FinalURL string
}

// LoginState is the batch-wide login bookkeeping. The prompt is shown at
// most once per batch.
type LoginState struct {
	PromptShown bool
	LoggedIn    bool
}

// Default timings.
const (
	DefaultDelay             = 2 * time.Second
	DefaultPollInterval      = 250 * time.Millisecond
	DefaultPostLoadSettle    = time.Second
	DefaultLoginPolls        = 2
	DefaultLoginPollInterval = 5 * time.Second

	// loadGrace is added to the configured delay to form the load deadline.
	loadGrace = 5 * time.Second
)

// Options tune an Engine. Zero values fall back to the defaults above.
type Options struct {
	Width int
	// Delay is the per-page settle delay; the load wait is Delay+5s.
	Delay             time.Duration
	SkipLogin         bool
	PersistentProfile bool
	Cookies           []browser.Cookie

	PollInterval      time.Duration
	PostLoadSettle    time.Duration
	LoginPolls        int
	LoginPollInterval time.Duration
}

// Engine runs the per-URL capture state machine.
type Engine struct {
	opts     Options
	detector LoginDetector
	sleeper  Sleeper
	logger   *zap.Logger

	// OnLoginWall is told when a login wall pauses the run so a user can sign
	// in in the visible browser.
	OnLoginWall func(url, finalURL string)
}

// NewEngine builds an Engine. A nil detector means DefaultLoginDetector and
// a nil sleeper means real sleeps.
func NewEngine(opts Options, detector LoginDetector, sleeper Sleeper, logger *zap.Logger) *Engine {
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.PostLoadSettle <= 0 {
		opts.PostLoadSettle = DefaultPostLoadSettle
	}
	if opts.LoginPolls <= 0 {
		opts.LoginPolls = DefaultLoginPolls
	}
	if opts.LoginPollInterval <= 0 {
		opts.LoginPollInterval = DefaultLoginPollInterval
	}
	if detector == nil {
		detector = DefaultLoginDetector()
	}
	if sleeper == nil {
		sleeper = ContextSleeper{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{opts: opts, detector: detector, sleeper: sleeper, logger: logger}
}

// Options returns the effective options.
func (e *Engine) Options() Options {
	return e.opts
}

// Attempt captures url once. last tells the engine this is the final
// attempt, in which case a slow load is accepted with a warning instead of
// being reported as a timeout. The returned error, when non-nil, is either a
// *browser.Error, ErrLoginWall or a context error; Result.Reason is always
// set on failure.
func (e *Engine) Attempt(ctx context.Context, sess browser.Session, url string, login *LoginState, last bool) (Result, error) {
	log := e.logger.With(zap.String("url", url))

	if len(e.opts.Cookies) > 0 {
		if err := sess.SetCookies(ctx, url, e.opts.Cookies); err != nil {
			log.Warn("Failed to set cookies", zap.Error(err))
		} else {
			log.Debug("Cookies set", zap.Int("count", len(e.opts.Cookies)))
		}
	}

	// Navigating
	if err := e.load(ctx, sess, url, last); err != nil {
		return e.fail(err, ReasonNavigation)
	}

	// CheckingLoginWall
	signals, err := e.signals(ctx, sess, url)
	if err != nil {
		return e.fail(err, ReasonNavigation)
	}
	if e.detector.Detect(signals).IsLoginWall() {
		log.Warn("Page appears to be a login page", zap.String("current_url", signals.FinalURL))
		switch {
		case e.opts.SkipLogin:
			return Result{Reason: ReasonLoginWall, FinalURL: signals.FinalURL}, ErrLoginWall
		case !login.PromptShown:
			ok, err := e.loginPromptCycle(ctx, sess, url, signals.FinalURL, login, last)
			if err != nil {
				return e.fail(err, ReasonNavigation)
			}
			if !ok {
				return e.captureLoginPage(ctx, sess, signals.FinalURL)
			}
		default:
			return e.captureLoginPage(ctx, sess, signals.FinalURL)
		}
	}

	// Ready -> Capturing
	img, finalURL, err := e.capture(ctx, sess)
	if err != nil {
		return e.fail(err, ReasonCapture)
	}
	return Result{Success: true, Image: img, Reason: ReasonNone, FinalURL: finalURL}, nil
}

// load navigates and waits for the document to report complete, then lets
// dynamic content settle.
func (e *Engine) load(ctx context.Context, sess browser.Session, url string, last bool) error {
	if err := sess.Navigate(ctx, url); err != nil {
		return err
	}

	// WaitingForLoad
	if err := e.waitForLoad(ctx, sess); err != nil {
		if !browser.IsSessionLost(err) && ctx.Err() == nil && last {
			e.logger.Warn("Page load timeout, proceeding anyway", zap.String("url", url))
		} else {
			return err
		}
	}
	return e.sleeper.Sleep(ctx, e.opts.PostLoadSettle)
}

func (e *Engine) waitForLoad(ctx context.Context, sess browser.Session) error {
	deadline := e.opts.Delay + loadGrace
	var waited time.Duration
	for {
		state, err := sess.ReadyState(ctx)
		switch {
		case err == nil && state == "complete":
			return nil
		case err != nil && browser.IsSessionLost(err):
			return err
		case err != nil:
			e.logger.Debug("Ready state check failed", zap.Error(err))
		}
		if waited >= deadline {
			return browser.NewError(browser.KindTimeout, "wait for load",
				fmt.Errorf("document not complete after %s", deadline))
		}
		if err := e.sleeper.Sleep(ctx, e.opts.PollInterval); err != nil {
			return err
		}
		waited += e.opts.PollInterval
	}
}

func (e *Engine) signals(ctx context.Context, sess browser.Session, url string) (PageSignals, error) {
	p := PageSignals{RequestedURL: url}
	var err error
	if p.FinalURL, err = sess.CurrentURL(ctx); err != nil {
		return p, err
	}
	if !p.Redirected() {
		return p, nil
	}
	// Title and markup only matter once the URL changed.
	if p.Title, err = sess.Title(ctx); err != nil {
		return p, err
	}
	if p.Markup, err = sess.HTML(ctx); err != nil {
		return p, err
	}
	return p, nil
}

// loginPromptCycle pauses so the user can sign in, watching the URL move off
// the login route. On success it re-navigates to the requested URL.
func (e *Engine) loginPromptCycle(ctx context.Context, sess browser.Session, url, loginURL string, login *LoginState, last bool) (bool, error) {
	login.PromptShown = true
	if e.OnLoginWall != nil {
		e.OnLoginWall(url, loginURL)
	}
	e.logger.Info("Waiting for manual login",
		zap.String("url", url),
		zap.Duration("timeout", time.Duration(e.opts.LoginPolls)*e.opts.LoginPollInterval))

	for i := 0; i < e.opts.LoginPolls; i++ {
		if err := e.sleeper.Sleep(ctx, e.opts.LoginPollInterval); err != nil {
			return false, err
		}
		cur, err := sess.CurrentURL(ctx)
		if err != nil {
			if browser.IsSessionLost(err) {
				return false, err
			}
			continue
		}
		if cur != loginURL && !IsLoginURL(cur) {
			login.LoggedIn = true
			e.logger.Info("Login detected, reloading page", zap.String("url", url))
			if err := e.load(ctx, sess, url, last); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	e.logger.Warn("Login not completed", zap.String("url", url))
	return false, nil
}

// captureLoginPage keeps a picture of the wall so the user can see what
// blocked the item, while still reporting it as failed.
func (e *Engine) captureLoginPage(ctx context.Context, sess browser.Session, finalURL string) (Result, error) {
	img, _, err := e.capture(ctx, sess)
	if err != nil {
		e.logger.Debug("Could not capture login page", zap.Error(err))
		if ctx.Err() != nil || browser.IsSessionLost(err) {
			return e.fail(err, ReasonLoginWall)
		}
		img = nil
	}
	return Result{Image: img, Reason: ReasonLoginWall, FinalURL: finalURL}, ErrLoginWall
}

func (e *Engine) capture(ctx context.Context, sess browser.Session) ([]byte, string, error) {
	// Persistent profiles keep cookies for login sessions.
	if !e.opts.PersistentProfile {
		if err := sess.ClearCookies(ctx); err != nil {
			if browser.IsSessionLost(err) {
				return nil, "", err
			}
			e.logger.Debug("Failed to clear cookies", zap.Error(err))
		}
	}
	finalURL, err := sess.CurrentURL(ctx)
	if err != nil {
		return nil, "", err
	}
	img, err := CaptureFullPage(ctx, sess, e.opts.Width, e.sleeper)
	if err != nil {
		return nil, "", err
	}
	return img, finalURL, nil
}

func (e *Engine) fail(err error, fallback FailureReason) (Result, error) {
	return Result{Reason: ReasonFor(err, fallback)}, err
}

// ReasonFor maps an error to a FailureReason, using fallback for errors
// that carry no more specific meaning.
func ReasonFor(err error, fallback FailureReason) FailureReason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, context.Canceled):
		return ReasonCancelled
	case errors.Is(err, ErrLoginWall):
		return ReasonLoginWall
	}
	var be *browser.Error
	if !errors.As(err, &be) {
		if errors.Is(err, context.DeadlineExceeded) {
			return ReasonLoadTimeout
		}
		return fallback
	}
	if errors.Is(be.Err, context.Canceled) {
		return ReasonCancelled
	}
	switch be.Kind {
	case browser.KindTimeout:
		return ReasonLoadTimeout
	case browser.KindConnectionRefused:
		return ReasonConnectionRefused
	case browser.KindSessionLost:
		return ReasonSessionLost
	}
	return fallback
}
