package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// startupTimeout bounds the about:blank navigation that proves a new
// browser actually answers.
const startupTimeout = 30 * time.Second

const scrollHeightJS = `Math.max(
	document.body ? document.body.scrollHeight : 0,
	document.documentElement ? document.documentElement.scrollHeight : 0)`

// ChromeDriver launches Chrome through chromedp.
type ChromeDriver struct {
	Logger *zap.Logger
}

func (d *ChromeDriver) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

// Launch starts (or connects to) Chrome and opens one tab. Browser contexts
// hang off context.Background so the session can outlive ctx; ctx only
// bounds startup.
func (d *ChromeDriver) Launch(ctx context.Context, cfg Config) (Session, error) {
	log := d.logger()
	allocCtx, cancelAlloc, err := d.allocator(ctx, cfg)
	if err != nil {
		return nil, err
	}

	sugar := log.Sugar()
	tabCtx, cancelTab := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Debugf),
	)

	s := &chromeSession{
		tabCtx:      tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
		loadTimeout: cfg.loadTimeout(),
		logger:      log,
	}

	// Test that the browser is working
	if err := s.run(ctx, "start", startupTimeout, chromedp.Navigate("about:blank")); err != nil {
		s.Close()
		return nil, NewError(KindFatal, "start", fmt.Errorf("browser startup test failed: %w", err))
	}

	log.Info("Browser session started",
		zap.String("driver", DriverChromedp),
		zap.Int("width", cfg.ViewportWidth),
		zap.Bool("headless", cfg.Headless),
		zap.Bool("persistent_profile", cfg.PersistentProfile))
	return s, nil
}

// allocator picks the Chrome to drive. Priority: explicit remote endpoint,
// local executable, Docker container, then chromedp's own lookup.
func (d *ChromeDriver) allocator(ctx context.Context, cfg Config) (context.Context, context.CancelFunc, error) {
	log := d.logger()
	if cfg.RemoteURL != "" {
		log.Info("Using remote Chrome", zap.String("url", cfg.RemoteURL))
		allocCtx, cancel := chromedp.NewRemoteAllocator(context.Background(), cfg.RemoteURL)
		return allocCtx, cancel, nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.WindowSize(cfg.ViewportWidth, windowHeight),
		chromedp.DisableGPU,
		chromedp.NoSandbox,
		chromedp.Flag("headless", cfg.Headless),
	)
	if cfg.PersistentProfile {
		opts = append(opts, chromedp.UserDataDir(cfg.profileDir()))
	} else {
		// Cookies stay enabled so configured ones can be injected; the
		// capture engine clears them after each page load instead.
		opts = append(opts,
			chromedp.Flag("disable-cache", true),
			chromedp.Flag("disk-cache-size", "0"),
		)
	}

	execPath := cfg.ChromePath
	if execPath == "" {
		found, err := findChromeExecutable()
		if err != nil && cfg.DockerFallback {
			log.Info("Local Chrome not found, attempting Docker Chrome", zap.Error(err))
			dockerURL, derr := startDockerChrome(ctx, log)
			if derr == nil {
				allocCtx, cancel := chromedp.NewRemoteAllocator(context.Background(), dockerURL)
				return allocCtx, cancel, nil
			}
			log.Warn("Docker Chrome failed, falling back to default Chrome settings", zap.Error(derr))
		}
		execPath = found
	}
	if execPath != "" {
		log.Debug("Using local Chrome executable", zap.String("path", execPath))
		opts = append(opts, chromedp.ExecPath(execPath))
	}

	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return allocCtx, cancel, nil
}

type chromeSession struct {
	tabCtx      context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	loadTimeout time.Duration
	logger      *zap.Logger
	closeOnce   sync.Once
}

// callContext derives a per-call context from the tab that is also
// cancelled with the caller's ctx.
func (s *chromeSession) callContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	var runCtx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(s.tabCtx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(s.tabCtx)
	}
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (s *chromeSession) run(ctx context.Context, op string, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := s.callContext(ctx, timeout)
	defer cancel()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		return s.classify(ctx, op, err)
	}
	return nil
}

func (s *chromeSession) classify(ctx context.Context, op string, err error) error {
	switch {
	case ctx.Err() != nil:
		return NewError(KindTransient, op, ctx.Err())
	case s.tabCtx.Err() != nil,
		errors.Is(err, chromedp.ErrInvalidContext),
		errors.Is(err, chromedp.ErrChannelClosed),
		errors.Is(err, chromedp.ErrInvalidTarget):
		return NewError(KindSessionLost, op, err)
	}
	return Wrap(op, err)
}

func (s *chromeSession) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, "navigate", s.loadTimeout, chromedp.Navigate(url))
}

func (s *chromeSession) eval(ctx context.Context, op, js string, res interface{}) error {
	return s.run(ctx, op, 0, chromedp.Evaluate(js, res))
}

func (s *chromeSession) ReadyState(ctx context.Context) (string, error) {
	var state string
	err := s.eval(ctx, "ready state", `document.readyState`, &state)
	return state, err
}

func (s *chromeSession) CurrentURL(ctx context.Context) (string, error) {
	var loc string
	err := s.run(ctx, "location", 0, chromedp.Location(&loc))
	return loc, err
}

func (s *chromeSession) Title(ctx context.Context) (string, error) {
	var title string
	err := s.run(ctx, "title", 0, chromedp.Title(&title))
	return title, err
}

func (s *chromeSession) HTML(ctx context.Context) (string, error) {
	var html string
	err := s.eval(ctx, "html", `document.documentElement ? document.documentElement.outerHTML : ""`, &html)
	return html, err
}

func (s *chromeSession) ScrollHeight(ctx context.Context) (int, error) {
	var h float64
	if err := s.eval(ctx, "scroll height", scrollHeightJS, &h); err != nil {
		return 0, err
	}
	return int(h), nil
}

func (s *chromeSession) ScrollTo(ctx context.Context, y int) error {
	return s.eval(ctx, "scroll", fmt.Sprintf("window.scrollTo(0, %d)", y), nil)
}

func (s *chromeSession) Resize(ctx context.Context, width, height int) error {
	return s.run(ctx, "resize", 0, chromedp.ActionFunc(func(ctx context.Context) error {
		return emulation.SetDeviceMetricsOverride(int64(width), int64(height), 1, false).Do(ctx)
	}))
}

func (s *chromeSession) SetCookies(ctx context.Context, pageURL string, cookies []Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	return s.run(ctx, "set cookies", 0, chromedp.ActionFunc(func(ctx context.Context) error {
		expr := cdp.TimeSinceEpoch(time.Now().Add(cookieExpiry))
		for _, c := range cookies {
			err := network.SetCookie(c.Name, c.Value).
				WithExpires(&expr).
				WithDomain(cookieDomain(c, pageURL)).
				WithPath(cookiePath(c)).
				WithHTTPOnly(c.HTTPOnly).
				WithSecure(c.Secure).
				Do(ctx)
			if err != nil {
				return fmt.Errorf("failed to set cookie %s: %w", c.Name, err)
			}
		}
		return nil
	}))
}

func (s *chromeSession) ClearCookies(ctx context.Context) error {
	return s.run(ctx, "clear cookies", 0, network.ClearBrowserCookies())
}

func (s *chromeSession) StopLoading(ctx context.Context) error {
	return s.run(ctx, "stop loading", 5*time.Second, page.StopLoading())
}

func (s *chromeSession) CaptureBeyondViewport(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := s.run(ctx, "capture", s.loadTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatPng).
			WithCaptureBeyondViewport(true).
			Do(ctx)
		return err
	}))
	return buf, err
}

func (s *chromeSession) Windows(ctx context.Context) (int, error) {
	runCtx, cancel := s.callContext(ctx, 0)
	defer cancel()
	targets, err := chromedp.Targets(runCtx)
	if err != nil {
		return 0, s.classify(ctx, "windows", err)
	}
	n := 0
	for _, t := range targets {
		if t.Type == "page" {
			n++
		}
	}
	return n, nil
}

func (s *chromeSession) Close() error {
	s.closeOnce.Do(func() {
		s.cancelTab()
		s.cancelAlloc()
	})
	return nil
}
