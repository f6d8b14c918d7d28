package browser

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// RodDriver launches Chrome through go-rod.
type RodDriver struct {
	Logger *zap.Logger
}

func (d *RodDriver) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

func (d *RodDriver) Launch(ctx context.Context, cfg Config) (Session, error) {
	log := d.logger()

	controlURL, l, err := d.controlURL(ctx, cfg)
	if err != nil {
		return nil, err
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		if l != nil {
			l.Kill()
		}
		return nil, NewError(KindFatal, "start", fmt.Errorf("failed to connect to browser: %w", err))
	}

	// A stale websocket answers Connect but fails the first real call.
	if _, err := b.Version(); err != nil {
		b.Close()
		if l != nil {
			l.Kill()
		}
		return nil, NewError(KindFatal, "start", fmt.Errorf("browser connection is stale: %w", err))
	}

	p, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		b.Close()
		if l != nil {
			l.Kill()
		}
		return nil, NewError(KindFatal, "start", fmt.Errorf("failed to open tab: %w", err))
	}

	log.Info("Browser session started",
		zap.String("driver", DriverRod),
		zap.Int("width", cfg.ViewportWidth),
		zap.Bool("headless", cfg.Headless),
		zap.Bool("persistent_profile", cfg.PersistentProfile))

	return &rodSession{
		browser:     b,
		page:        p,
		launcher:    l,
		persistent:  cfg.PersistentProfile,
		loadTimeout: cfg.loadTimeout(),
	}, nil
}

func (d *RodDriver) controlURL(ctx context.Context, cfg Config) (string, *launcher.Launcher, error) {
	log := d.logger()
	if cfg.RemoteURL != "" {
		u, err := launcher.ResolveURL(cfg.RemoteURL)
		if err != nil {
			return "", nil, NewError(KindFatal, "start", fmt.Errorf("failed to resolve %s: %w", cfg.RemoteURL, err))
		}
		log.Info("Using remote Chrome", zap.String("url", cfg.RemoteURL))
		return u, nil, nil
	}

	bin := cfg.ChromePath
	if bin == "" {
		found, err := findChromeExecutable()
		if err != nil {
			if path, ok := launcher.LookPath(); ok {
				found = path
			} else if cfg.DockerFallback {
				log.Info("Local Chrome not found, attempting Docker Chrome", zap.Error(err))
				dockerURL, derr := startDockerChrome(ctx, log)
				if derr != nil {
					return "", nil, NewError(KindFatal, "start", derr)
				}
				u, rerr := launcher.ResolveURL(dockerURL)
				if rerr != nil {
					return "", nil, NewError(KindFatal, "start", rerr)
				}
				return u, nil, nil
			} else {
				return "", nil, NewError(KindFatal, "start", err)
			}
		}
		bin = found
	}

	l := launcher.New().
		Bin(bin).
		Headless(cfg.Headless).
		NoSandbox(true).
		Set("disable-gpu").
		Set("window-size", strconv.Itoa(cfg.ViewportWidth)+","+strconv.Itoa(windowHeight))
	if cfg.PersistentProfile {
		l = l.UserDataDir(cfg.profileDir())
	} else {
		// Cookies stay enabled, see the chromedp allocator.
		l = l.Set("disable-cache").Set("disk-cache-size", "0")
	}

	u, err := l.Launch()
	if err != nil {
		return "", nil, NewError(KindFatal, "start", fmt.Errorf("failed to launch browser: %w", err))
	}
	return u, l, nil
}

type rodSession struct {
	browser     *rod.Browser
	page        *rod.Page
	launcher    *launcher.Launcher
	persistent  bool
	loadTimeout time.Duration
	closeOnce   sync.Once
}

// pageCtx binds the page to ctx and an optional timeout.
func (s *rodSession) pageCtx(ctx context.Context, timeout time.Duration) (*rod.Page, context.CancelFunc) {
	if timeout > 0 {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		return s.page.Context(ctx), cancel
	}
	return s.page.Context(ctx), func() {}
}

func (s *rodSession) classify(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil && ctx.Err() != context.DeadlineExceeded {
		return NewError(KindTransient, op, ctx.Err())
	}
	return Wrap(op, err)
}

func (s *rodSession) Navigate(ctx context.Context, url string) error {
	p, cancel := s.pageCtx(ctx, s.loadTimeout)
	defer cancel()
	return s.classify(ctx, "navigate", p.Navigate(url))
}

func (s *rodSession) evalString(ctx context.Context, op, js string) (string, error) {
	p, cancel := s.pageCtx(ctx, 0)
	defer cancel()
	res, err := p.Eval(js)
	if err != nil {
		return "", s.classify(ctx, op, err)
	}
	return res.Value.Str(), nil
}

func (s *rodSession) ReadyState(ctx context.Context) (string, error) {
	return s.evalString(ctx, "ready state", `() => document.readyState`)
}

func (s *rodSession) CurrentURL(ctx context.Context) (string, error) {
	return s.evalString(ctx, "location", `() => window.location.href`)
}

func (s *rodSession) Title(ctx context.Context) (string, error) {
	return s.evalString(ctx, "title", `() => document.title`)
}

func (s *rodSession) HTML(ctx context.Context) (string, error) {
	p, cancel := s.pageCtx(ctx, 0)
	defer cancel()
	html, err := p.HTML()
	return html, s.classify(ctx, "html", err)
}

func (s *rodSession) ScrollHeight(ctx context.Context) (int, error) {
	p, cancel := s.pageCtx(ctx, 0)
	defer cancel()
	res, err := p.Eval(`() => ` + scrollHeightJS)
	if err != nil {
		return 0, s.classify(ctx, "scroll height", err)
	}
	return res.Value.Int(), nil
}

func (s *rodSession) ScrollTo(ctx context.Context, y int) error {
	p, cancel := s.pageCtx(ctx, 0)
	defer cancel()
	_, err := p.Eval(`(y) => window.scrollTo(0, y)`, y)
	return s.classify(ctx, "scroll", err)
}

func (s *rodSession) Resize(ctx context.Context, width, height int) error {
	p, cancel := s.pageCtx(ctx, 0)
	defer cancel()
	err := p.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1,
	})
	return s.classify(ctx, "resize", err)
}

func (s *rodSession) SetCookies(ctx context.Context, pageURL string, cookies []Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	expires := proto.TimeSinceEpoch(time.Now().Add(cookieExpiry).Unix())
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		params = append(params, &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   cookieDomain(c, pageURL),
			Path:     cookiePath(c),
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			Expires:  expires,
		})
	}
	p, cancel := s.pageCtx(ctx, 0)
	defer cancel()
	return s.classify(ctx, "set cookies", p.SetCookies(params))
}

func (s *rodSession) ClearCookies(ctx context.Context) error {
	p, cancel := s.pageCtx(ctx, 0)
	defer cancel()
	return s.classify(ctx, "clear cookies", proto.NetworkClearBrowserCookies{}.Call(p))
}

func (s *rodSession) StopLoading(ctx context.Context) error {
	p, cancel := s.pageCtx(ctx, 5*time.Second)
	defer cancel()
	return s.classify(ctx, "stop loading", proto.PageStopLoading{}.Call(p))
}

func (s *rodSession) CaptureBeyondViewport(ctx context.Context) ([]byte, error) {
	p, cancel := s.pageCtx(ctx, s.loadTimeout)
	defer cancel()
	res, err := proto.PageCaptureScreenshot{
		Format:                proto.PageCaptureScreenshotFormatPng,
		CaptureBeyondViewport: true,
	}.Call(p)
	if err != nil {
		return nil, s.classify(ctx, "capture", err)
	}
	return res.Data, nil
}

func (s *rodSession) Windows(ctx context.Context) (int, error) {
	pages, err := s.browser.Context(ctx).Pages()
	if err != nil {
		return 0, s.classify(ctx, "windows", err)
	}
	return len(pages), nil
}

func (s *rodSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.browser.Close()
		if s.launcher != nil {
			s.launcher.Kill()
			if !s.persistent {
				s.launcher.Cleanup()
			}
		}
	})
	return err
}
