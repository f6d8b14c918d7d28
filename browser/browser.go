// Package browser owns the remote-controlled Chrome used for captures: the
// capability interface the capture engine talks to, the chromedp and rod
// drivers behind it, typed classification of driver failures, and the
// Manager that keeps exactly one live session around.
package browser

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Driver names accepted in configuration.
const (
	DriverChromedp = "chromedp"
	DriverRod      = "rod"
)

// DefaultPageLoadTimeout is the ceiling applied to a single navigation.
const DefaultPageLoadTimeout = 60 * time.Second

// windowHeight is the initial window height before a capture resizes it.
const windowHeight = 900

// Config describes how a browser session is launched.
type Config struct {
	Driver            string
	ViewportWidth     int
	Headless          bool
	PersistentProfile bool
	// ProfileDir is the user-data directory used when PersistentProfile is
	// set. Empty means DefaultProfileDir().
	ProfileDir      string
	PageLoadTimeout time.Duration
	// ChromePath overrides executable discovery.
	ChromePath string
	// RemoteURL connects to an already running DevTools endpoint
	// (e.g. http://localhost:9222) instead of launching Chrome.
	RemoteURL string
	// DockerFallback starts browserless/chrome in Docker when no local
	// Chrome executable can be found.
	DockerFallback bool
}

func (c Config) profileDir() string {
	if c.ProfileDir != "" {
		return c.ProfileDir
	}
	return DefaultProfileDir()
}

func (c Config) loadTimeout() time.Duration {
	if c.PageLoadTimeout <= 0 || c.PageLoadTimeout > DefaultPageLoadTimeout {
		return DefaultPageLoadTimeout
	}
	return c.PageLoadTimeout
}

// DefaultProfileDir is where persistent login sessions are kept.
func DefaultProfileDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".autocapture", "chrome_profile")
	}
	return filepath.Join(home, ".autocapture", "chrome_profile")
}

// Cookie is a cookie injected before navigation.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Secure   bool
	HTTPOnly bool
}

// cookieExpiry is how long injected cookies live.
const cookieExpiry = 180 * 24 * time.Hour

// cookieDomain picks the cookie domain, defaulting to the page host.
func cookieDomain(c Cookie, pageURL string) string {
	if c.Domain != "" {
		return c.Domain
	}
	u, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func cookiePath(c Cookie) string {
	if c.Path == "" {
		return "/"
	}
	return c.Path
}

// Session is one live browser tab. Implementations translate raw driver
// failures into *Error values before returning them.
type Session interface {
	Navigate(ctx context.Context, url string) error
	ReadyState(ctx context.Context) (string, error)
	CurrentURL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	// ScrollHeight is the larger of the body and root element scroll heights.
	ScrollHeight(ctx context.Context) (int, error)
	ScrollTo(ctx context.Context, y int) error
	Resize(ctx context.Context, width, height int) error
	SetCookies(ctx context.Context, pageURL string, cookies []Cookie) error
	ClearCookies(ctx context.Context) error
	StopLoading(ctx context.Context) error
	// CaptureBeyondViewport returns a PNG of the whole laid-out canvas.
	CaptureBeyondViewport(ctx context.Context) ([]byte, error)
	// Windows counts open page targets; it doubles as the liveness probe.
	Windows(ctx context.Context) (int, error)
	Close() error
}

// Driver launches sessions.
type Driver interface {
	Launch(ctx context.Context, cfg Config) (Session, error)
}

type driverOptions struct {
	logger *zap.Logger
}

// DriverOption configures NewDriver.
type DriverOption func(*driverOptions)

// WithLogger sets the logger drivers report browser events to.
func WithLogger(logger *zap.Logger) DriverOption {
	return func(o *driverOptions) {
		o.logger = logger
	}
}

// NewDriver returns the driver registered under name.
func NewDriver(name string, opts ...DriverOption) (Driver, error) {
	o := driverOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	switch name {
	case "", DriverChromedp:
		return &ChromeDriver{Logger: o.logger}, nil
	case DriverRod:
		return &RodDriver{Logger: o.logger}, nil
	}
	return nil, fmt.Errorf("unsupported browser driver: %s (supported: %s, %s)", name, DriverChromedp, DriverRod)
}
