// Package browsertest provides scriptable in-memory browser sessions for
// tests of code that drives a browser.Session.
package browsertest

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"

	"autocapture/browser"
)

// Page scripts what a navigation to one URL produces.
type Page struct {
	// FinalURL is where the navigation ends up; empty means the requested URL.
	FinalURL string
	Title    string
	HTML     string
	Height   int
	// ReadyState defaults to "complete".
	ReadyState string
	// NavigateErrs are returned by successive navigations, one each; once
	// exhausted navigations succeed.
	NavigateErrs []error
	// CaptureErrs behave like NavigateErrs for captures.
	CaptureErrs []error
	Image       []byte
}

// Session is a fake browser.Session. Unknown URLs render Default.
type Session struct {
	mu sync.Mutex

	Pages   map[string]*Page
	Default Page

	// WindowsErr is returned by Windows; WindowCount defaults to 1 unless
	// NoWindows is set.
	WindowsErr  error
	WindowCount int
	NoWindows   bool

	current string
	page    *Page

	Navigations  []string
	Resizes      [][2]int
	Scrolls      []int
	Cookies      []browser.Cookie
	CookieClears int
	StopCalls    int
	Captures     int
	Closed       bool
}

// NewSession returns an empty fake session.
func NewSession() *Session {
	return &Session{Pages: map[string]*Page{}}
}

// Add scripts the page served for url.
func (s *Session) Add(url string, p *Page) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Pages == nil {
		s.Pages = map[string]*Page{}
	}
	s.Pages[url] = p
	return s
}

// SetURL moves the current page to url, as a user clicking through a login
// form would.
func (s *Session) SetURL(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = url
}

func (s *Session) lookup(url string) *Page {
	if p, ok := s.Pages[url]; ok {
		return p
	}
	return &s.Default
}

func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return browser.NewError(browser.KindTransient, "navigate", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Navigations = append(s.Navigations, url)
	p := s.lookup(url)
	if err := pop(&p.NavigateErrs); err != nil {
		return browser.Wrap("navigate", err)
	}
	s.page = p
	s.current = url
	if p.FinalURL != "" {
		s.current = p.FinalURL
	}
	return nil
}

func (s *Session) ReadyState(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == nil || s.page.ReadyState == "" {
		return "complete", nil
	}
	return s.page.ReadyState, nil
}

func (s *Session) CurrentURL(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, nil
}

func (s *Session) Title(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == nil {
		return "", nil
	}
	return s.page.Title, nil
}

func (s *Session) HTML(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == nil {
		return "", nil
	}
	return s.page.HTML, nil
}

func (s *Session) ScrollHeight(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == nil {
		return 0, nil
	}
	return s.page.Height, nil
}

func (s *Session) ScrollTo(_ context.Context, y int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Scrolls = append(s.Scrolls, y)
	return nil
}

func (s *Session) Resize(_ context.Context, width, height int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Resizes = append(s.Resizes, [2]int{width, height})
	return nil
}

func (s *Session) SetCookies(_ context.Context, _ string, cookies []browser.Cookie) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Cookies = append(s.Cookies, cookies...)
	return nil
}

func (s *Session) ClearCookies(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CookieClears++
	return nil
}

func (s *Session) StopLoading(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StopCalls++
	return nil
}

func (s *Session) CaptureBeyondViewport(context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Captures++
	if s.page == nil {
		return nil, browser.NewError(browser.KindTransient, "capture", errors.New("nothing loaded"))
	}
	if err := pop(&s.page.CaptureErrs); err != nil {
		return nil, browser.Wrap("capture", err)
	}
	if s.page.Image != nil {
		return s.page.Image, nil
	}
	return PNG(4, 4), nil
}

func (s *Session) Windows(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WindowsErr != nil {
		return 0, s.WindowsErr
	}
	if s.Closed {
		return 0, browser.NewError(browser.KindSessionLost, "windows", errors.New("session closed"))
	}
	if s.NoWindows {
		return 0, nil
	}
	if s.WindowCount == 0 {
		return 1, nil
	}
	return s.WindowCount, nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}

// IsClosed reports whether Close was called.
func (s *Session) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Closed
}

// Driver hands out fake sessions.
type Driver struct {
	mu sync.Mutex

	// New builds the session for the n-th launch (0-based). Nil means
	// NewSession.
	New func(n int) *Session
	// LaunchErrs are returned by successive launches, one each.
	LaunchErrs []error

	Configs  []browser.Config
	Sessions []*Session
}

func (d *Driver) Launch(ctx context.Context, cfg browser.Config) (browser.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Configs = append(d.Configs, cfg)
	if err := pop(&d.LaunchErrs); err != nil {
		return nil, err
	}
	var s *Session
	if d.New != nil {
		s = d.New(len(d.Sessions))
	} else {
		s = NewSession()
	}
	d.Sessions = append(d.Sessions, s)
	return s, nil
}

// Launches counts the launch attempts so far.
func (d *Driver) Launches() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Configs)
}

// PNG renders a w×h image with a transparent left half, enough to exercise
// format conversion.
func PNG(w, h int) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x < w/2 {
				img.Set(x, y, color.NRGBA{})
			} else {
				img.Set(x, y, color.NRGBA{R: 200, G: 30, B: 30, A: 255})
			}
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}
