package runner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"autocapture/browser"
	"autocapture/browser/browsertest"
	"autocapture/outpath"
	"autocapture/screenshot"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordSleeper struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (s *recordSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slept = append(s.slept, d)
	return nil
}

func (s *recordSleeper) durations() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.slept...)
}

type recSink struct {
	mu    sync.Mutex
	lines []string
	hook  func(line string)
}

func (s *recSink) Statusf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	s.mu.Lock()
	s.lines = append(s.lines, line)
	hook := s.hook
	s.mu.Unlock()
	if hook != nil {
		hook(line)
	}
}

var errRefused = errors.New("page load error net::ERR_CONNECTION_REFUSED")

type harness struct {
	root    string
	driver  *browsertest.Driver
	manager *browser.Manager
	runner  *Runner
	engine  *screenshot.Engine
	writer  *outpath.Writer
	sleeper *recordSleeper
	sink    *recSink
}

// newHarness wires a Runner to fake browsers. pages is applied to every
// session the driver launches.
func newHarness(t *testing.T, pages func(*browsertest.Session), engOpts screenshot.Options) *harness {
	t.Helper()
	h := &harness{root: t.TempDir(), sleeper: &recordSleeper{}, sink: &recSink{}}
	h.driver = &browsertest.Driver{New: func(int) *browsertest.Session {
		s := browsertest.NewSession()
		if pages != nil {
			pages(s)
		}
		return s
	}}
	h.manager = browser.NewManager(h.driver, browser.Config{ViewportWidth: 1400}, nil)

	w, err := outpath.NewWriter(h.root, nil)
	require.NoError(t, err)
	if engOpts.Width == 0 {
		engOpts.Width = 1400
	}
	h.writer = w
	h.engine = screenshot.NewEngine(engOpts, nil, h.sleeper, nil)
	h.rebuild(t, screenshot.Encoder{Format: screenshot.FormatPNG}, nil)
	return h
}

// rebuild replaces the runner with one using enc and logger.
func (h *harness) rebuild(t *testing.T, enc screenshot.Encoder, logger *zap.Logger) {
	t.Helper()
	var err error
	h.runner, err = New(h.manager, h.engine, h.writer, Options{
		Encoder: enc,
		Policy:  Policy{Attempts: 3, Backoff: 2 * time.Second, Classify: ClassifyCapture, Sleeper: h.sleeper},
		Sink:    h.sink,
	}, logger)
	require.NoError(t, err)
}

func items(t *testing.T, urls ...string) []WorkItem {
	t.Helper()
	its, err := NewItems(urls, outpath.Sanitizer{Format: screenshot.FormatPNG, IncludeDomain: true})
	require.NoError(t, err)
	return its
}

func failedURLs(s Summary) []string {
	var out []string
	for _, f := range s.Failed {
		out = append(out, f.URL)
	}
	return out
}

func countFiles(t *testing.T, root string) int {
	t.Helper()
	n := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			n++
		}
		return nil
	})
	require.NoError(t, err)
	return n
}

func TestRun_AllSucceed(t *testing.T) {
	h := newHarness(t, nil, screenshot.Options{})
	its := items(t, "https://example.com", "https://example.com/docs/intro", "https://example.com/about")

	sum, err := h.runner.Run(context.Background(), its)
	require.NoError(t, err)

	assert.Equal(t, 3, sum.Succeeded)
	assert.Empty(t, sum.Failed)
	assert.False(t, sum.Halted)
	assert.NotEmpty(t, sum.RunID)
	require.Len(t, sum.Saved, 3)
	assert.Equal(t, filepath.Join(h.root, "example_com", "index.png"), sum.Saved[0])
	assert.Equal(t, filepath.Join(h.root, "example_com", "docs", "intro.png"), sum.Saved[1])
	assert.Equal(t, 3, countFiles(t, h.root))

	// One browser for the whole batch, closed at the end.
	require.Equal(t, 1, h.driver.Launches())
	assert.True(t, h.driver.Sessions[0].IsClosed())
	assert.Nil(t, h.manager.Current())
}

func TestRun_CircuitBreakerTrips(t *testing.T) {
	urls := []string{"http://localhost:3000/a", "http://localhost:3000/b", "http://localhost:3000/c",
		"http://localhost:3000/d", "http://localhost:3000/e"}
	h := newHarness(t, func(s *browsertest.Session) {
		for _, u := range urls {
			s.Add(u, &browsertest.Page{NavigateErrs: []error{errRefused}})
		}
	}, screenshot.Options{})

	sum, err := h.runner.Run(context.Background(), items(t, urls...))
	require.NoError(t, err)

	assert.True(t, sum.Halted)
	assert.Equal(t, 0, sum.Succeeded)
	assert.Equal(t, urls, failedURLs(sum))
	assert.Equal(t, urls[:3], h.driver.Sessions[0].Navigations, "refusals are not retried and d, e never run")
	for i, f := range sum.Failed {
		if i < 3 {
			assert.Equal(t, screenshot.ReasonConnectionRefused, f.Reason)
		} else {
			assert.Equal(t, screenshot.ReasonCircuitOpen, f.Reason)
		}
	}
	assert.Equal(t, 3, h.runner.LastBatch().ConsecutiveConnectionErrors)
	assert.Empty(t, h.sleeper.durations(), "no backoff for refused connections")
}

func TestRun_SuccessResetsBreaker(t *testing.T) {
	refused := map[string]bool{
		"http://localhost:3000/a": true, "http://localhost:3000/b": true,
		"http://localhost:3000/d": true, "http://localhost:3000/e": true,
	}
	urls := []string{"http://localhost:3000/a", "http://localhost:3000/b", "http://localhost:3000/c",
		"http://localhost:3000/d", "http://localhost:3000/e", "http://localhost:3000/f"}
	h := newHarness(t, func(s *browsertest.Session) {
		for u := range refused {
			s.Add(u, &browsertest.Page{NavigateErrs: []error{errRefused}})
		}
	}, screenshot.Options{})

	sum, err := h.runner.Run(context.Background(), items(t, urls...))
	require.NoError(t, err)

	assert.False(t, sum.Halted)
	assert.Equal(t, 2, sum.Succeeded)
	assert.Equal(t, []string{urls[0], urls[1], urls[3], urls[4]}, failedURLs(sum))
	assert.Equal(t, 0, h.runner.LastBatch().ConsecutiveConnectionErrors)
}

func TestRun_WriteFailureStillResetsBreaker(t *testing.T) {
	urls := []string{"http://localhost:3000/a", "http://localhost:3000/b", "http://localhost:3000/c",
		"http://localhost:3000/d", "http://localhost:3000/e"}
	h := newHarness(t, func(s *browsertest.Session) {
		s.Add(urls[0], &browsertest.Page{NavigateErrs: []error{errRefused}})
		s.Add(urls[1], &browsertest.Page{NavigateErrs: []error{errRefused}})
		s.Add(urls[2], &browsertest.Page{Image: []byte("not an image")})
		s.Add(urls[3], &browsertest.Page{NavigateErrs: []error{errRefused}})
	}, screenshot.Options{})
	h.rebuild(t, screenshot.Encoder{Format: screenshot.FormatJPG, JPEGQuality: 90}, nil)

	sum, err := h.runner.Run(context.Background(), items(t, urls...))
	require.NoError(t, err)

	assert.False(t, sum.Halted, "the page at c loaded, so the server is up")
	require.Len(t, sum.Failed, 4)
	assert.Equal(t, screenshot.ReasonWrite, sum.Failed[2].Reason)
	assert.Equal(t, screenshot.ReasonConnectionRefused, sum.Failed[3].Reason)
	assert.Equal(t, 0, h.runner.LastBatch().ConsecutiveConnectionErrors)
}

func TestRun_LoginPageSaveFailureIsLogged(t *testing.T) {
	h := newHarness(t, func(s *browsertest.Session) {
		s.Add("https://app.example.com/a", &browsertest.Page{
			FinalURL: "https://app.example.com/login",
			Title:    "Sign In",
			Image:    []byte("not an image"),
		})
	}, screenshot.Options{})
	core, logs := observer.New(zapcore.WarnLevel)
	h.rebuild(t, screenshot.Encoder{Format: screenshot.FormatJPG, JPEGQuality: 90}, zap.New(core))

	sum, err := h.runner.Run(context.Background(), items(t, "https://app.example.com/a"))
	require.NoError(t, err)

	require.Len(t, sum.Failed, 1)
	assert.Equal(t, screenshot.ReasonLoginWall, sum.Failed[0].Reason)
	assert.Empty(t, sum.Failed[0].Path)
	assert.Equal(t, 1, logs.FilterMessage("Failed to save login page").Len())
}

func TestRun_RetriesTimeouts(t *testing.T) {
	h := newHarness(t, func(s *browsertest.Session) {
		s.Add("https://slow.io/page", &browsertest.Page{
			NavigateErrs: []error{context.DeadlineExceeded, context.DeadlineExceeded},
		})
	}, screenshot.Options{})

	sum, err := h.runner.Run(context.Background(), items(t, "https://slow.io/page"))
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Succeeded)
	assert.Len(t, h.driver.Sessions[0].Navigations, 3)
	backoffs := 0
	for _, d := range h.sleeper.durations() {
		if d == 2*time.Second {
			backoffs++
		}
	}
	assert.Equal(t, 2, backoffs)
}

func TestRun_RetryBudgetExhausted(t *testing.T) {
	boom := errors.New("page load error net::ERR_NAME_NOT_RESOLVED")
	h := newHarness(t, func(s *browsertest.Session) {
		s.Add("https://gone.io", &browsertest.Page{NavigateErrs: []error{boom, boom, boom}})
	}, screenshot.Options{})

	sum, err := h.runner.Run(context.Background(), items(t, "https://gone.io", "https://ok.io"))
	require.NoError(t, err)

	require.Len(t, sum.Failed, 1)
	assert.Equal(t, screenshot.ReasonNavigation, sum.Failed[0].Reason)
	assert.Contains(t, sum.Failed[0].Error, "ERR_NAME_NOT_RESOLVED")
	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, 0, h.runner.LastBatch().ConsecutiveConnectionErrors)
}

func TestRun_RecoversLostSession(t *testing.T) {
	lost := browser.NewError(browser.KindSessionLost, "navigate", errors.New("target closed"))
	h := newHarness(t, func(s *browsertest.Session) {
		s.Add("https://a.io", &browsertest.Page{NavigateErrs: []error{lost}})
	}, screenshot.Options{})
	sum, err := h.runner.Run(context.Background(), items(t, "https://a.io", "https://b.io"))
	require.NoError(t, err)

	require.Len(t, sum.Failed, 1)
	assert.Equal(t, "https://a.io", sum.Failed[0].URL)
	assert.Equal(t, screenshot.ReasonSessionLost, sum.Failed[0].Reason)
	assert.Equal(t, 1, sum.Succeeded)

	require.Equal(t, 2, h.driver.Launches())
	assert.True(t, h.driver.Sessions[0].IsClosed())
	assert.Equal(t, []string{"https://b.io"}, h.driver.Sessions[1].Navigations)
}

func TestRun_SessionStartFailureFailsItem(t *testing.T) {
	h := newHarness(t, nil, screenshot.Options{})
	h.driver.LaunchErrs = []error{errors.New("could not find Chrome executable")}

	sum, err := h.runner.Run(context.Background(), items(t, "https://a.io", "https://b.io"))
	require.NoError(t, err)

	require.Len(t, sum.Failed, 1)
	assert.Equal(t, screenshot.ReasonSessionStart, sum.Failed[0].Reason)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, 2, h.driver.Launches())
}

func TestRun_SkipLoginWritesNothing(t *testing.T) {
	h := newHarness(t, func(s *browsertest.Session) {
		s.Add("https://app.example.com/reports", &browsertest.Page{
			FinalURL: "https://app.example.com/login",
			Title:    "Sign In",
		})
	}, screenshot.Options{SkipLogin: true})

	sum, err := h.runner.Run(context.Background(), items(t, "https://app.example.com/reports"))
	require.NoError(t, err)

	require.Len(t, sum.Failed, 1)
	assert.Equal(t, screenshot.ReasonLoginWall, sum.Failed[0].Reason)
	assert.Empty(t, sum.Failed[0].Path)
	assert.Equal(t, 0, countFiles(t, h.root))
	assert.Len(t, h.driver.Sessions[0].Navigations, 1, "login walls are not retried")
}

func TestRun_LoginPromptOncePerBatch(t *testing.T) {
	walled := []string{"https://app.example.com/a", "https://app.example.com/b"}
	h := newHarness(t, func(s *browsertest.Session) {
		for _, u := range walled {
			s.Add(u, &browsertest.Page{FinalURL: "https://app.example.com/login", Title: "Sign In"})
		}
	}, screenshot.Options{})

	sum, err := h.runner.Run(context.Background(), items(t, walled...))
	require.NoError(t, err)

	require.Len(t, sum.Failed, 2)
	for _, f := range sum.Failed {
		assert.Equal(t, screenshot.ReasonLoginWall, f.Reason)
		assert.FileExists(t, f.Path, "the login page is kept for inspection")
	}
	polls := 0
	for _, d := range h.sleeper.durations() {
		if d == screenshot.DefaultLoginPollInterval {
			polls++
		}
	}
	assert.Equal(t, screenshot.DefaultLoginPolls, polls)
	assert.Equal(t, screenshot.LoginState{PromptShown: true}, h.runner.LastBatch().Login)
}

func TestRun_StopHaltsFurtherItems(t *testing.T) {
	h := newHarness(t, nil, screenshot.Options{})
	h.sink.hook = func(line string) {
		if strings.HasPrefix(line, "Saved ") {
			h.runner.Stop()
		}
	}

	sum, err := h.runner.Run(context.Background(), items(t, "https://a.io", "https://b.io", "https://c.io"))
	require.NoError(t, err)

	assert.True(t, sum.Cancelled)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, []string{"https://b.io", "https://c.io"}, failedURLs(sum))
	for _, f := range sum.Failed {
		assert.Equal(t, screenshot.ReasonCancelled, f.Reason)
	}
	assert.Equal(t, 1, h.driver.Sessions[0].StopCalls)
}

func TestRun_ContextCancelled(t *testing.T) {
	h := newHarness(t, nil, screenshot.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, err := h.runner.Run(ctx, items(t, "https://a.io", "https://b.io"))
	require.NoError(t, err)
	assert.True(t, sum.Cancelled)
	assert.Len(t, sum.Failed, 2)
	assert.Equal(t, 0, h.driver.Launches())
}

func TestRun_ExternalSessionLeftOpen(t *testing.T) {
	h := newHarness(t, nil, screenshot.Options{})
	_, err := h.manager.OpenForLogin(context.Background())
	require.NoError(t, err)

	sum, err := h.runner.Run(context.Background(), items(t, "https://a.io"))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, 1, h.driver.Launches())
	assert.False(t, h.driver.Sessions[0].IsClosed())

	h.manager.Shutdown()
	assert.True(t, h.driver.Sessions[0].IsClosed())
}

func TestRun_RetryBatchKeepsOrder(t *testing.T) {
	h := newHarness(t, func(s *browsertest.Session) {
		s.Add("https://a.io", &browsertest.Page{NavigateErrs: []error{errRefused}})
		s.Add("https://c.io", &browsertest.Page{NavigateErrs: []error{errRefused}})
	}, screenshot.Options{})

	sum, err := h.runner.Run(context.Background(), items(t, "https://a.io", "https://b.io", "https://c.io"))
	require.NoError(t, err)
	retry := FailedItems(sum.Failed)
	assert.Equal(t, []string{"https://a.io", "https://c.io"}, []string{retry[0].URL, retry[1].URL})

	// The server is back up for the retry pass.
	h.driver.New = nil
	sum, err = h.runner.Run(context.Background(), retry)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Succeeded)
	assert.Empty(t, sum.Failed)
}

func TestRun_Validation(t *testing.T) {
	h := newHarness(t, nil, screenshot.Options{})
	_, err := h.runner.Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoURLs)

	_, err = New(h.manager, screenshot.NewEngine(screenshot.Options{}, nil, nil, nil), nil, Options{}, nil)
	assert.ErrorIs(t, err, ErrNoOutputDir)
}

func TestReport_SaveAndLoad(t *testing.T) {
	root := t.TempDir()
	_, err := LoadReport(root)
	assert.ErrorIs(t, err, ErrNoReport)

	want := Report{
		Summary: Summary{
			RunID:     "run-1",
			Total:     2,
			Succeeded: 1,
			Failed: []Failure{{
				WorkItem: WorkItem{URL: "https://a.io/x", TargetDir: "a_io", Filename: "x.png"},
				Reason:   screenshot.ReasonLoadTimeout,
				Error:    "navigate (timeout): context deadline exceeded",
			}},
		},
		Options: map[string]any{"format": "png"},
	}
	path, err := SaveReport(root, want)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, StateDir, "last-run.json"), path)

	got, err := LoadReport(root)
	require.NoError(t, err)
	assert.Equal(t, want.RunID, got.RunID)
	assert.Equal(t, want.Failed, got.Failed)
	assert.Equal(t, "png", got.Options["format"])

	entries, err := os.ReadDir(filepath.Join(root, StateDir))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}
