// Package runner drives a batch of captures through one browser session:
// session health checks and recovery, bounded per-item retries, the
// connection-refusal circuit breaker, file output and the run summary.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"autocapture/browser"
	"autocapture/outpath"
	"autocapture/screenshot"
)

// DefaultBreakerThreshold is how many refused connections in a row halt a
// run.
const DefaultBreakerThreshold = 3

// Validation errors returned before any work starts.
var (
	ErrNoURLs      = errors.New("no URLs to capture")
	ErrNoOutputDir = errors.New("no output directory selected")
)

// StatusSink receives human-readable progress lines.
type StatusSink interface {
	Statusf(format string, args ...any)
}

type nopSink struct{}

func (nopSink) Statusf(string, ...any) {}

// Options configure a Runner.
type Options struct {
	Encoder screenshot.Encoder
	// Policy bounds attempts per item; its Classify is wrapped with the
	// circuit breaker. Zero value means DefaultPolicy.
	Policy Policy
	// RecreatePolicy bounds relaunching a lost session.
	RecreatePolicy   Policy
	BreakerThreshold int
	Sink             StatusSink
}

// Summary is the outcome of a run.
type Summary struct {
	RunID     string    `json:"run_id"`
	Total     int       `json:"total"`
	Succeeded int       `json:"succeeded"`
	Failed    []Failure `json:"failed"`
	Saved     []string  `json:"saved,omitempty"`
	Halted    bool      `json:"halted"`
	Cancelled bool      `json:"cancelled"`
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished"`
}

// Runner executes batches. Run must not be called concurrently; Stop may be
// called from any goroutine.
type Runner struct {
	manager   *browser.Manager
	engine    *screenshot.Engine
	writer    *outpath.Writer
	encoder   screenshot.Encoder
	policy    Policy
	recreate  Policy
	threshold int
	sink      StatusSink
	logger    *zap.Logger

	stopped atomic.Bool
	last    *BatchState
}

// New builds a Runner.
func New(manager *browser.Manager, engine *screenshot.Engine, writer *outpath.Writer, opts Options, logger *zap.Logger) (*Runner, error) {
	if writer == nil {
		return nil, ErrNoOutputDir
	}
	if manager == nil || engine == nil {
		return nil, errors.New("runner needs a browser manager and a capture engine")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Policy.Attempts == 0 {
		p := DefaultPolicy()
		p.Sleeper = opts.Policy.Sleeper
		opts.Policy = p
	}
	if opts.RecreatePolicy.Attempts == 0 {
		opts.RecreatePolicy = Policy{
			Attempts: 2,
			Backoff:  opts.Policy.Backoff,
			Classify: ClassifyRecreate,
			Sleeper:  opts.Policy.Sleeper,
		}
	}
	opts.Policy.Logger = logger
	opts.RecreatePolicy.Logger = logger
	if opts.BreakerThreshold <= 0 {
		opts.BreakerThreshold = DefaultBreakerThreshold
	}
	if opts.Sink == nil {
		opts.Sink = nopSink{}
	}
	return &Runner{
		manager:   manager,
		engine:    engine,
		writer:    writer,
		encoder:   opts.Encoder,
		policy:    opts.Policy,
		recreate:  opts.RecreatePolicy,
		threshold: opts.BreakerThreshold,
		sink:      opts.Sink,
		logger:    logger,
	}, nil
}

// Stop asks a running batch to finish after the current item and tells the
// browser to stop loading.
func (r *Runner) Stop() {
	r.stopped.Store(true)
	r.sink.Statusf("Stopping after the current item...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.manager.StopLoading(ctx)
}

// LastBatch returns the state of the most recent run.
func (r *Runner) LastBatch() *BatchState {
	return r.last
}

// Run captures items in order and always returns a Summary. The only errors
// are validation errors raised before any work starts. Sessions the runner
// opened are closed when it returns; an externally owned session is left
// open.
func (r *Runner) Run(ctx context.Context, items []WorkItem) (Summary, error) {
	if len(items) == 0 {
		return Summary{}, ErrNoURLs
	}

	r.stopped.Store(false)
	state := NewBatch(items)
	state.Running = true
	r.last = state

	sum := Summary{
		RunID:   uuid.NewString(),
		Total:   len(items),
		Started: time.Now(),
	}
	log := r.logger.With(zap.String("run_id", sum.RunID))
	log.Info("Starting capture run", zap.Int("items", len(items)))

	defer r.manager.Release()

	for i, item := range items {
		if ctx.Err() != nil || r.stopped.Load() {
			sum.Cancelled = true
			r.failRemaining(state, items[i:], screenshot.ReasonCancelled, nil)
			r.sink.Statusf("Capture stopped, %d item(s) not attempted", len(items)-i)
			break
		}

		r.sink.Statusf("[%d/%d] Loading %s", i+1, len(items), item.URL)
		halt := r.process(ctx, log, state, item, &sum)
		if halt {
			sum.Halted = true
			r.failRemaining(state, items[i+1:], screenshot.ReasonCircuitOpen, nil)
			r.sink.Statusf("CRITICAL: %d refused connections in a row, the server does not seem to be running. Stopping run.", r.threshold)
			break
		}
	}

	state.Running = false
	sum.Failed = state.Failed
	sum.Finished = time.Now()
	if ctx.Err() != nil {
		sum.Cancelled = true
	}

	log.Info("Capture run finished",
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("failed", len(sum.Failed)),
		zap.Bool("halted", sum.Halted),
		zap.Bool("cancelled", sum.Cancelled),
		zap.Duration("elapsed", sum.Finished.Sub(sum.Started)))
	if len(sum.Failed) > 0 {
		r.sink.Statusf("Capture finished. %d item(s) failed.", len(sum.Failed))
	} else {
		r.sink.Statusf("Capture finished.")
	}
	return sum, nil
}

// process handles one item and reports whether the circuit breaker tripped.
func (r *Runner) process(ctx context.Context, log *zap.Logger, state *BatchState, item WorkItem, sum *Summary) bool {
	log = log.With(zap.String("url", item.URL))

	sess, err := r.session(ctx, state)
	if err != nil {
		log.Error("No browser session", zap.Error(err))
		r.sink.Statusf("Error on %s: %v", item.URL, err)
		state.fail(item, screenshot.ReasonSessionStart, err)
		return false
	}

	policy := r.policy
	classify := policy.Classify
	policy.Classify = func(err error) Decision {
		if browser.IsConnectionRefused(err) && state.ConsecutiveConnectionErrors+1 >= r.threshold {
			return Abort
		}
		if classify == nil {
			return Retry
		}
		return classify(err)
	}

	var res screenshot.Result
	err = policy.Do(ctx, func(ctx context.Context, attempt int, last bool) error {
		if attempt > 1 {
			r.sink.Statusf("Retrying %s (attempt %d/%d)", item.URL, attempt, policy.Attempts)
		}
		var aerr error
		res, aerr = r.engine.Attempt(ctx, sess, item.URL, &state.Login, last)
		return aerr
	})

	if err == nil {
		// The server answered, whatever happens to the file.
		state.ConsecutiveConnectionErrors = 0
		path, werr := r.save(item, res.Image)
		if werr != nil {
			log.Error("Failed to save capture", zap.Error(werr))
			r.sink.Statusf("Error saving %s: %v", item.URL, werr)
			state.fail(item, screenshot.ReasonWrite, werr)
			return false
		}
		sum.Succeeded++
		sum.Saved = append(sum.Saved, path)
		log.Info("Capture saved", zap.String("path", path))
		r.sink.Statusf("Saved %s", path)
		return false
	}

	reason := screenshot.ReasonFor(err, res.Reason)
	if reason == screenshot.ReasonNone || reason == "" {
		reason = screenshot.ReasonCapture
	}
	f := Failure{WorkItem: item, Reason: reason, Error: err.Error()}

	switch {
	case errors.Is(err, screenshot.ErrLoginWall):
		if res.Image != nil {
			if path, werr := r.save(item, res.Image); werr != nil {
				log.Warn("Failed to save login page", zap.Error(werr))
			} else {
				f.Path = path
			}
		}
		r.sink.Statusf("SKIPPED: login page detected for %s (current: %s)", item.URL, res.FinalURL)
	case browser.IsSessionLost(err):
		r.manager.MarkDead()
		r.sink.Statusf("Browser session lost on %s", item.URL)
	default:
		r.sink.Statusf("Error on %s: %v", item.URL, err)
	}
	log.Warn("Capture failed", zap.String("reason", string(reason)), zap.Error(err))
	state.Failed = append(state.Failed, f)

	if browser.IsConnectionRefused(err) {
		state.ConsecutiveConnectionErrors++
		log.Warn("Connection refused",
			zap.Int("consecutive", state.ConsecutiveConnectionErrors),
			zap.Int("threshold", r.threshold))
	}
	return errors.Is(err, ErrAborted) || state.ConsecutiveConnectionErrors >= r.threshold
}

// session returns a live session, starting or recovering one as needed.
// Starting is not retried; recovering a lost session follows the recreate
// policy.
func (r *Runner) session(ctx context.Context, state *BatchState) (browser.Session, error) {
	if r.manager.Current() == nil {
		r.sink.Statusf("Initializing browser...")
		return r.manager.Ensure(ctx)
	}

	perr := r.manager.Probe(ctx)
	if perr == nil {
		return r.manager.Ensure(ctx)
	}

	r.sink.Statusf("Browser was closed. Attempting to restart...")
	var sess browser.Session
	err := r.recreate.Do(ctx, func(ctx context.Context, _ int, _ bool) error {
		var err error
		sess, err = r.manager.Recreate(ctx)
		return err
	})
	if err != nil {
		r.sink.Statusf("Failed to restart browser: %v", err)
		return nil, fmt.Errorf("failed to recreate browser session: %w", err)
	}
	// A fresh browser has lost whatever login the old one had.
	state.Login.LoggedIn = false
	r.sink.Statusf("Browser restarted successfully")
	return sess, nil
}

func (r *Runner) save(item WorkItem, img []byte) (string, error) {
	data, err := r.encoder.Encode(img)
	if err != nil {
		return "", err
	}
	return r.writer.Write(item.TargetDir, item.Filename, data)
}

func (r *Runner) failRemaining(state *BatchState, items []WorkItem, reason screenshot.FailureReason, err error) {
	for _, it := range items {
		state.fail(it, reason, err)
	}
}
