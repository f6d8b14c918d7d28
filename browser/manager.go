package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultProbeTimeout bounds a liveness probe.
const DefaultProbeTimeout = 5 * time.Second

var errNoSession = errors.New("no browser session")

// Manager keeps at most one live Session. It is used by a single worker at a
// time; the mutex only protects Stop-style calls from other goroutines.
type Manager struct {
	driver       Driver
	cfg          Config
	logger       *zap.Logger
	ProbeTimeout time.Duration

	mu       sync.Mutex
	sess     Session
	dead     bool
	external bool
}

// NewManager creates a Manager that launches sessions through driver.
func NewManager(driver Driver, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		driver:       driver,
		cfg:          cfg,
		logger:       logger,
		ProbeTimeout: DefaultProbeTimeout,
	}
}

// Config returns the launch configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// Current returns the session if one exists, dead or alive.
func (m *Manager) Current() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess
}

// External reports whether the current session was opened for manual login.
func (m *Manager) External() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.external
}

// Ensure returns the live session, launching one if none exists or the
// current one was marked dead. Launch failures are returned, not retried.
func (m *Manager) Ensure(ctx context.Context) (Session, error) {
	m.mu.Lock()
	sess, dead := m.sess, m.dead
	m.mu.Unlock()
	if sess != nil && !dead {
		return sess, nil
	}
	return m.launch(ctx, m.cfg, false)
}

// Probe checks the current session. Only fatal loss is reported, as a
// KindSessionLost *Error, and marks the session dead; anything else is
// logged and ignored.
func (m *Manager) Probe(ctx context.Context) error {
	m.mu.Lock()
	sess, dead := m.sess, m.dead
	m.mu.Unlock()
	if sess == nil || dead {
		return NewError(KindSessionLost, "probe", errNoSession)
	}

	pctx, cancel := context.WithTimeout(ctx, m.ProbeTimeout)
	defer cancel()
	n, err := sess.Windows(pctx)
	switch {
	case err != nil && IsSessionLost(err):
		m.logger.Warn("Browser session lost", zap.Error(err))
		m.MarkDead()
		return err
	case err != nil:
		m.logger.Debug("Ignoring browser probe error", zap.Error(err))
		return nil
	case n == 0:
		m.logger.Warn("Browser has no open windows")
		m.MarkDead()
		return NewError(KindSessionLost, "probe", errors.New("no open windows"))
	}
	return nil
}

// Recreate tears down the current session and launches a new one with the
// same configuration.
func (m *Manager) Recreate(ctx context.Context) (Session, error) {
	m.mu.Lock()
	external := m.external
	m.mu.Unlock()
	m.logger.Info("Recreating browser session")
	cfg := m.cfg
	if external {
		cfg = m.loginConfig()
	}
	return m.launch(ctx, cfg, external)
}

// MarkDead flags the current session as unusable until recreated.
func (m *Manager) MarkDead() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess != nil {
		m.dead = true
	}
}

// OpenForLogin replaces the current session with a visible one on the
// persistent profile and flags it externally owned, so Release leaves it
// open.
func (m *Manager) OpenForLogin(ctx context.Context) (Session, error) {
	return m.launch(ctx, m.loginConfig(), true)
}

func (m *Manager) loginConfig() Config {
	cfg := m.cfg
	cfg.Headless = false
	cfg.PersistentProfile = true
	return cfg
}

// Release closes the session at the end of a run unless it is externally
// owned.
func (m *Manager) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.external && !m.dead {
		m.logger.Debug("Leaving externally owned browser session open")
		return
	}
	m.closeLocked()
}

// Shutdown closes the session regardless of ownership.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked()
}

// StopLoading asks the current page to stop loading. It is safe to call
// from any goroutine.
func (m *Manager) StopLoading(ctx context.Context) {
	sess := m.Current()
	if sess == nil {
		return
	}
	if err := sess.StopLoading(ctx); err != nil {
		m.logger.Debug("Stop loading failed", zap.Error(err))
	}
}

func (m *Manager) launch(ctx context.Context, cfg Config, external bool) (Session, error) {
	m.mu.Lock()
	m.closeLocked()
	m.mu.Unlock()

	if m.driver == nil {
		return nil, NewError(KindFatal, "start", errors.New("no browser driver configured"))
	}
	sess, err := m.driver.Launch(ctx, cfg)
	if err != nil {
		var be *Error
		if !errors.As(err, &be) {
			err = NewError(KindFatal, "start", err)
		}
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	m.mu.Lock()
	m.sess = sess
	m.dead = false
	m.external = external
	m.mu.Unlock()
	return sess, nil
}

func (m *Manager) closeLocked() {
	if m.sess == nil {
		return
	}
	if err := m.sess.Close(); err != nil {
		m.logger.Debug("Error closing browser session", zap.Error(err))
	}
	m.sess = nil
	m.dead = false
	m.external = false
}
