// Package logging builds the process logger and the status-line sink that
// mirrors progress to the terminal.
package logging

import (
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a console logger at info level, or debug when verbose is set.
func New(verbose bool) (*zap.Logger, error) {
	config := zap.NewDevelopmentConfig()
	config.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	config.DisableStacktrace = true
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	config.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	config.OutputPaths = []string{"stderr"}

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// Sink prints status lines as "[15:04:05] message" to Out and records them
// at debug level on Logger. Either may be nil.
type Sink struct {
	Out    io.Writer
	Logger *zap.Logger
	Now    func() time.Time

	mu sync.Mutex
}

// NewSink returns a Sink writing to out.
func NewSink(out io.Writer, logger *zap.Logger) *Sink {
	return &Sink{Out: out, Logger: logger}
}

// Statusf formats and emits one status line.
func (s *Sink) Statusf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Out != nil {
		fmt.Fprintf(s.Out, "[%s] %s\n", now().Format("15:04:05"), msg)
	}
	if s.Logger != nil {
		s.Logger.Debug(msg)
	}
}
