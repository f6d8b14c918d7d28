package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a driver failure for the orchestration loop.
type Kind int

const (
	// KindTransient covers generic page and protocol errors worth retrying.
	KindTransient Kind = iota
	// KindTimeout is a navigation or load that ran past its deadline.
	KindTimeout
	// KindConnectionRefused means the target server is not listening.
	KindConnectionRefused
	// KindSessionLost means the browser, tab or DevTools connection is gone.
	KindSessionLost
	// KindFatal is a failure retrying cannot fix, such as a missing
	// Chrome executable.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindTimeout:
		return "timeout"
	case KindConnectionRefused:
		return "connection refused"
	case KindSessionLost:
		return "session lost"
	case KindFatal:
		return "fatal"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a classified driver failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap classifies err with Classify and tags it with op. Already
// classified errors pass through unchanged.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return err
	}
	return &Error{Kind: Classify(err), Op: op, Err: err}
}

// NewError builds an Error with an explicit kind.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind carried by err, classifying unwrapped errors on
// the fly.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return Classify(err)
}

// IsSessionLost reports whether err means the session must be recreated.
func IsSessionLost(err error) bool {
	return err != nil && KindOf(err) == KindSessionLost
}

// IsConnectionRefused reports whether err is a refused page connection.
func IsConnectionRefused(err error) bool {
	return err != nil && KindOf(err) == KindConnectionRefused
}

var sessionLostMarkers = []string{
	"invalid context",
	"target closed",
	"target detached",
	"session closed",
	"no such session",
	"no target with given id",
	"session with given id not found",
	"websocket: close",
	"use of closed network connection",
	"broken pipe",
	"channel closed",
	"browser has disconnected",
}

// Classify maps a raw driver error onto a Kind. It is the fallback for
// errors the drivers cannot recognise by type; Chrome reports page-level
// network failures only as net::ERR_* strings.
func Classify(err error) Kind {
	if err == nil {
		return KindTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "net::err_connection_refused"):
		return KindConnectionRefused
	case strings.Contains(msg, "net::err_timed_out"),
		strings.Contains(msg, "net::err_connection_timed_out"),
		strings.Contains(msg, "timeout"):
		return KindTimeout
	}
	for _, marker := range sessionLostMarkers {
		if strings.Contains(msg, marker) {
			return KindSessionLost
		}
	}
	return KindTransient
}
