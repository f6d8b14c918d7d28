package browser

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{context.DeadlineExceeded, KindTimeout},
		{fmt.Errorf("navigate: %w", context.DeadlineExceeded), KindTimeout},
		{errors.New("page load error net::ERR_CONNECTION_REFUSED"), KindConnectionRefused},
		{errors.New("navigation failed: net::ERR_TIMED_OUT"), KindTimeout},
		{errors.New("invalid context"), KindSessionLost},
		{errors.New("websocket: close 1006 (abnormal closure)"), KindSessionLost},
		{errors.New("No target with given id found"), KindSessionLost},
		{errors.New("Cannot find context with specified id"), KindTransient},
		{errors.New("net::ERR_NAME_NOT_RESOLVED"), KindTransient},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestWrap_KeepsExistingKind(t *testing.T) {
	inner := NewError(KindFatal, "start", errors.New("could not find Chrome executable"))
	wrapped := Wrap("navigate", fmt.Errorf("outer: %w", inner))
	assert.Equal(t, KindFatal, KindOf(wrapped))

	assert.Nil(t, Wrap("x", nil))
}

func TestErrorHelpers(t *testing.T) {
	lost := fmt.Errorf("probe failed: %w", NewError(KindSessionLost, "windows", errors.New("target closed")))
	assert.True(t, IsSessionLost(lost))
	assert.False(t, IsConnectionRefused(lost))

	refused := Wrap("navigate", errors.New("net::ERR_CONNECTION_REFUSED"))
	assert.True(t, IsConnectionRefused(refused))
	assert.False(t, IsSessionLost(nil))

	var be *Error
	require.ErrorAs(t, refused, &be)
	assert.Equal(t, "navigate", be.Op)
	assert.Contains(t, refused.Error(), "connection refused")
}

func TestNewDriver(t *testing.T) {
	d, err := NewDriver("")
	require.NoError(t, err)
	assert.IsType(t, &ChromeDriver{}, d)

	d, err = NewDriver(DriverRod)
	require.NoError(t, err)
	assert.IsType(t, &RodDriver{}, d)

	_, err = NewDriver("webkit")
	assert.Error(t, err)
}

func TestConfig_LoadTimeoutCeiling(t *testing.T) {
	assert.Equal(t, DefaultPageLoadTimeout, Config{}.loadTimeout())
	assert.Equal(t, DefaultPageLoadTimeout, Config{PageLoadTimeout: 5 * DefaultPageLoadTimeout}.loadTimeout())
	assert.Equal(t, DefaultPageLoadTimeout/2, Config{PageLoadTimeout: DefaultPageLoadTimeout / 2}.loadTimeout())
}

func TestCookieDefaults(t *testing.T) {
	c := Cookie{Name: "sid", Value: "1"}
	assert.Equal(t, "example.com", cookieDomain(c, "https://example.com:8443/a"))
	assert.Equal(t, "/", cookiePath(c))

	c.Domain, c.Path = ".corp.example", "/app"
	assert.Equal(t, ".corp.example", cookieDomain(c, "https://example.com"))
	assert.Equal(t, "/app", cookiePath(c))
}
