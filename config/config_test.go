package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autocapture/browser"
	"autocapture/outpath"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "autocapture.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "png", c.Output.Format)
	assert.Equal(t, 1400, c.Browser.Width)
	assert.Equal(t, 2, c.Browser.Delay)
	assert.Equal(t, 90, c.Output.JPEGQuality)
	assert.Equal(t, 100, c.Output.PDFResolution)
	assert.Equal(t, 29, c.Zip.MaxSizeMB)
	assert.Equal(t, int64(29*1024*1024), c.MaxPartSize())
	assert.Equal(t, "chromedp", c.Browser.Driver)
	assert.Equal(t, 60*time.Second, c.BrowserSession().PageLoadTimeout)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
[output]
dir = "/tmp/caps"
format = "JPEG"
include_domain = true
path_mode = "legacy"

[browser]
driver = "rod"
width = 1024
delay = 5
keep_session = true
page_load_timeout = "30s"

[capture]
skip_login = true

[[cookies]]
name = "sid"
value = "abc"
domain = ".example.com"
`)
	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "jpg", c.Output.Format)
	assert.Equal(t, outpath.Sanitizer{Format: "jpg", IncludeDomain: true, Mode: outpath.ModeLegacy}, c.Sanitizer())

	bc := c.BrowserSession()
	assert.Equal(t, browser.DriverRod, bc.Driver)
	assert.Equal(t, 1024, bc.ViewportWidth)
	assert.True(t, bc.PersistentProfile)
	assert.Equal(t, 30*time.Second, bc.PageLoadTimeout)

	eo := c.EngineOptions()
	assert.Equal(t, 5*time.Second, eo.Delay)
	assert.True(t, eo.SkipLogin)
	assert.True(t, eo.PersistentProfile)
	assert.Equal(t, []browser.Cookie{{Name: "sid", Value: "abc", Domain: ".example.com"}}, eo.Cookies)

	assert.Equal(t, "jpg", c.Encoder().Format)
	assert.Equal(t, 90, c.Encoder().JPEGQuality)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorContains(t, err, "error reading config file")

	_, err = Load(writeConfig(t, "[output\nformat="))
	assert.ErrorContains(t, err, "error parsing config file")
}

func TestValidate_Enumerations(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*Config)
		want string
	}{
		{"format", func(c *Config) { c.Output.Format = "tiff" }, "unsupported file format"},
		{"width", func(c *Config) { c.Browser.Width = 1000 }, "unsupported width"},
		{"delay", func(c *Config) { c.Browser.Delay = 4 }, "unsupported delay"},
		{"driver", func(c *Config) { c.Browser.Driver = "playwright" }, "unknown browser driver"},
		{"quality", func(c *Config) { c.Output.JPEGQuality = 120 }, "jpeg quality"},
		{"timeout", func(c *Config) { c.Browser.PageLoadTimeout = "soon" }, "invalid page load timeout"},
		{"path mode", func(c *Config) { c.Output.PathMode = "strict" }, "unknown path mode"},
		{"cookie", func(c *Config) { c.Cookies = []Cookie{{Value: "x"}} }, "cookie #1 is missing name"},
		{"estimate", func(c *Config) { c.Zip.CompressionEstimate = 2 }, "compression estimate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{}
			tt.mod(c)
			assert.ErrorContains(t, c.Validate(), tt.want)
		})
	}
}

func TestApplyFlags(t *testing.T) {
	c := Default()
	dir, format, width, skip := "/out", "pdf", 768, true

	require.NoError(t, c.ApplyFlags(Flags{OutputDir: &dir, Format: &format, Width: &width, SkipLogin: &skip}))
	assert.Equal(t, "/out", c.Output.Dir)
	assert.Equal(t, "pdf", c.Output.Format)
	assert.Equal(t, 768, c.Browser.Width)
	assert.True(t, c.Capture.SkipLogin)
	assert.Equal(t, 2, c.Browser.Delay, "unset flags keep the file value")

	bad := 333
	assert.Error(t, c.ApplyFlags(Flags{Width: &bad}))
}
