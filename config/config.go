package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"autocapture/browser"
	"autocapture/outpath"
	"autocapture/screenshot"
)

// Allowed viewport widths and load delays (seconds).
var (
	Widths = []int{1920, 1400, 1280, 1024, 768}
	Delays = []int{1, 2, 3, 5, 10}
)

// Cookie represents a browser cookie to set
type Cookie struct {
	Name     string `toml:"name"`
	Value    string `toml:"value"`
	Domain   string `toml:"domain,omitempty"`
	Path     string `toml:"path,omitempty"`
	Secure   bool   `toml:"secure,omitempty"`
	HTTPOnly bool   `toml:"http_only,omitempty"`
}

// OutputConfig controls where and how captures are written.
type OutputConfig struct {
	Dir           string `toml:"dir"`
	Format        string `toml:"format"`         // png, jpg or pdf
	IncludeDomain bool   `toml:"include_domain"` // nest captures under a per-host folder
	PathMode      string `toml:"path_mode"`      // "hardened" (default) or "legacy"
	JPEGQuality   int    `toml:"jpeg_quality"`
	PDFResolution int    `toml:"pdf_resolution"` // pixels per inch
}

// BrowserConfig controls the browser session.
type BrowserConfig struct {
	Driver          string `toml:"driver"` // chromedp or rod
	Width           int    `toml:"width"`
	Delay           int    `toml:"delay"` // seconds
	Headless        bool   `toml:"headless"`
	KeepSession     bool   `toml:"keep_session"` // persistent profile for logins
	ProfileDir      string `toml:"profile_dir"`
	ChromePath      string `toml:"chrome_path"`
	RemoteURL       string `toml:"remote_url"`
	DockerFallback  bool   `toml:"docker_fallback"`
	PageLoadTimeout string `toml:"page_load_timeout"` // e.g. "60s"
}

// CaptureConfig controls capture behavior.
type CaptureConfig struct {
	SkipLogin bool `toml:"skip_login"`
}

// ZipConfig controls archive packaging.
type ZipConfig struct {
	MaxSizeMB           int     `toml:"max_size_mb"`
	CompressionEstimate float64 `toml:"compression_estimate"`
}

// Config represents the application configuration
type Config struct {
	Output  OutputConfig  `toml:"output"`
	Browser BrowserConfig `toml:"browser"`
	Capture CaptureConfig `toml:"capture"`
	Zip     ZipConfig     `toml:"zip"`
	Cookies []Cookie      `toml:"cookies"`
}

// Default returns a validated configuration with every default applied.
func Default() *Config {
	c := &Config{}
	_ = c.Validate()
	return c
}

// Load reads a TOML configuration file. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	c := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := toml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate sets defaults and checks enumerations.
func (c *Config) Validate() error {
	var errs []error

	c.Output.Format = strings.ToLower(c.Output.Format)
	if c.Output.Format == "jpeg" {
		c.Output.Format = screenshot.FormatJPG
	}
	if c.Output.Format == "" {
		c.Output.Format = screenshot.FormatPNG
	} else if !slices.Contains(screenshot.Formats, c.Output.Format) {
		errs = append(errs, fmt.Errorf("unsupported file format: %s (supported: png, jpg, pdf)", c.Output.Format))
	}
	if _, err := outpath.ParseMode(c.Output.PathMode); err != nil {
		errs = append(errs, err)
	}

	if c.Output.JPEGQuality == 0 {
		c.Output.JPEGQuality = screenshot.DefaultJPEGQuality
	} else if c.Output.JPEGQuality < 1 || c.Output.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("jpeg quality must be between 1 and 100"))
	}
	if c.Output.PDFResolution == 0 {
		c.Output.PDFResolution = screenshot.DefaultPDFResolution
	} else if c.Output.PDFResolution < 0 {
		errs = append(errs, fmt.Errorf("pdf resolution must be positive"))
	}

	if c.Browser.Driver == "" {
		c.Browser.Driver = browser.DriverChromedp
	} else if c.Browser.Driver != browser.DriverChromedp && c.Browser.Driver != browser.DriverRod {
		errs = append(errs, fmt.Errorf("unknown browser driver: %s (supported: chromedp, rod)", c.Browser.Driver))
	}
	if c.Browser.Width == 0 {
		c.Browser.Width = 1400
	} else if !slices.Contains(Widths, c.Browser.Width) {
		errs = append(errs, fmt.Errorf("unsupported width: %d (supported: %v)", c.Browser.Width, Widths))
	}
	if c.Browser.Delay == 0 {
		c.Browser.Delay = int(screenshot.DefaultDelay / time.Second)
	} else if !slices.Contains(Delays, c.Browser.Delay) {
		errs = append(errs, fmt.Errorf("unsupported delay: %d (supported: %v)", c.Browser.Delay, Delays))
	}
	if c.Browser.PageLoadTimeout == "" {
		c.Browser.PageLoadTimeout = browser.DefaultPageLoadTimeout.String()
	} else if d, err := time.ParseDuration(c.Browser.PageLoadTimeout); err != nil || d <= 0 {
		errs = append(errs, fmt.Errorf("invalid page load timeout: %s", c.Browser.PageLoadTimeout))
	}

	if c.Zip.MaxSizeMB == 0 {
		c.Zip.MaxSizeMB = 29
	} else if c.Zip.MaxSizeMB < 0 {
		errs = append(errs, fmt.Errorf("zip max size must be positive"))
	}
	if c.Zip.CompressionEstimate == 0 {
		c.Zip.CompressionEstimate = 0.4
	} else if c.Zip.CompressionEstimate < 0 || c.Zip.CompressionEstimate > 1 {
		errs = append(errs, fmt.Errorf("compression estimate must be between 0 and 1"))
	}

	for i, ck := range c.Cookies {
		if ck.Name == "" {
			errs = append(errs, fmt.Errorf("cookie #%d is missing name", i+1))
		}
	}
	return errors.Join(errs...)
}

// Flags holds command-line overrides. Nil fields leave the file value alone.
type Flags struct {
	OutputDir     *string
	Format        *string
	Width         *int
	Delay         *int
	IncludeDomain *bool
	SkipLogin     *bool
	KeepSession   *bool
	Headless      *bool
	Driver        *string
	MaxSizeMB     *int
}

// ApplyFlags overrides file values with flags and validates the result.
func (c *Config) ApplyFlags(f Flags) error {
	set(&c.Output.Dir, f.OutputDir)
	set(&c.Output.Format, f.Format)
	set(&c.Output.IncludeDomain, f.IncludeDomain)
	set(&c.Browser.Width, f.Width)
	set(&c.Browser.Delay, f.Delay)
	set(&c.Browser.KeepSession, f.KeepSession)
	set(&c.Browser.Headless, f.Headless)
	set(&c.Browser.Driver, f.Driver)
	set(&c.Capture.SkipLogin, f.SkipLogin)
	set(&c.Zip.MaxSizeMB, f.MaxSizeMB)
	return c.Validate()
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// BrowserSession converts the browser section for the session manager.
func (c *Config) BrowserSession() browser.Config {
	timeout, _ := time.ParseDuration(c.Browser.PageLoadTimeout)
	return browser.Config{
		Driver:            c.Browser.Driver,
		ViewportWidth:     c.Browser.Width,
		Headless:          c.Browser.Headless,
		PersistentProfile: c.Browser.KeepSession,
		ProfileDir:        c.Browser.ProfileDir,
		PageLoadTimeout:   timeout,
		ChromePath:        c.Browser.ChromePath,
		RemoteURL:         c.Browser.RemoteURL,
		DockerFallback:    c.Browser.DockerFallback,
	}
}

// EngineOptions converts the capture settings for the capture engine.
func (c *Config) EngineOptions() screenshot.Options {
	cookies := make([]browser.Cookie, 0, len(c.Cookies))
	for _, ck := range c.Cookies {
		cookies = append(cookies, browser.Cookie(ck))
	}
	return screenshot.Options{
		Width:             c.Browser.Width,
		Delay:             time.Duration(c.Browser.Delay) * time.Second,
		SkipLogin:         c.Capture.SkipLogin,
		PersistentProfile: c.Browser.KeepSession,
		Cookies:           cookies,
	}
}

// Sanitizer returns the path sanitizer for the output settings.
func (c *Config) Sanitizer() outpath.Sanitizer {
	mode, _ := outpath.ParseMode(c.Output.PathMode)
	return outpath.Sanitizer{Format: c.Output.Format, IncludeDomain: c.Output.IncludeDomain, Mode: mode}
}

// Encoder returns the output encoder.
func (c *Config) Encoder() screenshot.Encoder {
	return screenshot.Encoder{
		Format:        c.Output.Format,
		JPEGQuality:   c.Output.JPEGQuality,
		PDFResolution: c.Output.PDFResolution,
	}
}

// MaxPartSize is the zip part ceiling in bytes.
func (c *Config) MaxPartSize() int64 {
	return int64(c.Zip.MaxSizeMB) * 1024 * 1024
}

// Summary lists the effective options for the run report.
func (c *Config) Summary() map[string]any {
	return map[string]any{
		"format":         c.Output.Format,
		"width":          c.Browser.Width,
		"delay":          c.Browser.Delay,
		"include_domain": c.Output.IncludeDomain,
		"skip_login":     c.Capture.SkipLogin,
		"keep_session":   c.Browser.KeepSession,
		"driver":         c.Browser.Driver,
	}
}
