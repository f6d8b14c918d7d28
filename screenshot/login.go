package screenshot

import (
	"net/url"
	"strings"

	"autocapture/urls"
)

// PageSignals is what the login check gets to look at after a page loads.
type PageSignals struct {
	RequestedURL string
	FinalURL     string
	Title        string
	Markup       string
}

// Redirected reports whether the page ended up somewhere other than where it
// was sent, ignoring case and trailing slashes.
func (p PageSignals) Redirected() bool {
	return urls.Key(p.FinalURL) != urls.Key(p.RequestedURL)
}

// LoginLikelihood is the number of heuristics that voted for a login wall.
type LoginLikelihood int

// IsLoginWall is true when at least one heuristic voted.
func (l LoginLikelihood) IsLoginWall() bool {
	return l > 0
}

// LoginDetector decides whether a loaded page is a login wall instead of the
// requested content. Implementations are approximate by nature.
type LoginDetector interface {
	Detect(PageSignals) LoginLikelihood
}

// LoginDetectorFunc adapts a function to LoginDetector.
type LoginDetectorFunc func(PageSignals) LoginLikelihood

func (f LoginDetectorFunc) Detect(p PageSignals) LoginLikelihood {
	return f(p)
}

var (
	loginPathMarkers  = []string{"/login", "/signin", "/auth"}
	loginTitleMarkers = []string{"sign in", "log in", "authentication required"}
)

// HeuristicDetector votes on URL path, title and form markup. It only looks
// at redirected pages. Both false positives (a docs page about /auth) and
// false negatives (a wall without a redirect) are possible.
type HeuristicDetector struct {
	// MarkupSample is how much of the markup is searched for form fields.
	MarkupSample int
	// MarkupCeiling disables the markup vote for pages at least this large,
	// which are rarely bare login forms.
	MarkupCeiling int
}

// DefaultLoginDetector returns the detector used when none is configured.
func DefaultLoginDetector() HeuristicDetector {
	return HeuristicDetector{MarkupSample: 10_000, MarkupCeiling: 30_000}
}

func (d HeuristicDetector) Detect(p PageSignals) LoginLikelihood {
	if !p.Redirected() {
		return 0
	}

	var votes LoginLikelihood
	if IsLoginURL(p.FinalURL) {
		votes++
	}

	title := strings.ToLower(p.Title)
	for _, m := range loginTitleMarkers {
		if strings.Contains(title, m) {
			votes++
			break
		}
	}

	if d.MarkupCeiling <= 0 || len(p.Markup) < d.MarkupCeiling {
		sample := p.Markup
		if d.MarkupSample > 0 && len(sample) > d.MarkupSample {
			sample = sample[:d.MarkupSample]
		}
		sample = strings.ToLower(sample)
		if strings.Contains(sample, "password") &&
			(strings.Contains(sample, "email") || strings.Contains(sample, "username")) {
			votes++
		}
	}
	return votes
}

// IsLoginURL reports whether the URL path looks like a login or auth route.
func IsLoginURL(raw string) bool {
	path := raw
	if u, err := url.Parse(raw); err == nil {
		path = u.Path
	}
	path = strings.ToLower(path)
	for _, m := range loginPathMarkers {
		if strings.Contains(path, m) {
			return true
		}
	}
	return false
}
