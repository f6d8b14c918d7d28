// Package outpath maps captured URLs onto filesystem-safe relative paths and
// writes capture files without ever overwriting an earlier one.
package outpath

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

// MaxSegmentLen is the longest directory or file name the sanitizer emits.
const MaxSegmentLen = 100

// Mode selects which characters survive sanitizing.
type Mode int

const (
	// ModeHardened strips only characters invalid on Windows filesystems
	// plus control characters.
	ModeHardened Mode = iota
	// ModeLegacy keeps only [A-Za-z0-9-_.].
	ModeLegacy
)

// ParseMode converts a config string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "hardened":
		return ModeHardened, nil
	case "legacy":
		return ModeLegacy, nil
	}
	return ModeHardened, fmt.Errorf("unknown path mode: %s (supported: hardened, legacy)", s)
}

const windowsInvalid = `<>:"/\|?*`

var reservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// Sanitizer derives the output subdirectory and filename for a URL.
type Sanitizer struct {
	// Format is the image format and becomes the file extension.
	Format        string
	IncludeDomain bool
	Mode          Mode
}

// Paths returns the slash-separated subdirectory (possibly empty) and the
// filename for rawURL.
func (s Sanitizer) Paths(rawURL string) (dir, file string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("error parsing URL %s: %w", rawURL, err)
	}

	ext := strings.TrimPrefix(strings.ToLower(s.Format), ".")
	if ext == "" {
		ext = "png"
	}

	var parts []string
	for _, raw := range strings.Split(strings.Trim(u.EscapedPath(), "/"), "/") {
		if raw == "" {
			continue
		}
		seg, err := url.PathUnescape(raw)
		if err != nil {
			seg = raw
		}
		if clean := s.Segment(seg); clean != "" {
			parts = append(parts, clean)
		}
	}

	var dirs []string
	if s.IncludeDomain {
		if d := s.Domain(u.Host); d != "" {
			dirs = append(dirs, d)
		}
	}

	stem := "index"
	if len(parts) > 0 {
		stem = parts[len(parts)-1]
		dirs = append(dirs, parts[:len(parts)-1]...)
	}
	stem = finish(truncate(stem, MaxSegmentLen-len(ext)-1))
	if stem == "" {
		stem = "index"
	}

	return strings.Join(dirs, "/"), stem + "." + ext, nil
}

// Domain turns a host (with optional port) into a single directory name:
// "example.com:8080" becomes "example_com-8080".
func (s Sanitizer) Domain(host string) string {
	host = strings.ReplaceAll(host, ":", "-")
	host = strings.ReplaceAll(host, ".", "_")

	var b strings.Builder
	for _, r := range host {
		if isASCIIAlnum(r) || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	return finish(b.String())
}

// Segment sanitizes one path segment. The result never contains a path
// separator or a Windows-invalid character, is never a reserved device
// name and is at most MaxSegmentLen characters long. It may be empty.
func (s Sanitizer) Segment(seg string) string {
	var b strings.Builder
	for _, r := range seg {
		if s.keep(r) {
			b.WriteRune(r)
		}
	}
	return finish(b.String())
}

func (s Sanitizer) keep(r rune) bool {
	if s.Mode == ModeLegacy {
		return isASCIIAlnum(r) || r == '-' || r == '_' || r == '.'
	}
	if r < 0x20 || r == 0x7f || r == utf8.RuneError {
		return false
	}
	return !strings.ContainsRune(windowsInvalid, r)
}

// finish trims, truncates and guards against reserved device names.
func finish(seg string) string {
	seg = strings.Trim(seg, ". ")
	seg = strings.TrimRight(truncate(seg, MaxSegmentLen), ". ")
	if isReserved(seg) {
		seg = strings.TrimRight(truncate("_"+seg, MaxSegmentLen), ". ")
	}
	return seg
}

// isReserved reports whether Windows would treat seg as a device name,
// which also applies when an extension follows ("con.txt").
func isReserved(seg string) bool {
	base, _, _ := strings.Cut(seg, ".")
	return reservedNames[strings.ToUpper(strings.TrimRight(base, " "))]
}

func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

func isASCIIAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}
