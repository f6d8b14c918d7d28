// Package urls turns pasted text into the ordered, duplicate-free list of
// absolute URLs a capture run works on.
package urls

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"os"
	"regexp"
	"strings"
)

var urlPattern = regexp.MustCompile("https?://[^\\s<>\"'`]+")

// trailingPunct is stripped from matches before anything else; a URL pasted
// at the end of a sentence or inside parentheses carries it.
const trailingPunct = ".,;:)"

// Result is the outcome of Extract.
type Result struct {
	URLs []string
	// Found is the number of raw matches before validation and dedup.
	Found int
	// Dropped counts duplicates and invalid entries.
	Dropped int
}

// Extract finds every http(s) URL in text, strips trailing punctuation and
// slashes, and drops invalid entries and duplicates. Order of first
// appearance is preserved and the original case is kept for use.
func Extract(text string) Result {
	matches := urlPattern.FindAllString(text, -1)
	res := Result{Found: len(matches)}
	seen := make(map[string]bool, len(matches))

	for _, m := range matches {
		clean := Clean(m)
		if !Valid(clean) {
			res.Dropped++
			continue
		}
		key := Key(clean)
		if seen[key] {
			res.Dropped++
			continue
		}
		seen[key] = true
		res.URLs = append(res.URLs, clean)
	}
	return res
}

// Clean strips trailing punctuation and then trailing slashes.
func Clean(raw string) string {
	s := strings.TrimRight(strings.TrimSpace(raw), trailingPunct)
	return strings.TrimRight(s, "/")
}

// Key is the comparison key used for deduplication.
func Key(raw string) string {
	return strings.ToLower(Clean(raw))
}

// Valid reports whether raw is an absolute http or https URL with a host.
func Valid(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Hostname() != ""
}

// ReadInput gathers raw text from command-line arguments, an optional file
// and an optional reader (stdin). Arguments come first, then the file, then
// the reader, which keeps the final order predictable.
func ReadInput(args []string, file string, r io.Reader) (string, error) {
	var b strings.Builder
	for _, a := range args {
		b.WriteString(a)
		b.WriteByte('\n')
	}

	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("error reading URL file: %w", err)
		}
		b.Write(data)
		b.WriteByte('\n')
	}

	if r != nil {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			b.WriteString(sc.Text())
			b.WriteByte('\n')
		}
		if err := sc.Err(); err != nil {
			return "", fmt.Errorf("error reading URLs from input: %w", err)
		}
	}
	return b.String(), nil
}
