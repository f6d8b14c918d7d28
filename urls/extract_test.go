package urls

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract_TrailingSlashDuplicate(t *testing.T) {
	res := Extract("Check https://example.com/a and https://example.com/a/")

	require.Equal(t, []string{"https://example.com/a"}, res.URLs)
	assert.Equal(t, 2, res.Found)
	assert.Equal(t, 1, res.Dropped)
}

func TestExtract_PreservesOrderAndCase(t *testing.T) {
	text := `
https://Example.com/Docs/Intro
see (https://other.org/page).
http://example.com/b;
HTTPS://EXAMPLE.COM/DOCS/INTRO/
https://example.com/docs/intro,
`
	res := Extract(text)

	assert.Equal(t, []string{
		"https://Example.com/Docs/Intro",
		"https://other.org/page",
		"http://example.com/b",
	}, res.URLs)
}

func TestExtract_EmptyInput(t *testing.T) {
	for _, in := range []string{"", "   \n\t", "no links here, ftp://x.y only"} {
		res := Extract(in)
		assert.Empty(t, res.URLs, "input %q", in)
	}
}

func TestExtract_DropsInvalid(t *testing.T) {
	res := Extract("https://:8080/path https://ok.example/x")

	assert.Equal(t, []string{"https://ok.example/x"}, res.URLs)
	assert.Equal(t, 1, res.Dropped)
}

func TestExtract_NoDuplicateKeys(t *testing.T) {
	inputs := []string{
		"https://a.com https://A.com/ https://a.com/.",
		"http://x.io/p/q) http://x.io/p/q/ http://X.IO/P/Q;",
		"https://h.com/1 https://h.com/2 https://h.com/1/ https://h.com/2:",
	}
	for _, in := range inputs {
		res := Extract(in)
		seen := map[string]bool{}
		for _, u := range res.URLs {
			k := Key(u)
			require.False(t, seen[k], "duplicate key %q in %v", k, res.URLs)
			seen[k] = true
		}
	}
}

func TestValid(t *testing.T) {
	assert.True(t, Valid("https://example.com"))
	assert.True(t, Valid("http://localhost:3000/a"))
	assert.False(t, Valid("ftp://example.com"))
	assert.False(t, Valid("https://"))
	assert.False(t, Valid("not a url"))
}

func TestReadInput(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "urls.txt")
	require.NoError(t, os.WriteFile(file, []byte("https://b.example\n"), 0o644))

	text, err := ReadInput([]string{"https://a.example"}, file, strings.NewReader("https://c.example\n"))
	require.NoError(t, err)

	res := Extract(text)
	assert.Equal(t, []string{"https://a.example", "https://b.example", "https://c.example"}, res.URLs)

	_, err = ReadInput(nil, filepath.Join(dir, "missing.txt"), nil)
	assert.Error(t, err)
}
