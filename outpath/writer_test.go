package outpath

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_NeverOverwrites(t *testing.T) {
	root := t.TempDir()
	w, err := NewWriter(root, nil)
	require.NoError(t, err)

	first, err := w.Write("docs/guide", "intro.png", []byte("one"))
	require.NoError(t, err)
	second, err := w.Write("docs/guide", "intro.png", []byte("two"))
	require.NoError(t, err)
	third, err := w.Write("docs/guide", "intro.png", []byte("three"))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "docs", "guide", "intro.png"), first)
	assert.Equal(t, filepath.Join(root, "docs", "guide", "intro_1.png"), second)
	assert.Equal(t, filepath.Join(root, "docs", "guide", "intro_2.png"), third)

	data, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Equal(t, "one", string(data))
	data, err = os.ReadFile(second)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
}

func TestWriter_RootFile(t *testing.T) {
	root := t.TempDir()
	w, err := NewWriter(root, nil)
	require.NoError(t, err)

	p, err := w.Write("", "index.png", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "index.png"), p)
}

func TestWriter_FallsBackToRoot(t *testing.T) {
	root := t.TempDir()
	// A regular file where the subdirectory should go makes MkdirAll fail.
	require.NoError(t, os.WriteFile(filepath.Join(root, "blocked"), []byte("file"), 0o644))

	w, err := NewWriter(root, nil)
	require.NoError(t, err)

	p, err := w.Write("blocked/inner", "page.png", []byte("img"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "page.png"), p)
}

func TestNewWriter_RequiresRoot(t *testing.T) {
	_, err := NewWriter("  ", nil)
	assert.Error(t, err)
}
