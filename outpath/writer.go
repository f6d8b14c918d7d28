package outpath

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// maxCollisions bounds the _N suffix search.
const maxCollisions = 10000

// Writer stores capture files under Root.
type Writer struct {
	Root   string
	Logger *zap.Logger
}

// NewWriter creates a Writer and ensures the root directory exists.
func NewWriter(root string, logger *zap.Logger) (*Writer, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("output directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", root, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{Root: root, Logger: logger}, nil
}

// Write stores data as <Root>/<dir>/<file>. When the name is taken it
// appends _1, _2, ... before the extension. When the subdirectory cannot be
// created or written to, the file lands directly under Root instead.
// The returned path is the one actually written.
func (w *Writer) Write(dir, file string, data []byte) (string, error) {
	folder := w.Root
	if dir != "" {
		target := filepath.Join(w.Root, filepath.FromSlash(dir))
		if err := os.MkdirAll(target, 0o755); err != nil {
			w.Logger.Warn("Falling back to output root",
				zap.String("dir", target), zap.Error(err))
		} else {
			folder = target
		}
	}

	path, err := createUnique(folder, file, data)
	if err != nil && folder != w.Root {
		w.Logger.Warn("Write failed in subdirectory, falling back to output root",
			zap.String("dir", folder), zap.Error(err))
		path, err = createUnique(w.Root, file, data)
	}
	if err != nil {
		return "", err
	}
	return path, nil
}

// createUnique writes data to the first free name in folder. O_EXCL makes
// the existence check and the create a single step.
func createUnique(folder, file string, data []byte) (string, error) {
	ext := filepath.Ext(file)
	stem := strings.TrimSuffix(file, ext)

	for i := 0; i < maxCollisions; i++ {
		name := file
		if i > 0 {
			name = stem + "_" + strconv.Itoa(i) + ext
		}
		path := filepath.Join(folder, name)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			if errors.Is(err, os.ErrExist) {
				continue
			}
			return "", fmt.Errorf("failed to create %s: %w", path, err)
		}
		if _, err := f.Write(data); err != nil {
			_ = f.Close()
			_ = os.Remove(path)
			return "", fmt.Errorf("failed to write %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			_ = os.Remove(path)
			return "", fmt.Errorf("failed to close %s: %w", path, err)
		}
		return path, nil
	}
	return "", fmt.Errorf("no free file name for %s in %s", file, folder)
}
