// Package archive packs a capture tree into one or more zip files, each kept
// under a size ceiling so the parts can be attached to mail or tickets.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"
)

// Defaults for a Packager.
const (
	DefaultMaxPartSize         = 29 * 1024 * 1024
	DefaultCompressionEstimate = 0.4
	DefaultEntryOverhead       = 500
)

// ErrNothingToPack is returned when the tree holds no files to archive.
var ErrNothingToPack = errors.New("no files found to zip")

// storedExts are formats that are already compressed.
var storedExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".pdf": true, ".gif": true, ".webp": true,
}

// Part describes one written zip file.
type Part struct {
	Path    string
	Entries int
	Size    int64
}

// Packager splits a directory tree across zip parts. Before each file is
// added the part's size on disk plus size*CompressionEstimate plus
// EntryOverhead is compared with MaxPartSize; a non-empty part that would
// overflow is closed and the next one opened.
type Packager struct {
	MaxPartSize         int64
	CompressionEstimate float64
	EntryOverhead       int64
	// SkipDirs are directory names left out of the archive.
	SkipDirs []string
	Logger   *zap.Logger
}

// NewPackager returns a Packager with default limits.
func NewPackager(logger *zap.Logger) *Packager {
	return &Packager{
		MaxPartSize:         DefaultMaxPartSize,
		CompressionEstimate: DefaultCompressionEstimate,
		EntryOverhead:       DefaultEntryOverhead,
		Logger:              logger,
	}
}

type entry struct {
	path string
	rel  string
	size int64
}

// Pack archives every file under root into dest, dest_part2.zip and so on.
// Existing zip files are skipped. A file that cannot be added is logged and
// left out.
func (p *Packager) Pack(ctx context.Context, root, dest string) ([]Part, error) {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	files, err := p.collect(root)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, ErrNothingToPack
	}
	logger.Info("Packing files", zap.Int("files", len(files)), zap.String("root", root))

	ceiling := p.MaxPartSize
	if ceiling <= 0 {
		ceiling = DefaultMaxPartSize
	}

	var parts []Part
	var cur *part
	defer func() {
		if cur != nil {
			cur.abort()
		}
	}()

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return parts, err
		}

		if cur == nil {
			if cur, err = openPart(PartPath(dest, len(parts)+1)); err != nil {
				return parts, err
			}
		}

		onDisk, err := cur.size()
		if err != nil {
			return parts, err
		}
		estimate := onDisk + int64(float64(f.size)*p.CompressionEstimate) + p.EntryOverhead
		if estimate > ceiling && cur.entries > 0 {
			done, err := cur.close()
			cur = nil
			if err != nil {
				return parts, err
			}
			parts = append(parts, done)
			logger.Info("Created archive part",
				zap.String("path", done.Path),
				zap.String("size", humanize.IBytes(uint64(done.Size))))

			if cur, err = openPart(PartPath(dest, len(parts)+1)); err != nil {
				return parts, err
			}
		}

		if err := cur.add(f); err != nil {
			logger.Warn("Error adding file", zap.String("file", f.rel), zap.Error(err))
			continue
		}
		logger.Debug("Added", zap.String("file", f.rel))
	}

	done, err := cur.close()
	cur = nil
	if err != nil {
		return parts, err
	}
	parts = append(parts, done)
	logger.Info("Created archive part",
		zap.String("path", done.Path),
		zap.String("size", humanize.IBytes(uint64(done.Size))))
	return parts, nil
}

func (p *Packager) collect(root string) ([]entry, error) {
	var files []entry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && p.skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || strings.EqualFold(filepath.Ext(path), ".zip") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, entry{path: path, rel: filepath.ToSlash(rel), size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}
	return files, nil
}

func (p *Packager) skipDir(name string) bool {
	for _, s := range p.SkipDirs {
		if name == s {
			return true
		}
	}
	return false
}

// PartPath names the n-th part: dest itself for the first, then
// <stem>_part<n><ext>.
func PartPath(dest string, n int) string {
	if n <= 1 {
		return dest
	}
	ext := filepath.Ext(dest)
	return fmt.Sprintf("%s_part%d%s", strings.TrimSuffix(dest, ext), n, ext)
}

type part struct {
	path    string
	file    *os.File
	zw      *zip.Writer
	entries int
}

func openPart(path string) (*part, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	return &part{path: path, file: f, zw: zip.NewWriter(f)}, nil
}

func (p *part) size() (int64, error) {
	if err := p.zw.Flush(); err != nil {
		return 0, fmt.Errorf("failed to flush %s: %w", p.path, err)
	}
	info, err := p.file.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// add writes one file as a raw entry. Deflated entries are compressed in
// memory first, so nothing stays buffered in a compressor and the part's
// size on disk is exact before the next estimate.
func (p *part) add(e entry) error {
	info, err := os.Stat(e.path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(e.path)
	if err != nil {
		return err
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = e.rel
	hdr.CRC32 = crc32.ChecksumIEEE(data)
	hdr.UncompressedSize64 = uint64(len(data))

	body := data
	hdr.Method = zip.Store
	if !storedExts[strings.ToLower(filepath.Ext(e.rel))] {
		if body, err = deflate(data); err != nil {
			return err
		}
		hdr.Method = zip.Deflate
	}
	hdr.CompressedSize64 = uint64(len(body))

	w, err := p.zw.CreateRaw(hdr)
	if err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	p.entries++
	return nil
}

func deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(data); err != nil {
		return nil, err
	}
	if err := fw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (p *part) close() (Part, error) {
	zerr := p.zw.Close()
	ferr := p.file.Close()
	if err := errors.Join(zerr, ferr); err != nil {
		return Part{}, fmt.Errorf("failed to finish %s: %w", p.path, err)
	}
	info, err := os.Stat(p.path)
	if err != nil {
		return Part{}, err
	}
	return Part{Path: p.path, Entries: p.entries, Size: info.Size()}, nil
}

// abort closes a part left open by an early return.
func (p *part) abort() {
	_ = p.zw.Close()
	_ = p.file.Close()
}
