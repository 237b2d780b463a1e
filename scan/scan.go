// Package scan turns photo files into catalog entries: content hash,
// size, timestamps and pixel dimensions, extracted with a bounded
// worker pool over a directory walk.
package scan

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"image"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/ncw/directio"
	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/mhbvr/photocat"
)

// photoExtensions are the file types the scanner picks up.
var photoExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".tif":  true,
	".tiff": true,
}

// IsPhoto reports whether path has a recognized photo extension.
func IsPhoto(path string) bool {
	return photoExtensions[strings.ToLower(filepath.Ext(path))]
}

// FileEntry builds a catalog entry for the photo at path. The content
// hash covers the full file bytes. Dimensions and capture time are
// best effort: files that do not decode keep zero dimensions, files
// without usable metadata fall back to the modification time.
func FileEntry(path string, info fs.FileInfo) (photocat.CatalogEntry, error) {
	data, err := readFile(path)
	if err != nil {
		return photocat.CatalogEntry{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	sum := sha256.Sum256(data)
	width, height := dimensions(data)

	return photocat.CatalogEntry{
		ContentHash: fmt.Sprintf("%x", sum),
		Filename:    filepath.Base(path),
		SizeBytes:   int64(len(data)),
		CapturedAt:  capturedAt(data, info.ModTime()),
		ModifiedAt:  info.ModTime(),
		Width:       width,
		Height:      height,
	}, nil
}

// readFile reads path fully, with O_DIRECT where the filesystem
// supports it and plain buffered reads otherwise.
func readFile(path string) ([]byte, error) {
	data, err := readDirect(path)
	if err == nil {
		return data, nil
	}
	return os.ReadFile(path)
}

func readDirect(path string) ([]byte, error) {
	file, err := directio.OpenFile(path, os.O_RDONLY, 0644)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}

	block := directio.AlignedBlock(directio.BlockSize)
	data := make([]byte, 0, info.Size())
	for {
		n, err := io.ReadFull(file, block)
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return nil, err
		}
		if n > 0 {
			data = append(data, block[:n]...)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
	}
	return data, nil
}

// dimensions returns the pixel size of the image, or zeros when the
// format does not decode.
func dimensions(data []byte) (int, int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}

// capturedAt extracts the original capture time from the image
// metadata, falling back to the file modification time.
func capturedAt(data []byte, mtime time.Time) time.Time {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return mtime
	}
	t, err := x.DateTime()
	if err != nil {
		return mtime
	}
	return t
}
