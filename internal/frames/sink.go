package frames

import (
	"context"
	"fmt"
	"image/png"
	"io"
	"path/filepath"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/banshee-data/bgsub/internal/fsutil"
	"github.com/banshee-data/bgsub/internal/pipeline"
)

// MaskFormat names an output encoding for masks.
type MaskFormat string

const (
	FormatPNG  MaskFormat = "png"
	FormatBMP  MaskFormat = "bmp"
	FormatTIFF MaskFormat = "tiff"
)

// EncodeMask writes a single-channel mask in the given format.
func EncodeMask(w io.Writer, format MaskFormat, mask []byte, rows, cols int) error {
	if len(mask) != rows*cols {
		return fmt.Errorf("%w: mask has %d pixels, want %d", ErrDimensions, len(mask), rows*cols)
	}
	img := MaskImage(mask, rows, cols)
	switch format {
	case FormatPNG, "":
		return png.Encode(w, img)
	case FormatBMP:
		return bmp.Encode(w, img)
	case FormatTIFF:
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	}
	return fmt.Errorf("unknown mask format %q", format)
}

// MaskWriter is a pipeline sink that writes every steady-state mask to a
// directory as mask_NNNNNN.<ext>, numbered by frame index.
type MaskWriter struct {
	fs     fsutil.FileSystem
	dir    string
	format MaskFormat
	rows   int
	cols   int
	// Every writes one mask out of N; 0 or 1 writes all of them.
	Every int

	written int
}

// NewMaskWriter creates dir if needed.
func NewMaskWriter(fsys fsutil.FileSystem, dir string, format MaskFormat, rows, cols int) (*MaskWriter, error) {
	switch format {
	case "":
		format = FormatPNG
	case FormatPNG, FormatBMP, FormatTIFF:
	default:
		return nil, fmt.Errorf("unknown mask format %q", format)
	}
	if err := fsys.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create mask dir: %w", err)
	}
	return &MaskWriter{fs: fsys, dir: dir, format: format, rows: rows, cols: cols}, nil
}

// Written is the number of masks written so far.
func (w *MaskWriter) Written() int { return w.written }

// WriteFrame implements pipeline.Sink. Learning frames are skipped.
func (w *MaskWriter) WriteFrame(_ context.Context, res pipeline.FrameResult) error {
	if res.Learning {
		return nil
	}
	if w.Every > 1 && res.Index%w.Every != 0 {
		return nil
	}
	name := filepath.Join(w.dir, fmt.Sprintf("mask_%06d.%s", res.Index, w.format))
	fh, err := w.fs.Create(name)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if err := EncodeMask(fh, w.format, res.Mask, w.rows, w.cols); err != nil {
		fh.Close()
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if err := fh.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	w.written++
	return nil
}
