// Package frames converts between image files and the interleaved,
// row-major byte frames consumed by the background model.
package frames

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/banshee-data/bgsub/internal/fsutil"
)

// ErrDimensions is returned when a frame does not match the stream's size.
var ErrDimensions = errors.New("frames: dimension mismatch")

// Frame is an interleaved row-major pixel buffer.
type Frame struct {
	Rows, Cols, Channels int
	Pix                  []byte
}

// extensions lists the image formats registered with image.Decode.
var extensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
}

// IsImage reports whether name has a decodable image extension.
func IsImage(name string) bool {
	return extensions[strings.ToLower(filepath.Ext(name))]
}

// FromImage converts img to a frame with 1 (luma) or 3 (RGB) channels.
func FromImage(img image.Image, channels int) (Frame, error) {
	if channels != 1 && channels != 3 {
		return Frame{}, fmt.Errorf("frames: channels must be 1 or 3, got %d", channels)
	}
	b := img.Bounds()
	f := Frame{
		Rows:     b.Dy(),
		Cols:     b.Dx(),
		Channels: channels,
		Pix:      make([]byte, b.Dx()*b.Dy()*channels),
	}

	if g, ok := img.(*image.Gray); ok && channels == 1 {
		for y := 0; y < f.Rows; y++ {
			off := g.PixOffset(b.Min.X, b.Min.Y+y)
			copy(f.Pix[y*f.Cols:(y+1)*f.Cols], g.Pix[off:off+f.Cols])
		}
		return f, nil
	}

	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := img.At(x, y)
			if channels == 1 {
				f.Pix[i] = color.GrayModel.Convert(c).(color.Gray).Y
				i++
				continue
			}
			n := color.NRGBAModel.Convert(c).(color.NRGBA)
			f.Pix[i], f.Pix[i+1], f.Pix[i+2] = n.R, n.G, n.B
			i += 3
		}
	}
	return f, nil
}

// DecodeFile reads and converts one image file.
func DecodeFile(fsys fsutil.FileSystem, path string, channels int) (Frame, error) {
	fh, err := fsys.Open(path)
	if err != nil {
		return Frame{}, fmt.Errorf("open frame: %w", err)
	}
	defer fh.Close()

	img, _, err := image.Decode(fh)
	if err != nil {
		return Frame{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return FromImage(img, channels)
}

// MaskImage wraps a single-channel mask as an image without copying.
func MaskImage(mask []byte, rows, cols int) *image.Gray {
	return &image.Gray{
		Pix:    mask,
		Stride: cols,
		Rect:   image.Rect(0, 0, cols, rows),
	}
}
