package frames

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/banshee-data/bgsub/internal/fsutil"
	"github.com/banshee-data/bgsub/internal/pipeline"
)

func grayImage(rows, cols int, v func(r, c int) byte) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, cols, rows))
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			img.SetGray(c, r, color.Gray{Y: v(r, c)})
		}
	}
	return img
}

func rgbImage(rows, cols int, px color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, cols, rows))
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			img.SetNRGBA(c, r, px)
		}
	}
	return img
}

func writePNG(t *testing.T, fsys fsutil.FileSystem, path string, img image.Image) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, fsys.WriteFile(path, buf.Bytes(), 0644))
}

func TestFromImage_Gray(t *testing.T) {
	t.Parallel()
	img := grayImage(2, 3, func(r, c int) byte { return byte(10*r + c) })
	f, err := FromImage(img, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, f.Rows)
	assert.Equal(t, 3, f.Cols)
	assert.Equal(t, []byte{0, 1, 2, 10, 11, 12}, f.Pix)
}

func TestFromImage_SubImageKeepsRowOrder(t *testing.T) {
	t.Parallel()
	img := grayImage(4, 4, func(r, c int) byte { return byte(10*r + c) })
	sub := img.SubImage(image.Rect(1, 1, 3, 3))
	f, err := FromImage(sub, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{11, 12, 21, 22}, f.Pix)
}

func TestFromImage_RGBAndLuma(t *testing.T) {
	t.Parallel()
	img := rgbImage(1, 2, color.NRGBA{R: 200, G: 100, B: 50, A: 255})

	f, err := FromImage(img, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{200, 100, 50, 200, 100, 50}, f.Pix)

	g, err := FromImage(img, 1)
	require.NoError(t, err)
	want := color.GrayModel.Convert(color.NRGBA{R: 200, G: 100, B: 50, A: 255}).(color.Gray).Y
	assert.Equal(t, []byte{want, want}, g.Pix)

	_, err = FromImage(img, 2)
	assert.Error(t, err)
}

func TestIsImage(t *testing.T) {
	t.Parallel()
	for _, name := range []string{"a.png", "B.JPG", "c.jpeg", "d.bmp", "e.tif", "f.TIFF", "g.gif"} {
		assert.True(t, IsImage(name), name)
	}
	for _, name := range []string{"a.txt", "png", "frames.json"} {
		assert.False(t, IsImage(name), name)
	}
}

func TestDirSource(t *testing.T) {
	t.Parallel()
	fsys := fsutil.NewMemoryFileSystem()
	for i, v := range []byte{30, 10, 20} {
		writePNG(t, fsys, filepath.Join("/in", []string{"c.png", "a.png", "b.png"}[i]),
			grayImage(3, 4, func(int, int) byte { return v }))
	}
	require.NoError(t, fsys.WriteFile("/in/notes.txt", []byte("skip"), 0644))

	src, err := NewDirSource(fsys, "/in", 1)
	require.NoError(t, err)
	assert.Equal(t, 3, src.Len())
	rows, cols, ch := src.Dims()
	assert.Equal(t, []int{3, 4, 1}, []int{rows, cols, ch})

	ctx := context.Background()
	for _, want := range []byte{10, 20, 30} {
		f, err := src.Next(ctx)
		require.NoError(t, err)
		require.Len(t, f, 12)
		assert.Equal(t, want, f[0])
	}
	_, err = src.Next(ctx)
	assert.True(t, errors.Is(err, io.EOF))
}

func TestDirSource_DecodesBMPAndTIFF(t *testing.T) {
	t.Parallel()
	fsys := fsutil.NewMemoryFileSystem()
	img := rgbImage(2, 2, color.NRGBA{R: 9, G: 8, B: 7, A: 255})

	var b bytes.Buffer
	require.NoError(t, bmp.Encode(&b, img))
	require.NoError(t, fsys.WriteFile("/in/000.bmp", b.Bytes(), 0644))
	b.Reset()
	require.NoError(t, tiff.Encode(&b, img, nil))
	require.NoError(t, fsys.WriteFile("/in/001.tiff", b.Bytes(), 0644))

	src, err := NewDirSource(fsys, "/in", 3)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		f, err := src.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []byte{9, 8, 7, 9, 8, 7, 9, 8, 7, 9, 8, 7}, f, "frame %d", i)
	}
}

func TestDirSource_Errors(t *testing.T) {
	t.Parallel()
	fsys := fsutil.NewMemoryFileSystem()

	_, err := NewDirSource(fsys, "/missing", 1)
	assert.Error(t, err)

	require.NoError(t, fsys.WriteFile("/empty/readme.md", nil, 0644))
	_, err = NewDirSource(fsys, "/empty", 1)
	assert.Error(t, err)

	require.NoError(t, fsys.WriteFile("/bad/a.png", []byte("not a png"), 0644))
	_, err = NewDirSource(fsys, "/bad", 1)
	assert.Error(t, err)

	writePNG(t, fsys, "/mixed/a.png", grayImage(2, 2, func(int, int) byte { return 1 }))
	writePNG(t, fsys, "/mixed/b.png", grayImage(3, 2, func(int, int) byte { return 1 }))
	src, err := NewDirSource(fsys, "/mixed", 1)
	require.NoError(t, err)
	_, err = src.Next(context.Background())
	require.NoError(t, err)
	_, err = src.Next(context.Background())
	assert.True(t, errors.Is(err, ErrDimensions))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Next(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestMaskWriter(t *testing.T) {
	t.Parallel()
	cases := []MaskFormat{FormatPNG, FormatBMP, FormatTIFF}
	for _, format := range cases {
		t.Run(string(format), func(t *testing.T) {
			fsys := fsutil.NewMemoryFileSystem()
			w, err := NewMaskWriter(fsys, "/out", format, 2, 3)
			require.NoError(t, err)
			mask := []byte{0, 255, 0, 255, 255, 0}
			ctx := context.Background()

			require.NoError(t, w.WriteFrame(ctx, pipeline.FrameResult{Index: 0, Learning: true, Mask: make([]byte, 6)}))
			require.NoError(t, w.WriteFrame(ctx, pipeline.FrameResult{Index: 7, Mask: mask}))
			assert.Equal(t, 1, w.Written())

			name := "/out/mask_000007." + string(format)
			assert.Equal(t, []string{name}, fsys.Files("/out/"))
			f, err := DecodeFile(fsys, name, 1)
			require.NoError(t, err)
			assert.Equal(t, mask, f.Pix)
		})
	}
}

func TestMaskWriter_EveryAndErrors(t *testing.T) {
	t.Parallel()
	fsys := fsutil.NewMemoryFileSystem()
	_, err := NewMaskWriter(fsys, "/out", "jpeg2000", 2, 2)
	assert.Error(t, err)

	w, err := NewMaskWriter(fsys, "/out", "", 2, 2)
	require.NoError(t, err)
	w.Every = 3
	for i := 0; i < 7; i++ {
		require.NoError(t, w.WriteFrame(context.Background(), pipeline.FrameResult{Index: i, Mask: make([]byte, 4)}))
	}
	assert.Equal(t, 3, w.Written())

	err = w.WriteFrame(context.Background(), pipeline.FrameResult{Index: 9, Mask: make([]byte, 3)})
	assert.True(t, errors.Is(err, ErrDimensions))
}

func TestWatchSource(t *testing.T) {
	t.Parallel()
	watched := t.TempDir()
	staging := t.TempDir()

	src, err := NewWatchSource(watched, 2, 2, 1)
	require.NoError(t, err)
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, os.WriteFile(filepath.Join(watched, "ignored.txt"), []byte("x"), 0644))
	staged := filepath.Join(staging, "f.png")
	writePNG(t, fsutil.OSFileSystem{}, staged, grayImage(2, 2, func(r, c int) byte { return byte(r*2 + c) }))
	require.NoError(t, os.Rename(staged, filepath.Join(watched, "f.png")))

	f, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2, 3}, f)

	require.NoError(t, src.Close())
	_, err = src.Next(ctx)
	assert.True(t, errors.Is(err, io.EOF))
}

type errSource struct{ err error }

func (s errSource) Next(context.Context) ([]byte, error) { return nil, s.err }

func TestChain(t *testing.T) {
	t.Parallel()
	fsys := fsutil.NewMemoryFileSystem()
	writePNG(t, fsys, "/a/0.png", grayImage(2, 2, func(int, int) byte { return 1 }))
	writePNG(t, fsys, "/b/0.png", grayImage(2, 2, func(int, int) byte { return 2 }))
	writePNG(t, fsys, "/b/1.png", grayImage(2, 2, func(int, int) byte { return 3 }))
	a, err := NewDirSource(fsys, "/a", 1)
	require.NoError(t, err)
	b, err := NewDirSource(fsys, "/b", 1)
	require.NoError(t, err)

	ctx := context.Background()
	src := Chain(a, b)
	var got []byte
	for {
		f, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, f[0])
	}
	assert.Equal(t, []byte{1, 2, 3}, got)

	boom := errors.New("boom")
	_, err = Chain(errSource{io.EOF}, errSource{boom}).Next(ctx)
	assert.ErrorIs(t, err, boom)
	_, err = Chain().Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestWatchSource_AfterSkipsReplayedFrames(t *testing.T) {
	t.Parallel()
	watched := t.TempDir()
	staging := t.TempDir()
	put := func(name string, v byte) {
		staged := filepath.Join(staging, name)
		writePNG(t, fsutil.OSFileSystem{}, staged, grayImage(2, 2, func(int, int) byte { return v }))
		require.NoError(t, os.Rename(staged, filepath.Join(watched, name)))
	}

	put("a.png", 1)
	w, err := NewWatchSource(watched, 0, 0, 1)
	require.NoError(t, err)
	defer w.Close()
	// b arrives after the watch starts but before the listing: it is both
	// listed and reported by the watcher.
	put("b.png", 2)
	dir, err := NewDirSource(fsutil.OSFileSystem{}, watched, 1)
	require.NoError(t, err)
	require.Equal(t, 2, dir.Len())
	src := w.After(dir)
	put("c.png", 3)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var got []byte
	for i := 0; i < 3; i++ {
		f, err := src.Next(ctx)
		require.NoError(t, err)
		got = append(got, f[0])
	}
	assert.Equal(t, []byte{1, 2, 3}, got)

	short, cancelShort := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancelShort()
	_, err = src.Next(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "b must not be yielded twice")
}
