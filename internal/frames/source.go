package frames

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/banshee-data/bgsub/internal/fsutil"
	"github.com/banshee-data/bgsub/internal/pipeline"
)

// DirSource replays the images of one directory in file name order.
type DirSource struct {
	fs       fsutil.FileSystem
	files    []string
	next     int
	channels int

	rows, cols int
	first      *Frame
}

// NewDirSource lists dir and decodes its first image to fix the stream
// dimensions. Files without an image extension and subdirectories are
// skipped.
func NewDirSource(fsys fsutil.FileSystem, dir string, channels int) (*DirSource, error) {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list frames: %w", err)
	}
	s := &DirSource{fs: fsys, channels: channels}
	for _, e := range entries {
		if e.IsDir() || !IsImage(e.Name()) {
			continue
		}
		s.files = append(s.files, filepath.Join(dir, e.Name()))
	}
	if len(s.files) == 0 {
		return nil, fmt.Errorf("no images in %s", dir)
	}

	f, err := DecodeFile(fsys, s.files[0], channels)
	if err != nil {
		return nil, err
	}
	s.rows, s.cols = f.Rows, f.Cols
	s.first = &f
	return s, nil
}

// Dims returns the stream dimensions taken from the first image.
func (s *DirSource) Dims() (rows, cols, channels int) { return s.rows, s.cols, s.channels }

// Len is the number of images in the stream.
func (s *DirSource) Len() int { return len(s.files) }

// Next returns the next frame, or io.EOF after the last image. An image of
// a different size than the first fails with ErrDimensions.
func (s *DirSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.next >= len(s.files) {
		return nil, io.EOF
	}
	path := s.files[s.next]
	s.next++

	if s.first != nil {
		f := s.first
		s.first = nil
		return f.Pix, nil
	}
	f, err := DecodeFile(s.fs, path, s.channels)
	if err != nil {
		return nil, err
	}
	if f.Rows != s.rows || f.Cols != s.cols {
		return nil, fmt.Errorf("%w: %s is %dx%d, stream is %dx%d", ErrDimensions, path, f.Cols, f.Rows, s.cols, s.rows)
	}
	return f.Pix, nil
}

// WatchSource yields images as they appear in a directory. Producers should
// write each frame elsewhere and rename it into the watched directory so
// that it is complete when the create event fires.
type WatchSource struct {
	watcher  *fsnotify.Watcher
	channels int
	rows     int
	cols     int
	replayed map[string]bool
}

// NewWatchSource starts watching dir. rows and cols fix the expected frame
// size; Close releases the watcher.
func NewWatchSource(dir string, rows, cols, channels int) (*WatchSource, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return &WatchSource{watcher: w, channels: channels, rows: rows, cols: cols, replayed: map[string]bool{}}, nil
}

// After replays d and then follows the directory, adopting d's dimensions.
// Start the watch before listing the directory: a frame arriving between
// the two is then listed, watched or both, and create events for files d
// already yields are dropped.
func (s *WatchSource) After(d *DirSource) pipeline.Source {
	s.rows, s.cols = d.rows, d.cols
	for _, f := range d.files {
		s.replayed[filepath.Clean(f)] = true
	}
	return Chain(d, s)
}

// Next blocks until a new image arrives, the watcher closes (io.EOF) or ctx
// is done.
func (s *WatchSource) Next(ctx context.Context) ([]byte, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("watch: %w", err)
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return nil, io.EOF
			}
			if !ev.Has(fsnotify.Create) || !IsImage(ev.Name) {
				continue
			}
			if name := filepath.Clean(ev.Name); s.replayed[name] {
				delete(s.replayed, name)
				continue
			}
			f, err := DecodeFile(fsutil.OSFileSystem{}, ev.Name, s.channels)
			if err != nil {
				return nil, err
			}
			if f.Rows != s.rows || f.Cols != s.cols {
				return nil, fmt.Errorf("%w: %s is %dx%d, stream is %dx%d", ErrDimensions, ev.Name, f.Cols, f.Rows, s.cols, s.rows)
			}
			return f.Pix, nil
		}
	}
}

// Close stops the watcher; a blocked Next returns io.EOF.
func (s *WatchSource) Close() error { return s.watcher.Close() }

type chainSource struct {
	srcs []pipeline.Source
}

// Chain yields every frame of each source in turn, moving on when one
// returns io.EOF.
func Chain(srcs ...pipeline.Source) pipeline.Source {
	return &chainSource{srcs: srcs}
}

func (c *chainSource) Next(ctx context.Context) ([]byte, error) {
	for len(c.srcs) > 0 {
		frame, err := c.srcs[0].Next(ctx)
		if errors.Is(err, io.EOF) {
			c.srcs = c.srcs[1:]
			continue
		}
		return frame, err
	}
	return nil, io.EOF
}
