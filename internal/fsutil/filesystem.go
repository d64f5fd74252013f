// Package fsutil provides the filesystem abstraction used for frame input
// and mask output, so both can be exercised in memory by tests.
package fsutil

import (
	"bytes"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FileSystem is the subset of file operations the frame readers and
// writers need.
type FileSystem interface {
	Open(name string) (fs.File, error)
	// ReadDir lists the entries directly under dir, sorted by name.
	ReadDir(dir string) ([]fs.DirEntry, error)
	// Create truncates or creates name. Parent directories must exist on
	// disk; the in-memory implementation does not check.
	Create(name string) (io.WriteCloser, error)
	WriteFile(name string, data []byte, perm os.FileMode) error
	MkdirAll(path string, perm os.FileMode) error
}

// OSFileSystem implements FileSystem on the os package.
type OSFileSystem struct{}

func (OSFileSystem) Open(name string) (fs.File, error)          { return os.Open(name) }
func (OSFileSystem) ReadDir(dir string) ([]fs.DirEntry, error)  { return os.ReadDir(dir) }
func (OSFileSystem) Create(name string) (io.WriteCloser, error) { return os.Create(name) }

func (OSFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (OSFileSystem) WriteFile(name string, data []byte, perm os.FileMode) error {
	return os.WriteFile(name, data, perm)
}

// MemoryFileSystem keeps files and directories in maps keyed by cleaned
// path. A directory exists if it was made with MkdirAll or holds a file.
type MemoryFileSystem struct {
	mu    sync.RWMutex
	files map[string][]byte
	dirs  map[string]bool
}

// NewMemoryFileSystem returns an empty filesystem.
func NewMemoryFileSystem() *MemoryFileSystem {
	return &MemoryFileSystem{files: map[string][]byte{}, dirs: map[string]bool{}}
}

func (m *MemoryFileSystem) Open(name string) (fs.File, error) {
	name = filepath.Clean(name)
	m.mu.RLock()
	data, ok := m.files[name]
	m.mu.RUnlock()
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return &memFile{Reader: bytes.NewReader(data), info: fileInfo(name, len(data))}, nil
}

func (m *MemoryFileSystem) ReadDir(dir string) ([]fs.DirEntry, error) {
	dir = filepath.Clean(dir)
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []fs.DirEntry
	for name, data := range m.files {
		if filepath.Dir(name) == dir {
			out = append(out, fs.FileInfoToDirEntry(fileInfo(name, len(data))))
		}
	}
	for name := range m.dirs {
		if name != dir && filepath.Dir(name) == dir {
			out = append(out, fs.FileInfoToDirEntry(&memInfo{name: filepath.Base(name), dir: true}))
		}
	}
	if len(out) == 0 && !m.dirs[dir] {
		return nil, &fs.PathError{Op: "readdir", Path: dir, Err: fs.ErrNotExist}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out, nil
}

// Create returns a writer whose contents replace name on Close.
func (m *MemoryFileSystem) Create(name string) (io.WriteCloser, error) {
	name = filepath.Clean(name)
	m.put(name, nil)
	return &memWriter{fs: m, name: name}, nil
}

// WriteFile stores a copy of data.
func (m *MemoryFileSystem) WriteFile(name string, data []byte, _ os.FileMode) error {
	m.put(filepath.Clean(name), bytes.Clone(data))
	return nil
}

func (m *MemoryFileSystem) MkdirAll(path string, _ os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for p := filepath.Clean(path); p != "." && p != "/"; p = filepath.Dir(p) {
		m.dirs[p] = true
	}
	return nil
}

// Files returns the sorted names of the stored files starting with prefix.
func (m *MemoryFileSystem) Files(prefix string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for name := range m.files {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (m *MemoryFileSystem) put(name string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if data == nil {
		data = []byte{}
	}
	m.files[name] = data
}

type memFile struct {
	*bytes.Reader
	info *memInfo
}

func (f *memFile) Stat() (fs.FileInfo, error) { return f.info, nil }
func (f *memFile) Close() error               { return nil }

type memWriter struct {
	bytes.Buffer
	fs   *MemoryFileSystem
	name string
}

func (w *memWriter) Close() error {
	w.fs.put(w.name, bytes.Clone(w.Bytes()))
	return nil
}

// memInfo implements fs.FileInfo for both files and directories.
type memInfo struct {
	name string
	size int64
	dir  bool
}

func fileInfo(path string, size int) *memInfo {
	return &memInfo{name: filepath.Base(path), size: int64(size)}
}

func (i *memInfo) Name() string       { return i.name }
func (i *memInfo) Size() int64        { return i.size }
func (i *memInfo) ModTime() time.Time { return time.Time{} }
func (i *memInfo) IsDir() bool        { return i.dir }
func (i *memInfo) Sys() any           { return nil }

func (i *memInfo) Mode() fs.FileMode {
	if i.dir {
		return fs.ModeDir | 0755
	}
	return 0644
}
