// Package fileset models the user supplied files a workflow operates on.
package fileset

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// File is a named blob with its path relative to the upload root's parent,
// for example "collection/3/a.png".
type File struct {
	Name string
	Path string
	Size int64

	open func() (io.ReadCloser, error)
}

// FromBytes wraps an in-memory payload as a File.
func FromBytes(relPath string, data []byte) *File {
	buf := append([]byte(nil), data...)
	return &File{
		Name: path.Base(relPath),
		Path: relPath,
		Size: int64(len(buf)),
		open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(buf)), nil
		},
	}
}

// FromDisk references a file on disk without reading it.
func FromDisk(relPath, diskPath string, size int64) *File {
	return &File{
		Name: path.Base(relPath),
		Path: relPath,
		Size: size,
		open: func() (io.ReadCloser, error) {
			return os.Open(diskPath)
		},
	}
}

// Open returns a reader over the file contents.
func (f *File) Open() (io.ReadCloser, error) {
	if f == nil || f.open == nil {
		return nil, fmt.Errorf("fileset: file has no content source")
	}
	return f.open()
}

// ReadAll loads the full file contents.
func (f *File) ReadAll() ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Ext returns the file extension without the leading dot.
func (f *File) Ext() string {
	return strings.TrimPrefix(path.Ext(f.Name), ".")
}

// Set is an ordered collection of files.
type Set []*File

// Get returns the first file with the given name.
func (s Set) Get(name string) (*File, bool) {
	for _, f := range s {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// Has reports whether a file with the given name exists.
func (s Set) Has(name string) bool {
	_, ok := s.Get(name)
	return ok
}

// Names lists every file name in the set.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for _, f := range s {
		names = append(names, f.Name)
	}
	return names
}

// IsHidden reports whether any segment of a slash separated path starts with a dot.
func IsHidden(relPath string) bool {
	for _, segment := range strings.Split(relPath, "/") {
		if strings.HasPrefix(segment, ".") && segment != "." && segment != ".." {
			return true
		}
	}
	return false
}

// LoadDir walks root and returns every non-hidden regular file. Paths are
// slash separated and prefixed with root's base name so that a directory
// upload of "collection" yields "collection/3/a.png".
func LoadDir(root string) (Set, error) {
	root = filepath.Clean(root)
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("fileset: stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("fileset: %s is not a directory", root)
	}
	base := filepath.Base(root)

	var set Set
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if p == root {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		set = append(set, FromDisk(path.Join(base, filepath.ToSlash(rel)), p, fi.Size()))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fileset: walk %s: %w", root, err)
	}
	sort.SliceStable(set, func(i, j int) bool { return set[i].Path < set[j].Path })
	return set, nil
}
