package catalog

import (
	"errors"
	"io"
	"io/fs"
	"path"
	"time"

	"torrent2http/internal/domain"
)

var errIsDirectory = errors.New("is a directory")

// Dir is the root listing of the catalog. It satisfies http.File so the
// catalog can be mounted as an http.FileSystem.
type Dir struct {
	files  []domain.FileProgress
	offset int
}

func newDir(files []domain.FileProgress) *Dir {
	return &Dir{files: files}
}

// Entries returns every file with its progress.
func (d *Dir) Entries() []domain.FileProgress {
	return append([]domain.FileProgress(nil), d.files...)
}

func (d *Dir) Readdir(count int) ([]fs.FileInfo, error) {
	if d.offset >= len(d.files) && count > 0 {
		return nil, io.EOF
	}
	end := len(d.files)
	if count > 0 && d.offset+count < end {
		end = d.offset + count
	}
	out := make([]fs.FileInfo, 0, end-d.offset)
	for _, f := range d.files[d.offset:end] {
		out = append(out, fileInfo{name: f.Path, size: f.Size, modTime: f.ModTime})
	}
	d.offset = end
	return out, nil
}

func (d *Dir) Stat() (fs.FileInfo, error) {
	return fileInfo{name: "/", dir: true}, nil
}

func (d *Dir) Read([]byte) (int, error)       { return 0, errIsDirectory }
func (d *Dir) Seek(int64, int) (int64, error) { return 0, errIsDirectory }
func (d *Dir) Close() error                   { return nil }

type fileInfo struct {
	name    string
	size    int64
	modTime time.Time
	dir     bool
}

func (fi fileInfo) Name() string       { return path.Clean(fi.name) }
func (fi fileInfo) Size() int64        { return fi.size }
func (fi fileInfo) ModTime() time.Time { return fi.modTime }
func (fi fileInfo) IsDir() bool        { return fi.dir }
func (fi fileInfo) Sys() any           { return nil }

func (fi fileInfo) Mode() fs.FileMode {
	if fi.dir {
		return fs.ModeDir | 0o555
	}
	return 0o444
}
