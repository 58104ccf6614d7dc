package vfs

import (
	"io"
	"os"
	"path"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/afero"

	"vmmfs/vmm"
)

// FS returns a read-only afero view of the bridge tree so hosts can mount
// it or compose it with other filesystems. Writes go through Bridge.Write
// directly, not through this view.
func (b *Bridge) FS() afero.Fs {
	return &aferoFS{b: b}
}

type aferoFS struct {
	b *Bridge
}

func readOnlyErr(op, name string) error {
	return &os.PathError{Op: op, Path: name, Err: syscall.EPERM}
}

func (a *aferoFS) Name() string { return "vmmfs" }

func (a *aferoFS) Create(name string) (afero.File, error) {
	return nil, readOnlyErr("create", name)
}
func (a *aferoFS) Mkdir(name string, perm os.FileMode) error   { return readOnlyErr("mkdir", name) }
func (a *aferoFS) MkdirAll(p string, perm os.FileMode) error   { return readOnlyErr("mkdir", p) }
func (a *aferoFS) Remove(name string) error                    { return readOnlyErr("remove", name) }
func (a *aferoFS) RemoveAll(p string) error                    { return readOnlyErr("remove", p) }
func (a *aferoFS) Rename(oldname, newname string) error        { return readOnlyErr("rename", oldname) }
func (a *aferoFS) Chmod(name string, mode os.FileMode) error   { return readOnlyErr("chmod", name) }
func (a *aferoFS) Chown(name string, uid, gid int) error       { return readOnlyErr("chown", name) }
func (a *aferoFS) Chtimes(name string, at, mt time.Time) error { return readOnlyErr("chtimes", name) }

func (a *aferoFS) Stat(name string) (os.FileInfo, error) {
	e, err := a.b.Stat(name)
	if err != nil {
		return nil, &os.PathError{Op: "stat", Path: name, Err: err}
	}
	return fileInfo{e}, nil
}

func (a *aferoFS) Open(name string) (afero.File, error) {
	e, err := a.b.Stat(name)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: name, Err: err}
	}
	return &bridgeFile{fs: a, path: path.Clean("/" + name), entry: e}, nil
}

func (a *aferoFS) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0 {
		return nil, readOnlyErr("open", name)
	}
	return a.Open(name)
}

type fileInfo struct {
	e vmm.VfsEntry
}

func (fi fileInfo) Name() string { return fi.e.Name }
func (fi fileInfo) Size() int64  { return int64(fi.e.Size) }
func (fi fileInfo) Mode() os.FileMode {
	if fi.e.IsDir {
		return os.ModeDir | 0o555
	}
	return 0o444
}
func (fi fileInfo) ModTime() time.Time { return time.Time{} }
func (fi fileInfo) IsDir() bool        { return fi.e.IsDir }
func (fi fileInfo) Sys() any           { return nil }

// bridgeFile adapts one tree node to the afero.File surface. Reads dispatch
// through the bridge on every call; nothing is buffered beyond the cached
// directory listing used by Readdir pagination.
type bridgeFile struct {
	fs    *aferoFS
	path  string
	entry vmm.VfsEntry

	mu     sync.Mutex
	off    int64
	ents   []vmm.VfsEntry
	listed bool
	dirPos int
}

func (f *bridgeFile) Name() string               { return f.path }
func (f *bridgeFile) Close() error               { return nil }
func (f *bridgeFile) Sync() error                { return nil }
func (f *bridgeFile) Stat() (os.FileInfo, error) { return fileInfo{f.entry}, nil }

func (f *bridgeFile) readAt(p []byte, off int64) (int, error) {
	if f.entry.IsDir {
		return 0, &os.PathError{Op: "read", Path: f.path, Err: syscall.EISDIR}
	}
	if off < 0 {
		return 0, &os.PathError{Op: "read", Path: f.path, Err: os.ErrInvalid}
	}
	data, err := f.fs.b.Read(f.path, len(p), uint64(off))
	if err != nil {
		return 0, err
	}
	n := copy(p, data)
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (f *bridgeFile) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.readAt(p, f.off)
	f.off += int64(n)
	return n, err
}

func (f *bridgeFile) ReadAt(p []byte, off int64) (int, error) {
	return f.readAt(p, off)
}

func (f *bridgeFile) Seek(offset int64, whence int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch whence {
	case io.SeekStart:
		f.off = offset
	case io.SeekCurrent:
		f.off += offset
	case io.SeekEnd:
		f.off = int64(f.entry.Size) + offset
	default:
		return 0, os.ErrInvalid
	}
	if f.off < 0 {
		f.off = 0
		return 0, os.ErrInvalid
	}
	return f.off, nil
}

func (f *bridgeFile) Write(p []byte) (int, error)              { return 0, readOnlyErr("write", f.path) }
func (f *bridgeFile) WriteAt(p []byte, off int64) (int, error) { return 0, readOnlyErr("write", f.path) }
func (f *bridgeFile) WriteString(s string) (int, error)        { return 0, readOnlyErr("write", f.path) }
func (f *bridgeFile) Truncate(size int64) error                { return readOnlyErr("truncate", f.path) }

func (f *bridgeFile) Readdir(count int) ([]os.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.entry.IsDir {
		return nil, &os.PathError{Op: "readdir", Path: f.path, Err: syscall.ENOTDIR}
	}
	if !f.listed {
		ents, err := f.fs.b.List(f.path)
		if err != nil {
			return nil, err
		}
		f.ents = ents
		f.listed = true
	}
	if count <= 0 {
		out := make([]os.FileInfo, 0, len(f.ents)-f.dirPos)
		for _, e := range f.ents[f.dirPos:] {
			out = append(out, fileInfo{e})
		}
		f.dirPos = len(f.ents)
		return out, nil
	}
	if f.dirPos >= len(f.ents) {
		return nil, io.EOF
	}
	end := f.dirPos + count
	if end > len(f.ents) {
		end = len(f.ents)
	}
	out := make([]os.FileInfo, 0, end-f.dirPos)
	for _, e := range f.ents[f.dirPos:end] {
		out = append(out, fileInfo{e})
	}
	f.dirPos = end
	return out, nil
}

func (f *bridgeFile) Readdirnames(n int) ([]string, error) {
	infos, err := f.Readdir(n)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(infos))
	for _, fi := range infos {
		names = append(names, fi.Name())
	}
	return names, nil
}
