package filesys

import (
	"errors"
	"sync"

	"github.com/tinyoslab/tinyfs/internal/block"
	"github.com/tinyoslab/tinyfs/internal/cache"
	"github.com/tinyoslab/tinyfs/internal/directory"
	"github.com/tinyoslab/tinyfs/internal/domain"
	"github.com/tinyoslab/tinyfs/internal/freemap"
	"github.com/tinyoslab/tinyfs/internal/inode"
	"github.com/tinyoslab/tinyfs/internal/logger"
)

// Entries the root directory is provisioned for at format time. Every
// directory grows past its initial capacity on demand.
const rootEntryCount = 100

// FS is the mounted filesystem. One coarse mutex serialises every entry
// point except Chdir, which touches only per-process state; the cache's
// per-line discipline then gives directory operations full atomicity.
type FS struct {
	mu    sync.Mutex
	dev   block.Device
	cache *cache.Cache
	fm    *freemap.FreeMap
	ino   *inode.Service
	dir   *directory.Service

	closeOnce sync.Once
	closeErr  error
}

// Mount brings up the filesystem on dev, formatting it first when asked.
// Formatting writes a fresh free map and the root directory; mounting
// (re-)inserts root's "." and ".." entries, both pointing at root itself.
func Mount(dev block.Device, format bool) (*FS, error) {
	if dev == nil {
		panic("filesys: no block device")
	}
	c := cache.New()
	fs := &FS{dev: dev, cache: c}

	var err error
	if format {
		logger.Info("formatting filesystem on %d-sector device", dev.Size())
		if fs.fm, err = freemap.Create(dev, c); err != nil {
			c.Close()
			return nil, err
		}
	} else {
		if fs.fm, err = freemap.Open(dev, c); err != nil {
			c.Close()
			return nil, err
		}
	}

	fs.ino = inode.NewService(dev, c, fs.fm)
	fs.dir = directory.NewService(fs.ino)

	if format {
		if err := fs.dir.Create(domain.RootDirSector, rootEntryCount); err != nil {
			c.Close()
			panic("filesys: root directory creation failed: " + err.Error())
		}
	}

	root, err := fs.dir.OpenRoot()
	if err != nil {
		c.Close()
		return nil, err
	}
	rootSector := root.Inode().Inumber()
	for _, name := range []string{".", ".."} {
		if err := root.Add(name, rootSector); err != nil && !errors.Is(err, domain.ErrExists) {
			root.Close()
			c.Close()
			return nil, err
		}
	}
	root.Close()
	return fs, nil
}

// Close persists the free map and then flushes the cache, stopping its
// background workers. Safe to call more than once.
func (fs *FS) Close() error {
	fs.closeOnce.Do(func() {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		if err := fs.fm.Close(); err != nil {
			fs.closeErr = err
			return
		}
		fs.closeErr = fs.cache.Close()
	})
	return fs.closeErr
}

// Create makes a file of the given initial size at path.
func (fs *FS) Create(p *Process, path string, initialSize uint32) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parent, name, err := fs.findDir(p, path)
	if err != nil {
		return err
	}
	dir := fs.dir.Open(parent)
	defer dir.Close()

	sector, err := fs.fm.Allocate(1)
	if err != nil {
		return err
	}
	if err := fs.ino.Create(sector, initialSize, false); err != nil {
		fs.fm.Release(sector, 1)
		return err
	}
	if err := dir.Add(name, sector); err != nil {
		fs.fm.Release(sector, 1)
		return err
	}
	return nil
}

// Mkdir makes a directory at path with "." and ".." entries and its
// parent recorded in the new inode.
func (fs *FS) Mkdir(p *Process, path string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parent, name, err := fs.findDir(p, path)
	if err != nil {
		return err
	}
	dir := fs.dir.Open(parent)
	defer dir.Close()

	if name == "" {
		return domain.ErrInvalidName
	}

	sector, err := fs.fm.Allocate(1)
	if err != nil {
		return err
	}
	if err := fs.dir.Create(sector, 0); err != nil {
		fs.fm.Release(sector, 1)
		return err
	}
	if err := dir.Add(name, sector); err != nil {
		fs.fm.Release(sector, 1)
		return err
	}

	in, err := fs.ino.Open(sector)
	if err != nil {
		return err
	}
	sub := fs.dir.Open(in)
	defer sub.Close()
	if err := sub.Add(".", sector); err != nil {
		return err
	}
	if err := sub.Add("..", dir.Inode().Inumber()); err != nil {
		return err
	}
	return fs.ino.SetParent(dir.Inode().Inumber(), sector)
}

// Open opens the file or directory at path and returns its descriptor.
func (fs *FS) Open(p *Process, path string) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parent, name, err := fs.findDir(p, path)
	if err != nil {
		return -1, err
	}
	dir := fs.dir.Open(parent)
	in, err := dir.Lookup(name)
	dir.Close()
	if err != nil {
		return -1, err
	}

	h := &Handle{}
	if in.IsDir() {
		h.dir = fs.dir.Open(in)
	} else {
		h.file = in
	}
	fd := p.nextFD
	p.nextFD++
	p.files[fd] = h
	return fd, nil
}

// Remove unlinks the file or directory at path. A file disappears from
// the namespace immediately and its storage is reclaimed on the last
// close. A directory must be empty and not held open anywhere — not even
// as some process's working directory.
func (fs *FS) Remove(p *Process, path string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parent, name, err := fs.findDir(p, path)
	if err != nil {
		return err
	}
	dir := fs.dir.Open(parent)
	defer dir.Close()

	in, err := dir.Lookup(name)
	if err != nil {
		return err
	}

	if in.IsDir() {
		sub := fs.dir.Open(in)
		defer sub.Close()
		if !sub.IsEmpty() {
			return domain.ErrNotEmpty
		}
		// Our lookup holds the only tolerated reference; anything above
		// that is an open handle or a working directory somewhere.
		if in.OpenCount() > 1 {
			return domain.ErrInUse
		}
		return dir.Remove(name)
	}

	in.Close()
	return dir.Remove(name)
}

// Chdir switches the calling process's working directory. It runs outside
// the filesystem lock: the only state it replaces is per-process.
func (fs *FS) Chdir(p *Process, path string) error {
	parent, name, err := fs.findDir(p, path)
	if err != nil {
		return err
	}
	dir := fs.dir.Open(parent)
	in, err := dir.Lookup(name)
	dir.Close()
	if err != nil {
		return err
	}
	if !in.IsDir() {
		in.Close()
		return domain.ErrNotDirectory
	}
	p.cwd.Close()
	p.cwd = fs.dir.Open(in)
	return nil
}

// Filesize reports the byte length of the open file or directory.
func (fs *FS) Filesize(p *Process, fd int) (uint32, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	h, err := p.handle(fd)
	if err != nil {
		return 0, err
	}
	return h.inode().Length(), nil
}

// Read reads up to n bytes from the descriptor's current offset. A short
// or empty result at end of file is not an error.
func (fs *FS) Read(p *Process, fd int, n int) ([]byte, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	h, err := p.handle(fd)
	if err != nil {
		return nil, err
	}
	if h.IsDir() {
		return nil, domain.ErrIsDirectory
	}
	buf := make([]byte, n)
	r, err := h.file.ReadAt(buf, h.off)
	if err != nil {
		return nil, err
	}
	h.off += uint32(r)
	return buf[:r], nil
}

// Write writes data at the descriptor's current offset, growing the file
// as needed. Returns the byte count actually written; zero when writes
// are denied on the inode.
func (fs *FS) Write(p *Process, fd int, data []byte) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	h, err := p.handle(fd)
	if err != nil {
		return 0, err
	}
	if h.IsDir() {
		return 0, domain.ErrIsDirectory
	}
	w, err := h.file.WriteAt(data, h.off)
	if err != nil {
		return 0, err
	}
	h.off += uint32(w)
	return w, nil
}

// Seek moves the descriptor's offset. Seeking past end of file is legal;
// a later write there grows the file and the gap reads back as zeros.
func (fs *FS) Seek(p *Process, fd int, pos uint32) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	h, err := p.handle(fd)
	if err != nil {
		return err
	}
	if h.IsDir() {
		return domain.ErrIsDirectory
	}
	h.off = pos
	return nil
}

// Tell reports the descriptor's current offset.
func (fs *FS) Tell(p *Process, fd int) (uint32, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	h, err := p.handle(fd)
	if err != nil {
		return 0, err
	}
	if h.IsDir() {
		return 0, domain.ErrIsDirectory
	}
	return h.off, nil
}

// CloseFD closes one descriptor.
func (fs *FS) CloseFD(p *Process, fd int) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	h, err := p.handle(fd)
	if err != nil {
		return err
	}
	h.close()
	delete(p.files, fd)
	return nil
}

// ReadDir returns the next entry name of an open directory, skipping "."
// and "..". ok is false once the directory is exhausted.
func (fs *FS) ReadDir(p *Process, fd int) (name string, ok bool, err error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	h, err := p.handle(fd)
	if err != nil {
		return "", false, err
	}
	if !h.IsDir() {
		return "", false, domain.ErrNotDirectory
	}
	name, ok = h.dir.ReadDir()
	return name, ok, nil
}

// IsDir reports whether the descriptor is a directory.
func (fs *FS) IsDir(p *Process, fd int) (bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	h, err := p.handle(fd)
	if err != nil {
		return false, err
	}
	return h.IsDir(), nil
}

// Inumber reports the inode number (its sector) behind the descriptor.
func (fs *FS) Inumber(p *Process, fd int) (domain.SectorNum, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	h, err := p.handle(fd)
	if err != nil {
		return 0, err
	}
	return h.inode().Inumber(), nil
}

// FreeSectors reports how many sectors the free map still has available.
func (fs *FS) FreeSectors() int {
	return fs.fm.CountFree()
}
