package filesys

import (
	"github.com/tinyoslab/tinyfs/internal/directory"
	"github.com/tinyoslab/tinyfs/internal/domain"
	"github.com/tinyoslab/tinyfs/internal/inode"
)

// Descriptors 0 and 1 belong to the console and are never backed by
// inodes; numbering starts past them.
const firstFD = 2

// Process carries the per-process filesystem state: a working directory,
// the open descriptor table, and the next descriptor to hand out.
type Process struct {
	fs     *FS
	cwd    *directory.Dir
	files  map[int]*Handle
	nextFD int
}

// Handle is an open descriptor: either a file with a byte offset or a
// directory with a readdir cursor, discriminated explicitly rather than
// by reinterpreting one as the other.
type Handle struct {
	file *inode.Inode   // files
	dir  *directory.Dir // directories; owns its inode
	off  uint32
}

func (h *Handle) IsDir() bool {
	return h.dir != nil
}

func (h *Handle) inode() *inode.Inode {
	if h.dir != nil {
		return h.dir.Inode()
	}
	return h.file
}

func (h *Handle) close() {
	if h.dir != nil {
		h.dir.Close()
	} else {
		h.file.Close()
	}
}

// NewProcess creates a process rooted at /.
func (fs *FS) NewProcess() (*Process, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	cwd, err := fs.dir.OpenRoot()
	if err != nil {
		return nil, err
	}
	return &Process{
		fs:     fs,
		cwd:    cwd,
		files:  make(map[int]*Handle),
		nextFD: firstFD,
	}, nil
}

// Release closes every open descriptor and the working directory, as
// process exit does.
func (p *Process) Release() {
	p.fs.mu.Lock()
	defer p.fs.mu.Unlock()
	for fd, h := range p.files {
		h.close()
		delete(p.files, fd)
	}
	p.cwd.Close()
	p.cwd = nil
}

func (p *Process) handle(fd int) (*Handle, error) {
	h, ok := p.files[fd]
	if !ok {
		return nil, domain.ErrBadFD
	}
	return h, nil
}
