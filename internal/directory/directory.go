package directory

import (
	"bytes"
	"encoding/binary"

	"github.com/tinyoslab/tinyfs/internal/domain"
	"github.com/tinyoslab/tinyfs/internal/inode"
)

// EntrySize is the fixed on-disk size of one directory entry:
// inode sector, null-terminated name, in-use flag.
const EntrySize = 20

// Entry is a single directory entry. A directory's data region is a dense
// array of these.
type Entry struct {
	Sector domain.SectorNum
	Name   string
	InUse  bool
}

func (e *Entry) encode(buf []byte) {
	for i := range buf[:EntrySize] {
		buf[i] = 0
	}
	binary.LittleEndian.PutUint32(buf[0:4], uint32(e.Sector))
	copy(buf[4:4+domain.NameMax], e.Name)
	if e.InUse {
		buf[EntrySize-1] = 1
	}
}

func (e *Entry) decode(buf []byte) {
	e.Sector = domain.SectorNum(binary.LittleEndian.Uint32(buf[0:4]))
	name := buf[4 : 4+domain.NameMax+1]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	e.Name = string(name)
	e.InUse = buf[EntrySize-1] != 0
}

// Service layers directories over the inode service.
type Service struct {
	ino *inode.Service
}

func NewService(ino *inode.Service) *Service {
	return &Service{ino: ino}
}

// Create provisions the inode for a directory with room for entryCnt
// entries at the given sector. The caller inserts "." and ".." afterwards.
func (s *Service) Create(sector domain.SectorNum, entryCnt uint32) error {
	return s.ino.Create(sector, entryCnt*EntrySize, true)
}

// Dir is an open directory handle: an owned inode plus a cursor for
// sequential reads.
type Dir struct {
	svc   *Service
	inode *inode.Inode
	pos   uint32
}

// Open wraps an inode in a directory handle, taking ownership of it.
// The cursor starts past the "." and ".." slots.
func (s *Service) Open(in *inode.Inode) *Dir {
	if in == nil {
		return nil
	}
	return &Dir{svc: s, inode: in, pos: 2 * EntrySize}
}

// OpenRoot opens the root directory.
func (s *Service) OpenRoot() (*Dir, error) {
	in, err := s.ino.Open(domain.RootDirSector)
	if err != nil {
		return nil, err
	}
	return s.Open(in), nil
}

// Reopen returns a fresh handle over the same inode with its own cursor.
func (d *Dir) Reopen() *Dir {
	return d.svc.Open(d.inode.Reopen())
}

func (d *Dir) Close() {
	if d != nil {
		d.inode.Close()
	}
}

func (d *Dir) Inode() *inode.Inode {
	return d.inode
}

// lookup scans for an in-use entry with the given name and reports its
// byte offset.
func (d *Dir) lookup(name string) (Entry, uint32, bool) {
	var buf [EntrySize]byte
	var e Entry
	for ofs := uint32(0); ; ofs += EntrySize {
		n, err := d.inode.ReadAt(buf[:], ofs)
		if err != nil || n < EntrySize {
			return Entry{}, 0, false
		}
		e.decode(buf[:])
		if e.InUse && e.Name == name {
			return e, ofs, true
		}
	}
}

// Lookup opens and returns the inode named name. The caller closes it.
func (d *Dir) Lookup(name string) (*inode.Inode, error) {
	e, _, ok := d.lookup(name)
	if !ok {
		return nil, domain.ErrNotFound
	}
	return d.svc.ino.Open(e.Sector)
}

// Add links the inode at sector under name, reusing the first free slot
// or appending past the end (the backing inode grows on demand). Names
// are non-empty, at most NameMax bytes, and unique per directory.
func (d *Dir) Add(name string, sector domain.SectorNum) error {
	if name == "" || len(name) > domain.NameMax {
		return domain.ErrInvalidName
	}
	if _, _, ok := d.lookup(name); ok {
		return domain.ErrExists
	}

	var buf [EntrySize]byte
	var e Entry
	ofs := uint32(0)
	for ; ; ofs += EntrySize {
		n, err := d.inode.ReadAt(buf[:], ofs)
		if err != nil || n < EntrySize {
			break
		}
		e.decode(buf[:])
		if !e.InUse {
			break
		}
	}

	e = Entry{Sector: sector, Name: name, InUse: true}
	e.encode(buf[:])
	n, err := d.inode.WriteAt(buf[:], ofs)
	if err != nil {
		return err
	}
	if n != EntrySize {
		return domain.ErrNoSpace
	}
	return nil
}

// Remove clears the slot for name on disk and marks its inode removed;
// the actual destruction happens on the last close.
func (d *Dir) Remove(name string) error {
	e, ofs, ok := d.lookup(name)
	if !ok {
		return domain.ErrNotFound
	}
	in, err := d.svc.ino.Open(e.Sector)
	if err != nil {
		return err
	}
	defer in.Close()

	e.InUse = false
	var buf [EntrySize]byte
	e.encode(buf[:])
	if n, err := d.inode.WriteAt(buf[:], ofs); err != nil || n != EntrySize {
		if err == nil {
			err = domain.ErrNoSpace
		}
		return err
	}
	in.Remove()
	return nil
}

// ReadDir returns the next in-use entry name at or after the cursor.
// "." and ".." are skipped because the cursor starts beyond their slots.
func (d *Dir) ReadDir() (string, bool) {
	var buf [EntrySize]byte
	var e Entry
	for {
		n, err := d.inode.ReadAt(buf[:], d.pos)
		if err != nil || n < EntrySize {
			return "", false
		}
		d.pos += EntrySize
		e.decode(buf[:])
		if e.InUse {
			return e.Name, true
		}
	}
}

// IsEmpty reports whether the directory holds nothing but "." and "..".
func (d *Dir) IsEmpty() bool {
	var buf [EntrySize]byte
	var e Entry
	for ofs := uint32(0); ; ofs += EntrySize {
		n, err := d.inode.ReadAt(buf[:], ofs)
		if err != nil || n < EntrySize {
			return true
		}
		e.decode(buf[:])
		if e.InUse && e.Name != "." && e.Name != ".." {
			return false
		}
	}
}

// Parent opens the parent directory's inode.
func (d *Dir) Parent() (*inode.Inode, error) {
	return d.svc.ino.Open(d.inode.Parent())
}

func (d *Dir) IsRoot() bool {
	return d.inode.Inumber() == domain.RootDirSector
}
