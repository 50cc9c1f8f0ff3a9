package inode

import (
	"fmt"
	"sync"

	"github.com/tinyoslab/tinyfs/internal/block"
	"github.com/tinyoslab/tinyfs/internal/cache"
	"github.com/tinyoslab/tinyfs/internal/domain"
	"github.com/tinyoslab/tinyfs/internal/freemap"
	"github.com/tinyoslab/tinyfs/internal/logger"
)

// Service owns the open-inode registry and performs all inode I/O through
// the sector cache. There is at most one in-memory Inode per sector;
// opening an already-open sector returns the same object with its open
// count bumped.
type Service struct {
	dev   block.Device
	cache *cache.Cache
	fm    *freemap.FreeMap

	mu   sync.Mutex
	open map[domain.SectorNum]*Inode
}

func NewService(dev block.Device, c *cache.Cache, fm *freemap.FreeMap) *Service {
	return &Service{
		dev:   dev,
		cache: c,
		fm:    fm,
		open:  make(map[domain.SectorNum]*Inode),
	}
}

// Inode is the in-memory inode. Lifetime is driven by openCount: the
// object dies on the last Close, and if Remove was called in the meantime
// the last Close also releases every sector the file occupied.
type Inode struct {
	svc            *Service
	sector         domain.SectorNum
	openCount      int
	removed        bool
	denyWriteCount int
	disk           diskInode
}

// Create initialises a fresh on-disk inode at sector, grown to hold
// length bytes of zeroed data, and writes it through the cache. On
// allocation failure every sector reserved during this call is released.
func (s *Service) Create(sector domain.SectorNum, length uint32, isDir bool) error {
	if length > MaxFileSize {
		return domain.ErrNoSpace
	}
	d := diskInode{
		Length: length,
		IsDir:  isDir,
		Parent: domain.RootDirSector,
	}
	var allocated []domain.SectorNum
	if err := s.grow(&d, &allocated); err != nil {
		for _, sec := range allocated {
			s.fm.Release(sec, 1)
		}
		return err
	}
	var buf [domain.SectorSize]byte
	d.encode(buf[:])
	return s.cache.Write(s.dev, sector, buf[:])
}

// Open returns the unique in-memory inode for sector, reading it from
// disk on first open.
func (s *Service) Open(sector domain.SectorNum) (*Inode, error) {
	s.mu.Lock()
	if in, ok := s.open[sector]; ok {
		in.openCount++
		s.mu.Unlock()
		return in, nil
	}
	s.mu.Unlock()

	in := &Inode{svc: s, sector: sector, openCount: 1}
	var buf [domain.SectorSize]byte
	if err := s.cache.Read(s.dev, sector, buf[:]); err != nil {
		return nil, err
	}
	if err := in.disk.decode(buf[:]); err != nil {
		return nil, err
	}

	s.mu.Lock()
	// Lost the race: someone opened the same sector meanwhile.
	if other, ok := s.open[sector]; ok {
		other.openCount++
		s.mu.Unlock()
		return other, nil
	}
	s.open[sector] = in
	s.mu.Unlock()
	return in, nil
}

// Reopen bumps the open count and returns the same inode.
func (in *Inode) Reopen() *Inode {
	in.svc.mu.Lock()
	in.openCount++
	in.svc.mu.Unlock()
	return in
}

// Close drops one reference. The last Close unregisters the inode, writes
// it back through the cache, and — if the inode was removed — frees its
// data sectors and the inode sector itself.
func (in *Inode) Close() {
	if in == nil {
		return
	}
	s := in.svc
	s.mu.Lock()
	in.openCount--
	if in.openCount > 0 {
		s.mu.Unlock()
		return
	}
	delete(s.open, in.sector)
	s.mu.Unlock()

	var buf [domain.SectorSize]byte
	in.disk.encode(buf[:])
	if err := s.cache.Write(s.dev, in.sector, buf[:]); err != nil {
		logger.Error("inode %d: write-back failed: %v", in.sector, err)
	}

	if in.removed {
		s.freeBlocks(&in.disk)
		s.fm.Release(in.sector, 1)
	}
}

// Remove marks the inode for deletion; the last Close reaps it.
func (in *Inode) Remove() {
	in.removed = true
}

// ReadAt reads up to len(p) bytes starting at byte offset off and returns
// the number of bytes read. A short count at end of file is not an error.
func (in *Inode) ReadAt(p []byte, off uint32) (int, error) {
	s := in.svc
	read := 0
	size := len(p)
	var bounce [domain.SectorSize]byte

	for size > 0 {
		sector, ok := s.byteToSector(&in.disk, off)
		if !ok {
			break
		}
		sectorOfs := int(off % domain.SectorSize)

		left := int(in.disk.Length - off)
		sectorLeft := domain.SectorSize - sectorOfs
		chunk := size
		if left < chunk {
			chunk = left
		}
		if sectorLeft < chunk {
			chunk = sectorLeft
		}
		if chunk <= 0 {
			break
		}

		if sectorOfs == 0 && chunk == domain.SectorSize {
			if err := s.cache.Read(s.dev, sector, p[read:read+domain.SectorSize]); err != nil {
				return read, err
			}
		} else {
			if err := s.cache.Read(s.dev, sector, bounce[:]); err != nil {
				return read, err
			}
			copy(p[read:read+chunk], bounce[sectorOfs:sectorOfs+chunk])
		}

		size -= chunk
		off += uint32(chunk)
		read += chunk
	}
	return read, nil
}

// WriteAt writes p starting at byte offset off, growing the file first
// when the write extends past the current length. Returns 0 while writes
// are denied. On allocation failure during growth the file is restored to
// its prior state and nothing is written.
func (in *Inode) WriteAt(p []byte, off uint32) (int, error) {
	if in.denyWriteCount > 0 {
		return 0, nil
	}
	s := in.svc
	size := len(p)

	if uint64(off)+uint64(size) > uint64(in.disk.Length) {
		if uint64(off)+uint64(size) > MaxFileSize {
			return 0, domain.ErrNoSpace
		}
		prev := in.disk
		var allocated []domain.SectorNum
		in.disk.Length = off + uint32(size)
		if err := s.grow(&in.disk, &allocated); err != nil {
			for _, sec := range allocated {
				s.fm.Release(sec, 1)
			}
			in.disk = prev
			return 0, err
		}
	}

	written := 0
	var bounce [domain.SectorSize]byte
	for size > 0 {
		sector, ok := s.byteToSector(&in.disk, off)
		if !ok {
			break
		}
		sectorOfs := int(off % domain.SectorSize)

		left := int(in.disk.Length - off)
		sectorLeft := domain.SectorSize - sectorOfs
		chunk := size
		if left < chunk {
			chunk = left
		}
		if sectorLeft < chunk {
			chunk = sectorLeft
		}
		if chunk <= 0 {
			break
		}

		if sectorOfs == 0 && chunk == domain.SectorSize {
			if err := s.cache.Write(s.dev, sector, p[written:written+domain.SectorSize]); err != nil {
				return written, err
			}
		} else {
			// Fetch-modify-write unless the chunk covers everything the
			// sector still holds.
			if sectorOfs > 0 || chunk < sectorLeft {
				if err := s.cache.Read(s.dev, sector, bounce[:]); err != nil {
					return written, err
				}
			} else {
				bounce = [domain.SectorSize]byte{}
			}
			copy(bounce[sectorOfs:sectorOfs+chunk], p[written:written+chunk])
			if err := s.cache.Write(s.dev, sector, bounce[:]); err != nil {
				return written, err
			}
		}

		size -= chunk
		off += uint32(chunk)
		written += chunk
	}
	return written, nil
}

// DenyWrite disables writes; may be nested up to once per opener.
func (in *Inode) DenyWrite() {
	in.denyWriteCount++
	if in.denyWriteCount > in.openCount {
		panic(fmt.Sprintf("inode %d: deny count %d exceeds open count %d",
			in.sector, in.denyWriteCount, in.openCount))
	}
}

// AllowWrite undoes one DenyWrite.
func (in *Inode) AllowWrite() {
	if in.denyWriteCount <= 0 {
		panic(fmt.Sprintf("inode %d: allow without deny", in.sector))
	}
	in.denyWriteCount--
}

func (in *Inode) Length() uint32 {
	return in.disk.Length
}

// Inumber is the sector the on-disk inode lives in; it doubles as the
// inode number.
func (in *Inode) Inumber() domain.SectorNum {
	return in.sector
}

func (in *Inode) IsDir() bool {
	return in.disk.IsDir
}

func (in *Inode) Parent() domain.SectorNum {
	return in.disk.Parent
}

// OpenCount reports the number of live references.
func (in *Inode) OpenCount() int {
	in.svc.mu.Lock()
	defer in.svc.mu.Unlock()
	return in.openCount
}

// SetParent records parent as the parent directory of the inode at
// sector child.
func (s *Service) SetParent(parent, child domain.SectorNum) error {
	in, err := s.Open(child)
	if err != nil {
		return err
	}
	in.disk.Parent = parent
	in.Close()
	return nil
}
