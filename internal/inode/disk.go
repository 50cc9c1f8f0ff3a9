package inode

import (
	"encoding/binary"

	"github.com/tinyoslab/tinyfs/internal/domain"
)

// Identifies an inode sector on disk.
const Magic = 0x494E4F44

const (
	// The first ten block pointers address data sectors directly; slot 10
	// points at a single-indirect block and slot 11 at a double-indirect
	// block.
	directBlocks  = 10
	indirectSlot  = 10
	doubleSlot    = 11
	totalSlots    = 12
	ptrsPerSector = domain.SectorSize / 4

	// MaxFileSectors is the addressing capacity of one inode:
	// 10 direct + 128 single-indirect + 128*128 double-indirect sectors.
	MaxFileSectors = directBlocks + ptrsPerSector + ptrsPerSector*ptrsPerSector

	MaxFileSize = MaxFileSectors * domain.SectorSize
)

// diskInode is the on-disk inode, exactly one sector once encoded.
type diskInode struct {
	Blocks             [totalSlots]domain.SectorNum
	DirectUsed         uint32
	IndirectUsed       uint32 // 0 or 1
	IndirectBlockCount uint32
	DoubleUsed         uint32 // 0 or 1
	DoubleL1Count      uint32 // completely filled level-2 blocks
	DoubleL2Count      uint32 // entries in the partially filled level-2 block
	TotalSectors       uint32
	Length             uint32
	IsDir              bool
	Parent             domain.SectorNum
}

func (d *diskInode) encode(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
	for i, b := range d.Blocks {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(b))
	}
	binary.LittleEndian.PutUint32(buf[48:], d.DirectUsed)
	binary.LittleEndian.PutUint32(buf[52:], d.IndirectUsed)
	binary.LittleEndian.PutUint32(buf[56:], d.IndirectBlockCount)
	binary.LittleEndian.PutUint32(buf[60:], d.DoubleUsed)
	binary.LittleEndian.PutUint32(buf[64:], d.DoubleL1Count)
	binary.LittleEndian.PutUint32(buf[68:], d.DoubleL2Count)
	binary.LittleEndian.PutUint32(buf[72:], d.TotalSectors)
	binary.LittleEndian.PutUint32(buf[76:], d.Length)
	binary.LittleEndian.PutUint32(buf[80:], Magic)
	if d.IsDir {
		buf[84] = 1
	}
	binary.LittleEndian.PutUint32(buf[88:], uint32(d.Parent))
}

func (d *diskInode) decode(buf []byte) error {
	if binary.LittleEndian.Uint32(buf[80:]) != Magic {
		return domain.ErrCorrupted
	}
	for i := range d.Blocks {
		d.Blocks[i] = domain.SectorNum(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	d.DirectUsed = binary.LittleEndian.Uint32(buf[48:])
	d.IndirectUsed = binary.LittleEndian.Uint32(buf[52:])
	d.IndirectBlockCount = binary.LittleEndian.Uint32(buf[56:])
	d.DoubleUsed = binary.LittleEndian.Uint32(buf[60:])
	d.DoubleL1Count = binary.LittleEndian.Uint32(buf[64:])
	d.DoubleL2Count = binary.LittleEndian.Uint32(buf[68:])
	d.TotalSectors = binary.LittleEndian.Uint32(buf[72:])
	d.Length = binary.LittleEndian.Uint32(buf[76:])
	d.IsDir = buf[84] != 0
	d.Parent = domain.SectorNum(binary.LittleEndian.Uint32(buf[88:]))
	return nil
}

// bytesToSectors returns the number of data sectors a file of the given
// byte length occupies.
func bytesToSectors(length uint32) uint32 {
	return (length + domain.SectorSize - 1) / domain.SectorSize
}

// indirect is one sector holding 128 sector pointers.
type indirect [ptrsPerSector]domain.SectorNum

func (ind *indirect) encode(buf []byte) {
	for i, s := range ind {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(s))
	}
}

func (ind *indirect) decode(buf []byte) {
	for i := range ind {
		ind[i] = domain.SectorNum(binary.LittleEndian.Uint32(buf[i*4:]))
	}
}

func (s *Service) readIndirect(sector domain.SectorNum, ind *indirect) error {
	var buf [domain.SectorSize]byte
	if err := s.cache.Read(s.dev, sector, buf[:]); err != nil {
		return err
	}
	ind.decode(buf[:])
	return nil
}

func (s *Service) writeIndirect(sector domain.SectorNum, ind *indirect) error {
	var buf [domain.SectorSize]byte
	ind.encode(buf[:])
	return s.cache.Write(s.dev, sector, buf[:])
}

// byteToSector maps a byte offset inside the file to the data sector
// holding it. Offsets at or past the file length have no mapping.
func (s *Service) byteToSector(d *diskInode, pos uint32) (domain.SectorNum, bool) {
	if pos >= d.Length {
		return 0, false
	}
	if pos < directBlocks*domain.SectorSize {
		return d.Blocks[pos/domain.SectorSize], true
	}
	if pos < (directBlocks+ptrsPerSector)*domain.SectorSize {
		var ind indirect
		if err := s.readIndirect(d.Blocks[indirectSlot], &ind); err != nil {
			return 0, false
		}
		return ind[(pos-directBlocks*domain.SectorSize)/domain.SectorSize], true
	}
	q := pos - (directBlocks+ptrsPerSector)*domain.SectorSize
	var l1 indirect
	if err := s.readIndirect(d.Blocks[doubleSlot], &l1); err != nil {
		return 0, false
	}
	var l2 indirect
	if err := s.readIndirect(l1[q/(ptrsPerSector*domain.SectorSize)], &l2); err != nil {
		return 0, false
	}
	return l2[(q%(ptrsPerSector*domain.SectorSize))/domain.SectorSize], true
}

// grow extends the block map until it covers d.Length bytes, allocating
// zeroed data sectors and whatever indirect blocks the new range needs.
// Every sector taken from the free map is recorded in *allocated so the
// caller can roll the allocation back if the disk fills up mid-grow.
func (s *Service) grow(d *diskInode, allocated *[]domain.SectorNum) error {
	need := bytesToSectors(d.Length) - d.TotalSectors
	var zeros [domain.SectorSize]byte

	alloc := func() (domain.SectorNum, error) {
		sec, err := s.fm.Allocate(1)
		if err != nil {
			return 0, err
		}
		*allocated = append(*allocated, sec)
		return sec, nil
	}

	for need > 0 {
		switch {
		case d.DirectUsed < directBlocks:
			sec, err := alloc()
			if err != nil {
				return err
			}
			if err := s.cache.Write(s.dev, sec, zeros[:]); err != nil {
				return err
			}
			d.Blocks[d.DirectUsed] = sec
			d.DirectUsed++
			d.TotalSectors++
			need--

		case d.IndirectBlockCount < ptrsPerSector:
			var ind indirect
			if d.IndirectBlockCount > 0 {
				if err := s.readIndirect(d.Blocks[indirectSlot], &ind); err != nil {
					return err
				}
			} else {
				sec, err := alloc()
				if err != nil {
					return err
				}
				d.Blocks[indirectSlot] = sec
			}
			for i := d.IndirectBlockCount; i < ptrsPerSector && need > 0; i++ {
				sec, err := alloc()
				if err != nil {
					return err
				}
				if err := s.cache.Write(s.dev, sec, zeros[:]); err != nil {
					return err
				}
				ind[i] = sec
				d.IndirectBlockCount++
				d.TotalSectors++
				need--
			}
			if err := s.writeIndirect(d.Blocks[indirectSlot], &ind); err != nil {
				return err
			}
			d.IndirectUsed = 1

		default:
			var l1 indirect
			if d.DoubleUsed == 1 {
				if err := s.readIndirect(d.Blocks[doubleSlot], &l1); err != nil {
					return err
				}
			} else {
				sec, err := alloc()
				if err != nil {
					return err
				}
				d.Blocks[doubleSlot] = sec
			}
			for i := d.DoubleL1Count; i < ptrsPerSector && need > 0; i++ {
				var l2 indirect
				// A partially filled level-2 block only ever sits at slot
				// DoubleL1Count; a fresh slot starts from entry zero.
				if d.DoubleL2Count > 0 {
					if err := s.readIndirect(l1[i], &l2); err != nil {
						return err
					}
				} else {
					sec, err := alloc()
					if err != nil {
						return err
					}
					l1[i] = sec
				}
				for j := d.DoubleL2Count; j < ptrsPerSector && need > 0; j++ {
					sec, err := alloc()
					if err != nil {
						return err
					}
					if err := s.cache.Write(s.dev, sec, zeros[:]); err != nil {
						return err
					}
					l2[j] = sec
					d.DoubleL2Count++
					d.TotalSectors++
					need--
				}
				if err := s.writeIndirect(l1[i], &l2); err != nil {
					return err
				}
				if d.DoubleL2Count == ptrsPerSector {
					d.DoubleL2Count = 0
					d.DoubleL1Count++
				}
			}
			if err := s.writeIndirect(d.Blocks[doubleSlot], &l1); err != nil {
				return err
			}
			d.DoubleUsed = 1
		}
	}
	return nil
}

// freeBlocks walks the whole index tree and releases every data sector,
// then the indirect blocks themselves. The inode sector is released by
// the caller.
func (s *Service) freeBlocks(d *diskInode) {
	for i := uint32(0); i < d.DirectUsed; i++ {
		s.fm.Release(d.Blocks[i], 1)
	}
	if d.IndirectUsed == 1 {
		var ind indirect
		if err := s.readIndirect(d.Blocks[indirectSlot], &ind); err == nil {
			for i := uint32(0); i < d.IndirectBlockCount; i++ {
				s.fm.Release(ind[i], 1)
			}
		}
		s.fm.Release(d.Blocks[indirectSlot], 1)
	}
	if d.DoubleUsed == 1 {
		var l1 indirect
		if err := s.readIndirect(d.Blocks[doubleSlot], &l1); err == nil {
			freeL2 := func(slot uint32, entries uint32) {
				var l2 indirect
				if err := s.readIndirect(l1[slot], &l2); err == nil {
					for j := uint32(0); j < entries; j++ {
						s.fm.Release(l2[j], 1)
					}
				}
				s.fm.Release(l1[slot], 1)
			}
			for i := uint32(0); i < d.DoubleL1Count; i++ {
				freeL2(i, ptrsPerSector)
			}
			if d.DoubleL2Count > 0 {
				freeL2(d.DoubleL1Count, d.DoubleL2Count)
			}
		}
		s.fm.Release(d.Blocks[doubleSlot], 1)
	}
	d.DirectUsed = 0
	d.IndirectUsed = 0
	d.IndirectBlockCount = 0
	d.DoubleUsed = 0
	d.DoubleL1Count = 0
	d.DoubleL2Count = 0
	d.TotalSectors = 0
}
