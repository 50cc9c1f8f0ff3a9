package block

import (
	"errors"
	"os"
	"sync"

	"github.com/tinyoslab/tinyfs/internal/domain"
)

var (
	ErrOutOfRange = errors.New("sector out of range")
	ErrBadBuffer  = errors.New("buffer is not one sector")
)

// Device is a single block device addressed in 512-byte sectors. The
// sector cache is the only caller during normal operation; everything
// above it goes through the cache.
type Device interface {
	ReadSector(sector domain.SectorNum, buf []byte) error
	WriteSector(sector domain.SectorNum, buf []byte) error
	Size() domain.SectorNum
}

// FileDevice backs a device with an ordinary disk image file.
type FileDevice struct {
	file    *os.File
	sectors domain.SectorNum
}

// OpenFile opens an existing disk image. The image size must be a whole
// number of sectors.
func OpenFile(path string) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.Size()%domain.SectorSize != 0 {
		f.Close()
		return nil, errors.New("disk image is not sector aligned")
	}
	return &FileDevice{file: f, sectors: domain.SectorNum(st.Size() / domain.SectorSize)}, nil
}

// CreateFile creates a zeroed disk image of the given size, replacing any
// existing file at path.
func CreateFile(path string, sectors domain.SectorNum) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(int64(sectors) * domain.SectorSize); err != nil {
		f.Close()
		return nil, err
	}
	return &FileDevice{file: f, sectors: sectors}, nil
}

func (d *FileDevice) ReadSector(sector domain.SectorNum, buf []byte) error {
	if len(buf) != domain.SectorSize {
		return ErrBadBuffer
	}
	if sector >= d.sectors {
		return ErrOutOfRange
	}
	_, err := d.file.ReadAt(buf, int64(sector)*domain.SectorSize)
	return err
}

func (d *FileDevice) WriteSector(sector domain.SectorNum, buf []byte) error {
	if len(buf) != domain.SectorSize {
		return ErrBadBuffer
	}
	if sector >= d.sectors {
		return ErrOutOfRange
	}
	_, err := d.file.WriteAt(buf, int64(sector)*domain.SectorSize)
	return err
}

func (d *FileDevice) Size() domain.SectorNum {
	return d.sectors
}

func (d *FileDevice) Close() error {
	return d.file.Close()
}

// MemDevice is a RAM-backed device used by tests and throwaway mounts.
// Sector accesses from the cache workers and the mainline may interleave,
// so the backing slice is guarded.
type MemDevice struct {
	mu   sync.Mutex
	data []byte
}

func NewMemDevice(sectors domain.SectorNum) *MemDevice {
	return &MemDevice{data: make([]byte, int(sectors)*domain.SectorSize)}
}

func (d *MemDevice) ReadSector(sector domain.SectorNum, buf []byte) error {
	if len(buf) != domain.SectorSize {
		return ErrBadBuffer
	}
	off := int(sector) * domain.SectorSize
	d.mu.Lock()
	defer d.mu.Unlock()
	if off+domain.SectorSize > len(d.data) {
		return ErrOutOfRange
	}
	copy(buf, d.data[off:off+domain.SectorSize])
	return nil
}

func (d *MemDevice) WriteSector(sector domain.SectorNum, buf []byte) error {
	if len(buf) != domain.SectorSize {
		return ErrBadBuffer
	}
	off := int(sector) * domain.SectorSize
	d.mu.Lock()
	defer d.mu.Unlock()
	if off+domain.SectorSize > len(d.data) {
		return ErrOutOfRange
	}
	copy(d.data[off:off+domain.SectorSize], buf)
	return nil
}

func (d *MemDevice) Size() domain.SectorNum {
	return domain.SectorNum(len(d.data) / domain.SectorSize)
}
