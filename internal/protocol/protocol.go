package protocol

import (
	"encoding/binary"
	"errors"

	"github.com/tinyoslab/tinyfs/internal/domain"
)

const (
	HeaderSize   = 16
	MaxMsgSize   = 1 << 20
	ProtoVersion = 1
)

const (
	OpInit     uint16 = 0x01
	OpShutdown uint16 = 0x02

	OpCreate   uint16 = 0x10
	OpRemove   uint16 = 0x11
	OpOpen     uint16 = 0x12
	OpFilesize uint16 = 0x13
	OpRead     uint16 = 0x14
	OpWrite    uint16 = 0x15
	OpSeek     uint16 = 0x16
	OpTell     uint16 = 0x17
	OpClose    uint16 = 0x18

	OpChdir   uint16 = 0x20
	OpMkdir   uint16 = 0x21
	OpReaddir uint16 = 0x22
	OpIsdir   uint16 = 0x23
	OpInumber uint16 = 0x24
)

const (
	FlagEncrypted uint16 = 0x0001
	FlagResponse  uint16 = 0x8000
)

const (
	StatusOK          int32 = 0
	StatusNotFound    int32 = -1
	StatusExists      int32 = -2
	StatusNotEmpty    int32 = -3
	StatusInUse       int32 = -4
	StatusInvalidName int32 = -5
	StatusInvalidPath int32 = -6
	StatusNoSpace     int32 = -7
	StatusBadFD       int32 = -8
	StatusIsDir       int32 = -9
	StatusNotDir      int32 = -10
	StatusIO          int32 = -11
	StatusAuth        int32 = -12
	StatusProto       int32 = -13
)

var (
	ErrMsgTooShort = errors.New("message too short")
	ErrMsgTooLarge = errors.New("message too large")
	ErrBadVersion  = errors.New("bad protocol version")
	ErrInvalidOp   = errors.New("invalid operation")
)

// StatusOf maps a filesystem error to its wire status.
func StatusOf(err error) int32 {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, domain.ErrNotFound):
		return StatusNotFound
	case errors.Is(err, domain.ErrExists):
		return StatusExists
	case errors.Is(err, domain.ErrNotEmpty):
		return StatusNotEmpty
	case errors.Is(err, domain.ErrInUse):
		return StatusInUse
	case errors.Is(err, domain.ErrInvalidName):
		return StatusInvalidName
	case errors.Is(err, domain.ErrInvalidPath):
		return StatusInvalidPath
	case errors.Is(err, domain.ErrNoSpace):
		return StatusNoSpace
	case errors.Is(err, domain.ErrBadFD):
		return StatusBadFD
	case errors.Is(err, domain.ErrIsDirectory):
		return StatusIsDir
	case errors.Is(err, domain.ErrNotDirectory):
		return StatusNotDir
	default:
		return StatusIO
	}
}

// Header frames every message; Length covers the header and payload.
type Header struct {
	Length uint32
	Opcode uint16
	Flags  uint16
	TxnID  uint64
}

func (h *Header) Encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], h.Length)
	binary.LittleEndian.PutUint16(buf[4:6], h.Opcode)
	binary.LittleEndian.PutUint16(buf[6:8], h.Flags)
	binary.LittleEndian.PutUint64(buf[8:16], h.TxnID)
}

func (h *Header) Decode(buf []byte) error {
	if len(buf) < HeaderSize {
		return ErrMsgTooShort
	}
	h.Length = binary.LittleEndian.Uint32(buf[0:4])
	h.Opcode = binary.LittleEndian.Uint16(buf[4:6])
	h.Flags = binary.LittleEndian.Uint16(buf[6:8])
	h.TxnID = binary.LittleEndian.Uint64(buf[8:16])
	return nil
}

func putString(buf []byte, s string) int {
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(s)))
	copy(buf[2:], s)
	return 2 + len(s)
}

func getString(buf []byte) (string, int, error) {
	if len(buf) < 2 {
		return "", 0, ErrMsgTooShort
	}
	n := int(binary.LittleEndian.Uint16(buf[0:2]))
	if len(buf) < 2+n {
		return "", 0, ErrMsgTooShort
	}
	return string(buf[2 : 2+n]), 2 + n, nil
}

type InitRequest struct {
	Version uint32
	Token   string
}

func (r *InitRequest) Encode(buf []byte) int {
	binary.LittleEndian.PutUint32(buf[0:4], r.Version)
	return 4 + putString(buf[4:], r.Token)
}

func (r *InitRequest) Decode(buf []byte) error {
	if len(buf) < 4 {
		return ErrMsgTooShort
	}
	r.Version = binary.LittleEndian.Uint32(buf[0:4])
	tok, _, err := getString(buf[4:])
	if err != nil {
		return err
	}
	r.Token = tok
	return nil
}

// PathRequest carries Open, Remove, Chdir and Mkdir arguments.
type PathRequest struct {
	Path string
}

func (r *PathRequest) Encode(buf []byte) int {
	return putString(buf, r.Path)
}

func (r *PathRequest) Decode(buf []byte) error {
	p, _, err := getString(buf)
	r.Path = p
	return err
}

type CreateRequest struct {
	Path        string
	InitialSize uint32
}

func (r *CreateRequest) Encode(buf []byte) int {
	binary.LittleEndian.PutUint32(buf[0:4], r.InitialSize)
	return 4 + putString(buf[4:], r.Path)
}

func (r *CreateRequest) Decode(buf []byte) error {
	if len(buf) < 4 {
		return ErrMsgTooShort
	}
	r.InitialSize = binary.LittleEndian.Uint32(buf[0:4])
	p, _, err := getString(buf[4:])
	r.Path = p
	return err
}

// FDRequest carries Filesize, Tell, Close, Readdir, Isdir and Inumber
// arguments.
type FDRequest struct {
	FD int32
}

func (r *FDRequest) Encode(buf []byte) int {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.FD))
	return 4
}

func (r *FDRequest) Decode(buf []byte) error {
	if len(buf) < 4 {
		return ErrMsgTooShort
	}
	r.FD = int32(binary.LittleEndian.Uint32(buf[0:4]))
	return nil
}

type ReadRequest struct {
	FD    int32
	Count uint32
}

func (r *ReadRequest) Encode(buf []byte) int {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.FD))
	binary.LittleEndian.PutUint32(buf[4:8], r.Count)
	return 8
}

func (r *ReadRequest) Decode(buf []byte) error {
	if len(buf) < 8 {
		return ErrMsgTooShort
	}
	r.FD = int32(binary.LittleEndian.Uint32(buf[0:4]))
	r.Count = binary.LittleEndian.Uint32(buf[4:8])
	return nil
}

type WriteRequest struct {
	FD   int32
	Data []byte
}

func (r *WriteRequest) Encode(buf []byte) int {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.FD))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(r.Data)))
	copy(buf[8:], r.Data)
	return 8 + len(r.Data)
}

func (r *WriteRequest) Decode(buf []byte) error {
	if len(buf) < 8 {
		return ErrMsgTooShort
	}
	r.FD = int32(binary.LittleEndian.Uint32(buf[0:4]))
	n := int(binary.LittleEndian.Uint32(buf[4:8]))
	if len(buf) < 8+n {
		return ErrMsgTooShort
	}
	r.Data = append([]byte(nil), buf[8:8+n]...)
	return nil
}

type SeekRequest struct {
	FD  int32
	Pos uint32
}

func (r *SeekRequest) Encode(buf []byte) int {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.FD))
	binary.LittleEndian.PutUint32(buf[4:8], r.Pos)
	return 8
}

func (r *SeekRequest) Decode(buf []byte) error {
	if len(buf) < 8 {
		return ErrMsgTooShort
	}
	r.FD = int32(binary.LittleEndian.Uint32(buf[0:4]))
	r.Pos = binary.LittleEndian.Uint32(buf[4:8])
	return nil
}

// StatusResponse answers Init, Create, Remove, Seek, Close, Chdir and
// Mkdir.
type StatusResponse struct {
	Status int32
}

func (r *StatusResponse) Encode(buf []byte) int {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.Status))
	return 4
}

func (r *StatusResponse) Decode(buf []byte) error {
	if len(buf) < 4 {
		return ErrMsgTooShort
	}
	r.Status = int32(binary.LittleEndian.Uint32(buf[0:4]))
	return nil
}

// ValueResponse answers Open (fd), Write (bytes written), Filesize, Tell,
// Inumber and Isdir.
type ValueResponse struct {
	Status int32
	Value  uint32
}

func (r *ValueResponse) Encode(buf []byte) int {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.Status))
	binary.LittleEndian.PutUint32(buf[4:8], r.Value)
	return 8
}

func (r *ValueResponse) Decode(buf []byte) error {
	if len(buf) < 8 {
		return ErrMsgTooShort
	}
	r.Status = int32(binary.LittleEndian.Uint32(buf[0:4]))
	r.Value = binary.LittleEndian.Uint32(buf[4:8])
	return nil
}

// DataResponse answers Read.
type DataResponse struct {
	Status int32
	Data   []byte
}

func (r *DataResponse) Encode(buf []byte) int {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.Status))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(r.Data)))
	copy(buf[8:], r.Data)
	return 8 + len(r.Data)
}

func (r *DataResponse) Decode(buf []byte) error {
	if len(buf) < 8 {
		return ErrMsgTooShort
	}
	r.Status = int32(binary.LittleEndian.Uint32(buf[0:4]))
	n := int(binary.LittleEndian.Uint32(buf[4:8]))
	if len(buf) < 8+n {
		return ErrMsgTooShort
	}
	r.Data = append([]byte(nil), buf[8:8+n]...)
	return nil
}

// ReaddirResponse answers Readdir; OK is false once the directory is
// exhausted.
type ReaddirResponse struct {
	Status int32
	OK     bool
	Name   string
}

func (r *ReaddirResponse) Encode(buf []byte) int {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.Status))
	if r.OK {
		buf[4] = 1
	} else {
		buf[4] = 0
	}
	return 5 + putString(buf[5:], r.Name)
}

func (r *ReaddirResponse) Decode(buf []byte) error {
	if len(buf) < 5 {
		return ErrMsgTooShort
	}
	r.Status = int32(binary.LittleEndian.Uint32(buf[0:4]))
	r.OK = buf[4] != 0
	name, _, err := getString(buf[5:])
	r.Name = name
	return err
}
