package domain

import "errors"

var (
	ErrNotFound     = errors.New("no such file or directory")
	ErrExists       = errors.New("file exists")
	ErrNotEmpty     = errors.New("directory not empty")
	ErrNotDirectory = errors.New("not a directory")
	ErrIsDirectory  = errors.New("is a directory")
	ErrInvalidName  = errors.New("invalid name")
	ErrInvalidPath  = errors.New("invalid path")
	ErrInUse        = errors.New("directory in use")
	ErrNoSpace      = errors.New("no space left on device")
	ErrWriteDenied  = errors.New("write denied")
	ErrBadFD        = errors.New("bad file descriptor")
	ErrCorrupted    = errors.New("filesystem corrupted")
)
