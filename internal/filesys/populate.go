package filesys

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"golang.org/x/tools/txtar"

	"github.com/tinyoslab/tinyfs/internal/domain"
)

// Populate loads a txtar archive into the filesystem: every archive file
// becomes a file at its (slash-separated) path, with intermediate
// directories created on the way.
func (fs *FS) Populate(archive []byte) error {
	ar := txtar.Parse(archive)
	p, err := fs.NewProcess()
	if err != nil {
		return err
	}
	defer p.Release()

	for _, f := range ar.Files {
		name := path.Clean("/" + f.Name)
		if name == "/" {
			continue
		}

		cur := ""
		parts := strings.Split(strings.TrimPrefix(path.Dir(name), "/"), "/")
		for _, part := range parts {
			if part == "" || part == "." {
				continue
			}
			cur += "/" + part
			if err := fs.Mkdir(p, cur); err != nil && !errors.Is(err, domain.ErrExists) {
				return fmt.Errorf("mkdir %s: %w", cur, err)
			}
		}

		if err := fs.Create(p, name, 0); err != nil {
			return fmt.Errorf("create %s: %w", name, err)
		}
		fd, err := fs.Open(p, name)
		if err != nil {
			return fmt.Errorf("open %s: %w", name, err)
		}
		n, err := fs.Write(p, fd, f.Data)
		if err == nil && n != len(f.Data) {
			err = domain.ErrNoSpace
		}
		if cerr := fs.CloseFD(p, fd); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}
