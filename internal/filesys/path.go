package filesys

import (
	"strings"

	"github.com/tinyoslab/tinyfs/internal/directory"
	"github.com/tinyoslab/tinyfs/internal/domain"
	"github.com/tinyoslab/tinyfs/internal/inode"
)

// findDir resolves all but the last component of path and returns the
// parent directory's inode (opened; the caller closes it) together with
// the trailing name. A missing final component is not an error — the
// parent is still returned so create-style callers can act on it — but a
// missing intermediate component is. A trailing slash on a resolved path
// addresses the directory itself: the parent returned is that directory
// and the name is ".". "." and ".." need no special handling here; they
// resolve through the entries every directory carries.
func (fs *FS) findDir(p *Process, path string) (*inode.Inode, string, error) {
	if path == "" || len(path) > domain.PathMax {
		return nil, "", domain.ErrInvalidPath
	}

	// Collapse runs of '/' into single separators.
	var b strings.Builder
	for i := 0; i < len(path); i++ {
		if path[i] == '/' && i > 0 && path[i-1] == '/' {
			continue
		}
		b.WriteByte(path[i])
	}
	clean := b.String()

	var dir *directory.Dir
	if clean[0] == '/' {
		root, err := fs.dir.OpenRoot()
		if err != nil {
			return nil, "", err
		}
		dir = root
	} else {
		dir = p.cwd.Reopen()
	}

	parent := dir.Inode().Reopen()
	last := ""
	notFound := false

	for _, tok := range strings.Split(clean, "/") {
		if tok == "" {
			continue
		}
		// An unresolved intermediate component, or an over-long name,
		// fails the whole walk. dir is nil exactly when notFound is set.
		if notFound || len(tok) > domain.NameMax {
			parent.Close()
			dir.Close()
			return nil, "", domain.ErrNotFound
		}
		parent.Close()
		parent = dir.Inode().Reopen()
		last = tok

		next, err := dir.Lookup(tok)
		if err != nil {
			notFound = true
			next = nil
		}
		dir.Close()
		dir = fs.dir.Open(next)
	}

	// A trailing slash addresses the directory itself, so once the final
	// component resolved, hand back that directory as the parent and "."
	// as the name. An unresolved final component keeps its own name so a
	// create-style caller can still act on it.
	if strings.HasSuffix(path, "/") && !notFound && last != "" {
		parent.Close()
		parent = dir.Inode().Reopen()
		last = "."
	}
	dir.Close()

	// The path named the walk's starting directory outright ("/", "//").
	if last == "" {
		last = "."
	}
	return parent, last, nil
}
