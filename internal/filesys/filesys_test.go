package filesys

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinyoslab/tinyfs/internal/block"
	"github.com/tinyoslab/tinyfs/internal/domain"
)

func newTestFS(t *testing.T) (*FS, *Process) {
	t.Helper()
	dev := block.NewMemDevice(4096)
	fs, err := Mount(dev, true)
	require.NoError(t, err)
	t.Cleanup(func() { fs.Close() })

	p, err := fs.NewProcess()
	require.NoError(t, err)
	t.Cleanup(p.Release)
	return fs, p
}

func writeFile(t *testing.T, fs *FS, p *Process, path string, data []byte) {
	t.Helper()
	require.NoError(t, fs.Create(p, path, 0))
	fd, err := fs.Open(p, path)
	require.NoError(t, err)
	n, err := fs.Write(p, fd, data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.NoError(t, fs.CloseFD(p, fd))
}

func readFile(t *testing.T, fs *FS, p *Process, path string) []byte {
	t.Helper()
	fd, err := fs.Open(p, path)
	require.NoError(t, err)
	size, err := fs.Filesize(p, fd)
	require.NoError(t, err)
	data, err := fs.Read(p, fd, int(size))
	require.NoError(t, err)
	require.NoError(t, fs.CloseFD(p, fd))
	return data
}

func TestRootHasDotEntries(t *testing.T) {
	fs, p := newTestFS(t)

	fd, err := fs.Open(p, "/.")
	require.NoError(t, err)
	inum, err := fs.Inumber(p, fd)
	require.NoError(t, err)
	require.Equal(t, domain.RootDirSector, inum)
	require.NoError(t, fs.CloseFD(p, fd))

	fd, err = fs.Open(p, "/..")
	require.NoError(t, err)
	inum, err = fs.Inumber(p, fd)
	require.NoError(t, err)
	require.Equal(t, domain.RootDirSector, inum)
	require.NoError(t, fs.CloseFD(p, fd))
}

func TestCreateWriteReadBack(t *testing.T) {
	fs, p := newTestFS(t)

	data := bytes.Repeat([]byte("tinyfs"), 300)
	writeFile(t, fs, p, "/hello", data)
	require.Equal(t, data, readFile(t, fs, p, "/hello"))
}

func TestCreateCollision(t *testing.T) {
	fs, p := newTestFS(t)

	require.NoError(t, fs.Create(p, "/dup", 0))
	require.ErrorIs(t, fs.Create(p, "/dup", 0), domain.ErrExists)
}

func TestOpenMissing(t *testing.T) {
	fs, p := newTestFS(t)

	_, err := fs.Open(p, "/nope")
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = fs.Open(p, "/no/such/dir/file")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDescriptorNumberingStartsPastConsole(t *testing.T) {
	fs, p := newTestFS(t)

	require.NoError(t, fs.Create(p, "/a", 0))
	fd, err := fs.Open(p, "/a")
	require.NoError(t, err)
	require.Equal(t, 2, fd)

	fd2, err := fs.Open(p, "/a")
	require.NoError(t, err)
	require.Equal(t, 3, fd2)
}

func TestSeekTellAndSparseFile(t *testing.T) {
	fs, p := newTestFS(t)

	const mib = 1 << 20
	require.NoError(t, fs.Create(p, "/s", 0))
	fd, err := fs.Open(p, "/s")
	require.NoError(t, err)

	require.NoError(t, fs.Seek(p, fd, mib))
	pos, err := fs.Tell(p, fd)
	require.NoError(t, err)
	require.Equal(t, uint32(mib), pos)

	n, err := fs.Write(p, fd, []byte("X"))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	size, err := fs.Filesize(p, fd)
	require.NoError(t, err)
	require.Equal(t, uint32(mib+1), size)

	// The hole reads back as zeros.
	require.NoError(t, fs.Seek(p, fd, 0))
	chunk, err := fs.Read(p, fd, 8192)
	require.NoError(t, err)
	require.Equal(t, make([]byte, 8192), chunk)

	require.NoError(t, fs.Seek(p, fd, mib))
	tail, err := fs.Read(p, fd, 10)
	require.NoError(t, err)
	require.Equal(t, []byte("X"), tail)

	require.NoError(t, fs.CloseFD(p, fd))
}

func TestDeferredDeletionAcrossProcesses(t *testing.T) {
	fs, pa := newTestFS(t)
	pb, err := fs.NewProcess()
	require.NoError(t, err)
	defer pb.Release()

	content := bytes.Repeat([]byte{0xAB}, 3*domain.SectorSize)
	writeFile(t, fs, pa, "/f", content)

	free := fs.FreeSectors()

	fd, err := fs.Open(pa, "/f")
	require.NoError(t, err)

	// B unlinks the file while A still holds it open.
	require.NoError(t, fs.Remove(pb, "/f"))
	_, err = fs.Open(pb, "/f")
	require.ErrorIs(t, err, domain.ErrNotFound)

	got, err := fs.Read(pa, fd, len(content))
	require.NoError(t, err)
	require.Equal(t, content, got)

	// The last close reaps the data sectors and the inode sector.
	require.NoError(t, fs.CloseFD(pa, fd))
	require.Equal(t, free+3+1, fs.FreeSectors())
}

func TestRemoveNonEmptyDirectory(t *testing.T) {
	fs, p := newTestFS(t)

	require.NoError(t, fs.Mkdir(p, "/d"))
	require.NoError(t, fs.Create(p, "/d/x", 0))

	require.ErrorIs(t, fs.Remove(p, "/d"), domain.ErrNotEmpty)
	require.NoError(t, fs.Remove(p, "/d/x"))
	require.NoError(t, fs.Remove(p, "/d"))
	_, err := fs.Open(p, "/d")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRemoveDirectoryInUse(t *testing.T) {
	fs, p := newTestFS(t)
	other, err := fs.NewProcess()
	require.NoError(t, err)
	defer other.Release()

	require.NoError(t, fs.Mkdir(p, "/d"))

	// In use as another process's working directory.
	require.NoError(t, fs.Chdir(other, "/d"))
	require.ErrorIs(t, fs.Remove(p, "/d"), domain.ErrInUse)

	require.NoError(t, fs.Chdir(other, "/"))
	require.NoError(t, fs.Remove(p, "/d"))
}

func TestRemoveDirectoryHeldOpen(t *testing.T) {
	fs, p := newTestFS(t)

	require.NoError(t, fs.Mkdir(p, "/d"))
	fd, err := fs.Open(p, "/d")
	require.NoError(t, err)

	require.ErrorIs(t, fs.Remove(p, "/d"), domain.ErrInUse)
	require.NoError(t, fs.CloseFD(p, fd))
	require.NoError(t, fs.Remove(p, "/d"))
}

func TestPathWithRedundantSeparators(t *testing.T) {
	fs, p := newTestFS(t)

	require.NoError(t, fs.Mkdir(p, "/a"))
	require.NoError(t, fs.Mkdir(p, "/a//b/"))
	require.NoError(t, fs.Chdir(p, "//a///b/."))

	fdCwd, err := fs.Open(p, ".")
	require.NoError(t, err)
	want, err := fs.Inumber(p, fdCwd)
	require.NoError(t, err)

	fdAbs, err := fs.Open(p, "/a/b")
	require.NoError(t, err)
	got, err := fs.Inumber(p, fdAbs)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestRelativePathsAndDotDot(t *testing.T) {
	fs, p := newTestFS(t)

	require.NoError(t, fs.Mkdir(p, "/a"))
	require.NoError(t, fs.Mkdir(p, "/a/b"))
	require.NoError(t, fs.Chdir(p, "/a/b"))

	writeFile(t, fs, p, "here", []byte("relative"))
	require.Equal(t, []byte("relative"), readFile(t, fs, p, "/a/b/here"))

	require.NoError(t, fs.Chdir(p, ".."))
	fd, err := fs.Open(p, ".")
	require.NoError(t, err)
	inum, err := fs.Inumber(p, fd)
	require.NoError(t, err)

	fdA, err := fs.Open(p, "/a")
	require.NoError(t, err)
	inumA, err := fs.Inumber(p, fdA)
	require.NoError(t, err)
	require.Equal(t, inumA, inum)
}

func TestChdirRejectsFiles(t *testing.T) {
	fs, p := newTestFS(t)

	require.NoError(t, fs.Create(p, "/f", 0))
	require.ErrorIs(t, fs.Chdir(p, "/f"), domain.ErrNotDirectory)
	require.ErrorIs(t, fs.Chdir(p, "/missing"), domain.ErrNotFound)
}

func TestPathValidation(t *testing.T) {
	fs, p := newTestFS(t)

	require.ErrorIs(t, fs.Create(p, "", 0), domain.ErrInvalidPath)

	long := "/"
	for len(long) <= domain.PathMax {
		long += "x/"
	}
	require.ErrorIs(t, fs.Create(p, long, 0), domain.ErrInvalidPath)

	// Component longer than NameMax.
	require.ErrorIs(t, fs.Create(p, "/this-name-is-way-too-long", 0), domain.ErrNotFound)
}

func TestReaddir(t *testing.T) {
	fs, p := newTestFS(t)

	require.NoError(t, fs.Mkdir(p, "/dir"))
	require.NoError(t, fs.Create(p, "/dir/f1", 0))
	require.NoError(t, fs.Create(p, "/dir/f2", 0))
	require.NoError(t, fs.Mkdir(p, "/dir/sub"))

	fd, err := fs.Open(p, "/dir")
	require.NoError(t, err)

	isDir, err := fs.IsDir(p, fd)
	require.NoError(t, err)
	require.True(t, isDir)

	var names []string
	for {
		name, ok, err := fs.ReadDir(p, fd)
		require.NoError(t, err)
		if !ok {
			break
		}
		names = append(names, name)
	}
	require.ElementsMatch(t, []string{"f1", "f2", "sub"}, names)
	require.NotContains(t, names, ".")
	require.NotContains(t, names, "..")
}

func TestFileOpsRejectDirectories(t *testing.T) {
	fs, p := newTestFS(t)

	require.NoError(t, fs.Mkdir(p, "/d"))
	fd, err := fs.Open(p, "/d")
	require.NoError(t, err)

	_, err = fs.Read(p, fd, 10)
	require.ErrorIs(t, err, domain.ErrIsDirectory)
	_, err = fs.Write(p, fd, []byte("x"))
	require.ErrorIs(t, err, domain.ErrIsDirectory)
	require.ErrorIs(t, fs.Seek(p, fd, 0), domain.ErrIsDirectory)

	_, _, err = fs.ReadDir(p, 99)
	require.ErrorIs(t, err, domain.ErrBadFD)
}

func TestPersistAcrossRemount(t *testing.T) {
	dev := block.NewMemDevice(4096)
	fs, err := Mount(dev, true)
	require.NoError(t, err)
	p, err := fs.NewProcess()
	require.NoError(t, err)

	require.NoError(t, fs.Mkdir(p, "/keep"))
	writeFile(t, fs, p, "/keep/data", []byte("survives remount"))
	p.Release()
	require.NoError(t, fs.Close())

	fs2, err := Mount(dev, false)
	require.NoError(t, err)
	defer fs2.Close()
	p2, err := fs2.NewProcess()
	require.NoError(t, err)
	defer p2.Release()

	require.Equal(t, []byte("survives remount"), readFile(t, fs2, p2, "/keep/data"))
}
