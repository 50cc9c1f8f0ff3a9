package filesys

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinyoslab/tinyfs/internal/block"
)

const testArchive = `-- motd --
welcome to tinyfs
-- etc/hosts --
127.0.0.1 localhost
-- usr/share/doc/readme --
nested quite deep
`

func TestPopulateFromArchive(t *testing.T) {
	dev := block.NewMemDevice(4096)
	fs, err := Mount(dev, true)
	require.NoError(t, err)
	t.Cleanup(func() { fs.Close() })

	require.NoError(t, fs.Populate([]byte(testArchive)))

	p, err := fs.NewProcess()
	require.NoError(t, err)
	defer p.Release()

	require.Equal(t, []byte("welcome to tinyfs\n"), readFile(t, fs, p, "/motd"))
	require.Equal(t, []byte("127.0.0.1 localhost\n"), readFile(t, fs, p, "/etc/hosts"))
	require.Equal(t, []byte("nested quite deep\n"), readFile(t, fs, p, "/usr/share/doc/readme"))

	fd, err := fs.Open(p, "/usr/share")
	require.NoError(t, err)
	isDir, err := fs.IsDir(p, fd)
	require.NoError(t, err)
	require.True(t, isDir)
}
