package freemap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinyoslab/tinyfs/internal/block"
	"github.com/tinyoslab/tinyfs/internal/cache"
	"github.com/tinyoslab/tinyfs/internal/domain"
)

func newTestMap(t *testing.T) (*FreeMap, *block.MemDevice, *cache.Cache) {
	t.Helper()
	dev := block.NewMemDevice(256)
	c := cache.New()
	t.Cleanup(func() { c.Close() })
	fm, err := Create(dev, c)
	require.NoError(t, err)
	return fm, dev, c
}

func TestCreateReservesMetadataSectors(t *testing.T) {
	fm, dev, _ := newTestMap(t)
	require.Equal(t, int(dev.Size())-2, fm.CountFree())

	s, err := fm.Allocate(1)
	require.NoError(t, err)
	require.Greater(t, s, domain.RootDirSector)
}

func TestAllocateContiguous(t *testing.T) {
	fm, _, _ := newTestMap(t)

	a, err := fm.Allocate(3)
	require.NoError(t, err)
	b, err := fm.Allocate(2)
	require.NoError(t, err)
	require.Equal(t, a+3, b)

	fm.Release(a, 3)
	c, err := fm.Allocate(3)
	require.NoError(t, err)
	require.Equal(t, a, c)
}

func TestAllocateExhaustion(t *testing.T) {
	fm, dev, _ := newTestMap(t)

	free := uint32(dev.Size()) - 2
	_, err := fm.Allocate(free)
	require.NoError(t, err)
	_, err = fm.Allocate(1)
	require.ErrorIs(t, err, domain.ErrNoSpace)
}

func TestPersistAcrossReopen(t *testing.T) {
	fm, dev, c := newTestMap(t)

	s, err := fm.Allocate(4)
	require.NoError(t, err)
	require.NoError(t, fm.Close())
	require.NoError(t, c.Flush())

	fm2, err := Open(dev, c)
	require.NoError(t, err)
	require.Equal(t, fm.CountFree(), fm2.CountFree())

	// The reopened map must not hand out the sectors taken before.
	s2, err := fm2.Allocate(1)
	require.NoError(t, err)
	require.True(t, s2 < s || s2 >= s+4)
}
