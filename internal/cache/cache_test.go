package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tinyoslab/tinyfs/internal/block"
	"github.com/tinyoslab/tinyfs/internal/domain"
)

func fill(b byte) []byte {
	buf := make([]byte, domain.SectorSize)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

func TestReadMissThenHit(t *testing.T) {
	dev := block.NewMemDevice(128)
	require.NoError(t, dev.WriteSector(7, fill(0x5A)))

	c := New()
	defer c.Close()

	buf := make([]byte, domain.SectorSize)
	require.NoError(t, c.Read(dev, 7, buf))
	require.Equal(t, fill(0x5A), buf)

	// Second read must hit the installed line.
	require.NoError(t, dev.WriteSector(7, fill(0x00)))
	require.NoError(t, c.Read(dev, 7, buf))
	require.Equal(t, fill(0x5A), buf)
}

func TestWriteBackOnFlush(t *testing.T) {
	dev := block.NewMemDevice(128)
	require.NoError(t, dev.WriteSector(3, fill(0x11)))

	c := New()
	defer c.Close()

	require.NoError(t, c.Write(dev, 3, fill(0x22)))

	// The device still holds the old value until a flush.
	buf := make([]byte, domain.SectorSize)
	require.NoError(t, dev.ReadSector(3, buf))
	require.Equal(t, fill(0x11), buf)

	require.NoError(t, c.Flush())
	require.NoError(t, dev.ReadSector(3, buf))
	require.Equal(t, fill(0x22), buf)
}

func TestFlushClearsDirty(t *testing.T) {
	dev := block.NewMemDevice(128)
	c := New()
	defer c.Close()

	require.NoError(t, c.Write(dev, 9, fill(0x33)))
	require.NoError(t, c.Flush())

	for i := range c.lines {
		ln := &c.lines[i]
		ln.mu.Lock()
		if ln.valid {
			require.False(t, ln.dirty, "line %d still dirty after flush", i)
		}
		ln.mu.Unlock()
	}
}

func TestEvictionWritesDirtyVictim(t *testing.T) {
	dev := block.NewMemDevice(256)
	c := New()
	defer c.Close()

	// Writes do not trigger read-ahead, so the access order is exactly
	// ours: sectors 0..63 fill all lines, and one more write evicts the
	// least recently used line, which is sector 0.
	for s := domain.SectorNum(0); s < Lines; s++ {
		require.NoError(t, c.Write(dev, s, fill(byte(s)+1)))
	}
	require.NoError(t, c.Write(dev, Lines, fill(0xEE)))

	buf := make([]byte, domain.SectorSize)
	require.NoError(t, dev.ReadSector(0, buf))
	require.Equal(t, fill(0x01), buf, "evicted dirty sector must reach the device")

	// Sector 1 has not been evicted, so the device copy is still stale.
	require.NoError(t, dev.ReadSector(1, buf))
	require.Equal(t, make([]byte, domain.SectorSize), buf)
}

func TestReadInstallsReadAhead(t *testing.T) {
	dev := block.NewMemDevice(128)
	require.NoError(t, dev.WriteSector(6, fill(0x6B)))

	c := New()
	defer c.Close()

	buf := make([]byte, domain.SectorSize)
	require.NoError(t, c.Read(dev, 5, buf))

	require.Eventually(t, func() bool {
		ln := c.find(dev, 6)
		if ln == nil {
			return false
		}
		ok := ln.data[0] == 0x6B
		ln.mu.Unlock()
		return ok
	}, 2*time.Second, 5*time.Millisecond, "sector 6 should be prefetched")
}

func TestReadAheadSkipsPastDeviceEnd(t *testing.T) {
	dev := block.NewMemDevice(8)
	require.NoError(t, dev.WriteSector(7, fill(0x77)))

	c := New()
	defer c.Close()

	// Reading the last sector enqueues a read-ahead of sector 8, which is
	// past the device end and must be dropped without harm.
	buf := make([]byte, domain.SectorSize)
	require.NoError(t, c.Read(dev, 7, buf))
	require.Equal(t, fill(0x77), buf)

	time.Sleep(50 * time.Millisecond)
	ln := c.find(dev, 8)
	require.Nil(t, ln)
}

func TestCloseFlushes(t *testing.T) {
	dev := block.NewMemDevice(128)
	c := New()
	require.NoError(t, c.Write(dev, 12, fill(0x42)))
	require.NoError(t, c.Close())

	buf := make([]byte, domain.SectorSize)
	require.NoError(t, dev.ReadSector(12, buf))
	require.Equal(t, fill(0x42), buf)
}
