package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyoslab/tinyfs/internal/block"
	"github.com/tinyoslab/tinyfs/internal/domain"
	"github.com/tinyoslab/tinyfs/internal/logger"
)

const (
	// Lines is the fixed number of cache lines; the cache never grows.
	Lines = 64

	FlushInterval = 5 * time.Second
)

// line caches a single disk sector. The mutex serialises all access to
// the line; at most one holder at a time. When valid is false the line
// carries no sector and dirty must be false. When dirty is true the
// in-memory data is the authoritative copy and the device sector is stale.
type line struct {
	mu       sync.Mutex
	valid    bool
	dirty    bool
	dev      block.Device
	sector   domain.SectorNum
	lastUsed int64
	data     [domain.SectorSize]byte
}

// Cache is a write-back sector cache with LRU eviction. All sector
// traffic from the inode and directory layers goes through it. It owns
// two background workers: a periodic flusher and the read-ahead consumer.
type Cache struct {
	lines [Lines]line
	ticks atomic.Int64

	ra readAhead

	quit chan struct{}
	wg   sync.WaitGroup
}

func New() *Cache {
	c := &Cache{quit: make(chan struct{})}
	c.ra.init()

	c.wg.Add(2)
	go c.flusher()
	go c.readAheadLoop()
	return c
}

// Read copies the given sector into buf and schedules a read-ahead of the
// next sector. buf must be one full sector.
func (c *Cache) Read(dev block.Device, sector domain.SectorNum, buf []byte) error {
	ln := c.find(dev, sector)
	if ln == nil {
		ln = c.chooseEvict()
		ln.sector = sector
		ln.dev = dev
		if err := dev.ReadSector(sector, ln.data[:]); err != nil {
			ln.valid = false
			ln.mu.Unlock()
			return err
		}
	}
	copy(buf, ln.data[:])
	ln.lastUsed = c.tick()
	ln.mu.Unlock()

	c.ra.put(dev, sector+1)
	return nil
}

// Write makes the cache the authoritative copy of the sector and marks the
// line dirty. The device is not touched; write-back happens at eviction,
// Flush, or via the periodic flusher. buf must be one full sector.
func (c *Cache) Write(dev block.Device, sector domain.SectorNum, buf []byte) error {
	ln := c.find(dev, sector)
	if ln == nil {
		ln = c.chooseEvict()
		ln.sector = sector
		ln.dev = dev
	}
	copy(ln.data[:], buf)
	ln.dirty = true
	ln.lastUsed = c.tick()
	ln.mu.Unlock()
	return nil
}

// Flush writes every dirty line back to its device. Writes that completed
// before Flush was called are durable when it returns.
func (c *Cache) Flush() error {
	var first error
	for i := range c.lines {
		ln := &c.lines[i]
		ln.mu.Lock()
		if ln.valid && ln.dirty {
			if err := ln.dev.WriteSector(ln.sector, ln.data[:]); err != nil {
				if first == nil {
					first = err
				}
			} else {
				ln.dirty = false
			}
		}
		ln.mu.Unlock()
	}
	return first
}

// Close stops the flusher and read-ahead workers and performs a final
// synchronous flush.
func (c *Cache) Close() error {
	close(c.quit)
	c.ra.close()
	c.wg.Wait()
	return c.Flush()
}

// find locates the line caching (dev, sector). Each line is acquired
// before inspection; a non-matching line is released immediately. On a hit
// the line is returned still locked and the caller must unlock it. Returns
// nil on a miss.
func (c *Cache) find(dev block.Device, sector domain.SectorNum) *line {
	for i := range c.lines {
		ln := &c.lines[i]
		ln.mu.Lock()
		if ln.valid && ln.dev == dev && ln.sector == sector {
			return ln
		}
		ln.mu.Unlock()
	}
	return nil
}

// chooseEvict picks a line for reuse: the first invalid line, or else the
// one with the smallest lastUsed tick. A dirty victim is written back
// under its own lock before being handed out. The returned line is locked,
// valid and clean; the caller overwrites its identity.
func (c *Cache) chooseEvict() *line {
	var evict *line
	earliest := c.ticks.Load()
	for i := range c.lines {
		ln := &c.lines[i]
		ln.mu.Lock()
		if !ln.valid {
			if evict != nil {
				evict.mu.Unlock()
			}
			ln.valid = true
			return ln
		}
		if ln.lastUsed < earliest {
			if evict != nil {
				evict.mu.Unlock()
			}
			evict = ln
			earliest = ln.lastUsed
		} else {
			ln.mu.Unlock()
		}
	}
	if evict.dirty {
		if err := evict.dev.WriteSector(evict.sector, evict.data[:]); err != nil {
			logger.Error("cache: write-back of sector %d failed: %v", evict.sector, err)
		}
	}
	evict.dirty = false
	evict.valid = true
	return evict
}

func (c *Cache) tick() int64 {
	return c.ticks.Add(1)
}

func (c *Cache) flusher() {
	defer c.wg.Done()
	t := time.NewTicker(FlushInterval)
	defer t.Stop()
	for {
		select {
		case <-c.quit:
			return
		case <-t.C:
			if err := c.Flush(); err != nil {
				logger.Warn("cache: periodic flush: %v", err)
			}
		}
	}
}
