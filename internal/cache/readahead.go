package cache

import (
	"sync"

	"github.com/tinyoslab/tinyfs/internal/block"
	"github.com/tinyoslab/tinyfs/internal/domain"
	"github.com/tinyoslab/tinyfs/internal/logger"
)

// ReadAheadBufferSize bounds the number of pending read-ahead requests.
const ReadAheadBufferSize = 64

type request struct {
	dev    block.Device
	sector domain.SectorNum
}

// readAhead is the bounded buffer between cache reads (producers) and the
// single read-ahead worker (consumer). Requests are popped newest-first;
// the buffer behaves as a stack, so read-ahead order is LIFO.
type readAhead struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond
	buf      [ReadAheadBufferSize]request
	n        int
	closed   bool
}

func (r *readAhead) init() {
	r.notFull = sync.NewCond(&r.mu)
	r.notEmpty = sync.NewCond(&r.mu)
}

// put appends a pending request, blocking while the buffer is full.
func (r *readAhead) put(dev block.Device, sector domain.SectorNum) {
	r.mu.Lock()
	for r.n == ReadAheadBufferSize && !r.closed {
		r.notFull.Wait()
	}
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.buf[r.n] = request{dev: dev, sector: sector}
	r.n++
	r.notEmpty.Signal()
	r.mu.Unlock()
}

func (r *readAhead) close() {
	r.mu.Lock()
	r.closed = true
	r.notFull.Broadcast()
	r.notEmpty.Broadcast()
	r.mu.Unlock()
}

// readAheadLoop is the consumer. It installs each requested sector through
// the ordinary miss path and releases the line without copying anything
// out. Requests past the end of the device are skipped; read failures are
// dropped. Read-ahead is an optimisation, never a correctness dependency.
func (c *Cache) readAheadLoop() {
	defer c.wg.Done()
	r := &c.ra
	for {
		r.mu.Lock()
		for r.n == 0 && !r.closed {
			r.notEmpty.Wait()
		}
		if r.closed {
			r.mu.Unlock()
			return
		}
		r.n--
		req := r.buf[r.n]

		if req.sector < req.dev.Size() {
			ln := c.find(req.dev, req.sector)
			if ln == nil {
				ln = c.chooseEvict()
				ln.sector = req.sector
				ln.dev = req.dev
				if err := req.dev.ReadSector(req.sector, ln.data[:]); err != nil {
					ln.valid = false
					logger.Debug("cache: read-ahead of sector %d dropped: %v", req.sector, err)
				}
			}
			ln.mu.Unlock()
		}

		r.notFull.Signal()
		r.mu.Unlock()
	}
}
