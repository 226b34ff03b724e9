// Package history keeps a bounded ring of recent lifecycle breadcrumbs for
// operator-facing diagnostics. Writers never block; once the ring is full the
// oldest entries are overwritten.
package history

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
)

// Entry is one recorded breadcrumb.
type Entry struct {
	When  time.Time
	Tag   string
	Peer  string // peer address when known, empty otherwise
	Msg   string
	Extra string
}

// History is a fixed-capacity, overwrite-oldest journal. The backing mpmc
// ring keeps Record safe from any goroutine; consumers that share the
// owning manager's confinement need no extra synchronization.
type History struct {
	buffer      mpmc.RichOverlappedRingBuffer[Entry]
	written     int64
	overwritten int64
}

// New creates a History with the given capacity (rounded up by the ring).
func New(capacity uint32) *History {
	return &History{buffer: mpmc.NewOverlappedRingBuffer[Entry](capacity)}
}

// Record appends a breadcrumb, overwriting the oldest one when full.
func (h *History) Record(tag, peer, msg, extra string) {
	e := Entry{When: time.Now(), Tag: tag, Peer: peer, Msg: msg, Extra: extra}
	overwrites, err := h.buffer.EnqueueM(e)
	if err != nil {
		// Overlapped rings only fail on closed buffers; nothing to do here
		// beyond not counting the write.
		return
	}
	atomic.AddInt64(&h.written, 1)
	atomic.AddInt64(&h.overwritten, int64(overwrites))
}

// Written returns the total number of recorded entries.
func (h *History) Written() int64 {
	return atomic.LoadInt64(&h.written)
}

// Overwritten returns the number of entries lost to overwrites.
func (h *History) Overwritten() int64 {
	return atomic.LoadInt64(&h.overwritten)
}

// DumpTo drains the journal into w, oldest first. Entries are consumed:
// a second dump reports only what was recorded in between.
func (h *History) DumpTo(w io.Writer) {
	for !h.buffer.IsEmpty() {
		e, err := h.buffer.Dequeue()
		if err != nil {
			return
		}
		peer := e.Peer
		if peer == "" {
			peer = "-"
		}
		fmt.Fprintf(w, "    %s %s %s %s %s\n",
			e.When.Format(time.RFC3339), e.Tag, peer, e.Msg, e.Extra)
	}
}
