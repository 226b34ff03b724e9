// Package reasm reassembles fragmented inbound HCI ISO data packets into
// whole SDU packets. The controller may split one ISO data load across
// several HCI packets, marked by the packet-boundary bits of the handle word;
// the manager's receive path wants one complete packet per SDU, plus a flag
// telling whether the data load starts with a timestamp.
package reasm

import (
	"encoding/binary"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"github.com/srg/isoch/hciev"
)

// Bit 14 of the handle word flags a timestamp in the data load of a first or
// complete fragment [Vol 4, Part E, 5.4.5].
const tsFlagBit = 1 << 14

// DefaultStagingCap bounds the per-stream staging buffer. One ISO SDU never
// legitimately exceeds the 12-bit data load length field.
const DefaultStagingCap = 8192

// Packet is one reassembled ISO data packet: the original 4-byte header
// (handle word + data load length) followed by the complete data load.
type Packet struct {
	Data         []byte
	HasTimestamp bool
}

type partial struct {
	buf   *ringbuffer.RingBuffer
	hasTS bool
}

// Assembler accumulates fragments per connection handle. It is confined to
// the transport's receive goroutine, same as the manager it feeds.
type Assembler struct {
	streams    map[uint16]*partial
	stagingCap int
	logger     *logrus.Logger
}

// New creates an Assembler. A nil logger gets a default one.
func New(stagingCap int, logger *logrus.Logger) *Assembler {
	if stagingCap <= 0 {
		stagingCap = DefaultStagingCap
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Assembler{
		streams:    make(map[uint16]*partial),
		stagingCap: stagingCap,
		logger:     logger,
	}
}

// Push feeds one raw HCI ISO data packet (starting at the handle word).
// It returns a complete packet once the closing fragment arrives, or nil
// while an SDU is still being accumulated. A fragment that cannot be staged
// discards the whole SDU in progress.
func (a *Assembler) Push(raw []byte) (*Packet, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("reasm: short iso data packet, len %d", len(raw))
	}
	w := binary.LittleEndian.Uint16(raw)
	handle := hciev.ConnHandle(w)
	pb := hciev.PBFlag(w)
	load := raw[4:]

	switch pb {
	case hciev.PBCompleteSDU:
		return &Packet{Data: raw, HasTimestamp: w&tsFlagBit != 0}, nil

	case hciev.PBFirstFragment:
		p := a.streams[handle]
		if p == nil {
			p = &partial{buf: ringbuffer.New(a.stagingCap)}
			a.streams[handle] = p
		}
		p.buf.Reset()
		p.hasTS = w&tsFlagBit != 0
		a.stage(handle, p, load)
		return nil, nil

	case hciev.PBContinuationFragment, hciev.PBLastFragment:
		p := a.streams[handle]
		if p == nil || p.buf.IsEmpty() {
			a.logger.WithField("handle", handle).Warn("continuation fragment without a first fragment, dropping")
			return nil, nil
		}
		a.stage(handle, p, load)
		// An overflowed SDU was discarded by stage; nothing to emit.
		if pb == hciev.PBContinuationFragment || p.buf.IsEmpty() {
			return nil, nil
		}
		return a.emit(handle, p), nil
	}
	return nil, nil
}

// stage appends a fragment's data load. A fragment that does not fit in the
// staging buffer discards the SDU in progress; the ring reports the overflow
// through a short write, regardless of which error kind accompanies it.
func (a *Assembler) stage(handle uint16, p *partial, load []byte) {
	n, _ := p.buf.Write(load)
	if n < len(load) {
		a.logger.WithFields(logrus.Fields{
			"handle": handle,
			"len":    len(load),
		}).Warn("staging buffer overflow, dropping SDU in progress")
		p.buf.Reset()
	}
}

func (a *Assembler) emit(handle uint16, p *partial) *Packet {
	load := make([]byte, p.buf.Length())
	if _, err := p.buf.Read(load); err != nil {
		return nil
	}
	out := make([]byte, 4+len(load))
	w := hciev.HandleWord(handle, hciev.PBCompleteSDU)
	if p.hasTS {
		w |= tsFlagBit
	}
	binary.LittleEndian.PutUint16(out, w)
	binary.LittleEndian.PutUint16(out[2:], uint16(len(load)))
	copy(out[4:], load)
	return &Packet{Data: out, HasTimestamp: p.hasTS}
}

// Drop discards any SDU being accumulated for the handle, for use when the
// stream goes away mid-reassembly.
func (a *Assembler) Drop(handle uint16) {
	delete(a.streams, handle)
}
