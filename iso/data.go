package iso

import (
	"encoding/binary"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/isoch/hciev"
)

// preparePacket builds the outbound ISO HCI data packet: handle word, total
// data load length, sequence number, SDU length, payload.
func preparePacket(handle uint16, seqNb uint16, data []byte) []byte {
	dataLoadLen := len(data) + 4 // seq + SDU length
	pkt := make([]byte, hciev.IsoHeaderLen+len(data))
	binary.LittleEndian.PutUint16(pkt, hciev.HandleWord(handle, hciev.PBCompleteSDU))
	binary.LittleEndian.PutUint16(pkt[2:], uint16(dataLoadLen))
	binary.LittleEndian.PutUint16(pkt[4:], seqNb)
	binary.LittleEndian.PutUint16(pkt[6:], uint16(len(data)))
	copy(pkt[8:], data)
	return pkt
}

// SendData transmits one SDU on the stream. The packet is dropped, not
// queued, when the stream is not ready or when no controller credit is
// available: ISO audio favors freshness over completeness, so there is no
// backpressure to retry against.
//
// The sequence number advances on every call, dropped or not, so that the
// receiver's loss accounting stays aligned with the SDU interval.
func (m *Manager) SendData(handle uint16, data []byte) {
	s := m.table.anyFor(handle)
	if s == nil {
		// A disconnect may have raced the sender.
		m.logger.WithField("handle", handle).Warn("send on unknown iso handle, dropping")
		return
	}
	b := s.base()

	if !s.broadcast() {
		if cis := m.table.cisFor(handle); cis.state != CisConnected {
			m.logger.WithField("handle", handle).Warn("cis not established, dropping")
			return
		}
	}
	if !b.hasDataPath {
		m.logger.WithField("handle", handle).Warn("data path not set, dropping")
		return
	}

	seqNb := b.sync.txSeqNb
	b.sync.txSeqNb = seqNb + 1 // wraps at 2^16

	if m.isoCredits == 0 || len(data) > int(m.isoBufferSize) {
		b.crStats.underflowBytes += uint64(len(data))
		b.crStats.underflowCount++
		b.crStats.lastUnderflow = time.Now()
		m.logger.WithFields(logrus.Fields{
			"handle":      handle,
			"len":         len(data),
			"iso_credits": m.isoCredits,
		}).Warn("dropping iso packet")
		return
	}

	m.isoCredits--
	b.usedCredits++

	if err := m.transport.SendData(preparePacket(handle, seqNb, data)); err != nil {
		m.logger.WithError(err).WithField("handle", handle).Error("iso data transmit failed")
	}
}

// HandleData demultiplexes one complete inbound ISO data packet to its
// stream's sequence-loss accounting and fires the data-available callback.
// hasTimestamp reflects the out-of-band flag attached by the fragment
// reassembly layer; the header is 12 bytes with a timestamp, 8 without.
//
// Only CIS receive is wired; packets for BIS handles are dropped.
func (m *Manager) HandleData(pkt []byte, hasTimestamp bool) {
	headerLen := hciev.IsoHeaderLen
	if hasTimestamp {
		headerLen = hciev.IsoHeaderLenWithTS
	}
	if len(pkt) <= headerLen {
		return
	}

	if m.cigCallbacks == nil {
		m.logger.Panic("invalid CIG callbacks")
	}

	handle := hciev.ConnHandle(binary.LittleEndian.Uint16(pkt))
	cis := m.table.cisFor(handle)
	if cis == nil {
		m.logger.WithField("handle", handle).Error("received data for a non-registered cis")
		return
	}

	var ts uint32
	off := 4 // handle word + data load length
	if hasTimestamp {
		ts = binary.LittleEndian.Uint32(pkt[off:])
		off += 4
	}
	seqNb := binary.LittleEndian.Uint16(pkt[off:])

	expected := cis.sync.rxSeqNb
	cis.sync.rxSeqNb = seqNb + 1 // wraps at 2^16

	// Modular distance from the expected sequence number. A duplicate or
	// reordered packet therefore reports a huge loss figure rather than
	// zero; preserved as the documented behavior of the accounting.
	lost := seqNb - expected
	if lost > 0 {
		cis.evStats.lostCount += uint64(lost)
		cis.evStats.lastLost = time.Now()
		cis.evStats.seqMismatchCount++
		m.logger.WithFields(logrus.Fields{
			"handle": handle,
			"lost":   lost,
		}).Warn("iso packets lost")
	}

	m.cigCallbacks.OnCisData(DataEvent{
		CisConnHandle: handle,
		CigID:         cis.groupID,
		Timestamp:     ts,
		SeqNb:         seqNb,
		Lost:          lost,
		Data:          pkt[headerLen:],
	})
}
