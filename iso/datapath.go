package iso

import (
	"fmt"

	"github.com/srg/isoch/hciev"
)

// SetupDataPath issues LE Setup ISO Data Path for an existing stream. A CIS
// must be connected first; a BIS has no connecting phase and qualifies from
// the moment its record exists.
func (m *Manager) SetupDataPath(connHandle uint16, params DataPathParams) {
	s := m.table.anyFor(connHandle)
	if s == nil {
		m.logger.Panicf("no such iso stream: 0x%04x", connHandle)
	}
	if !s.broadcast() {
		if cis := m.table.cisFor(connHandle); cis.state != CisConnected {
			m.logger.Panicf("cis 0x%04x not established", connHandle)
		}
	}

	m.transport.EnqueueCommand(hciev.OpLESetupIsoDataPath,
		marshalSetupDataPath(connHandle, params), m.onSetupDataPath)

	m.hist.Record(historyTag, m.peerFor(connHandle), "Setup data path",
		fmt.Sprintf("handle:0x%04x, dir:0x%02x, path_id:0x%02x, codec_id:0x%02x",
			connHandle, params.Direction, params.PathID, params.CodecFormat))
}

func (m *Manager) onSetupDataPath(ret []byte) {
	evt, err := hciev.UnmarshalDataPathComplete(ret)
	if err != nil {
		m.logger.WithError(err).Error("refusing malformed setup data path completion")
		return
	}

	s := m.table.anyFor(evt.ConnHandle)
	if s == nil {
		// The ACL may have been disconnected while the path was being set up.
		m.logger.WithField("handle", evt.ConnHandle).Warn("setup data path complete for unknown handle")
		return
	}

	m.hist.Record(historyTag, m.peerFor(evt.ConnHandle), "Setup data path complete",
		fmt.Sprintf("handle:0x%04x, status:%s", evt.ConnHandle, hciev.StatusText(evt.Status)))

	if evt.Status == hciev.StatusSuccess {
		s.base().hasDataPath = true
	}

	if s.broadcast() {
		if m.bigCallbacks == nil {
			m.logger.Panic("invalid BIG callbacks")
		}
		m.bigCallbacks.OnSetupDataPathComplete(evt.Status, evt.ConnHandle, s.base().groupID)
		return
	}
	if m.cigCallbacks == nil {
		m.logger.Panic("invalid CIG callbacks")
	}
	m.cigCallbacks.OnSetupDataPathComplete(evt.Status, evt.ConnHandle, s.base().groupID)
}

// RemoveDataPath issues LE Remove ISO Data Path; the stream must exist and
// have a data path set.
func (m *Manager) RemoveDataPath(connHandle uint16, direction uint8) {
	s := m.table.anyFor(connHandle)
	if s == nil {
		m.logger.Panicf("no such iso stream: 0x%04x", connHandle)
	}
	if !s.base().hasDataPath {
		m.logger.Panicf("data path not set for 0x%04x", connHandle)
	}

	m.transport.EnqueueCommand(hciev.OpLERemoveIsoDataPath,
		marshalRemoveDataPath(connHandle, direction), m.onRemoveDataPath)

	m.hist.Record(historyTag, m.peerFor(connHandle), "Remove data path",
		fmt.Sprintf("handle:0x%04x, dir:0x%02x", connHandle, direction))
}

func (m *Manager) onRemoveDataPath(ret []byte) {
	evt, err := hciev.UnmarshalDataPathComplete(ret)
	if err != nil {
		m.logger.WithError(err).Error("refusing malformed remove data path completion")
		return
	}

	s := m.table.anyFor(evt.ConnHandle)
	if s == nil {
		// The ACL may have gone away while the path was being removed.
		m.logger.WithField("handle", evt.ConnHandle).Warn("remove data path complete for unknown handle")
		return
	}

	m.hist.Record(historyTag, m.peerFor(evt.ConnHandle), "Remove data path complete",
		fmt.Sprintf("handle:0x%04x, status:%s", evt.ConnHandle, hciev.StatusText(evt.Status)))

	if evt.Status == hciev.StatusSuccess {
		s.base().hasDataPath = false
	}

	if s.broadcast() {
		if m.bigCallbacks == nil {
			m.logger.Panic("invalid BIG callbacks")
		}
		m.bigCallbacks.OnRemoveDataPathComplete(evt.Status, evt.ConnHandle, s.base().groupID)
		return
	}
	if m.cigCallbacks == nil {
		m.logger.Panic("invalid CIG callbacks")
	}
	m.cigCallbacks.OnRemoveDataPathComplete(evt.Status, evt.ConnHandle, s.base().groupID)
}

// ReadLinkQuality issues LE Read ISO Link Quality. An unknown handle is an
// expected race with teardown, logged and ignored.
func (m *Manager) ReadLinkQuality(connHandle uint16) {
	if m.table.anyFor(connHandle) == nil {
		m.logger.WithField("handle", connHandle).Error("no such iso stream")
		return
	}

	m.transport.EnqueueCommand(hciev.OpLEReadIsoLinkQuality,
		marshalReadLinkQuality(connHandle), m.onLinkQualityRead)
}

func (m *Manager) onLinkQualityRead(ret []byte) {
	evt, err := hciev.UnmarshalLinkQuality(ret)
	if err != nil {
		m.logger.WithError(err).Error("refusing malformed iso link quality read")
		return
	}
	if evt.Status != hciev.StatusSuccess {
		m.logger.WithField("status", hciev.StatusText(evt.Status)).Error("failed to read iso link quality")
		return
	}

	s := m.table.anyFor(evt.ConnHandle)
	if s == nil {
		// Teardown may have raced the read response.
		m.logger.WithField("handle", evt.ConnHandle).Warn("link quality read for unknown handle")
		return
	}

	if m.cigCallbacks == nil {
		m.logger.Panic("invalid CIG callbacks")
	}
	m.cigCallbacks.OnLinkQualityRead(evt, s.base().groupID)
}
