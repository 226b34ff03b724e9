package iso

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/isoch/hciev"
)

// CreateCig issues LE Set CIG Parameters for a group that must not exist
// yet. One stream record per reported handle is created when the completion
// arrives with success; each record inherits the group's SDU interval.
func (m *Manager) CreateCig(cigID uint8, params CigParams) {
	if m.table.isCigKnown(cigID) {
		m.logger.Panicf("cig %d already exists", cigID)
	}

	m.transport.EnqueueCommand(hciev.OpLESetCigParameters,
		marshalCigParams(cigID, params),
		func(ret []byte) { m.onSetCigParams(cigID, params.SduIntervalMToS, ret) })

	m.hist.Record(historyTag, "", "CIG Create",
		fmt.Sprintf("cig_id:0x%02x, size:%d", cigID, len(params.CisConfigs)))
}

// ReconfigureCig issues LE Set CIG Parameters for a known group. On
// completion the group's prior member records are purged and recreated from
// the reported handles.
func (m *Manager) ReconfigureCig(cigID uint8, params CigParams) {
	if !m.table.isCigKnown(cigID) {
		m.logger.Panicf("no such cig: %d", cigID)
	}

	m.transport.EnqueueCommand(hciev.OpLESetCigParameters,
		marshalCigParams(cigID, params),
		func(ret []byte) { m.onSetCigParams(cigID, params.SduIntervalMToS, ret) })
}

// onSetCigParams serves both creation and reconfiguration; which one it was
// is decided by whether the CIG was already known when the completion
// arrived.
func (m *Manager) onSetCigParams(cigID uint8, sduItv uint32, ret []byte) {
	if m.cigCallbacks == nil {
		m.logger.Panic("invalid CIG callbacks")
	}

	evt, err := hciev.UnmarshalCigCreateComplete(ret)
	if err != nil {
		m.logger.WithError(err).Error("refusing malformed cig create completion")
		return
	}

	reconfigured := m.table.isCigKnown(cigID)
	m.hist.Record(historyTag, "", "CIG Create complete",
		fmt.Sprintf("cig_id:0x%02x, status: %s", evt.CigID, hciev.StatusText(evt.Status)))

	if evt.Status == hciev.StatusSuccess {
		if reconfigured {
			m.table.purgeCig(evt.CigID)
		}
		for _, handle := range evt.ConnHandles {
			m.table.insertCis(handle, cigID, sduItv)
		}
	}

	if reconfigured {
		m.cigCallbacks.OnCigReconfigureComplete(evt)
		return
	}
	m.cigCallbacks.OnCigCreateComplete(evt)
	m.notifyTraffic(true)
}

// RemoveCig issues LE Remove CIG. The group must be known unless force is
// set, which is reserved for error-recovery paths cleaning up after a state
// mismatch with the controller.
func (m *Manager) RemoveCig(cigID uint8, force bool) {
	if !force {
		if !m.table.isCigKnown(cigID) {
			m.logger.Panicf("no such cig: %d", cigID)
		}
	} else {
		m.logger.WithField("cig_id", cigID).Warn("forcing cig removal")
	}

	m.transport.EnqueueCommand(hciev.OpLERemoveCig,
		marshalRemoveCig(cigID), m.onRemoveCig)

	m.hist.Record(historyTag, "", "CIG Remove",
		fmt.Sprintf("cig_id:0x%02x (f:%t)", cigID, force))
}

func (m *Manager) onRemoveCig(ret []byte) {
	if m.cigCallbacks == nil {
		m.logger.Panic("invalid CIG callbacks")
	}

	evt, err := hciev.UnmarshalCigRemoveComplete(ret)
	if err != nil {
		m.logger.WithError(err).Error("refusing malformed cig remove completion")
		return
	}

	m.hist.Record(historyTag, "", "CIG Remove complete",
		fmt.Sprintf("cig_id:0x%02x, status: %s", evt.CigID, hciev.StatusText(evt.Status)))

	if evt.Status == hciev.StatusSuccess {
		m.table.purgeCig(evt.CigID)
	}

	m.cigCallbacks.OnCigRemoveComplete(evt)
	m.notifyTraffic(false)
}

// EstablishCis issues LE Create CIS for the given stream/ACL pairs. Every
// referenced stream must exist and be unconnected; anything else means the
// caller's bookkeeping is already inconsistent.
func (m *Manager) EstablishCis(params CisEstablishParams) {
	for _, pair := range params.Pairs {
		cis := m.table.cisFor(pair.CisHandle)
		if cis == nil {
			m.logger.Panicf("no such cis: %d", pair.CisHandle)
		}
		if cis.state != CisUnconnected {
			m.logger.Panicf("cis %d is already %s, num of cis params: %d",
				pair.CisHandle, cis.state, len(params.Pairs))
		}
		cis.state = CisConnecting

		if m.resolver != nil {
			if addr, ok := m.resolver(pair.AclHandle); ok {
				m.addrByCis.Set(pair.CisHandle, addr)
				m.hist.Record(historyTag, addr, "Establish CIS",
					fmt.Sprintf("handle:0x%04x", pair.AclHandle))
			}
		}
	}

	m.transport.EnqueueCommand(hciev.OpLECreateCis,
		marshalCreateCis(params.Pairs),
		func(ret []byte) { m.onStatusEstablishCis(params, ret) })
}

// onStatusEstablishCis handles the command-level status of LE Create CIS. A
// failure here means no CIS Established subevent will follow for the batch,
// so the establishment outcome is reported immediately.
func (m *Manager) onStatusEstablishCis(params CisEstablishParams, ret []byte) {
	status, err := hciev.UnmarshalCreateCisStatus(ret)
	if err != nil {
		m.logger.WithError(err).Error("refusing malformed create cis status")
		return
	}
	if status == hciev.StatusSuccess {
		return
	}

	for _, pair := range params.Pairs {
		cis := m.table.cisFor(pair.CisHandle)
		if cis == nil {
			m.logger.Panicf("no such cis: %d", pair.CisHandle)
		}

		evt := CisEstablishedEvent{CigID: cis.groupID}
		evt.Status = status
		evt.CisConnHandle = pair.CisHandle
		if cis.state == CisConnecting {
			cis.state = CisUnconnected
		}
		m.cigCallbacks.OnCisEstablished(evt)

		m.hist.Record(historyTag, m.peerFor(pair.CisHandle), "Establish CIS failed",
			fmt.Sprintf("handle:0x%04x, status: %s", pair.CisHandle, hciev.StatusText(status)))
		m.addrByCis.Del(pair.CisHandle)
	}
}

// handleCisEstablished processes the CIS Established subevent. A handle
// without a record is a controller/host bookkeeping mismatch, not a race:
// records outlive their streams until group removal or disconnection.
func (m *Manager) handleCisEstablished(payload []byte) {
	if m.cigCallbacks == nil {
		m.logger.Panic("invalid CIG callbacks")
	}

	e, err := hciev.UnmarshalCisEstablished(payload)
	if err != nil {
		m.logger.WithError(err).Error("refusing malformed cis established event")
		return
	}

	cis := m.table.cisFor(e.CisConnHandle)
	if cis == nil {
		m.logger.Panicf("no such cis: %d", e.CisConnHandle)
	}

	m.hist.Record(historyTag, m.peerFor(e.CisConnHandle), "CIS established event",
		fmt.Sprintf("cis_handle:0x%04x status:%s", e.CisConnHandle, hciev.StatusText(e.Status)))

	switch {
	case e.Status == hciev.StatusSuccess && cis.state == CisConnecting:
		cis.state = CisConnected
	case e.Status == hciev.StatusSuccess:
		// Cancelled while connecting: leave the state alone, the pending
		// disconnect tears the stream down.
	default:
		if cis.state == CisConnecting {
			cis.state = CisUnconnected
		}
		m.addrByCis.Del(e.CisConnHandle)
	}

	m.cigCallbacks.OnCisEstablished(CisEstablishedEvent{CisEstablished: e, CigID: cis.groupID})
}

// DisconnectCis issues an HCI disconnect for a connected or connecting
// stream. A stream still connecting is marked cancelled: the in-flight
// establishment is not aborted, but its eventual completion is reinterpreted
// as teardown, guaranteeing at most one terminal callback per stream.
func (m *Manager) DisconnectCis(cisHandle uint16, reason uint8) {
	cis := m.table.cisFor(cisHandle)
	if cis == nil {
		m.logger.Panicf("no such cis: %d", cisHandle)
	}
	if cis.state != CisConnected && cis.state != CisConnecting {
		m.logger.Panicf("cis %d not connected", cisHandle)
	}

	if cis.state == CisConnecting {
		cis.state = CisCancelled
	}

	m.transport.EnqueueCommand(hciev.OpDisconnect,
		marshalDisconnect(cisHandle, reason), nil)

	m.logger.WithFields(logrus.Fields{
		"handle": cisHandle,
		"reason": hciev.StatusText(reason),
	}).Info("disconnecting cis")
	m.hist.Record(historyTag, m.peerFor(cisHandle), "Disconnect CIS",
		fmt.Sprintf("handle:0x%04x, reason:%s", cisHandle, hciev.StatusText(reason)))
}
