package iso

import (
	"fmt"

	"github.com/srg/isoch/hciev"
)

// CreateBig issues LE Create BIG for a broadcast group that must not exist
// yet. The result arrives as the Create BIG Complete subevent, not as a
// command completion.
func (m *Manager) CreateBig(bigHandle uint8, params BigParams) {
	if m.table.isBigKnown(bigHandle) {
		m.logger.Panicf("big %d already exists", bigHandle)
	}

	// The completion does not echo the SDU interval; member records inherit
	// it from the request.
	m.lastBigSduInterval = params.SduInterval

	m.transport.EnqueueCommand(hciev.OpLECreateBig,
		marshalCreateBig(bigHandle, params), nil)

	m.hist.Record(historyTag, "", "BIG Create",
		fmt.Sprintf("big_handle:0x%02x, num_bis:%d", bigHandle, params.NumBis))
}

// TerminateBig issues LE Terminate BIG; the group must be known. All member
// records are purged when the Terminate BIG Complete subevent arrives.
func (m *Manager) TerminateBig(bigHandle uint8, reason uint8) {
	if !m.table.isBigKnown(bigHandle) {
		m.logger.Panicf("no such big: %d", bigHandle)
	}

	m.transport.EnqueueCommand(hciev.OpLETerminateBig,
		marshalTerminateBig(bigHandle, reason), nil)

	m.hist.Record(historyTag, "", "BIG Terminate",
		fmt.Sprintf("big_handle:0x%02x, reason:%s", bigHandle, hciev.StatusText(reason)))
}

func (m *Manager) handleBigCreateComplete(payload []byte) {
	if m.bigCallbacks == nil {
		m.logger.Panic("invalid BIG callbacks")
	}

	evt, err := hciev.UnmarshalBigCreateComplete(payload)
	if err != nil {
		m.logger.WithError(err).Error("refusing malformed big create complete event")
		return
	}

	for _, handle := range evt.ConnHandles {
		m.logger.WithField("handle", handle).Info("received bis conn handle")
		if evt.Status == hciev.StatusSuccess {
			m.table.insertBis(handle, evt.BigHandle, m.lastBigSduInterval)
		}
	}

	m.hist.Record(historyTag, "", "BIG Create complete",
		fmt.Sprintf("big_handle:0x%02x, status: %s", evt.BigHandle, hciev.StatusText(evt.Status)))

	m.bigCallbacks.OnBigCreateComplete(evt)
	m.notifyTraffic(true)
}

func (m *Manager) handleBigTerminateComplete(payload []byte) {
	if m.bigCallbacks == nil {
		m.logger.Panic("invalid BIG callbacks")
	}

	evt, err := hciev.UnmarshalBigTerminateComplete(payload)
	if err != nil {
		m.logger.WithError(err).Error("refusing malformed big terminate complete event")
		return
	}

	if !m.table.purgeBig(evt.BigHandle) {
		m.logger.Panicf("no such big: %d", evt.BigHandle)
	}

	m.hist.Record(historyTag, "", "BIG Terminate complete",
		fmt.Sprintf("big_handle:0x%02x, reason:%s", evt.BigHandle, hciev.StatusText(evt.Reason)))

	m.bigCallbacks.OnBigTerminateComplete(evt)
	m.notifyTraffic(false)
}
