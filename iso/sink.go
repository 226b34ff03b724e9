package iso

import "github.com/srg/isoch/internal/ringchan"

// DataSink buffers CIS data events for a consumer that polls at its own
// pace. Delivery is drop-oldest: when the consumer falls behind, stale SDUs
// are discarded rather than piling up, matching the freshness-over-
// completeness policy of the send path.
//
// Wire Push into CigCallbacks.OnCisData; read Events from the consumer
// goroutine.
type DataSink struct {
	rc *ringchan.RingChannel[DataEvent]
}

// NewDataSink creates a sink buffering up to capacity events.
func NewDataSink(capacity int) *DataSink {
	return &DataSink{rc: ringchan.New[DataEvent](capacity)}
}

// Push enqueues one data event. The event's Data slice aliases the inbound
// packet, so it is copied here; the manager's buffer is only valid during
// the callback.
func (s *DataSink) Push(evt DataEvent) {
	data := make([]byte, len(evt.Data))
	copy(data, evt.Data)
	evt.Data = data
	s.rc.Send(evt)
}

// Events returns the receive channel. It is closed by Close.
func (s *DataSink) Events() <-chan DataEvent {
	return s.rc.C()
}

// Dropped reports how many events were discarded to make room.
func (s *DataSink) Dropped() int64 {
	return s.rc.GetMetrics().Overwritten
}

// Close closes the sink. Push must not be called afterwards.
func (s *DataSink) Close() {
	s.rc.Close()
}
