package iso

import (
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/isoch/hciev"
	"github.com/srg/isoch/internal/history"
)

const historyTag = "ISO"

// defaultHistorySize bounds the diagnostic breadcrumb ring.
const defaultHistorySize = 64

// Manager is the host-side isochronous channel manager. See the package
// documentation for the execution-context contract.
type Manager struct {
	transport Transport
	logger    *logrus.Logger

	// Controller ISO buffer flow control: the pool is decremented on send and
	// replenished by completion notifications or disconnects.
	isoCredits    uint16
	isoBufferSize uint16
	capacity      uint16 // original pool size, for diagnostics and saturation

	table streamTable

	cigCallbacks CigCallbacks
	bigCallbacks BigCallbacks

	// Observers may be registered and notified from a different thread than
	// the one driving events; this is the only cross-thread boundary in the
	// manager and the only state behind a lock. The lock is never held across
	// an observer invocation.
	observerMu       sync.Mutex
	trafficObservers []func(active bool)

	// Peer addresses for logging, keyed by CIS connection handle. Purely
	// diagnostic.
	addrByCis *hashmap.Map[uint16, string]
	resolver  AddressResolver

	hist *history.History

	// SDU interval of the last CreateBig request; the create completion does
	// not echo it, so the member records inherit it from here.
	lastBigSduInterval uint32
}

// NewManager creates a manager for one controller instance. info must carry
// the controller's ISO buffer capabilities. A nil logger gets a default one.
func NewManager(transport Transport, info BufferInfo, logger *logrus.Logger, opts ...Option) *Manager {
	if transport == nil {
		panic("iso: nil transport")
	}
	if logger == nil {
		logger = logrus.New()
	}
	m := &Manager{
		transport:     transport,
		logger:        logger,
		isoCredits:    info.Credits,
		isoBufferSize: info.BufferSize,
		capacity:      info.Credits,
		table:         newStreamTable(),
		addrByCis:     hashmap.New[uint16, string](),
		hist:          history.New(defaultHistorySize),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger.WithFields(logrus.Fields{
		"iso_credits": info.Credits,
		"buffer_size": info.BufferSize,
	}).Info("iso manager created")
	return m
}

// RegisterCigCallbacks installs the unicast callback interface. Must be
// called before any CIG operation.
func (m *Manager) RegisterCigCallbacks(cb CigCallbacks) {
	if cb == nil {
		m.logger.Panic("invalid CIG callbacks")
	}
	m.cigCallbacks = cb
}

// RegisterBigCallbacks installs the broadcast callback interface.
func (m *Manager) RegisterBigCallbacks(cb BigCallbacks) {
	if cb == nil {
		m.logger.Panic("invalid BIG callbacks")
	}
	m.bigCallbacks = cb
}

// SetAddressResolver installs the ACL address lookup used to tag logs and
// diagnostics with peer addresses. Optional.
func (m *Manager) SetAddressResolver(r AddressResolver) {
	m.resolver = r
}

// AddTrafficObserver registers a listener notified whenever ISO traffic
// starts (a group created) or stops (a group removed or terminated). Safe to
// call from any goroutine.
func (m *Manager) AddTrafficObserver(fn func(active bool)) {
	if fn == nil {
		m.logger.Panic("invalid traffic observer")
	}
	m.observerMu.Lock()
	m.trafficObservers = append(m.trafficObservers, fn)
	m.observerMu.Unlock()
}

// notifyTraffic invokes observers outside the lock so that an observer may
// call back into the manager without deadlocking.
func (m *Manager) notifyTraffic(active bool) {
	m.observerMu.Lock()
	obs := make([]func(bool), len(m.trafficObservers))
	copy(obs, m.trafficObservers)
	m.observerMu.Unlock()
	for _, fn := range obs {
		fn(active)
	}
}

func (m *Manager) observerCount() int {
	m.observerMu.Lock()
	defer m.observerMu.Unlock()
	return len(m.trafficObservers)
}

// ActiveStreamCount reports the number of stream records currently tracked.
func (m *Manager) ActiveStreamCount() int {
	n := m.table.size()
	m.logger.WithField("count", n).Info("active iso streams")
	return n
}

func (m *Manager) peerFor(handle uint16) string {
	addr, _ := m.addrByCis.Get(handle)
	return addr
}

// HandleSubevent dispatches an LE meta subevent belonging to the ISO domain.
// CIS request and BIG sync established/lost are accepted and ignored: this
// manager only drives the central/broadcaster roles.
func (m *Manager) HandleSubevent(code uint8, payload []byte) {
	switch code {
	case hciev.SubeventCisEstablished:
		m.handleCisEstablished(payload)
	case hciev.SubeventCreateBigComplete:
		m.handleBigCreateComplete(payload)
	case hciev.SubeventTerminateBigComplete:
		m.handleBigTerminateComplete(payload)
	case hciev.SubeventCisRequest, hciev.SubeventBigSyncEstablished, hciev.SubeventBigSyncLost:
		// not supported
	default:
		m.logger.WithField("code", code).Error("unhandled iso subevent")
	}
}

// DisconnectionComplete must be fed every disconnection-complete event; the
// manager ignores handles that are not ISO streams. For a stream that was
// connected or cancelled it clears the connection state, force-reclaims the
// stream's outstanding credits and fires the disconnect callback.
// Notifications for streams that never reached a connected state are ignored.
func (m *Manager) DisconnectionComplete(handle uint16, reason uint8) {
	cis := m.table.cisFor(handle)
	if cis == nil {
		return
	}
	if m.cigCallbacks == nil {
		m.logger.Panic("invalid CIG callbacks")
	}

	m.logger.WithFields(logrus.Fields{
		"handle": handle,
		"state":  cis.state.String(),
		"reason": hciev.StatusText(reason),
	}).Info("cis disconnected")
	m.hist.Record(historyTag, m.peerFor(handle), "CIS disconnected", hciev.StatusText(reason))
	m.addrByCis.Del(handle)

	if cis.state != CisConnected && cis.state != CisCancelled {
		return
	}

	evt := CisDisconnectedEvent{
		Reason:        reason,
		CigID:         cis.groupID,
		CisConnHandle: handle,
	}
	m.cigCallbacks.OnCisDisconnected(evt)
	cis.state = CisUnconnected

	// Return the stream's in-flight credits to the pool. The data path is
	// considered still valid; it can be reconfigured once the CIS is
	// reestablished.
	m.isoCredits += cis.usedCredits
	cis.usedCredits = 0
}

// NumCompletedPackets replenishes the credit pool when the controller reports
// transmitted ISO packets for a handle. Completions for unknown handles, or
// beyond a stream's outstanding credits (possible after a disconnect already
// force-reclaimed them), are tolerated.
func (m *Manager) NumCompletedPackets(handle uint16, credits uint16) {
	s := m.table.anyFor(handle)
	if s == nil {
		return
	}
	b := s.base()
	rel := credits
	if rel > b.usedCredits {
		m.logger.WithFields(logrus.Fields{
			"handle":  handle,
			"credits": credits,
			"used":    b.usedCredits,
		}).Debug("more completions than outstanding credits")
		rel = b.usedCredits
	}
	b.usedCredits -= rel
	m.isoCredits += rel
}
