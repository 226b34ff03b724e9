package iso

import "github.com/srg/isoch/internal/history"

// An Option is a configuration function, which configures the manager.
type Option func(*Manager)

// WithHistorySize sets the capacity of the diagnostic breadcrumb ring.
func WithHistorySize(n uint32) Option {
	return func(m *Manager) {
		if n > 0 {
			m.hist = history.New(n)
		}
	}
}

// WithAddressResolver installs the ACL address lookup at construction time.
func WithAddressResolver(r AddressResolver) Option {
	return func(m *Manager) {
		m.resolver = r
	}
}
