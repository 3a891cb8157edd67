// Package network carries the client's connectivity signal. How the signal is
// derived (platform API, user toggle, CLI flag) is up to whoever calls
// SetOnline.
package network

import "sync"

// Status reports connectivity.
type Status interface {
	Online() bool
}

// Monitor is an observable online/offline flag. Subscribers receive every
// change; a subscriber that falls behind only sees the latest value.
type Monitor struct {
	mu     sync.Mutex
	online bool
	subs   map[chan bool]struct{}
}

// NewMonitor creates a monitor with the given initial status.
func NewMonitor(online bool) *Monitor {
	return &Monitor{
		online: online,
		subs:   make(map[chan bool]struct{}),
	}
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline updates the status, notifying subscribers when it changes.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.online == online {
		return
	}
	m.online = online

	for ch := range m.subs {
		// replace any undelivered value with the latest
		select {
		case <-ch:
		default:
		}
		ch <- online
	}
}

// Subscribe returns a channel of status changes and a function that
// unsubscribes and closes the channel. The unsubscribe function is safe to
// call more than once.
func (m *Monitor) Subscribe() (<-chan bool, func()) {
	ch := make(chan bool, 1)

	m.mu.Lock()
	m.subs[ch] = struct{}{}
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, ch)
			m.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers reports the number of active subscriptions.
func (m *Monitor) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}
