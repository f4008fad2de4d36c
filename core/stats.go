package core

import "sync/atomic"

// Stats is the statistics sink. Servers only ever increment it; readers
// take a Snapshot from any goroutine for periodic reporting.
type Stats struct {
	connections atomic.Uint64
	requests    atomic.Uint64
	bytesSent   atomic.Uint64
	rejected    atomic.Uint64
	active      atomic.Int64
	peak        atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats
type StatsSnapshot struct {
	Connections uint64 `json:"connections"`
	Requests    uint64 `json:"requests"`
	BytesSent   uint64 `json:"bytes_sent"`
	Rejected    uint64 `json:"rejected"`
	Active      int64  `json:"active"`
	Peak        int64  `json:"peak"`
}

// Opened records an accepted connection
func (s *Stats) Opened() {
	s.connections.Add(1)
	n := s.active.Add(1)
	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			return
		}
	}
}

// Closed records a released connection
func (s *Stats) Closed() { s.active.Add(-1) }

// Rejected records a connection refused for lack of capacity
func (s *Stats) Rejected() { s.rejected.Add(1) }

// Request records an answered request
func (s *Stats) Request() { s.requests.Add(1) }

// Sent records bytes accepted by a socket
func (s *Stats) Sent(n int) {
	if n > 0 {
		s.bytesSent.Add(uint64(n))
	}
}

// Snapshot returns the current counters
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Connections: s.connections.Load(),
		Requests:    s.requests.Load(),
		BytesSent:   s.bytesSent.Load(),
		Rejected:    s.rejected.Load(),
		Active:      s.active.Load(),
		Peak:        s.peak.Load(),
	}
}
