//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package poller

import (
	"errors"
	"unsafe"

	"golang.org/x/sys/unix"
)

// FdSetSize is the highest descriptor number (exclusive) select can watch
var FdSetSize = int(unsafe.Sizeof(unix.FdSet{})) * 8

// SelectPoller is a select(2)-based multiplexer. Interest lives in a dense
// list that is scanned in full on every Wait, so the cost of a wait grows with
// the number of registrations rather than the number of ready descriptors.
type SelectPoller struct {
	regs   map[int]registration
	order  []int
	index  map[int]int
	rset   unix.FdSet
	wset   unix.FdSet
	events []Event
	closed bool
}

// NewSelectPoller creates a bounded-scan Poller
func NewSelectPoller() (*SelectPoller, error) {
	return &SelectPoller{
		regs:   make(map[int]registration),
		index:  make(map[int]int),
		events: make([]Event, 0, 64),
	}, nil
}

// Register adds interest for fd
func (p *SelectPoller) Register(fd int, interest Interest, token uint64) error {
	if p.closed {
		return ErrClosed
	}
	if fd < 0 || fd >= FdSetSize {
		return ErrTooManyFds
	}

	reg, ok := p.regs[fd]
	if !ok {
		p.index[fd] = len(p.order)
		p.order = append(p.order, fd)
	}
	reg.interest |= interest
	reg.token = token
	p.regs[fd] = reg
	return nil
}

// Unregister withdraws interest for fd
func (p *SelectPoller) Unregister(fd int, interest Interest) error {
	reg, ok := p.regs[fd]
	if !ok {
		return nil
	}

	reg.interest &^= interest
	if reg.interest != 0 {
		p.regs[fd] = reg
		return nil
	}

	// swap-remove keeps the scan list dense
	i := p.index[fd]
	last := len(p.order) - 1
	if i != last {
		moved := p.order[last]
		p.order[i] = moved
		p.index[moved] = i
	}
	p.order = p.order[:last]
	delete(p.index, fd)
	delete(p.regs, fd)
	return nil
}

// Wait waits for I/O events
func (p *SelectPoller) Wait(timeoutMs int) ([]Event, error) {
	if p.closed {
		return nil, ErrClosed
	}

	p.rset.Zero()
	p.wset.Zero()
	maxFd := -1
	for _, fd := range p.order {
		reg := p.regs[fd]
		if reg.interest&Readable != 0 {
			p.rset.Set(fd)
		}
		if reg.interest&Writable != 0 {
			p.wset.Set(fd)
		}
		if fd > maxFd {
			maxFd = fd
		}
	}

	var tv *unix.Timeval
	if timeoutMs >= 0 {
		t := unix.NsecToTimeval(int64(timeoutMs) * 1_000_000)
		tv = &t
	}

	n, err := unix.Select(maxFd+1, &p.rset, &p.wset, nil, tv)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, err
	}

	p.events = p.events[:0]
	if n <= 0 {
		return p.events, nil
	}

	for _, fd := range p.order {
		reg := p.regs[fd]
		if reg.interest&Readable != 0 && p.rset.IsSet(fd) {
			p.events = append(p.events, Event{Token: reg.token, Interest: Readable})
		}
		if reg.interest&Writable != 0 && p.wset.IsSet(fd) {
			p.events = append(p.events, Event{Token: reg.token, Interest: Writable})
		}
	}

	return p.events, nil
}

// Close releases the registrations; select holds no kernel object
func (p *SelectPoller) Close() error {
	p.closed = true
	p.regs = nil
	p.order = nil
	p.index = nil
	return nil
}

// Len reports the number of registered descriptors
func (p *SelectPoller) Len() int {
	return len(p.order)
}
