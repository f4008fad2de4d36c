//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package poller

import (
	"errors"

	"golang.org/x/sys/unix"
)

// KqueuePoller is a kqueue-based I/O multiplexer
type KqueuePoller struct {
	kqfd    int
	ready   []unix.Kevent_t
	changes [2]unix.Kevent_t
	regs    map[int]registration
	events  []Event
}

// NewKernelPoller creates the platform kernel-queue Poller (BSD/macOS: kqueue)
func NewKernelPoller(batch int) (Poller, error) {
	return NewKqueuePoller(batch)
}

// NewKqueuePoller creates a kqueue Poller returning at most batch events per Wait
func NewKqueuePoller(batch int) (*KqueuePoller, error) {
	kqfd, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kqfd)

	return &KqueuePoller{
		kqfd:   kqfd,
		ready:  make([]unix.Kevent_t, batch),
		regs:   make(map[int]registration),
		events: make([]Event, 0, batch),
	}, nil
}

func (p *KqueuePoller) apply(fd int, interest Interest, flags int) error {
	changes := p.changes[:0]
	if interest&Readable != 0 {
		var ev unix.Kevent_t
		unix.SetKevent(&ev, fd, unix.EVFILT_READ, flags)
		changes = append(changes, ev)
	}
	if interest&Writable != 0 {
		var ev unix.Kevent_t
		unix.SetKevent(&ev, fd, unix.EVFILT_WRITE, flags)
		changes = append(changes, ev)
	}
	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.kqfd, changes, nil, nil)
	return err
}

// Register adds interest for fd
func (p *KqueuePoller) Register(fd int, interest Interest, token uint64) error {
	if p.kqfd < 0 {
		return ErrClosed
	}

	reg := p.regs[fd]
	// Use level-triggered (default); EV_CLEAR would need full drains per event
	if err := p.apply(fd, interest&^reg.interest, unix.EV_ADD|unix.EV_ENABLE); err != nil {
		return err
	}

	p.regs[fd] = registration{interest: reg.interest | interest, token: token}
	return nil
}

// Unregister withdraws interest for fd
func (p *KqueuePoller) Unregister(fd int, interest Interest) error {
	reg, ok := p.regs[fd]
	if !ok || p.kqfd < 0 {
		return nil
	}

	drop := reg.interest & interest
	reg.interest &^= interest
	if reg.interest == 0 {
		delete(p.regs, fd)
	} else {
		p.regs[fd] = reg
	}
	return p.apply(fd, drop, unix.EV_DELETE)
}

// Wait waits for I/O events
func (p *KqueuePoller) Wait(timeoutMs int) ([]Event, error) {
	if p.kqfd < 0 {
		return nil, ErrClosed
	}

	var ts *unix.Timespec
	if timeoutMs >= 0 {
		t := unix.NsecToTimespec(int64(timeoutMs) * 1_000_000)
		ts = &t
	}

	n, err := unix.Kevent(p.kqfd, nil, p.ready, ts)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, err
	}

	p.events = p.events[:0]
	for i := 0; i < n; i++ {
		ev := p.ready[i]
		if ev.Flags&unix.EV_ERROR != 0 {
			continue
		}
		reg, ok := p.regs[int(ev.Ident)]
		if !ok {
			continue
		}

		switch {
		case ev.Filter == unix.EVFILT_READ && reg.interest&Readable != 0:
			p.events = append(p.events, Event{Token: reg.token, Interest: Readable})
		case ev.Filter == unix.EVFILT_WRITE && reg.interest&Writable != 0:
			p.events = append(p.events, Event{Token: reg.token, Interest: Writable})
		}
	}

	return p.events, nil
}

// Close closes the Poller
func (p *KqueuePoller) Close() error {
	if p.kqfd < 0 {
		return nil
	}
	err := unix.Close(p.kqfd)
	p.kqfd = -1
	p.regs = nil
	return err
}
