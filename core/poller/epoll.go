//go:build linux

package poller

import (
	"errors"

	"golang.org/x/sys/unix"
)

// EpollPoller is an epoll-based I/O multiplexer. Level-triggered; interest
// changes go straight to the kernel list and Wait only sees the ready subset.
type EpollPoller struct {
	epfd   int
	ready  []unix.EpollEvent
	regs   map[int]registration
	events []Event
}

// NewKernelPoller creates the platform kernel-queue Poller (Linux: epoll)
func NewKernelPoller(batch int) (Poller, error) {
	return NewEpollPoller(batch)
}

// NewEpollPoller creates an epoll Poller returning at most batch events per Wait
func NewEpollPoller(batch int) (*EpollPoller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}

	return &EpollPoller{
		epfd:   epfd,
		ready:  make([]unix.EpollEvent, batch),
		regs:   make(map[int]registration),
		events: make([]Event, 0, batch),
	}, nil
}

func epollMask(i Interest) uint32 {
	var m uint32
	if i&Readable != 0 {
		// EPOLLRDHUP: detect peer shutdown
		m |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if i&Writable != 0 {
		m |= unix.EPOLLOUT
	}
	return m
}

// Register adds interest for fd
func (p *EpollPoller) Register(fd int, interest Interest, token uint64) error {
	if p.epfd < 0 {
		return ErrClosed
	}

	reg, ok := p.regs[fd]
	next := reg.interest | interest
	op := unix.EPOLL_CTL_ADD
	if ok {
		op = unix.EPOLL_CTL_MOD
	}

	ev := unix.EpollEvent{Events: epollMask(next), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, op, fd, &ev); err != nil {
		return err
	}

	p.regs[fd] = registration{interest: next, token: token}
	return nil
}

// Unregister withdraws interest for fd
func (p *EpollPoller) Unregister(fd int, interest Interest) error {
	reg, ok := p.regs[fd]
	if !ok || p.epfd < 0 {
		return nil
	}

	reg.interest &^= interest
	if reg.interest == 0 {
		delete(p.regs, fd)
		return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	}

	p.regs[fd] = reg
	ev := unix.EpollEvent{Events: epollMask(reg.interest), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

// Wait waits for I/O events
func (p *EpollPoller) Wait(timeoutMs int) ([]Event, error) {
	if p.epfd < 0 {
		return nil, ErrClosed
	}

	n, err := unix.EpollWait(p.epfd, p.ready, timeoutMs)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, err
	}

	p.events = p.events[:0]
	for i := 0; i < n; i++ {
		ev := p.ready[i]
		reg, ok := p.regs[int(ev.Fd)]
		if !ok {
			continue
		}

		// errors and hangups are surfaced through whichever handler is armed;
		// the next read or write reports the actual failure
		const broken = unix.EPOLLERR | unix.EPOLLHUP
		if reg.interest&Readable != 0 && ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP|broken) != 0 {
			p.events = append(p.events, Event{Token: reg.token, Interest: Readable})
		}
		if reg.interest&Writable != 0 && ev.Events&(unix.EPOLLOUT|broken) != 0 {
			p.events = append(p.events, Event{Token: reg.token, Interest: Writable})
		}
	}

	return p.events, nil
}

// Close closes the Poller
func (p *EpollPoller) Close() error {
	if p.epfd < 0 {
		return nil
	}
	err := unix.Close(p.epfd)
	p.epfd = -1
	p.regs = nil
	return err
}
