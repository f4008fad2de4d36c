package poller

import (
	"errors"
	"fmt"
	"strings"
)

// Interest is the kind of readiness a descriptor is registered for
type Interest uint8

const (
	Readable Interest = 1 << iota
	Writable
)

func (i Interest) String() string {
	switch i {
	case Readable:
		return "read"
	case Writable:
		return "write"
	case Readable | Writable:
		return "read|write"
	default:
		return "none"
	}
}

// Event is one (token, interest) pair reported ready by Wait
type Event struct {
	Token    uint64
	Interest Interest
}

// Poller is the I/O multiplexing interface.
//
// Register adds interest for fd and associates token with it. The token is
// returned verbatim by Wait, so callers can resolve the owner without a
// descriptor lookup. Registering an interest that is already present only
// refreshes the token. Unregister withdraws a single interest; withdrawing the
// last interest forgets the descriptor entirely.
//
// Wait blocks for at most timeoutMs milliseconds (negative blocks
// indefinitely) and returns events in the order the facility reported them.
// The returned slice is reused by the next call to Wait.
type Poller interface {
	Register(fd int, interest Interest, token uint64) error
	Unregister(fd int, interest Interest) error
	Wait(timeoutMs int) ([]Event, error)
	Close() error
}

// Kind selects a Poller implementation
type Kind string

const (
	// KindSelect scans a fixed-width descriptor bitmap on every wait
	KindSelect Kind = "select"
	// KindKernel uses the platform's kernel event queue (epoll or kqueue)
	KindKernel Kind = "kernel"
)

var (
	ErrClosed      = errors.New("poller: closed")
	ErrTooManyFds  = errors.New("poller: descriptor exceeds select capacity")
	ErrUnsupported = errors.New("poller: kind not supported on this platform")
)

// ParseKind maps a configuration string to a Kind. "epoll" and "kqueue" are
// accepted as aliases for the kernel queue.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "select", "scan":
		return KindSelect, nil
	case "kernel", "epoll", "kqueue", "":
		return KindKernel, nil
	}
	return "", fmt.Errorf("poller: unknown kind %q", s)
}

// New creates a Poller of the requested kind. capacity sizes the per-wait
// event batch for the kernel queue and is ignored by select.
func New(kind Kind, capacity int) (Poller, error) {
	if capacity <= 0 {
		capacity = 1024
	}
	switch kind {
	case KindSelect:
		return NewSelectPoller()
	case KindKernel, "":
		return NewKernelPoller(capacity)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, kind)
}

// registration tracks interest and token per descriptor; shared by all
// implementations so Unregister can compute the remaining mask.
type registration struct {
	interest Interest
	token    uint64
}
