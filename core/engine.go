package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime"
	"time"

	"golang.org/x/sys/unix"

	"github.com/searchktools/fileserver/core/http"
	"github.com/searchktools/fileserver/core/poller"
	"github.com/searchktools/fileserver/core/pools"
	"github.com/searchktools/fileserver/core/sendfile"
)

// listenerToken identifies the listening socket in poller events. Slot
// handles never reach it: their index half is bounded by the pool size.
const listenerToken = ^uint64(0)

// Options configures an Engine
type Options struct {
	Addr             string
	Port             int
	Root             string
	Poller           poller.Kind
	PoolSize         int
	ReadBufferSize   int
	HeaderBufferSize int
	ChunkSize        int
	Backlog          int
	EventBatch       int
	WaitTimeout      time.Duration
}

// DefaultOptions returns the settings used when a field is left zero
func DefaultOptions() Options {
	return Options{
		Addr:             "0.0.0.0",
		Port:             8080,
		Root:             ".",
		Poller:           poller.KindKernel,
		PoolSize:         10000,
		ReadBufferSize:   4096,
		HeaderBufferSize: 512,
		ChunkSize:        32768,
		Backlog:          1024,
		EventBatch:       1024,
		WaitTimeout:      100 * time.Millisecond,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Poller == "" {
		o.Poller = d.Poller
	}
	if o.PoolSize <= 0 {
		o.PoolSize = d.PoolSize
	}
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = d.ReadBufferSize
	}
	if o.HeaderBufferSize <= 0 {
		o.HeaderBufferSize = d.HeaderBufferSize
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = d.ChunkSize
	}
	if o.Backlog <= 0 {
		o.Backlog = d.Backlog
	}
	if o.EventBatch <= 0 {
		o.EventBatch = d.EventBatch
	}
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = d.WaitTimeout
	}
	return o
}

// Engine is the single-threaded reactor: one goroutine, locked to its OS
// thread, owns the poller, the connection pool and every buffer. Nothing in
// it is guarded by a lock because nothing else touches it.
type Engine struct {
	opts      Options
	logger    *slog.Logger
	poller    poller.Poller
	pool      *pools.SlotPool[Connection]
	processor *Processor
	stats     *Stats

	// one chunk buffer for the whole loop: only one chunk is ever in flight
	chunk []byte

	lfd    int
	addr   *net.TCPAddr
	closed bool
}

// NewEngine creates an engine serving opts.Root. The listening socket is not
// opened until Listen.
func NewEngine(opts Options, logger *slog.Logger) (*Engine, error) {
	opts = opts.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	processor, err := NewProcessor(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("document root: %w", err)
	}

	if opts.Poller == poller.KindSelect && opts.PoolSize > poller.FdSetSize {
		logger.Warn("pool size exceeds select capacity, clamping",
			"pool", opts.PoolSize, "limit", poller.FdSetSize)
		opts.PoolSize = poller.FdSetSize
	}

	p, err := poller.New(opts.Poller, opts.EventBatch)
	if err != nil {
		return nil, fmt.Errorf("poller: %w", err)
	}

	e := &Engine{
		opts:      opts,
		logger:    logger,
		poller:    p,
		processor: processor,
		stats:     &Stats{},
		chunk:     make([]byte, opts.ChunkSize),
		lfd:       -1,
	}
	e.pool = pools.NewSlotPool(opts.PoolSize, func(_ int, c *Connection) {
		c.fd = -1
		c.state = closed
	})

	return e, nil
}

// Listen opens the listening socket and registers it with the poller
func (e *Engine) Listen() error {
	if e.lfd >= 0 {
		return nil
	}

	lfd, addr, err := listenSocket(e.opts.Addr, e.opts.Port, e.opts.Backlog)
	if err != nil {
		return err
	}
	if err := e.poller.Register(lfd, poller.Readable, listenerToken); err != nil {
		unix.Close(lfd)
		return fmt.Errorf("register listener: %w", err)
	}

	e.lfd = lfd
	e.addr = addr
	return nil
}

// Addr returns the bound address once Listen has succeeded
func (e *Engine) Addr() net.Addr {
	if e.addr == nil {
		return nil
	}
	return e.addr
}

// Stats returns the statistics sink
func (e *Engine) Stats() *Stats { return e.stats }

// Root returns the canonical document root
func (e *Engine) Root() string { return e.processor.Root() }

// Serve runs the event loop until ctx is cancelled or the poller fails.
// All connections are dropped and the listener closed on return.
func (e *Engine) Serve(ctx context.Context) error {
	if err := e.Listen(); err != nil {
		return err
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer e.Close()

	e.logger.Info("reactor listening",
		"addr", e.addr.String(),
		"root", e.processor.Root(),
		"poller", string(e.opts.Poller),
		"pool", e.pool.Cap())

	timeout := int(e.opts.WaitTimeout / time.Millisecond)
	for {
		if ctx.Err() != nil {
			return nil
		}

		events, err := e.poller.Wait(timeout)
		if err != nil {
			if errors.Is(err, poller.ErrClosed) {
				return nil
			}
			return fmt.Errorf("poller wait: %w", err)
		}

		for _, ev := range events {
			if ev.Token == listenerToken {
				e.acceptConnections()
				continue
			}

			conn, ok := e.pool.Resolve(pools.Handle(ev.Token))
			if !ok {
				// released earlier in this batch
				continue
			}

			var done bool
			switch ev.Interest {
			case poller.Readable:
				done = e.handleRead(conn)
			case poller.Writable:
				done = e.handleWrite(conn)
			}
			if done {
				e.release(conn)
			}
		}
	}
}

// acceptConnections drains the accept queue: listener readiness is level
// triggered and one notification may stand for many pending connections
func (e *Engine) acceptConnections() {
	for {
		nfd, _, err := unix.Accept(e.lfd)
		if err != nil {
			switch {
			case sendfile.IsWouldBlock(err):
			case errors.Is(err, unix.EINTR), errors.Is(err, unix.ECONNABORTED):
				continue
			default:
				e.logger.Warn("accept failed", "err", err)
			}
			return
		}

		h, conn, ok := e.pool.Allocate()
		if !ok {
			// pool exhausted: refuse without writing a byte
			unix.Close(nfd)
			e.stats.Rejected()
			e.logger.Debug("pool exhausted, connection refused", "active", e.pool.Active())
			continue
		}

		if err := configureClient(nfd); err != nil {
			unix.Close(nfd)
			e.pool.Release(h)
			e.logger.Debug("configure client socket", "err", err)
			continue
		}

		conn.begin(nfd, h, e.opts.ReadBufferSize, e.opts.HeaderBufferSize)
		e.stats.Opened()

		if err := e.setInterest(conn, poller.Readable); err != nil {
			e.logger.Warn("register connection", "fd", nfd, "err", err)
			e.release(conn)
		}
	}
}

// setInterest moves the connection's registration to exactly want
func (e *Engine) setInterest(conn *Connection, want poller.Interest) error {
	if drop := conn.interest &^ want; drop != 0 {
		if err := e.poller.Unregister(conn.fd, drop); err != nil {
			return err
		}
		conn.interest &^= drop
	}
	if add := want &^ conn.interest; add != 0 {
		if err := e.poller.Register(conn.fd, add, uint64(conn.handle)); err != nil {
			return err
		}
		conn.interest |= add
	}
	return nil
}

// handleRead accumulates request bytes. It reports true when the connection
// has reached a terminal condition.
func (e *Engine) handleRead(conn *Connection) bool {
	st, ok := conn.state.(*readingRequest)
	if !ok {
		return false
	}

	n, err := unix.Read(conn.fd, st.buf[st.filled:])
	if err != nil {
		if sendfile.IsWouldBlock(err) || errors.Is(err, unix.EINTR) {
			return false
		}
		e.logger.Debug("read failed", "fd", conn.fd, "err", err)
		return true
	}
	if n <= 0 {
		// orderly close before a request was answered
		return true
	}

	prev := st.filled
	st.filled += n

	var plan Plan
	switch {
	case http.HeaderCompleteFrom(st.buf[:st.filled], prev):
		plan = e.processor.Process(st.buf[:st.filled], conn.headBuf)
	case st.filled == len(st.buf):
		plan = ErrorPlan(conn.headBuf, http.StatusRequestTooLarge)
	default:
		return false
	}

	e.stats.Request()
	if !plan.Answerable() {
		if plan.File != nil {
			plan.File.Close()
		}
		e.logger.Warn("response head does not fit header buffer", "status", plan.Status)
		return true
	}

	conn.respond(plan)
	if err := e.setInterest(conn, poller.Writable); err != nil {
		e.logger.Warn("arm write interest", "fd", conn.fd, "err", err)
		return true
	}
	return false
}

// handleWrite drains the head, then the body. It reports true when the
// response is complete or the transport failed.
func (e *Engine) handleWrite(conn *Connection) bool {
	sink := sendfile.FD(conn.fd)

	if st, ok := conn.state.(*sendingHeader); ok {
		n, done, err := sendfile.SendHeader(sink, &st.head)
		e.stats.Sent(n)
		if err != nil {
			e.logger.Debug("send header failed", "fd", conn.fd, "err", err)
			return true
		}
		if !done {
			return false
		}
		if st.pending == nil || st.size == 0 {
			return true
		}
		conn.stream()
	}

	st, ok := conn.state.(*sendingFile)
	if !ok {
		return false
	}

	n, done, err := sendfile.SendChunk(sink, &st.body, e.chunk)
	e.stats.Sent(n)
	if err != nil {
		e.logger.Debug("send body failed", "fd", conn.fd, "err", err)
		return true
	}
	return done
}

// release tears a connection down and returns its slot to the pool. Any
// state is discarded immediately; there is no drain phase.
func (e *Engine) release(conn *Connection) {
	if conn.fd >= 0 {
		if conn.interest != 0 {
			e.poller.Unregister(conn.fd, conn.interest)
		}
		unix.Close(conn.fd)
		e.stats.Closed()
	}
	if f := conn.openFile(); f != nil {
		f.Close()
	}

	h := conn.handle
	conn.reset()
	e.pool.Release(h)
}

// Close drops every live connection and closes the listener and poller
func (e *Engine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true

	e.pool.Each(func(_ pools.Handle, conn *Connection) {
		e.release(conn)
	})
	ps := e.pool.Stats()
	e.logger.Info("reactor stopped",
		"allocs", ps.Allocs,
		"releases", ps.Releases,
		"refused", ps.Refused)
	if e.lfd >= 0 {
		e.poller.Unregister(e.lfd, poller.Readable)
		unix.Close(e.lfd)
		e.lfd = -1
	}
	return e.poller.Close()
}
