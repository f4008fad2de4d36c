// Package threaded is the blocking scheduling model: one accept loop feeding
// a fixed set of workers through a bounded queue. Each worker owns one
// connection at a time and uses ordinary blocking I/O.
package threaded

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/searchktools/fileserver/core"
	"github.com/searchktools/fileserver/core/http"
	"github.com/searchktools/fileserver/core/pools"
	"github.com/searchktools/fileserver/core/sendfile"
)

// Options configures a Server
type Options struct {
	Addr             string
	Port             int
	Root             string
	Workers          int
	QueueSize        int
	ReadBufferSize   int
	HeaderBufferSize int
	ChunkSize        int
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 32
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 1024
	}
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = 4096
	}
	if o.HeaderBufferSize <= 0 {
		o.HeaderBufferSize = 512
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = 32768
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 5 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = o.ReadTimeout
	}
	return o
}

// Server answers one request per connection on a worker goroutine
type Server struct {
	opts      Options
	logger    *slog.Logger
	processor *core.Processor
	stats     *core.Stats
	buffers   *pools.BytePool
	workers   *pools.WorkerPool

	mu        sync.Mutex
	ln        net.Listener
	closeOnce sync.Once
}

// NewServer creates a server for opts.Root. Workers start immediately and
// wait for connections once Serve runs.
func NewServer(opts Options, logger *slog.Logger) (*Server, error) {
	opts = opts.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	processor, err := core.NewProcessor(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("document root: %w", err)
	}

	return &Server{
		opts:      opts,
		logger:    logger,
		processor: processor,
		stats:     &core.Stats{},
		buffers:   pools.NewBytePool(),
		workers:   pools.NewWorkerPool(opts.Workers, opts.QueueSize),
	}, nil
}

// Listen binds the listening socket
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return nil
	}

	lc := net.ListenConfig{Control: reuseAddr}
	ln, err := lc.Listen(context.Background(), "tcp4",
		net.JoinHostPort(s.opts.Addr, strconv.Itoa(s.opts.Port)))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.ln = ln
	return nil
}

func reuseAddr(_, _ string, c syscall.RawConn) error {
	var serr error
	err := c.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return serr
}

// Addr returns the bound address, nil before Listen
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Stats returns the statistics sink
func (s *Server) Stats() *core.Stats { return s.stats }

// Serve accepts connections until ctx is cancelled or Close is called, then
// waits for in-flight connections to finish.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()
	defer s.workers.Close()

	s.logger.Info("threaded server listening",
		"addr", ln.Addr().String(),
		"root", s.processor.Root(),
		"workers", s.opts.Workers,
		"queue", s.opts.QueueSize)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}

		if tc, ok := conn.(*net.TCPConn); ok {
			tc.SetNoDelay(true)
		}

		if !s.workers.Submit(func() { s.handle(conn) }) {
			// queue full: shed without a response
			conn.Close()
			s.stats.Rejected()
			s.logger.Debug("queue full, connection refused", "remote", conn.RemoteAddr().String())
		}
	}
}

// Close stops accepting. Connections already queued are still served.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.ln != nil {
			err = s.ln.Close()
		}
	})
	return err
}

func (s *Server) handle(conn net.Conn) {
	s.stats.Opened()
	defer s.stats.Closed()
	defer conn.Close()

	reqBuf := s.buffers.Get(s.opts.ReadBufferSize)
	defer s.buffers.Put(reqBuf)
	headBuf := s.buffers.Get(s.opts.HeaderBufferSize)
	defer s.buffers.Put(headBuf)

	plan, ok := s.readRequest(conn, *reqBuf, *headBuf)
	if !ok {
		return
	}
	if plan.File != nil {
		defer plan.File.Close()
	}

	s.stats.Request()
	if !plan.Answerable() {
		s.logger.Warn("response head does not fit header buffer", "status", plan.Status)
		return
	}

	s.respond(conn, (*headBuf)[:plan.HeaderLen], plan)
}

// readRequest reads until the head is complete or the buffer is full. ok is
// false when the peer went away or timed out before either happened.
func (s *Server) readRequest(conn net.Conn, buf, head []byte) (core.Plan, bool) {
	filled := 0
	for {
		conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
		n, err := conn.Read(buf[filled:])
		prev := filled
		filled += n

		switch {
		case n > 0 && http.HeaderCompleteFrom(buf[:filled], prev):
			return s.processor.Process(buf[:filled], head), true
		case filled == len(buf):
			return core.ErrorPlan(head, http.StatusRequestTooLarge), true
		case err != nil:
			s.logger.Debug("read failed", "remote", conn.RemoteAddr().String(), "err", err)
			return core.Plan{}, false
		}
	}
}

func (s *Server) respond(conn net.Conn, head []byte, plan core.Plan) {
	conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))

	h := sendfile.Header{Buf: head}
	for {
		n, done, err := sendfile.SendHeader(conn, &h)
		s.stats.Sent(n)
		if err != nil {
			s.logger.Debug("send header failed", "remote", conn.RemoteAddr().String(), "err", err)
			return
		}
		if done {
			break
		}
	}

	if plan.File == nil || plan.Size == 0 {
		return
	}

	chunk := s.buffers.Get(s.opts.ChunkSize)
	defer s.buffers.Put(chunk)

	body := sendfile.Body{File: plan.File, Size: plan.Size}
	for {
		conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
		n, done, err := sendfile.SendChunk(conn, &body, *chunk)
		s.stats.Sent(n)
		if err != nil {
			if !errors.Is(err, os.ErrDeadlineExceeded) {
				s.logger.Debug("send body failed", "remote", conn.RemoteAddr().String(), "err", err)
			}
			return
		}
		if done {
			return
		}
	}
}

// Workers returns the worker pool statistics
func (s *Server) Workers() pools.WorkerPoolStats { return s.workers.Stats() }
