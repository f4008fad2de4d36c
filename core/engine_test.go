package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/searchktools/fileserver/core/poller"
)

const indexBody = "<html><body>Hello World</body></html>"

func writeRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "index.html"), []byte(indexBody), 0o644); err != nil {
		t.Fatal(err)
	}
	big := bytes.Repeat([]byte("0123456789abcdef"), 16*1024)
	if err := os.WriteFile(filepath.Join(root, "big.bin"), big, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	return root
}

type testServer struct {
	engine *Engine
	addr   string
	cancel context.CancelFunc
	done   chan error
}

func startEngine(t *testing.T, kind poller.Kind, mutate func(*Options)) *testServer {
	t.Helper()
	return startEngineWith(t, kind, mutate, nil)
}

// startEngineWith is startEngine with the poller optionally wrapped before
// the listener is registered
func startEngineWith(t *testing.T, kind poller.Kind, mutate func(*Options), wrap func(poller.Poller) poller.Poller) *testServer {
	t.Helper()

	opts := Options{
		Addr:        "127.0.0.1",
		Port:        0,
		Root:        writeRoot(t),
		Poller:      kind,
		PoolSize:    64,
		ChunkSize:   4096,
		WaitTimeout: 10 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&opts)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e, err := NewEngine(opts, logger)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if wrap != nil {
		e.poller = wrap(e.poller)
	}
	if err := e.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &testServer{
		engine: e,
		addr:   e.Addr().String(),
		cancel: cancel,
		done:   make(chan error, 1),
	}
	go func() { s.done <- e.Serve(ctx) }()

	t.Cleanup(s.stop)
	return s
}

func (s *testServer) stop() {
	s.cancel()
	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
	}
}

// waitActive polls the stats sink until the active count reaches want
func (s *testServer) waitActive(t *testing.T, want int64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s.engine.Stats().Snapshot().Active == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("active = %d, want %d", s.engine.Stats().Snapshot().Active, want)
}

func roundTrip(t *testing.T, addr, raw string) []byte {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	if _, err := io.WriteString(conn, raw); err != nil {
		t.Fatalf("write: %v", err)
	}
	resp, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return resp
}

func splitResponse(t *testing.T, resp []byte) (string, []byte) {
	t.Helper()
	i := bytes.Index(resp, []byte("\r\n\r\n"))
	if i < 0 {
		t.Fatalf("no header terminator in %q", resp)
	}
	return string(resp[:i+2]), resp[i+4:]
}

var kinds = []poller.Kind{poller.KindSelect, poller.KindKernel}

func TestEngineServesIndex(t *testing.T) {
	for _, kind := range kinds {
		t.Run(string(kind), func(t *testing.T) {
			s := startEngine(t, kind, nil)

			resp := roundTrip(t, s.addr, "GET /index.html HTTP/1.1\r\nHost: x\r\n\r\n")
			head, body := splitResponse(t, resp)

			if !strings.HasPrefix(head, "HTTP/1.1 200 OK\r\n") {
				t.Errorf("status line: %q", head)
			}
			for _, want := range []string{
				"Content-Length: 37\r\n",
				"Content-Type: text/html\r\n",
				"Connection: close\r\n",
			} {
				if !strings.Contains(head, want) {
					t.Errorf("missing %q in %q", want, head)
				}
			}
			if string(body) != indexBody {
				t.Errorf("body = %q", body)
			}
		})
	}
}

func TestEngineRootMapsToIndex(t *testing.T) {
	s := startEngine(t, poller.KindKernel, nil)

	a := roundTrip(t, s.addr, "GET / HTTP/1.1\r\n\r\n")
	b := roundTrip(t, s.addr, "GET /index.html HTTP/1.1\r\n\r\n")
	if !bytes.Equal(a, b) {
		t.Errorf("GET / differs from GET /index.html:\n%q\n%q", a, b)
	}
}

func TestEngineStatuses(t *testing.T) {
	tests := []struct {
		name   string
		req    string
		status string
	}{
		{"traversal", "GET /../../../etc/passwd HTTP/1.1\r\n\r\n", "404"},
		{"missing", "GET /nope.txt HTTP/1.1\r\n\r\n", "404"},
		{"directory", "GET /sub HTTP/1.1\r\n\r\n", "404"},
		{"post", "POST /index.html HTTP/1.1\r\n\r\n", "400"},
		{"garbage", "hello\r\n\r\n", "400"},
	}

	for _, kind := range kinds {
		s := startEngine(t, kind, nil)
		for _, tt := range tests {
			t.Run(string(kind)+"/"+tt.name, func(t *testing.T) {
				head, _ := splitResponse(t, roundTrip(t, s.addr, tt.req))
				if !strings.HasPrefix(head, "HTTP/1.1 "+tt.status+" ") {
					t.Errorf("got %q, want status %s", head, tt.status)
				}
			})
		}
	}
}

// exchange writes req while reading concurrently and returns whatever arrived
// before the server closed. Write and read errors are ignored: a server that
// closes with request bytes unread resets the connection.
func exchange(t *testing.T, addr, req string) []byte {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	go io.WriteString(conn, req)
	resp, _ := io.ReadAll(conn)
	return resp
}

func TestEngineRequestTooLarge(t *testing.T) {
	const bufSize = 64
	tests := []struct {
		name string
		req  string
	}{
		{"exact buffer", "GET /" + strings.Repeat("a", bufSize-5)},
		{"oversized", "GET /" + strings.Repeat("a", 256*bufSize) + " HTTP/1.1\r\n\r\n"},
	}

	for _, kind := range kinds {
		s := startEngine(t, kind, func(o *Options) { o.ReadBufferSize = bufSize })
		for _, tt := range tests {
			t.Run(string(kind)+"/"+tt.name, func(t *testing.T) {
				resp := exchange(t, s.addr, tt.req)
				if !bytes.HasPrefix(resp, []byte("HTTP/1.1 413 ")) {
					t.Errorf("got %q, want 413", resp)
				}
			})
		}
		s.waitActive(t, 0)
	}
}

func TestEngineLargeFile(t *testing.T) {
	for _, kind := range kinds {
		t.Run(string(kind), func(t *testing.T) {
			s := startEngine(t, kind, nil)
			want, err := os.ReadFile(filepath.Join(s.engine.Root(), "big.bin"))
			if err != nil {
				t.Fatal(err)
			}

			head, body := splitResponse(t, roundTrip(t, s.addr, "GET /big.bin HTTP/1.0\r\n\r\n"))
			if !strings.Contains(head, fmt.Sprintf("Content-Length: %d\r\n", len(want))) {
				t.Errorf("header %q", head)
			}
			if !strings.Contains(head, "Content-Type: application/octet-stream\r\n") {
				t.Errorf("header %q", head)
			}
			if !bytes.Equal(body, want) {
				t.Errorf("body mismatch: got %d bytes, want %d", len(body), len(want))
			}
		})
	}
}

func TestEnginePoolExhaustion(t *testing.T) {
	s := startEngine(t, poller.KindKernel, func(o *Options) { o.PoolSize = 1 })

	held, err := net.Dial("tcp", s.addr)
	if err != nil {
		t.Fatal(err)
	}
	defer held.Close()
	s.waitActive(t, 1)

	refused, err := net.Dial("tcp", s.addr)
	if err != nil {
		t.Fatal(err)
	}
	refused.SetDeadline(time.Now().Add(5 * time.Second))
	got, _ := io.ReadAll(refused)
	refused.Close()
	if len(got) != 0 {
		t.Errorf("refused connection received %q", got)
	}

	// the held connection is still served
	held.SetDeadline(time.Now().Add(5 * time.Second))
	io.WriteString(held, "GET / HTTP/1.1\r\n\r\n")
	resp, _ := io.ReadAll(held)
	if !bytes.HasPrefix(resp, []byte("HTTP/1.1 200 OK")) {
		t.Errorf("held connection got %q", resp)
	}

	snap := s.engine.Stats().Snapshot()
	if snap.Rejected == 0 {
		t.Error("rejected counter not incremented")
	}
}

func TestEngineSequentialChurn(t *testing.T) {
	const pool = 8
	for _, kind := range kinds {
		t.Run(string(kind), func(t *testing.T) {
			s := startEngine(t, kind, func(o *Options) { o.PoolSize = pool })

			first := roundTrip(t, s.addr, "GET /index.html HTTP/1.1\r\n\r\n")
			for i := 1; i < 2*pool; i++ {
				got := roundTrip(t, s.addr, "GET /index.html HTTP/1.1\r\n\r\n")
				if !bytes.Equal(got, first) {
					t.Fatalf("request %d differs:\n%q\n%q", i, got, first)
				}
			}

			s.waitActive(t, 0)
			snap := s.engine.Stats().Snapshot()
			if snap.Rejected != 0 {
				t.Errorf("rejected = %d, want 0", snap.Rejected)
			}
			if snap.Connections != 2*pool {
				t.Errorf("connections = %d, want %d", snap.Connections, 2*pool)
			}
			if snap.Requests != 2*pool {
				t.Errorf("requests = %d, want %d", snap.Requests, 2*pool)
			}
		})
	}
}

func TestEnginePeerCloseReleasesSlot(t *testing.T) {
	s := startEngine(t, poller.KindKernel, nil)

	conn, err := net.Dial("tcp", s.addr)
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(conn, "GET /index")
	s.waitActive(t, 1)
	conn.Close()
	s.waitActive(t, 0)

	if n := s.engine.Stats().Snapshot().Requests; n != 0 {
		t.Errorf("requests = %d, want 0", n)
	}
}

func TestEngineSplitRequest(t *testing.T) {
	s := startEngine(t, poller.KindSelect, nil)

	conn, err := net.Dial("tcp", s.addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	for _, part := range []string{"GET /index", ".html HTTP/1.1\r", "\n\r", "\n"} {
		io.WriteString(conn, part)
		time.Sleep(10 * time.Millisecond)
	}
	resp, _ := io.ReadAll(conn)
	_, body := splitResponse(t, resp)
	if string(body) != indexBody {
		t.Errorf("body = %q", body)
	}
}

func TestEngineCloseIdempotent(t *testing.T) {
	e, err := NewEngine(Options{Addr: "127.0.0.1", Root: writeRoot(t)}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Listen(); err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestNewEngineClampsSelectPool(t *testing.T) {
	e, err := NewEngine(Options{Root: writeRoot(t), Poller: poller.KindSelect, PoolSize: 5000}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()
	if got := e.pool.Cap(); got != poller.FdSetSize {
		t.Errorf("pool cap = %d, want %d", got, poller.FdSetSize)
	}
}

func TestNewEngineRejectsMissingRoot(t *testing.T) {
	_, err := NewEngine(Options{Root: filepath.Join(t.TempDir(), "absent")}, nil)
	if err == nil {
		t.Fatal("expected error for missing root")
	}
}

// openFDs counts this process's descriptors; the server and its clients share
// the same table
func openFDs(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		t.Skipf("descriptor table not readable: %v", err)
	}
	return len(entries)
}

// waitFDs polls until the descriptor count drops back to want. Files are
// closed after the active gauge moves, so the count may lag briefly.
func waitFDs(t *testing.T, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	got := openFDs(t)
	for got != want && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
		got = openFDs(t)
	}
	if got != want {
		t.Errorf("open descriptors = %d, want %d", got, want)
	}
}

func TestEngineDescriptorsReturnToBaseline(t *testing.T) {
	const pool = 8
	requests := []struct {
		name   string
		req    string
		status string
	}{
		{"file", "GET /index.html HTTP/1.1\r\n\r\n", "200"},
		{"error", "GET /missing HTTP/1.1\r\n\r\n", "404"},
	}

	for _, kind := range kinds {
		for _, rr := range requests {
			t.Run(string(kind)+"/"+rr.name, func(t *testing.T) {
				s := startEngine(t, kind, func(o *Options) { o.PoolSize = pool })

				// warm up the client side so lazily created runtime
				// descriptors are part of the baseline
				roundTrip(t, s.addr, rr.req)
				s.waitActive(t, 0)
				base := openFDs(t)

				for i := 0; i < 2*pool; i++ {
					head, _ := splitResponse(t, roundTrip(t, s.addr, rr.req))
					if !strings.HasPrefix(head, "HTTP/1.1 "+rr.status+" ") {
						t.Fatalf("request %d: got %q, want %s", i, head, rr.status)
					}
				}
				s.waitActive(t, 0)
				waitFDs(t, base)
			})
		}
	}
}

// flakyPoller fails client registrations on demand. failRead and failWrite
// count the Readable and Writable registrations still to be refused.
type flakyPoller struct {
	poller.Poller
	failRead  atomic.Int32
	failWrite atomic.Int32
}

var errRegister = errors.New("register refused")

func (p *flakyPoller) Register(fd int, interest poller.Interest, token uint64) error {
	if token != listenerToken {
		if interest&poller.Readable != 0 && p.failRead.Add(-1) >= 0 {
			return errRegister
		}
		if interest&poller.Writable != 0 && p.failWrite.Add(-1) >= 0 {
			return errRegister
		}
	}
	return p.Poller.Register(fd, interest, token)
}

func startFlaky(t *testing.T, kind poller.Kind, pool int) (*testServer, *flakyPoller) {
	t.Helper()
	var fp *flakyPoller
	s := startEngineWith(t, kind, func(o *Options) { o.PoolSize = pool }, func(p poller.Poller) poller.Poller {
		fp = &flakyPoller{Poller: p}
		return fp
	})
	return s, fp
}

func TestEngineRegisterFailureOnAccept(t *testing.T) {
	const req = "GET /index.html HTTP/1.1\r\n\r\n"
	for _, kind := range kinds {
		t.Run(string(kind), func(t *testing.T) {
			s, fp := startFlaky(t, kind, 1)

			roundTrip(t, s.addr, req)
			s.waitActive(t, 0)
			base := openFDs(t)

			fp.failRead.Store(1)
			if got := exchange(t, s.addr, req); len(got) != 0 {
				t.Errorf("unregistered connection received %q", got)
			}
			s.waitActive(t, 0)

			// the only slot must be free again
			head, body := splitResponse(t, roundTrip(t, s.addr, req))
			if !strings.HasPrefix(head, "HTTP/1.1 200 ") || string(body) != indexBody {
				t.Errorf("after failure got %q %q", head, body)
			}
			s.waitActive(t, 0)
			waitFDs(t, base)

			if snap := s.engine.Stats().Snapshot(); snap.Rejected != 0 {
				t.Errorf("rejected = %d, want 0", snap.Rejected)
			}
		})
	}
}

func TestEngineRegisterFailureOnWrite(t *testing.T) {
	const req = "GET /index.html HTTP/1.1\r\n\r\n"
	for _, kind := range kinds {
		t.Run(string(kind), func(t *testing.T) {
			s, fp := startFlaky(t, kind, 2)

			roundTrip(t, s.addr, req)
			s.waitActive(t, 0)

			held, err := net.Dial("tcp", s.addr)
			if err != nil {
				t.Fatal(err)
			}
			defer held.Close()
			s.waitActive(t, 1)
			base := openFDs(t)

			// the file is opened before write interest is armed
			fp.failWrite.Store(1)
			if got := exchange(t, s.addr, req); len(got) != 0 {
				t.Errorf("failed connection received %q", got)
			}
			s.waitActive(t, 1)
			waitFDs(t, base)

			// the second slot is usable again
			head, _ := splitResponse(t, roundTrip(t, s.addr, req))
			if !strings.HasPrefix(head, "HTTP/1.1 200 ") {
				t.Errorf("after failure got %q", head)
			}

			held.SetDeadline(time.Now().Add(5 * time.Second))
			io.WriteString(held, req)
			resp, _ := io.ReadAll(held)
			if !bytes.HasPrefix(resp, []byte("HTTP/1.1 200 OK")) {
				t.Errorf("held connection got %q", resp)
			}

			if snap := s.engine.Stats().Snapshot(); snap.Rejected != 0 {
				t.Errorf("rejected = %d, want 0", snap.Rejected)
			}
		})
	}
}
