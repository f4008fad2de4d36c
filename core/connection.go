package core

import (
	"os"

	"github.com/searchktools/fileserver/core/poller"
	"github.com/searchktools/fileserver/core/pools"
	"github.com/searchktools/fileserver/core/sendfile"
)

// Phase names the connection states
type Phase uint8

const (
	PhaseReading Phase = iota
	PhaseProcessing
	PhaseSendingHeader
	PhaseSendingFile
	PhaseClosing
)

func (p Phase) String() string {
	switch p {
	case PhaseReading:
		return "reading"
	case PhaseProcessing:
		return "processing"
	case PhaseSendingHeader:
		return "sending-header"
	case PhaseSendingFile:
		return "sending-file"
	default:
		return "closing"
	}
}

// connState is one of the per-phase variants below. Each variant carries
// only the data that is meaningful in its phase. Processing runs
// synchronously inside a read handler and never becomes a resting state.
type connState interface {
	phase() Phase
}

// readingRequest accumulates the request head
type readingRequest struct {
	buf    []byte
	filled int
}

// sendingHeader drains the response head. pending is the body file, opened
// while processing so its size could go into the head; it is handed to
// sendingFile untouched once the head is out. nil for error responses.
type sendingHeader struct {
	head    sendfile.Header
	pending *os.File
	size    int64
}

// sendingFile streams the body one chunk at a time
type sendingFile struct {
	body sendfile.Body
}

type closing struct{}

func (*readingRequest) phase() Phase { return PhaseReading }
func (*sendingHeader) phase() Phase  { return PhaseSendingHeader }
func (*sendingFile) phase() Phase    { return PhaseSendingFile }
func (*closing) phase() Phase        { return PhaseClosing }

var closed connState = &closing{}

// Connection is a pool record for one accepted socket. Records and their
// buffers are reused across connections; only counters are reset.
type Connection struct {
	fd       int
	handle   pools.Handle
	interest poller.Interest

	// fixed-capacity storage, allocated on first use of the slot
	readBuf []byte
	headBuf []byte

	// variant storage; state points at exactly one of them
	reading readingRequest
	header  sendingHeader
	file    sendingFile
	state   connState
}

// Phase reports the current state
func (c *Connection) Phase() Phase {
	if c.state == nil {
		return PhaseClosing
	}
	return c.state.phase()
}

// FD returns the client descriptor, -1 when the slot is idle
func (c *Connection) FD() int { return c.fd }

func (c *Connection) begin(fd int, h pools.Handle, readSize, headSize int) {
	if cap(c.readBuf) != readSize {
		c.readBuf = make([]byte, readSize)
	}
	if cap(c.headBuf) != headSize {
		c.headBuf = make([]byte, headSize)
	}

	c.fd = fd
	c.handle = h
	c.interest = 0
	c.reading = readingRequest{buf: c.readBuf[:readSize]}
	c.state = &c.reading
}

// respond leaves reading for sending the head of plan
func (c *Connection) respond(plan Plan) {
	c.reading = readingRequest{}
	c.header = sendingHeader{
		head:    sendfile.Header{Buf: c.headBuf[:plan.HeaderLen]},
		pending: plan.File,
		size:    plan.Size,
	}
	c.state = &c.header
}

// stream hands the body over from the head variant to the file variant
func (c *Connection) stream() {
	c.file = sendingFile{body: sendfile.Body{File: c.header.pending, Size: c.header.size}}
	c.header = sendingHeader{}
	c.state = &c.file
}

// openFile returns the file held by the current variant, if any
func (c *Connection) openFile() *os.File {
	switch st := c.state.(type) {
	case *sendingHeader:
		return st.pending
	case *sendingFile:
		return st.body.File
	}
	return nil
}

// reset clears logical state; buffers are kept for the next occupant
func (c *Connection) reset() {
	c.fd = -1
	c.handle = 0
	c.interest = 0
	c.reading = readingRequest{}
	c.header = sendingHeader{}
	c.file = sendingFile{}
	c.state = closed
}
