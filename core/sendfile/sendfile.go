package sendfile

import (
	"errors"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// Sink is a non-blocking byte sink. Write may accept fewer bytes than
// offered; when it cannot accept any it returns an error satisfying
// IsWouldBlock.
type Sink interface {
	Write(p []byte) (int, error)
}

// FD is a Sink over a raw non-blocking socket descriptor
type FD int

// Write writes p to the descriptor
func (fd FD) Write(p []byte) (int, error) {
	n, err := unix.Write(int(fd), p)
	if n < 0 {
		n = 0
	}
	return n, err
}

// IsWouldBlock reports whether err is a would-block signal rather than a failure
func IsWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

// ErrShortFile is returned when the file ends before its recorded size
var ErrShortFile = errors.New("sendfile: file shorter than recorded size")

// Header tracks transmission of a response head held in a fixed buffer
type Header struct {
	Buf  []byte
	Sent int
}

// Remaining reports bytes not yet accepted by the sink
func (h *Header) Remaining() int { return len(h.Buf) - h.Sent }

// Body tracks transmission of an open file
type Body struct {
	File   *os.File
	Offset int64
	Size   int64
}

// Remaining reports bytes not yet accepted by the sink
func (b *Body) Remaining() int64 { return b.Size - b.Offset }

// SendHeader writes the unsent part of h once. n is what the sink accepted
// and done reports that the whole head has gone out. A would-block write is
// not an error: it returns n == 0, done == false, err == nil.
func SendHeader(w Sink, h *Header) (n int, done bool, err error) {
	if h.Remaining() <= 0 {
		return 0, true, nil
	}

	n, err = w.Write(h.Buf[h.Sent:])
	if n > 0 {
		h.Sent += n
	}
	if err != nil {
		if IsWouldBlock(err) {
			return n, false, nil
		}
		return n, false, err
	}
	if n == 0 {
		return 0, false, io.ErrShortWrite
	}

	return n, h.Remaining() == 0, nil
}

// SendChunk reads at most len(chunk) bytes of b at its current offset into
// chunk and writes them once. The offset advances only by what the sink
// accepted, so a short write re-reads the unsent tail on the next call.
func SendChunk(w Sink, b *Body, chunk []byte) (n int, done bool, err error) {
	remaining := b.Remaining()
	if remaining <= 0 {
		return 0, true, nil
	}
	if int64(len(chunk)) > remaining {
		chunk = chunk[:remaining]
	}

	r, err := b.File.ReadAt(chunk, b.Offset)
	if r == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			err = ErrShortFile
		}
		return 0, false, err
	}

	n, err = w.Write(chunk[:r])
	if n > 0 {
		b.Offset += int64(n)
	}
	if err != nil {
		if IsWouldBlock(err) {
			return n, false, nil
		}
		return n, false, err
	}
	if n == 0 {
		return 0, false, io.ErrShortWrite
	}

	return n, b.Remaining() == 0, nil
}
