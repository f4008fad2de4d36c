package http

import "bytes"

// Request is the parsed request line. Headers are not retained.
type Request struct {
	Method string
	Path   string
	Proto  string
}

var terminator = []byte("\r\n\r\n")

// HeaderCompleteFrom reports whether buf, grown from prevLen bytes, now
// contains the blank line ending the request head. Only the tail that could
// hold a new terminator is scanned.
func HeaderCompleteFrom(buf []byte, prevLen int) bool {
	start := prevLen - (len(terminator) - 1)
	if start < 0 {
		start = 0
	}
	if start > len(buf) {
		return false
	}
	return bytes.Index(buf[start:], terminator) >= 0
}
