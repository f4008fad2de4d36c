package http

import "bytes"

var (
	methodGET   = []byte("GET")
	protoPrefix = []byte("HTTP/")
)

// ParseRequest parses the request line of a buffered request head.
//
// It returns ErrIncomplete while the blank line terminating the head has not
// arrived. Only GET is served; other methods yield ErrMethodNotAllowed and
// any other malformation ErrInvalidRequest (or ErrPathTooLong).
func ParseRequest(data []byte) (Request, error) {
	headEnd := bytes.Index(data, terminator)
	if headEnd == -1 {
		return Request{}, ErrIncomplete
	}

	// Parse request line
	line := data[:headEnd]
	if lineEnd := bytes.IndexByte(line, '\n'); lineEnd != -1 {
		line = line[:lineEnd]
	}
	line = bytes.TrimSuffix(line, []byte("\r"))

	// METHOD SP+ PATH SP+ PROTO
	fields := bytes.Fields(line)
	if len(fields) != 3 {
		return Request{}, ErrInvalidRequest
	}
	method, target, proto := fields[0], fields[1], fields[2]

	if !bytes.Equal(method, methodGET) {
		if isToken(method) {
			return Request{}, ErrMethodNotAllowed
		}
		return Request{}, ErrInvalidRequest
	}

	if !validProto(proto) {
		return Request{}, ErrInvalidRequest
	}

	if len(target) == 0 || target[0] != '/' {
		return Request{}, ErrInvalidRequest
	}
	if len(target) > MaxPathLength {
		return Request{}, ErrPathTooLong
	}
	if bytes.IndexByte(target, 0) != -1 {
		return Request{}, ErrInvalidRequest
	}

	// Drop query and fragment
	if idx := bytes.IndexAny(target, "?#"); idx != -1 {
		target = target[:idx]
	}

	return Request{
		Method: string(method),
		Path:   string(target),
		Proto:  string(proto),
	}, nil
}

// validProto accepts HTTP/x.x
func validProto(p []byte) bool {
	if len(p) != len(protoPrefix)+3 || !bytes.HasPrefix(p, protoPrefix) {
		return false
	}
	v := p[len(protoPrefix):]
	return isDigit(v[0]) && v[1] == '.' && isDigit(v[2])
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isToken(b []byte) bool {
	for _, c := range b {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return len(b) > 0
}
