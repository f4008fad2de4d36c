package http

import "strconv"

// StatusText returns the reason phrase for the given code
func StatusText(code int) string {
	switch code {
	case StatusOK:
		return "OK"
	case StatusBadRequest:
		return "Bad Request"
	case StatusNotFound:
		return "Not Found"
	case StatusRequestTooLarge:
		return "Request Entity Too Large"
	case StatusInternalError:
		return "Internal Server Error"
	default:
		return ""
	}
}

// errorBody is the short plain-text body sent with each error status
func errorBody(code int) string {
	switch code {
	case StatusRequestTooLarge:
		return "Request Too Large"
	default:
		return StatusText(code)
	}
}

// headerWriter appends into a fixed buffer and latches overflow instead of
// growing or truncating
type headerWriter struct {
	buf      []byte
	n        int
	overflow bool
}

func (w *headerWriter) str(s string) {
	if w.overflow {
		return
	}
	if w.n+len(s) > len(w.buf) {
		w.overflow = true
		return
	}
	w.n += copy(w.buf[w.n:], s)
}

func (w *headerWriter) bytes(b []byte) {
	if w.overflow {
		return
	}
	if w.n+len(b) > len(w.buf) {
		w.overflow = true
		return
	}
	w.n += copy(w.buf[w.n:], b)
}

func (w *headerWriter) int(v int64) {
	var tmp [20]byte
	w.bytes(strconv.AppendInt(tmp[:0], v, 10))
}

func (w *headerWriter) statusLine(code int) {
	var tmp [3]byte
	w.str("HTTP/1.1 ")
	w.bytes(strconv.AppendInt(tmp[:0], int64(code), 10))
	w.str(" ")
	w.str(StatusText(code))
	w.str("\r\n")
}

func (w *headerWriter) header(key string) {
	w.str(key)
	w.str(": ")
}

func (w *headerWriter) result() (int, error) {
	if w.overflow {
		return 0, ErrHeaderTooLarge
	}
	return w.n, nil
}

// BuildHeader formats a 200 response head for a body of contentLength bytes
// into dst and returns its length. If the head does not fit, nothing usable is
// left in dst and ErrHeaderTooLarge is returned.
func BuildHeader(dst []byte, contentLength int64, contentType string) (int, error) {
	w := headerWriter{buf: dst}
	w.statusLine(StatusOK)
	w.header(HeaderContentLength)
	w.int(contentLength)
	w.str("\r\n")
	w.header(HeaderContentType)
	w.str(contentType)
	w.str("\r\n")
	w.header(HeaderCacheControl)
	w.str("no-cache\r\n")
	w.header(HeaderConnection)
	w.str("close\r\n\r\n")
	return w.result()
}

// BuildError formats a complete error response, head and short text body,
// into dst
func BuildError(dst []byte, code int) (int, error) {
	if code < 400 || StatusText(code) == "" {
		return 0, ErrUnsupportedStatus
	}
	body := errorBody(code)

	w := headerWriter{buf: dst}
	w.statusLine(code)
	w.header(HeaderContentLength)
	w.int(int64(len(body)))
	w.str("\r\n")
	w.header(HeaderContentType)
	w.str("text/plain\r\n")
	w.header(HeaderConnection)
	w.str("close\r\n\r\n")
	w.str(body)
	return w.result()
}
