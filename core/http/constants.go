package http

import "errors"

// HTTP header constants
const (
	HeaderContentType   = "Content-Type"
	HeaderContentLength = "Content-Length"
	HeaderConnection    = "Connection"
	HeaderCacheControl  = "Cache-Control"
)

// Status codes produced by the server
const (
	StatusOK              = 200
	StatusBadRequest      = 400
	StatusNotFound        = 404
	StatusRequestTooLarge = 413
	StatusInternalError   = 500
)

// MaxPathLength bounds the request target
const MaxPathLength = 1024

// Error definitions
var (
	ErrIncomplete        = errors.New("http: request incomplete")
	ErrInvalidRequest    = errors.New("http: invalid request")
	ErrMethodNotAllowed  = errors.New("http: method not supported")
	ErrPathTooLong       = errors.New("http: path too long")
	ErrInvalidPath       = errors.New("http: invalid path")
	ErrPathEscapes       = errors.New("http: path escapes document root")
	ErrHeaderTooLarge    = errors.New("http: header exceeds buffer capacity")
	ErrUnsupportedStatus = errors.New("http: unsupported status")
)
