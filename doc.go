/*
Package fileserver is a minimal static file server for HTTP/1.x GET requests.

Every connection carries exactly one request: the server reads the request
head, resolves the path below a document root, answers with the file (or a
short error response) and closes. There is no keep-alive, no range support
and no directory listing.

Scheduling Models

The same request processor runs under three models:

  - select: a single-threaded reactor over select(2), limited to 1024 descriptors
  - kernel: the same reactor over epoll (Linux) or kqueue (BSD/macOS)
  - threads: a blocking accept loop feeding a fixed worker pool

The reactor owns a fixed pool of connection records. When the pool is empty a
new connection is closed immediately without a response; that is the only
backpressure.

Quick Start

	go run ./cmd/fileserver -root ./www -port 8080 -model kernel

Every flag has a FILESERVER_* environment counterpart (FILESERVER_POOL_SIZE
for -pool) and may also come from a JSON file given with -config.

Modules

  - app: Application lifecycle and signal handling
  - config: Flag, environment and JSON configuration
  - core: Reactor engine, connection state machine, request processor
  - core/http: Request line parsing, path resolution, response heads
  - core/poller: Readiness multiplexing (select/epoll/kqueue)
  - core/pools: Connection slots, byte buffers, worker pool, runtime tuning
  - core/sendfile: Header and file chunk transmission
  - core/threaded: Blocking worker-pool server
  - core/observability: Stats reporting and OpenTelemetry export

Responses

	HTTP/1.1 200 OK
	Content-Length: 37
	Content-Type: text/html
	Cache-Control: no-cache
	Connection: close

Non-GET or malformed requests get 400, missing files and paths outside the
root get 404, a request head that fills the read buffer gets 413, and local
failures get 500.
*/
package fileserver
