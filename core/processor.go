package core

import (
	"errors"
	"os"

	"github.com/searchktools/fileserver/core/http"
)

// Plan is the outcome of processing one request: a response head already
// formatted into the caller's buffer and, for 200, the open file to follow.
type Plan struct {
	Status    int
	HeaderLen int
	File      *os.File
	Size      int64
}

// Answerable reports whether the plan carries a response to send. It is
// false only when even the error response did not fit the header buffer.
func (p Plan) Answerable() bool { return p.HeaderLen > 0 }

// Processor turns a complete request head into a Plan. It never blocks on
// the network, but stat and open run synchronously on the caller.
type Processor struct {
	root string
}

// NewProcessor creates a Processor serving files below root
func NewProcessor(root string) (*Processor, error) {
	canonical, err := http.CanonicalRoot(root)
	if err != nil {
		return nil, err
	}
	return &Processor{root: canonical}, nil
}

// Root returns the canonical document root
func (p *Processor) Root() string { return p.root }

// Process parses req, resolves the target and formats the response head into
// dst. Exactly one plan is produced; failures map to an error status.
func (p *Processor) Process(req []byte, dst []byte) Plan {
	r, err := http.ParseRequest(req)
	if err != nil {
		return ErrorPlan(dst, http.StatusBadRequest)
	}

	path, err := http.ResolvePath(p.root, r.Path)
	if err != nil {
		return ErrorPlan(dst, http.StatusNotFound)
	}

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return ErrorPlan(dst, http.StatusNotFound)
	}

	return p.filePlan(path, dst)
}

func (p *Processor) filePlan(path string, dst []byte) Plan {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrorPlan(dst, http.StatusNotFound)
		}
		return ErrorPlan(dst, http.StatusInternalError)
	}

	// size from the open handle, not the earlier stat
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return ErrorPlan(dst, http.StatusInternalError)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return ErrorPlan(dst, http.StatusNotFound)
	}

	n, err := http.BuildHeader(dst, info.Size(), http.ContentType(path))
	if err != nil {
		f.Close()
		return ErrorPlan(dst, http.StatusInternalError)
	}

	return Plan{
		Status:    http.StatusOK,
		HeaderLen: n,
		File:      f,
		Size:      info.Size(),
	}
}

// ErrorPlan formats an error response into dst
func ErrorPlan(dst []byte, status int) Plan {
	n, err := http.BuildError(dst, status)
	if err != nil {
		return Plan{Status: status}
	}
	return Plan{Status: status, HeaderLen: n}
}
