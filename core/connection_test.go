package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/searchktools/fileserver/core/pools"
)

func TestConnectionTransitions(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "body"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var c Connection
	c.reset()
	if c.Phase() != PhaseClosing || c.FD() != -1 {
		t.Fatalf("idle slot: phase=%v fd=%d", c.Phase(), c.FD())
	}

	c.begin(7, pools.Handle(42), 128, 64)
	if c.Phase() != PhaseReading {
		t.Fatalf("phase = %v, want reading", c.Phase())
	}
	if len(c.reading.buf) != 128 || c.openFile() != nil {
		t.Fatal("reading variant not initialised")
	}

	c.respond(Plan{Status: 200, HeaderLen: 10, File: f, Size: 5})
	if c.Phase() != PhaseSendingHeader {
		t.Fatalf("phase = %v, want sending-header", c.Phase())
	}
	if c.reading.buf != nil {
		t.Error("reading variant still holds its buffer")
	}
	if c.openFile() != f {
		t.Error("pending body not held by header variant")
	}

	c.stream()
	if c.Phase() != PhaseSendingFile {
		t.Fatalf("phase = %v, want sending-file", c.Phase())
	}
	if c.header.pending != nil || c.file.body.File != f || c.file.body.Size != 5 {
		t.Error("body not handed over to file variant")
	}

	buf := c.readBuf
	c.reset()
	if c.Phase() != PhaseClosing || c.openFile() != nil || c.FD() != -1 {
		t.Error("reset left state behind")
	}
	if &c.readBuf[0] != &buf[0] {
		t.Error("reset dropped the read buffer")
	}

	// reuse keeps the same storage
	c.begin(8, pools.Handle(43), 128, 64)
	if &c.reading.buf[0] != &buf[0] {
		t.Error("slot reuse reallocated the read buffer")
	}
}

func TestPhaseString(t *testing.T) {
	for p, want := range map[Phase]string{
		PhaseReading:       "reading",
		PhaseProcessing:    "processing",
		PhaseSendingHeader: "sending-header",
		PhaseSendingFile:   "sending-file",
		PhaseClosing:       "closing",
	} {
		if got := p.String(); got != want {
			t.Errorf("%d: got %q, want %q", p, got, want)
		}
	}
}
