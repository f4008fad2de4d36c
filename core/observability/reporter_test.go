package observability

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/searchktools/fileserver/core"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestReporterLogsSnapshot(t *testing.T) {
	stats := &core.Stats{}
	stats.Opened()
	stats.Request()
	stats.Sent(37)

	var out syncBuffer
	logger := slog.New(slog.NewTextHandler(&out, nil))
	r := NewReporter(logger, stats, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	r.Run(ctx)

	got := out.String()
	for _, want := range []string{"msg=stats", "active=1", "requests=1", "bytes_sent=37"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in %q", want, got)
		}
	}
}

func TestReporterDisabled(t *testing.T) {
	var out syncBuffer
	r := NewReporter(slog.New(slog.NewTextHandler(&out, nil)), &core.Stats{}, 0)

	done := make(chan struct{})
	go func() {
		r.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled reporter did not return")
	}
	if out.String() != "" {
		t.Errorf("disabled reporter wrote %q", out.String())
	}
}
