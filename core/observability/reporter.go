package observability

import (
	"context"
	"log/slog"
	"time"

	"github.com/searchktools/fileserver/core"
)

// StatsSource is anything that can produce a counters snapshot; both server
// models expose their sink through it.
type StatsSource interface {
	Snapshot() core.StatsSnapshot
}

// Reporter logs a stats line at a fixed interval
type Reporter struct {
	logger   *slog.Logger
	source   StatsSource
	interval time.Duration
	last     core.StatsSnapshot
}

// NewReporter creates a reporter. A non-positive interval disables it.
func NewReporter(logger *slog.Logger, source StatsSource, interval time.Duration) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{logger: logger, source: source, interval: interval}
}

// Run reports until ctx is done, then emits one final line
func (r *Reporter) Run(ctx context.Context) {
	if r.interval <= 0 {
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.report()
			return
		case <-ticker.C:
			r.report()
		}
	}
}

func (r *Reporter) report() {
	s := r.source.Snapshot()
	r.logger.Info("stats",
		"active", s.Active,
		"peak", s.Peak,
		"connections", s.Connections,
		"requests", s.Requests,
		"bytes_sent", s.BytesSent,
		"rejected", s.Rejected,
		"requests_delta", s.Requests-r.last.Requests)
	r.last = s
}
