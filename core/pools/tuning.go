package pools

import (
	"runtime/debug"

	"golang.org/x/sys/unix"
)

// GCConfig holds GC tuning parameters
type GCConfig struct {
	// GOGC sets the garbage collection target percentage; 0 keeps the default
	GOGC int

	// MemoryLimit sets soft memory limit in bytes; 0 = no limit
	MemoryLimit int64
}

// ApplyGCConfig applies GC tuning to reduce GC pressure
func ApplyGCConfig(cfg GCConfig) {
	if cfg.GOGC > 0 {
		debug.SetGCPercent(cfg.GOGC)
	}

	if cfg.MemoryLimit > 0 {
		debug.SetMemoryLimit(cfg.MemoryLimit)
	}
}

// fallbackFileLimit is tried when the hard limit cannot be adopted as-is
// (macOS reports RLIM_INFINITY but refuses it)
const fallbackFileLimit = 65536

// RaiseFileLimit raises the soft RLIMIT_NOFILE to the hard limit and returns
// the limit in effect afterwards
func RaiseFileLimit() (uint64, error) {
	var rlim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlim); err != nil {
		return 0, err
	}
	if rlim.Cur >= rlim.Max {
		return uint64(rlim.Cur), nil
	}

	want := rlim
	want.Cur = want.Max
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &want); err == nil {
		return uint64(want.Cur), nil
	}

	want.Cur = fallbackFileLimit
	if want.Cur > rlim.Max {
		want.Cur = rlim.Max
	}
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &want); err != nil {
		return uint64(rlim.Cur), err
	}
	return uint64(want.Cur), nil
}
