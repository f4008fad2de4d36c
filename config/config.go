package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// Scheduling models
const (
	ModelSelect  = "select"
	ModelKernel  = "kernel"
	ModelEpoll   = "epoll"
	ModelKqueue  = "kqueue"
	ModelThreads = "threads"
)

// EnvPrefix prefixes every environment override, e.g. FILESERVER_POOL_SIZE
const EnvPrefix = "FILESERVER"

// Config holds all application configuration.
type Config struct {
	Addr string `config:"addr"`
	Port int    `config:"port"`
	Root string `config:"root"`

	Model            string        `config:"model"`
	PoolSize         int           `config:"pool.size"`
	ReadBufferSize   int           `config:"read.buffer.size"`
	HeaderBufferSize int           `config:"header.buffer.size"`
	ChunkSize        int           `config:"chunk.size"`
	Backlog          int           `config:"backlog"`
	EventBatch       int           `config:"events.batch"`
	WaitTimeout      time.Duration `config:"wait.timeout"`

	Workers     int           `config:"workers"`
	QueueSize   int           `config:"queue.size"`
	ReadTimeout time.Duration `config:"read.timeout"`

	StatsInterval time.Duration `config:"stats.interval"`
	OTLPEndpoint  string        `config:"otlp.endpoint"`
	OTLPInsecure  bool          `config:"otlp.insecure"`
	LogLevel      string        `config:"log.level"`
	GOGC          int           `config:"gogc"`
	MemoryLimit   int64         `config:"memory.limit"`

	// File is a JSON file applied beneath environment and flags
	File string `config:"-"`
}

// New returns the built-in configuration
func New() *Config {
	return &Config{
		Addr:             "0.0.0.0",
		Port:             8080,
		Root:             "./www",
		Model:            ModelKernel,
		PoolSize:         10000,
		ReadBufferSize:   4096,
		HeaderBufferSize: 512,
		ChunkSize:        32768,
		Backlog:          1024,
		EventBatch:       1024,
		WaitTimeout:      100 * time.Millisecond,
		Workers:          32,
		QueueSize:        1024,
		ReadTimeout:      5 * time.Second,
		StatsInterval:    10 * time.Second,
		OTLPInsecure:     true,
		LogLevel:         "info",
	}
}

// Load builds a Config from defaults, then the JSON file, then FILESERVER_*
// environment variables, then flags. Later sources win.
func Load(args, environ []string) (*Config, error) {
	cfg := New()

	fs := flag.NewFlagSet("fileserver", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	bind(fs, cfg)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// remember what was given on the command line; it is re-applied last
	explicit := map[string]string{}
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = f.Value.String() })

	m := NewManager()
	if cfg.File != "" {
		if err := m.LoadFromJSON(cfg.File); err != nil {
			return nil, err
		}
	}
	m.LoadFromEnv(EnvPrefix, environ)
	if err := m.Unmarshal("", cfg); err != nil {
		return nil, err
	}

	for name, value := range explicit {
		if err := fs.Set(name, value); err != nil {
			return nil, fmt.Errorf("flag -%s: %w", name, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func bind(fs *flag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "IPv4 address to listen on")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "TCP port")
	fs.StringVar(&cfg.Root, "root", cfg.Root, "document root")
	fs.StringVar(&cfg.Model, "model", cfg.Model, "scheduling model (select|kernel|epoll|kqueue|threads)")
	fs.IntVar(&cfg.PoolSize, "pool", cfg.PoolSize, "connection pool size")
	fs.IntVar(&cfg.ReadBufferSize, "read-buffer", cfg.ReadBufferSize, "request buffer size in bytes")
	fs.IntVar(&cfg.HeaderBufferSize, "header-buffer", cfg.HeaderBufferSize, "response header buffer size in bytes")
	fs.IntVar(&cfg.ChunkSize, "chunk", cfg.ChunkSize, "file chunk size in bytes")
	fs.IntVar(&cfg.Backlog, "backlog", cfg.Backlog, "listen backlog")
	fs.IntVar(&cfg.EventBatch, "events", cfg.EventBatch, "max readiness events per wait (kernel model)")
	fs.DurationVar(&cfg.WaitTimeout, "wait-timeout", cfg.WaitTimeout, "readiness wait timeout")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "worker count (threads model)")
	fs.IntVar(&cfg.QueueSize, "queue", cfg.QueueSize, "pending connection queue (threads model)")
	fs.DurationVar(&cfg.ReadTimeout, "read-timeout", cfg.ReadTimeout, "request read timeout (threads model)")
	fs.DurationVar(&cfg.StatsInterval, "stats-interval", cfg.StatsInterval, "stats log interval, 0 disables")
	fs.StringVar(&cfg.OTLPEndpoint, "otlp-endpoint", cfg.OTLPEndpoint, "OTLP gRPC endpoint for metrics and logs")
	fs.BoolVar(&cfg.OTLPInsecure, "otlp-insecure", cfg.OTLPInsecure, "disable TLS to the OTLP endpoint")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug|info|warn|error")
	fs.IntVar(&cfg.GOGC, "gogc", cfg.GOGC, "GC percent, 0 keeps the runtime default")
	fs.Int64Var(&cfg.MemoryLimit, "memory-limit", cfg.MemoryLimit, "soft memory limit in bytes, 0 keeps the runtime default")
	fs.StringVar(&cfg.File, "config", cfg.File, "JSON configuration file")
}

// Threaded reports whether the blocking model is selected
func (c *Config) Threaded() bool {
	return strings.EqualFold(c.Model, ModelThreads)
}

// Level returns the parsed log level
func (c *Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

var (
	ErrInvalidPort  = errors.New("config: port out of range")
	ErrInvalidModel = errors.New("config: unknown model")
	ErrInvalidSize  = errors.New("config: size must be positive")
)

// Validate rejects values no server model can run with
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Port)
	}
	if c.Root == "" {
		return errors.New("config: root is empty")
	}

	switch strings.ToLower(c.Model) {
	case ModelSelect, ModelKernel, ModelEpoll, ModelKqueue, ModelThreads:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidModel, c.Model)
	}

	sizes := []struct {
		name string
		v    int
	}{
		{"pool", c.PoolSize},
		{"read buffer", c.ReadBufferSize},
		{"header buffer", c.HeaderBufferSize},
		{"chunk", c.ChunkSize},
		{"backlog", c.Backlog},
		{"events", c.EventBatch},
		{"workers", c.Workers},
		{"queue", c.QueueSize},
	}
	for _, s := range sizes {
		if s.v <= 0 {
			return fmt.Errorf("%w: %s = %d", ErrInvalidSize, s.name, s.v)
		}
	}
	if c.HeaderBufferSize < 128 {
		return fmt.Errorf("config: header buffer %d cannot hold a response head", c.HeaderBufferSize)
	}
	if c.WaitTimeout <= 0 || c.ReadTimeout <= 0 {
		return errors.New("config: timeouts must be positive")
	}

	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return fmt.Errorf("config: log level: %w", err)
	}
	return nil
}
