package lfalloc

import (
	"log/slog"
)

const (
	// DefaultMinBlockSize is the smallest payload served from a size class.
	DefaultMinBlockSize = 16
	// DefaultMaxBlockSize is the largest payload served from a size class.
	DefaultMaxBlockSize = 64 << 10
)

type options struct {
	minBlockSize     uintptr
	maxBlockSize     uintptr
	large            LargeBlockAllocator
	memoryLimit      int64
	metricsCollector MetricsCollector
	logger           *Logger
	misuseDetection  bool
}

// Option configures New.
type Option func(*options)

// WithMinBlockSize sets the smallest payload served from a size class.
// Smaller requests are rounded up to it.
func WithMinBlockSize(n uintptr) Option {
	return func(o *options) {
		o.minBlockSize = n
	}
}

// WithMaxBlockSize sets the largest payload served from a size class.
// Larger requests are delegated to the large-block allocator.
func WithMaxBlockSize(n uintptr) Option {
	return func(o *options) {
		o.maxBlockSize = n
	}
}

// WithLargeBlockAllocator replaces the default page allocator. The
// allocator must return memory outside the Go heap; lfalloc does not close
// it.
func WithLargeBlockAllocator(l LargeBlockAllocator) Option {
	return func(o *options) {
		o.large = l
	}
}

// WithMemoryLimit caps the bytes the default page allocator maps at any
// time. Allocations beyond it fail with ErrOutOfMemory wrapping
// ErrMemoryLimitExceeded. Ignored with WithLargeBlockAllocator.
func WithMemoryLimit(bytes int64) Option {
	return func(o *options) {
		o.memoryLimit = bytes
	}
}

// WithMetricsCollector configures operational metrics collection.
//
// Example:
//
//	metrics := &lfalloc.BasicMetricsCollector{}
//	a, _ := lfalloc.New(lfalloc.WithMetricsCollector(metrics))
//	// ... use a ...
//	stats := metrics.GetStats()
//	fmt.Printf("Allocs: %d, Avg size: %d\n", stats.AllocCount, stats.AllocAvgBytes)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := lfalloc.NewJSONLogger(slog.LevelDebug)
//	a, _ := lfalloc.New(lfalloc.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMisuseDetection tracks every live block so that double frees and
// foreign pointers are rejected before any memory is touched. It costs a
// bitmap update per operation.
func WithMisuseDetection(enabled bool) Option {
	return func(o *options) {
		o.misuseDetection = enabled
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		minBlockSize:     DefaultMinBlockSize,
		maxBlockSize:     DefaultMaxBlockSize,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	return o
}
