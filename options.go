package mortree

import "log/slog"

// DefaultMaxElementsPerNode is the per-node element limit used when no
// WithMaxElementsPerNode option is given.
const DefaultMaxElementsPerNode = 20

type options struct {
	maxDepth           int
	boundingBox        *Box
	maxElementsPerNode int
	parallel           bool
	splitEntities      bool
	cacheCenters       bool
	logger             *Logger
	metrics            MetricsCollector
}

// Option configures tree construction.
//
// Options exist to keep the constructor surface small; unspecified values
// fall back to the documented defaults.
type Option func(*options)

// WithMaxDepth fixes the subdivision depth. Without it the depth is
// estimated from the entity count and the per-node element limit.
func WithMaxDepth(maxDepth int) Option {
	return func(o *options) {
		o.maxDepth = maxDepth
	}
}

// WithBoundingBox fixes the handled space box. Without it the box is derived
// from the supplied geometry; entities outside a fixed box are rejected by
// the edit operations.
func WithBoundingBox(box Box) Option {
	return func(o *options) {
		o.boundingBox = &box
	}
}

// WithMaxElementsPerNode sets the element count beyond which a node is
// subdivided. The default is DefaultMaxElementsPerNode.
func WithMaxElementsPerNode(n int) Option {
	return func(o *options) {
		o.maxElementsPerNode = n
	}
}

// WithParallel enables the data-parallel paths: the bulk-build location
// sort, UpdateIndexes and the self-tree collision fan-out. Parallel mode
// never changes results, only wall-clock time.
func WithParallel() Option {
	return func(o *options) {
		o.parallel = true
	}
}

// WithoutSplitEntities makes a BoxTree keep straddling boxes at the deepest
// node that fully contains them instead of duplicating them into the
// children they touch. PointTrees ignore this option.
func WithoutSplitEntities() Option {
	return func(o *options) {
		o.splitEntities = false
	}
}

// WithoutNodeCenters disables the per-node center cache, trading query-time
// recomputation for memory.
func WithoutNodeCenters() Option {
	return func(o *options) {
		o.cacheCenters = false
	}
}

// WithLogger configures structured logging. Pass nil to disable.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the given level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector configures a metrics collector.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metrics = mc
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		maxElementsPerNode: DefaultMaxElementsPerNode,
		splitEntities:      true,
		cacheCenters:       true,
		logger:             NoopLogger(),
		metrics:            NoopMetricsCollector{},
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
