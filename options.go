package distgraph

import (
	"github.com/hupe1980/distgraph/partition"
	"github.com/hupe1980/distgraph/rpc"
)

type options struct {
	logger          *Logger
	metrics         MetricsCollector
	clientOpts      []rpc.ClientOption
	serverOpts      []rpc.ServerOption
	artifactOpts    []partition.ArtifactOption
	shutdownOnClose bool
	sampleSeed      int64
}

func defaultOptions() options {
	return options{
		logger:     NewLogger(nil),
		metrics:    NoopMetricsCollector{},
		sampleSeed: 1,
	}
}

// Option configures Connect and NewGraphServer.
type Option func(*options)

// WithLogger sets the logger. Default logs text to stderr at info level.
func WithLogger(l *Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the metrics collector. Default is a no-op collector.
func WithMetrics(m MetricsCollector) Option {
	return func(o *options) { o.metrics = m }
}

// WithRPCClientOptions passes options through to the underlying rpc client.
func WithRPCClientOptions(opts ...rpc.ClientOption) Option {
	return func(o *options) { o.clientOpts = append(o.clientOpts, opts...) }
}

// WithRPCServerOptions passes options through to the underlying rpc server.
func WithRPCServerOptions(opts ...rpc.ServerOption) Option {
	return func(o *options) { o.serverOpts = append(o.serverOpts, opts...) }
}

// WithArtifactOptions passes options through to partition artifact loading.
func WithArtifactOptions(opts ...partition.ArtifactOption) Option {
	return func(o *options) { o.artifactOpts = append(o.artifactOpts, opts...) }
}

// WithShutdownOnClose makes Close broadcast the cluster shutdown when this
// client holds rank 0. Mirrors the usual training-driver lifecycle where the
// first client owns the cluster.
func WithShutdownOnClose(enabled bool) Option {
	return func(o *options) { o.shutdownOnClose = enabled }
}

// WithSampleSeed seeds server-side neighbor sampling. Default 1.
func WithSampleSeed(seed int64) Option {
	return func(o *options) { o.sampleSeed = seed }
}
