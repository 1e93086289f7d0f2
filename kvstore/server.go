package kvstore

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Kind names an entity class whose rows a shard holds. The graph layer uses
// KindNode and KindEdge; the set is open for other row spaces.
type Kind string

const (
	// KindNode rows are addressed by global node IDs.
	KindNode Kind = "node"
	// KindEdge rows are addressed by global edge IDs.
	KindEdge Kind = "edge"
)

// ResolveFunc translates the global IDs carried by requests into local row
// indices of this server's shard. IDs not owned here must fail, not alias.
type ResolveFunc func(globalIDs []int64) ([]int64, error)

type kindConfig struct {
	rows    int64
	resolve ResolveFunc
}

type shard struct {
	mu     sync.RWMutex
	kind   Kind
	scheme Scheme
	rows   int64
	data   []byte
}

type serverOptions struct {
	logger *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*serverOptions)

// WithLogger sets the structured logger. Default slog.Default().
func WithLogger(l *slog.Logger) ServerOption {
	return func(o *serverOptions) { o.logger = l }
}

// Server holds this partition's tensor shards. Each named tensor is one flat
// zero-initialized byte slice with a fixed row count; rows are addressed by
// global IDs which the per-kind resolver maps to local offsets.
//
// Concurrent pushes and pulls to the same rows are unordered; the per-shard
// lock only guarantees memory safety, not write ordering.
type Server struct {
	opts serverOptions

	mu     sync.RWMutex
	kinds  map[Kind]kindConfig
	shards map[string]*shard
}

// NewServer creates an empty tensor server.
func NewServer(opts ...ServerOption) *Server {
	o := serverOptions{}
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return &Server{
		opts:   o,
		kinds:  make(map[Kind]kindConfig),
		shards: make(map[string]*shard),
	}
}

// AddKind declares an entity kind: the local shard row count (this
// partition's inner entities) and the global-to-local resolver for it.
func (s *Server) AddKind(kind Kind, rows int64, resolve ResolveFunc) error {
	if rows < 0 {
		return fmt.Errorf("kvstore: negative row count %d for kind %q", rows, kind)
	}
	if resolve == nil {
		return fmt.Errorf("kvstore: nil resolver for kind %q", kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.kinds[kind]; dup {
		return fmt.Errorf("kvstore: kind %q declared twice", kind)
	}
	s.kinds[kind] = kindConfig{rows: rows, resolve: resolve}
	return nil
}

// Init creates a zero-filled tensor for kind under name. Re-initializing
// with an identical scheme is a no-op (returns created=false); a different
// scheme fails with *DuplicateNameError.
func (s *Server) Init(name string, kind Kind, scheme Scheme) (created bool, err error) {
	if err := scheme.Validate(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.shards[name]; ok {
		if existing.kind == kind && existing.scheme.Equal(scheme) {
			return false, nil
		}
		return false, &DuplicateNameError{Name: name, Existing: existing.scheme, Got: scheme}
	}

	cfg, ok := s.kinds[kind]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	s.shards[name] = &shard{
		kind:   kind,
		scheme: scheme,
		rows:   cfg.rows,
		data:   make([]byte, cfg.rows*scheme.RowBytes()),
	}
	s.opts.logger.Debug("tensor initialized",
		"name", name,
		"kind", string(kind),
		"rows", cfg.rows,
		"scheme", scheme.String(),
	)
	return true, nil
}

func (s *Server) shard(name string) (*shard, ResolveFunc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sh, ok := s.shards[name]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownName, name)
	}
	return sh, s.kinds[sh.kind].resolve, nil
}

// Pull copies the rows of the given global IDs, in request order, into one
// flat little-endian byte slice.
func (s *Server) Pull(name string, globalIDs []int64) ([]byte, error) {
	sh, resolve, err := s.shard(name)
	if err != nil {
		return nil, err
	}
	locals, err := resolve(globalIDs)
	if err != nil {
		return nil, err
	}

	rowBytes := sh.scheme.RowBytes()
	out := make([]byte, int64(len(locals))*rowBytes)

	sh.mu.RLock()
	defer sh.mu.RUnlock()
	for i, l := range locals {
		if l < 0 || l >= sh.rows {
			return nil, fmt.Errorf("kvstore: tensor %q: resolved row %d out of range [0, %d)", name, l, sh.rows)
		}
		copy(out[int64(i)*rowBytes:], sh.data[l*rowBytes:(l+1)*rowBytes])
	}
	return out, nil
}

// Push overwrites the rows of the given global IDs with data, which must be
// len(globalIDs) rows of flat little-endian bytes.
func (s *Server) Push(name string, globalIDs []int64, data []byte) error {
	sh, resolve, err := s.shard(name)
	if err != nil {
		return err
	}

	rowBytes := sh.scheme.RowBytes()
	want := int64(len(globalIDs)) * rowBytes
	if int64(len(data)) != want {
		return &ShapeMismatchError{Name: name, WantBytes: want, GotBytes: int64(len(data))}
	}

	locals, err := resolve(globalIDs)
	if err != nil {
		return err
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	for i, l := range locals {
		if l < 0 || l >= sh.rows {
			return fmt.Errorf("kvstore: tensor %q: resolved row %d out of range [0, %d)", name, l, sh.rows)
		}
		copy(sh.data[l*rowBytes:(l+1)*rowBytes], data[int64(i)*rowBytes:int64(i+1)*rowBytes])
	}
	return nil
}

// Resolve maps global IDs of a kind to this shard's local row indices.
func (s *Server) Resolve(kind Kind, globalIDs []int64) ([]int64, error) {
	s.mu.RLock()
	cfg, ok := s.kinds[kind]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return cfg.resolve(globalIDs)
}

// Scheme returns the scheme and kind of a tensor.
func (s *Server) Scheme(name string) (Scheme, Kind, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sh, ok := s.shards[name]
	if !ok {
		return Scheme{}, "", fmt.Errorf("%w: %q", ErrUnknownName, name)
	}
	return sh.scheme, sh.kind, nil
}

// Names returns all tensor names of a kind, sorted.
func (s *Server) Names(kind Kind) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for name, sh := range s.shards {
		if sh.kind == kind {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
