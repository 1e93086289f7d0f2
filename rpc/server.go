package rpc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/distgraph/codec"
)

const (
	defaultMaxPayload   = 256 << 20 // 256 MiB
	defaultWorkers      = 64
	defaultInboxSize    = 1024
	defaultDrainTimeout = 5 * time.Second
)

type serverOptions struct {
	logger       *slog.Logger
	codec        codec.Codec
	maxPayload   uint32
	workers      int64
	inboxSize    int
	drainTimeout time.Duration
}

// ServerOption configures a Server.
type ServerOption func(*serverOptions)

// WithServerLogger sets the structured logger. Default slog.Default().
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(o *serverOptions) { o.logger = l }
}

// WithServerCodec sets the payload codec. Default codec.Default.
func WithServerCodec(c codec.Codec) ServerOption {
	return func(o *serverOptions) { o.codec = c }
}

// WithServerMaxPayload caps accepted frame payloads. Default 256 MiB.
func WithServerMaxPayload(n uint32) ServerOption {
	return func(o *serverOptions) { o.maxPayload = n }
}

// WithWorkers bounds the number of concurrently running handlers.
// Default 64.
func WithWorkers(n int) ServerOption {
	return func(o *serverOptions) { o.workers = int64(n) }
}

// WithInboxSize bounds the per-connection queue of frames waiting for a
// worker. Default 1024.
func WithInboxSize(n int) ServerOption {
	return func(o *serverOptions) { o.inboxSize = n }
}

// WithDrainTimeout sets how long a full inbox may stall the reader before
// the connection is dropped. Default 5s.
func WithDrainTimeout(d time.Duration) ServerOption {
	return func(o *serverOptions) { o.drainTimeout = d }
}

// Server accepts client connections and dispatches decoded requests to the
// registry's handlers on a bounded worker pool.
type Server struct {
	rank     int
	nb       *Namebook
	registry *Registry
	opts     serverOptions

	sem *semaphore.Weighted

	mu         sync.Mutex
	ln         net.Listener
	conns      map[net.Conn]struct{}
	clients    map[int32]string
	nextClient int32
	shutdown   chan struct{}
	closed     bool
}

// NewServer creates the server for rank. The listen address comes from the
// namebook; Serve must be called to start accepting.
func NewServer(rank int, nb *Namebook, registry *Registry, opts ...ServerOption) (*Server, error) {
	if _, err := nb.Server(rank); err != nil {
		return nil, err
	}
	o := serverOptions{
		maxPayload:   defaultMaxPayload,
		workers:      defaultWorkers,
		inboxSize:    defaultInboxSize,
		drainTimeout: defaultDrainTimeout,
	}
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return &Server{
		rank:     rank,
		nb:       nb,
		registry: registry,
		opts:     o,
		sem:      semaphore.NewWeighted(o.workers),
		conns:    make(map[net.Conn]struct{}),
		clients:  make(map[int32]string),
		shutdown: make(chan struct{}),
	}, nil
}

// Rank returns the server's cluster rank.
func (s *Server) Rank() int { return s.rank }

// NumClients returns the number of clients registered so far. Only rank 0
// has the authoritative count.
func (s *Server) NumClients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Serve listens on the server's namebook address and blocks until the
// cluster is shut down by client rank 0, Close is called, or ctx is
// cancelled. A clean shutdown returns ErrServerClosed.
func (s *Server) Serve(ctx context.Context) error {
	spec, err := s.nb.Server(s.rank)
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", spec.Addr)
	if err != nil {
		return &ConnectionError{Addr: spec.Addr, Rank: s.rank, Err: err}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	s.ln = ln
	s.mu.Unlock()

	s.opts.logger.Info("server listening",
		"rank", s.rank,
		"addr", spec.Addr,
		"num_servers", s.nb.NumServers(),
	)

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-ctx.Done():
		case <-s.shutdown:
			// Grace period so the shutdown ack reaches the initiator before
			// connections are torn down.
			time.Sleep(200 * time.Millisecond)
		}
		s.Close()
		cancel()
	}()

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			wg.Wait()
			select {
			case <-s.shutdown:
				return ErrServerClosed
			default:
			}
			if s.isClosed() || ctx.Err() != nil {
				return ErrServerClosed
			}
			return &ConnectionError{Addr: spec.Addr, Rank: s.rank, Err: err}
		}

		s.trackConn(conn, true)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer s.trackConn(conn, false)
			defer conn.Close()
			s.handleConn(connCtx, conn)
		}()
	}
}

// Close stops accepting and tears down every connection. Safe to call more
// than once.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.ln
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	for _, c := range conns {
		c.Close()
	}
	return nil
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) trackConn(c net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[c] = struct{}{}
	} else {
		delete(s.conns, c)
	}
}

// handleConn runs the read loop for one client connection. Frames queue in a
// bounded inbox; if the inbox stays full past the drain timeout the
// connection is dropped rather than letting one client wedge the reader.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	inbox := make(chan *frame, s.opts.inboxSize)
	writer := &connWriter{w: bufio.NewWriter(conn)}

	var wg sync.WaitGroup
	defer wg.Wait()

	dispatchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.dispatch(dispatchCtx, inbox, writer)
	}()
	defer close(inbox)

	r := bufio.NewReader(conn)
	for {
		f, err := readFrame(r, s.opts.maxPayload)
		if err != nil {
			var ferr *FrameError
			if errors.As(err, &ferr) {
				s.opts.logger.Warn("dropping connection on bad frame",
					"rank", s.rank,
					"remote", conn.RemoteAddr().String(),
					"err", err,
				)
			} else if !errors.Is(err, io.EOF) && ctx.Err() == nil && !s.isClosed() {
				s.opts.logger.Debug("connection read failed",
					"rank", s.rank,
					"remote", conn.RemoteAddr().String(),
					"err", err,
				)
			}
			return
		}

		select {
		case inbox <- f:
		default:
			select {
			case inbox <- f:
			case <-time.After(s.opts.drainTimeout):
				s.opts.logger.Warn("inbox full past drain timeout, dropping connection",
					"rank", s.rank,
					"remote", conn.RemoteAddr().String(),
					"inbox_size", s.opts.inboxSize,
				)
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *Server) dispatch(ctx context.Context, inbox <-chan *frame, w *connWriter) {
	var wg sync.WaitGroup
	defer wg.Wait()

	for f := range inbox {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return
		}
		wg.Add(1)
		go func(f *frame) {
			defer wg.Done()
			defer s.sem.Release(1)
			s.process(ctx, f, w)
		}(f)
	}
}

// process decodes, handles and answers a single request frame.
func (s *Server) process(ctx context.Context, f *frame, w *connWriter) {
	req, handler, err := s.decodeRequest(f)
	if err == nil && handler == nil {
		err = fmt.Errorf("service %d has no handler on this server", f.service)
	}

	var resp Response
	if err == nil {
		resp, err = handler(ctx, req)
	}

	out := &frame{
		flags:   flagResponse,
		service: f.service,
		sender:  int32(s.rank),
		seq:     f.seq,
	}
	if err != nil {
		out.flags |= flagError
		out.payload = codec.MustMarshal(s.codec(), &errorPayload{Message: err.Error()})
	} else {
		payload, merr := s.codec().Marshal(resp)
		if merr != nil {
			out.flags |= flagError
			out.payload = codec.MustMarshal(s.codec(), &errorPayload{Message: merr.Error()})
		} else {
			out.payload = payload
		}
	}

	if werr := w.write(out); werr != nil && ctx.Err() == nil && !s.isClosed() {
		s.opts.logger.Debug("response write failed",
			"rank", s.rank,
			"service", uint32(f.service),
			"err", werr,
		)
	}
}

func (s *Server) decodeRequest(f *frame) (Request, HandlerFunc, error) {
	var (
		req     Request
		handler HandlerFunc
	)
	switch f.service {
	case serviceRegister:
		req, handler = &registerRequest{}, s.handleRegister
	case serviceGetClientCount:
		req, handler = &clientCountRequest{}, s.handleClientCount
	case serviceShutdown:
		req, handler = &shutdownRequest{}, s.handleShutdown
	default:
		entry, ok := s.registry.lookup(f.service)
		if !ok {
			return nil, nil, &UnknownServiceError{Service: f.service}
		}
		req, handler = entry.newRequest(), entry.handler
	}
	if err := s.codec().Unmarshal(f.payload, req); err != nil {
		return nil, nil, fmt.Errorf("decoding request for service %d: %w", f.service, err)
	}
	return req, handler, nil
}

func (s *Server) codec() codec.Codec {
	if s.opts.codec != nil {
		return s.opts.codec
	}
	return codec.Default
}

// ---------------------------------------------------------------------------
// Built-in handlers
// ---------------------------------------------------------------------------

func (s *Server) handleRegister(_ context.Context, req Request) (Response, error) {
	r := req.(*registerRequest)

	s.mu.Lock()
	defer s.mu.Unlock()

	rank := r.Rank
	if rank < 0 {
		if s.rank != 0 {
			return nil, fmt.Errorf("rank assignment requested from server %d, only server 0 assigns", s.rank)
		}
		rank = s.nextClient
		s.nextClient++
	} else if rank >= s.nextClient {
		s.nextClient = rank + 1
	}
	s.clients[rank] = r.Addr

	s.opts.logger.Debug("client registered",
		"rank", s.rank,
		"client_rank", rank,
		"client_addr", r.Addr,
	)
	return &registerResponse{Rank: rank, NumServers: int32(s.nb.NumServers())}, nil
}

func (s *Server) handleClientCount(_ context.Context, _ Request) (Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &clientCountResponse{NumClients: s.nextClient}, nil
}

func (s *Server) handleShutdown(_ context.Context, req Request) (Response, error) {
	r := req.(*shutdownRequest)
	if r.ClientRank != 0 {
		s.opts.logger.Info("ignoring shutdown from non-zero rank", "rank", s.rank, "client_rank", r.ClientRank)
		return &shutdownResponse{}, nil
	}

	s.mu.Lock()
	select {
	case <-s.shutdown:
	default:
		close(s.shutdown)
		s.opts.logger.Info("shutdown requested", "rank", s.rank)
	}
	s.mu.Unlock()

	return &shutdownResponse{}, nil
}

// connWriter serializes response frames from concurrent workers onto one
// connection.
type connWriter struct {
	mu sync.Mutex
	w  *bufio.Writer
}

func (cw *connWriter) write(f *frame) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if err := writeFrame(cw.w, f); err != nil {
		return err
	}
	return cw.w.Flush()
}
