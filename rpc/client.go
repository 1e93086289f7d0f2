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
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hupe1980/distgraph/codec"
)

const (
	defaultSendQueue     = 256
	defaultDialTimeout   = 3 * time.Second
	defaultRetryInterval = 500 * time.Millisecond
	defaultMaxDials      = 60
)

type clientOptions struct {
	logger        *slog.Logger
	codec         codec.Codec
	maxPayload    uint32
	sendQueue     int
	drainTimeout  time.Duration
	dialTimeout   time.Duration
	retryInterval time.Duration
	maxDials      int
	addr          string
}

// ClientOption configures Connect.
type ClientOption func(*clientOptions)

// WithClientLogger sets the structured logger. Default slog.Default().
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(o *clientOptions) { o.logger = l }
}

// WithClientCodec sets the payload codec; it must match the servers'.
// Default codec.Default.
func WithClientCodec(c codec.Codec) ClientOption {
	return func(o *clientOptions) { o.codec = c }
}

// WithClientMaxPayload caps accepted frame payloads. Default 256 MiB.
func WithClientMaxPayload(n uint32) ClientOption {
	return func(o *clientOptions) { o.maxPayload = n }
}

// WithSendQueueSize bounds each per-server send queue. Default 256.
func WithSendQueueSize(n int) ClientOption {
	return func(o *clientOptions) { o.sendQueue = n }
}

// WithSendDrainTimeout sets how long a Call may wait on a full send queue
// before failing with QueueFullError. Default 5s.
func WithSendDrainTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) { o.drainTimeout = d }
}

// WithDialTimeout bounds each individual dial attempt. Default 3s.
func WithDialTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) { o.dialTimeout = d }
}

// WithRetryInterval paces dial retries while servers come up. Default 500ms.
func WithRetryInterval(d time.Duration) ClientOption {
	return func(o *clientOptions) { o.retryInterval = d }
}

// WithMaxDials caps dial attempts per server. Default 60.
func WithMaxDials(n int) ClientOption {
	return func(o *clientOptions) { o.maxDials = n }
}

// WithAdvertisedAddr sets the address reported in the register handshake.
// Default is the local address of the connection to server 0.
func WithAdvertisedAddr(addr string) ClientOption {
	return func(o *clientOptions) { o.addr = addr }
}

type pendingCall struct {
	rank int
	ch   chan *frame
}

type clientConn struct {
	rank  int
	addr  string
	conn  net.Conn
	sendq chan *frame

	dead    chan struct{}
	deadErr error
	once    sync.Once
}

func (cc *clientConn) fail(err error) {
	cc.once.Do(func() {
		cc.deadErr = err
		close(cc.dead)
		cc.conn.Close()
	})
}

// Client is one process's handle on the server cluster. It holds a duplex
// connection to every server and multiplexes concurrent calls over them.
// Safe for concurrent use.
type Client struct {
	nb   *Namebook
	opts clientOptions

	rank      int32
	machineID int
	conns     []*clientConn

	seq atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]*pendingCall
	closed  bool

	wg sync.WaitGroup
}

// Connect dials every server in the namebook, retrying while servers come
// up, then performs the register handshake that assigns this client its
// cluster rank (server 0 assigns; the rank is then announced to the rest).
func Connect(ctx context.Context, nb *Namebook, opts ...ClientOption) (*Client, error) {
	o := clientOptions{
		maxPayload:    defaultMaxPayload,
		sendQueue:     defaultSendQueue,
		drainTimeout:  defaultDrainTimeout,
		dialTimeout:   defaultDialTimeout,
		retryInterval: defaultRetryInterval,
		maxDials:      defaultMaxDials,
	}
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	c := &Client{
		nb:      nb,
		opts:    o,
		rank:    -1,
		pending: make(map[uint64]*pendingCall),
		conns:   make([]*clientConn, nb.NumServers()),
	}

	limiter := rate.NewLimiter(rate.Every(o.retryInterval), 1)
	for _, spec := range nb.Servers() {
		conn, err := c.dial(ctx, spec, limiter)
		if err != nil {
			c.Close()
			return nil, err
		}
		cc := &clientConn{
			rank:  spec.Rank,
			addr:  spec.Addr,
			conn:  conn,
			sendq: make(chan *frame, o.sendQueue),
			dead:  make(chan struct{}),
		}
		c.conns[spec.Rank] = cc
		c.wg.Add(2)
		go c.sendLoop(cc)
		go c.recvLoop(cc)
	}

	if err := c.register(ctx); err != nil {
		c.Close()
		return nil, err
	}

	if id, err := nb.LocalMachineID(); err == nil {
		c.machineID = id
	} else {
		c.machineID = -1
		o.logger.Debug("local machine not found in ip-config", "err", err)
	}

	o.logger.Info("connected to cluster",
		"client_rank", c.rank,
		"num_servers", nb.NumServers(),
		"machine_id", c.machineID,
	)
	return c, nil
}

func (c *Client) dial(ctx context.Context, spec ServerSpec, limiter *rate.Limiter) (net.Conn, error) {
	var lastErr error
	for attempt := 0; attempt < c.opts.maxDials; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
		d := net.Dialer{Timeout: c.opts.dialTimeout}
		conn, err := d.DialContext(ctx, "tcp", spec.Addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	if ctx.Err() != nil {
		lastErr = fmt.Errorf("%w (last dial error: %v)", ctx.Err(), lastErr)
	}
	return nil, &ConnectionError{Addr: spec.Addr, Rank: spec.Rank, Err: lastErr}
}

// register runs the two-phase handshake: server 0 assigns the rank, then the
// remaining servers learn it.
func (c *Client) register(ctx context.Context) error {
	addr := c.opts.addr
	if addr == "" {
		addr = c.conns[0].conn.LocalAddr().String()
	}

	var resp registerResponse
	if err := c.Call(ctx, 0, &registerRequest{Addr: addr, Rank: -1}, &resp); err != nil {
		return err
	}
	if int(resp.NumServers) != c.nb.NumServers() {
		return &ConfigError{Detail: fmt.Sprintf(
			"server 0 reports %d servers, local ip-config has %d", resp.NumServers, c.nb.NumServers())}
	}
	atomic.StoreInt32(&c.rank, resp.Rank)

	g, gctx := errgroup.WithContext(ctx)
	for rank := 1; rank < c.nb.NumServers(); rank++ {
		g.Go(func() error {
			var r registerResponse
			return c.Call(gctx, rank, &registerRequest{Addr: addr, Rank: resp.Rank}, &r)
		})
	}
	return g.Wait()
}

// Rank returns the cluster-assigned client rank.
func (c *Client) Rank() int { return int(atomic.LoadInt32(&c.rank)) }

// MachineID returns the ip-config machine index this client runs on, or -1
// when the local host is not listed.
func (c *Client) MachineID() int { return c.machineID }

// NumServers returns the server count from the namebook.
func (c *Client) NumServers() int { return c.nb.NumServers() }

// NumClients asks server 0 how many clients have registered.
func (c *Client) NumClients(ctx context.Context) (int, error) {
	var resp clientCountResponse
	if err := c.Call(ctx, 0, &clientCountRequest{}, &resp); err != nil {
		return 0, err
	}
	return int(resp.NumClients), nil
}

// Call sends req to the given server and decodes the reply into resp. It
// blocks until the response arrives, ctx is done, or the connection fails.
func (c *Client) Call(ctx context.Context, serverRank int, req Request, resp Response) error {
	if serverRank < 0 || serverRank >= len(c.conns) {
		return &ConfigError{Detail: fmt.Sprintf("server rank %d out of range [0, %d)", serverRank, len(c.conns))}
	}
	cc := c.conns[serverRank]

	payload, err := c.codec().Marshal(req)
	if err != nil {
		return fmt.Errorf("rpc: encoding request for service %d: %w", req.ServiceID(), err)
	}

	seq := c.seq.Add(1)
	call := &pendingCall{rank: serverRank, ch: make(chan *frame, 1)}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	c.pending[seq] = call
	c.mu.Unlock()
	defer c.dropPending(seq)

	f := &frame{
		service: req.ServiceID(),
		sender:  atomic.LoadInt32(&c.rank),
		seq:     seq,
		payload: payload,
	}

	// Bounded enqueue: fast path, then wait out the drain timeout.
	select {
	case cc.sendq <- f:
	default:
		select {
		case cc.sendq <- f:
		case <-time.After(c.opts.drainTimeout):
			return &QueueFullError{Rank: serverRank, Size: c.opts.sendQueue}
		case <-cc.dead:
			return &ConnectionError{Addr: cc.addr, Rank: cc.rank, Err: cc.deadErr}
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	select {
	case rf := <-call.ch:
		if rf.isError() {
			var ep errorPayload
			if err := c.codec().Unmarshal(rf.payload, &ep); err != nil {
				return &RemoteError{Service: f.service, Message: "undecodable error payload"}
			}
			return &RemoteError{Service: f.service, Message: ep.Message}
		}
		if err := c.codec().Unmarshal(rf.payload, resp); err != nil {
			return fmt.Errorf("rpc: decoding response for service %d: %w", f.service, err)
		}
		return nil
	case <-cc.dead:
		return &ConnectionError{Addr: cc.addr, Rank: cc.rank, Err: cc.deadErr}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown broadcasts the cluster shutdown. Only client rank 0 may call it;
// every server acknowledges and then exits its serve loop.
func (c *Client) Shutdown(ctx context.Context) error {
	rank := atomic.LoadInt32(&c.rank)
	if rank != 0 {
		// Shutdown is owned by rank 0 by convention; anyone else is ignored.
		c.opts.logger.Info("ignoring shutdown from non-zero rank", "rank", rank)
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for server := 0; server < len(c.conns); server++ {
		g.Go(func() error {
			var resp shutdownResponse
			return c.Call(gctx, server, &shutdownRequest{ClientRank: rank}, &resp)
		})
	}
	return g.Wait()
}

// Close tears down every connection and fails all in-flight calls.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	for _, cc := range c.conns {
		if cc != nil {
			cc.fail(ErrClientClosed)
		}
	}
	c.wg.Wait()
	return nil
}

func (c *Client) dropPending(seq uint64) {
	c.mu.Lock()
	delete(c.pending, seq)
	c.mu.Unlock()
}

func (c *Client) codec() codec.Codec {
	if c.opts.codec != nil {
		return c.opts.codec
	}
	return codec.Default
}

func (c *Client) sendLoop(cc *clientConn) {
	defer c.wg.Done()
	w := bufio.NewWriter(cc.conn)
	for {
		select {
		case f := <-cc.sendq:
			if err := writeFrame(w, f); err != nil {
				cc.fail(err)
				return
			}
			// Coalesce: only flush once the queue is momentarily empty.
			if len(cc.sendq) == 0 {
				if err := w.Flush(); err != nil {
					cc.fail(err)
					return
				}
			}
		case <-cc.dead:
			return
		}
	}
}

func (c *Client) recvLoop(cc *clientConn) {
	defer c.wg.Done()
	r := bufio.NewReader(cc.conn)
	for {
		f, err := readFrame(r, c.opts.maxPayload)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.opts.logger.Debug("connection lost",
					"server_rank", cc.rank,
					"err", err,
				)
			}
			cc.fail(err)
			return
		}
		if !f.isResponse() {
			c.opts.logger.Warn("dropping non-response frame from server",
				"server_rank", cc.rank,
				"service", uint32(f.service),
			)
			continue
		}

		c.mu.Lock()
		call := c.pending[f.seq]
		c.mu.Unlock()
		if call == nil || call.rank != cc.rank {
			// Late response to an abandoned call.
			continue
		}
		call.ch <- f
	}
}
