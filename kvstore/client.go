package kvstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/distgraph/graph"
	"github.com/hupe1980/distgraph/partbook"
	"github.com/hupe1980/distgraph/rpc"
)

type clientOptions struct {
	logger *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*clientOptions)

// WithClientLogger sets the structured logger. Default slog.Default().
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(o *clientOptions) { o.logger = l }
}

// Client is the fan-out side of the tensor store. Requests carry global IDs;
// the client splits them by owning partition with the partition book, issues
// one concurrent sub-request per touched server, and reassembles results in
// the caller's ID order. Partition p is served by server rank p.
type Client struct {
	rc   *rpc.Client
	book partbook.Book
	opts clientOptions

	mu      sync.RWMutex
	schemes map[string]schemeInfo
}

type schemeInfo struct {
	scheme Scheme
	kind   Kind
}

// NewClient creates a tensor store client on top of an established rpc
// client. The book's partition count must match the server count.
func NewClient(rc *rpc.Client, book partbook.Book, opts ...ClientOption) (*Client, error) {
	if book.NumPartitions() != rc.NumServers() {
		return nil, &rpc.ConfigError{Detail: fmt.Sprintf(
			"partition book has %d partitions, cluster has %d servers",
			book.NumPartitions(), rc.NumServers())}
	}
	o := clientOptions{}
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return &Client{
		rc:      rc,
		book:    book,
		opts:    o,
		schemes: make(map[string]schemeInfo),
	}, nil
}

// Init creates a tensor on every server. Identical re-initialization is a
// no-op cluster-wide.
func (c *Client) Init(ctx context.Context, name string, kind Kind, scheme Scheme) error {
	if err := scheme.Validate(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for server := 0; server < c.rc.NumServers(); server++ {
		g.Go(func() error {
			var resp InitResponse
			return c.rc.Call(gctx, server, &InitRequest{
				Name:  name,
				Kind:  kind,
				Shape: scheme.Shape,
				DType: scheme.DType,
			}, &resp)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	c.mu.Lock()
	c.schemes[name] = schemeInfo{scheme: scheme, kind: kind}
	c.mu.Unlock()
	return nil
}

// Scheme returns a tensor's layout, fetching it from server 0 on first use.
func (c *Client) Scheme(ctx context.Context, name string) (Scheme, Kind, error) {
	c.mu.RLock()
	info, ok := c.schemes[name]
	c.mu.RUnlock()
	if ok {
		return info.scheme, info.kind, nil
	}

	var resp SchemeResponse
	if err := c.rc.Call(ctx, 0, &SchemeRequest{Name: name}, &resp); err != nil {
		return Scheme{}, "", err
	}

	c.mu.Lock()
	c.schemes[name] = schemeInfo{scheme: resp.Scheme, kind: resp.Kind}
	c.mu.Unlock()
	return resp.Scheme, resp.Kind, nil
}

// Names lists the tensors of a kind known to server 0.
func (c *Client) Names(ctx context.Context, kind Kind) ([]string, error) {
	var resp SchemeResponse
	if err := c.rc.Call(ctx, 0, &SchemeRequest{Kind: kind}, &resp); err != nil {
		return nil, err
	}
	return resp.Names, nil
}

// partOf routes one global ID to its owning partition, using the node or
// edge side of the book depending on the tensor's kind.
func (c *Client) partOf(kind Kind, id int64) (int, error) {
	switch kind {
	case KindNode:
		return c.book.NID2PartID(graph.NodeID(id))
	case KindEdge:
		return c.book.EID2PartID(graph.EdgeID(id))
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// split groups ids by owning server, remembering each id's position in the
// original request so responses can be reassembled in caller order.
func (c *Client) split(kind Kind, ids []int64) (map[int][]int64, map[int][]int, error) {
	byPart := make(map[int][]int64)
	posByPart := make(map[int][]int)
	for i, id := range ids {
		p, err := c.partOf(kind, id)
		if err != nil {
			return nil, nil, err
		}
		byPart[p] = append(byPart[p], id)
		posByPart[p] = append(posByPart[p], i)
	}
	return byPart, posByPart, nil
}

// Pull reads the rows of the given global IDs. Row i of the result
// corresponds to ids[i], regardless of how the request was sharded.
func (c *Client) Pull(ctx context.Context, name string, ids []int64) ([]byte, error) {
	scheme, kind, err := c.Scheme(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	byPart, posByPart, err := c.split(kind, ids)
	if err != nil {
		return nil, err
	}

	rowBytes := scheme.RowBytes()
	out := make([]byte, int64(len(ids))*rowBytes)

	g, gctx := errgroup.WithContext(ctx)
	for part, partIDs := range byPart {
		positions := posByPart[part]
		g.Go(func() error {
			var resp PullResponse
			if err := c.rc.Call(gctx, part, &PullRequest{Name: name, IDs: partIDs}, &resp); err != nil {
				return err
			}
			if int64(len(resp.Data)) != int64(len(partIDs))*rowBytes {
				return &ShapeMismatchError{
					Name:      name,
					WantBytes: int64(len(partIDs)) * rowBytes,
					GotBytes:  int64(len(resp.Data)),
				}
			}
			// Scatter sub-response rows back to their request positions.
			// Goroutines write disjoint ranges of out.
			for i, pos := range positions {
				copy(out[int64(pos)*rowBytes:], resp.Data[int64(i)*rowBytes:int64(i+1)*rowBytes])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Push overwrites the rows of the given global IDs with data (len(ids) flat
// rows). Writes land on each owning server independently; on error some
// servers may already have applied their part, but the failure is always
// reported.
func (c *Client) Push(ctx context.Context, name string, ids []int64, data []byte) error {
	scheme, kind, err := c.Scheme(ctx, name)
	if err != nil {
		return err
	}
	rowBytes := scheme.RowBytes()
	if int64(len(data)) != int64(len(ids))*rowBytes {
		return &ShapeMismatchError{
			Name:      name,
			WantBytes: int64(len(ids)) * rowBytes,
			GotBytes:  int64(len(data)),
		}
	}
	if len(ids) == 0 {
		return nil
	}

	byPart, posByPart, err := c.split(kind, ids)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for part, partIDs := range byPart {
		positions := posByPart[part]
		g.Go(func() error {
			sub := make([]byte, int64(len(partIDs))*rowBytes)
			for i, pos := range positions {
				copy(sub[int64(i)*rowBytes:], data[int64(pos)*rowBytes:int64(pos+1)*rowBytes])
			}
			var resp PushResponse
			return c.rc.Call(gctx, part, &PushRequest{Name: name, IDs: partIDs, Data: sub}, &resp)
		})
	}
	return g.Wait()
}

// Global2Local resolves global IDs against one server's shard. Mostly a
// debugging aid.
func (c *Client) Global2Local(ctx context.Context, server int, kind Kind, ids []int64) ([]int64, error) {
	var resp Global2LocalResponse
	if err := c.rc.Call(ctx, server, &Global2LocalRequest{Kind: kind, IDs: ids}, &resp); err != nil {
		return nil, err
	}
	return resp.Locals, nil
}
