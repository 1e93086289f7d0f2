package kvstore

import (
	"context"

	"github.com/hupe1980/distgraph/rpc"
)

// Service IDs of the tensor store. 32+ keeps clear of both the transport's
// reserved range and other application services.
const (
	ServiceInit rpc.ServiceID = 32 + iota
	ServicePull
	ServicePush
	ServiceGlobal2Local
	ServiceScheme
)

// InitRequest creates a tensor on every server.
type InitRequest struct {
	Name  string  `json:"name"`
	Kind  Kind    `json:"kind"`
	Shape []int64 `json:"shape"`
	DType DType   `json:"dtype"`
}

func (*InitRequest) ServiceID() rpc.ServiceID { return ServiceInit }

// InitResponse reports whether the tensor was newly created (false for an
// identical re-init).
type InitResponse struct {
	Created bool `json:"created"`
}

func (*InitResponse) ServiceID() rpc.ServiceID { return ServiceInit }

// PullRequest reads rows by global ID from one server's shard.
type PullRequest struct {
	Name string  `json:"name"`
	IDs  []int64 `json:"ids"`
}

func (*PullRequest) ServiceID() rpc.ServiceID { return ServicePull }

// PullResponse carries the rows in request order as flat bytes.
type PullResponse struct {
	Data []byte `json:"data"`
}

func (*PullResponse) ServiceID() rpc.ServiceID { return ServicePull }

// PushRequest overwrites rows by global ID on one server's shard.
type PushRequest struct {
	Name string  `json:"name"`
	IDs  []int64 `json:"ids"`
	Data []byte  `json:"data"`
}

func (*PushRequest) ServiceID() rpc.ServiceID { return ServicePush }

// PushResponse acknowledges a push.
type PushResponse struct{}

func (*PushResponse) ServiceID() rpc.ServiceID { return ServicePush }

// Global2LocalRequest resolves global IDs to the server's local row indices.
type Global2LocalRequest struct {
	Kind Kind    `json:"kind"`
	IDs  []int64 `json:"ids"`
}

func (*Global2LocalRequest) ServiceID() rpc.ServiceID { return ServiceGlobal2Local }

// Global2LocalResponse carries the resolved local indices in request order.
type Global2LocalResponse struct {
	Locals []int64 `json:"locals"`
}

func (*Global2LocalResponse) ServiceID() rpc.ServiceID { return ServiceGlobal2Local }

// SchemeRequest fetches a tensor's layout, or lists all names of a kind when
// Name is empty.
type SchemeRequest struct {
	Name string `json:"name,omitempty"`
	Kind Kind   `json:"kind,omitempty"`
}

func (*SchemeRequest) ServiceID() rpc.ServiceID { return ServiceScheme }

// SchemeResponse answers a SchemeRequest.
type SchemeResponse struct {
	Scheme Scheme   `json:"scheme,omitempty"`
	Kind   Kind     `json:"kind,omitempty"`
	Names  []string `json:"names,omitempty"`
}

func (*SchemeResponse) ServiceID() rpc.ServiceID { return ServiceScheme }

// RegisterServices wires the tensor store's handlers into an rpc registry.
func RegisterServices(reg *rpc.Registry, s *Server) error {
	if err := reg.Register(ServiceInit,
		func() rpc.Request { return &InitRequest{} },
		func(_ context.Context, req rpc.Request) (rpc.Response, error) {
			r := req.(*InitRequest)
			created, err := s.Init(r.Name, r.Kind, Scheme{Shape: r.Shape, DType: r.DType})
			if err != nil {
				return nil, err
			}
			return &InitResponse{Created: created}, nil
		}); err != nil {
		return err
	}

	if err := reg.Register(ServicePull,
		func() rpc.Request { return &PullRequest{} },
		func(_ context.Context, req rpc.Request) (rpc.Response, error) {
			r := req.(*PullRequest)
			data, err := s.Pull(r.Name, r.IDs)
			if err != nil {
				return nil, err
			}
			return &PullResponse{Data: data}, nil
		}); err != nil {
		return err
	}

	if err := reg.Register(ServicePush,
		func() rpc.Request { return &PushRequest{} },
		func(_ context.Context, req rpc.Request) (rpc.Response, error) {
			r := req.(*PushRequest)
			if err := s.Push(r.Name, r.IDs, r.Data); err != nil {
				return nil, err
			}
			return &PushResponse{}, nil
		}); err != nil {
		return err
	}

	if err := reg.Register(ServiceGlobal2Local,
		func() rpc.Request { return &Global2LocalRequest{} },
		func(_ context.Context, req rpc.Request) (rpc.Response, error) {
			r := req.(*Global2LocalRequest)
			locals, err := s.Resolve(r.Kind, r.IDs)
			if err != nil {
				return nil, err
			}
			return &Global2LocalResponse{Locals: locals}, nil
		}); err != nil {
		return err
	}

	return reg.Register(ServiceScheme,
		func() rpc.Request { return &SchemeRequest{} },
		func(_ context.Context, req rpc.Request) (rpc.Response, error) {
			r := req.(*SchemeRequest)
			if r.Name == "" {
				return &SchemeResponse{Names: s.Names(r.Kind), Kind: r.Kind}, nil
			}
			scheme, kind, err := s.Scheme(r.Name)
			if err != nil {
				return nil, err
			}
			return &SchemeResponse{Scheme: scheme, Kind: kind}, nil
		})
}
