package rpc

import (
	"context"
	"fmt"
	"sync"
)

// ServiceID identifies a request/response pair. IDs below FirstUserService
// are reserved for the transport itself.
type ServiceID uint32

const (
	serviceRegister       ServiceID = 1
	serviceGetClientCount ServiceID = 2
	serviceShutdown       ServiceID = 3

	// FirstUserService is the lowest service ID available to applications.
	FirstUserService ServiceID = 16
)

// Request is a client-to-server message.
type Request interface {
	ServiceID() ServiceID
}

// Response is a server-to-client message.
type Response interface {
	ServiceID() ServiceID
}

// HandlerFunc processes one decoded request on a server. It runs on a worker
// goroutine; returning an error sends a RemoteError to the caller.
type HandlerFunc func(ctx context.Context, req Request) (Response, error)

type serviceEntry struct {
	newRequest func() Request
	handler    HandlerFunc
}

// Registry maps service IDs to request constructors and handlers, so a
// server can decode and dispatch incoming frames. Clients do not need one:
// responses are decoded into caller-supplied values.
type Registry struct {
	mu      sync.RWMutex
	entries map[ServiceID]*serviceEntry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[ServiceID]*serviceEntry)}
}

// Register installs a service. newRequest constructs an empty request for
// decoding. Registering a reserved or duplicate ID returns an error.
func (r *Registry) Register(id ServiceID, newRequest func() Request, handler HandlerFunc) error {
	if id < FirstUserService {
		return fmt.Errorf("rpc: service ID %d is reserved", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.entries[id]; dup {
		return fmt.Errorf("rpc: service ID %d registered twice", id)
	}
	r.entries[id] = &serviceEntry{newRequest: newRequest, handler: handler}
	return nil
}

// MustRegister is Register that panics on error, for startup wiring.
func (r *Registry) MustRegister(id ServiceID, newRequest func() Request, handler HandlerFunc) {
	if err := r.Register(id, newRequest, handler); err != nil {
		panic(err)
	}
}

func (r *Registry) lookup(id ServiceID) (*serviceEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// ---------------------------------------------------------------------------
// Built-in messages
// ---------------------------------------------------------------------------

// registerRequest is the connect handshake. Rank -1 asks server 0 to assign
// a fresh client rank; other servers receive the already-assigned rank.
type registerRequest struct {
	Addr string `json:"addr"`
	Rank int32  `json:"rank"`
}

func (*registerRequest) ServiceID() ServiceID { return serviceRegister }

type registerResponse struct {
	Rank       int32 `json:"rank"`
	NumServers int32 `json:"num_servers"`
}

func (*registerResponse) ServiceID() ServiceID { return serviceRegister }

type clientCountRequest struct{}

func (*clientCountRequest) ServiceID() ServiceID { return serviceGetClientCount }

type clientCountResponse struct {
	NumClients int32 `json:"num_clients"`
}

func (*clientCountResponse) ServiceID() ServiceID { return serviceGetClientCount }

type shutdownRequest struct {
	ClientRank int32 `json:"client_rank"`
}

func (*shutdownRequest) ServiceID() ServiceID { return serviceShutdown }

type shutdownResponse struct{}

func (*shutdownResponse) ServiceID() ServiceID { return serviceShutdown }

// errorPayload is the body of frames with the error flag set.
type errorPayload struct {
	Message string `json:"message"`
}
