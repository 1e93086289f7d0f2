// Package rpc implements the framed TCP transport between graph clients and
// servers.
//
// The cluster is static: an ip-config file lists every machine and how many
// server processes it runs, which fixes all server ranks and addresses up
// front (see Namebook). Clients connect to every server, get a cluster-wide
// client rank assigned by server 0, and multiplex concurrent request/response
// calls over one duplex connection per server.
//
// Payloads are encoded with a pluggable codec and carried in checksummed
// frames; a corrupt frame drops the connection rather than risking a
// misparsed stream. Servers bound both the per-connection inbox and the
// number of concurrently running handlers.
//
// Applications define services by registering a request constructor and a
// handler under a ServiceID at or above FirstUserService:
//
//	reg := rpc.NewRegistry()
//	reg.MustRegister(myService, func() rpc.Request { return &myRequest{} }, handle)
//
// Shutdown is cooperative: client rank 0 broadcasts a shutdown request and
// every server exits its serve loop after acknowledging.
package rpc
