package rpc

import (
	"errors"
	"fmt"
)

var (
	// ErrClientClosed is returned by calls on a closed client.
	ErrClientClosed = errors.New("rpc: client closed")
	// ErrServerClosed is returned by Serve after a clean shutdown.
	ErrServerClosed = errors.New("rpc: server closed")
)

// ConfigError reports an invalid cluster configuration (malformed ip-config,
// duplicate ranks, unknown machine).
type ConfigError struct {
	Detail string
}

func (e *ConfigError) Error() string {
	return "rpc: invalid configuration: " + e.Detail
}

// ConnectionError reports a failed or lost connection to a peer. Calls that
// were in flight when the connection dropped fail with this error.
type ConnectionError struct {
	Addr string
	Rank int
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("rpc: connection to server %d (%s): %v", e.Rank, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// QueueFullError reports that a bounded send queue stayed full past the
// configured drain timeout. The message was not sent.
type QueueFullError struct {
	Rank int
	Size int
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("rpc: send queue to server %d full (%d messages)", e.Rank, e.Size)
}

// FrameError reports a malformed or corrupt frame on the wire. The connection
// it arrived on is dropped.
type FrameError struct {
	Detail string
}

func (e *FrameError) Error() string {
	return "rpc: bad frame: " + e.Detail
}

// RemoteError carries a handler failure back to the caller.
type RemoteError struct {
	Service ServiceID
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("rpc: service %d: %s", e.Service, e.Message)
}

// UnknownServiceError reports a frame addressed to a service the receiving
// side never registered.
type UnknownServiceError struct {
	Service ServiceID
}

func (e *UnknownServiceError) Error() string {
	return fmt.Sprintf("rpc: unknown service %d", e.Service)
}
