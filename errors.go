package distgraph

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on a closed DistGraph.
	ErrClosed = errors.New("distgraph: closed")
)

// MetaMismatchError reports a server whose loaded graph disagrees with the
// client's partition book. The cluster is misconfigured; nothing is retried.
type MetaMismatchError struct {
	Field  string
	Local  int64
	Remote int64
}

func (e *MetaMismatchError) Error() string {
	return fmt.Sprintf("distgraph: %s mismatch: partition book says %d, server reports %d", e.Field, e.Local, e.Remote)
}
