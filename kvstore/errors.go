package kvstore

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownName is returned for operations on a tensor that was never
	// initialized.
	ErrUnknownName = errors.New("kvstore: unknown tensor name")
	// ErrUnknownKind is returned when a tensor references an entity kind the
	// server has no shard configuration for.
	ErrUnknownKind = errors.New("kvstore: unknown entity kind")
)

// DuplicateNameError reports an Init for an existing tensor with a different
// layout. Identical re-initialization is a no-op and does not produce this.
type DuplicateNameError struct {
	Name     string
	Existing Scheme
	Got      Scheme
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("kvstore: tensor %q already initialized as %s, got %s", e.Name, e.Existing, e.Got)
}

// ShapeMismatchError reports a push/pull whose data size does not match the
// tensor's scheme.
type ShapeMismatchError struct {
	Name      string
	WantBytes int64
	GotBytes  int64
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("kvstore: tensor %q: payload of %d bytes, scheme requires %d", e.Name, e.GotBytes, e.WantBytes)
}
