package codec

import "encoding/json"

// JSON is the standard-library JSON codec.
//
// JSON is stable and portable across processes built from different
// revisions, which matters more here than raw throughput: RPC payloads are
// dominated by tensor rows that travel as packed little-endian bytes, not
// as codec output.
type JSON struct{}

// Marshal encodes the value to JSON.
func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal decodes the JSON data into v.
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Name returns the unique name of the codec ("json").
func (JSON) Name() string { return "json" }

// Default is the codec used by the RPC layer and artifact manifests unless
// overridden. Every process in a cluster must agree on it.
var Default Codec = JSON{}
