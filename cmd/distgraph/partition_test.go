package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/distgraph/partition"
)

func TestReadEdgeList(t *testing.T) {
	in := strings.NewReader(`# a comment
0 1
1 2

2 0
`)
	g, err := readEdgeList(in, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), g.NumNodes())
	assert.Equal(t, int64(3), g.NumEdges())

	src, dst := g.Edge(1)
	assert.Equal(t, int64(1), int64(src))
	assert.Equal(t, int64(2), int64(dst))
}

func TestReadEdgeListErrors(t *testing.T) {
	_, err := readEdgeList(strings.NewReader("0 1 2\n"), 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")

	_, err = readEdgeList(strings.NewReader("0 x\n"), 3)
	require.Error(t, err)

	// Endpoints outside [0, numNodes) surface at build time.
	_, err = readEdgeList(strings.NewReader("0 9\n"), 3)
	require.Error(t, err)
}

func TestResolveCodec(t *testing.T) {
	c, err := resolveCodec("json")
	require.NoError(t, err)
	assert.Equal(t, "json", c.Name())

	_, err = resolveCodec("msgpack")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "msgpack")
}

func TestParseCompression(t *testing.T) {
	for in, want := range map[string]partition.Compression{
		"none": partition.CompressionNone,
		"lz4":  partition.CompressionLZ4,
		"zstd": partition.CompressionZstd,
	} {
		got, err := parseCompression(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := parseCompression("gzip")
	require.Error(t, err)
}
