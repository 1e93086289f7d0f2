package rpc

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	in := &frame{
		flags:   flagResponse,
		service: 42,
		sender:  7,
		seq:     991188,
		payload: []byte(`{"hello":"world"}`),
	}

	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, in))

	out, err := readFrame(&buf, 1<<20)
	require.NoError(t, err)
	assert.Equal(t, in.flags, out.flags)
	assert.Equal(t, in.service, out.service)
	assert.Equal(t, in.sender, out.sender)
	assert.Equal(t, in.seq, out.seq)
	assert.Equal(t, in.payload, out.payload)
	assert.True(t, out.isResponse())
	assert.False(t, out.isError())
}

func TestFrameEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, &frame{service: 1, seq: 1}))

	out, err := readFrame(&buf, 1<<20)
	require.NoError(t, err)
	assert.Empty(t, out.payload)
}

func TestFrameBadMagic(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, &frame{service: 1, seq: 1, payload: []byte("x")}))

	data := buf.Bytes()
	data[0] = 0xAB

	_, err := readFrame(bytes.NewReader(data), 1<<20)
	var ferr *FrameError
	require.ErrorAs(t, err, &ferr)
}

func TestFrameCorruptPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, &frame{service: 1, seq: 1, payload: []byte("payload")}))

	data := buf.Bytes()
	data[len(data)-1] ^= 0xFF

	_, err := readFrame(bytes.NewReader(data), 1<<20)
	var ferr *FrameError
	require.ErrorAs(t, err, &ferr)
}

func TestFramePayloadTooLarge(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, &frame{service: 1, seq: 1, payload: make([]byte, 100)}))

	_, err := readFrame(&buf, 10)
	var ferr *FrameError
	require.ErrorAs(t, err, &ferr)
}
