package rpc

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hupe1980/distgraph/internal/hash"
)

// Wire format. Every message is one frame:
//
//	u16 magic  "GR"
//	u8  flags           bit 0: response, bit 1: error payload
//	u32 service
//	i32 sender          client rank on requests, server rank on responses
//	u64 seq             request/response correlation
//	u32 length          payload bytes
//	u32 crc             CRC32-C over the payload
//	... payload
//
// Integers are little endian. The checksum covers the payload only; a header
// corruption shows up as a magic or length failure instead.

const (
	frameMagic uint16 = 0x4752 // "GR"

	frameHeaderSize = 2 + 1 + 4 + 4 + 8 + 4 + 4

	flagResponse = 1 << 0
	flagError    = 1 << 1
)

type frame struct {
	flags   uint8
	service ServiceID
	sender  int32
	seq     uint64
	payload []byte
}

func (f *frame) isResponse() bool { return f.flags&flagResponse != 0 }
func (f *frame) isError() bool    { return f.flags&flagError != 0 }

func writeFrame(w io.Writer, f *frame) error {
	hdr := make([]byte, frameHeaderSize)
	binary.LittleEndian.PutUint16(hdr[0:2], frameMagic)
	hdr[2] = f.flags
	binary.LittleEndian.PutUint32(hdr[3:7], uint32(f.service))
	binary.LittleEndian.PutUint32(hdr[7:11], uint32(f.sender))
	binary.LittleEndian.PutUint64(hdr[11:19], f.seq)
	binary.LittleEndian.PutUint32(hdr[19:23], uint32(len(f.payload)))
	binary.LittleEndian.PutUint32(hdr[23:27], hash.CRC32C(f.payload))

	if _, err := w.Write(hdr); err != nil {
		return err
	}
	if len(f.payload) > 0 {
		if _, err := w.Write(f.payload); err != nil {
			return err
		}
	}
	return nil
}

func readFrame(r io.Reader, maxPayload uint32) (*frame, error) {
	hdr := make([]byte, frameHeaderSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, err
	}
	if magic := binary.LittleEndian.Uint16(hdr[0:2]); magic != frameMagic {
		return nil, &FrameError{Detail: fmt.Sprintf("magic %04x", magic)}
	}

	f := &frame{
		flags:   hdr[2],
		service: ServiceID(binary.LittleEndian.Uint32(hdr[3:7])),
		sender:  int32(binary.LittleEndian.Uint32(hdr[7:11])),
		seq:     binary.LittleEndian.Uint64(hdr[11:19]),
	}
	length := binary.LittleEndian.Uint32(hdr[19:23])
	wantCRC := binary.LittleEndian.Uint32(hdr[23:27])

	if length > maxPayload {
		return nil, &FrameError{Detail: fmt.Sprintf("payload %d exceeds limit %d", length, maxPayload)}
	}
	if length > 0 {
		f.payload = make([]byte, length)
		if _, err := io.ReadFull(r, f.payload); err != nil {
			return nil, err
		}
	}
	if got := hash.CRC32C(f.payload); got != wantCRC {
		return nil, &FrameError{Detail: fmt.Sprintf("payload checksum %08x, want %08x", got, wantCRC)}
	}
	return f, nil
}
