package partition

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/distgraph/blobstore"
	"github.com/hupe1980/distgraph/codec"
	"github.com/hupe1980/distgraph/graph"
	"github.com/hupe1980/distgraph/internal/hash"
	"github.com/hupe1980/distgraph/partbook"
)

// Artifact layout under a graph's prefix:
//
//	<name>/manifest.json   partitioning metadata and the book boundaries
//	<name>/book.bin        explicit-policy ID arrays (absent for range books)
//	<name>/part<i>/graph.bin
//
// Every .bin blob is framed with magic, version, compression tag and a
// CRC32-C over the stored payload.

const (
	artifactVersion = 1

	blobHeaderSize = 20
)

var blobMagic = [4]byte{'D', 'G', 'P', 'B'}

// ErrCorruptArtifact is returned when a blob fails magic, version or checksum
// verification.
var ErrCorruptArtifact = errors.New("partition: corrupt artifact")

// Compression selects how artifact payloads are compressed on disk.
type Compression uint8

const (
	// CompressionNone stores payloads raw.
	CompressionNone Compression = iota
	// CompressionLZ4 trades ratio for fast decompression at load time.
	CompressionLZ4
	// CompressionZstd gives the best ratio for cold artifacts.
	CompressionZstd
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// PartMeta describes one partition blob inside a Manifest.
type PartMeta struct {
	PartID        int    `json:"part_id"`
	Path          string `json:"path"`
	NumNodes      int64  `json:"num_nodes"`
	NumEdges      int64  `json:"num_edges"`
	NumInnerNodes int64  `json:"num_inner_nodes"`
	NumInnerEdges int64  `json:"num_inner_edges"`
}

// Manifest is the JSON index of a partitioned graph's artifacts.
type Manifest struct {
	FormatVersion int    `json:"format_version"`
	GraphName     string `json:"graph_name"`
	NumNodes      int64  `json:"num_nodes"`
	NumEdges      int64  `json:"num_edges"`
	NumParts      int    `json:"num_parts"`

	// BookPolicy is "range" or "explicit". Range books are fully described by
	// the boundary arrays below; explicit books live in BookPath.
	BookPolicy string  `json:"book_policy"`
	NodeStarts []int64 `json:"node_starts,omitempty"`
	EdgeStarts []int64 `json:"edge_starts,omitempty"`
	BookPath   string  `json:"book_path,omitempty"`

	Parts []PartMeta `json:"parts"`
}

// ArtifactOption configures WriteArtifacts.
type ArtifactOption func(*artifactOptions)

type artifactOptions struct {
	compression Compression
	codec       codec.Codec
}

// WithCompression selects the blob compression. Default CompressionNone.
func WithCompression(c Compression) ArtifactOption {
	return func(o *artifactOptions) { o.compression = c }
}

// WithManifestCodec overrides the manifest codec. Default codec.Default.
func WithManifestCodec(c codec.Codec) ArtifactOption {
	return func(o *artifactOptions) { o.codec = c }
}

// WriteArtifacts persists a partitioning result under name in store, so that
// each server can later load just its own partition.
func WriteArtifacts(ctx context.Context, store blobstore.BlobStore, name string, res *Result, opts ...ArtifactOption) (*Manifest, error) {
	o := artifactOptions{codec: codec.Default}
	for _, fn := range opts {
		fn(&o)
	}

	m := &Manifest{
		FormatVersion: artifactVersion,
		GraphName:     name,
		NumNodes:      res.Book.NumNodes(),
		NumEdges:      res.Book.NumEdges(),
		NumParts:      res.Book.NumPartitions(),
	}

	switch book := res.Book.(type) {
	case *partbook.RangeBook:
		m.BookPolicy = "range"
		m.NodeStarts = book.NodeStarts()
		m.EdgeStarts = book.EdgeStarts()
	case *partbook.ExplicitBook:
		m.BookPolicy = "explicit"
		m.BookPath = path.Join(name, "book.bin")
		blob, err := encodeBlob(encodeExplicitBook(book), o.compression)
		if err != nil {
			return nil, err
		}
		if err := store.Write(ctx, m.BookPath, blob); err != nil {
			return nil, fmt.Errorf("partition: writing book blob: %w", err)
		}
	default:
		return nil, fmt.Errorf("partition: unsupported book type %T", res.Book)
	}

	for _, sg := range res.Parts {
		blobPath := path.Join(name, fmt.Sprintf("part%d", sg.PartID), "graph.bin")
		blob, err := encodeBlob(encodeSubgraph(sg), o.compression)
		if err != nil {
			return nil, err
		}
		if err := store.Write(ctx, blobPath, blob); err != nil {
			return nil, fmt.Errorf("partition: writing partition %d: %w", sg.PartID, err)
		}
		m.Parts = append(m.Parts, PartMeta{
			PartID:        sg.PartID,
			Path:          blobPath,
			NumNodes:      sg.G.NumNodes(),
			NumEdges:      sg.G.NumEdges(),
			NumInnerNodes: sg.NumInnerNodes,
			NumInnerEdges: sg.NumInnerEdges,
		})
	}

	data, err := o.codec.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("partition: encoding manifest: %w", err)
	}
	if err := store.Write(ctx, path.Join(name, "manifest.json"), data); err != nil {
		return nil, fmt.Errorf("partition: writing manifest: %w", err)
	}
	return m, nil
}

// LoadManifest reads and decodes <name>/manifest.json from store.
func LoadManifest(ctx context.Context, store blobstore.BlobStore, name string, opts ...ArtifactOption) (*Manifest, error) {
	o := artifactOptions{codec: codec.Default}
	for _, fn := range opts {
		fn(&o)
	}

	blob, err := store.Open(ctx, path.Join(name, "manifest.json"))
	if err != nil {
		return nil, fmt.Errorf("partition: opening manifest: %w", err)
	}
	defer blob.Close()

	data, err := blobstore.ReadAll(blob)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := o.codec.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("partition: decoding manifest: %w", err)
	}
	if m.FormatVersion != artifactVersion {
		return nil, fmt.Errorf("%w: manifest format version %d, want %d",
			ErrCorruptArtifact, m.FormatVersion, artifactVersion)
	}
	return &m, nil
}

// LoadBook reconstructs the partition book described by a manifest.
func LoadBook(ctx context.Context, store blobstore.BlobStore, m *Manifest) (partbook.Book, error) {
	switch m.BookPolicy {
	case "range":
		return partbook.NewRangeBook(m.NodeStarts, m.EdgeStarts)
	case "explicit":
		payload, err := readBlob(ctx, store, m.BookPath)
		if err != nil {
			return nil, err
		}
		return decodeExplicitBook(payload)
	default:
		return nil, fmt.Errorf("%w: unknown book policy %q", ErrCorruptArtifact, m.BookPolicy)
	}
}

// LoadPartition reads one partition's subgraph blob back into memory.
func LoadPartition(ctx context.Context, store blobstore.BlobStore, m *Manifest, partID int) (*Subgraph, error) {
	if partID < 0 || partID >= len(m.Parts) {
		return nil, fmt.Errorf("partition: part %d out of range [0, %d)", partID, len(m.Parts))
	}
	payload, err := readBlob(ctx, store, m.Parts[partID].Path)
	if err != nil {
		return nil, err
	}
	return decodeSubgraph(payload)
}

func readBlob(ctx context.Context, store blobstore.BlobStore, name string) ([]byte, error) {
	blob, err := store.Open(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("partition: opening %s: %w", name, err)
	}
	defer blob.Close()

	data, err := blobstore.ReadAll(blob)
	if err != nil {
		return nil, err
	}
	payload, err := decodeBlob(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return payload, nil
}

// ---------------------------------------------------------------------------
// Blob framing
// ---------------------------------------------------------------------------

func encodeBlob(payload []byte, c Compression) ([]byte, error) {
	stored, err := compress(payload, c)
	if err != nil {
		return nil, err
	}

	out := make([]byte, blobHeaderSize+len(stored))
	copy(out[0:4], blobMagic[:])
	binary.LittleEndian.PutUint16(out[4:6], artifactVersion)
	out[6] = byte(c)
	out[7] = 0
	binary.LittleEndian.PutUint64(out[8:16], uint64(len(payload)))
	binary.LittleEndian.PutUint32(out[16:20], hash.CRC32C(stored))
	copy(out[blobHeaderSize:], stored)
	return out, nil
}

func decodeBlob(data []byte) ([]byte, error) {
	if len(data) < blobHeaderSize {
		return nil, fmt.Errorf("%w: blob truncated (%d bytes)", ErrCorruptArtifact, len(data))
	}
	if !bytes.Equal(data[0:4], blobMagic[:]) {
		return nil, fmt.Errorf("%w: bad magic", ErrCorruptArtifact)
	}
	if v := binary.LittleEndian.Uint16(data[4:6]); v != artifactVersion {
		return nil, fmt.Errorf("%w: blob version %d, want %d", ErrCorruptArtifact, v, artifactVersion)
	}
	c := Compression(data[6])
	rawLen := binary.LittleEndian.Uint64(data[8:16])
	wantCRC := binary.LittleEndian.Uint32(data[16:20])

	stored := data[blobHeaderSize:]
	if got := hash.CRC32C(stored); got != wantCRC {
		return nil, fmt.Errorf("%w: checksum mismatch (got %08x, want %08x)", ErrCorruptArtifact, got, wantCRC)
	}

	payload, err := decompress(stored, c, rawLen)
	if err != nil {
		return nil, err
	}
	if uint64(len(payload)) != rawLen {
		return nil, fmt.Errorf("%w: payload length %d, header says %d", ErrCorruptArtifact, len(payload), rawLen)
	}
	return payload, nil
}

func compress(payload []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressionNone:
		return payload, nil
	case CompressionLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(payload); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(payload, nil), nil
	default:
		return nil, fmt.Errorf("partition: unknown compression %d", uint8(c))
	}
}

func decompress(stored []byte, c Compression, rawLen uint64) ([]byte, error) {
	switch c {
	case CompressionNone:
		return stored, nil
	case CompressionLZ4:
		r := lz4.NewReader(bytes.NewReader(stored))
		payload := make([]byte, rawLen)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", ErrCorruptArtifact, err)
		}
		return payload, nil
	case CompressionZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		payload, err := dec.DecodeAll(stored, make([]byte, 0, rawLen))
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrCorruptArtifact, err)
		}
		return payload, nil
	default:
		return nil, fmt.Errorf("%w: unknown compression %d", ErrCorruptArtifact, uint8(c))
	}
}

// ---------------------------------------------------------------------------
// Payload encoding
// ---------------------------------------------------------------------------

// Subgraph payload, little endian:
//
//	u32 partID
//	i64 numNodes, i64 numEdges, i64 numInnerNodes, i64 numInnerEdges
//	numEdges x (i64 src, i64 dst)        local endpoints
//	numNodes x i64                       GlobalNID
//	numNodes x i64                       OrigNID
//	numNodes x i32                       NodePart
//	numEdges x i64                       GlobalEID
//	numEdges x i64                       OrigEID
//
// InnerNode/InnerEdge are not stored: locals below the inner counts are
// inner, the rest halo.
func encodeSubgraph(sg *Subgraph) []byte {
	numNodes := sg.G.NumNodes()
	numEdges := sg.G.NumEdges()

	size := 4 + 4*8 + numEdges*16 + numNodes*8*2 + numNodes*4 + numEdges*8*2
	w := newBinWriter(int(size))

	w.u32(uint32(sg.PartID))
	w.i64(numNodes)
	w.i64(numEdges)
	w.i64(sg.NumInnerNodes)
	w.i64(sg.NumInnerEdges)

	for e := int64(0); e < numEdges; e++ {
		src, dst := sg.G.Edge(graph.EdgeID(e))
		w.i64(int64(src))
		w.i64(int64(dst))
	}
	for _, v := range sg.GlobalNID {
		w.i64(int64(v))
	}
	for _, v := range sg.OrigNID {
		w.i64(int64(v))
	}
	for _, v := range sg.NodePart {
		w.i32(v)
	}
	for _, v := range sg.GlobalEID {
		w.i64(int64(v))
	}
	for _, v := range sg.OrigEID {
		w.i64(int64(v))
	}
	return w.bytes()
}

func decodeSubgraph(payload []byte) (*Subgraph, error) {
	r := newBinReader(payload)

	partID := int(r.u32())
	numNodes := r.i64()
	numEdges := r.i64()
	numInnerNodes := r.i64()
	numInnerEdges := r.i64()
	if r.err != nil {
		return nil, fmt.Errorf("%w: subgraph header: %v", ErrCorruptArtifact, r.err)
	}
	if numNodes < 0 || numEdges < 0 ||
		numInnerNodes < 0 || numInnerNodes > numNodes ||
		numInnerEdges < 0 || numInnerEdges > numEdges {
		return nil, fmt.Errorf("%w: inconsistent subgraph counts", ErrCorruptArtifact)
	}

	b := graph.NewBuilder(numNodes)
	for e := int64(0); e < numEdges; e++ {
		src := r.i64()
		dst := r.i64()
		if r.err != nil {
			return nil, fmt.Errorf("%w: subgraph edges: %v", ErrCorruptArtifact, r.err)
		}
		b.AddEdge(graph.NodeID(src), graph.NodeID(dst))
	}

	sg := &Subgraph{
		PartID:        partID,
		GlobalNID:     make([]graph.NodeID, numNodes),
		OrigNID:       make([]graph.NodeID, numNodes),
		InnerNode:     make([]bool, numNodes),
		NodePart:      make([]int32, numNodes),
		GlobalEID:     make([]graph.EdgeID, numEdges),
		OrigEID:       make([]graph.EdgeID, numEdges),
		InnerEdge:     make([]bool, numEdges),
		NumInnerNodes: numInnerNodes,
		NumInnerEdges: numInnerEdges,
	}
	for i := range sg.GlobalNID {
		sg.GlobalNID[i] = graph.NodeID(r.i64())
	}
	for i := range sg.OrigNID {
		sg.OrigNID[i] = graph.NodeID(r.i64())
	}
	for i := range sg.NodePart {
		sg.NodePart[i] = r.i32()
	}
	for i := range sg.GlobalEID {
		sg.GlobalEID[i] = graph.EdgeID(r.i64())
	}
	for i := range sg.OrigEID {
		sg.OrigEID[i] = graph.EdgeID(r.i64())
	}
	if r.err != nil {
		return nil, fmt.Errorf("%w: subgraph arrays: %v", ErrCorruptArtifact, r.err)
	}
	for i := int64(0); i < numInnerNodes; i++ {
		sg.InnerNode[i] = true
	}
	for i := int64(0); i < numInnerEdges; i++ {
		sg.InnerEdge[i] = true
	}

	lg, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("%w: rebuilding local graph: %v", ErrCorruptArtifact, err)
	}
	sg.G = lg
	return sg, nil
}

// Explicit book payload, little endian:
//
//	u32 numParts
//	numParts x (i64 n, n x i64)   owned node IDs per partition
//	numParts x (i64 m, m x i64)   owned edge IDs per partition
func encodeExplicitBook(b *partbook.ExplicitBook) []byte {
	w := newBinWriter(0)
	w.u32(uint32(b.NumPartitions()))
	for p := 0; p < b.NumPartitions(); p++ {
		nids := b.PartNodes(p)
		w.i64(int64(len(nids)))
		for _, v := range nids {
			w.i64(int64(v))
		}
	}
	for p := 0; p < b.NumPartitions(); p++ {
		eids := b.PartEdges(p)
		w.i64(int64(len(eids)))
		for _, v := range eids {
			w.i64(int64(v))
		}
	}
	return w.bytes()
}

func decodeExplicitBook(payload []byte) (*partbook.ExplicitBook, error) {
	r := newBinReader(payload)

	numParts := int(r.u32())
	if r.err != nil || numParts < 1 {
		return nil, fmt.Errorf("%w: book header", ErrCorruptArtifact)
	}

	partNodes := make([][]graph.NodeID, numParts)
	for p := 0; p < numParts; p++ {
		n := r.i64()
		if r.err != nil || n < 0 {
			return nil, fmt.Errorf("%w: book node arrays", ErrCorruptArtifact)
		}
		nids := make([]graph.NodeID, n)
		for i := range nids {
			nids[i] = graph.NodeID(r.i64())
		}
		partNodes[p] = nids
	}
	partEdges := make([][]graph.EdgeID, numParts)
	for p := 0; p < numParts; p++ {
		n := r.i64()
		if r.err != nil || n < 0 {
			return nil, fmt.Errorf("%w: book edge arrays", ErrCorruptArtifact)
		}
		eids := make([]graph.EdgeID, n)
		for i := range eids {
			eids[i] = graph.EdgeID(r.i64())
		}
		partEdges[p] = eids
	}
	if r.err != nil {
		return nil, fmt.Errorf("%w: book arrays", ErrCorruptArtifact)
	}

	return partbook.NewExplicitBook(partNodes, partEdges)
}

// ---------------------------------------------------------------------------
// Little-endian scratch writer/reader
// ---------------------------------------------------------------------------

type binWriter struct {
	buf []byte
}

func newBinWriter(sizeHint int) *binWriter {
	return &binWriter{buf: make([]byte, 0, sizeHint)}
}

func (w *binWriter) u32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *binWriter) i32(v int32)  { w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(v)) }
func (w *binWriter) i64(v int64)  { w.buf = binary.LittleEndian.AppendUint64(w.buf, uint64(v)) }

func (w *binWriter) bytes() []byte { return w.buf }

type binReader struct {
	buf []byte
	off int
	err error
}

func newBinReader(buf []byte) *binReader { return &binReader{buf: buf} }

func (r *binReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.buf) {
		r.err = io.ErrUnexpectedEOF
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *binReader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *binReader) i32() int32 { return int32(r.u32()) }

func (r *binReader) i64() int64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(b))
}
