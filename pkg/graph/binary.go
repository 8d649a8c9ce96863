package graph

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"unsafe"
)

const (
	magicBytes = "FIREROUT"
	version    = uint32(1)
	maxNodes   = 20_000_000
	maxEdges   = 50_000_000
	maxStrLen  = 4096
)

// fileHeader is the binary header.
type fileHeader struct {
	Magic         [8]byte
	Version       uint32
	NumNodes      uint32
	NumEdges      uint32
	NumFacilities uint32
}

// WriteBinary serializes the graph's nodes, edges and facilities. Active
// flags are not written: a stored graph is always the pristine source.
func WriteBinary(path string, g *Graph) error {
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		f.Close()
		os.Remove(tmpPath) // clean up on error
	}()

	crcWriter := crc32Writer{w: f, hash: crc32.NewIEEE()}
	w := &crcWriter

	n, m := len(g.Nodes), len(g.Edges)
	hdr := fileHeader{
		Version:       version,
		NumNodes:      uint32(n),
		NumEdges:      uint32(m),
		NumFacilities: uint32(len(g.Facilities)),
	}
	copy(hdr.Magic[:], magicBytes)
	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	// Nodes, column by column.
	ids := make([]int64, n)
	lats := make([]float64, n)
	lngs := make([]float64, n)
	kinds := make([]byte, n)
	for i, nd := range g.Nodes {
		ids[i], lats[i], lngs[i], kinds[i] = int64(nd.ID), nd.Lat, nd.Lng, byte(nd.Kind)
	}
	if err := writeInt64Slice(w, ids); err != nil {
		return fmt.Errorf("write node ids: %w", err)
	}
	if err := writeFloat64Slice(w, lats); err != nil {
		return fmt.Errorf("write node lat: %w", err)
	}
	if err := writeFloat64Slice(w, lngs); err != nil {
		return fmt.Errorf("write node lng: %w", err)
	}
	if _, err := w.Write(kinds); err != nil {
		return fmt.Errorf("write node kinds: %w", err)
	}

	// Edges.
	src := make([]uint32, m)
	dst := make([]uint32, m)
	weights := make([]float64, m)
	ekinds := make([]byte, m)
	for i, e := range g.Edges {
		src[i], dst[i], weights[i], ekinds[i] = e.Source, e.Target, e.Weight, byte(e.Kind)
	}
	if err := writeUint32Slice(w, src); err != nil {
		return fmt.Errorf("write edge source: %w", err)
	}
	if err := writeUint32Slice(w, dst); err != nil {
		return fmt.Errorf("write edge target: %w", err)
	}
	if err := writeFloat64Slice(w, weights); err != nil {
		return fmt.Errorf("write edge weight: %w", err)
	}
	if _, err := w.Write(ekinds); err != nil {
		return fmt.Errorf("write edge kinds: %w", err)
	}

	// Facilities.
	for _, fc := range g.Facilities {
		if err := writeString(w, fc.ID); err != nil {
			return fmt.Errorf("write facility id: %w", err)
		}
		if err := writeString(w, fc.Name); err != nil {
			return fmt.Errorf("write facility name: %w", err)
		}
		if err := writeFloat64Slice(w, []float64{fc.Lat, fc.Lng}); err != nil {
			return fmt.Errorf("write facility coords: %w", err)
		}
	}

	checksum := crcWriter.hash.Sum32()
	if err := binary.Write(f, binary.LittleEndian, checksum); err != nil {
		return fmt.Errorf("write CRC32: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}

	return nil
}

// ReadBinary loads a graph written by WriteBinary. Every node and edge is active.
func ReadBinary(path string) (*Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	crcReader := crc32Reader{r: f, hash: crc32.NewIEEE()}
	r := &crcReader

	var hdr fileHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	if string(hdr.Magic[:]) != magicBytes {
		return nil, fmt.Errorf("invalid magic bytes: %q", hdr.Magic)
	}
	if hdr.Version != version {
		return nil, fmt.Errorf("unsupported version: %d", hdr.Version)
	}
	if hdr.NumNodes > maxNodes {
		return nil, fmt.Errorf("NumNodes %d exceeds limit %d", hdr.NumNodes, maxNodes)
	}
	if hdr.NumEdges > maxEdges {
		return nil, fmt.Errorf("NumEdges %d exceeds limit %d", hdr.NumEdges, maxEdges)
	}
	n, m := int(hdr.NumNodes), int(hdr.NumEdges)

	ids, err := readInt64Slice(r, n)
	if err != nil {
		return nil, fmt.Errorf("read node ids: %w", err)
	}
	lats, err := readFloat64Slice(r, n)
	if err != nil {
		return nil, fmt.Errorf("read node lat: %w", err)
	}
	lngs, err := readFloat64Slice(r, n)
	if err != nil {
		return nil, fmt.Errorf("read node lng: %w", err)
	}
	kinds := make([]byte, n)
	if _, err := io.ReadFull(r, kinds); err != nil {
		return nil, fmt.Errorf("read node kinds: %w", err)
	}

	src, err := readUint32Slice(r, m)
	if err != nil {
		return nil, fmt.Errorf("read edge source: %w", err)
	}
	dst, err := readUint32Slice(r, m)
	if err != nil {
		return nil, fmt.Errorf("read edge target: %w", err)
	}
	weights, err := readFloat64Slice(r, m)
	if err != nil {
		return nil, fmt.Errorf("read edge weight: %w", err)
	}
	ekinds := make([]byte, m)
	if _, err := io.ReadFull(r, ekinds); err != nil {
		return nil, fmt.Errorf("read edge kinds: %w", err)
	}

	facilities := make([]Facility, 0, hdr.NumFacilities)
	for i := uint32(0); i < hdr.NumFacilities; i++ {
		var fc Facility
		if fc.ID, err = readString(r); err != nil {
			return nil, fmt.Errorf("read facility id: %w", err)
		}
		if fc.Name, err = readString(r); err != nil {
			return nil, fmt.Errorf("read facility name: %w", err)
		}
		coords, err := readFloat64Slice(r, 2)
		if err != nil {
			return nil, fmt.Errorf("read facility coords: %w", err)
		}
		fc.Lat, fc.Lng = coords[0], coords[1]
		facilities = append(facilities, fc)
	}

	expectedCRC := crcReader.hash.Sum32()
	var storedCRC uint32
	if err := binary.Read(f, binary.LittleEndian, &storedCRC); err != nil {
		return nil, fmt.Errorf("read CRC32: %w", err)
	}
	if storedCRC != expectedCRC {
		return nil, fmt.Errorf("CRC32 mismatch: stored=%08x computed=%08x", storedCRC, expectedCRC)
	}

	nodes := make([]Node, n)
	seen := make(map[NodeID]struct{}, n)
	for i := range nodes {
		if kinds[i] > byte(NodeConnector) {
			return nil, fmt.Errorf("node %d: invalid kind %d", i, kinds[i])
		}
		id := NodeID(ids[i])
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("node %d: duplicate id %d", i, id)
		}
		seen[id] = struct{}{}
		nodes[i] = Node{ID: id, Lat: lats[i], Lng: lngs[i], Kind: NodeKind(kinds[i])}
	}
	edges := make([]Edge, m)
	for i := range edges {
		if src[i] >= hdr.NumNodes || dst[i] >= hdr.NumNodes {
			return nil, fmt.Errorf("edge %d: endpoint out of range", i)
		}
		if ekinds[i] > byte(EdgeConnector) {
			return nil, fmt.Errorf("edge %d: invalid kind %d", i, ekinds[i])
		}
		if weights[i] < 0 || math.IsNaN(weights[i]) || math.IsInf(weights[i], 0) {
			return nil, fmt.Errorf("edge %d: invalid weight %v", i, weights[i])
		}
		edges[i] = Edge{Source: src[i], Target: dst[i], Kind: EdgeKind(ekinds[i]), Weight: weights[i]}
	}

	g := newGraph(nodes, edges)
	g.Facilities = facilities
	return g, nil
}

// Zero-copy I/O helpers using unsafe.Slice.

func writeUint32Slice(w io.Writer, s []uint32) error {
	if len(s) == 0 {
		return nil
	}
	b := unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*4)
	_, err := w.Write(b)
	return err
}

func writeInt64Slice(w io.Writer, s []int64) error {
	if len(s) == 0 {
		return nil
	}
	b := unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*8)
	_, err := w.Write(b)
	return err
}

func writeFloat64Slice(w io.Writer, s []float64) error {
	if len(s) == 0 {
		return nil
	}
	b := unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*8)
	_, err := w.Write(b)
	return err
}

func readUint32Slice(r io.Reader, n int) ([]uint32, error) {
	if n == 0 {
		return nil, nil
	}
	s := make([]uint32, n)
	b := unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), n*4)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return s, nil
}

func readInt64Slice(r io.Reader, n int) ([]int64, error) {
	if n == 0 {
		return nil, nil
	}
	s := make([]int64, n)
	b := unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), n*8)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return s, nil
}

func readFloat64Slice(r io.Reader, n int) ([]float64, error) {
	if n == 0 {
		return nil, nil
	}
	s := make([]float64, n)
	b := unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), n*8)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return s, nil
}

func writeString(w io.Writer, s string) error {
	if len(s) > maxStrLen {
		s = s[:maxStrLen]
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	if n > maxStrLen {
		return "", fmt.Errorf("string length %d exceeds limit %d", n, maxStrLen)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

// CRC32 wrapping writers/readers.

type crc32Writer struct {
	w    io.Writer
	hash crc32Hash
}

type crc32Hash interface {
	Write([]byte) (int, error)
	Sum32() uint32
}

func (cw *crc32Writer) Write(p []byte) (int, error) {
	cw.hash.Write(p)
	return cw.w.Write(p)
}

type crc32Reader struct {
	r    io.Reader
	hash crc32Hash
}

func (cr *crc32Reader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	if n > 0 {
		cr.hash.Write(p[:n])
	}
	return n, err
}
