package vector

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Companion file suffixes. A snapshot named "activity_vectors" lives in
// activity_vectors.idx.data and activity_vectors.idx.graph.
const (
	DataSuffix  = ".idx.data"
	GraphSuffix = ".idx.graph"
)

const snapshotVersion = 1

// maxDimension bounds the vector length a snapshot header may declare.
const maxDimension = 1 << 16

var (
	dataMagic  = [4]byte{'H', 'X', 'I', 'D'}
	graphMagic = [4]byte{'H', 'X', 'I', 'G'}
)

const (
	kindFlat uint8 = 1
	kindHNSW uint8 = 2
)

// header opens both companion files. The graph header carries the CRC32 of the whole
// data file so a data file from another save is rejected.
type header struct {
	Magic      [4]byte
	Version    uint32
	Codec      uint8
	Kind       uint8
	_          [2]byte
	SnapshotID uuid.UUID
	Dimension  uint32
	Count      uint32
	DataCRC    uint32
}

// snapshotSource is implemented by engines that can be written to disk.
type snapshotSource interface {
	Engine
	node(i int) (int64, []float32)
	writeGraph(w io.Writer) error
}

// DataPath returns the data file path of snapshot name in dir.
func DataPath(dir, name string) string {
	return filepath.Join(dir, name+DataSuffix)
}

// GraphPath returns the graph file path of snapshot name in dir.
func GraphPath(dir, name string) string {
	return filepath.Join(dir, name+GraphSuffix)
}

// Persist writes e to a pair of fresh companion files under a unique temporary name in
// dir and returns that name. Either both files are written and synced or neither is left behind.
func Persist(e Engine, dir, name string, codec Codec) (string, error) {
	src, ok := e.(snapshotSource)
	if !ok {
		return "", fmt.Errorf("engine %s cannot be persisted", e.Type())
	}
	kind, err := kindOf(e.Type())
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create index dir: %w", err)
	}
	tmp := fmt.Sprintf("%s.%s.tmp", name, uuid.NewString())
	h := header{
		Version:    snapshotVersion,
		Codec:      uint8(codec),
		Kind:       kind,
		SnapshotID: uuid.New(),
		Dimension:  uint32(e.Dimension()),
		Count:      uint32(e.Len()),
	}

	h.Magic = dataMagic
	crc, err := writeSnapshotFile(DataPath(dir, tmp), h, codec, func(w io.Writer) error {
		return writeNodes(w, src)
	})
	if err != nil {
		_ = os.Remove(DataPath(dir, tmp))
		return "", fmt.Errorf("write data file: %w", err)
	}

	h.Magic = graphMagic
	h.DataCRC = crc
	if _, err := writeSnapshotFile(GraphPath(dir, tmp), h, codec, src.writeGraph); err != nil {
		_ = os.Remove(DataPath(dir, tmp))
		_ = os.Remove(GraphPath(dir, tmp))
		return "", fmt.Errorf("write graph file: %w", err)
	}
	return tmp, nil
}

func writeSnapshotFile(path string, h header, codec Codec, body func(io.Writer) error) (uint32, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	sum := crc32.NewIEEE()
	bw := bufio.NewWriter(io.MultiWriter(f, sum))
	if err := binary.Write(bw, binary.LittleEndian, h); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}
	cw, err := codec.compressor(bw)
	if err != nil {
		return 0, err
	}
	if err := body(cw); err != nil {
		return 0, err
	}
	if err := cw.Close(); err != nil {
		return 0, fmt.Errorf("close %s encoder: %w", codec, err)
	}
	if err := bw.Flush(); err != nil {
		return 0, err
	}
	if err := f.Sync(); err != nil {
		return 0, fmt.Errorf("sync: %w", err)
	}
	return sum.Sum32(), f.Close()
}

func writeNodes(w io.Writer, src snapshotSource) error {
	for i := 0; i < src.Len(); i++ {
		id, vec := src.node(i)
		if err := binary.Write(w, binary.LittleEndian, id); err != nil {
			return fmt.Errorf("write id: %w", err)
		}
		if _, err := w.Write(float32SliceToBytes(vec)); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	return nil
}

// Load reconstructs the engine saved as name in dir. It returns ErrNoSnapshot when neither
// companion file exists and ErrSnapshotMismatch when they do not belong to the same save.
// opts supply the limits for the rebuilt engine; type and dimension come from the files.
func Load(dir, name string, opts Options) (Engine, error) {
	gf, gerr := os.Open(GraphPath(dir, name))
	df, derr := os.Open(DataPath(dir, name))
	if gerr == nil {
		defer gf.Close()
	}
	if derr == nil {
		defer df.Close()
	}
	switch {
	case errors.Is(gerr, fs.ErrNotExist) && errors.Is(derr, fs.ErrNotExist):
		return nil, ErrNoSnapshot
	case errors.Is(gerr, fs.ErrNotExist) || errors.Is(derr, fs.ErrNotExist):
		return nil, fmt.Errorf("%w: missing companion file for %s", ErrSnapshotMismatch, name)
	case gerr != nil:
		return nil, fmt.Errorf("open graph file: %w", gerr)
	case derr != nil:
		return nil, fmt.Errorf("open data file: %w", derr)
	}

	gr := bufio.NewReader(gf)
	gh, err := readHeader(gr, graphMagic)
	if err != nil {
		return nil, fmt.Errorf("graph file: %w", err)
	}
	sum := crc32.NewIEEE()
	dr := bufio.NewReader(io.TeeReader(df, sum))
	dh, err := readHeader(dr, dataMagic)
	if err != nil {
		return nil, fmt.Errorf("data file: %w", err)
	}
	if err := matchHeaders(dh, gh); err != nil {
		return nil, err
	}

	opts = opts.withDefaults()
	opts.Dimension = int(dh.Dimension)
	if int(dh.Count) > opts.MaxElements {
		return nil, fmt.Errorf("%w: snapshot holds %d nodes, limit is %d", ErrCapacityExceeded, dh.Count, opts.MaxElements)
	}
	if dh.Dimension > maxDimension || (dh.Dimension == 0 && dh.Count > 0) {
		return nil, fmt.Errorf("%w: snapshot declares dimension %d for %d nodes", ErrSnapshotMismatch, dh.Dimension, dh.Count)
	}

	payload, err := Codec(dh.Codec).decompressor(dr)
	if err != nil {
		return nil, err
	}
	ids, vectors, err := readNodes(payload, int(dh.Count), int(dh.Dimension))
	payload.Close()
	if err != nil {
		return nil, fmt.Errorf("data file: %w", err)
	}
	if _, err := io.Copy(io.Discard, dr); err != nil {
		return nil, fmt.Errorf("data file: %w", err)
	}
	if sum.Sum32() != gh.DataCRC {
		return nil, fmt.Errorf("%w: data checksum %08x, graph expects %08x", ErrSnapshotMismatch, sum.Sum32(), gh.DataCRC)
	}

	graph, err := Codec(gh.Codec).decompressor(gr)
	if err != nil {
		return nil, err
	}
	defer graph.Close()
	switch gh.Kind {
	case kindFlat:
		opts.Type = IndexTypeFlat
		return restoreFlat(opts, ids, vectors)
	case kindHNSW:
		opts.Type = IndexTypeHNSW
		return restoreHNSW(graph, opts, ids, vectors)
	default:
		return nil, fmt.Errorf("unknown engine kind %d", gh.Kind)
	}
}

// CheckPair reports whether the files at dataPath and graphPath were written by the same
// save. The files may carry different snapshot names; the whole data file is read to
// compare its checksum with the one recorded in the graph header.
func CheckPair(dataPath, graphPath string) error {
	gf, err := os.Open(graphPath)
	if err != nil {
		return fmt.Errorf("open graph file: %w", err)
	}
	defer gf.Close()
	gh, err := readHeader(bufio.NewReader(gf), graphMagic)
	if err != nil {
		return fmt.Errorf("%w: graph file: %w", ErrSnapshotMismatch, err)
	}

	df, err := os.Open(dataPath)
	if err != nil {
		return fmt.Errorf("open data file: %w", err)
	}
	defer df.Close()
	sum := crc32.NewIEEE()
	dr := bufio.NewReader(io.TeeReader(df, sum))
	dh, err := readHeader(dr, dataMagic)
	if err != nil {
		return fmt.Errorf("%w: data file: %w", ErrSnapshotMismatch, err)
	}
	if err := matchHeaders(dh, gh); err != nil {
		return err
	}
	if _, err := io.Copy(io.Discard, dr); err != nil {
		return fmt.Errorf("read data file: %w", err)
	}
	if sum.Sum32() != gh.DataCRC {
		return fmt.Errorf("%w: data checksum %08x, graph expects %08x", ErrSnapshotMismatch, sum.Sum32(), gh.DataCRC)
	}
	return nil
}

func matchHeaders(dh, gh header) error {
	if dh.SnapshotID != gh.SnapshotID || dh.Count != gh.Count || dh.Dimension != gh.Dimension || dh.Kind != gh.Kind {
		return fmt.Errorf("%w: data %s/%d, graph %s/%d", ErrSnapshotMismatch, dh.SnapshotID, dh.Count, gh.SnapshotID, gh.Count)
	}
	return nil
}

func readHeader(r io.Reader, magic [4]byte) (header, error) {
	var h header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if h.Magic != magic {
		return h, fmt.Errorf("bad magic %q", h.Magic[:])
	}
	if h.Version != snapshotVersion {
		return h, fmt.Errorf("unsupported snapshot version %d", h.Version)
	}
	return h, nil
}

func readNodes(r io.Reader, count, dimension int) ([]int64, [][]float32, error) {
	ids := make([]int64, count)
	vectors := make([][]float32, count)
	buf := make([]byte, dimension*4)
	for i := 0; i < count; i++ {
		if err := binary.Read(r, binary.LittleEndian, &ids[i]); err != nil {
			return nil, nil, fmt.Errorf("read id %d: %w", i, err)
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, nil, fmt.Errorf("read vector %d: %w", i, err)
		}
		vectors[i] = bytesToFloat32Slice(buf)
	}
	return ids, vectors, nil
}

func kindOf(t IndexType) (uint8, error) {
	switch t {
	case IndexTypeFlat:
		return kindFlat, nil
	case IndexTypeHNSW:
		return kindHNSW, nil
	default:
		return 0, fmt.Errorf("unknown index type: %s", t)
	}
}

func restoreFlat(opts Options, ids []int64, vectors [][]float32) (*FlatIndex, error) {
	f, err := NewFlatIndex(opts)
	if err != nil {
		return nil, err
	}
	f.ids = ids
	f.vectors = vectors
	f.norms = make([]float64, len(vectors))
	for i, v := range vectors {
		f.norms[i] = L2Norm(v)
	}
	return f, nil
}

// graphParams precede the per-node adjacency lists in the graph payload.
type graphParams struct {
	MaxConnections uint32
	EfConstruction uint32
	MaxLayers      uint32
	MaxLevel       int32
	Entry          uint32
}

// writeGraph is a no-op: a flat engine has no edges.
func (f *FlatIndex) writeGraph(w io.Writer) error {
	return nil
}

func (h *HNSWIndex) writeGraph(w io.Writer) error {
	p := graphParams{
		MaxConnections: uint32(h.m),
		EfConstruction: uint32(h.efConstruction),
		MaxLayers:      uint32(h.maxLayers),
		MaxLevel:       int32(h.maxLevel),
		Entry:          h.entry,
	}
	if err := binary.Write(w, binary.LittleEndian, p); err != nil {
		return fmt.Errorf("write graph params: %w", err)
	}
	for _, n := range h.nodes {
		if err := binary.Write(w, binary.LittleEndian, uint8(n.level())); err != nil {
			return fmt.Errorf("write level: %w", err)
		}
		for _, friends := range n.friends {
			if err := binary.Write(w, binary.LittleEndian, uint16(len(friends))); err != nil {
				return fmt.Errorf("write edge count: %w", err)
			}
			if err := binary.Write(w, binary.LittleEndian, friends); err != nil {
				return fmt.Errorf("write edges: %w", err)
			}
		}
	}
	return nil
}

func restoreHNSW(r io.Reader, opts Options, ids []int64, vectors [][]float32) (*HNSWIndex, error) {
	var p graphParams
	if err := binary.Read(r, binary.LittleEndian, &p); err != nil {
		return nil, fmt.Errorf("read graph params: %w", err)
	}
	opts.MaxConnections = int(p.MaxConnections)
	opts.EfConstruction = int(p.EfConstruction)
	opts.MaxLayers = int(p.MaxLayers)
	h, err := NewHNSWIndex(opts)
	if err != nil {
		return nil, err
	}
	count := uint32(len(ids))
	h.nodes = make([]*hnswNode, count)
	for i := range h.nodes {
		var level uint8
		if err := binary.Read(r, binary.LittleEndian, &level); err != nil {
			return nil, fmt.Errorf("read level %d: %w", i, err)
		}
		if int(level) >= h.maxLayers {
			return nil, fmt.Errorf("node %d level %d exceeds %d layers", i, level, h.maxLayers)
		}
		friends := make([][]uint32, int(level)+1)
		for l := range friends {
			var n uint16
			if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
				return nil, fmt.Errorf("read edge count: %w", err)
			}
			if int(n) > h.maxFriends(l) {
				return nil, fmt.Errorf("node %d has %d links on layer %d", i, n, l)
			}
			edges := make([]uint32, n)
			if err := binary.Read(r, binary.LittleEndian, edges); err != nil {
				return nil, fmt.Errorf("read edges: %w", err)
			}
			for _, e := range edges {
				if e >= count {
					return nil, fmt.Errorf("node %d links to missing node %d", i, e)
				}
			}
			friends[l] = edges
		}
		h.nodes[i] = &hnswNode{id: ids[i], vector: vectors[i], norm: L2Norm(vectors[i]), friends: friends}
	}
	h.maxLevel = int(p.MaxLevel)
	h.entry = p.Entry
	if count == 0 {
		h.maxLevel = -1
		return h, nil
	}
	if p.Entry >= count || h.nodes[p.Entry].level() != h.maxLevel {
		return nil, fmt.Errorf("invalid entry point %d at level %d", p.Entry, p.MaxLevel)
	}
	return h, nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
