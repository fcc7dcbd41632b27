package index

import (
	"bufio"
	"cmp"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"slices"

	"github.com/google/uuid"
)

// flatMagic prefixes every persisted vector file.
var flatMagic = [8]byte{'O', 'S', 'D', 'R', 'F', 'L', 'A', 'T'}

// flatVersion is the on-disk format version written by Encode.
const flatVersion uint32 = 1

const (
	// maxFlatDim bounds the vector dimension accepted by DecodeFlat.
	maxFlatDim = 1 << 16
	// maxFlatValues bounds count*dim accepted by DecodeFlat (16 GiB of float32).
	maxFlatValues = 1 << 32
	// decodeChunk is the number of values read before the buffer grows, so a
	// truncated file fails before its declared size is allocated.
	decodeChunk = 1 << 16
)

// Flat is an exact nearest-neighbour index over float32 vectors using squared
// Euclidean distance. Vectors are compared raw; no normalization is applied,
// so vector magnitude takes part in the ranking. With unit-length embeddings
// the ordering equals cosine ordering.
//
// A Flat is immutable once built and safe for concurrent searches.
type Flat struct {
	dim  int
	n    int
	data []float32 // row-major, n*dim
}

// Build copies vectors into a new Flat. All vectors must share one non-zero
// dimension.
func Build(vectors [][]float32) (*Flat, error) {
	if len(vectors) == 0 {
		return nil, ErrEmptyIndex
	}
	dim := len(vectors[0])
	if dim == 0 {
		return nil, fmt.Errorf("index: build: %w: zero-length vector", ErrDimensionMismatch)
	}
	data := make([]float32, 0, len(vectors)*dim)
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("index: build: row %d has %d dims, want %d: %w", i, len(v), dim, ErrDimensionMismatch)
		}
		data = append(data, v...)
	}
	return &Flat{dim: dim, n: len(vectors), data: data}, nil
}

// Len returns the number of indexed vectors.
func (f *Flat) Len() int { return f.n }

// Dim returns the vector dimension.
func (f *Flat) Dim() int { return f.dim }

// Vector returns a copy of row i.
func (f *Flat) Vector(i int) []float32 {
	return slices.Clone(f.data[i*f.dim : (i+1)*f.dim])
}

// Search returns the k nearest rows to query in ascending distance order,
// ties broken by row position. k is clamped to [0, Len()]; asking for more
// neighbours than exist returns every row.
func (f *Flat) Search(query []float32, k int) ([]float32, []int, error) {
	if len(query) != f.dim {
		return nil, nil, fmt.Errorf("index: search: query has %d dims, want %d: %w", len(query), f.dim, ErrDimensionMismatch)
	}
	k = min(max(k, 0), f.n)
	if k == 0 {
		return []float32{}, []int{}, nil
	}

	type hit struct {
		dist float32
		pos  int
	}
	hits := make([]hit, f.n)
	for i := range f.n {
		hits[i] = hit{dist: squaredL2(query, f.data[i*f.dim:(i+1)*f.dim]), pos: i}
	}
	slices.SortFunc(hits, func(a, b hit) int {
		if c := cmp.Compare(a.dist, b.dist); c != 0 {
			return c
		}
		return cmp.Compare(a.pos, b.pos)
	})

	distances := make([]float32, k)
	positions := make([]int, k)
	for i := range k {
		distances[i] = hits[i].dist
		positions[i] = hits[i].pos
	}
	return distances, positions, nil
}

// squaredL2 returns the squared Euclidean distance between equal-length vectors.
func squaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// Encode writes the index in its binary format, tagged with buildID:
// magic, version, build id, dim, count, then count*dim little-endian float32.
func (f *Flat) Encode(w io.Writer, buildID uuid.UUID) error {
	bw := bufio.NewWriter(w)

	header := []any{flatMagic, flatVersion, [16]byte(buildID), uint32(f.dim), uint64(f.n)}
	for _, h := range header {
		if err := binary.Write(bw, binary.LittleEndian, h); err != nil {
			return fmt.Errorf("index: encode header: %w", err)
		}
	}

	buf := make([]byte, 4)
	for _, v := range f.data {
		binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
		if _, err := bw.Write(buf); err != nil {
			return fmt.Errorf("index: encode vectors: %w", err)
		}
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("index: encode flush: %w", err)
	}
	return nil
}

// DecodeFlat reads an index written by Encode and returns it with the build
// id it was tagged with.
func DecodeFlat(r io.Reader) (*Flat, uuid.UUID, error) {
	br := bufio.NewReader(r)

	var (
		magic   [8]byte
		ver     uint32
		buildID [16]byte
		dim     uint32
		count   uint64
	)
	for _, h := range []any{&magic, &ver, &buildID, &dim, &count} {
		if err := binary.Read(br, binary.LittleEndian, h); err != nil {
			return nil, uuid.Nil, fmt.Errorf("index: decode header: %w", err)
		}
	}
	if magic != flatMagic {
		return nil, uuid.Nil, fmt.Errorf("index: decode: not a vector index file")
	}
	if ver != flatVersion {
		return nil, uuid.Nil, fmt.Errorf("index: decode: unsupported version %d", ver)
	}
	if dim == 0 || count == 0 {
		return nil, uuid.Nil, fmt.Errorf("index: decode: %w", ErrEmptyIndex)
	}

	if dim > maxFlatDim {
		return nil, uuid.Nil, fmt.Errorf("index: decode: dimension %d exceeds %d", dim, maxFlatDim)
	}
	if count > maxFlatValues/uint64(dim) {
		return nil, uuid.Nil, fmt.Errorf("index: decode: %d vectors of dimension %d exceed %d values", count, dim, uint64(maxFlatValues))
	}

	total := int(count) * int(dim)
	data := make([]float32, 0, min(total, decodeChunk))
	buf := make([]byte, 4)
	for len(data) < total {
		if _, err := io.ReadFull(br, buf); err != nil {
			return nil, uuid.Nil, fmt.Errorf("index: decode vectors: %d of %d values: %w", len(data), total, err)
		}
		data = append(data, math.Float32frombits(binary.LittleEndian.Uint32(buf)))
	}

	return &Flat{dim: int(dim), n: int(count), data: data}, uuid.UUID(buildID), nil
}
