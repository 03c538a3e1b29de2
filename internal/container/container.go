package container

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/gridcrop/server/pkg/ndarray"
)

// ErrInvalidContainer marks a store that is not a well-formed container.
var ErrInvalidContainer = errors.New("invalid container")

// NodeKind distinguishes the two container node variants.
type NodeKind int

const (
	KindGroup NodeKind = iota
	KindDataset
)

// Node is one entry in the container tree: a group or a dataset, with the
// attribute map behavior shared between the two.
type Node struct {
	Path  string
	Kind  NodeKind
	Attrs Attributes
	// Meta is set for datasets only.
	Meta *ArrayMeta
}

// Dataset is a fully materialized array variable.
type Dataset struct {
	Path  string
	Meta  ArrayMeta
	Data  *ndarray.Array
	Attrs Attributes
}

// DatasetOptions controls how WriteDataset encodes a variable.
type DatasetOptions struct {
	DType      DType
	Compressor *CompressorConfig
	Attrs      Attributes
	// Chunks defaults to the shape capped at maxChunkDim per axis.
	Chunks    []int
	FillValue interface{}
}

const maxChunkDim = 256

// Container is a rooted group/dataset tree over a Store.
type Container struct {
	store Store
}

// Create initializes an empty container, writing the root group marker.
func Create(store Store) (*Container, error) {
	c := &Container{store: store}
	if err := c.putJSON(metaKey("", groupMetaKey), GroupMeta{ZarrFormat: zarrFormat}); err != nil {
		return nil, err
	}
	return c, nil
}

// Open validates that the store holds a container (root group marker present
// and parseable) and returns it.
func Open(store Store) (*Container, error) {
	c := &Container{store: store}
	data, err := store.Get(metaKey("", groupMetaKey))
	if err != nil {
		return nil, fmt.Errorf("%w: missing root group marker: %v", ErrInvalidContainer, err)
	}
	var gm GroupMeta
	if err := json.Unmarshal(data, &gm); err != nil {
		return nil, fmt.Errorf("%w: malformed root group marker: %v", ErrInvalidContainer, err)
	}
	return c, nil
}

// OpenDir opens a directory-backed container.
func OpenDir(path string) (*Container, error) {
	store, err := NewLocalStore(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidContainer, err)
	}
	return Open(store)
}

// CreateDir creates a directory-backed container.
func CreateDir(path string) (*Container, error) {
	store, err := CreateLocalStore(path)
	if err != nil {
		return nil, err
	}
	return Create(store)
}

// Store exposes the underlying store.
func (c *Container) Store() Store { return c.store }

// normPath trims slashes so "", "/" and "/a/b/" normalize consistently; the
// empty string is the root.
func normPath(p string) string {
	return strings.Trim(p, "/")
}

func metaKey(path, doc string) string {
	path = normPath(path)
	if path == "" {
		return doc
	}
	return path + "/" + doc
}

func (c *Container) putJSON(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.store.Put(key, data)
}

func (c *Container) getJSON(key string, v interface{}) error {
	data, err := c.store.Get(key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// IsGroup reports whether path names a group.
func (c *Container) IsGroup(path string) bool {
	_, err := c.store.Get(metaKey(path, groupMetaKey))
	return err == nil
}

// IsDataset reports whether path names a dataset.
func (c *Container) IsDataset(path string) bool {
	_, err := c.store.Get(metaKey(path, arrayMetaKey))
	return err == nil
}

// CreateGroup creates a group at path. Ancestors must already exist; creating
// an existing group is an error so callers can distinguish create from reuse.
func (c *Container) CreateGroup(path string) error {
	path = normPath(path)
	if path == "" {
		return fmt.Errorf("root group always exists")
	}
	if c.IsGroup(path) {
		return fmt.Errorf("group %q already exists", path)
	}
	return c.putJSON(metaKey(path, groupMetaKey), GroupMeta{ZarrFormat: zarrFormat})
}

// Attrs reads the attribute map at path; absent attributes yield an empty map.
func (c *Container) Attrs(path string) (Attributes, error) {
	attrs := Attributes{}
	err := c.getJSON(metaKey(path, attrsMetaKey), &attrs)
	if errors.Is(err, ErrNotFound) {
		return Attributes{}, nil
	}
	if err != nil {
		return nil, err
	}
	return attrs, nil
}

// SetAttrs replaces the attribute map at path. An empty map removes the
// attributes document.
func (c *Container) SetAttrs(path string, attrs Attributes) error {
	key := metaKey(path, attrsMetaKey)
	if len(attrs) == 0 {
		return c.store.Delete(key)
	}
	return c.putJSON(key, attrs)
}

// Children lists the immediate child groups and datasets of a group, sorted
// by name.
func (c *Container) Children(path string) (groups, datasets []string, err error) {
	prefix := normPath(path)
	if prefix != "" {
		prefix += "/"
	}
	keys, err := c.store.List(prefix)
	if err != nil {
		return nil, nil, err
	}
	groupSet := map[string]bool{}
	dataSet := map[string]bool{}
	for _, key := range keys {
		rest := strings.TrimPrefix(key, prefix)
		parts := strings.Split(rest, "/")
		if len(parts) != 2 {
			continue
		}
		switch parts[1] {
		case groupMetaKey:
			groupSet[parts[0]] = true
		case arrayMetaKey:
			dataSet[parts[0]] = true
		}
	}
	for name := range groupSet {
		groups = append(groups, name)
	}
	for name := range dataSet {
		datasets = append(datasets, name)
	}
	sort.Strings(groups)
	sort.Strings(datasets)
	return groups, datasets, nil
}

// Walk visits every node depth-first in deterministic (sorted) order, starting
// with the root group.
func (c *Container) Walk(fn func(Node) error) error {
	return c.walk("", fn)
}

func (c *Container) walk(path string, fn func(Node) error) error {
	attrs, err := c.Attrs(path)
	if err != nil {
		return err
	}
	if err := fn(Node{Path: "/" + normPath(path), Kind: KindGroup, Attrs: attrs}); err != nil {
		return err
	}
	groups, datasets, err := c.Children(path)
	if err != nil {
		return err
	}
	join := func(name string) string {
		p := normPath(path)
		if p == "" {
			return name
		}
		return p + "/" + name
	}
	for _, name := range datasets {
		dsPath := join(name)
		meta, err := c.datasetMeta(dsPath)
		if err != nil {
			return err
		}
		dsAttrs, err := c.Attrs(dsPath)
		if err != nil {
			return err
		}
		if err := fn(Node{Path: "/" + dsPath, Kind: KindDataset, Attrs: dsAttrs, Meta: meta}); err != nil {
			return err
		}
	}
	for _, name := range groups {
		if err := c.walk(join(name), fn); err != nil {
			return err
		}
	}
	return nil
}

func (c *Container) datasetMeta(path string) (*ArrayMeta, error) {
	var meta ArrayMeta
	if err := c.getJSON(metaKey(path, arrayMetaKey), &meta); err != nil {
		return nil, fmt.Errorf("reading dataset metadata %q: %w", path, err)
	}
	if len(meta.Shape) != len(meta.Chunks) {
		return nil, fmt.Errorf("dataset %q: shape rank %d != chunk rank %d", path, len(meta.Shape), len(meta.Chunks))
	}
	for d, ch := range meta.Chunks {
		if ch <= 0 {
			return nil, fmt.Errorf("dataset %q: invalid chunk extent %d at axis %d", path, ch, d)
		}
	}
	return &meta, nil
}

// ReadDataset materializes a dataset's values, assembling all chunks. Chunks
// absent from the store decode as the fill value.
func (c *Container) ReadDataset(path string) (*Dataset, error) {
	path = normPath(path)
	meta, err := c.datasetMeta(path)
	if err != nil {
		return nil, err
	}
	attrs, err := c.Attrs(path)
	if err != nil {
		return nil, err
	}

	out := make([]float64, product(meta.Shape))
	fill := fillValueFloat(meta.FillValue)
	if fill != 0 {
		for i := range out {
			out[i] = fill
		}
	}

	strides := make([]int, len(meta.Shape))
	acc := 1
	for d := len(meta.Shape) - 1; d >= 0; d-- {
		strides[d] = acc
		acc *= meta.Shape[d]
	}

	grid := gridShape(meta.Shape, meta.Chunks)
	chunkIdx := make([]int, len(grid))
	for {
		if err := c.readChunkInto(path, meta, chunkIdx, strides, out); err != nil {
			return nil, err
		}
		if len(grid) == 0 || !incIndex(chunkIdx, grid) {
			break
		}
	}

	arr, err := ndarray.New(meta.Shape, out)
	if err != nil {
		return nil, err
	}
	return &Dataset{Path: "/" + path, Meta: *meta, Data: arr, Attrs: attrs}, nil
}

func (c *Container) readChunkInto(path string, meta *ArrayMeta, chunkIdx, strides []int, out []float64) error {
	key := metaKey(path, chunkKey(chunkIdx, meta.separator()))
	raw, err := c.store.Get(key)
	if errors.Is(err, ErrNotFound) {
		// Missing chunk: region already holds the fill value.
		return nil
	}
	if err != nil {
		return err
	}
	raw, err = meta.Compressor.Decompress(raw)
	if err != nil {
		return fmt.Errorf("chunk %s: %w", key, err)
	}
	values, err := meta.DType.Decode(raw)
	if err != nil {
		return fmt.Errorf("chunk %s: %w", key, err)
	}

	start, extent := chunkExtent(meta.Shape, meta.Chunks, chunkIdx)
	want := product(extent)
	// Edge chunks may be stored at full chunk extent with padding.
	fullLen := product(meta.Chunks)
	if len(values) != want && len(values) != fullLen {
		return fmt.Errorf("chunk %s: got %d elements, expected %d", key, len(values), want)
	}
	padded := len(values) == fullLen && want != fullLen

	local := make([]int, len(extent))
	for i := 0; ; i++ {
		src := i
		if padded {
			src = 0
			for d := range local {
				src = src*meta.Chunks[d] + local[d]
			}
		}
		flat := 0
		for d := range local {
			flat += (start[d] + local[d]) * strides[d]
		}
		out[flat] = values[src]
		if len(local) == 0 || !incIndex(local, extent) {
			break
		}
	}
	return nil
}

// WriteDataset stores an array at path, replacing any existing dataset of the
// same name. Ancestor groups must already exist.
func (c *Container) WriteDataset(path string, arr *ndarray.Array, opts DatasetOptions) error {
	path = normPath(path)
	if path == "" {
		return fmt.Errorf("dataset path must not be empty")
	}
	dtype := opts.DType
	if dtype == "" {
		dtype = Float64
	}
	dtype = dtype.Canonical()
	if !dtype.valid() {
		return fmt.Errorf("unsupported dtype %q", string(dtype))
	}

	shape := arr.Shape()
	chunks := opts.Chunks
	if chunks == nil {
		chunks = make([]int, len(shape))
		for d, s := range shape {
			if s > maxChunkDim {
				chunks[d] = maxChunkDim
			} else if s > 0 {
				chunks[d] = s
			} else {
				chunks[d] = 1
			}
		}
	}
	if len(chunks) != len(shape) {
		return fmt.Errorf("chunk rank %d != shape rank %d", len(chunks), len(shape))
	}

	if c.IsDataset(path) {
		if err := c.DeleteDataset(path); err != nil {
			return err
		}
	}

	meta := ArrayMeta{
		ZarrFormat:         zarrFormat,
		Shape:              shape,
		Chunks:             chunks,
		DType:              dtype,
		Compressor:         opts.Compressor,
		FillValue:          opts.FillValue,
		Order:              "C",
		DimensionSeparator: ".",
	}
	if err := c.putJSON(metaKey(path, arrayMetaKey), &meta); err != nil {
		return err
	}
	if len(opts.Attrs) > 0 {
		if err := c.SetAttrs(path, opts.Attrs); err != nil {
			return err
		}
	}

	strides := make([]int, len(shape))
	acc := 1
	for d := len(shape) - 1; d >= 0; d-- {
		strides[d] = acc
		acc *= shape[d]
	}

	data := arr.Data()
	grid := gridShape(shape, chunks)
	chunkIdx := make([]int, len(grid))
	for {
		start, extent := chunkExtent(shape, chunks, chunkIdx)
		values := make([]float64, product(extent))
		local := make([]int, len(extent))
		for i := 0; ; i++ {
			flat := 0
			for d := range local {
				flat += (start[d] + local[d]) * strides[d]
			}
			values[i] = data[flat]
			if len(local) == 0 || !incIndex(local, extent) {
				break
			}
		}
		raw, err := dtype.Encode(values)
		if err != nil {
			return err
		}
		raw, err = meta.Compressor.Compress(raw)
		if err != nil {
			return err
		}
		key := metaKey(path, chunkKey(chunkIdx, meta.separator()))
		if err := c.store.Put(key, raw); err != nil {
			return err
		}
		if len(grid) == 0 || !incIndex(chunkIdx, grid) {
			break
		}
	}
	return nil
}

// DeleteDataset removes a dataset's metadata, attributes and chunks.
func (c *Container) DeleteDataset(path string) error {
	path = normPath(path)
	keys, err := c.store.List(path + "/")
	if err != nil {
		return err
	}
	for _, key := range keys {
		rest := strings.TrimPrefix(key, path+"/")
		if strings.Contains(rest, "/") {
			continue
		}
		if err := c.store.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// DatasetShape reads only the shape of a dataset.
func (c *Container) DatasetShape(path string) ([]int, error) {
	meta, err := c.datasetMeta(normPath(path))
	if err != nil {
		return nil, err
	}
	return meta.Shape, nil
}

// SameFloat reports bitwise equality of two values, treating NaN as equal to
// NaN. Used by idempotence checks.
func SameFloat(a, b float64) bool {
	return math.Float64bits(a) == math.Float64bits(b)
}
