package container

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/gridcrop/server/pkg/ndarray"
)

func TestOpenDirMissingPathLeavesNoTrace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nowhere")
	if _, err := OpenDir(path); err == nil {
		t.Fatal("expected error opening a nonexistent path")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("opening a nonexistent path must not create it")
	}

	file := filepath.Join(t.TempDir(), "plain")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenDir(file); err == nil {
		t.Fatal("expected error opening a regular file")
	}
}

func TestOpenRejectsNonContainer(t *testing.T) {
	store := NewMemoryStore()
	if _, err := Open(store); err == nil {
		t.Fatal("expected error opening empty store")
	}

	store.Put(".zgroup", []byte("not json"))
	if _, err := Open(store); err == nil {
		t.Fatal("expected error for malformed root marker")
	}
}

func TestGroupHierarchyAndAttrs(t *testing.T) {
	c, err := Create(NewMemoryStore())
	if err != nil {
		t.Fatal(err)
	}

	if err := c.CreateGroup("A"); err != nil {
		t.Fatal(err)
	}
	if err := c.CreateGroup("A/B"); err != nil {
		t.Fatal(err)
	}
	if err := c.CreateGroup("A"); err == nil {
		t.Fatal("expected error recreating existing group")
	}

	if err := c.SetAttrs("A/B", Attributes{"units": "degrees", "count": 3.0}); err != nil {
		t.Fatal(err)
	}
	attrs, err := c.Attrs("A/B")
	if err != nil {
		t.Fatal(err)
	}
	if attrs["units"] != "degrees" {
		t.Errorf("unexpected units attr: %v", attrs["units"])
	}

	// Absent attrs read as empty, not as an error.
	empty, err := c.Attrs("A")
	if err != nil {
		t.Fatal(err)
	}
	if len(empty) != 0 {
		t.Errorf("expected empty attrs, got %v", empty)
	}
}

func TestDatasetRoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		dtype DType
		comp  *CompressorConfig
	}{
		{"f4_zlib", Float32, &CompressorConfig{ID: "zlib", Level: 4}},
		{"f8_zstd", Float64, &CompressorConfig{ID: "zstd"}},
		{"i4_raw", Int32, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := Create(NewMemoryStore())
			if err != nil {
				t.Fatal(err)
			}
			if err := c.CreateGroup("g"); err != nil {
				t.Fatal(err)
			}

			arr := ndarray.Zeros(5, 7)
			for i := 0; i < 5; i++ {
				for j := 0; j < 7; j++ {
					arr.Set(float64(i*10+j), i, j)
				}
			}
			err = c.WriteDataset("g/v", arr, DatasetOptions{
				DType:      tc.dtype,
				Compressor: tc.comp,
				Attrs:      Attributes{"long_name": "test variable"},
			})
			if err != nil {
				t.Fatal(err)
			}

			ds, err := c.ReadDataset("g/v")
			if err != nil {
				t.Fatal(err)
			}
			shape := ds.Data.Shape()
			if shape[0] != 5 || shape[1] != 7 {
				t.Fatalf("unexpected shape %v", shape)
			}
			for i := 0; i < 5; i++ {
				for j := 0; j < 7; j++ {
					if ds.Data.At(i, j) != float64(i*10+j) {
						t.Fatalf("element (%d,%d): expected %d, got %v", i, j, i*10+j, ds.Data.At(i, j))
					}
				}
			}
			if ds.Attrs["long_name"] != "test variable" {
				t.Errorf("attrs not round-tripped: %v", ds.Attrs)
			}
		})
	}
}

func TestDatasetChunkedReadCrossesBoundaries(t *testing.T) {
	c, _ := Create(NewMemoryStore())

	// Chunk extent 3 on a length-8 axis forces partial edge chunks.
	arr := ndarray.Zeros(8, 8)
	for i := 0; i < 8; i++ {
		for j := 0; j < 8; j++ {
			arr.Set(float64(i*8+j), i, j)
		}
	}
	err := c.WriteDataset("v", arr, DatasetOptions{
		DType:      Float64,
		Chunks:     []int{3, 3},
		Compressor: &CompressorConfig{ID: "zlib", Level: 1},
	})
	if err != nil {
		t.Fatal(err)
	}

	ds, err := c.ReadDataset("v")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 8; i++ {
		for j := 0; j < 8; j++ {
			if ds.Data.At(i, j) != float64(i*8+j) {
				t.Fatalf("element (%d,%d) mismatch: %v", i, j, ds.Data.At(i, j))
			}
		}
	}
}

func TestMissingChunkDecodesAsFill(t *testing.T) {
	c, _ := Create(NewMemoryStore())
	arr := ndarray.Full(1.5, 4)
	if err := c.WriteDataset("v", arr, DatasetOptions{DType: Float64, FillValue: -9999.9}); err != nil {
		t.Fatal(err)
	}
	// Drop the only chunk; the reader must fall back to the fill value.
	if err := c.Store().Delete("v/0"); err != nil {
		t.Fatal(err)
	}
	ds, err := c.ReadDataset("v")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		if ds.Data.At(i) != -9999.9 {
			t.Errorf("expected fill value at %d, got %v", i, ds.Data.At(i))
		}
	}
}

func TestWriteReplacesExistingDataset(t *testing.T) {
	c, _ := Create(NewMemoryStore())
	old := ndarray.Full(1, 10)
	if err := c.WriteDataset("v", old, DatasetOptions{DType: Float64}); err != nil {
		t.Fatal(err)
	}
	repl := ndarray.Full(2, 3)
	if err := c.WriteDataset("v", repl, DatasetOptions{DType: Float64}); err != nil {
		t.Fatal(err)
	}
	ds, err := c.ReadDataset("v")
	if err != nil {
		t.Fatal(err)
	}
	if ds.Data.Len() != 3 {
		t.Fatalf("expected replaced length 3, got %d", ds.Data.Len())
	}
	if ds.Data.At(0) != 2 {
		t.Errorf("expected replaced value 2, got %v", ds.Data.At(0))
	}
}

func TestWalkVisitsTree(t *testing.T) {
	c, _ := Create(NewMemoryStore())
	c.SetAttrs("", Attributes{"title": "root"})
	c.CreateGroup("a")
	c.CreateGroup("a/b")
	c.WriteDataset("a/b/v", ndarray.Zeros(2), DatasetOptions{DType: Float32})

	var paths []string
	err := c.Walk(func(n Node) error {
		paths = append(paths, n.Path)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"/", "/a", "/a/b", "/a/b/v"}
	if len(paths) != len(want) {
		t.Fatalf("expected %v, got %v", want, paths)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("walk order %d: expected %q, got %q", i, want[i], paths[i])
		}
	}
}

func TestDTypeDecodeBigEndian(t *testing.T) {
	// 1.0 as big-endian float32.
	raw := []byte{0x3f, 0x80, 0x00, 0x00}
	vals, err := DType(">f4").Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(vals) != 1 || vals[0] != 1.0 {
		t.Fatalf("expected [1.0], got %v", vals)
	}
}

func TestFloat32EncodePreservesNaN(t *testing.T) {
	raw, err := Float32.Encode([]float64{math.NaN()})
	if err != nil {
		t.Fatal(err)
	}
	vals, err := Float32.Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !math.IsNaN(vals[0]) {
		t.Errorf("expected NaN, got %v", vals[0])
	}
}
