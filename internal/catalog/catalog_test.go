package catalog

import (
	"path/filepath"
	"testing"

	"github.com/gridcrop/server/internal/container"
	"github.com/gridcrop/server/pkg/ndarray"
)

func buildContainer(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "orbit")
	c, err := container.CreateDir(dir)
	if err != nil {
		t.Fatalf("create container: %v", err)
	}
	if err := c.CreateGroup("S1"); err != nil {
		t.Fatalf("create group: %v", err)
	}
	if err := c.SetAttrs("S1", container.Attributes{"instrument": "Ka"}); err != nil {
		t.Fatalf("set attrs: %v", err)
	}
	opts := container.DatasetOptions{DType: container.Float64}
	for _, name := range []string{"S1/Latitude", "S1/Longitude", "S1/precipRate"} {
		if err := c.WriteDataset(name, ndarray.Zeros(4, 5), opts); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func openCatalog(t *testing.T) *Catalog {
	t.Helper()
	cat, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	t.Cleanup(func() { cat.Close() })
	return cat
}

func TestRegisterAndList(t *testing.T) {
	cat := openCatalog(t)
	dir := buildContainer(t)

	fileID, err := cat.Register("orbit.grid", dir)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	files, err := cat.Files()
	if err != nil {
		t.Fatalf("files: %v", err)
	}
	if len(files) != 1 || files[0].Name != "orbit.grid" || files[0].ID != fileID {
		t.Fatalf("files = %+v", files)
	}

	datasets, err := cat.Datasets(fileID)
	if err != nil {
		t.Fatalf("datasets: %v", err)
	}
	if len(datasets) != 3 {
		t.Fatalf("dataset count = %d, want 3", len(datasets))
	}
	if datasets[0].FullPath != "/S1/Latitude" {
		t.Fatalf("first dataset = %q", datasets[0].FullPath)
	}
	if len(datasets[0].Shape) != 2 || datasets[0].Shape[0] != 4 {
		t.Fatalf("shape = %v", datasets[0].Shape)
	}

	groups, err := cat.Groups(fileID)
	if err != nil {
		t.Fatalf("groups: %v", err)
	}
	if len(groups) != 1 || groups[0].FullPath != "/S1" {
		t.Fatalf("groups = %+v", groups)
	}

	attrs, err := cat.Attributes(fileID, "/S1")
	if err != nil {
		t.Fatalf("attributes: %v", err)
	}
	if len(attrs) != 1 || attrs[0].Name != "instrument" || attrs[0].Value != `"Ka"` {
		t.Fatalf("attrs = %+v", attrs)
	}
}

func TestRegisterReplaces(t *testing.T) {
	cat := openCatalog(t)
	dir := buildContainer(t)

	first, err := cat.Register("orbit.grid", dir)
	if err != nil {
		t.Fatalf("first register: %v", err)
	}
	second, err := cat.Register("orbit.grid", dir)
	if err != nil {
		t.Fatalf("second register: %v", err)
	}
	if first == second {
		t.Fatal("replacement must allocate a new file id")
	}
	files, _ := cat.Files()
	if len(files) != 1 {
		t.Fatalf("file count = %d, want 1", len(files))
	}
}

func TestResolveVariable(t *testing.T) {
	cat := openCatalog(t)
	dir := buildContainer(t)
	fileID, err := cat.Register("orbit.grid", dir)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	binding, err := cat.ResolveVariable(fileID, "precipRate")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if binding.DataPath != "/S1/precipRate" {
		t.Fatalf("data path = %q", binding.DataPath)
	}
	if binding.LatPath != "/S1/Latitude" || binding.LonPath != "/S1/Longitude" {
		t.Fatalf("coordinate paths = %q, %q", binding.LatPath, binding.LonPath)
	}
	if binding.Group != "S1" {
		t.Fatalf("group = %q", binding.Group)
	}
	if binding.FilePath != dir {
		t.Fatalf("file path = %q", binding.FilePath)
	}

	if _, err := cat.ResolveVariable(fileID, "nope"); err == nil {
		t.Fatal("unknown variable must fail")
	}
}

func TestRemove(t *testing.T) {
	cat := openCatalog(t)
	dir := buildContainer(t)
	fileID, err := cat.Register("orbit.grid", dir)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := cat.Remove(fileID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	files, _ := cat.Files()
	if len(files) != 0 {
		t.Fatalf("files after remove = %+v", files)
	}
	datasets, _ := cat.Datasets(fileID)
	if len(datasets) != 0 {
		t.Fatalf("datasets after remove = %+v", datasets)
	}
}
