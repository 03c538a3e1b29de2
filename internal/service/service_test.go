package service

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gridcrop/server/internal/catalog"
	"github.com/gridcrop/server/internal/container"
	"github.com/gridcrop/server/internal/engine/regrid"
	"github.com/gridcrop/server/internal/jobstore"
	"github.com/gridcrop/server/pkg/ndarray"
)

func writeSwath(t *testing.T, dir string) {
	t.Helper()
	c, err := container.CreateDir(dir)
	if err != nil {
		t.Fatalf("create container: %v", err)
	}
	if err := c.CreateGroup("S1"); err != nil {
		t.Fatalf("create group: %v", err)
	}

	rows, cols := 10, 12
	lat := make([]float64, rows*cols)
	lon := make([]float64, rows*cols)
	val := make([]float64, rows*cols)
	for r := 0; r < rows; r++ {
		for col := 0; col < cols; col++ {
			i := r*cols + col
			lat[i] = -1 + 0.1*float64(r)
			lon[i] = 100 + 0.1*float64(col)
			val[i] = float64(i)
		}
	}
	val[4*cols+6] = regrid.Sentinel

	write := func(name string, data []float64) {
		arr, err := ndarray.New([]int{rows, cols}, data)
		if err != nil {
			t.Fatalf("build array: %v", err)
		}
		if err := c.WriteDataset("S1/"+name, arr, container.DatasetOptions{DType: container.Float64}); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	write("Latitude", lat)
	write("Longitude", lon)
	write("precipRate", val)
}

func setup(t *testing.T) (*catalog.Catalog, *jobstore.Store, int64, string) {
	t.Helper()
	tmp := t.TempDir()

	contDir := filepath.Join(tmp, "swath")
	writeSwath(t, contDir)

	cat, err := catalog.Open(filepath.Join(tmp, "catalog.db"))
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	t.Cleanup(func() { cat.Close() })
	fileID, err := cat.Register("swath", contDir)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	store, err := jobstore.NewStore(filepath.Join(tmp, "jobs.db"))
	if err != nil {
		t.Fatalf("job store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return cat, store, fileID, filepath.Join(tmp, "out")
}

func createJob(t *testing.T, store *jobstore.Store, kind jobstore.JobKind, fileID int64, params interface{}) string {
	t.Helper()
	encoded, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	job := &jobstore.Job{
		ID:        "job-" + string(kind),
		Kind:      kind,
		FileID:    fileID,
		Status:    jobstore.JobStatusQueued,
		Params:    encoded,
		CreatedAt: time.Now(),
	}
	if err := store.CreateJob(job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	return job.ID
}

func TestExecuteCropJob(t *testing.T) {
	cat, store, fileID, outDir := setup(t)

	jobID := createJob(t, store, jobstore.JobKindCrop, fileID, CropJobParams{
		FileID: fileID,
		LatMin: -0.5, LatMax: -0.1,
		LonMin: 100.2, LonMax: 100.8,
	})

	svc := NewCropService(cat, outDir)
	if err := svc.ExecuteCropJob(context.Background(), store, jobID); err != nil {
		t.Fatalf("execute: %v", err)
	}

	job, err := store.GetJob(jobID)
	if err != nil || job == nil {
		t.Fatalf("get job: %v", err)
	}
	var result CropJobResult
	if err := json.Unmarshal(job.Result, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Processed != 1 {
		t.Fatalf("processed = %d, want 1", result.Processed)
	}
	if _, err := os.Stat(result.OutputPath); err != nil {
		t.Fatalf("output missing: %v", err)
	}
	if result.OutputID == 0 {
		t.Fatal("output not registered in the catalog")
	}

	out, err := container.OpenDir(result.OutputPath)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	ds, err := out.ReadDataset("S1/precipRate")
	if err != nil {
		t.Fatalf("read cropped variable: %v", err)
	}
	shape := ds.Data.Shape()
	if shape[0] >= 10 || shape[1] >= 12 {
		t.Fatalf("crop did not shrink the variable: %v", shape)
	}
}

func TestExecuteInterpJob(t *testing.T) {
	cat, store, fileID, outDir := setup(t)

	res := 0.1
	jobID := createJob(t, store, jobstore.JobKindInterpolate, fileID, InterpJobParams{
		FileID:     fileID,
		Variable:   "precipRate",
		Resolution: res,
	})

	svc := NewInterpService(cat, outDir, regrid.Params{Workers: 1})
	if err := svc.ExecuteInterpJob(context.Background(), store, jobID); err != nil {
		t.Fatalf("execute: %v", err)
	}

	job, err := store.GetJob(jobID)
	if err != nil || job == nil {
		t.Fatalf("get job: %v", err)
	}
	var result InterpJobResult
	if err := json.Unmarshal(job.Result, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Summary == nil || result.Summary.GridRows == 0 || result.Summary.GridCols == 0 {
		t.Fatalf("empty summary: %+v", result.Summary)
	}
	if result.OutputID == 0 {
		t.Fatal("output not registered in the catalog")
	}

	out, err := container.OpenDir(result.OutputPath)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	if !out.IsDataset(regrid.OutputGroup + "/precipRate") {
		t.Fatal("interpolated variable missing from output group")
	}
}

func TestExecuteInterpJobUnknownVariable(t *testing.T) {
	cat, store, fileID, outDir := setup(t)
	jobID := createJob(t, store, jobstore.JobKindInterpolate, fileID, InterpJobParams{
		FileID:   fileID,
		Variable: "doesNotExist",
	})
	svc := NewInterpService(cat, outDir, regrid.Params{})
	if err := svc.ExecuteInterpJob(context.Background(), store, jobID); err == nil {
		t.Fatal("expected an error for an unknown variable")
	}
}
