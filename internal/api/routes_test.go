package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image/png"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gridcrop/server/internal/cache"
	"github.com/gridcrop/server/internal/catalog"
	"github.com/gridcrop/server/internal/container"
	"github.com/gridcrop/server/internal/render"
	"github.com/gridcrop/server/pkg/ndarray"
)

func writeTestContainer(t *testing.T, dir string) {
	t.Helper()
	c, err := container.CreateDir(dir)
	if err != nil {
		t.Fatalf("create container: %v", err)
	}
	if err := c.CreateGroup("S1"); err != nil {
		t.Fatalf("create group: %v", err)
	}

	rows, cols := 4, 5
	lat := make([]float64, rows*cols)
	lon := make([]float64, rows*cols)
	val := make([]float64, rows*cols)
	for r := 0; r < rows; r++ {
		for col := 0; col < cols; col++ {
			i := r*cols + col
			lat[i] = float64(r)
			lon[i] = 100 + float64(col)
			val[i] = float64(i)
		}
	}
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

func newTestRouter(t *testing.T) (http.Handler, int64) {
	t.Helper()
	tmp := t.TempDir()

	contDir := filepath.Join(tmp, "swath")
	writeTestContainer(t, contDir)

	cat, err := catalog.Open(filepath.Join(tmp, "catalog.db"))
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	t.Cleanup(func() { cat.Close() })
	fileID, err := cat.Register("swath", contDir)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	jm, err := NewJobManager(JobManagerConfig{
		SQLitePath: filepath.Join(tmp, "jobs.db"),
	})
	if err != nil {
		t.Fatalf("job manager: %v", err)
	}
	t.Cleanup(jm.Stop)

	cm, err := cache.NewManager(cache.Config{
		PreviewCacheSizeMB: 8,
		PreviewTTL:         time.Minute,
		StructureCacheSize: 16,
	})
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	t.Cleanup(func() { cm.Close() })

	router := NewRouter(RouterConfig{
		Catalog:     cat,
		JobManager:  jm,
		Cache:       cm,
		Renderer:    render.NewPreviewRenderer(render.Config{}),
		CORSOrigins: []string{"*"},
		DataDir:     tmp,
		OutputDir:   filepath.Join(tmp, "out"),
	})
	return router, fileID
}

func doRequest(t *testing.T, h http.Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, target, bytes.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t)
	w := doRequest(t, router, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestFilesList(t *testing.T) {
	router, _ := newTestRouter(t)
	w := doRequest(t, router, http.MethodGet, "/api/files", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp struct {
		Total int                  `json:"total"`
		Files []catalog.FileRecord `json:"files"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 1 || len(resp.Files) != 1 || resp.Files[0].Name != "swath" {
		t.Fatalf("unexpected file list: %+v", resp)
	}
}

func TestFileStructure(t *testing.T) {
	router, fileID := newTestRouter(t)
	target := fmt.Sprintf("/api/files/%d/structure", fileID)

	w := doRequest(t, router, http.MethodGet, target, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("precipRate")) {
		t.Fatalf("structure does not mention the dataset: %s", w.Body.String())
	}

	// Second request is served from the structure cache.
	w2 := doRequest(t, router, http.MethodGet, target, nil)
	if w2.Code != http.StatusOK || !bytes.Equal(w.Body.Bytes(), w2.Body.Bytes()) {
		t.Fatal("cached structure response differs")
	}
}

func TestFileStructureNotFound(t *testing.T) {
	router, _ := newTestRouter(t)
	w := doRequest(t, router, http.MethodGet, "/api/files/9999/structure", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestFilePreview(t *testing.T) {
	router, fileID := newTestRouter(t)
	w := doRequest(t, router, http.MethodGet,
		fmt.Sprintf("/api/files/%d/preview?dataset=S1/precipRate", fileID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("content type = %q, want image/png", ct)
	}
	img, err := png.Decode(bytes.NewReader(w.Body.Bytes()))
	if err != nil {
		t.Fatalf("response is not a png: %v", err)
	}
	if img.Bounds().Dx() != 5 || img.Bounds().Dy() != 4 {
		t.Fatalf("preview size = %v, want 5x4", img.Bounds())
	}
}

func TestFilePreviewMissingDataset(t *testing.T) {
	router, fileID := newTestRouter(t)
	w := doRequest(t, router, http.MethodGet,
		fmt.Sprintf("/api/files/%d/preview?dataset=S1/nope", fileID), nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestCropSubmitAndStatus(t *testing.T) {
	router, fileID := newTestRouter(t)
	body := []byte(fmt.Sprintf(
		`{"file_id":%d,"lat_min":0,"lat_max":2,"lon_min":100,"lon_max":103}`, fileID))
	w := doRequest(t, router, http.MethodPost, "/api/jobs/crop", body)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", w.Code, w.Body.String())
	}
	var resp struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.JobID == "" || resp.Status != "queued" {
		t.Fatalf("unexpected submit response: %+v", resp)
	}

	// The manager is not started, so the job stays queued.
	ws := doRequest(t, router, http.MethodGet, "/api/jobs/"+resp.JobID, nil)
	if ws.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", ws.Code)
	}
	if !bytes.Contains(ws.Body.Bytes(), []byte(`"queued"`)) {
		t.Fatalf("job not queued: %s", ws.Body.String())
	}

	wr := doRequest(t, router, http.MethodGet, "/api/jobs/"+resp.JobID+"/result", nil)
	if wr.Code != http.StatusBadRequest {
		t.Fatalf("result before completion: status = %d, want 400", wr.Code)
	}
}

func TestCropSubmitValidation(t *testing.T) {
	router, fileID := newTestRouter(t)

	w := doRequest(t, router, http.MethodPost, "/api/jobs/crop",
		[]byte(`{"file_id":9999,"lat_min":0,"lat_max":1,"lon_min":0,"lon_max":1}`))
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown file: status = %d, want 404", w.Code)
	}

	w = doRequest(t, router, http.MethodPost, "/api/jobs/crop",
		[]byte(fmt.Sprintf(`{"file_id":%d,"lat_min":5,"lat_max":1,"lon_min":0,"lon_max":1}`, fileID)))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("inverted latitudes: status = %d, want 400", w.Code)
	}
}

func TestInterpSubmitValidation(t *testing.T) {
	router, fileID := newTestRouter(t)
	w := doRequest(t, router, http.MethodPost, "/api/jobs/interpolate",
		[]byte(fmt.Sprintf(`{"file_id":%d}`, fileID)))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing variable: status = %d, want 400", w.Code)
	}
}

func TestJobNotFound(t *testing.T) {
	router, _ := newTestRouter(t)
	w := doRequest(t, router, http.MethodGet, "/api/jobs/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestFileDelete(t *testing.T) {
	router, fileID := newTestRouter(t)
	w := doRequest(t, router, http.MethodDelete, fmt.Sprintf("/api/files/%d", fileID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	w = doRequest(t, router, http.MethodGet, fmt.Sprintf("/api/files/%d", fileID), nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("after delete: status = %d, want 404", w.Code)
	}
}
