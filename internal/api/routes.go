// Package api provides HTTP handlers for the grid-crop server.
package api

import (
	"archive/zip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gridcrop/server/internal/cache"
	"github.com/gridcrop/server/internal/catalog"
	"github.com/gridcrop/server/internal/container"
	"github.com/gridcrop/server/internal/engine/regrid"
	"github.com/gridcrop/server/internal/jobstore"
	"github.com/gridcrop/server/internal/render"
	"github.com/gridcrop/server/internal/service"
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	Catalog     *catalog.Catalog
	JobManager  *JobManager
	Cache       *cache.Manager
	Renderer    *render.PreviewRenderer
	CORSOrigins []string
	DataDir     string
	OutputDir   string
	MaxUploadMB int
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Route("/api/files", func(r chi.Router) {
		r.Get("/", filesListHandler(cfg.Catalog))
		r.Post("/", fileUploadHandler(cfg))
		r.Get("/{file_id}", fileInfoHandler(cfg.Catalog))
		r.Get("/{file_id}/structure", fileStructureHandler(cfg.Catalog, cfg.Cache))
		r.Get("/{file_id}/preview", filePreviewHandler(cfg.Catalog, cfg.Cache, cfg.Renderer))
		r.Get("/{file_id}/download", fileDownloadHandler(cfg.Catalog))
		r.Delete("/{file_id}", fileDeleteHandler(cfg))
	})

	r.Route("/api/jobs", func(r chi.Router) {
		r.Get("/", jobsListHandler(cfg.JobManager))
		r.Post("/crop", cropSubmitHandler(cfg.Catalog, cfg.JobManager))
		r.Post("/interpolate", interpSubmitHandler(cfg.Catalog, cfg.JobManager))
		r.Get("/{job_id}", jobStatusHandler(cfg.JobManager))
		r.Get("/{job_id}/result", jobResultHandler(cfg.JobManager))
		r.Delete("/{job_id}", jobDeleteHandler(cfg.JobManager))
	})

	r.Get("/api/cache/stats", cacheStatsHandler(cfg.Cache))

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func parseFileID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "file_id"), 10, 64)
}

// File handlers

func filesListHandler(cat *catalog.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		files, err := cat.Files()
		if err != nil {
			http.Error(w, "failed to list files: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"files": files,
			"total": len(files),
		})
	}
}

func fileInfoHandler(cat *catalog.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseFileID(r)
		if err != nil {
			http.Error(w, "invalid file id", http.StatusBadRequest)
			return
		}
		file, err := cat.FileByID(id)
		if err != nil {
			http.Error(w, "file not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, file)
	}
}

// fileUploadHandler accepts a zip archive of a container directory, unpacks
// it under the data directory and registers it in the catalog. The container
// root may be the archive root itself or a single top-level directory.
func fileUploadHandler(cfg RouterConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		maxBytes := int64(cfg.MaxUploadMB) << 20
		if maxBytes <= 0 {
			maxBytes = 512 << 20
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

		if err := r.ParseMultipartForm(32 << 20); err != nil {
			http.Error(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
			return
		}
		src, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "missing form file: file", http.StatusBadRequest)
			return
		}
		defer src.Close()

		name := strings.TrimSpace(r.FormValue("name"))
		if name == "" {
			name = strings.TrimSuffix(filepath.Base(hdr.Filename), ".zip")
		}
		if name == "" || name == "." || strings.ContainsAny(name, `/\`) {
			http.Error(w, "invalid file name", http.StatusBadRequest)
			return
		}

		tmp, err := os.CreateTemp("", "upload-*.zip")
		if err != nil {
			http.Error(w, "failed to stage upload: "+err.Error(), http.StatusInternalServerError)
			return
		}
		defer os.Remove(tmp.Name())
		size, err := io.Copy(tmp, src)
		tmp.Close()
		if err != nil {
			http.Error(w, "failed to stage upload: "+err.Error(), http.StatusBadRequest)
			return
		}

		dest := filepath.Join(cfg.DataDir, name)
		if err := os.RemoveAll(dest); err != nil {
			http.Error(w, "failed to replace existing upload: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if err := extractZip(tmp.Name(), size, dest); err != nil {
			os.RemoveAll(dest)
			http.Error(w, "failed to extract archive: "+err.Error(), http.StatusBadRequest)
			return
		}
		root, err := findContainerRoot(dest)
		if err != nil {
			os.RemoveAll(dest)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		id, err := cfg.Catalog.Register(name, root)
		if err != nil {
			os.RemoveAll(dest)
			http.Error(w, "failed to register file: "+err.Error(), http.StatusBadRequest)
			return
		}
		if cfg.Cache != nil {
			cfg.Cache.InvalidateStructure(cache.StructureKey(id))
		}

		file, err := cfg.Catalog.FileByID(id)
		if err != nil {
			http.Error(w, "failed to load registered file: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusCreated, file)
	}
}

func extractZip(zipPath string, size int64, dest string) error {
	f, err := os.Open(zipPath)
	if err != nil {
		return err
	}
	defer f.Close()

	zr, err := zip.NewReader(f, size)
	if err != nil {
		return err
	}
	for _, zf := range zr.File {
		rel := filepath.Clean(filepath.FromSlash(zf.Name))
		if rel == "." || filepath.IsAbs(rel) || strings.HasPrefix(rel, "..") {
			return fmt.Errorf("unsafe archive entry: %s", zf.Name)
		}
		target := filepath.Join(dest, rel)
		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		rc, err := zf.Open()
		if err != nil {
			return err
		}
		out, err := os.Create(target)
		if err != nil {
			rc.Close()
			return err
		}
		_, err = io.Copy(out, rc)
		rc.Close()
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// findContainerRoot locates the container root marker, either at dir itself
// or inside a single top-level directory of the archive.
func findContainerRoot(dir string) (string, error) {
	if _, err := os.Stat(filepath.Join(dir, ".zgroup")); err == nil {
		return dir, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	if len(entries) == 1 && entries[0].IsDir() {
		sub := filepath.Join(dir, entries[0].Name())
		if _, err := os.Stat(filepath.Join(sub, ".zgroup")); err == nil {
			return sub, nil
		}
	}
	return "", errors.New("archive does not contain a container root")
}

func fileStructureHandler(cat *catalog.Catalog, cm *cache.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseFileID(r)
		if err != nil {
			http.Error(w, "invalid file id", http.StatusBadRequest)
			return
		}

		key := cache.StructureKey(id)
		if cm != nil {
			if data, ok := cm.GetStructure(key); ok {
				w.Header().Set("Content-Type", "application/json")
				w.Write(data)
				return
			}
		}

		file, err := cat.FileByID(id)
		if err != nil {
			http.Error(w, "file not found", http.StatusNotFound)
			return
		}
		groups, err := cat.Groups(id)
		if err != nil {
			http.Error(w, "failed to list groups: "+err.Error(), http.StatusInternalServerError)
			return
		}
		datasets, err := cat.Datasets(id)
		if err != nil {
			http.Error(w, "failed to list datasets: "+err.Error(), http.StatusInternalServerError)
			return
		}

		paths := []string{"/"}
		for _, g := range groups {
			paths = append(paths, g.FullPath)
		}
		for _, d := range datasets {
			paths = append(paths, d.FullPath)
		}
		var attrs []catalog.AttributeRecord
		for _, p := range paths {
			a, err := cat.Attributes(id, p)
			if err != nil {
				http.Error(w, "failed to list attributes: "+err.Error(), http.StatusInternalServerError)
				return
			}
			attrs = append(attrs, a...)
		}

		body, err := json.Marshal(map[string]interface{}{
			"file":       file,
			"groups":     groups,
			"datasets":   datasets,
			"attributes": attrs,
		})
		if err != nil {
			http.Error(w, "failed to encode structure: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if cm != nil {
			cm.SetStructure(key, body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	}
}

// filePreviewHandler renders one layer of a dataset as a PNG. The dataset
// query names the full internal path, e.g. idw_interpolation/precipRate.
func filePreviewHandler(cat *catalog.Catalog, cm *cache.Manager, pr *render.PreviewRenderer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseFileID(r)
		if err != nil {
			http.Error(w, "invalid file id", http.StatusBadRequest)
			return
		}
		dsPath := strings.Trim(strings.TrimSpace(r.URL.Query().Get("dataset")), "/")
		if dsPath == "" {
			http.Error(w, "missing required query param: dataset", http.StatusBadRequest)
			return
		}
		layer := 0
		if s := r.URL.Query().Get("layer"); s != "" {
			layer, err = strconv.Atoi(s)
			if err != nil || layer < 0 {
				http.Error(w, "invalid layer", http.StatusBadRequest)
				return
			}
		}
		cmapName := strings.TrimSpace(r.URL.Query().Get("colormap"))

		key := cache.PreviewKey(id, dsPath, layer, cmapName)
		if cm != nil {
			if data, ok := cm.GetPreview(key); ok {
				writePNG(w, data)
				return
			}
		}

		file, err := cat.FileByID(id)
		if err != nil {
			http.Error(w, "file not found", http.StatusNotFound)
			return
		}
		cont, err := container.OpenDir(file.Path)
		if err != nil {
			http.Error(w, "failed to open container: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if !cont.IsDataset(dsPath) {
			http.Error(w, "dataset not found: "+dsPath, http.StatusNotFound)
			return
		}
		ds, err := cont.ReadDataset(dsPath)
		if err != nil {
			http.Error(w, "failed to read dataset: "+err.Error(), http.StatusInternalServerError)
			return
		}

		shape := ds.Data.Shape()
		var rows, cols int
		var values []float64
		switch len(shape) {
		case 2:
			if layer != 0 {
				http.Error(w, "layer out of range for 2D dataset", http.StatusBadRequest)
				return
			}
			rows, cols = shape[0], shape[1]
			values = ds.Data.Data()
		case 3:
			if layer >= shape[0] {
				http.Error(w, fmt.Sprintf("layer %d out of range (dataset has %d)", layer, shape[0]), http.StatusBadRequest)
				return
			}
			rows, cols = shape[1], shape[2]
			values = ds.Data.Data()[layer*rows*cols : (layer+1)*rows*cols]
		default:
			http.Error(w, fmt.Sprintf("dataset rank %d not previewable", len(shape)), http.StatusBadRequest)
			return
		}

		sentinel := regrid.Sentinel
		if mv, ok := ds.Attrs["missing_value"].(float64); ok {
			sentinel = mv
		}

		data, err := pr.RenderLayer(values, rows, cols, sentinel, cmapName)
		if err != nil {
			http.Error(w, "failed to render preview: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if cm != nil {
			cm.SetPreview(key, data)
		}
		writePNG(w, data)
	}
}

func writePNG(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(data)
}

// fileDownloadHandler streams the container directory as a zip archive.
func fileDownloadHandler(cat *catalog.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseFileID(r)
		if err != nil {
			http.Error(w, "invalid file id", http.StatusBadRequest)
			return
		}
		file, err := cat.FileByID(id)
		if err != nil {
			http.Error(w, "file not found", http.StatusNotFound)
			return
		}
		info, err := os.Stat(file.Path)
		if err != nil || !info.IsDir() {
			http.Error(w, "container directory missing on disk", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Disposition", `attachment; filename="`+file.Name+`.zip"`)

		zw := zip.NewWriter(w)
		defer zw.Close()
		filepath.WalkDir(file.Path, func(p string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			rel, err := filepath.Rel(file.Path, p)
			if err != nil {
				return err
			}
			ze, err := zw.Create(file.Name + "/" + filepath.ToSlash(rel))
			if err != nil {
				return err
			}
			src, err := os.Open(p)
			if err != nil {
				return err
			}
			defer src.Close()
			_, err = io.Copy(ze, src)
			return err
		})
	}
}

func fileDeleteHandler(cfg RouterConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseFileID(r)
		if err != nil {
			http.Error(w, "invalid file id", http.StatusBadRequest)
			return
		}
		file, err := cfg.Catalog.FileByID(id)
		if err != nil {
			http.Error(w, "file not found", http.StatusNotFound)
			return
		}
		if err := cfg.Catalog.Remove(id); err != nil {
			http.Error(w, "failed to remove file: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if cfg.Cache != nil {
			cfg.Cache.InvalidateStructure(cache.StructureKey(id))
		}

		// Only delete managed directories from disk; externally registered
		// paths stay untouched.
		purged := false
		if r.URL.Query().Get("purge") != "" && underDir(file.Path, cfg.DataDir, cfg.OutputDir) {
			if err := os.RemoveAll(file.Path); err == nil {
				purged = true
			}
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"file_id": id,
			"removed": true,
			"purged":  purged,
		})
	}
}

func underDir(p string, dirs ...string) bool {
	abs, err := filepath.Abs(p)
	if err != nil {
		return false
	}
	for _, d := range dirs {
		if d == "" {
			continue
		}
		ad, err := filepath.Abs(d)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(ad, abs)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Job handlers

type cropSubmitRequest struct {
	FileID   int64    `json:"file_id"`
	LatMin   float64  `json:"lat_min"`
	LatMax   float64  `json:"lat_max"`
	LonMin   float64  `json:"lon_min"`
	LonMax   float64  `json:"lon_max"`
	LatVar   string   `json:"lat_var"`
	LonVar   string   `json:"lon_var"`
	DataVars []string `json:"data_vars"`
}

func cropSubmitHandler(cat *catalog.Catalog, jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}
		var req cropSubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if _, err := cat.FileByID(req.FileID); err != nil {
			http.Error(w, "file not found", http.StatusNotFound)
			return
		}
		if req.LatMin > req.LatMax {
			http.Error(w, "lat_min must not exceed lat_max", http.StatusBadRequest)
			return
		}
		if req.LatMin < -90 || req.LatMax > 90 {
			http.Error(w, "latitude bounds must be within [-90, 90]", http.StatusBadRequest)
			return
		}
		// lon_min > lon_max is allowed and selects across the antimeridian.

		job, err := jm.Submit(jobstore.JobKindCrop, req.FileID, service.CropJobParams{
			FileID:   req.FileID,
			LatMin:   req.LatMin,
			LatMax:   req.LatMax,
			LonMin:   req.LonMin,
			LonMax:   req.LonMax,
			LatVar:   req.LatVar,
			LonVar:   req.LonVar,
			DataVars: req.DataVars,
		})
		if err != nil {
			http.Error(w, "failed to submit job: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"job_id": job.ID,
			"status": job.Status,
		})
	}
}

type interpSubmitRequest struct {
	FileID     int64    `json:"file_id"`
	Variable   string   `json:"variable"`
	Resolution float64  `json:"resolution"`
	LonMin     *float64 `json:"lon_min"`
	LonMax     *float64 `json:"lon_max"`
	LatMin     *float64 `json:"lat_min"`
	LatMax     *float64 `json:"lat_max"`
	LayerMin   *int     `json:"layer_min"`
	LayerMax   *int     `json:"layer_max"`
}

func interpSubmitHandler(cat *catalog.Catalog, jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}
		var req interpSubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.Variable) == "" {
			http.Error(w, "variable is required", http.StatusBadRequest)
			return
		}
		if req.Resolution < 0 {
			http.Error(w, "resolution must be positive", http.StatusBadRequest)
			return
		}
		if _, err := cat.FileByID(req.FileID); err != nil {
			http.Error(w, "file not found", http.StatusNotFound)
			return
		}

		job, err := jm.Submit(jobstore.JobKindInterpolate, req.FileID, service.InterpJobParams{
			FileID:     req.FileID,
			Variable:   req.Variable,
			Resolution: req.Resolution,
			LonMin:     req.LonMin,
			LonMax:     req.LonMax,
			LatMin:     req.LatMin,
			LatMax:     req.LatMax,
			LayerMin:   req.LayerMin,
			LayerMax:   req.LayerMax,
		})
		if err != nil {
			http.Error(w, "failed to submit job: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"job_id": job.ID,
			"status": job.Status,
		})
	}
}

func jobsListHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}
		var (
			jobs []*jobstore.Job
			err  error
		)
		if s := r.URL.Query().Get("file_id"); s != "" {
			fileID, perr := strconv.ParseInt(s, 10, 64)
			if perr != nil {
				http.Error(w, "invalid file_id", http.StatusBadRequest)
				return
			}
			jobs, err = jm.Store().ListJobsByFile(fileID)
		} else {
			jobs, err = jm.Store().ListJobs()
		}
		if err != nil {
			http.Error(w, "failed to list jobs: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"jobs":  jobs,
			"total": len(jobs),
		})
	}
}

func jobStatusHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}
		job := jm.Get(chi.URLParam(r, "job_id"))
		if job == nil {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"job_id":      job.ID,
			"kind":        job.Kind,
			"file_id":     job.FileID,
			"status":      job.Status,
			"created_at":  job.CreatedAt,
			"started_at":  job.StartedAt,
			"finished_at": job.FinishedAt,
			"progress":    job.Progress,
			"error":       job.Error,
		})
	}
}

func jobResultHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}
		job := jm.Get(chi.URLParam(r, "job_id"))
		if job == nil {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		if job.Status != jobstore.JobStatusCompleted {
			http.Error(w, "job not completed (status: "+string(job.Status)+")", http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"job_id": job.ID,
			"kind":   job.Kind,
			"params": job.Params,
			"result": job.Result,
		})
	}
}

// jobDeleteHandler cancels an active job; a finished job is deleted instead.
func jobDeleteHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}
		jobID := chi.URLParam(r, "job_id")
		job := jm.Get(jobID)
		if job == nil {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		switch job.Status {
		case jobstore.JobStatusQueued, jobstore.JobStatusRunning:
			jm.Cancel(jobID)
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"job_id":    jobID,
				"cancelled": true,
			})
		default:
			if err := jm.Delete(jobID); err != nil {
				http.Error(w, "failed to delete job: "+err.Error(), http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"job_id":  jobID,
				"deleted": true,
			})
		}
	}
}

func cacheStatsHandler(cm *cache.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cm == nil {
			http.Error(w, "cache not configured", http.StatusNotImplemented)
			return
		}
		writeJSON(w, http.StatusOK, cm.Stats())
	}
}
