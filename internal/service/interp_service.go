package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gridcrop/server/internal/catalog"
	"github.com/gridcrop/server/internal/engine/regrid"
	"github.com/gridcrop/server/internal/jobstore"
)

// InterpJobParams are the submitted parameters of one interpolation job.
type InterpJobParams struct {
	FileID     int64    `json:"file_id"`
	Variable   string   `json:"variable"`
	Resolution float64  `json:"resolution,omitempty"`
	LonMin     *float64 `json:"lon_min,omitempty"`
	LonMax     *float64 `json:"lon_max,omitempty"`
	LatMin     *float64 `json:"lat_min,omitempty"`
	LatMax     *float64 `json:"lat_max,omitempty"`
	LayerMin   *int     `json:"layer_min,omitempty"`
	LayerMax   *int     `json:"layer_max,omitempty"`
}

// InterpJobResult is stored as the job's result document.
type InterpJobResult struct {
	OutputName string         `json:"output_name"`
	OutputPath string         `json:"output_path"`
	OutputID   int64          `json:"output_id"`
	Summary    *regrid.Result `json:"summary"`
}

// InterpService executes interpolation jobs against registered containers.
type InterpService struct {
	catalog   *catalog.Catalog
	outputDir string
	params    regrid.Params
}

// NewInterpService creates a new interpolation service. params carries the
// configured tuning defaults.
func NewInterpService(cat *catalog.Catalog, outputDir string, params regrid.Params) *InterpService {
	return &InterpService{catalog: cat, outputDir: outputDir, params: params}
}

// ExecuteInterpJob runs one interpolation job (called by the JobManager
// worker).
func (s *InterpService) ExecuteInterpJob(ctx context.Context, store *jobstore.Store, jobID string) error {
	job, err := store.GetJob(jobID)
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}
	if job == nil {
		return fmt.Errorf("job not found: %s", jobID)
	}

	var params InterpJobParams
	if err := json.Unmarshal(job.Params, &params); err != nil {
		return fmt.Errorf("failed to unmarshal params: %w", err)
	}
	if params.Variable == "" {
		return fmt.Errorf("variable is required")
	}

	store.UpdateJobProgress(jobID, "resolving", 0, 2)
	binding, err := s.catalog.ResolveVariable(params.FileID, params.Variable)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(s.outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	base := strings.TrimSuffix(filepath.Base(binding.FilePath), filepath.Ext(binding.FilePath))
	outputName := fmt.Sprintf("%s_%s_interpolated_%s", base, path.Base(binding.DataPath),
		time.Now().Format("20060102150405"))
	outputPath := filepath.Join(s.outputDir, outputName)

	req := regrid.Request{
		Source:      binding.FilePath,
		Destination: outputPath,
		Variable:    binding.DataPath,
		LatVar:      binding.LatPath,
		LonVar:      binding.LonPath,
		Resolution:  params.Resolution,
		LayerMin:    params.LayerMin,
		LayerMax:    params.LayerMax,
		Params:      s.params,
	}
	if params.LonMin != nil || params.LonMax != nil || params.LatMin != nil || params.LatMax != nil {
		req.Bounds = &regrid.Bounds{
			LonMin: params.LonMin,
			LonMax: params.LonMax,
			LatMin: params.LatMin,
			LatMax: params.LatMax,
		}
	}

	store.UpdateJobProgress(jobID, "interpolating", 1, 2)
	ip := &regrid.Interpolator{Verbose: true}
	res, err := ip.Run(ctx, req)
	if err != nil {
		return err
	}

	outputID, err := s.catalog.Register(outputName, outputPath)
	if err != nil {
		log.Printf("[Interp] output written but not registered: %v", err)
	}

	store.UpdateJobProgress(jobID, "done", 2, 2)
	return store.SetJobResult(jobID, InterpJobResult{
		OutputName: outputName,
		OutputPath: res.Destination,
		OutputID:   outputID,
		Summary:    res,
	})
}
