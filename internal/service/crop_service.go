// Package service provides business logic for the grid-crop server.
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
	"github.com/gridcrop/server/internal/engine/crop"
	"github.com/gridcrop/server/internal/jobstore"
)

// CropJobParams are the submitted parameters of one crop job. Empty LatVar
// and LonVar are inferred from the catalog by name.
type CropJobParams struct {
	FileID   int64    `json:"file_id"`
	LatMin   float64  `json:"lat_min"`
	LatMax   float64  `json:"lat_max"`
	LonMin   float64  `json:"lon_min"`
	LonMax   float64  `json:"lon_max"`
	LatVar   string   `json:"lat_var,omitempty"`
	LonVar   string   `json:"lon_var,omitempty"`
	DataVars []string `json:"data_vars,omitempty"`
}

// CropJobResult is stored as the job's result document.
type CropJobResult struct {
	OutputName string `json:"output_name"`
	OutputPath string `json:"output_path"`
	OutputID   int64  `json:"output_id"`
	Processed  int    `json:"processed"`
	Skipped    int    `json:"skipped"`
}

// CropService executes crop jobs against registered containers.
type CropService struct {
	catalog   *catalog.Catalog
	outputDir string
}

// NewCropService creates a new crop service writing outputs under outputDir.
func NewCropService(cat *catalog.Catalog, outputDir string) *CropService {
	return &CropService{catalog: cat, outputDir: outputDir}
}

// ExecuteCropJob runs one crop job (called by the JobManager worker).
func (s *CropService) ExecuteCropJob(ctx context.Context, store *jobstore.Store, jobID string) error {
	job, err := store.GetJob(jobID)
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}
	if job == nil {
		return fmt.Errorf("job not found: %s", jobID)
	}

	var params CropJobParams
	if err := json.Unmarshal(job.Params, &params); err != nil {
		return fmt.Errorf("failed to unmarshal params: %w", err)
	}

	file, err := s.catalog.FileByID(params.FileID)
	if err != nil {
		return fmt.Errorf("file %d not registered: %w", params.FileID, err)
	}

	store.UpdateJobProgress(jobID, "resolving", 0, 2)
	latVar, lonVar, group := params.LatVar, params.LonVar, ""
	if latVar == "" || lonVar == "" {
		latPath, lonPath, grp, err := s.catalog.Coordinates(params.FileID)
		if err != nil {
			return fmt.Errorf("could not infer coordinate datasets: %w", err)
		}
		latVar, lonVar, group = path.Base(latPath), path.Base(lonPath), grp
	}

	if err := os.MkdirAll(s.outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	outputName := fmt.Sprintf("%s_cropped_%s", strings.TrimSuffix(file.Name, filepath.Ext(file.Name)),
		time.Now().Format("20060102150405"))
	outputPath := filepath.Join(s.outputDir, outputName)

	store.UpdateJobProgress(jobID, "cropping", 1, 2)
	cropper := &crop.Cropper{Verbose: true}
	res, err := cropper.Crop(ctx, crop.Request{
		Source:      file.Path,
		Destination: outputPath,
		Box: crop.BoundingBox{
			LatMin: params.LatMin, LatMax: params.LatMax,
			LonMin: params.LonMin, LonMax: params.LonMax,
		},
		LatVar:      latVar,
		LonVar:      lonVar,
		DataVars:    params.DataVars,
		DataGroup:   group,
		LatLonGroup: group,
	})
	if err != nil {
		return err
	}

	outputID, err := s.catalog.Register(outputName, outputPath)
	if err != nil {
		log.Printf("[Crop] output written but not registered: %v", err)
	}

	store.UpdateJobProgress(jobID, "done", 2, 2)
	return store.SetJobResult(jobID, CropJobResult{
		OutputName: outputName,
		OutputPath: res.Destination,
		OutputID:   outputID,
		Processed:  res.Processed,
		Skipped:    res.Skipped,
	})
}
