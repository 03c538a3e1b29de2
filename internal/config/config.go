// Package config handles configuration loading for the grid-crop server.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Data   DataConfig   `yaml:"data"`
	Jobs   JobsConfig   `yaml:"jobs"`
	Interp InterpConfig `yaml:"interp"`
	Cache  CacheConfig  `yaml:"cache"`
	Render RenderConfig `yaml:"render"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	MaxUploadMB int      `yaml:"max_upload_mb"`
}

// DataConfig contains storage locations.
type DataConfig struct {
	DataDir   string `yaml:"data_dir"`   // registered source containers
	OutputDir string `yaml:"output_dir"` // crop/interpolation results
	CatalogDB string `yaml:"catalog_db"`
	JobsDB    string `yaml:"jobs_db"`
}

// JobsConfig contains background job settings.
type JobsConfig struct {
	MaxConcurrent  int `yaml:"max_concurrent"`
	RetentionDays  int `yaml:"retention_days"`
	CleanupMinutes int `yaml:"cleanup_minutes"`
}

// InterpConfig contains interpolation tuning values.
type InterpConfig struct {
	MaxNeighbors      int     `yaml:"max_neighbors"`
	MinNeighbors      int     `yaml:"min_neighbors"`
	Power             float64 `yaml:"power"`
	MaxDistance       float64 `yaml:"max_distance"`
	BlockSize         int     `yaml:"block_size"`
	MaxPointsPerBlock int     `yaml:"max_points_per_block"`
	Workers           int     `yaml:"workers"`
	DefaultResolution float64 `yaml:"default_resolution"`
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	PreviewSizeMB     int `yaml:"preview_size_mb"`
	PreviewTTLMinutes int `yaml:"preview_ttl_minutes"`
	StructureEntries  int `yaml:"structure_entries"`
}

// RenderConfig contains preview rendering settings.
type RenderConfig struct {
	MaxPixels       int    `yaml:"max_pixels"`
	DefaultColormap string `yaml:"default_colormap"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			MaxUploadMB: 2048,
		},
		Data: DataConfig{
			DataDir:   "./data/containers",
			OutputDir: "./data/outputs",
			CatalogDB: "./data/catalog.db",
			JobsDB:    "./data/jobs.db",
		},
		Jobs: JobsConfig{
			MaxConcurrent:  1,
			RetentionDays:  7,
			CleanupMinutes: 60,
		},
		Interp: InterpConfig{
			MaxNeighbors:      10,
			MinNeighbors:      3,
			Power:             2,
			MaxDistance:       0.5,
			BlockSize:         128,
			MaxPointsPerBlock: 50000,
			DefaultResolution: 0.1,
		},
		Cache: CacheConfig{
			PreviewSizeMB:     256,
			PreviewTTLMinutes: 10,
			StructureEntries:  128,
		},
		Render: RenderConfig{
			MaxPixels:       1024,
			DefaultColormap: "viridis",
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = defaults.Server.MaxUploadMB
	}
	if cfg.Data.DataDir == "" {
		cfg.Data.DataDir = defaults.Data.DataDir
	}
	if cfg.Data.OutputDir == "" {
		cfg.Data.OutputDir = defaults.Data.OutputDir
	}
	if cfg.Data.CatalogDB == "" {
		cfg.Data.CatalogDB = defaults.Data.CatalogDB
	}
	if cfg.Data.JobsDB == "" {
		cfg.Data.JobsDB = defaults.Data.JobsDB
	}
	if cfg.Jobs.MaxConcurrent == 0 {
		cfg.Jobs.MaxConcurrent = defaults.Jobs.MaxConcurrent
	}
	if cfg.Jobs.RetentionDays == 0 {
		cfg.Jobs.RetentionDays = defaults.Jobs.RetentionDays
	}
	if cfg.Jobs.CleanupMinutes == 0 {
		cfg.Jobs.CleanupMinutes = defaults.Jobs.CleanupMinutes
	}
	if cfg.Interp.MaxNeighbors == 0 {
		cfg.Interp.MaxNeighbors = defaults.Interp.MaxNeighbors
	}
	if cfg.Interp.MinNeighbors == 0 {
		cfg.Interp.MinNeighbors = defaults.Interp.MinNeighbors
	}
	if cfg.Interp.Power == 0 {
		cfg.Interp.Power = defaults.Interp.Power
	}
	if cfg.Interp.MaxDistance == 0 {
		cfg.Interp.MaxDistance = defaults.Interp.MaxDistance
	}
	if cfg.Interp.BlockSize == 0 {
		cfg.Interp.BlockSize = defaults.Interp.BlockSize
	}
	if cfg.Interp.MaxPointsPerBlock == 0 {
		cfg.Interp.MaxPointsPerBlock = defaults.Interp.MaxPointsPerBlock
	}
	if cfg.Interp.DefaultResolution == 0 {
		cfg.Interp.DefaultResolution = defaults.Interp.DefaultResolution
	}
	if cfg.Cache.PreviewSizeMB == 0 {
		cfg.Cache.PreviewSizeMB = defaults.Cache.PreviewSizeMB
	}
	if cfg.Cache.PreviewTTLMinutes == 0 {
		cfg.Cache.PreviewTTLMinutes = defaults.Cache.PreviewTTLMinutes
	}
	if cfg.Cache.StructureEntries == 0 {
		cfg.Cache.StructureEntries = defaults.Cache.StructureEntries
	}
	if cfg.Render.MaxPixels == 0 {
		cfg.Render.MaxPixels = defaults.Render.MaxPixels
	}
	if cfg.Render.DefaultColormap == "" {
		cfg.Render.DefaultColormap = defaults.Render.DefaultColormap
	}
}
