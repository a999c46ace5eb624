// Package config handles configuration loading for the SpatialBridge server.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Data       DataConfig       `yaml:"data"`
	Limits     LimitsConfig     `yaml:"limits"`
	Cache      CacheConfig      `yaml:"cache"`
	Plot       PlotConfig       `yaml:"plot"`
	Annotation AnnotationConfig `yaml:"annotation"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// DataConfig contains dataset snapshot settings.
type DataConfig struct {
	// Snapshots are dataset snapshot files loaded at startup.
	Snapshots []string `yaml:"snapshots"`
	// SaveDir is where modified datasets are snapshotted on shutdown.
	SaveDir string `yaml:"save_dir"`
}

// LimitsConfig bounds layer geometry before lossy reductions kick in.
type LimitsConfig struct {
	MaxPoints         int     `yaml:"max_points"`
	MaxShapes         int     `yaml:"max_shapes"`
	SimplifyTolerance float64 `yaml:"simplify_tolerance"`
	MaxCircles        int     `yaml:"max_circles"`
	SubsampleSeed     int64   `yaml:"subsample_seed"`
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	PlotSizeMB     int `yaml:"plot_size_mb"`
	PlotTTLMinutes int `yaml:"plot_ttl_minutes"`
	VectorEntries  int `yaml:"vector_entries"`
}

// PlotConfig contains scatter plot rendering settings.
type PlotConfig struct {
	Width           int     `yaml:"width"`
	Height          int     `yaml:"height"`
	PointRadius     float64 `yaml:"point_radius"`
	DefaultColormap string  `yaml:"default_colormap"`
}

// AnnotationConfig contains annotation store settings.
type AnnotationConfig struct {
	DBPath string `yaml:"db_path"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
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
	applyDefaults(&cfg)
	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Data: DataConfig{
			SaveDir: "./data/snapshots",
		},
		Limits: LimitsConfig{
			MaxPoints:         100000,
			MaxShapes:         100,
			SimplifyTolerance: 2,
			MaxCircles:        10000,
		},
		Cache: CacheConfig{
			PlotSizeMB:     128,
			PlotTTLMinutes: 10,
			VectorEntries:  256,
		},
		Plot: PlotConfig{
			Width:           800,
			Height:          600,
			PointRadius:     2,
			DefaultColormap: "viridis",
		},
		Annotation: AnnotationConfig{
			DBPath: "./data/annotations.db",
		},
		Log: LogConfig{
			Level: "info",
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
	if cfg.Data.SaveDir == "" {
		cfg.Data.SaveDir = defaults.Data.SaveDir
	}
	if cfg.Limits.MaxPoints == 0 {
		cfg.Limits.MaxPoints = defaults.Limits.MaxPoints
	}
	if cfg.Limits.MaxShapes == 0 {
		cfg.Limits.MaxShapes = defaults.Limits.MaxShapes
	}
	if cfg.Limits.SimplifyTolerance == 0 {
		cfg.Limits.SimplifyTolerance = defaults.Limits.SimplifyTolerance
	}
	if cfg.Limits.MaxCircles == 0 {
		cfg.Limits.MaxCircles = defaults.Limits.MaxCircles
	}
	if cfg.Cache.PlotSizeMB == 0 {
		cfg.Cache.PlotSizeMB = defaults.Cache.PlotSizeMB
	}
	if cfg.Cache.PlotTTLMinutes == 0 {
		cfg.Cache.PlotTTLMinutes = defaults.Cache.PlotTTLMinutes
	}
	if cfg.Cache.VectorEntries == 0 {
		cfg.Cache.VectorEntries = defaults.Cache.VectorEntries
	}
	if cfg.Plot.Width == 0 {
		cfg.Plot.Width = defaults.Plot.Width
	}
	if cfg.Plot.Height == 0 {
		cfg.Plot.Height = defaults.Plot.Height
	}
	if cfg.Plot.PointRadius == 0 {
		cfg.Plot.PointRadius = defaults.Plot.PointRadius
	}
	if cfg.Plot.DefaultColormap == "" {
		cfg.Plot.DefaultColormap = defaults.Plot.DefaultColormap
	}
	if cfg.Annotation.DBPath == "" {
		cfg.Annotation.DBPath = defaults.Annotation.DBPath
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
}
