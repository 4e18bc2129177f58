package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/cyclopcam/labelkit/pkg/geom"
	"github.com/cyclopcam/labelkit/pkg/labelerr"
	"github.com/cyclopcam/labelkit/pkg/mask"
	"github.com/cyclopcam/labelkit/pkg/metrics"
	"github.com/cyclopcam/logs"
)

type Config struct {
	IoUThreshold      float64 `json:"iouThreshold"`      // Objects match when their IoU exceeds this
	BufferRadius      float64 `json:"bufferRadius"`      // Radius, in pixels, that points and lines are grown by before measuring IoU
	IncludeSubclasses bool    `json:"includeSubclasses"` // Compare nested classifications when measuring objects
	MaskDir           string  `json:"maskDir"`           // Relative mask URIs are resolved against this directory
	UseGCS            bool    `json:"useGCS"`            // Fetch gs:// mask URIs with the default Google Cloud credentials
	AssignUUIDs       bool    `json:"assignUUIDs"`       // Give annotations without a uuid a deterministic one before converting
}

func Default() *Config {
	return &Config{
		IoUThreshold: metrics.DefaultIoUThreshold,
		BufferRadius: geom.DefaultBufferRadius,
		MaskDir:      ".",
		AssignUUIDs:  true,
	}
}

// LoadConfig reads a JSON config file. Fields missing from the file keep
// their defaults. An empty filename returns the defaults.
func LoadConfig(filename string) (*Config, error) {
	cfg := Default()
	if filename == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("Error loading %v: %w", filename, err)
	}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("Error loading as JSON %v: %w", filename, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("Invalid config %v: %w", filename, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.IoUThreshold < 0 || c.IoUThreshold > 1 {
		return labelerr.InvalidInput("iouThreshold", "%v is outside [0,1]", c.IoUThreshold)
	}
	if c.BufferRadius <= 0 {
		return labelerr.InvalidInput("bufferRadius", "%v must be positive", c.BufferRadius)
	}
	return nil
}

// Fetcher builds the mask fetcher described by the config.
// The returned close function must be called when the fetcher is no longer needed.
func (c *Config) Fetcher(ctx context.Context, log logs.Log) (mask.Fetcher, func(), error) {
	var gcsFetcher *mask.GCSFetcher
	closer := func() {}
	if c.UseGCS {
		var err error
		gcsFetcher, err = mask.NewGCSFetcher(ctx, log)
		if err != nil {
			return nil, nil, fmt.Errorf("Failed to create Google Cloud Storage client: %w", err)
		}
		closer = func() {
			if err := gcsFetcher.Close(); err != nil && log != nil {
				log.Warnf("Failed to close Google Cloud Storage client: %v", err)
			}
		}
	}
	f, err := mask.DefaultFetcher(log, c.MaskDir, gcsFetcher)
	if err != nil {
		closer()
		return nil, nil, err
	}
	return f, closer, nil
}

// MetricsOptions converts the config into options for the metrics package
func (c *Config) MetricsOptions(fetcher mask.Fetcher, log logs.Log) metrics.Options {
	return metrics.Options{
		IoUThreshold:      c.IoUThreshold,
		BufferRadius:      c.BufferRadius,
		IncludeSubclasses: c.IncludeSubclasses,
		Fetcher:           fetcher,
		Log:               log,
	}
}
