package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cyclopcam/labelkit/pkg/labelerr"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	name := filepath.Join(t.TempDir(), "labelkit.json")
	require.NoError(t, os.WriteFile(name, []byte(body), 0644))
	return name
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)

	cfg, err = LoadConfig(writeConfig(t, `{"iouThreshold": 0.7, "includeSubclasses": true}`))
	require.NoError(t, err)
	require.Equal(t, 0.7, cfg.IoUThreshold)
	require.True(t, cfg.IncludeSubclasses)
	require.Equal(t, 70.0, cfg.BufferRadius)
	require.True(t, cfg.AssignUUIDs)

	opts := cfg.MetricsOptions(nil, logs.NewTestingLog(t))
	require.Equal(t, 0.7, opts.IoUThreshold)
	require.True(t, opts.IncludeSubclasses)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)

	_, err = LoadConfig(writeConfig(t, `{"iouThreshold": `))
	require.Error(t, err)

	_, err = LoadConfig(writeConfig(t, `{"iouThreshold": 1.5}`))
	require.ErrorIs(t, err, labelerr.ErrInvalidInput)
}

func TestFetcher(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mask.png"), []byte("not really a png"), 0644))
	cfg := Default()
	cfg.MaskDir = dir
	f, closer, err := cfg.Fetcher(context.Background(), logs.NewTestingLog(t))
	require.NoError(t, err)
	defer closer()
	b, err := f.Fetch(context.Background(), "mask.png")
	require.NoError(t, err)
	require.Equal(t, "not really a png", string(b))
}
