package main

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/facecrop/internal/config"
	"github.com/menta2k/facecrop/pkg/types"
)

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	err := app.Run(append([]string{"facecrop"}, args...))
	return out.String(), err
}

func TestApplyArgs(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, applyArgs(cfg, []string{"in", "out", "facefinder", "16", "9"}))
	assert.Equal(t, "in", cfg.Input)
	assert.Equal(t, "out", cfg.Output)
	assert.Equal(t, "facefinder", cfg.Detector.Model)
	assert.Equal(t, types.AspectRatio{Width: 16, Height: 9}, cfg.Ratio)

	cfg = config.Default()
	require.NoError(t, applyArgs(cfg, []string{"in", "out"}))
	assert.Equal(t, types.AspectRatio{Width: 1, Height: 1}, cfg.Ratio)

	assert.ErrorIs(t, applyArgs(config.Default(), []string{"in"}), types.ErrConfiguration)
	assert.ErrorIs(t, applyArgs(config.Default(), []string{"in", "out", "m", "4"}), types.ErrConfiguration)
	assert.ErrorIs(t, applyArgs(config.Default(), []string{"in", "out", "m", "wide", "9"}), types.ErrConfiguration)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitOK, exitCode(nil))
	assert.Equal(t, exitConfig, exitCode(fmt.Errorf("x: %w", types.ErrConfiguration)))
	assert.Equal(t, exitDetectorInit, exitCode(fmt.Errorf("x: %w", types.ErrDetectorInit)))
	assert.Equal(t, exitFailure, exitCode(errors.New("boom")))
}

func TestCropCommand(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	for _, name := range []string{"a.png", "b.jpg"} {
		require.NoError(t, imaging.Save(imaging.New(40, 20, color.NRGBA{A: 255}), filepath.Join(in, name)))
	}
	require.NoError(t, os.WriteFile(filepath.Join(in, "c.png"), []byte("corrupt"), 0o644))

	stdout, err := runApp(t, "--detector", "none", "--log-level", "error", "--width", "1", "--height", "1", in, out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "processed 3 images: 2 succeeded, 1 failed")

	img, err := imaging.Open(filepath.Join(out, "a.png"))
	require.NoError(t, err)
	assert.Equal(t, 20, img.Bounds().Dx())
	assert.Equal(t, 20, img.Bounds().Dy())
}

func TestCropCommandConfigErrors(t *testing.T) {
	_, err := runApp(t, "--detector", "none", filepath.Join(t.TempDir(), "missing"), t.TempDir())
	assert.Equal(t, exitConfig, exitCode(err))

	_, err = runApp(t, "--detector", "none", "--policy", "sideways", t.TempDir(), t.TempDir())
	assert.Equal(t, exitConfig, exitCode(err))

	_, err = runApp(t, "--no-such-flag")
	assert.Equal(t, exitConfig, exitCode(err))
}

func TestCropCommandEmbeddedModel(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	require.NoError(t, imaging.Save(imaging.New(40, 20, color.NRGBA{A: 255}), filepath.Join(in, "a.png")))

	stdout, err := runApp(t, "--log-level", "error", in, out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "processed 1 images: 1 succeeded")
	assert.FileExists(t, filepath.Join(out, "a.png"))
}

func TestCropCommandDetectorInit(t *testing.T) {
	in := t.TempDir()
	require.NoError(t, imaging.Save(imaging.New(10, 10, color.NRGBA{A: 255}), filepath.Join(in, "a.png")))
	model := filepath.Join(t.TempDir(), "facefinder")
	require.NoError(t, os.WriteFile(model, []byte("junk"), 0o644))

	_, err := runApp(t, "--log-level", "error", in, t.TempDir(), model)
	assert.Equal(t, exitDetectorInit, exitCode(err))
}

func TestConfigFileWithFlagOverride(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	require.NoError(t, imaging.Save(imaging.New(30, 30, color.NRGBA{A: 255}), filepath.Join(in, "sq.png")))

	cfgPath := filepath.Join(t.TempDir(), "facecrop.yaml")
	cfg := config.Default()
	cfg.Input, cfg.Output = in, out
	cfg.Ratio = types.AspectRatio{Width: 3, Height: 1}
	cfg.Detector.Backend = "none"
	cfg.Log.Level = "error"
	require.NoError(t, cfg.SaveToFile(cfgPath))

	_, err := runApp(t, "--config", cfgPath, "--height", "2")
	require.NoError(t, err)

	img, err := imaging.Open(filepath.Join(out, "sq.png"))
	require.NoError(t, err)
	assert.Equal(t, 30, img.Bounds().Dx())
	assert.Equal(t, 20, img.Bounds().Dy())
}
