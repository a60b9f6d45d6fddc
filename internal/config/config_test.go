package config

import (
	"context"
	"encoding/json"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/menta2k/facecrop/pkg/detection"
	"github.com/menta2k/facecrop/pkg/geometry"
	"github.com/menta2k/facecrop/pkg/llamacpp"
	"github.com/menta2k/facecrop/pkg/types"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, types.AspectRatio{Width: 1, Height: 1}, c.Ratio)
	assert.Equal(t, "pigo", c.Detector.Backend)
	assert.Equal(t, "head", c.Policy)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(c *Config){
		"zero width":      func(c *Config) { c.Ratio.Width = 0 },
		"negative height": func(c *Config) { c.Ratio.Height = -2 },
		"policy":          func(c *Config) { c.Policy = "left" },
		"backend":         func(c *Config) { c.Detector.Backend = "dlib" },
		"tuning":          func(c *Config) { c.Detector.Tuning.ScaleFactor = 0.5 },
		"vision model":    func(c *Config) { c.Detector.Backend = "ollama" },
		"confidence":      func(c *Config) { c.Detector.MinConfidence = 2 },
		"format":          func(c *Config) { c.Encoding.Format = "bmp" },
		"quality":         func(c *Config) { c.Encoding.Quality = 101 },
		"workers":         func(c *Config) { c.Workers = -1 },
	}
	for name, mutate := range cases {
		c := Default()
		mutate(c)
		assert.ErrorIs(t, c.Validate(), types.ErrConfiguration, name)
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	c := Default()
	c.Ratio = types.AspectRatio{Width: 16, Height: 9}
	c.Policy = "center"
	c.Detector.Tuning.ScoreThreshold = 7
	c.Encoding.Format = "webp"

	for _, name := range []string{"config.json", "nested/config.yaml"} {
		path := filepath.Join(dir, name)
		require.NoError(t, c.SaveToFile(path), name)

		loaded, err := LoadFromFile(path)
		require.NoError(t, err, name)
		assert.Equal(t, c, loaded, name)
	}
}

func TestLoadPartialYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facecrop.yml")
	require.NoError(t, os.WriteFile(path, []byte("ratio:\n  width: 4\n  height: 5\nworkers: 2\n"), 0o644))

	c, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, types.AspectRatio{Width: 4, Height: 5}, c.Ratio)
	assert.Equal(t, 2, c.Workers)
	assert.Equal(t, detection.DefaultTuning(), c.Detector.Tuning, "unset sections keep defaults")
}

func TestLoadErrors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	_, err = LoadFromFile(path)
	assert.Error(t, err)
}

func fixture(t *testing.T) (in, out string) {
	t.Helper()
	in = t.TempDir()
	out = t.TempDir()
	for _, name := range []string{"a.png", "b.jpg", "skip.txt"} {
		img := imaging.New(8, 8, color.NRGBA{A: 255})
		if filepath.Ext(name) == ".txt" {
			require.NoError(t, os.WriteFile(filepath.Join(in, name), []byte("x"), 0o644))
			continue
		}
		require.NoError(t, imaging.Save(img, filepath.Join(in, name)))
	}
	return in, out
}

func TestResolveDirectory(t *testing.T) {
	in, out := fixture(t)
	c := Default()
	c.Input, c.Output = in, out
	c.Detector.Backend = "none"
	c.Policy = "center"

	job, err := Resolve(context.Background(), c, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(in, "a.png"), filepath.Join(in, "b.jpg")}, job.Sources)
	assert.Equal(t, out, job.OutputDir)
	assert.Empty(t, job.OutputFile)
	assert.Equal(t, geometry.PolicyCenter, job.Policy)
	assert.NotNil(t, job.Detector)
}

func TestResolveSingleFile(t *testing.T) {
	in, out := fixture(t)
	c := Default()
	c.Detector.Backend = "none"
	c.Input = filepath.Join(in, "a.png")

	c.Output = out
	job, err := Resolve(context.Background(), c, nil)
	require.NoError(t, err)
	assert.Equal(t, out, job.OutputDir)

	c.Output = filepath.Join(out, "result.jpg")
	job, err = Resolve(context.Background(), c, nil)
	require.NoError(t, err)
	assert.Equal(t, c.Output, job.OutputFile)

	c.Output = filepath.Join(out, "missing", "result.jpg")
	_, err = Resolve(context.Background(), c, nil)
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestResolvePathErrors(t *testing.T) {
	in, out := fixture(t)

	c := Default()
	c.Detector.Backend = "none"
	c.Input = filepath.Join(in, "nope")
	c.Output = out
	_, err := Resolve(context.Background(), c, nil)
	assert.ErrorIs(t, err, types.ErrConfiguration)

	c.Input = in
	c.Output = filepath.Join(out, "file.png")
	_, err = Resolve(context.Background(), c, nil)
	assert.ErrorIs(t, err, types.ErrConfiguration, "batch mode needs an output directory")

	c.Input = t.TempDir()
	c.Output = out
	_, err = Resolve(context.Background(), c, nil)
	assert.ErrorIs(t, err, types.ErrConfiguration, "empty directory")
}

func TestResolveModel(t *testing.T) {
	in, out := fixture(t)
	c := Default()
	c.Input, c.Output = in, out

	c.Detector.Model = filepath.Join(in, "missing-facefinder")
	_, err := Resolve(context.Background(), c, nil)
	assert.ErrorIs(t, err, types.ErrConfiguration)

	c.Detector.Model = in
	_, err = Resolve(context.Background(), c, nil)
	assert.ErrorIs(t, err, types.ErrConfiguration, "a directory is not a model file")

	bogus := filepath.Join(t.TempDir(), "facefinder")
	require.NoError(t, os.WriteFile(bogus, []byte("garbage"), 0o644))
	c.Detector.Model = bogus
	_, err = Resolve(context.Background(), c, nil)
	assert.ErrorIs(t, err, types.ErrDetectorInit)
}

func TestBuildDetectorBackends(t *testing.T) {
	c := Default()

	c.Detector.Backend = "saliency"
	det, err := BuildDetector(context.Background(), c, nil)
	require.NoError(t, err)
	assert.IsType(t, &detection.SaliencyDetector{}, det)

	c.Detector.Backend = "ollama"
	c.Detector.VisionModel = "minicpm-v"
	det, err = BuildDetector(context.Background(), c, nil)
	require.NoError(t, err)
	assert.IsType(t, &detection.VisionDetector{}, det)

	c.Detector.Backend = "llamacpp"
	c.Detector.VisionURL = "ftp://nowhere"
	_, err = BuildDetector(context.Background(), c, nil)
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestBuildDetectorEmbeddedModel(t *testing.T) {
	det, err := BuildDetector(context.Background(), Default(), zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	require.IsType(t, &detection.PigoDetector{}, det)
	assert.Equal(t, detection.DefaultTuning(), det.(*detection.PigoDetector).Tuning())
}

func TestBuildDetectorCheckVision(t *testing.T) {
	var reply atomic.Value
	reply.Store("a grey square")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(llamacpp.ChatCompletionResponse{
			Choices: []llamacpp.Choice{{Message: llamacpp.Message{Role: "assistant", Content: reply.Load().(string)}}},
		})
	}))
	defer srv.Close()

	c := Default()
	c.Detector.Backend = "llamacpp"
	c.Detector.VisionURL = srv.URL
	c.Detector.VisionModel = "minicpm-v"
	c.Detector.CheckVision = true

	det, err := BuildDetector(context.Background(), c, nil)
	require.NoError(t, err)
	assert.IsType(t, &detection.VisionDetector{}, det)

	reply.Store("")
	_, err = BuildDetector(context.Background(), c, nil)
	assert.ErrorIs(t, err, types.ErrDetectorInit)

	srv.Close()
	_, err = BuildDetector(context.Background(), c, nil)
	assert.ErrorIs(t, err, types.ErrDetectorInit)
}
