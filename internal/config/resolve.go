package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/menta2k/facecrop/internal/asset"
	"github.com/menta2k/facecrop/internal/utils"
	"github.com/menta2k/facecrop/pkg/batch"
	"github.com/menta2k/facecrop/pkg/client"
	"github.com/menta2k/facecrop/pkg/detection"
	"github.com/menta2k/facecrop/pkg/geometry"
	"github.com/menta2k/facecrop/pkg/llamacpp"
	"github.com/menta2k/facecrop/pkg/ollama"
	"github.com/menta2k/facecrop/pkg/types"
)

// Resolve validates c against the filesystem, loads the detector and returns
// the immutable job. Path and argument problems wrap types.ErrConfiguration;
// a model that cannot be loaded wraps types.ErrDetectorInit.
func Resolve(ctx context.Context, c *Config, logger *zap.SugaredLogger) (batch.Job, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if err := c.Validate(); err != nil {
		return batch.Job{}, err
	}

	job := batch.Job{
		Ratio:    c.Ratio,
		Workers:  c.Workers,
		Format:   c.Encoding.Format,
		Quality:  c.Encoding.Quality,
		Lossless: c.Encoding.Lossless,
		Debug:    c.Debug,
	}
	job.Policy, _ = geometry.ParsePolicy(c.Policy)

	if err := resolvePaths(c, &job); err != nil {
		return batch.Job{}, err
	}

	det, err := BuildDetector(ctx, c, logger)
	if err != nil {
		return batch.Job{}, err
	}
	job.Detector = det

	if err := job.Validate(); err != nil {
		return batch.Job{}, err
	}
	return job, nil
}

func resolvePaths(c *Config, job *batch.Job) error {
	if c.Input == "" {
		return fmt.Errorf("%w: no input path given", types.ErrConfiguration)
	}
	if c.Output == "" {
		return fmt.Errorf("%w: no output path given", types.ErrConfiguration)
	}

	info, err := os.Stat(c.Input)
	if err != nil {
		return fmt.Errorf("%w: input %s: %v", types.ErrConfiguration, c.Input, err)
	}

	switch {
	case info.IsDir():
		if !utils.DirExists(c.Output) {
			return fmt.Errorf("%w: output %s must be an existing directory when the input is a directory", types.ErrConfiguration, c.Output)
		}
		files, err := utils.ListImageFiles(c.Input)
		if err != nil {
			return fmt.Errorf("%w: %v", types.ErrConfiguration, err)
		}
		if len(files) == 0 {
			return fmt.Errorf("%w: no jpg, jpeg or png files in %s", types.ErrConfiguration, c.Input)
		}
		job.Sources = files
		job.OutputDir = c.Output

	case info.Mode().IsRegular():
		job.Sources = []string{c.Input}
		switch {
		case utils.DirExists(c.Output):
			job.OutputDir = c.Output
		case utils.DirExists(filepath.Dir(c.Output)):
			job.OutputFile = c.Output
		default:
			return fmt.Errorf("%w: output %s is neither a directory nor a file in an existing directory", types.ErrConfiguration, c.Output)
		}

	default:
		return fmt.Errorf("%w: input %s is not a file or directory", types.ErrConfiguration, c.Input)
	}
	return nil
}

// BuildDetector constructs the configured detector. It is also used by the
// server, which has no input or output paths. With CheckVision set, a vision
// backend must answer one query before it is accepted.
func BuildDetector(ctx context.Context, c *Config, logger *zap.SugaredLogger) (detection.Detector, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	backend, err := detection.ParseBackend(c.Detector.Backend)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrConfiguration, err)
	}
	log := logger.With("detector", string(backend))

	switch backend {
	case detection.BackendPigo:
		model, err := loadModel(c.Detector.Model)
		if err != nil {
			return nil, err
		}
		det, err := detection.NewPigoDetector(model, c.Detector.Tuning, log)
		if err != nil {
			return nil, err
		}
		log.Infow("loaded face model",
			"model", modelName(c.Detector.Model),
			"size", utils.FormatFileSize(int64(len(model))),
			"tuning", det.Tuning(),
		)
		return det, nil

	case detection.BackendOllama, detection.BackendLlamaCpp:
		var vc client.VisionClient
		if backend == detection.BackendOllama {
			vc, err = ollama.NewClient(c.Detector.VisionURL)
		} else {
			vc, err = llamacpp.NewClient(c.Detector.VisionURL)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrConfiguration, err)
		}
		det, err := detection.NewVisionDetector(vc, c.Detector.VisionModel, log,
			detection.WithMaxDim(c.Detector.MaxDim),
			detection.WithMinConfidence(c.Detector.MinConfidence),
		)
		if err != nil {
			return nil, err
		}
		if c.Detector.CheckVision {
			reply, err := det.CheckVision(ctx)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", types.ErrDetectorInit, err)
			}
			log.Debugw("vision model check passed", "reply", reply)
		}
		log.Infow("using vision model", "model", c.Detector.VisionModel, "url", c.Detector.VisionURL)
		return det, nil

	case detection.BackendSaliency:
		det, err := detection.NewSaliencyDetector(c.Ratio, log)
		if err != nil {
			return nil, err
		}
		return det, nil

	default:
		return detection.None, nil
	}
}

// loadModel reads the cascade at path, or the embedded default when path is
// empty.
func loadModel(path string) ([]byte, error) {
	if path == "" {
		return asset.DefaultModel(), nil
	}
	if !utils.FileExists(path) {
		return nil, fmt.Errorf("%w: model %s must be an existing regular file", types.ErrConfiguration, path)
	}
	model, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read model file: %v", types.ErrDetectorInit, err)
	}
	return model, nil
}

func modelName(path string) string {
	if path == "" {
		return "embedded"
	}
	return path
}
